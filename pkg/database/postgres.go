package database

import (
	"fmt"
	"time"

	"codelens-go/internal/model"
	"codelens-go/pkg/log"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

// InitPostgres 初始化 PostgreSQL 数据库连接并执行迁移。
func InitPostgres(dsn string, dimensions int) {
	var err error
	DB, err = gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		log.Fatal("failed to connect database", err)
	}

	// 配置连接池
	sqlDB, err := DB.DB()
	if err != nil {
		log.Fatal("failed to get sql.DB", err)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := Migrate(DB, dimensions); err != nil {
		log.Fatal("failed to migrate database", err)
	}
	log.Info("PostgreSQL database connected successfully")
}

// Migrate 启用 pgvector 扩展、同步表结构，并为摘要向量建立 HNSW 余弦索引。
func Migrate(db *gorm.DB, dimensions int) error {
	if err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
		return fmt.Errorf("enable pgvector: %w", err)
	}
	if err := db.AutoMigrate(
		&model.User{},
		&model.Project{},
		&model.FileKnowledge{},
		&model.CommitRecord{},
		&model.SavedQuestion{},
	); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	// embedding 列不限定维度，索引表达式上固定维度。
	stmt := fmt.Sprintf(
		"CREATE INDEX IF NOT EXISTS idx_file_knowledge_embedding ON file_knowledge USING hnsw ((embedding::vector(%d)) vector_cosine_ops)",
		dimensions,
	)
	if err := db.Exec(stmt).Error; err != nil {
		return fmt.Errorf("create vector index: %w", err)
	}
	return nil
}
