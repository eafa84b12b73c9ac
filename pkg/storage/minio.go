// Package storage 提供了与对象存储服务（如 MinIO）交互的功能。
package storage

import (
	"context"
	"fmt"
	"strings"

	"codelens-go/internal/config"
	"codelens-go/pkg/log"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// DiffArchive 把提交的原始 diff 归档到对象存储。
type DiffArchive struct {
	client     *minio.Client
	bucketName string
}

// NewDiffArchive 初始化 MinIO 客户端并确保指定的存储桶存在。
func NewDiffArchive(ctx context.Context, cfg config.MinIOConfig) (*DiffArchive, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化 MinIO 客户端失败: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.BucketName)
	if err != nil {
		return nil, fmt.Errorf("检查 MinIO 存储桶失败: %w", err)
	}
	if !exists {
		log.Infof("[DiffArchive] 存储桶 '%s' 不存在，正在创建...", cfg.BucketName)
		if err := client.MakeBucket(ctx, cfg.BucketName, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("创建 MinIO 存储桶失败: %w", err)
		}
	}
	log.Info("[DiffArchive] MinIO 客户端初始化成功")
	return &DiffArchive{client: client, bucketName: cfg.BucketName}, nil
}

// ObjectName 返回提交 diff 的对象路径。
func ObjectName(projectID, commitHash string) string {
	return fmt.Sprintf("diffs/%s/%s.diff", projectID, commitHash)
}

// PutDiff 上传一次提交的 diff，同名对象会被覆盖。
func (a *DiffArchive) PutDiff(ctx context.Context, projectID, commitHash, diff string) error {
	_, err := a.client.PutObject(ctx, a.bucketName, ObjectName(projectID, commitHash),
		strings.NewReader(diff), int64(len(diff)),
		minio.PutObjectOptions{ContentType: "text/x-diff"})
	return err
}
