// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"codelens-go/internal/repository"
	"codelens-go/internal/source"
	"codelens-go/pkg/apperr"
	"codelens-go/pkg/githost"
	"codelens-go/pkg/log"
)

// FileLister 列出仓库中的文件，不读取内容。
type FileLister interface {
	ListFiles(ctx context.Context, repo githost.Repository, token string) (string, []githost.TreeEntry, []source.Skipped, error)
}

// EstimateService 统计一次摄取将要处理的文件数，用于扣费前的预检。
type EstimateService interface {
	CountFiles(ctx context.Context, repoURL, token string) (int, error)
}

type estimateService struct {
	lister FileLister
	cache  repository.CacheRepository
	ttl    time.Duration
}

// NewEstimateService 创建一个新的 EstimateService 实例。cache 可以为 nil。
func NewEstimateService(lister FileLister, cache repository.CacheRepository, ttl time.Duration) EstimateService {
	return &estimateService{lister: lister, cache: cache, ttl: ttl}
}

// CountFiles 返回默认分支目录树中的文件数（不含目录）。结果按仓库和令牌指纹缓存，缓存异常时直接重新计算。
func (s *estimateService) CountFiles(ctx context.Context, repoURL, token string) (int, error) {
	repo, err := githost.ParseRepoURL(repoURL)
	if err != nil {
		return 0, err
	}

	key := estimateKey(repo, token)
	if s.cache != nil {
		n, ok, err := s.cache.GetEstimate(ctx, key)
		if err != nil {
			log.Warnf("[EstimateService] 读取估算缓存失败, repo: %s, error: %v", repo, err)
		} else if ok {
			return n, nil
		}
	}

	_, files, ignored, err := s.lister.ListFiles(ctx, repo, token)
	if err != nil {
		return 0, err
	}
	// 预估按目录树中的全部文件计数，被忽略的锁文件也计算在内
	n := len(files) + len(ignored)

	if s.cache != nil && s.ttl > 0 {
		if err := s.cache.SetEstimate(ctx, key, n, s.ttl); err != nil {
			log.Warnf("[EstimateService] 写入估算缓存失败, repo: %s, error: %v", repo, err)
		}
	}
	log.Infof("[EstimateService] 仓库 %s 共 %d 个待索引文件", repo, n)
	return n, nil
}

// estimateKey 以令牌的 SHA-256 指纹区分可见性不同的调用方，令牌本身不落入缓存。
func estimateKey(repo githost.Repository, token string) string {
	sum := sha256.Sum256([]byte(token))
	return repo.String() + ":" + hex.EncodeToString(sum[:8])
}

// Admit 判断余额是否足以摄取 fileCount 个文件。余额必须严格大于文件数。
func Admit(balance, fileCount int) error {
	if balance <= fileCount {
		return apperr.ErrInsufficientCredits
	}
	return nil
}
