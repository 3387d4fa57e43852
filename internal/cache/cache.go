package cache

import (
	"context"
	"sync"
	"time"

	"optica/backend/internal/domain"
)

const folioConfigKey = "optica:folio:config"

// FolioConfigCache holds the folio configuration between allocations.
// Writers invalidate it after every administrative update.
type FolioConfigCache interface {
	Get(ctx context.Context) (*domain.FolioConfig, bool, error)
	Set(ctx context.Context, value *domain.FolioConfig, ttl time.Duration) error
	Invalidate(ctx context.Context) error
}

type NoopFolioConfigCache struct{}

func (NoopFolioConfigCache) Get(_ context.Context) (*domain.FolioConfig, bool, error) {
	return nil, false, nil
}

func (NoopFolioConfigCache) Set(_ context.Context, _ *domain.FolioConfig, _ time.Duration) error {
	return nil
}

func (NoopFolioConfigCache) Invalidate(_ context.Context) error {
	return nil
}

// LocalFolioConfigCache keeps the entry in process, for single-instance deployments.
type LocalFolioConfigCache struct {
	mu        sync.Mutex
	value     *domain.FolioConfig
	expiresAt time.Time
	now       func() time.Time
}

func NewLocalFolioConfigCache() *LocalFolioConfigCache {
	return &LocalFolioConfigCache{now: time.Now}
}

func (c *LocalFolioConfigCache) Get(_ context.Context) (*domain.FolioConfig, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.value == nil || !c.now().Before(c.expiresAt) {
		return nil, false, nil
	}
	copyCfg := *c.value
	return &copyCfg, true, nil
}

func (c *LocalFolioConfigCache) Set(_ context.Context, value *domain.FolioConfig, ttl time.Duration) error {
	if value == nil || ttl <= 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	copyCfg := *value
	c.value = &copyCfg
	c.expiresAt = c.now().Add(ttl)
	return nil
}

func (c *LocalFolioConfigCache) Invalidate(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.value = nil
	return nil
}
