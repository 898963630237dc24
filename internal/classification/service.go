// Package classification tracks which conversations are wholesale sales.
// The search layer asks it which price to show.
package classification

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/retail-agent/backend/internal/catalog"
	"github.com/retail-agent/backend/internal/metrics"
	"github.com/retail-agent/backend/internal/storage/models"
	"github.com/retail-agent/backend/pkg/logger"
	"github.com/retail-agent/backend/pkg/tenant"
)

type Repository interface {
	SetSaleClassification(ctx context.Context, sc *models.SaleClassification) error
	GetSaleClassification(ctx context.Context, customerID, threadID string) (*models.SaleClassification, error)
	DeleteSaleClassification(ctx context.Context, customerID, threadID string) error
}

type Cache interface {
	GetSaleFlag(ctx context.Context, tenantID, threadID string) (isSale, found bool, err error)
	SetSaleFlag(ctx context.Context, tenantID, threadID string, isSale bool, ttl time.Duration) error
	DeleteSaleFlag(ctx context.Context, tenantID, threadID string) error
}

type Service struct {
	repo  Repository
	cache Cache
	ttl   time.Duration
	now   func() time.Time
}

// NewService reads through cache when it is non-nil.
func NewService(repo Repository, cache Cache, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Service{repo: repo, cache: cache, ttl: ttl, now: time.Now}
}

// key returns the normalized tenant as stored in the repository. Cache
// entries use its tenant.Key so distinct tenants never share a flag.
func key(tenantID, threadID string) (string, string, error) {
	t := tenant.Normalize(tenantID)
	if t == "" {
		return "", "", catalog.NewValidationError("customer_id", "must not be empty")
	}
	th := strings.TrimSpace(threadID)
	if th == "" {
		return "", "", catalog.NewValidationError("thread_id", "must not be empty")
	}
	return t, th, nil
}

// IsWholesale is false for threads that were never classified.
func (s *Service) IsWholesale(ctx context.Context, tenantID, threadID string) (bool, error) {
	t, th, err := key(tenantID, threadID)
	if err != nil {
		return false, err
	}

	if s.cache != nil {
		isSale, found, err := s.cache.GetSaleFlag(ctx, tenant.Key(t), th)
		if err != nil {
			logger.Warn("Sale flag cache read failed", zap.Error(err))
		} else if found {
			metrics.ClassificationLookups.WithLabelValues("cache_hit").Inc()
			return isSale, nil
		}
	}

	sc, err := s.repo.GetSaleClassification(ctx, t, th)
	if err != nil {
		metrics.ClassificationLookups.WithLabelValues("error").Inc()
		return false, err
	}

	isSale := sc != nil && sc.IsSale
	if sc == nil {
		metrics.ClassificationLookups.WithLabelValues("absent").Inc()
	} else {
		metrics.ClassificationLookups.WithLabelValues("stored").Inc()
	}

	if s.cache != nil {
		if err := s.cache.SetSaleFlag(ctx, tenant.Key(t), th, isSale, s.ttl); err != nil {
			logger.Warn("Sale flag cache write failed", zap.Error(err))
		}
	}
	return isSale, nil
}

// Get returns the stored classification; found is false when the thread was
// never classified.
func (s *Service) Get(ctx context.Context, tenantID, threadID string) (sc *models.SaleClassification, found bool, err error) {
	t, th, err := key(tenantID, threadID)
	if err != nil {
		return nil, false, err
	}

	sc, err = s.repo.GetSaleClassification(ctx, t, th)
	if err != nil {
		return nil, false, err
	}
	if sc == nil {
		return &models.SaleClassification{CustomerID: t, ThreadID: th}, false, nil
	}
	return sc, true, nil
}

func (s *Service) Set(ctx context.Context, tenantID, threadID string, isSale bool) (*models.SaleClassification, error) {
	t, th, err := key(tenantID, threadID)
	if err != nil {
		return nil, err
	}

	sc := &models.SaleClassification{CustomerID: t, ThreadID: th, IsSale: isSale, UpdatedAt: s.now()}
	if err := s.repo.SetSaleClassification(ctx, sc); err != nil {
		return nil, err
	}
	s.forget(ctx, t, th)

	logger.Info("Conversation classified",
		zap.String("customer_id", t),
		zap.String("thread_id", th),
		zap.Bool("is_sale", isSale),
	)
	return sc, nil
}

func (s *Service) Delete(ctx context.Context, tenantID, threadID string) error {
	t, th, err := key(tenantID, threadID)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteSaleClassification(ctx, t, th); err != nil {
		return err
	}
	s.forget(ctx, t, th)
	return nil
}

func (s *Service) forget(ctx context.Context, tenantID, threadID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeleteSaleFlag(ctx, tenant.Key(tenantID), threadID); err != nil {
		logger.Warn("Sale flag cache invalidation failed", zap.Error(err))
	}
}
