package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"optica/backend/internal/apperror"
	"optica/backend/internal/cache"
	"optica/backend/internal/domain"
	"optica/backend/internal/folio"
	"optica/backend/internal/ledger"
	"optica/backend/internal/store"
	"optica/backend/internal/xid"
)

const (
	defaultFolioCacheTTL = 5 * time.Minute
	defaultAuditLimit    = 100
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Config struct {
	Location       *time.Location
	TaxRatePercent decimal.Decimal
	FolioCacheTTL  time.Duration
	Now            func() time.Time
}

type Service struct {
	repo       store.Repository
	folioCache cache.FolioConfigCache
	allocator  *folio.Allocator
	ledger     *ledger.Ledger
	aggregator *ledger.Aggregator
	loc        *time.Location
	taxRate    decimal.Decimal
	cacheTTL   time.Duration
	now        func() time.Time
	logger     *zap.Logger
}

func New(repo store.Repository, folioCache cache.FolioConfigCache, cfg Config, logger *zap.Logger) *Service {
	if folioCache == nil {
		folioCache = cache.NoopFolioConfigCache{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.FolioCacheTTL <= 0 {
		cfg.FolioCacheTTL = defaultFolioCacheTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	s := &Service{
		repo:       repo,
		folioCache: folioCache,
		loc:        cfg.Location,
		taxRate:    cfg.TaxRatePercent,
		cacheTTL:   cfg.FolioCacheTTL,
		now:        cfg.Now,
		logger:     logger.Named("service"),
	}
	s.allocator = folio.NewAllocator(folioConfigSource{s}, repo, cfg.Location, logger, folio.WithClock(cfg.Now))
	s.ledger = ledger.New(repo, repo, logger)
	s.aggregator = ledger.NewAggregator(repo, repo)
	return s
}

// Location is the business time zone used for folio dates and day ranges.
func (s *Service) Location() *time.Location {
	return s.loc
}

// folioConfigSource reads through the cache so every allocation sees the
// configuration in force without a store round trip per sale.
type folioConfigSource struct {
	s *Service
}

func (src folioConfigSource) FolioConfig(ctx context.Context) (domain.FolioConfig, error) {
	return src.s.loadFolioConfig(ctx)
}

func (s *Service) loadFolioConfig(ctx context.Context) (domain.FolioConfig, error) {
	cached, ok, err := s.folioCache.Get(ctx)
	if err != nil {
		s.logger.Warn("folio config cache read failed", zap.Error(err))
	}
	if ok && cached != nil {
		return *cached, nil
	}

	cfg, err := s.repo.GetFolioConfig(ctx)
	if err != nil {
		return domain.FolioConfig{}, fmt.Errorf("load folio config: %w", err)
	}
	if err := s.folioCache.Set(ctx, cfg, s.cacheTTL); err != nil {
		s.logger.Warn("folio config cache write failed", zap.Error(err))
	}
	return *cfg, nil
}

func (s *Service) GetFolioConfig(ctx context.Context) (domain.FolioConfig, error) {
	return s.loadFolioConfig(ctx)
}

// UpdateFolioConfig applies a partial update. The last writer wins.
func (s *Service) UpdateFolioConfig(ctx context.Context, upd domain.FolioConfigUpdate) (domain.FolioConfig, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.FolioConfig{}, err
	}

	current, err := s.repo.GetFolioConfig(ctx)
	if err != nil {
		return domain.FolioConfig{}, fmt.Errorf("load folio config: %w", err)
	}
	next := *current
	if upd.Prefix != nil {
		next.Prefix = strings.ToUpper(strings.TrimSpace(*upd.Prefix))
	}
	if upd.StartingNumber != nil {
		next.StartingNumber = *upd.StartingNumber
	}
	if err := folio.ValidateConfig(next); err != nil {
		return domain.FolioConfig{}, apperror.NewValidationError("folio_config", err.Error())
	}
	next.UpdatedAt = s.now().UTC()

	saved, err := s.repo.SaveFolioConfig(ctx, next)
	if err != nil {
		return domain.FolioConfig{}, fmt.Errorf("save folio config: %w", err)
	}
	if err := s.folioCache.Invalidate(ctx); err != nil {
		s.logger.Warn("folio config cache invalidation failed", zap.Error(err))
	}

	s.logAudit(ctx, "folio_config_update", "folio_config", "singleton",
		fmt.Sprintf("prefix=%s,starting_number=%d", saved.Prefix, saved.StartingNumber))
	return *saved, nil
}

func (s *Service) RecordPayment(ctx context.Context, in domain.PaymentInput) (domain.PaymentResponse, error) {
	if actor, ok := ActorFromContext(ctx); ok && in.CreatedBy == "" {
		in.CreatedBy = actor.Username
	}
	payment, err := s.ledger.RecordPayment(ctx, in)
	if err != nil {
		return domain.PaymentResponse{}, err
	}
	s.logAudit(ctx, "payment_create", "payment", payment.ID,
		fmt.Sprintf("sale=%s,amount=%s,method=%s", payment.SaleID, payment.Amount.StringFixed(2), payment.Method))
	return s.afterPaymentChange(ctx, *payment), nil
}

// UpdatePayment edits a payment and re-evaluates completion of its sale.
func (s *Service) UpdatePayment(ctx context.Context, paymentID string, upd domain.PaymentUpdate) (domain.PaymentResponse, error) {
	payment, err := s.ledger.UpdatePayment(ctx, paymentID, upd)
	if err != nil {
		return domain.PaymentResponse{}, err
	}
	s.logAudit(ctx, "payment_update", "payment", payment.ID,
		fmt.Sprintf("sale=%s,amount=%s,method=%s", payment.SaleID, payment.Amount.StringFixed(2), payment.Method))
	return s.afterPaymentChange(ctx, *payment), nil
}

// afterPaymentChange runs auto-completion. The payment is already stored, so a
// failure here is reported as a warning rather than an error.
func (s *Service) afterPaymentChange(ctx context.Context, payment domain.Payment) domain.PaymentResponse {
	resp := domain.PaymentResponse{Payment: payment}
	result, err := s.ledger.TryAutoComplete(ctx, payment.SaleID)
	if err != nil {
		s.logger.Warn("auto-complete after payment failed",
			zap.String("sale_id", payment.SaleID),
			zap.String("payment_id", payment.ID),
			zap.Error(err),
		)
		resp.Warnings = append(resp.Warnings, "sale completion could not be evaluated")
		return resp
	}
	resp.AutoComplete = result
	return resp
}

func (s *Service) DeletePayment(ctx context.Context, paymentID string) error {
	if err := requireAdmin(ctx); err != nil {
		return err
	}
	payment, err := s.ledger.DeletePayment(ctx, paymentID)
	if err != nil {
		return err
	}
	s.logAudit(ctx, "payment_delete", "payment", payment.ID,
		fmt.Sprintf("sale=%s,amount=%s", payment.SaleID, payment.Amount.StringFixed(2)))
	return nil
}

func (s *Service) ListPayments(ctx context.Context, saleID string) ([]domain.Payment, error) {
	return s.ledger.ListPayments(ctx, saleID)
}

func (s *Service) OutstandingBalance(ctx context.Context, saleID string) (decimal.Decimal, error) {
	return s.ledger.OutstandingBalance(ctx, saleID)
}

func (s *Service) TryAutoComplete(ctx context.Context, saleID string) (domain.AutoCompleteResult, error) {
	return s.ledger.TryAutoComplete(ctx, saleID)
}

func (s *Service) CustomerSurplus(ctx context.Context, customerID string) (domain.Surplus, error) {
	if err := s.requireCustomer(ctx, customerID); err != nil {
		return domain.Surplus{}, err
	}
	return s.ledger.CustomerSurplus(ctx, customerID)
}

func (s *Service) ApplySurplus(ctx context.Context, customerID string, req domain.ApplySurplusRequest) (domain.ApplySurplusResult, error) {
	if err := s.requireCustomer(ctx, customerID); err != nil {
		return domain.ApplySurplusResult{}, err
	}
	result, err := s.ledger.ApplySurplus(ctx, customerID, req.TargetSaleID, req.MaxAmount, actorName(ctx))
	if err != nil {
		return domain.ApplySurplusResult{}, err
	}
	if result.Payment == nil {
		return result, nil
	}

	s.logAudit(ctx, "surplus_apply", "payment", result.Payment.ID,
		fmt.Sprintf("customer=%s,sale=%s,amount=%s", customerID, req.TargetSaleID, result.Applied.StringFixed(2)))
	resp := s.afterPaymentChange(ctx, *result.Payment)
	result.AutoComplete = resp.AutoComplete
	return result, nil
}

func (s *Service) DebtStatistics(ctx context.Context, r domain.DebtRange) (domain.DebtStats, error) {
	return s.aggregator.DebtStatistics(ctx, r)
}

// ListAuditLogs returns entries of one business day, the last 24 hours when date is empty.
func (s *Service) ListAuditLogs(ctx context.Context, date string, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = defaultAuditLimit
	}

	var from time.Time
	if strings.TrimSpace(date) == "" {
		from = s.now().UTC().Add(-24 * time.Hour)
	} else {
		parsed, err := time.ParseInLocation("2006-01-02", date, s.loc)
		if err != nil {
			return nil, apperror.NewValidationError("date", "must use YYYY-MM-DD")
		}
		from = parsed.UTC()
	}
	to := from.Add(24 * time.Hour)

	return s.repo.ListAuditLogs(ctx, from, to, limit)
}

func (s *Service) requireCustomer(ctx context.Context, customerID string) error {
	exists, err := s.repo.CustomerExists(ctx, customerID)
	if err != nil {
		return fmt.Errorf("check customer %s: %w", customerID, err)
	}
	if !exists {
		return fmt.Errorf("customer %s: %w", customerID, store.ErrNotFound)
	}
	return nil
}

func requireAdmin(ctx context.Context) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return ErrForbidden
	}
	return nil
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     s.now().UTC(),
	}); err != nil {
		s.logger.Warn("audit log write failed",
			zap.String("action", action),
			zap.String("entity", entityType+"/"+entityID),
			zap.Error(err),
		)
	}
}
