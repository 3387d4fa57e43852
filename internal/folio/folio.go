// Package folio allocates the human-facing receipt numbers of sales.
//
// Automatic folios have the form prefix + YYYYMMDD + six-digit sequence, with
// the date taken in the business time zone. Automatic sequences and purely
// numeric manual folios share one numbering space: the allocator picks the
// smallest unused number at or above the configured starting number.
package folio

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"optica/backend/internal/domain"
	"optica/backend/internal/store"
)

const (
	dateLayout     = "20060102"
	maxPrefixLen   = 10
	maxStartNumber = 999999
)

var (
	ErrDuplicateFolio = store.ErrDuplicateFolio
	ErrFolioCollision = errors.New("manual folio collides with automatic numbering")
	ErrInvalidConfig  = errors.New("invalid folio configuration")
)

// ConfigSource yields the folio configuration in force for one allocation.
type ConfigSource interface {
	FolioConfig(ctx context.Context) (domain.FolioConfig, error)
}

type Scanner interface {
	FolioExists(ctx context.Context, folio string) (bool, error)
	ListFolioCandidates(ctx context.Context, autoPrefix string) ([]string, error)
}

type Allocation struct {
	Folio    string
	Manual   bool
	Fallback bool
	Sequence int64
}

type Allocator struct {
	config ConfigSource
	folios Scanner
	loc    *time.Location
	now    func() time.Time
	logger *zap.Logger
}

type Option func(*Allocator)

func WithClock(now func() time.Time) Option {
	return func(a *Allocator) {
		a.now = now
	}
}

func NewAllocator(config ConfigSource, folios Scanner, loc *time.Location, logger *zap.Logger, opts ...Option) *Allocator {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Allocator{
		config: config,
		folios: folios,
		loc:    loc,
		now:    time.Now,
		logger: logger.Named("folio"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Allocate returns a manual folio after conflict checks, or the next automatic one.
// When the store cannot be scanned an automatic request degrades to a
// timestamp folio flagged as Fallback.
func (a *Allocator) Allocate(ctx context.Context, manual string) (Allocation, error) {
	manual = strings.TrimSpace(manual)
	if manual != "" {
		return a.allocateManual(ctx, manual)
	}

	now := a.now().In(a.loc)
	cfg, err := a.config.FolioConfig(ctx)
	if err != nil {
		return a.fallback(domain.DefaultFolioPrefix, now, err), nil
	}

	autoPrefix := cfg.Prefix + now.Format(dateLayout)
	used, err := a.usedNumbers(ctx, autoPrefix)
	if err != nil {
		return a.fallback(cfg.Prefix, now, err), nil
	}

	seq := cfg.StartingNumber
	if seq < 0 {
		seq = 0
	}
	for used[seq] {
		seq++
	}

	folio := fmt.Sprintf("%s%06d", autoPrefix, seq)
	a.logger.Debug("folio allocated",
		zap.String("folio", folio),
		zap.String("folio_mode", "sequential"),
		zap.Int64("sequence", seq),
	)
	return Allocation{Folio: folio, Sequence: seq}, nil
}

func (a *Allocator) allocateManual(ctx context.Context, manual string) (Allocation, error) {
	exists, err := a.folios.FolioExists(ctx, manual)
	if err != nil {
		return Allocation{}, fmt.Errorf("check manual folio: %w", err)
	}
	if exists {
		return Allocation{}, fmt.Errorf("%w: %s", ErrDuplicateFolio, manual)
	}
	if !isDigits(manual) {
		return Allocation{Folio: manual, Manual: true}, nil
	}

	n, err := strconv.ParseInt(manual, 10, 64)
	if err != nil {
		return Allocation{}, fmt.Errorf("%w: %s out of range", ErrFolioCollision, manual)
	}
	cfg, err := a.config.FolioConfig(ctx)
	if err != nil {
		return Allocation{}, fmt.Errorf("load folio config: %w", err)
	}
	used, err := a.usedNumbers(ctx, cfg.Prefix+a.now().In(a.loc).Format(dateLayout))
	if err != nil {
		return Allocation{}, fmt.Errorf("scan folios: %w", err)
	}
	if used[n] {
		return Allocation{}, fmt.Errorf("%w: %s", ErrFolioCollision, manual)
	}

	a.logger.Debug("folio allocated",
		zap.String("folio", manual),
		zap.String("folio_mode", "manual"),
	)
	return Allocation{Folio: manual, Manual: true, Sequence: n}, nil
}

// usedNumbers collects today's automatic suffixes and every numeric manual folio.
func (a *Allocator) usedNumbers(ctx context.Context, autoPrefix string) (map[int64]bool, error) {
	candidates, err := a.folios.ListFolioCandidates(ctx, autoPrefix)
	if err != nil {
		return nil, err
	}

	used := make(map[int64]bool, len(candidates))
	for _, folio := range candidates {
		digits := ""
		switch {
		case strings.HasPrefix(folio, autoPrefix) && isDigits(folio[len(autoPrefix):]):
			digits = folio[len(autoPrefix):]
		case isDigits(folio):
			digits = folio
		default:
			continue
		}
		n, err := strconv.ParseInt(digits, 10, 64)
		if err != nil {
			continue
		}
		used[n] = true
	}
	return used, nil
}

func (a *Allocator) fallback(prefix string, now time.Time, cause error) Allocation {
	folio := fmt.Sprintf("%s%s-T%d", prefix, now.Format(dateLayout), now.UnixNano())
	a.logger.Warn("folio fallback",
		zap.String("folio", folio),
		zap.String("folio_mode", "fallback"),
		zap.Error(cause),
	)
	return Allocation{Folio: folio, Fallback: true}
}

// ValidateConfig checks an administrative folio configuration.
func ValidateConfig(cfg domain.FolioConfig) error {
	prefix := cfg.Prefix
	if prefix == "" || len(prefix) > maxPrefixLen {
		return fmt.Errorf("%w: prefix must be 1-%d characters", ErrInvalidConfig, maxPrefixLen)
	}
	for _, r := range prefix {
		if !(r >= 'A' && r <= 'Z' || r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '-') {
			return fmt.Errorf("%w: prefix may only contain letters, digits and dashes", ErrInvalidConfig)
		}
	}
	if isDigits(prefix) {
		return fmt.Errorf("%w: prefix cannot be purely numeric", ErrInvalidConfig)
	}
	if cfg.StartingNumber < 0 || cfg.StartingNumber > maxStartNumber {
		return fmt.Errorf("%w: starting number must be between 0 and %d", ErrInvalidConfig, maxStartNumber)
	}
	return nil
}

func isDigits(val string) bool {
	if val == "" {
		return false
	}
	for i := 0; i < len(val); i++ {
		if val[i] < '0' || val[i] > '9' {
			return false
		}
	}
	return true
}
