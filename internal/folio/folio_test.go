package folio

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"optica/backend/internal/domain"
	"optica/backend/internal/store/memory"
)

type staticConfig struct {
	cfg domain.FolioConfig
	err error
}

func (s staticConfig) FolioConfig(_ context.Context) (domain.FolioConfig, error) {
	return s.cfg, s.err
}

type brokenScanner struct {
	*memory.Store
}

func (brokenScanner) ListFolioCandidates(context.Context, string) ([]string, error) {
	return nil, errors.New("connection refused")
}

func fixedClock() time.Time {
	return time.Date(2025, 1, 15, 18, 30, 0, 0, time.UTC)
}

func newTestAllocator(t *testing.T, repo Scanner, cfg domain.FolioConfig) *Allocator {
	t.Helper()
	return NewAllocator(staticConfig{cfg: cfg}, repo, time.UTC, zap.NewNop(), WithClock(fixedClock))
}

func defaultCfg() domain.FolioConfig {
	return domain.FolioConfig{Prefix: "V", StartingNumber: 1}
}

func insertFolio(t *testing.T, repo *memory.Store, folio string) {
	t.Helper()
	_, err := repo.CreateSale(context.Background(), domain.Sale{Folio: folio})
	require.NoError(t, err)
}

func TestAllocateSequentialFoliosAreDistinctAndDense(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	alloc := newTestAllocator(t, repo, defaultCfg())

	seen := map[string]bool{}
	for i := int64(1); i <= 5; i++ {
		got, err := alloc.Allocate(ctx, "")
		require.NoError(t, err)
		assert.False(t, got.Fallback)
		assert.Equal(t, i, got.Sequence)
		assert.False(t, seen[got.Folio], "duplicate folio %s", got.Folio)
		seen[got.Folio] = true
		insertFolio(t, repo, got.Folio)
	}
	assert.True(t, seen["V20250115000005"])
}

func TestAllocateFillsMinimumGap(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	insertFolio(t, repo, "V20250115000001")
	insertFolio(t, repo, "V20250115000003")
	alloc := newTestAllocator(t, repo, defaultCfg())

	got, err := alloc.Allocate(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "V20250115000002", got.Folio)

	insertFolio(t, repo, got.Folio)
	got, err = alloc.Allocate(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "V20250115000004", got.Folio)
}

func TestAllocateRespectsNumericManualFolios(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	insertFolio(t, repo, "1")
	insertFolio(t, repo, "0002")
	insertFolio(t, repo, "MANUAL-7")
	alloc := newTestAllocator(t, repo, defaultCfg())

	got, err := alloc.Allocate(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "V20250115000003", got.Folio)
}

func TestAllocateIgnoresOtherDaysAndFallbackFolios(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	insertFolio(t, repo, "V20250114000001")
	insertFolio(t, repo, "V20250115-T1736965800000000000")
	alloc := newTestAllocator(t, repo, defaultCfg())

	got, err := alloc.Allocate(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "V20250115000001", got.Folio)
}

func TestAllocateHonorsStartingNumberAndPrefix(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	insertFolio(t, repo, "OPT20250115000100")
	alloc := newTestAllocator(t, repo, domain.FolioConfig{Prefix: "OPT", StartingNumber: 100})

	got, err := alloc.Allocate(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "OPT20250115000101", got.Folio)
	assert.Equal(t, int64(101), got.Sequence)
}

func TestAllocateUsesBusinessDay(t *testing.T) {
	loc, err := time.LoadLocation("America/Mexico_City")
	require.NoError(t, err)
	lateEvening := func() time.Time {
		return time.Date(2025, 1, 16, 3, 0, 0, 0, time.UTC)
	}
	alloc := NewAllocator(staticConfig{cfg: defaultCfg()}, memory.New(), loc, zap.NewNop(), WithClock(lateEvening))

	got, err := alloc.Allocate(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "V20250115000001", got.Folio)
}

func TestManualNumericFolioCollidesWithAutomatic(t *testing.T) {
	repo := memory.New()
	insertFolio(t, repo, "V20250115000003")
	alloc := newTestAllocator(t, repo, defaultCfg())

	_, err := alloc.Allocate(context.Background(), "3")
	require.ErrorIs(t, err, ErrFolioCollision)

	_, err = alloc.Allocate(context.Background(), "000003")
	require.ErrorIs(t, err, ErrFolioCollision)

	got, err := alloc.Allocate(context.Background(), "4")
	require.NoError(t, err)
	assert.True(t, got.Manual)
	assert.Equal(t, "4", got.Folio)
}

func TestManualFolioDuplicate(t *testing.T) {
	repo := memory.New()
	insertFolio(t, repo, "NOTA-88")
	alloc := newTestAllocator(t, repo, defaultCfg())

	_, err := alloc.Allocate(context.Background(), "  NOTA-88 ")
	require.ErrorIs(t, err, ErrDuplicateFolio)

	got, err := alloc.Allocate(context.Background(), "NOTA-89")
	require.NoError(t, err)
	assert.Equal(t, Allocation{Folio: "NOTA-89", Manual: true}, got)
}

func TestAllocateFallsBackWhenScanFails(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	alloc := NewAllocator(staticConfig{cfg: defaultCfg()}, brokenScanner{memory.New()}, time.UTC, zap.New(core), WithClock(fixedClock))

	got, err := alloc.Allocate(context.Background(), "")
	require.NoError(t, err)
	assert.True(t, got.Fallback)
	assert.True(t, strings.HasPrefix(got.Folio, "V20250115-T"), got.Folio)

	entries := logs.FilterMessage("folio fallback").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	assert.Equal(t, "fallback", entries[0].ContextMap()["folio_mode"])
	assert.Equal(t, got.Folio, entries[0].ContextMap()["folio"])
}

func TestAllocateFallsBackWhenConfigFails(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	source := staticConfig{err: errors.New("timeout")}
	alloc := NewAllocator(source, memory.New(), time.UTC, zap.New(core), WithClock(fixedClock))

	got, err := alloc.Allocate(context.Background(), "")
	require.NoError(t, err)
	assert.True(t, got.Fallback)
	assert.True(t, strings.HasPrefix(got.Folio, "V20250115-T"), got.Folio)
	assert.Equal(t, 1, logs.FilterField(zap.String("folio_mode", "fallback")).Len())
}

func TestManualFolioDoesNotFallBack(t *testing.T) {
	alloc := NewAllocator(staticConfig{cfg: defaultCfg()}, brokenScanner{memory.New()}, time.UTC, zap.NewNop(), WithClock(fixedClock))

	_, err := alloc.Allocate(context.Background(), "15")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrFolioCollision)
}

func TestValidateConfig(t *testing.T) {
	cases := []struct {
		name string
		cfg  domain.FolioConfig
		ok   bool
	}{
		{"default", domain.FolioConfig{Prefix: "V", StartingNumber: 1}, true},
		{"dash prefix", domain.FolioConfig{Prefix: "SUC-2", StartingNumber: 0}, true},
		{"empty prefix", domain.FolioConfig{Prefix: "", StartingNumber: 1}, false},
		{"numeric prefix", domain.FolioConfig{Prefix: "2025", StartingNumber: 1}, false},
		{"long prefix", domain.FolioConfig{Prefix: "ABCDEFGHIJK", StartingNumber: 1}, false},
		{"space in prefix", domain.FolioConfig{Prefix: "V 1", StartingNumber: 1}, false},
		{"negative start", domain.FolioConfig{Prefix: "V", StartingNumber: -1}, false},
		{"start too large", domain.FolioConfig{Prefix: "V", StartingNumber: 1000000}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateConfig(tc.cfg)
			if tc.ok {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}
