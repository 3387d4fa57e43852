package ledger

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"optica/backend/internal/apperror"
	"optica/backend/internal/domain"
	"optica/backend/internal/store"
)

// Aggregator computes read-only debt statistics for reporting.
type Aggregator struct {
	sales    store.SaleStore
	payments store.PaymentStore
}

func NewAggregator(sales store.SaleStore, payments store.PaymentStore) *Aggregator {
	return &Aggregator{sales: sales, payments: payments}
}

// DebtStatistics reports payments received within the optional inclusive
// range and the current outstanding debt. Only confirmed sales are counted;
// surplus applications are transfers between sales, not income.
func (a *Aggregator) DebtStatistics(ctx context.Context, r domain.DebtRange) (domain.DebtStats, error) {
	if r.From != nil && r.To != nil && r.From.After(*r.To) {
		return domain.DebtStats{}, apperror.NewValidationError("from", "must not be after to")
	}

	sales, err := a.sales.ListSales(ctx, domain.SaleFilter{ConfirmedOnly: true})
	if err != nil {
		return domain.DebtStats{}, fmt.Errorf("list sales: %w", err)
	}
	confirmed := make(map[string]domain.Sale, len(sales))
	for _, sale := range sales {
		confirmed[sale.ID] = sale
	}

	all, err := a.payments.ListPayments(ctx, domain.PaymentFilter{})
	if err != nil {
		return domain.DebtStats{}, fmt.Errorf("list payments: %w", err)
	}

	stats := domain.DebtStats{
		TotalPayments:       decimal.Zero,
		TotalOutstanding:    decimal.Zero,
		RecoveredPercentage: decimal.Zero,
	}
	bySale := make(map[string][]domain.Payment, len(confirmed))
	for _, p := range all {
		if _, ok := confirmed[p.SaleID]; !ok {
			continue
		}
		bySale[p.SaleID] = append(bySale[p.SaleID], p)
		if p.Kind == domain.PaymentKindSurplus || !inRange(p, r) {
			continue
		}
		stats.TotalPayments = stats.TotalPayments.Add(p.Amount)
		stats.PaymentCount++
	}

	for _, sale := range sales {
		if sale.Status != domain.SaleStatusPending {
			continue
		}
		balance := Balance(sale.Total, bySale[sale.ID])
		if !balance.IsPositive() {
			continue
		}
		stats.TotalOutstanding = stats.TotalOutstanding.Add(balance)
		stats.OutstandingCount++
	}

	denominator := stats.TotalPayments.Add(stats.TotalOutstanding)
	if denominator.IsPositive() {
		stats.RecoveredPercentage = stats.TotalPayments.Mul(decimal.NewFromInt(100)).Div(denominator).Round(2)
	}
	return stats, nil
}

func inRange(p domain.Payment, r domain.DebtRange) bool {
	if r.From != nil && p.CreatedAt.Before(*r.From) {
		return false
	}
	if r.To != nil && p.CreatedAt.After(*r.To) {
		return false
	}
	return true
}
