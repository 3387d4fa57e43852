// Package ledger records partial payments (abonos) against sales and derives
// balances, automatic completion and customer surplus from them.
package ledger

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"optica/backend/internal/apperror"
	"optica/backend/internal/domain"
	"optica/backend/internal/store"
)

var validMethods = map[string]bool{
	domain.PaymentMethodCash:     true,
	domain.PaymentMethodDebit:    true,
	domain.PaymentMethodCredit:   true,
	domain.PaymentMethodTransfer: true,
}

type Ledger struct {
	sales    store.SaleStore
	payments store.PaymentStore
	logger   *zap.Logger
	now      func() time.Time
}

func New(sales store.SaleStore, payments store.PaymentStore, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		sales:    sales,
		payments: payments,
		logger:   logger.Named("ledger"),
		now:      time.Now,
	}
}

func IsValidMethod(method string) bool {
	return validMethods[method]
}

// RecordPayment books a payment. Amounts above the outstanding balance are
// accepted and later surface as customer surplus.
func (l *Ledger) RecordPayment(ctx context.Context, in domain.PaymentInput) (*domain.Payment, error) {
	in.Method = strings.ToLower(strings.TrimSpace(in.Method))
	verr := &apperror.ValidationError{}
	if !in.Amount.IsPositive() {
		verr.Add("amount", "must be greater than zero")
	}
	if !IsValidMethod(in.Method) {
		verr.Add("method", "must be one of cash, debit, credit, transfer")
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	if _, err := l.sales.GetSale(ctx, in.SaleID); err != nil {
		return nil, fmt.Errorf("load sale %s: %w", in.SaleID, err)
	}
	return l.insert(ctx, domain.Payment{
		SaleID:    in.SaleID,
		Amount:    in.Amount.Round(2),
		Method:    in.Method,
		Kind:      domain.PaymentKindPayment,
		Note:      strings.TrimSpace(in.Note),
		CreatedBy: in.CreatedBy,
	})
}

func (l *Ledger) insert(ctx context.Context, payment domain.Payment) (*domain.Payment, error) {
	payment.CreatedAt = l.now().UTC()
	created, err := l.payments.CreatePayment(ctx, payment)
	if err != nil {
		return nil, fmt.Errorf("create payment: %w", err)
	}
	l.logger.Info("payment recorded",
		zap.String("sale_id", created.SaleID),
		zap.String("payment_id", created.ID),
		zap.String("amount", created.Amount.StringFixed(2)),
		zap.String("method", created.Method),
		zap.String("kind", created.Kind),
	)
	return created, nil
}

// OutstandingBalance is max(0, total - sum of payments).
func (l *Ledger) OutstandingBalance(ctx context.Context, saleID string) (decimal.Decimal, error) {
	sale, payments, err := l.saleWithPayments(ctx, saleID)
	if err != nil {
		return decimal.Zero, err
	}
	return Balance(sale.Total, payments), nil
}

// TryAutoComplete marks a fully paid sale completed. It never moves a
// completed sale back to pending and is safe to call repeatedly.
func (l *Ledger) TryAutoComplete(ctx context.Context, saleID string) (domain.AutoCompleteResult, error) {
	sale, payments, err := l.saleWithPayments(ctx, saleID)
	if err != nil {
		return domain.AutoCompleteResult{}, err
	}

	balance := Balance(sale.Total, payments)
	if sale.Status == domain.SaleStatusCompleted {
		return domain.AutoCompleteResult{Completed: true, Balance: balance}, nil
	}
	if balance.IsPositive() {
		return domain.AutoCompleteResult{Completed: false, Balance: balance}, nil
	}

	if _, err := l.sales.UpdateSaleStatus(ctx, saleID, domain.SaleStatusCompleted, l.now()); err != nil {
		return domain.AutoCompleteResult{}, fmt.Errorf("complete sale %s: %w", saleID, err)
	}
	l.logger.Info("sale auto-completed", zap.String("sale_id", saleID), zap.String("folio", sale.Folio))
	return domain.AutoCompleteResult{Completed: true, Balance: decimal.Zero}, nil
}

// UpdatePayment edits amount, method or note. Callers re-run TryAutoComplete.
func (l *Ledger) UpdatePayment(ctx context.Context, paymentID string, upd domain.PaymentUpdate) (*domain.Payment, error) {
	current, err := l.payments.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, fmt.Errorf("load payment %s: %w", paymentID, err)
	}

	next := *current
	verr := &apperror.ValidationError{}
	if upd.Amount != nil {
		if !upd.Amount.IsPositive() {
			verr.Add("amount", "must be greater than zero")
		}
		next.Amount = upd.Amount.Round(2)
	}
	if upd.Method != nil {
		next.Method = strings.ToLower(strings.TrimSpace(*upd.Method))
		if !IsValidMethod(next.Method) {
			verr.Add("method", "must be one of cash, debit, credit, transfer")
		}
	}
	if upd.Note != nil {
		next.Note = strings.TrimSpace(*upd.Note)
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	if _, err := l.sales.GetSale(ctx, next.SaleID); err != nil {
		return nil, fmt.Errorf("load sale %s: %w", next.SaleID, err)
	}
	updated, err := l.payments.UpdatePayment(ctx, next)
	if err != nil {
		return nil, fmt.Errorf("update payment %s: %w", paymentID, err)
	}
	return updated, nil
}

func (l *Ledger) DeletePayment(ctx context.Context, paymentID string) (*domain.Payment, error) {
	current, err := l.payments.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, fmt.Errorf("load payment %s: %w", paymentID, err)
	}
	if err := l.payments.DeletePayment(ctx, paymentID); err != nil {
		return nil, fmt.Errorf("delete payment %s: %w", paymentID, err)
	}
	return current, nil
}

func (l *Ledger) ListPayments(ctx context.Context, saleID string) ([]domain.Payment, error) {
	_, payments, err := l.saleWithPayments(ctx, saleID)
	return payments, err
}

// CustomerSurplus sums the customer's share of what was paid above the total
// on each of their sales, minus the surplus payments funded by this customer.
// The excess of a sale linked to several customers is split evenly between
// them so it can only be spent once.
func (l *Ledger) CustomerSurplus(ctx context.Context, customerID string) (domain.Surplus, error) {
	sales, err := l.sales.ListSalesByCustomer(ctx, customerID)
	if err != nil {
		return domain.Surplus{}, fmt.Errorf("list sales for customer %s: %w", customerID, err)
	}

	result := domain.Surplus{
		CustomerID:    customerID,
		Gross:         decimal.Zero,
		Applied:       decimal.Zero,
		Available:     decimal.Zero,
		Contributions: make([]domain.SurplusContribution, 0, 2),
	}
	for _, sale := range sales {
		payments, err := l.payments.ListPaymentsBySale(ctx, sale.ID)
		if err != nil {
			return domain.Surplus{}, fmt.Errorf("list payments for sale %s: %w", sale.ID, err)
		}
		paid := Paid(payments)
		for _, p := range payments {
			if p.Kind != domain.PaymentKindSurplus {
				continue
			}
			// Rows written before sources were recorded count for every linked customer.
			if p.SourceCustomerID == customerID || p.SourceCustomerID == "" {
				result.Applied = result.Applied.Add(p.Amount)
			}
		}
		excess := paid.Sub(sale.Total)
		if !excess.IsPositive() {
			continue
		}
		share := excess
		if len(sale.CustomerIDs) != 1 {
			full, err := l.sales.GetSale(ctx, sale.ID)
			if err != nil {
				return domain.Surplus{}, fmt.Errorf("load sale %s: %w", sale.ID, err)
			}
			share = ShareOf(excess, full.CustomerIDs, customerID)
		}
		if !share.IsPositive() {
			continue
		}
		result.Gross = result.Gross.Add(share)
		result.Contributions = append(result.Contributions, domain.SurplusContribution{
			SaleID:  sale.ID,
			Folio:   sale.Folio,
			Total:   sale.Total,
			Paid:    paid,
			Surplus: share,
		})
	}
	if available := result.Gross.Sub(result.Applied); available.IsPositive() {
		result.Available = available
	}
	return result, nil
}

// ShareOf returns customerID's even part of amount split between customerIDs,
// rounded down to cents. The first customer in sorted order takes the
// remainder so the parts add up to amount.
func ShareOf(amount decimal.Decimal, customerIDs []string, customerID string) decimal.Decimal {
	ids := slices.Sorted(slices.Values(customerIDs))
	ids = slices.Compact(ids)
	if len(ids) <= 1 {
		return amount
	}
	idx, found := slices.BinarySearch(ids, customerID)
	if !found {
		return decimal.Zero
	}
	n := decimal.NewFromInt(int64(len(ids)))
	part := amount.Div(n).RoundFloor(2)
	if idx == 0 {
		return amount.Sub(part.Mul(n.Sub(decimal.NewFromInt(1))))
	}
	return part
}

// ApplySurplus moves up to maxAmount of the customer's available surplus onto
// targetSaleID, never more than the target still owes. The payment is booked
// as a transfer of kind surplus so it is distinguishable from fresh money,
// and records customerID as the source of the funds.
func (l *Ledger) ApplySurplus(ctx context.Context, customerID string, targetSaleID string, maxAmount decimal.Decimal, createdBy string) (domain.ApplySurplusResult, error) {
	if !maxAmount.IsPositive() {
		return domain.ApplySurplusResult{}, apperror.NewValidationError("max_amount", "must be greater than zero")
	}

	target, payments, err := l.saleWithPayments(ctx, targetSaleID)
	if err != nil {
		return domain.ApplySurplusResult{}, err
	}
	if !slices.Contains(target.CustomerIDs, customerID) {
		return domain.ApplySurplusResult{}, apperror.NewValidationError("target_sale_id", "sale does not belong to customer")
	}

	surplus, err := l.CustomerSurplus(ctx, customerID)
	if err != nil {
		return domain.ApplySurplusResult{}, err
	}
	amount := decimal.Min(surplus.Available, maxAmount, Balance(target.Total, payments)).Round(2)
	if !amount.IsPositive() {
		return domain.ApplySurplusResult{Applied: decimal.Zero}, nil
	}

	sources := make([]string, 0, len(surplus.Contributions))
	for _, c := range surplus.Contributions {
		sources = append(sources, c.Folio)
	}
	payment, err := l.insert(ctx, domain.Payment{
		SaleID:           targetSaleID,
		Amount:           amount,
		Method:           domain.PaymentMethodTransfer,
		Kind:             domain.PaymentKindSurplus,
		Note:             "surplus from " + strings.Join(sources, ", "),
		SourceCustomerID: customerID,
		CreatedBy:        strings.TrimSpace(createdBy),
	})
	if err != nil {
		return domain.ApplySurplusResult{}, err
	}
	return domain.ApplySurplusResult{Applied: amount, Payment: payment}, nil
}

func (l *Ledger) saleWithPayments(ctx context.Context, saleID string) (*domain.Sale, []domain.Payment, error) {
	sale, err := l.sales.GetSale(ctx, saleID)
	if err != nil {
		return nil, nil, fmt.Errorf("load sale %s: %w", saleID, err)
	}
	payments, err := l.payments.ListPaymentsBySale(ctx, saleID)
	if err != nil {
		return nil, nil, fmt.Errorf("list payments for sale %s: %w", saleID, err)
	}
	return sale, payments, nil
}

func Paid(payments []domain.Payment) decimal.Decimal {
	total := decimal.Zero
	for _, p := range payments {
		total = total.Add(p.Amount)
	}
	return total
}

func Balance(total decimal.Decimal, payments []domain.Payment) decimal.Decimal {
	balance := total.Sub(Paid(payments))
	if balance.IsNegative() {
		return decimal.Zero
	}
	return balance
}
