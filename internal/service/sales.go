package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"optica/backend/internal/apperror"
	"optica/backend/internal/domain"
	"optica/backend/internal/folio"
	"optica/backend/internal/ledger"
	"optica/backend/internal/pricing"
	"optica/backend/internal/store"
	"optica/backend/internal/xid"
)

// CreateSale writes a sale as header, items, stock decrements, vendor links,
// customer links, confirmation and an optional first payment. The store has
// no multi-row transaction, so a failed items or link step deletes the header
// again. Stock, confirmation and the first payment are best-effort and only
// produce warnings. Aggregates ignore the sale until it is confirmed.
//
// TODO: move this sequence into a single database transaction on the postgres
// store and keep compensation only for the memory store.
func (s *Service) CreateSale(ctx context.Context, draft domain.SaleDraft) (domain.CreateSaleResult, error) {
	draft = normalizeDraft(draft)
	if err := validateDraft(draft); err != nil {
		return domain.CreateSaleResult{}, err
	}
	if err := s.checkDirectory(ctx, draft); err != nil {
		return domain.CreateSaleResult{}, err
	}

	lines := make([]pricing.Line, 0, len(draft.Items))
	for _, item := range draft.Items {
		lines = append(lines, toLine(item))
	}
	totals := pricing.SaleTotals(lines, draft.DiscountAmount, draft.DiscountPercent)
	tax := decimal.Zero
	if draft.RequiresInvoice {
		tax = pricing.ApplyTax(totals.Total, s.taxRate)
	}

	now := s.now()
	saleDate := now.In(s.loc)
	if draft.SaleDate != nil {
		saleDate = draft.SaleDate.In(s.loc)
	}

	alloc, err := s.allocator.Allocate(ctx, draft.ManualFolio)
	if err != nil {
		return domain.CreateSaleResult{}, err
	}

	header := domain.Sale{
		ID:              xid.New("sale"),
		Subtotal:        totals.Subtotal,
		DiscountAmount:  totals.Discount,
		DiscountPercent: draft.DiscountPercent,
		RequiresInvoice: draft.RequiresInvoice,
		TaxAmount:       tax,
		Total:           totals.Total.Add(tax),
		TaxID:           draft.TaxID,
		LegalName:       draft.LegalName,
		Status:          domain.SaleStatusPending,
		Confirmed:       false,
		SaleDate:        saleDate,
		Notes:           draft.Notes,
		CreatedAt:       now.UTC(),
	}
	created, alloc, err := s.insertHeader(ctx, header, alloc, draft.ManualFolio)
	if err != nil {
		return domain.CreateSaleResult{}, err
	}
	log := s.logger.With(zap.String("sale_id", created.ID), zap.String("folio", created.Folio))

	items := make([]domain.SaleItem, 0, len(draft.Items))
	for i, item := range draft.Items {
		items = append(items, domain.SaleItem{
			ID:              xid.New("item"),
			SaleID:          created.ID,
			Position:        i + 1,
			Type:            item.Type,
			InventoryUnitID: item.InventoryUnitID,
			Description:     item.Description,
			Quantity:        item.Quantity,
			UnitPrice:       item.UnitPrice,
			DiscountAmount:  item.DiscountAmount,
			DiscountPercent: item.DiscountPercent,
			Subtotal:        pricing.ItemSubtotal(lines[i]),
		})
	}
	if err := s.repo.CreateSaleItems(ctx, created.ID, items); err != nil {
		return domain.CreateSaleResult{}, s.compensate(ctx, created, StepItems, err)
	}

	warnings := make([]string, 0, 2)
	for _, item := range items {
		if item.Type != domain.ItemTypeFrame {
			continue
		}
		remaining, err := s.repo.DecrementStock(ctx, item.InventoryUnitID, item.Quantity)
		if err != nil {
			log.Warn("inventory decrement failed",
				zap.String("inventory_unit_id", item.InventoryUnitID),
				zap.Int("qty", item.Quantity),
				zap.Error(err),
			)
			warnings = append(warnings, fmt.Sprintf("stock for %s was not decremented", item.InventoryUnitID))
			continue
		}
		log.Debug("inventory decremented",
			zap.String("inventory_unit_id", item.InventoryUnitID),
			zap.Int("remaining", remaining),
		)
	}

	if err := s.repo.AddSaleVendors(ctx, created.ID, draft.VendorIDs); err != nil {
		return domain.CreateSaleResult{}, s.compensate(ctx, created, StepVendors, err)
	}
	if err := s.repo.AddSaleCustomers(ctx, created.ID, draft.CustomerIDs); err != nil {
		return domain.CreateSaleResult{}, s.compensate(ctx, created, StepCustomers, err)
	}
	if err := s.repo.ConfirmSale(ctx, created.ID); err != nil {
		log.Warn("sale confirmation failed", zap.Error(err))
		warnings = append(warnings, "sale is not yet visible in debt reports")
	}

	result := domain.CreateSaleResult{
		SaleID:         created.ID,
		Folio:          created.Folio,
		FolioFallback:  alloc.Fallback,
		Status:         created.Status,
		Subtotal:       created.Subtotal,
		DiscountAmount: created.DiscountAmount,
		TaxAmount:      created.TaxAmount,
		Total:          created.Total,
		Balance:        created.Total,
	}

	var initial []domain.Payment
	if draft.InitialPayment != nil {
		payment, err := s.ledger.RecordPayment(ctx, domain.PaymentInput{
			SaleID:    created.ID,
			Amount:    draft.InitialPayment.Amount,
			Method:    draft.InitialPayment.Method,
			Note:      draft.InitialPayment.Note,
			CreatedBy: actorName(ctx),
		})
		if err != nil {
			log.Warn("initial payment failed", zap.Error(err))
			warnings = append(warnings, "initial payment was not recorded")
		} else {
			result.InitialPaymentID = payment.ID
			initial = append(initial, *payment)
		}
	}
	result.Balance = ledger.Balance(created.Total, initial)
	if len(initial) > 0 || created.Total.IsZero() {
		completion, err := s.ledger.TryAutoComplete(ctx, created.ID)
		if err != nil {
			log.Warn("auto-complete after sale creation failed", zap.Error(err))
		} else {
			result.Balance = completion.Balance
			if completion.Completed {
				result.Status = domain.SaleStatusCompleted
			}
		}
	}
	if len(warnings) > 0 {
		result.Warnings = warnings
	}

	log.Info("sale created",
		zap.String("total", created.Total.StringFixed(2)),
		zap.Bool("folio_fallback", alloc.Fallback),
		zap.Int("items", len(items)),
		zap.Int("warnings", len(warnings)),
	)
	s.logAudit(ctx, "sale_create", "sale", created.ID,
		fmt.Sprintf("folio=%s,total=%s,items=%d", created.Folio, created.Total.StringFixed(2), len(items)))
	return result, nil
}

// insertHeader inserts the header, re-allocating an automatic folio once when
// a concurrent writer took the same number between scan and insert.
func (s *Service) insertHeader(ctx context.Context, header domain.Sale, alloc folio.Allocation, manual string) (*domain.Sale, folio.Allocation, error) {
	header.Folio = alloc.Folio
	created, err := s.repo.CreateSale(ctx, header)
	if err == nil {
		return created, alloc, nil
	}
	if !errors.Is(err, store.ErrDuplicateFolio) || alloc.Manual {
		return nil, alloc, fmt.Errorf("insert sale header: %w", err)
	}

	s.logger.Warn("folio taken at insert, retrying allocation", zap.String("folio", alloc.Folio))
	alloc, err = s.allocator.Allocate(ctx, manual)
	if err != nil {
		return nil, alloc, err
	}
	header.Folio = alloc.Folio
	created, err = s.repo.CreateSale(ctx, header)
	if err != nil {
		return nil, alloc, fmt.Errorf("insert sale header: %w", err)
	}
	return created, alloc, nil
}

// compensate deletes a sale whose creation failed midway. The delete runs even
// when the request context is already cancelled; its own failure is logged
// and recorded on the returned error, never substituted for cause.
func (s *Service) compensate(ctx context.Context, sale *domain.Sale, step WriteStep, cause error) error {
	delErr := s.repo.DeleteSale(context.WithoutCancel(ctx), sale.ID)
	log := s.logger.With(
		zap.String("sale_id", sale.ID),
		zap.String("folio", sale.Folio),
		zap.String("step", string(step)),
		zap.NamedError("cause", cause),
	)
	if delErr != nil {
		log.Error("compensating delete failed", zap.Error(delErr))
	} else {
		log.Warn("sale creation rolled back")
	}
	return &PartialWriteError{
		Step:            step,
		SaleID:          sale.ID,
		Folio:           sale.Folio,
		Compensated:     delErr == nil,
		CompensationErr: delErr,
		Err:             cause,
	}
}

func (s *Service) GetSale(ctx context.Context, saleID string) (domain.Sale, error) {
	sale, err := s.repo.GetSale(ctx, saleID)
	if err != nil {
		return domain.Sale{}, fmt.Errorf("load sale %s: %w", saleID, err)
	}
	return *sale, nil
}

// CompleteSale marks a sale completed by hand. Only the status changes; the
// recorded totals are carried forward untouched.
func (s *Service) CompleteSale(ctx context.Context, saleID string) (domain.Sale, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Sale{}, err
	}
	current, err := s.repo.GetSale(ctx, saleID)
	if err != nil {
		return domain.Sale{}, fmt.Errorf("load sale %s: %w", saleID, err)
	}
	if current.Status == domain.SaleStatusCompleted {
		return *current, nil
	}

	updated, err := s.repo.UpdateSaleStatus(ctx, saleID, domain.SaleStatusCompleted, s.now())
	if err != nil {
		return domain.Sale{}, fmt.Errorf("complete sale %s: %w", saleID, err)
	}
	s.logAudit(ctx, "sale_complete", "sale", saleID,
		fmt.Sprintf("folio=%s,total=%s", updated.Folio, updated.Total.StringFixed(2)))
	return *updated, nil
}

// ReopenSale is the explicit correction moving a completed sale back to pending.
func (s *Service) ReopenSale(ctx context.Context, saleID string, reason string) (domain.Sale, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Sale{}, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return domain.Sale{}, apperror.NewValidationError("reason", "is required")
	}
	current, err := s.repo.GetSale(ctx, saleID)
	if err != nil {
		return domain.Sale{}, fmt.Errorf("load sale %s: %w", saleID, err)
	}
	if current.Status != domain.SaleStatusCompleted {
		return domain.Sale{}, fmt.Errorf("%w: sale %s is %s", ErrInvalidTransition, saleID, current.Status)
	}

	updated, err := s.repo.UpdateSaleStatus(ctx, saleID, domain.SaleStatusPending, s.now())
	if err != nil {
		return domain.Sale{}, fmt.Errorf("reopen sale %s: %w", saleID, err)
	}
	s.logAudit(ctx, "sale_reopen", "sale", saleID, fmt.Sprintf("folio=%s,reason=%s", updated.Folio, reason))
	return *updated, nil
}

func normalizeDraft(draft domain.SaleDraft) domain.SaleDraft {
	draft.ManualFolio = strings.TrimSpace(draft.ManualFolio)
	draft.Notes = strings.TrimSpace(draft.Notes)
	draft.TaxID = strings.ToUpper(strings.TrimSpace(draft.TaxID))
	draft.LegalName = strings.TrimSpace(draft.LegalName)
	draft.DiscountPercent = pricing.ClampPercent(draft.DiscountPercent)
	draft.VendorIDs = uniqueIDs(draft.VendorIDs)
	draft.CustomerIDs = uniqueIDs(draft.CustomerIDs)

	items := make([]domain.SaleItemDraft, 0, len(draft.Items))
	for _, item := range draft.Items {
		item.Type = strings.ToLower(strings.TrimSpace(item.Type))
		item.InventoryUnitID = strings.TrimSpace(item.InventoryUnitID)
		item.Description = strings.TrimSpace(item.Description)
		item.DiscountPercent = pricing.ClampPercent(item.DiscountPercent)
		items = append(items, item)
	}
	draft.Items = items
	return draft
}

func validateDraft(draft domain.SaleDraft) error {
	verr := &apperror.ValidationError{}
	if len(draft.Items) == 0 {
		verr.Add("items", "at least one item is required")
	}
	for i, item := range draft.Items {
		field := fmt.Sprintf("items[%d]", i)
		switch item.Type {
		case domain.ItemTypeFrame:
			if item.InventoryUnitID == "" {
				verr.Add(field+".inventory_unit_id", "is required for frames")
			}
		case domain.ItemTypeLens:
			if item.Description == "" {
				verr.Add(field+".description", "is required for lenses")
			}
		default:
			verr.Add(field+".type", "must be frame or lens")
		}
		if item.Quantity < 1 {
			verr.Add(field+".quantity", "must be at least 1")
		}
		if item.UnitPrice.IsNegative() {
			verr.Add(field+".unit_price", "must not be negative")
		}
	}
	if len(draft.VendorIDs) == 0 {
		verr.Add("vendor_ids", "at least one vendor is required")
	}
	if len(draft.CustomerIDs) == 0 {
		verr.Add("customer_ids", "at least one customer is required")
	}
	if draft.RequiresInvoice {
		if draft.TaxID == "" {
			verr.Add("tax_id", "is required when an invoice is requested")
		}
		if draft.LegalName == "" {
			verr.Add("legal_name", "is required when an invoice is requested")
		}
	}
	if p := draft.InitialPayment; p != nil {
		if !p.Amount.IsPositive() {
			verr.Add("initial_payment.amount", "must be greater than zero")
		}
		if !ledger.IsValidMethod(strings.ToLower(strings.TrimSpace(p.Method))) {
			verr.Add("initial_payment.method", "must be one of cash, debit, credit, transfer")
		}
	}
	return verr.OrNil()
}

// checkDirectory verifies every referenced vendor and customer before any write.
func (s *Service) checkDirectory(ctx context.Context, draft domain.SaleDraft) error {
	verr := &apperror.ValidationError{}
	for _, id := range draft.VendorIDs {
		exists, err := s.repo.EmployeeExists(ctx, id)
		if err != nil {
			return fmt.Errorf("check vendor %s: %w", id, err)
		}
		if !exists {
			verr.Add("vendor_ids", "unknown vendor "+id)
		}
	}
	for _, id := range draft.CustomerIDs {
		exists, err := s.repo.CustomerExists(ctx, id)
		if err != nil {
			return fmt.Errorf("check customer %s: %w", id, err)
		}
		if !exists {
			verr.Add("customer_ids", "unknown customer "+id)
		}
	}
	return verr.OrNil()
}

func toLine(item domain.SaleItemDraft) pricing.Line {
	return pricing.Line{
		Quantity:        item.Quantity,
		UnitPrice:       item.UnitPrice,
		DiscountAmount:  item.DiscountAmount,
		DiscountPercent: item.DiscountPercent,
	}
}

func uniqueIDs(ids []string) []string {
	result := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		result = append(result, id)
	}
	return result
}

func actorName(ctx context.Context) string {
	if actor, ok := ActorFromContext(ctx); ok {
		return actor.Username
	}
	return ""
}
