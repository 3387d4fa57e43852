package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"optica/backend/internal/domain"
	"optica/backend/internal/store"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	databaseURL := os.Getenv("OPTICA_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set OPTICA_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

func TestSaleLifecycleAndCascadeDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	stamp := time.Now().UnixNano()
	saleID := fmt.Sprintf("sale-it-%d", stamp)
	folio := fmt.Sprintf("IT%d", stamp)
	unitID := fmt.Sprintf("frm-it-%d", stamp)
	customerID := fmt.Sprintf("cus-it-%d", stamp)

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sales WHERE id = $1`, saleID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM inventory_units WHERE id = $1`, unitID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM customers WHERE id = $1`, customerID)
	})

	if _, err := s.db.ExecContext(ctx, `INSERT INTO inventory_units (id, label, stock) VALUES ($1, 'IT frame', 1)`, unitID); err != nil {
		t.Fatalf("seed unit: %v", err)
	}
	if _, err := s.db.ExecContext(ctx, `INSERT INTO customers (id, name) VALUES ($1, 'IT customer')`, customerID); err != nil {
		t.Fatalf("seed customer: %v", err)
	}

	total := decimal.RequireFromString("1500.00")
	if _, err := s.CreateSale(ctx, domain.Sale{ID: saleID, Folio: folio, Subtotal: total, Total: total}); err != nil {
		t.Fatalf("create sale: %v", err)
	}
	if _, err := s.CreateSale(ctx, domain.Sale{Folio: folio}); !errors.Is(err, store.ErrDuplicateFolio) {
		t.Fatalf("expected duplicate folio, got %v", err)
	}

	items := []domain.SaleItem{{
		Type: domain.ItemTypeFrame, InventoryUnitID: unitID, Quantity: 2,
		UnitPrice: decimal.RequireFromString("750"), Subtotal: total,
	}}
	if err := s.CreateSaleItems(ctx, saleID, items); err != nil {
		t.Fatalf("create items: %v", err)
	}
	if err := s.AddSaleCustomers(ctx, saleID, []string{customerID}); err != nil {
		t.Fatalf("add customers: %v", err)
	}

	remaining, err := s.DecrementStock(ctx, unitID, 2)
	if err != nil {
		t.Fatalf("decrement stock: %v", err)
	}
	if remaining != 0 {
		t.Fatalf("expected stock floored at 0, got %d", remaining)
	}

	if _, err := s.CreatePayment(ctx, domain.Payment{SaleID: saleID, Amount: decimal.RequireFromString("500"), Method: domain.PaymentMethodCash}); err != nil {
		t.Fatalf("create payment: %v", err)
	}
	surplus, err := s.CreatePayment(ctx, domain.Payment{
		SaleID:           saleID,
		Amount:           decimal.RequireFromString("20"),
		Method:           domain.PaymentMethodTransfer,
		Kind:             domain.PaymentKindSurplus,
		SourceCustomerID: customerID,
		CreatedBy:        "admin",
	})
	if err != nil {
		t.Fatalf("create surplus payment: %v", err)
	}
	stored, err := s.GetPayment(ctx, surplus.ID)
	if err != nil {
		t.Fatalf("get surplus payment: %v", err)
	}
	if stored.SourceCustomerID != customerID || stored.CreatedBy != "admin" || stored.Kind != domain.PaymentKindSurplus {
		t.Fatalf("unexpected surplus payment: %+v", stored)
	}

	sale, err := s.GetSale(ctx, saleID)
	if err != nil {
		t.Fatalf("get sale: %v", err)
	}
	if len(sale.Items) != 1 || len(sale.CustomerIDs) != 1 || !sale.Total.Equal(total) {
		t.Fatalf("unexpected sale: %+v", sale)
	}

	byCustomer, err := s.ListSalesByCustomer(ctx, customerID)
	if err != nil {
		t.Fatalf("list by customer: %v", err)
	}
	if len(byCustomer) != 1 || byCustomer[0].Folio != folio {
		t.Fatalf("unexpected customer sales: %+v", byCustomer)
	}

	if err := s.DeleteSale(ctx, saleID); err != nil {
		t.Fatalf("delete sale: %v", err)
	}
	payments, err := s.ListPaymentsBySale(ctx, saleID)
	if err != nil {
		t.Fatalf("list payments: %v", err)
	}
	if len(payments) != 0 {
		t.Fatalf("expected payments to cascade, got %d", len(payments))
	}
	if _, err := s.GetSale(ctx, saleID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
}

func TestFolioConfigDefaultsAndSave(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	cfg, err := s.GetFolioConfig(ctx)
	if err != nil {
		t.Fatalf("get folio config: %v", err)
	}
	original := *cfg
	t.Cleanup(func() {
		_, _ = s.SaveFolioConfig(ctx, original)
	})

	saved, err := s.SaveFolioConfig(ctx, domain.FolioConfig{Prefix: "ITX", StartingNumber: 42})
	if err != nil {
		t.Fatalf("save folio config: %v", err)
	}
	got, err := s.GetFolioConfig(ctx)
	if err != nil {
		t.Fatalf("reload folio config: %v", err)
	}
	if got.Prefix != saved.Prefix || got.StartingNumber != 42 {
		t.Fatalf("unexpected config %+v", got)
	}
}

func TestDecrementStockUnknownUnit(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.DecrementStock(context.Background(), "frm-missing-it", 1); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
