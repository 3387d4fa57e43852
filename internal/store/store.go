package store

import (
	"context"
	"errors"
	"time"

	"optica/backend/internal/domain"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrDuplicateFolio = errors.New("folio already exists")
	ErrUnavailable    = errors.New("store unavailable")
	ErrInvalidUser    = errors.New("invalid user account")
)

type SaleStore interface {
	CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
	CreateSaleItems(ctx context.Context, saleID string, items []domain.SaleItem) error
	AddSaleVendors(ctx context.Context, saleID string, vendorIDs []string) error
	AddSaleCustomers(ctx context.Context, saleID string, customerIDs []string) error
	ConfirmSale(ctx context.Context, saleID string) error
	DeleteSale(ctx context.Context, saleID string) error
	GetSale(ctx context.Context, saleID string) (*domain.Sale, error)
	// ListSales and ListSalesByCustomer may leave Items, VendorIDs and CustomerIDs empty.
	ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, error)
	ListSalesByCustomer(ctx context.Context, customerID string) ([]domain.Sale, error)
	// UpdateSaleStatus writes the status column only; financial fields are left untouched.
	UpdateSaleStatus(ctx context.Context, saleID string, status string, at time.Time) (*domain.Sale, error)
}

type FolioStore interface {
	FolioExists(ctx context.Context, folio string) (bool, error)
	// ListFolioCandidates returns folios starting with autoPrefix plus every purely numeric folio.
	ListFolioCandidates(ctx context.Context, autoPrefix string) ([]string, error)
	GetFolioConfig(ctx context.Context) (*domain.FolioConfig, error)
	SaveFolioConfig(ctx context.Context, cfg domain.FolioConfig) (*domain.FolioConfig, error)
}

type PaymentStore interface {
	CreatePayment(ctx context.Context, payment domain.Payment) (*domain.Payment, error)
	GetPayment(ctx context.Context, paymentID string) (*domain.Payment, error)
	UpdatePayment(ctx context.Context, payment domain.Payment) (*domain.Payment, error)
	DeletePayment(ctx context.Context, paymentID string) error
	ListPaymentsBySale(ctx context.Context, saleID string) ([]domain.Payment, error)
	ListPayments(ctx context.Context, filter domain.PaymentFilter) ([]domain.Payment, error)
}

// InventoryStore is the inventory collaborator; the engine does not own its schema.
type InventoryStore interface {
	DecrementStock(ctx context.Context, unitID string, qty int) (int, error)
}

type DirectoryStore interface {
	CustomerExists(ctx context.Context, customerID string) (bool, error)
	EmployeeExists(ctx context.Context, employeeID string) (bool, error)
}

type AuditStore interface {
	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)
}

type UserStore interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

type Repository interface {
	SaleStore
	FolioStore
	PaymentStore
	InventoryStore
	DirectoryStore
	AuditStore
	UserStore
}
