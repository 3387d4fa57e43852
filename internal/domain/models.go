package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	SaleStatusPending   = "pending"
	SaleStatusCompleted = "completed"
)

const (
	ItemTypeFrame = "frame"
	ItemTypeLens  = "lens"
)

const (
	PaymentMethodCash     = "cash"
	PaymentMethodDebit    = "debit"
	PaymentMethodCredit   = "credit"
	PaymentMethodTransfer = "transfer"
)

const (
	PaymentKindPayment = "payment"
	PaymentKindSurplus = "surplus"
)

const (
	RoleAdmin  = "admin"
	RoleVendor = "vendor"
)

const (
	DefaultFolioPrefix         = "V"
	DefaultFolioStartingNumber = 1
)

type Sale struct {
	ID              string          `json:"id"`
	Folio           string          `json:"folio"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	DiscountAmount  decimal.Decimal `json:"discount_amount"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
	RequiresInvoice bool            `json:"requires_invoice"`
	TaxAmount       decimal.Decimal `json:"tax_amount"`
	Total           decimal.Decimal `json:"total"`
	TaxID           string          `json:"tax_id,omitempty"`
	LegalName       string          `json:"legal_name,omitempty"`
	Status          string          `json:"status"`
	Confirmed       bool            `json:"confirmed"`
	SaleDate        time.Time       `json:"sale_date"`
	Notes           string          `json:"notes,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	Items           []SaleItem      `json:"items,omitempty"`
	VendorIDs       []string        `json:"vendor_ids,omitempty"`
	CustomerIDs     []string        `json:"customer_ids,omitempty"`
}

// SaleItem is a frame line (inventory backed) or a lens line (free text).
type SaleItem struct {
	ID              string          `json:"id"`
	SaleID          string          `json:"sale_id"`
	Position        int             `json:"position"`
	Type            string          `json:"type"`
	InventoryUnitID string          `json:"inventory_unit_id,omitempty"`
	Description     string          `json:"description,omitempty"`
	Quantity        int             `json:"quantity"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	DiscountAmount  decimal.Decimal `json:"discount_amount"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
	Subtotal        decimal.Decimal `json:"subtotal"`
}

type Payment struct {
	ID     string          `json:"id"`
	SaleID string          `json:"sale_id"`
	Amount decimal.Decimal `json:"amount"`
	Method string          `json:"method"`
	Kind   string          `json:"kind"`
	Note   string          `json:"note,omitempty"`
	// SourceCustomerID is set on surplus payments to the customer whose
	// overpayment funds them.
	SourceCustomerID string    `json:"source_customer_id,omitempty"`
	CreatedBy        string    `json:"created_by,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

type FolioConfig struct {
	Prefix         string    `json:"prefix"`
	StartingNumber int64     `json:"starting_number"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func DefaultFolioConfig() FolioConfig {
	return FolioConfig{
		Prefix:         DefaultFolioPrefix,
		StartingNumber: DefaultFolioStartingNumber,
		UpdatedAt:      time.Now().UTC(),
	}
}

type FolioConfigUpdate struct {
	Prefix         *string `json:"prefix,omitempty"`
	StartingNumber *int64  `json:"starting_number,omitempty"`
}

type SaleItemDraft struct {
	Type            string          `json:"type"`
	InventoryUnitID string          `json:"inventory_unit_id,omitempty"`
	Description     string          `json:"description,omitempty"`
	Quantity        int             `json:"quantity"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	DiscountAmount  decimal.Decimal `json:"discount_amount"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
}

type InitialPaymentDraft struct {
	Amount decimal.Decimal `json:"amount"`
	Method string          `json:"method"`
	Note   string          `json:"note,omitempty"`
}

type SaleDraft struct {
	ManualFolio     string               `json:"manual_folio,omitempty"`
	SaleDate        *time.Time           `json:"sale_date,omitempty"`
	Notes           string               `json:"notes,omitempty"`
	DiscountAmount  decimal.Decimal      `json:"discount_amount"`
	DiscountPercent decimal.Decimal      `json:"discount_percent"`
	RequiresInvoice bool                 `json:"requires_invoice"`
	TaxID           string               `json:"tax_id,omitempty"`
	LegalName       string               `json:"legal_name,omitempty"`
	Items           []SaleItemDraft      `json:"items"`
	VendorIDs       []string             `json:"vendor_ids"`
	CustomerIDs     []string             `json:"customer_ids"`
	InitialPayment  *InitialPaymentDraft `json:"initial_payment,omitempty"`
}

type CreateSaleResult struct {
	SaleID           string          `json:"sale_id"`
	Folio            string          `json:"folio"`
	FolioFallback    bool            `json:"folio_fallback"`
	Status           string          `json:"status"`
	Subtotal         decimal.Decimal `json:"subtotal"`
	DiscountAmount   decimal.Decimal `json:"discount_amount"`
	TaxAmount        decimal.Decimal `json:"tax_amount"`
	Total            decimal.Decimal `json:"total"`
	InitialPaymentID string          `json:"initial_payment_id,omitempty"`
	Balance          decimal.Decimal `json:"balance"`
	Warnings         []string        `json:"warnings,omitempty"`
}

type PaymentInput struct {
	SaleID    string          `json:"sale_id"`
	Amount    decimal.Decimal `json:"amount"`
	Method    string          `json:"method"`
	Note      string          `json:"note,omitempty"`
	CreatedBy string          `json:"-"`
}

type PaymentUpdate struct {
	Amount *decimal.Decimal `json:"amount,omitempty"`
	Method *string          `json:"method,omitempty"`
	Note   *string          `json:"note,omitempty"`
}

type AutoCompleteResult struct {
	Completed bool            `json:"completed"`
	Balance   decimal.Decimal `json:"balance"`
}

type PaymentResponse struct {
	Payment      Payment            `json:"payment"`
	AutoComplete AutoCompleteResult `json:"auto_complete"`
	Warnings     []string           `json:"warnings,omitempty"`
}

type SurplusContribution struct {
	SaleID  string          `json:"sale_id"`
	Folio   string          `json:"folio"`
	Total   decimal.Decimal `json:"total"`
	Paid    decimal.Decimal `json:"paid"`
	Surplus decimal.Decimal `json:"surplus"`
}

type Surplus struct {
	CustomerID    string                `json:"customer_id"`
	Gross         decimal.Decimal       `json:"gross"`
	Applied       decimal.Decimal       `json:"applied"`
	Available     decimal.Decimal       `json:"available"`
	Contributions []SurplusContribution `json:"contributing_sales"`
}

type ApplySurplusRequest struct {
	TargetSaleID string          `json:"target_sale_id"`
	MaxAmount    decimal.Decimal `json:"max_amount"`
}

type ApplySurplusResult struct {
	Applied      decimal.Decimal    `json:"applied"`
	Payment      *Payment           `json:"payment,omitempty"`
	AutoComplete AutoCompleteResult `json:"auto_complete"`
}

type DebtRange struct {
	From *time.Time
	To   *time.Time
}

type DebtStats struct {
	TotalPayments       decimal.Decimal `json:"total_payments"`
	PaymentCount        int             `json:"payment_count"`
	TotalOutstanding    decimal.Decimal `json:"total_outstanding"`
	OutstandingCount    int             `json:"outstanding_count"`
	RecoveredPercentage decimal.Decimal `json:"recovered_percentage"`
}

type SaleFilter struct {
	Status        string
	ConfirmedOnly bool
}

type PaymentFilter struct {
	From *time.Time
	To   *time.Time
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

type ReopenSaleRequest struct {
	Reason     string `json:"reason"`
	ManagerPIN string `json:"manager_pin"`
}
