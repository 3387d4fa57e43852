package memory

import (
	"context"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"optica/backend/internal/domain"
	"optica/backend/internal/store"
	"optica/backend/internal/xid"
)

type Store struct {
	mu              sync.RWMutex
	salesByID       map[string]*domain.Sale
	saleIDByFolio   map[string]string
	itemsBySale     map[string][]domain.SaleItem
	vendorsBySale   map[string][]string
	customersBySale map[string][]string
	paymentsByID    map[string]domain.Payment
	folioConfig     *domain.FolioConfig
	stockByUnit     map[string]int
	customers       map[string]string
	employees       map[string]string
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_VENDOR_PASSWORD;
// dev defaults are used with a warning when unset.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	vendorPwd := envOr("SEED_VENDOR_PASSWORD", "vendor123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_VENDOR_PASSWORD") == "" {
		zap.L().Warn("memory store using default dev credentials",
			zap.Strings("override_env", []string{"SEED_ADMIN_PASSWORD", "SEED_VENDOR_PASSWORD"}))
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, domain.RoleAdmin},
		{"vendor", vendorPwd, domain.RoleVendor},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			zap.L().Fatal("hash seed password", zap.String("username", u.username), zap.Error(err))
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func New() *Store {
	return &Store{
		salesByID:       make(map[string]*domain.Sale),
		saleIDByFolio:   make(map[string]string),
		itemsBySale:     make(map[string][]domain.SaleItem),
		vendorsBySale:   make(map[string][]string),
		customersBySale: make(map[string][]string),
		paymentsByID:    make(map[string]domain.Payment),
		stockByUnit:     make(map[string]int),
		customers:       make(map[string]string),
		employees:       make(map[string]string),
		auditLogs:       make([]domain.AuditLog, 0, 128),
		usersByUsername: make(map[string]domain.UserAccount),
	}
}

// NewSeeded returns a store with demo customers, employees, frames and users.
func NewSeeded() *Store {
	s := New()
	for id, name := range map[string]string{
		"cus-001": "Mariana López",
		"cus-002": "Óptica Corporativa SA",
		"cus-003": "Jorge Ramírez",
	} {
		s.customers[id] = name
	}
	for id, name := range map[string]string{
		"emp-001": "Ana Torres",
		"emp-002": "Luis Méndez",
	} {
		s.employees[id] = name
	}
	for _, unit := range []struct {
		id  string
		qty int
	}{
		{"frm-rb-3025", 6},
		{"frm-oak-9208", 4},
		{"frm-vogue-5230", 2},
		{"frm-house-001", 12},
	} {
		s.stockByUnit[unit.id] = unit.qty
	}
	s.usersByUsername = seedUsers()
	return s
}

func (s *Store) AddCustomer(id string, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.customers[id] = name
}

func (s *Store) AddEmployee(id string, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.employees[id] = name
}

func (s *Store) SetStock(unitID string, qty int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stockByUnit[unitID] = qty
}

func (s *Store) StockLevel(unitID string) (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	qty, ok := s.stockByUnit[unitID]
	return qty, ok
}

func (s *Store) CreateSale(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.saleIDByFolio[sale.Folio]; exists {
		return nil, store.ErrDuplicateFolio
	}
	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	now := time.Now().UTC()
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = now
	}
	sale.UpdatedAt = now
	if sale.Status == "" {
		sale.Status = domain.SaleStatusPending
	}
	sale.Items, sale.VendorIDs, sale.CustomerIDs = nil, nil, nil

	stored := sale
	s.salesByID[sale.ID] = &stored
	s.saleIDByFolio[sale.Folio] = sale.ID
	created := sale
	return &created, nil
}

func (s *Store) CreateSaleItems(_ context.Context, saleID string, items []domain.SaleItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.salesByID[saleID]; !exists {
		return store.ErrNotFound
	}
	rows := make([]domain.SaleItem, 0, len(items))
	for i, item := range items {
		if item.ID == "" {
			item.ID = xid.New("item")
		}
		item.SaleID = saleID
		item.Position = i + 1
		rows = append(rows, item)
	}
	s.itemsBySale[saleID] = append(s.itemsBySale[saleID], rows...)
	return nil
}

func (s *Store) AddSaleVendors(_ context.Context, saleID string, vendorIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.salesByID[saleID]; !exists {
		return store.ErrNotFound
	}
	s.vendorsBySale[saleID] = appendUnique(s.vendorsBySale[saleID], vendorIDs)
	return nil
}

func (s *Store) AddSaleCustomers(_ context.Context, saleID string, customerIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.salesByID[saleID]; !exists {
		return store.ErrNotFound
	}
	s.customersBySale[saleID] = appendUnique(s.customersBySale[saleID], customerIDs)
	return nil
}

func (s *Store) ConfirmSale(_ context.Context, saleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, exists := s.salesByID[saleID]
	if !exists {
		return store.ErrNotFound
	}
	sale.Confirmed = true
	sale.UpdatedAt = time.Now().UTC()
	return nil
}

// DeleteSale removes the header with its items, payments and join rows.
func (s *Store) DeleteSale(_ context.Context, saleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, exists := s.salesByID[saleID]
	if !exists {
		return store.ErrNotFound
	}
	delete(s.saleIDByFolio, sale.Folio)
	delete(s.salesByID, saleID)
	delete(s.itemsBySale, saleID)
	delete(s.vendorsBySale, saleID)
	delete(s.customersBySale, saleID)
	for id, payment := range s.paymentsByID {
		if payment.SaleID == saleID {
			delete(s.paymentsByID, id)
		}
	}
	return nil
}

func (s *Store) GetSale(_ context.Context, saleID string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, exists := s.salesByID[saleID]
	if !exists {
		return nil, store.ErrNotFound
	}
	return s.loadSale(sale), nil
}

func (s *Store) ListSales(_ context.Context, filter domain.SaleFilter) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Sale, 0, len(s.salesByID))
	for _, sale := range s.salesByID {
		if filter.Status != "" && sale.Status != filter.Status {
			continue
		}
		if filter.ConfirmedOnly && !sale.Confirmed {
			continue
		}
		result = append(result, *s.loadSale(sale))
	}
	sortSales(result)
	return result, nil
}

func (s *Store) ListSalesByCustomer(_ context.Context, customerID string) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Sale, 0, 8)
	for saleID, customerIDs := range s.customersBySale {
		if !slices.Contains(customerIDs, customerID) {
			continue
		}
		if sale, exists := s.salesByID[saleID]; exists {
			result = append(result, *s.loadSale(sale))
		}
	}
	sortSales(result)
	return result, nil
}

func (s *Store) UpdateSaleStatus(_ context.Context, saleID string, status string, at time.Time) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, exists := s.salesByID[saleID]
	if !exists {
		return nil, store.ErrNotFound
	}
	sale.Status = status
	sale.UpdatedAt = at.UTC()
	return s.loadSale(sale), nil
}

func (s *Store) FolioExists(_ context.Context, folio string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, exists := s.saleIDByFolio[folio]
	return exists, nil
}

func (s *Store) ListFolioCandidates(_ context.Context, autoPrefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	folios := make([]string, 0, len(s.saleIDByFolio))
	for folio := range s.saleIDByFolio {
		if (autoPrefix != "" && strings.HasPrefix(folio, autoPrefix)) || isDigits(folio) {
			folios = append(folios, folio)
		}
	}
	slices.Sort(folios)
	return folios, nil
}

func (s *Store) GetFolioConfig(_ context.Context) (*domain.FolioConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.folioConfig == nil {
		cfg := domain.DefaultFolioConfig()
		s.folioConfig = &cfg
	}
	cfg := *s.folioConfig
	return &cfg, nil
}

func (s *Store) SaveFolioConfig(_ context.Context, cfg domain.FolioConfig) (*domain.FolioConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cfg.UpdatedAt.IsZero() {
		cfg.UpdatedAt = time.Now().UTC()
	}
	stored := cfg
	s.folioConfig = &stored
	saved := cfg
	return &saved, nil
}

func (s *Store) CreatePayment(_ context.Context, payment domain.Payment) (*domain.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.salesByID[payment.SaleID]; !exists {
		return nil, store.ErrNotFound
	}
	if payment.ID == "" {
		payment.ID = xid.New("pay")
	}
	if payment.Kind == "" {
		payment.Kind = domain.PaymentKindPayment
	}
	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = time.Now().UTC()
	}
	s.paymentsByID[payment.ID] = payment
	created := payment
	return &created, nil
}

func (s *Store) GetPayment(_ context.Context, paymentID string) (*domain.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	payment, exists := s.paymentsByID[paymentID]
	if !exists {
		return nil, store.ErrNotFound
	}
	return &payment, nil
}

func (s *Store) UpdatePayment(_ context.Context, payment domain.Payment) (*domain.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.paymentsByID[payment.ID]
	if !exists {
		return nil, store.ErrNotFound
	}
	current.Amount = payment.Amount
	current.Method = payment.Method
	current.Note = payment.Note
	s.paymentsByID[payment.ID] = current
	updated := current
	return &updated, nil
}

func (s *Store) DeletePayment(_ context.Context, paymentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.paymentsByID[paymentID]; !exists {
		return store.ErrNotFound
	}
	delete(s.paymentsByID, paymentID)
	return nil
}

func (s *Store) ListPaymentsBySale(_ context.Context, saleID string) ([]domain.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Payment, 0, 4)
	for _, payment := range s.paymentsByID {
		if payment.SaleID == saleID {
			result = append(result, payment)
		}
	}
	sortPayments(result)
	return result, nil
}

func (s *Store) ListPayments(_ context.Context, filter domain.PaymentFilter) ([]domain.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Payment, 0, len(s.paymentsByID))
	for _, payment := range s.paymentsByID {
		if filter.From != nil && payment.CreatedAt.Before(*filter.From) {
			continue
		}
		if filter.To != nil && payment.CreatedAt.After(*filter.To) {
			continue
		}
		result = append(result, payment)
	}
	sortPayments(result)
	return result, nil
}

// DecrementStock lowers a unit's stock by qty, floored at zero, and returns the new level.
func (s *Store) DecrementStock(_ context.Context, unitID string, qty int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.stockByUnit[unitID]
	if !exists {
		return 0, store.ErrNotFound
	}
	next := max(current-qty, 0)
	s.stockByUnit[unitID] = next
	return next, nil
}

func (s *Store) CustomerExists(_ context.Context, customerID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, exists := s.customers[customerID]
	return exists, nil
}

func (s *Store) EmployeeExists(_ context.Context, employeeID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, exists := s.employees[employeeID]
	return exists, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 64)
	for _, entry := range s.auditLogs {
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}

	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return strings.Compare(b.ID, a.ID)
		}
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidUser
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrInvalidUser
	}
	user.Username = username
	if user.Role == "" {
		user.Role = domain.RoleVendor
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidUser
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

// loadSale copies the header and attaches its child rows. Callers hold s.mu.
func (s *Store) loadSale(src *domain.Sale) *domain.Sale {
	sale := *src
	sale.Items = slices.Clone(s.itemsBySale[src.ID])
	sale.VendorIDs = slices.Clone(s.vendorsBySale[src.ID])
	sale.CustomerIDs = slices.Clone(s.customersBySale[src.ID])
	return &sale
}

func appendUnique(dst []string, ids []string) []string {
	for _, id := range ids {
		if !slices.Contains(dst, id) {
			dst = append(dst, id)
		}
	}
	return dst
}

func sortSales(sales []domain.Sale) {
	slices.SortFunc(sales, func(a, b domain.Sale) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return strings.Compare(a.ID, b.ID)
		}
		return a.CreatedAt.Compare(b.CreatedAt)
	})
}

func sortPayments(payments []domain.Payment) {
	slices.SortFunc(payments, func(a, b domain.Payment) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return strings.Compare(a.ID, b.ID)
		}
		return a.CreatedAt.Compare(b.CreatedAt)
	})
}

func isDigits(val string) bool {
	if val == "" {
		return false
	}
	for _, r := range val {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
