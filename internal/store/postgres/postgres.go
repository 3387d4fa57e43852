package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	_ "embed"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"optica/backend/internal/domain"
	"optica/backend/internal/store"
	"optica/backend/internal/xid"
)

//go:embed schema.sql
var schemaSQL string

const saleColumns = `
	id, folio, subtotal, discount_amount, discount_percent, requires_invoice,
	tax_amount, total, tax_id, legal_name, status, confirmed, sale_date, notes,
	created_at, updated_at`

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, classify(err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate applies the embedded schema. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, stmt := range strings.Split(schemaSQL, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", classify(err))
		}
	}
	return tx.Commit()
}

func (s *Store) CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	now := time.Now().UTC()
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = now
	}
	if sale.SaleDate.IsZero() {
		sale.SaleDate = sale.CreatedAt
	}
	sale.UpdatedAt = now
	if sale.Status == "" {
		sale.Status = domain.SaleStatusPending
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sales (`+saleColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
	`, sale.ID, sale.Folio, sale.Subtotal, sale.DiscountAmount, sale.DiscountPercent, sale.RequiresInvoice,
		sale.TaxAmount, sale.Total, nullIfEmpty(sale.TaxID), nullIfEmpty(sale.LegalName), sale.Status, sale.Confirmed,
		sale.SaleDate, nullIfEmpty(sale.Notes), sale.CreatedAt, sale.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicateFolio
		}
		return nil, classify(err)
	}

	sale.Items, sale.VendorIDs, sale.CustomerIDs = nil, nil, nil
	return &sale, nil
}

func (s *Store) CreateSaleItems(ctx context.Context, saleID string, items []domain.SaleItem) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for i, item := range items {
		if item.ID == "" {
			item.ID = xid.New("item")
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sale_items (
				id, sale_id, position, item_type, inventory_unit_id, description,
				quantity, unit_price, discount_amount, discount_percent, subtotal
			)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		`, item.ID, saleID, i+1, item.Type, nullIfEmpty(item.InventoryUnitID), nullIfEmpty(item.Description),
			item.Quantity, item.UnitPrice, item.DiscountAmount, item.DiscountPercent, item.Subtotal)
		if err != nil {
			if isForeignKeyViolation(err) {
				return store.ErrNotFound
			}
			return classify(err)
		}
	}
	return classify(tx.Commit())
}

func (s *Store) AddSaleVendors(ctx context.Context, saleID string, vendorIDs []string) error {
	return s.insertLinks(ctx, `
		INSERT INTO sale_vendors (sale_id, employee_id) VALUES ($1,$2)
		ON CONFLICT DO NOTHING
	`, saleID, vendorIDs)
}

func (s *Store) AddSaleCustomers(ctx context.Context, saleID string, customerIDs []string) error {
	return s.insertLinks(ctx, `
		INSERT INTO sale_customers (sale_id, customer_id) VALUES ($1,$2)
		ON CONFLICT DO NOTHING
	`, saleID, customerIDs)
}

func (s *Store) insertLinks(ctx context.Context, query string, saleID string, ids []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, query, saleID, id); err != nil {
			if isForeignKeyViolation(err) {
				return store.ErrNotFound
			}
			return classify(err)
		}
	}
	return classify(tx.Commit())
}

func (s *Store) ConfirmSale(ctx context.Context, saleID string) error {
	return s.execAffecting(ctx, `
		UPDATE sales SET confirmed = true, updated_at = now() WHERE id = $1
	`, saleID)
}

func (s *Store) DeleteSale(ctx context.Context, saleID string) error {
	return s.execAffecting(ctx, `DELETE FROM sales WHERE id = $1`, saleID)
}

func (s *Store) GetSale(ctx context.Context, saleID string) (*domain.Sale, error) {
	sale, err := scanSale(s.db.QueryRowContext(ctx, `SELECT `+saleColumns+` FROM sales WHERE id = $1`, saleID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, classify(err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sale_id, position, item_type, inventory_unit_id, description,
			quantity, unit_price, discount_amount, discount_percent, subtotal
		FROM sale_items
		WHERE sale_id = $1
		ORDER BY position ASC
	`, saleID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	for rows.Next() {
		var item domain.SaleItem
		var unitID, description sql.NullString
		if err := rows.Scan(&item.ID, &item.SaleID, &item.Position, &item.Type, &unitID, &description,
			&item.Quantity, &item.UnitPrice, &item.DiscountAmount, &item.DiscountPercent, &item.Subtotal); err != nil {
			return nil, err
		}
		item.InventoryUnitID = unitID.String
		item.Description = description.String
		sale.Items = append(sale.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}

	if sale.VendorIDs, err = s.listIDs(ctx, `SELECT employee_id FROM sale_vendors WHERE sale_id = $1 ORDER BY employee_id`, saleID); err != nil {
		return nil, err
	}
	if sale.CustomerIDs, err = s.listIDs(ctx, `SELECT customer_id FROM sale_customers WHERE sale_id = $1 ORDER BY customer_id`, saleID); err != nil {
		return nil, err
	}
	return sale, nil
}

// ListSales returns headers only.
func (s *Store) ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, error) {
	where := make([]string, 0, 2)
	args := make([]any, 0, 1)
	if filter.Status != "" {
		args = append(args, filter.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.ConfirmedOnly {
		where = append(where, "confirmed = true")
	}
	query := `SELECT ` + saleColumns + ` FROM sales`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at ASC, id ASC"
	return s.querySales(ctx, query, args...)
}

// ListSalesByCustomer returns headers only.
func (s *Store) ListSalesByCustomer(ctx context.Context, customerID string) ([]domain.Sale, error) {
	return s.querySales(ctx, `
		SELECT `+saleColumns+`
		FROM sales
		WHERE id IN (SELECT sale_id FROM sale_customers WHERE customer_id = $1)
		ORDER BY created_at ASC, id ASC
	`, customerID)
}

func (s *Store) querySales(ctx context.Context, query string, args ...any) ([]domain.Sale, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, 64)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		sales = append(sales, *sale)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return sales, nil
}

func (s *Store) UpdateSaleStatus(ctx context.Context, saleID string, status string, at time.Time) (*domain.Sale, error) {
	if err := s.execAffecting(ctx, `
		UPDATE sales SET status = $2, updated_at = $3 WHERE id = $1
	`, saleID, status, at.UTC()); err != nil {
		return nil, err
	}
	return s.GetSale(ctx, saleID)
}

func (s *Store) FolioExists(ctx context.Context, folio string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM sales WHERE folio = $1)`, folio).Scan(&exists)
	if err != nil {
		return false, classify(err)
	}
	return exists, nil
}

func (s *Store) ListFolioCandidates(ctx context.Context, autoPrefix string) ([]string, error) {
	return s.listIDs(ctx, `
		SELECT folio
		FROM sales
		WHERE ($1 <> '' AND starts_with(folio, $1)) OR folio ~ '^[0-9]+$'
		ORDER BY folio
	`, autoPrefix)
}

func (s *Store) GetFolioConfig(ctx context.Context) (*domain.FolioConfig, error) {
	def := domain.DefaultFolioConfig()
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO folio_config (id, prefix, starting_number, updated_at)
		VALUES (1, $1, $2, now())
		ON CONFLICT (id) DO NOTHING
	`, def.Prefix, def.StartingNumber); err != nil {
		return nil, classify(err)
	}

	var cfg domain.FolioConfig
	err := s.db.QueryRowContext(ctx, `
		SELECT prefix, starting_number, updated_at FROM folio_config WHERE id = 1
	`).Scan(&cfg.Prefix, &cfg.StartingNumber, &cfg.UpdatedAt)
	if err != nil {
		return nil, classify(err)
	}
	cfg.UpdatedAt = cfg.UpdatedAt.UTC()
	return &cfg, nil
}

func (s *Store) SaveFolioConfig(ctx context.Context, cfg domain.FolioConfig) (*domain.FolioConfig, error) {
	if cfg.UpdatedAt.IsZero() {
		cfg.UpdatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO folio_config (id, prefix, starting_number, updated_at)
		VALUES (1, $1, $2, $3)
		ON CONFLICT (id)
		DO UPDATE SET prefix = EXCLUDED.prefix, starting_number = EXCLUDED.starting_number, updated_at = EXCLUDED.updated_at
	`, cfg.Prefix, cfg.StartingNumber, cfg.UpdatedAt)
	if err != nil {
		return nil, classify(err)
	}
	return &cfg, nil
}

func (s *Store) CreatePayment(ctx context.Context, payment domain.Payment) (*domain.Payment, error) {
	if payment.ID == "" {
		payment.ID = xid.New("pay")
	}
	if payment.Kind == "" {
		payment.Kind = domain.PaymentKindPayment
	}
	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payments (id, sale_id, amount, method, kind, note, source_customer_id, created_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, payment.ID, payment.SaleID, payment.Amount, payment.Method, payment.Kind,
		nullIfEmpty(payment.Note), nullIfEmpty(payment.SourceCustomerID), nullIfEmpty(payment.CreatedBy), payment.CreatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, store.ErrNotFound
		}
		return nil, classify(err)
	}
	return &payment, nil
}

func (s *Store) GetPayment(ctx context.Context, paymentID string) (*domain.Payment, error) {
	payments, err := s.queryPayments(ctx, `WHERE id = $1`, paymentID)
	if err != nil {
		return nil, err
	}
	if len(payments) == 0 {
		return nil, store.ErrNotFound
	}
	return &payments[0], nil
}

func (s *Store) UpdatePayment(ctx context.Context, payment domain.Payment) (*domain.Payment, error) {
	if err := s.execAffecting(ctx, `
		UPDATE payments SET amount = $2, method = $3, note = $4 WHERE id = $1
	`, payment.ID, payment.Amount, payment.Method, nullIfEmpty(payment.Note)); err != nil {
		return nil, err
	}
	return s.GetPayment(ctx, payment.ID)
}

func (s *Store) DeletePayment(ctx context.Context, paymentID string) error {
	return s.execAffecting(ctx, `DELETE FROM payments WHERE id = $1`, paymentID)
}

func (s *Store) ListPaymentsBySale(ctx context.Context, saleID string) ([]domain.Payment, error) {
	return s.queryPayments(ctx, `WHERE sale_id = $1`, saleID)
}

func (s *Store) ListPayments(ctx context.Context, filter domain.PaymentFilter) ([]domain.Payment, error) {
	return s.queryPayments(ctx, `WHERE ($1::timestamptz IS NULL OR created_at >= $1) AND ($2::timestamptz IS NULL OR created_at <= $2)`,
		nullTime(filter.From), nullTime(filter.To))
}

func (s *Store) queryPayments(ctx context.Context, where string, args ...any) ([]domain.Payment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sale_id, amount, method, kind, note, source_customer_id, created_by, created_at
		FROM payments
		`+where+`
		ORDER BY created_at ASC, id ASC
	`, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	payments := make([]domain.Payment, 0, 16)
	for rows.Next() {
		var p domain.Payment
		var note, source, createdBy sql.NullString
		if err := rows.Scan(&p.ID, &p.SaleID, &p.Amount, &p.Method, &p.Kind, &note, &source, &createdBy, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.Note = note.String
		p.SourceCustomerID = source.String
		p.CreatedBy = createdBy.String
		p.CreatedAt = p.CreatedAt.UTC()
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return payments, nil
}

// DecrementStock lowers stock by qty, floored at zero, and returns the new level.
func (s *Store) DecrementStock(ctx context.Context, unitID string, qty int) (int, error) {
	var remaining int
	err := s.db.QueryRowContext(ctx, `
		UPDATE inventory_units
		SET stock = GREATEST(stock - $2, 0), updated_at = now()
		WHERE id = $1
		RETURNING stock
	`, unitID, qty).Scan(&remaining)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, store.ErrNotFound
		}
		return 0, classify(err)
	}
	return remaining, nil
}

func (s *Store) CustomerExists(ctx context.Context, customerID string) (bool, error) {
	return s.exists(ctx, `SELECT EXISTS (SELECT 1 FROM customers WHERE id = $1)`, customerID)
}

func (s *Store) EmployeeExists(ctx context.Context, employeeID string) (bool, error) {
	return s.exists(ctx, `SELECT EXISTS (SELECT 1 FROM employees WHERE id = $1 AND active = true)`, employeeID)
}

func (s *Store) exists(ctx context.Context, query string, id string) (bool, error) {
	var exists bool
	if err := s.db.QueryRowContext(ctx, query, id).Scan(&exists); err != nil {
		return false, classify(err)
	}
	return exists, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (
			id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return classify(err)
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE created_at >= $1
			AND created_at < $2
		ORDER BY created_at DESC
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidUser
	}
	if user.Role == "" {
		user.Role = domain.RoleVendor
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrInvalidUser
		}
		return classify(err)
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidUser
	}
	return s.execAffecting(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
}

func (s *Store) execAffecting(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return classify(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) listIDs(ctx context.Context, query string, arg string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	ids := make([]string, 0, 4)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return ids, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSale(row rowScanner) (*domain.Sale, error) {
	var sale domain.Sale
	var taxID, legalName, notes sql.NullString
	if err := row.Scan(&sale.ID, &sale.Folio, &sale.Subtotal, &sale.DiscountAmount, &sale.DiscountPercent, &sale.RequiresInvoice,
		&sale.TaxAmount, &sale.Total, &taxID, &legalName, &sale.Status, &sale.Confirmed, &sale.SaleDate, &notes,
		&sale.CreatedAt, &sale.UpdatedAt); err != nil {
		return nil, err
	}
	sale.TaxID = taxID.String
	sale.LegalName = legalName.String
	sale.Notes = notes.String
	sale.CreatedAt = sale.CreatedAt.UTC()
	sale.UpdatedAt = sale.UpdatedAt.UTC()
	return &sale, nil
}

// classify marks connectivity failures with store.ErrUnavailable.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var connErr *pgconn.ConnectError
	var netErr net.Error
	if errors.As(err, &connErr) || errors.Is(err, driver.ErrBadConn) || errors.As(err, &netErr) || pgconn.Timeout(err) {
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return val.UTC()
}
