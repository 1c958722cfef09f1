package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"otodeal/backend/internal/domain"
	"otodeal/backend/internal/store"
	"otodeal/backend/internal/xid"
)

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
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

const vehicleColumns = "id, brand, model, year, color, price_cents, status, created_at, updated_at"

func (s *Store) CreateVehicle(ctx context.Context, vehicle domain.Vehicle) (*domain.Vehicle, error) {
	if vehicle.Brand == "" || vehicle.Model == "" || vehicle.PriceCents < 0 {
		return nil, store.ErrValidation
	}

	if vehicle.ID == "" {
		vehicle.ID = xid.New("veh")
	}
	if vehicle.Status == "" {
		vehicle.Status = domain.VehicleStatusAvailable
	}
	now := time.Now().UTC()
	if vehicle.CreatedAt.IsZero() {
		vehicle.CreatedAt = now
	}
	vehicle.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO vehicles (id, brand, model, year, color, price_cents, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, vehicle.ID, vehicle.Brand, vehicle.Model, vehicle.Year, vehicle.Color,
		vehicle.PriceCents, vehicle.Status, vehicle.CreatedAt, vehicle.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}

	created := vehicle
	return &created, nil
}

func (s *Store) GetVehicle(ctx context.Context, id string) (*domain.Vehicle, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+vehicleColumns+`
		FROM vehicles
		WHERE id = $1
	`, id)
	return scanVehicle(row)
}

func (s *Store) ListVehicles(ctx context.Context, status string) ([]domain.Vehicle, error) {
	query := `
		SELECT ` + vehicleColumns + `
		FROM vehicles
	`
	args := []any{}
	if status != "" {
		query += " WHERE status = $1"
		args = append(args, status)
	}
	query += " ORDER BY created_at DESC, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	vehicles := make([]domain.Vehicle, 0, 32)
	for rows.Next() {
		var v domain.Vehicle
		if err := rows.Scan(&v.ID, &v.Brand, &v.Model, &v.Year, &v.Color,
			&v.PriceCents, &v.Status, &v.CreatedAt, &v.UpdatedAt); err != nil {
			return nil, err
		}
		vehicles = append(vehicles, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return vehicles, nil
}

func (s *Store) UpdateVehicle(ctx context.Context, vehicle domain.Vehicle) (*domain.Vehicle, error) {
	if vehicle.ID == "" || vehicle.Brand == "" || vehicle.Model == "" || vehicle.PriceCents < 0 {
		return nil, store.ErrValidation
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE vehicles
		SET brand = $2, model = $3, year = $4, color = $5, price_cents = $6, updated_at = now()
		WHERE id = $1
	`, vehicle.ID, vehicle.Brand, vehicle.Model, vehicle.Year, vehicle.Color, vehicle.PriceCents)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}

	return s.GetVehicle(ctx, vehicle.ID)
}

// UpdateVehicleStatus is the compare-and-swap behind every interactive
// status change. Concurrent writers race on the single conditional
// UPDATE; whoever loses gets zero rows and ErrConflict.
func (s *Store) UpdateVehicleStatus(ctx context.Context, id string, allowedFrom []string, to string) (*domain.Vehicle, error) {
	if !domain.IsVehicleStatus(to) || len(allowedFrom) == 0 {
		return nil, store.ErrValidation
	}

	placeholders := make([]string, 0, len(allowedFrom))
	args := []any{id, to}
	for _, from := range allowedFrom {
		args = append(args, from)
		placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
	}

	row := s.db.QueryRowContext(ctx, `
		UPDATE vehicles
		SET status = $2, updated_at = now()
		WHERE id = $1 AND status IN (`+strings.Join(placeholders, ",")+`)
		RETURNING `+vehicleColumns+`
	`, args...)
	vehicle, err := scanVehicle(row)
	if err == nil {
		return vehicle, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	// Zero rows: distinguish a missing vehicle from a lost precondition.
	if _, getErr := s.GetVehicle(ctx, id); getErr != nil {
		return nil, getErr
	}
	return nil, store.ErrConflict
}

func (s *Store) ForceVehicleStatus(ctx context.Context, id string, status string) (*domain.Vehicle, error) {
	if !domain.IsVehicleStatus(status) {
		return nil, store.ErrValidation
	}

	row := s.db.QueryRowContext(ctx, `
		UPDATE vehicles
		SET status = $2, updated_at = now()
		WHERE id = $1
		RETURNING `+vehicleColumns+`
	`, id, status)
	return scanVehicle(row)
}

func (s *Store) DeleteVehicle(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM vehicles
		WHERE id = $1 AND status <> $2
	`, id, domain.VehicleStatusSold)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		if _, getErr := s.GetVehicle(ctx, id); getErr != nil {
			return getErr
		}
		return store.ErrConflict
	}
	return nil
}

func (s *Store) CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	if customer.Name == "" {
		return nil, store.ErrValidation
	}

	if customer.ID == "" {
		customer.ID = xid.New("cust")
	}
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO customers (id, name, phone, email, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, customer.ID, customer.Name, nullIfEmpty(customer.Phone), nullIfEmpty(customer.Email), customer.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}

	created := customer
	return &created, nil
}

func (s *Store) GetCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	var (
		customer domain.Customer
		phone    sql.NullString
		email    sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, phone, email, created_at
		FROM customers
		WHERE id = $1
	`, id).Scan(&customer.ID, &customer.Name, &phone, &email, &customer.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	customer.Phone = phone.String
	customer.Email = email.String
	return &customer, nil
}

func (s *Store) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, phone, email, created_at
		FROM customers
		ORDER BY created_at DESC, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	customers := make([]domain.Customer, 0, 32)
	for rows.Next() {
		var (
			customer domain.Customer
			phone    sql.NullString
			email    sql.NullString
		)
		if err := rows.Scan(&customer.ID, &customer.Name, &phone, &email, &customer.CreatedAt); err != nil {
			return nil, err
		}
		customer.Phone = phone.String
		customer.Email = email.String
		customers = append(customers, customer)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return customers, nil
}

const saleColumns = `id, vehicle_id, customer_id, seller_username, total_cents, discount_cents,
		final_cents, payment_method, status, sale_date, payment_date, notes, idempotency_key`

func (s *Store) CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	if sale.VehicleID == "" || sale.CustomerID == "" || sale.SellerUsername == "" {
		return nil, store.ErrValidation
	}
	if sale.TotalCents < 0 || sale.DiscountCents < 0 || sale.FinalCents < 0 {
		return nil, store.ErrValidation
	}

	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if sale.Status == "" {
		sale.Status = domain.SaleStatusPending
	}
	if sale.SaleDate.IsZero() {
		sale.SaleDate = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sales (
			id, vehicle_id, customer_id, seller_username, total_cents, discount_cents,
			final_cents, payment_method, status, sale_date, payment_date, notes, idempotency_key
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, sale.ID, sale.VehicleID, sale.CustomerID, sale.SellerUsername, sale.TotalCents,
		sale.DiscountCents, sale.FinalCents, sale.PaymentMethod, sale.Status, sale.SaleDate,
		nullTime(sale.PaymentDate), nullIfEmpty(sale.Notes), nullIfEmpty(sale.IdempotencyKey))
	if err != nil {
		if isUniqueViolation(err) && sale.IdempotencyKey != "" {
			existing, lookupErr := s.FindSaleByIdempotency(ctx, sale.IdempotencyKey)
			if lookupErr == nil {
				return existing, nil
			}
		}
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}

	created := sale
	return &created, nil
}

func (s *Store) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+saleColumns+`
		FROM sales
		WHERE id = $1
	`, id)
	return scanSale(row)
}

func (s *Store) ListSales(ctx context.Context, status string) ([]domain.Sale, error) {
	query := `
		SELECT ` + saleColumns + `
		FROM sales
	`
	args := []any{}
	if status != "" {
		query += " WHERE status = $1"
		args = append(args, status)
	}
	query += " ORDER BY sale_date DESC, id"

	return s.querySales(ctx, query, args...)
}

func (s *Store) FindSalesByVehicle(ctx context.Context, vehicleID string) ([]domain.Sale, error) {
	return s.querySales(ctx, `
		SELECT `+saleColumns+`
		FROM sales
		WHERE vehicle_id = $1
		ORDER BY sale_date DESC, id
	`, vehicleID)
}

func (s *Store) FindSaleByIdempotency(ctx context.Context, key string) (*domain.Sale, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+saleColumns+`
		FROM sales
		WHERE idempotency_key = $1
	`, key)
	return scanSale(row)
}

// UpdateSaleStatus locks the row so concurrent status writers serialize;
// the expectFrom check then rejects the loser with ErrConflict.
func (s *Store) UpdateSaleStatus(ctx context.Context, id string, expectFrom string, to string, paymentDate *time.Time, notes string) (*domain.Sale, error) {
	if !domain.IsSaleStatus(to) {
		return nil, store.ErrValidation
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		SELECT `+saleColumns+`
		FROM sales
		WHERE id = $1
		FOR UPDATE
	`, id)
	sale, err := scanSale(row)
	if err != nil {
		return nil, err
	}
	if sale.Status != expectFrom {
		return nil, store.ErrConflict
	}

	sale.Status = to
	if paymentDate != nil {
		pd := *paymentDate
		sale.PaymentDate = &pd
	}
	if notes != "" {
		sale.Notes = appendNotes(sale.Notes, notes)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE sales
		SET status = $2, payment_date = $3, notes = $4
		WHERE id = $1
	`, sale.ID, sale.Status, nullTime(sale.PaymentDate), nullIfEmpty(sale.Notes))
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return sale, nil
}

func (s *Store) DeleteSale(ctx context.Context, id string, expectStatus string) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM sales
		WHERE id = $1 AND status = $2
	`, id, expectStatus)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		if _, getErr := s.GetSale(ctx, id); getErr != nil {
			return getErr
		}
		return store.ErrConflict
	}
	return nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.ActorUsername, entry.ActorRole, entry.Action,
		entry.EntityType, nullIfEmpty(entry.EntityID), nullIfEmpty(entry.Detail), entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 200
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at DESC, id
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, 64)
	for rows.Next() {
		var (
			entry    domain.AuditLog
			entityID sql.NullString
			detail   sql.NullString
		)
		if err := rows.Scan(&entry.ID, &entry.ActorUsername, &entry.ActorRole, &entry.Action,
			&entry.EntityType, &entityID, &detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.EntityID = entityID.String
		entry.Detail = detail.String
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	if user.Username == "" || user.Password == "" || user.Role == "" {
		return store.ErrValidation
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password, role, active, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM users
		ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 8)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	if username == "" || password == "" {
		return store.ErrValidation
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET password = $2
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
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

func (s *Store) querySales(ctx context.Context, query string, args ...any) ([]domain.Sale, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, 32)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		sales = append(sales, *sale)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return sales, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVehicle(row rowScanner) (*domain.Vehicle, error) {
	var v domain.Vehicle
	err := row.Scan(&v.ID, &v.Brand, &v.Model, &v.Year, &v.Color,
		&v.PriceCents, &v.Status, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &v, nil
}

func scanSale(row rowScanner) (*domain.Sale, error) {
	var (
		sale        domain.Sale
		paymentDate sql.NullTime
		notes       sql.NullString
		idemKey     sql.NullString
	)
	err := row.Scan(&sale.ID, &sale.VehicleID, &sale.CustomerID, &sale.SellerUsername,
		&sale.TotalCents, &sale.DiscountCents, &sale.FinalCents, &sale.PaymentMethod,
		&sale.Status, &sale.SaleDate, &paymentDate, &notes, &idemKey)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if paymentDate.Valid {
		pd := paymentDate.Time
		sale.PaymentDate = &pd
	}
	sale.Notes = notes.String
	sale.IdempotencyKey = idemKey.String
	return &sale, nil
}

func appendNotes(existing string, addition string) string {
	addition = strings.TrimSpace(addition)
	if addition == "" {
		return existing
	}
	combined := addition
	if existing != "" {
		combined = existing + "\n" + addition
	}
	if len(combined) > domain.MaxSaleNotesLen {
		combined = combined[:domain.MaxSaleNotesLen]
	}
	return combined
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
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
	return *val
}
