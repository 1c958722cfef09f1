package memory

import (
	"context"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"otodeal/backend/internal/domain"
	"otodeal/backend/internal/store"
	"otodeal/backend/internal/xid"
)

type Store struct {
	mu            sync.RWMutex
	vehiclesByID  map[string]domain.Vehicle
	customersByID map[string]domain.Customer
	salesByID     map[string]domain.Sale
	salesByIdem   map[string]string
	auditLogs     []domain.AuditLog
	usersByUser   map[string]domain.UserAccount
}

// seedUsers builds the initial in-memory accounts for dev/demo mode.
// Credentials come from SEED_ADMIN_PASSWORD, SEED_SALES_PASSWORD and
// SEED_CUSTOMER_PASSWORD; hardcoded dev defaults are used with a warning
// when unset. Production deployments use PostgreSQL (DATABASE_URL set).
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	salesPwd := envOr("SEED_SALES_PASSWORD", "sales123")
	customerPwd := envOr("SEED_CUSTOMER_PASSWORD", "customer123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_SALES_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_SALES_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, domain.RoleAdmin},
		{"sales", salesPwd, domain.RoleSales},
		{"customer", customerPwd, domain.RoleCustomer},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
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
		vehiclesByID:  make(map[string]domain.Vehicle),
		customersByID: make(map[string]domain.Customer),
		salesByID:     make(map[string]domain.Sale),
		salesByIdem:   make(map[string]string),
		auditLogs:     make([]domain.AuditLog, 0, 128),
		usersByUser:   make(map[string]domain.UserAccount),
	}
}

func NewSeeded() *Store {
	now := time.Now().UTC()
	vehicles := []domain.Vehicle{
		{ID: "veh-avanza-01", Brand: "Toyota", Model: "Avanza 1.5 G", Year: 2023, Color: "silver", PriceCents: 23500000000},
		{ID: "veh-brio-01", Brand: "Honda", Model: "Brio RS", Year: 2024, Color: "yellow", PriceCents: 24300000000},
		{ID: "veh-xenia-01", Brand: "Daihatsu", Model: "Xenia R", Year: 2022, Color: "white", PriceCents: 21900000000},
		{ID: "veh-ertiga-01", Brand: "Suzuki", Model: "Ertiga GX", Year: 2023, Color: "black", PriceCents: 26100000000},
		{ID: "veh-civic-01", Brand: "Honda", Model: "Civic RS", Year: 2024, Color: "red", PriceCents: 61600000000},
		{ID: "veh-pajero-01", Brand: "Mitsubishi", Model: "Pajero Sport", Year: 2023, Color: "gray", PriceCents: 57000000000},
	}
	customers := []domain.Customer{
		{ID: "cust-budi-01", Name: "Budi Santoso", Phone: "+62-812-1111-0001"},
		{ID: "cust-sari-01", Name: "Sari Wulandari", Phone: "+62-812-1111-0002"},
		{ID: "cust-agus-01", Name: "Agus Pratama", Phone: "+62-812-1111-0003"},
	}

	s := New()
	for _, v := range vehicles {
		v.Status = domain.VehicleStatusAvailable
		v.CreatedAt = now
		v.UpdatedAt = now
		s.vehiclesByID[v.ID] = v
	}
	for _, c := range customers {
		c.CreatedAt = now
		s.customersByID[c.ID] = c
	}
	s.usersByUser = seedUsers()
	return s
}

func (s *Store) CreateVehicle(_ context.Context, vehicle domain.Vehicle) (*domain.Vehicle, error) {
	if vehicle.Brand == "" || vehicle.Model == "" || vehicle.PriceCents < 0 {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if vehicle.ID == "" {
		vehicle.ID = xid.New("veh")
	}
	if _, exists := s.vehiclesByID[vehicle.ID]; exists {
		return nil, store.ErrConflict
	}
	if vehicle.Status == "" {
		vehicle.Status = domain.VehicleStatusAvailable
	}
	now := time.Now().UTC()
	if vehicle.CreatedAt.IsZero() {
		vehicle.CreatedAt = now
	}
	vehicle.UpdatedAt = now

	s.vehiclesByID[vehicle.ID] = vehicle
	created := vehicle
	return &created, nil
}

func (s *Store) GetVehicle(_ context.Context, id string) (*domain.Vehicle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	vehicle, exists := s.vehiclesByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyVehicle := vehicle
	return &copyVehicle, nil
}

func (s *Store) ListVehicles(_ context.Context, status string) ([]domain.Vehicle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	vehicles := make([]domain.Vehicle, 0, len(s.vehiclesByID))
	for _, v := range s.vehiclesByID {
		if status != "" && v.Status != status {
			continue
		}
		vehicles = append(vehicles, v)
	}

	slices.SortFunc(vehicles, func(a, b domain.Vehicle) int {
		if a.Brand == b.Brand {
			return strings.Compare(a.Model, b.Model)
		}
		return strings.Compare(a.Brand, b.Brand)
	})

	return vehicles, nil
}

func (s *Store) UpdateVehicle(_ context.Context, vehicle domain.Vehicle) (*domain.Vehicle, error) {
	if vehicle.ID == "" || vehicle.Brand == "" || vehicle.Model == "" || vehicle.PriceCents < 0 {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.vehiclesByID[vehicle.ID]
	if !exists {
		return nil, store.ErrNotFound
	}

	vehicle.Status = existing.Status
	vehicle.CreatedAt = existing.CreatedAt
	vehicle.UpdatedAt = time.Now().UTC()
	s.vehiclesByID[vehicle.ID] = vehicle
	updated := vehicle
	return &updated, nil
}

func (s *Store) UpdateVehicleStatus(_ context.Context, id string, allowedFrom []string, to string) (*domain.Vehicle, error) {
	if !domain.IsVehicleStatus(to) {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	vehicle, exists := s.vehiclesByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	if !slices.Contains(allowedFrom, vehicle.Status) {
		return nil, store.ErrConflict
	}

	vehicle.Status = to
	vehicle.UpdatedAt = time.Now().UTC()
	s.vehiclesByID[id] = vehicle
	updated := vehicle
	return &updated, nil
}

func (s *Store) ForceVehicleStatus(_ context.Context, id string, status string) (*domain.Vehicle, error) {
	if !domain.IsVehicleStatus(status) {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	vehicle, exists := s.vehiclesByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}

	vehicle.Status = status
	vehicle.UpdatedAt = time.Now().UTC()
	s.vehiclesByID[id] = vehicle
	updated := vehicle
	return &updated, nil
}

func (s *Store) DeleteVehicle(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	vehicle, exists := s.vehiclesByID[id]
	if !exists {
		return store.ErrNotFound
	}
	if vehicle.Status == domain.VehicleStatusSold {
		return store.ErrConflict
	}

	delete(s.vehiclesByID, id)
	return nil
}

func (s *Store) CreateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	if customer.Name == "" {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if customer.ID == "" {
		customer.ID = xid.New("cust")
	}
	if _, exists := s.customersByID[customer.ID]; exists {
		return nil, store.ErrConflict
	}
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = time.Now().UTC()
	}

	s.customersByID[customer.ID] = customer
	created := customer
	return &created, nil
}

func (s *Store) GetCustomer(_ context.Context, id string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customer, exists := s.customersByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyCustomer := customer
	return &copyCustomer, nil
}

func (s *Store) ListCustomers(_ context.Context) ([]domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customers := make([]domain.Customer, 0, len(s.customersByID))
	for _, c := range s.customersByID {
		customers = append(customers, c)
	}
	slices.SortFunc(customers, func(a, b domain.Customer) int {
		return strings.Compare(a.Name, b.Name)
	})
	return customers, nil
}

func (s *Store) CreateSale(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	if sale.VehicleID == "" || sale.CustomerID == "" || sale.SellerUsername == "" {
		return nil, store.ErrValidation
	}
	if sale.TotalCents < 0 || sale.DiscountCents < 0 || sale.FinalCents < 0 {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if _, exists := s.salesByID[sale.ID]; exists {
		return nil, store.ErrConflict
	}
	if sale.IdempotencyKey != "" {
		// Replayed key returns the original sale, mirroring a unique-violation
		// lookup on the SQL side.
		if existingID, exists := s.salesByIdem[sale.IdempotencyKey]; exists {
			existing := s.salesByID[existingID]
			return &existing, nil
		}
	}
	if sale.Status == "" {
		sale.Status = domain.SaleStatusPending
	}
	if sale.SaleDate.IsZero() {
		sale.SaleDate = time.Now().UTC()
	}

	s.salesByID[sale.ID] = sale
	if sale.IdempotencyKey != "" {
		s.salesByIdem[sale.IdempotencyKey] = sale.ID
	}
	created := sale
	return &created, nil
}

func (s *Store) GetSale(_ context.Context, id string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, exists := s.salesByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copySale := sale
	return &copySale, nil
}

func (s *Store) ListSales(_ context.Context, status string) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sales := make([]domain.Sale, 0, len(s.salesByID))
	for _, sale := range s.salesByID {
		if status != "" && sale.Status != status {
			continue
		}
		sales = append(sales, sale)
	}
	slices.SortFunc(sales, func(a, b domain.Sale) int {
		if a.SaleDate.Equal(b.SaleDate) {
			return strings.Compare(a.ID, b.ID)
		}
		if a.SaleDate.After(b.SaleDate) {
			return -1
		}
		return 1
	})
	return sales, nil
}

func (s *Store) FindSalesByVehicle(_ context.Context, vehicleID string) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sales := make([]domain.Sale, 0, 4)
	for _, sale := range s.salesByID {
		if sale.VehicleID == vehicleID {
			sales = append(sales, sale)
		}
	}
	return sales, nil
}

func (s *Store) FindSaleByIdempotency(_ context.Context, key string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, exists := s.salesByIdem[key]
	if !exists {
		return nil, store.ErrNotFound
	}
	sale := s.salesByID[id]
	return &sale, nil
}

func (s *Store) UpdateSaleStatus(_ context.Context, id string, expectFrom string, to string, paymentDate *time.Time, notes string) (*domain.Sale, error) {
	if !domain.IsSaleStatus(to) {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sale, exists := s.salesByID[id]
	if !exists {
		return nil, store.ErrNotFound
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
	s.salesByID[id] = sale
	updated := sale
	return &updated, nil
}

func (s *Store) DeleteSale(_ context.Context, id string, expectStatus string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, exists := s.salesByID[id]
	if !exists {
		return store.ErrNotFound
	}
	if sale.Status != expectStatus {
		return store.ErrConflict
	}

	delete(s.salesByID, id)
	if sale.IdempotencyKey != "" {
		delete(s.salesByIdem, sale.IdempotencyKey)
	}
	return nil
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

	logs := make([]domain.AuditLog, 0, limit)
	for i := len(s.auditLogs) - 1; i >= 0; i-- {
		entry := s.auditLogs[i]
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		logs = append(logs, entry)
		if limit > 0 && len(logs) >= limit {
			break
		}
	}
	return logs, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	if user.Username == "" || user.Password == "" {
		return store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.usersByUser[user.Username]; exists {
		return store.ErrConflict
	}
	s.usersByUser[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUser))
	for _, user := range s.usersByUser {
		users = append(users, user)
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, exists := s.usersByUser[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUser[username] = user
	return nil
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
