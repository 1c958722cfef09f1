package domain

import "time"

type Vehicle struct {
	ID         string    `json:"id"`
	Brand      string    `json:"brand"`
	Model      string    `json:"model"`
	Year       int       `json:"year"`
	Color      string    `json:"color"`
	PriceCents int64     `json:"price_cents"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type VehicleCreateRequest struct {
	Brand      string `json:"brand"`
	Model      string `json:"model"`
	Year       int    `json:"year"`
	Color      string `json:"color"`
	PriceCents int64  `json:"price_cents"`
}

type VehicleUpdateRequest struct {
	Brand      *string `json:"brand,omitempty"`
	Model      *string `json:"model,omitempty"`
	Year       *int    `json:"year,omitempty"`
	Color      *string `json:"color,omitempty"`
	PriceCents *int64  `json:"price_cents,omitempty"`
}

type VehicleListResponse struct {
	Vehicles []Vehicle `json:"vehicles"`
}

type Customer struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone"`
	Email     string    `json:"email,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type CustomerCreateRequest struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Email string `json:"email"`
}

type Sale struct {
	ID             string     `json:"id"`
	VehicleID      string     `json:"vehicle_id"`
	CustomerID     string     `json:"customer_id"`
	SellerUsername string     `json:"seller_username"`
	TotalCents     int64      `json:"total_cents"`
	DiscountCents  int64      `json:"discount_cents"`
	FinalCents     int64      `json:"final_cents"`
	PaymentMethod  string     `json:"payment_method"`
	Status         string     `json:"status"`
	SaleDate       time.Time  `json:"sale_date"`
	PaymentDate    *time.Time `json:"payment_date,omitempty"`
	Notes          string     `json:"notes,omitempty"`
	IdempotencyKey string     `json:"idempotency_key,omitempty"`
}

type SaleCreateRequest struct {
	CustomerID     string `json:"customer_id"`
	VehicleID      string `json:"vehicle_id"`
	SellerUsername string `json:"seller_username,omitempty"`
	PaymentMethod  string `json:"payment_method"`
	DiscountCents  int64  `json:"discount_cents"`
	Notes          string `json:"notes,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

type PurchaseRequest struct {
	CustomerID     string `json:"customer_id"`
	VehicleID      string `json:"vehicle_id"`
	PaymentMethod  string `json:"payment_method"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

type SaleResponse struct {
	Sale      Sale `json:"sale"`
	Duplicate bool `json:"duplicate,omitempty"`
}

type SaleListResponse struct {
	Sales []Sale `json:"sales"`
}

type CancelSaleRequest struct {
	Reason string `json:"reason"`
}

// SaleStatusOverrideRequest is the privileged correction path for stuck state.
// It funnels through the same transition guard as the normal operations.
type SaleStatusOverrideRequest struct {
	Status     string `json:"status"`
	Notes      string `json:"notes"`
	ManagerPIN string `json:"manager_pin"`
}

type InventoryWebhookRequest struct {
	VehicleID      string `json:"vehicle_id"`
	ExternalStatus string `json:"external_status"`
}

type ConsistencyViolation struct {
	Kind     string `json:"kind"`
	EntityID string `json:"entity_id"`
	Detail   string `json:"detail"`
}

type ConsistencyReport struct {
	CheckedSales    int                    `json:"checked_sales"`
	CheckedVehicles int                    `json:"checked_vehicles"`
	Counts          map[string]int         `json:"counts"`
	Violations      []ConsistencyViolation `json:"violations"`
	GeneratedAt     time.Time              `json:"generated_at"`
}

func (r ConsistencyReport) Total() int {
	total := 0
	for _, n := range r.Counts {
		total += n
	}
	return total
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

type SellerCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type SellerUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

const (
	VehicleStatusAvailable = "available"
	VehicleStatusReserved  = "reserved"
	VehicleStatusSold      = "sold"
)

const (
	SaleStatusPending   = "pending"
	SaleStatusPaid      = "paid"
	SaleStatusCancelled = "cancelled"
)

const (
	RoleAdmin    = "admin"
	RoleSales    = "sales"
	RoleCustomer = "customer"
)

// MinVehicleYear bounds the model year; the upper bound is currentYear+1
// because next-year models reach the lot before January.
const MinVehicleYear = 1900

// MaxSaleNotesLen caps the free-text notes field; cancellation reasons are
// appended, never overwritten.
const MaxSaleNotesLen = 1000

func IsVehicleStatus(status string) bool {
	switch status {
	case VehicleStatusAvailable, VehicleStatusReserved, VehicleStatusSold:
		return true
	}
	return false
}

func IsSaleStatus(status string) bool {
	switch status {
	case SaleStatusPending, SaleStatusPaid, SaleStatusCancelled:
		return true
	}
	return false
}
