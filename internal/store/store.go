package store

import (
	"context"
	"errors"
	"time"

	"otodeal/backend/internal/domain"
)

// Error taxonomy shared by every repository implementation and the service
// layer. Handlers map these to HTTP statuses with errors.Is.
var (
	ErrNotFound         = errors.New("not found")
	ErrValidation       = errors.New("invalid input")
	ErrConflict         = errors.New("conflict")
	ErrStateTransition  = errors.New("illegal state transition")
	ErrConsistencyAlarm = errors.New("consistency alarm")
)

type Repository interface {
	CreateVehicle(ctx context.Context, vehicle domain.Vehicle) (*domain.Vehicle, error)
	GetVehicle(ctx context.Context, id string) (*domain.Vehicle, error)
	ListVehicles(ctx context.Context, status string) ([]domain.Vehicle, error)
	UpdateVehicle(ctx context.Context, vehicle domain.Vehicle) (*domain.Vehicle, error)
	// UpdateVehicleStatus is a compare-and-swap: the write succeeds only if the
	// current status is one of allowedFrom. A lost precondition is ErrConflict.
	UpdateVehicleStatus(ctx context.Context, id string, allowedFrom []string, to string) (*domain.Vehicle, error)
	// ForceVehicleStatus bypasses the transition guard. Reserved for the
	// external status webhook; interactive paths must use UpdateVehicleStatus.
	ForceVehicleStatus(ctx context.Context, id string, status string) (*domain.Vehicle, error)
	DeleteVehicle(ctx context.Context, id string) error

	CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	GetCustomer(ctx context.Context, id string) (*domain.Customer, error)
	ListCustomers(ctx context.Context) ([]domain.Customer, error)

	CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
	GetSale(ctx context.Context, id string) (*domain.Sale, error)
	ListSales(ctx context.Context, status string) ([]domain.Sale, error)
	FindSalesByVehicle(ctx context.Context, vehicleID string) ([]domain.Sale, error)
	FindSaleByIdempotency(ctx context.Context, key string) (*domain.Sale, error)
	// UpdateSaleStatus succeeds only if the sale is currently in expectFrom,
	// so concurrent status writers cannot both win.
	UpdateSaleStatus(ctx context.Context, id string, expectFrom string, to string, paymentDate *time.Time, notes string) (*domain.Sale, error)
	DeleteSale(ctx context.Context, id string, expectStatus string) error

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
