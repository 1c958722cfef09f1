package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"otodeal/backend/internal/cache"
	"otodeal/backend/internal/domain"
	"otodeal/backend/internal/store"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo     store.Repository
	vehicles cache.VehicleCache
	cacheTTL time.Duration
}

func New(repo store.Repository, vehicles cache.VehicleCache, cacheTTL time.Duration) *Service {
	if vehicles == nil {
		vehicles = cache.NoopVehicleCache{}
	}
	if cacheTTL <= 0 {
		cacheTTL = 30 * time.Second
	}

	return &Service{
		repo:     repo,
		vehicles: vehicles,
		cacheTTL: cacheTTL,
	}
}

func requireStaff(ctx context.Context) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || (actor.Role != domain.RoleAdmin && actor.Role != domain.RoleSales) {
		return domain.Actor{}, fmt.Errorf("admin or sales role required")
	}
	return actor, nil
}

func requireAdmin(ctx context.Context) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.Actor{}, fmt.Errorf("admin role required")
	}
	return actor, nil
}

// CreateSale reserves the vehicle and opens a pending sale. The inventory
// write goes first because "at most one active sale per vehicle" is the
// tighter invariant; the sale write follows, and a failed sale write is
// compensated by releasing the reservation.
func (s *Service) CreateSale(ctx context.Context, req domain.SaleCreateRequest) (domain.SaleResponse, error) {
	actor, err := requireStaff(ctx)
	if err != nil {
		return domain.SaleResponse{}, err
	}
	seller := strings.TrimSpace(req.SellerUsername)
	if seller == "" {
		seller = actor.Username
	}
	return s.openSale(ctx, req, seller)
}

// Purchase is the customer-facing variant of CreateSale. The seller is always
// the processing principal; the caller cannot name an arbitrary one.
func (s *Service) Purchase(ctx context.Context, req domain.PurchaseRequest) (domain.SaleResponse, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.SaleResponse{}, fmt.Errorf("authenticated principal required")
	}
	return s.openSale(ctx, domain.SaleCreateRequest{
		CustomerID:     req.CustomerID,
		VehicleID:      req.VehicleID,
		PaymentMethod:  req.PaymentMethod,
		IdempotencyKey: req.IdempotencyKey,
	}, actor.Username)
}

func (s *Service) openSale(ctx context.Context, req domain.SaleCreateRequest, seller string) (domain.SaleResponse, error) {
	req.CustomerID = strings.TrimSpace(req.CustomerID)
	req.VehicleID = strings.TrimSpace(req.VehicleID)
	req.PaymentMethod = strings.ToLower(strings.TrimSpace(req.PaymentMethod))
	if req.PaymentMethod == "" {
		req.PaymentMethod = "cash"
	}
	if req.CustomerID == "" || req.VehicleID == "" {
		return domain.SaleResponse{}, fmt.Errorf("%w: customer_id and vehicle_id required", store.ErrValidation)
	}
	if !isSupportedPaymentMethod(req.PaymentMethod) {
		return domain.SaleResponse{}, fmt.Errorf("%w: unsupported payment method %q", store.ErrValidation, req.PaymentMethod)
	}
	if req.DiscountCents < 0 {
		return domain.SaleResponse{}, fmt.Errorf("%w: discount must not be negative", store.ErrValidation)
	}
	if len(req.Notes) > domain.MaxSaleNotesLen {
		return domain.SaleResponse{}, fmt.Errorf("%w: notes too long", store.ErrValidation)
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = uuid.NewString()
	}

	if existing, err := s.repo.FindSaleByIdempotency(ctx, req.IdempotencyKey); err == nil {
		return domain.SaleResponse{Sale: *existing, Duplicate: true}, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return domain.SaleResponse{}, err
	}

	if _, err := s.repo.GetCustomer(ctx, req.CustomerID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.SaleResponse{}, fmt.Errorf("%w: customer %s", store.ErrNotFound, req.CustomerID)
		}
		return domain.SaleResponse{}, err
	}

	vehicle, err := s.repo.GetVehicle(ctx, req.VehicleID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.SaleResponse{}, fmt.Errorf("%w: vehicle %s", store.ErrNotFound, req.VehicleID)
		}
		return domain.SaleResponse{}, err
	}
	if req.DiscountCents > vehicle.PriceCents {
		return domain.SaleResponse{}, fmt.Errorf("%w: discount exceeds vehicle price", store.ErrValidation)
	}

	// Compare-and-swap reservation. The availability read above is advisory
	// only; the conditional write is what decides between concurrent buyers.
	reserved, err := s.repo.UpdateVehicleStatus(ctx, vehicle.ID, []string{domain.VehicleStatusAvailable}, domain.VehicleStatusReserved)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return domain.SaleResponse{}, fmt.Errorf("%w: vehicle %s is not available", store.ErrConflict, vehicle.ID)
		}
		return domain.SaleResponse{}, err
	}
	s.invalidateVehicleCache(ctx, vehicle.ID)

	sale := domain.Sale{
		VehicleID:      vehicle.ID,
		CustomerID:     req.CustomerID,
		SellerUsername: seller,
		TotalCents:     vehicle.PriceCents,
		DiscountCents:  req.DiscountCents,
		FinalCents:     vehicle.PriceCents - req.DiscountCents,
		PaymentMethod:  req.PaymentMethod,
		Status:         domain.SaleStatusPending,
		SaleDate:       time.Now().UTC(),
		Notes:          strings.TrimSpace(req.Notes),
		IdempotencyKey: req.IdempotencyKey,
	}

	created, err := s.repo.CreateSale(ctx, sale)
	if err != nil {
		if compErr := s.compensateVehicle(ctx, reserved.ID, []string{domain.VehicleStatusReserved}, domain.VehicleStatusAvailable, "sale create failed"); compErr != nil {
			return domain.SaleResponse{}, compErr
		}
		return domain.SaleResponse{}, err
	}

	s.logAudit(ctx, "sale_create", "sale", created.ID,
		fmt.Sprintf("vehicle=%s,customer=%s,total=%d,discount=%d", created.VehicleID, created.CustomerID, created.TotalCents, created.DiscountCents))

	return domain.SaleResponse{Sale: *created}, nil
}

// ConfirmPayment moves a pending sale to paid and the vehicle to sold.
func (s *Service) ConfirmPayment(ctx context.Context, saleID string) (domain.SaleResponse, error) {
	if _, err := requireStaff(ctx); err != nil {
		return domain.SaleResponse{}, err
	}

	sale, err := s.repo.GetSale(ctx, strings.TrimSpace(saleID))
	if err != nil {
		return domain.SaleResponse{}, err
	}
	if err := saleTransition(sale.Status, domain.SaleStatusPaid, false); err != nil {
		return domain.SaleResponse{}, err
	}

	previous, err := s.repo.GetVehicle(ctx, sale.VehicleID)
	if err != nil {
		return domain.SaleResponse{}, err
	}

	sold, err := s.repo.UpdateVehicleStatus(ctx, sale.VehicleID,
		[]string{domain.VehicleStatusAvailable, domain.VehicleStatusReserved}, domain.VehicleStatusSold)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return domain.SaleResponse{}, fmt.Errorf("%w: vehicle %s cannot be marked sold", store.ErrStateTransition, sale.VehicleID)
		}
		return domain.SaleResponse{}, err
	}
	s.invalidateVehicleCache(ctx, sale.VehicleID)

	paymentDate := time.Now().UTC()
	updated, err := s.repo.UpdateSaleStatus(ctx, sale.ID, domain.SaleStatusPending, domain.SaleStatusPaid, &paymentDate, "")
	if err != nil {
		if compErr := s.compensateVehicle(ctx, sold.ID, []string{domain.VehicleStatusSold}, previous.Status, "payment confirm failed"); compErr != nil {
			return domain.SaleResponse{}, compErr
		}
		if errors.Is(err, store.ErrConflict) {
			return domain.SaleResponse{}, fmt.Errorf("%w: sale %s changed concurrently", store.ErrConflict, sale.ID)
		}
		return domain.SaleResponse{}, err
	}

	s.logAudit(ctx, "sale_confirm_payment", "sale", updated.ID, fmt.Sprintf("vehicle=%s,final=%d", updated.VehicleID, updated.FinalCents))

	return domain.SaleResponse{Sale: *updated}, nil
}

// Cancel moves a pending sale to cancelled and frees the vehicle.
func (s *Service) Cancel(ctx context.Context, saleID string, reason string) (domain.SaleResponse, error) {
	if _, err := requireStaff(ctx); err != nil {
		return domain.SaleResponse{}, err
	}
	return s.cancelSale(ctx, saleID, reason, false)
}

func (s *Service) cancelSale(ctx context.Context, saleID string, reason string, force bool) (domain.SaleResponse, error) {
	sale, err := s.repo.GetSale(ctx, strings.TrimSpace(saleID))
	if err != nil {
		return domain.SaleResponse{}, err
	}
	if err := saleTransition(sale.Status, domain.SaleStatusCancelled, force); err != nil {
		return domain.SaleResponse{}, err
	}

	// A forced cancellation of a paid sale is the one legal path that takes a
	// vehicle back out of sold.
	allowedFrom := []string{domain.VehicleStatusReserved}
	if force {
		allowedFrom = []string{domain.VehicleStatusReserved, domain.VehicleStatusSold}
	}
	previous, err := s.repo.GetVehicle(ctx, sale.VehicleID)
	if err != nil {
		return domain.SaleResponse{}, err
	}

	released, err := s.repo.UpdateVehicleStatus(ctx, sale.VehicleID, allowedFrom, domain.VehicleStatusAvailable)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return domain.SaleResponse{}, fmt.Errorf("%w: vehicle %s cannot be released", store.ErrStateTransition, sale.VehicleID)
		}
		return domain.SaleResponse{}, err
	}
	s.invalidateVehicleCache(ctx, sale.VehicleID)

	notes := strings.TrimSpace(reason)
	if notes == "" {
		notes = "cancelled without reason"
	}
	updated, err := s.repo.UpdateSaleStatus(ctx, sale.ID, sale.Status, domain.SaleStatusCancelled, nil, notes)
	if err != nil {
		if compErr := s.compensateVehicle(ctx, released.ID, []string{domain.VehicleStatusAvailable}, previous.Status, "sale cancel failed"); compErr != nil {
			return domain.SaleResponse{}, compErr
		}
		if errors.Is(err, store.ErrConflict) {
			return domain.SaleResponse{}, fmt.Errorf("%w: sale %s changed concurrently", store.ErrConflict, sale.ID)
		}
		return domain.SaleResponse{}, err
	}

	action := "sale_cancel"
	if force {
		action = "sale_force_cancel"
	}
	s.logAudit(ctx, action, "sale", updated.ID, fmt.Sprintf("vehicle=%s,reason=%s", updated.VehicleID, notes))

	return domain.SaleResponse{Sale: *updated}, nil
}

// OverrideSaleStatus is the audited admin correction path. It runs through the
// same transition guard as the normal operations, with force permitting only
// the paid-to-cancelled correction edge.
func (s *Service) OverrideSaleStatus(ctx context.Context, saleID string, target string, notes string) (domain.SaleResponse, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.SaleResponse{}, err
	}

	target = strings.ToLower(strings.TrimSpace(target))
	if !domain.IsSaleStatus(target) {
		return domain.SaleResponse{}, fmt.Errorf("%w: unknown sale status %q", store.ErrValidation, target)
	}

	switch target {
	case domain.SaleStatusCancelled:
		return s.cancelSale(ctx, saleID, notes, true)
	case domain.SaleStatusPaid:
		return s.ConfirmPayment(ctx, saleID)
	default:
		sale, err := s.repo.GetSale(ctx, strings.TrimSpace(saleID))
		if err != nil {
			return domain.SaleResponse{}, err
		}
		return domain.SaleResponse{}, fmt.Errorf("%w: sale %s is %s, cannot return to pending", store.ErrStateTransition, sale.ID, sale.Status)
	}
}

// DeleteSale removes a pending sale and frees its vehicle. Paid sales are
// never deleted; cancelled sales are kept for the audit trail.
func (s *Service) DeleteSale(ctx context.Context, saleID string) error {
	if _, err := requireStaff(ctx); err != nil {
		return err
	}

	sale, err := s.repo.GetSale(ctx, strings.TrimSpace(saleID))
	if err != nil {
		return err
	}
	if sale.Status != domain.SaleStatusPending {
		return fmt.Errorf("%w: only pending sales can be deleted", store.ErrStateTransition)
	}

	if _, err := s.repo.UpdateVehicleStatus(ctx, sale.VehicleID, []string{domain.VehicleStatusReserved}, domain.VehicleStatusAvailable); err != nil && !errors.Is(err, store.ErrConflict) && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	s.invalidateVehicleCache(ctx, sale.VehicleID)

	if err := s.repo.DeleteSale(ctx, sale.ID, domain.SaleStatusPending); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return fmt.Errorf("%w: sale %s changed concurrently", store.ErrConflict, sale.ID)
		}
		return err
	}

	s.logAudit(ctx, "sale_delete", "sale", sale.ID, fmt.Sprintf("vehicle=%s", sale.VehicleID))
	return nil
}

func (s *Service) GetSale(ctx context.Context, saleID string) (domain.Sale, error) {
	sale, err := s.repo.GetSale(ctx, strings.TrimSpace(saleID))
	if err != nil {
		return domain.Sale{}, err
	}
	return *sale, nil
}

func (s *Service) ListSales(ctx context.Context, status string) (domain.SaleListResponse, error) {
	if _, err := requireStaff(ctx); err != nil {
		return domain.SaleListResponse{}, err
	}
	status = strings.ToLower(strings.TrimSpace(status))
	if status != "" && !domain.IsSaleStatus(status) {
		return domain.SaleListResponse{}, fmt.Errorf("%w: unknown sale status %q", store.ErrValidation, status)
	}
	sales, err := s.repo.ListSales(ctx, status)
	if err != nil {
		return domain.SaleListResponse{}, err
	}
	return domain.SaleListResponse{Sales: sales}, nil
}

// ApplyExternalInventoryStatus maps an external payment-provider status onto a
// vehicle status and applies it unconditionally. Webhook-only: this is the
// single caller of ForceVehicleStatus and never touches sale records.
func (s *Service) ApplyExternalInventoryStatus(ctx context.Context, req domain.InventoryWebhookRequest) error {
	req.VehicleID = strings.TrimSpace(req.VehicleID)
	if req.VehicleID == "" {
		return fmt.Errorf("%w: vehicle_id required", store.ErrValidation)
	}

	status, ok := mapExternalStatus(req.ExternalStatus)
	if !ok {
		return fmt.Errorf("%w: unknown external status %q", store.ErrValidation, req.ExternalStatus)
	}

	vehicle, err := s.repo.ForceVehicleStatus(ctx, req.VehicleID, status)
	if err != nil {
		return err
	}
	s.invalidateVehicleCache(ctx, req.VehicleID)

	s.logAudit(ctx, "inventory_webhook_apply", "vehicle", vehicle.ID,
		fmt.Sprintf("external=%s,status=%s", strings.ToUpper(strings.TrimSpace(req.ExternalStatus)), status))
	return nil
}

func mapExternalStatus(external string) (string, bool) {
	switch strings.ToUpper(strings.TrimSpace(external)) {
	case "PAID":
		return domain.VehicleStatusSold, true
	case "PENDING":
		return domain.VehicleStatusReserved, true
	case "CANCELLED":
		return domain.VehicleStatusAvailable, true
	}
	return "", false
}

// saleTransition is the only status guard in the codebase. Every entry point
// that changes a sale's status, privileged or not, goes through it. force adds
// exactly one edge: paid to cancelled, the post-payment correction.
func saleTransition(current string, target string, force bool) error {
	switch current {
	case domain.SaleStatusPending:
		if target == domain.SaleStatusPaid || target == domain.SaleStatusCancelled {
			return nil
		}
	case domain.SaleStatusPaid:
		if target == domain.SaleStatusPaid {
			return fmt.Errorf("%w: already paid", store.ErrStateTransition)
		}
		if target == domain.SaleStatusCancelled {
			if force {
				return nil
			}
			return fmt.Errorf("%w: paid transaction cannot be cancelled", store.ErrStateTransition)
		}
	case domain.SaleStatusCancelled:
		if target == domain.SaleStatusCancelled {
			return fmt.Errorf("%w: already cancelled", store.ErrStateTransition)
		}
		if target == domain.SaleStatusPaid {
			return fmt.Errorf("%w: cancelled transaction cannot be paid", store.ErrStateTransition)
		}
	}
	return fmt.Errorf("%w: %s to %s", store.ErrStateTransition, current, target)
}

// compensateVehicle reverts a vehicle transition after the paired sale write
// failed. A failed compensation leaves the two collections disagreeing until
// the reconciliation audit catches it, so it is logged as an alarm and
// reported to the caller as ErrConsistencyAlarm.
func (s *Service) compensateVehicle(ctx context.Context, vehicleID string, from []string, to string, cause string) error {
	if _, err := s.repo.UpdateVehicleStatus(ctx, vehicleID, from, to); err != nil {
		log.Printf("[service] CONSISTENCY ALARM: compensation failed for vehicle %s (%s): %v", vehicleID, cause, err)
		return fmt.Errorf("%w: vehicle %s stuck after %s", store.ErrConsistencyAlarm, vehicleID, cause)
	}
	s.invalidateVehicleCache(ctx, vehicleID)
	log.Printf("[service] WARN: compensated vehicle %s back to %s after %s", vehicleID, to, cause)
	return nil
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, _ := ActorFromContext(ctx)
	err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	})
	if err != nil {
		log.Printf("[service] WARN: failed to write audit log action=%s entity=%s: %v", action, entityID, err)
	}
}

func (s *Service) ListAuditLogs(ctx context.Context, date string, limit int) ([]domain.AuditLog, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	if limit < 1 {
		limit = 100
	}

	var from time.Time
	if strings.TrimSpace(date) == "" {
		from = time.Now().UTC().Add(-24 * time.Hour)
	} else {
		parsed, err := time.Parse("2006-01-02", date)
		if err != nil {
			return nil, fmt.Errorf("%w: date must be YYYY-MM-DD", store.ErrValidation)
		}
		from = parsed.UTC()
	}
	to := from.Add(24 * time.Hour)

	return s.repo.ListAuditLogs(ctx, from, to, limit)
}

func isSupportedPaymentMethod(method string) bool {
	switch method {
	case "cash", "card", "transfer", "financing":
		return true
	}
	return false
}
