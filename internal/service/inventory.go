package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"otodeal/backend/internal/domain"
	"otodeal/backend/internal/store"
)

func (s *Service) CreateVehicle(ctx context.Context, req domain.VehicleCreateRequest) (domain.Vehicle, error) {
	if _, err := requireStaff(ctx); err != nil {
		return domain.Vehicle{}, err
	}

	req.Brand = strings.TrimSpace(req.Brand)
	req.Model = strings.TrimSpace(req.Model)
	req.Color = strings.ToLower(strings.TrimSpace(req.Color))
	if req.Brand == "" || req.Model == "" {
		return domain.Vehicle{}, fmt.Errorf("%w: brand and model required", store.ErrValidation)
	}
	if err := validateVehicleYear(req.Year); err != nil {
		return domain.Vehicle{}, err
	}
	// The storage schema tolerates a zero price; the business rule does not.
	if req.PriceCents < 1 {
		return domain.Vehicle{}, fmt.Errorf("%w: price must be positive", store.ErrValidation)
	}

	vehicle := domain.Vehicle{
		Brand:      req.Brand,
		Model:      req.Model,
		Year:       req.Year,
		Color:      req.Color,
		PriceCents: req.PriceCents,
		Status:     domain.VehicleStatusAvailable,
	}

	created, err := s.repo.CreateVehicle(ctx, vehicle)
	if err != nil {
		return domain.Vehicle{}, err
	}
	s.invalidateVehicleCache(ctx, created.ID)

	s.logAudit(ctx, "vehicle_create", "vehicle", created.ID,
		fmt.Sprintf("brand=%s,model=%s,year=%d,price=%d", created.Brand, created.Model, created.Year, created.PriceCents))

	return *created, nil
}

func (s *Service) UpdateVehicle(ctx context.Context, id string, req domain.VehicleUpdateRequest) (domain.Vehicle, error) {
	if _, err := requireStaff(ctx); err != nil {
		return domain.Vehicle{}, err
	}

	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Vehicle{}, fmt.Errorf("%w: vehicle id required", store.ErrValidation)
	}

	existing, err := s.repo.GetVehicle(ctx, id)
	if err != nil {
		return domain.Vehicle{}, err
	}
	// Sold vehicles are immutable through the administrative edit path.
	if existing.Status == domain.VehicleStatusSold {
		return domain.Vehicle{}, fmt.Errorf("%w: sold vehicle cannot be edited", store.ErrStateTransition)
	}

	updated := *existing
	if req.Brand != nil {
		brand := strings.TrimSpace(*req.Brand)
		if brand == "" {
			return domain.Vehicle{}, fmt.Errorf("%w: brand must not be empty", store.ErrValidation)
		}
		updated.Brand = brand
	}
	if req.Model != nil {
		model := strings.TrimSpace(*req.Model)
		if model == "" {
			return domain.Vehicle{}, fmt.Errorf("%w: model must not be empty", store.ErrValidation)
		}
		updated.Model = model
	}
	if req.Year != nil {
		if err := validateVehicleYear(*req.Year); err != nil {
			return domain.Vehicle{}, err
		}
		updated.Year = *req.Year
	}
	if req.Color != nil {
		updated.Color = strings.ToLower(strings.TrimSpace(*req.Color))
	}
	if req.PriceCents != nil {
		if *req.PriceCents < 1 {
			return domain.Vehicle{}, fmt.Errorf("%w: price must be positive", store.ErrValidation)
		}
		updated.PriceCents = *req.PriceCents
	}

	saved, err := s.repo.UpdateVehicle(ctx, updated)
	if err != nil {
		return domain.Vehicle{}, err
	}
	s.invalidateVehicleCache(ctx, saved.ID)

	s.logAudit(ctx, "vehicle_update", "vehicle", saved.ID,
		fmt.Sprintf("year=%d,price=%d,status=%s", saved.Year, saved.PriceCents, saved.Status))

	return *saved, nil
}

func (s *Service) GetVehicle(ctx context.Context, id string) (domain.Vehicle, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Vehicle{}, fmt.Errorf("%w: vehicle id required", store.ErrValidation)
	}

	if cached, found, err := s.vehicles.GetVehicle(ctx, id); err == nil && found {
		return *cached, nil
	}

	vehicle, err := s.repo.GetVehicle(ctx, id)
	if err != nil {
		return domain.Vehicle{}, err
	}
	// Cache is best effort; the repository stays authoritative.
	_ = s.vehicles.SetVehicle(ctx, vehicle, s.cacheTTL)
	return *vehicle, nil
}

func (s *Service) ListVehicles(ctx context.Context, status string) (domain.VehicleListResponse, error) {
	status = strings.ToLower(strings.TrimSpace(status))
	if status != "" && !domain.IsVehicleStatus(status) {
		return domain.VehicleListResponse{}, fmt.Errorf("%w: unknown vehicle status %q", store.ErrValidation, status)
	}

	if cached, found, err := s.vehicles.GetList(ctx, status); err == nil && found {
		return domain.VehicleListResponse{Vehicles: cached}, nil
	}

	vehicles, err := s.repo.ListVehicles(ctx, status)
	if err != nil {
		return domain.VehicleListResponse{}, err
	}
	_ = s.vehicles.SetList(ctx, status, vehicles, s.cacheTTL)
	return domain.VehicleListResponse{Vehicles: vehicles}, nil
}

func (s *Service) DeleteVehicle(ctx context.Context, id string) error {
	if _, err := requireAdmin(ctx); err != nil {
		return err
	}

	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("%w: vehicle id required", store.ErrValidation)
	}

	// A vehicle with sale history stays on record even when not sold.
	sales, err := s.repo.FindSalesByVehicle(ctx, id)
	if err != nil {
		return err
	}
	for _, sale := range sales {
		if sale.Status == domain.SaleStatusPending || sale.Status == domain.SaleStatusPaid {
			return fmt.Errorf("%w: vehicle %s has an active sale", store.ErrConflict, id)
		}
	}

	if err := s.repo.DeleteVehicle(ctx, id); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return fmt.Errorf("%w: sold vehicle cannot be deleted", store.ErrConflict)
		}
		return err
	}
	s.invalidateVehicleCache(ctx, id)

	s.logAudit(ctx, "vehicle_delete", "vehicle", id, "")
	return nil
}

func (s *Service) CreateCustomer(ctx context.Context, req domain.CustomerCreateRequest) (domain.Customer, error) {
	if _, err := requireStaff(ctx); err != nil {
		return domain.Customer{}, err
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Phone = strings.TrimSpace(req.Phone)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Name == "" {
		return domain.Customer{}, fmt.Errorf("%w: customer name required", store.ErrValidation)
	}

	created, err := s.repo.CreateCustomer(ctx, domain.Customer{
		Name:      req.Name,
		Phone:     req.Phone,
		Email:     req.Email,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return domain.Customer{}, err
	}

	s.logAudit(ctx, "customer_create", "customer", created.ID, fmt.Sprintf("name=%s", created.Name))
	return *created, nil
}

func (s *Service) GetCustomer(ctx context.Context, id string) (domain.Customer, error) {
	if _, err := requireStaff(ctx); err != nil {
		return domain.Customer{}, err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Customer{}, fmt.Errorf("%w: customer id required", store.ErrValidation)
	}
	customer, err := s.repo.GetCustomer(ctx, id)
	if err != nil {
		return domain.Customer{}, err
	}
	return *customer, nil
}

func (s *Service) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	if _, err := requireStaff(ctx); err != nil {
		return nil, err
	}
	return s.repo.ListCustomers(ctx)
}

func (s *Service) invalidateVehicleCache(ctx context.Context, vehicleID string) {
	// Stale reads expire with the TTL; nothing else to do on failure.
	_ = s.vehicles.Invalidate(ctx, vehicleID)
}

func validateVehicleYear(year int) error {
	maxYear := time.Now().UTC().Year() + 1
	if year < domain.MinVehicleYear || year > maxYear {
		return fmt.Errorf("%w: year must be between %d and %d", store.ErrValidation, domain.MinVehicleYear, maxYear)
	}
	return nil
}
