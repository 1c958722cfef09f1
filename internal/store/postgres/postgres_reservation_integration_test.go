package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"otodeal/backend/internal/domain"
	"otodeal/backend/internal/store"
)

func TestVehicleStatusCompareAndSwap(t *testing.T) {
	databaseURL := os.Getenv("OTODEAL_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set OTODEAL_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})

	stamp := time.Now().UnixNano()
	vehicleID := fmt.Sprintf("veh-cas-it-%d", stamp)

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM vehicles WHERE id = $1`, vehicleID)
	})

	if _, err := s.CreateVehicle(ctx, domain.Vehicle{
		ID:         vehicleID,
		Brand:      "Toyota",
		Model:      "Raize",
		Year:       2024,
		Color:      "white",
		PriceCents: 25000000000,
	}); err != nil {
		t.Fatalf("create vehicle: %v", err)
	}

	reserved, err := s.UpdateVehicleStatus(ctx, vehicleID,
		[]string{domain.VehicleStatusAvailable}, domain.VehicleStatusReserved)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if reserved.Status != domain.VehicleStatusReserved {
		t.Fatalf("expected reserved, got %s", reserved.Status)
	}

	// Second reservation must lose the precondition.
	_, err = s.UpdateVehicleStatus(ctx, vehicleID,
		[]string{domain.VehicleStatusAvailable}, domain.VehicleStatusReserved)
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict on double reserve, got %v", err)
	}

	_, err = s.UpdateVehicleStatus(ctx, "veh-does-not-exist",
		[]string{domain.VehicleStatusAvailable}, domain.VehicleStatusReserved)
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found for missing vehicle, got %v", err)
	}
}

func TestSaleIdempotencyReplayReturnsExistingRow(t *testing.T) {
	databaseURL := os.Getenv("OTODEAL_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set OTODEAL_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})

	stamp := time.Now().UnixNano()
	vehicleID := fmt.Sprintf("veh-idem-it-%d", stamp)
	customerID := fmt.Sprintf("cust-idem-it-%d", stamp)
	idemKey := fmt.Sprintf("idem-it-%d", stamp)

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sales WHERE idempotency_key = $1`, idemKey)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM customers WHERE id = $1`, customerID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM vehicles WHERE id = $1`, vehicleID)
	})

	if _, err := s.CreateVehicle(ctx, domain.Vehicle{
		ID: vehicleID, Brand: "Honda", Model: "BR-V", Year: 2023, PriceCents: 30000000000,
	}); err != nil {
		t.Fatalf("create vehicle: %v", err)
	}
	if _, err := s.CreateCustomer(ctx, domain.Customer{ID: customerID, Name: "Integration Tester"}); err != nil {
		t.Fatalf("create customer: %v", err)
	}

	first, err := s.CreateSale(ctx, domain.Sale{
		VehicleID:      vehicleID,
		CustomerID:     customerID,
		SellerUsername: "sales",
		TotalCents:     30000000000,
		FinalCents:     30000000000,
		PaymentMethod:  "cash",
		IdempotencyKey: idemKey,
	})
	if err != nil {
		t.Fatalf("first create sale: %v", err)
	}

	replay, err := s.CreateSale(ctx, domain.Sale{
		VehicleID:      vehicleID,
		CustomerID:     customerID,
		SellerUsername: "sales",
		TotalCents:     30000000000,
		FinalCents:     30000000000,
		PaymentMethod:  "cash",
		IdempotencyKey: idemKey,
	})
	if err != nil {
		t.Fatalf("replay create sale: %v", err)
	}
	if replay.ID != first.ID {
		t.Fatalf("expected replay to return existing sale %s, got %s", first.ID, replay.ID)
	}
}
