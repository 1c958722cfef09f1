package service

import (
	"context"
	"testing"
	"time"

	"otodeal/backend/internal/cache"
	"otodeal/backend/internal/domain"
	"otodeal/backend/internal/store/memory"
)

func TestConsistencyAuditCleanStore(t *testing.T) {
	svc, _ := newTestService()
	vehicle := mustCreateVehicle(t, svc, 50000)

	created, err := svc.CreateSale(salesCtx(), domain.SaleCreateRequest{
		CustomerID: "cust-budi-01",
		VehicleID:  vehicle.ID,
	})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}
	if _, err := svc.ConfirmPayment(salesCtx(), created.Sale.ID); err != nil {
		t.Fatalf("confirm payment: %v", err)
	}

	report, err := svc.RunConsistencyAudit(adminCtx())
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if report.Total() != 0 {
		t.Fatalf("expected clean report, got %d violations: %v", report.Total(), report.Violations)
	}
	if report.CheckedSales != 1 {
		t.Fatalf("expected 1 checked sale, got %d", report.CheckedSales)
	}
}

func TestConsistencyAuditFlagsCorruptedRecords(t *testing.T) {
	repo := memory.New()
	svc := New(repo, cache.NoopVehicleCache{}, time.Second)
	ctx := context.Background()

	// A sold vehicle with no paid sale, and a sale pointing at records
	// that do not exist.
	if _, err := repo.CreateVehicle(ctx, domain.Vehicle{
		ID: "veh-ghost-sold", Brand: "Honda", Model: "HR-V", Year: 2023,
		PriceCents: 40000, Status: domain.VehicleStatusSold,
	}); err != nil {
		t.Fatalf("seed vehicle: %v", err)
	}
	if _, err := repo.CreateSale(ctx, domain.Sale{
		ID:             "sale-orphan",
		VehicleID:      "veh-missing",
		CustomerID:     "cust-missing",
		SellerUsername: "sales",
		TotalCents:     40000,
		DiscountCents:  1000,
		FinalCents:     38000, // should be 39000
		PaymentMethod:  "cash",
		Status:         domain.SaleStatusPending,
		SaleDate:       time.Now().UTC().Add(48 * time.Hour),
	}); err != nil {
		t.Fatalf("seed sale: %v", err)
	}

	report, err := svc.RunConsistencyAudit(adminCtx())
	if err != nil {
		t.Fatalf("audit: %v", err)
	}

	for _, want := range []string{
		ViolationFinalMismatch,
		ViolationOrphanCustomer,
		ViolationOrphanVehicle,
		ViolationFutureSaleDate,
		ViolationSoldWithoutPaid,
	} {
		if report.Counts[want] != 1 {
			t.Fatalf("expected one %s violation, counts: %v", want, report.Counts)
		}
	}
	if report.Total() != 5 {
		t.Fatalf("expected 5 violations, got %d: %v", report.Total(), report.Violations)
	}
}

func TestConsistencyAuditFlagsPaymentBeforeSaleDate(t *testing.T) {
	repo := memory.NewSeeded()
	svc := New(repo, cache.NoopVehicleCache{}, time.Second)
	ctx := context.Background()

	saleDate := time.Now().UTC()
	paymentDate := saleDate.Add(-2 * time.Hour)
	if _, err := repo.CreateSale(ctx, domain.Sale{
		ID:             "sale-backdated",
		VehicleID:      "veh-avanza-01",
		CustomerID:     "cust-budi-01",
		SellerUsername: "sales",
		TotalCents:     100,
		FinalCents:     100,
		PaymentMethod:  "cash",
		Status:         domain.SaleStatusCancelled,
		SaleDate:       saleDate,
		PaymentDate:    &paymentDate,
	}); err != nil {
		t.Fatalf("seed sale: %v", err)
	}

	report, err := svc.RunConsistencyAudit(adminCtx())
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if report.Counts[ViolationPaymentBeforeSale] != 1 {
		t.Fatalf("expected payment-before-sale violation, counts: %v", report.Counts)
	}
}

func TestConsistencyAuditRequiresAdmin(t *testing.T) {
	svc, _ := newTestService()

	if _, err := svc.RunConsistencyAudit(salesCtx()); err == nil {
		t.Fatalf("expected admin role error")
	}
}

func TestConsistencyAuditFlagsStatusSaleMismatches(t *testing.T) {
	repo := memory.New()
	svc := New(repo, cache.NoopVehicleCache{}, time.Second)
	ctx := context.Background()

	if _, err := repo.CreateCustomer(ctx, domain.Customer{ID: "cust-1", Name: "Tono"}); err != nil {
		t.Fatalf("seed customer: %v", err)
	}
	// Reserved vehicle without any pending sale.
	if _, err := repo.CreateVehicle(ctx, domain.Vehicle{
		ID: "veh-reserved", Brand: "Suzuki", Model: "Jimny", Year: 2024,
		PriceCents: 40000, Status: domain.VehicleStatusReserved,
	}); err != nil {
		t.Fatalf("seed vehicle: %v", err)
	}
	// Available vehicle with a paid sale attached.
	if _, err := repo.CreateVehicle(ctx, domain.Vehicle{
		ID: "veh-available", Brand: "Mazda", Model: "CX-5", Year: 2023,
		PriceCents: 50000, Status: domain.VehicleStatusAvailable,
	}); err != nil {
		t.Fatalf("seed vehicle: %v", err)
	}
	if _, err := repo.CreateSale(ctx, domain.Sale{
		ID:             "sale-paid",
		VehicleID:      "veh-available",
		CustomerID:     "cust-1",
		SellerUsername: "sales",
		TotalCents:     50000,
		FinalCents:     50000,
		PaymentMethod:  "cash",
		Status:         domain.SaleStatusPaid,
		SaleDate:       time.Now().UTC(),
	}); err != nil {
		t.Fatalf("seed sale: %v", err)
	}

	report, err := svc.RunConsistencyAudit(adminCtx())
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if report.Counts[ViolationReservedWithoutOpen] != 1 {
		t.Fatalf("expected reserved-without-pending violation, counts: %v", report.Counts)
	}
	if report.Counts[ViolationAvailableWithOpenSale] != 1 {
		t.Fatalf("expected available-with-active-sale violation, counts: %v", report.Counts)
	}
}
