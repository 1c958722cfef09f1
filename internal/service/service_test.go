package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"otodeal/backend/internal/cache"
	"otodeal/backend/internal/domain"
	"otodeal/backend/internal/store"
	"otodeal/backend/internal/store/memory"
)

func newTestService() (*Service, *memory.Store) {
	repo := memory.NewSeeded()
	return New(repo, cache.NoopVehicleCache{}, 5*time.Second), repo
}

func adminCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "admin", Role: "admin"})
}

func salesCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "sales", Role: "sales"})
}

func customerCtx(username string) context.Context {
	return WithActor(context.Background(), domain.Actor{Username: username, Role: "customer"})
}

// mustCreateVehicle adds a vehicle with a round price so amount assertions
// stay readable.
func mustCreateVehicle(t *testing.T, svc *Service, priceCents int64) domain.Vehicle {
	t.Helper()
	vehicle, err := svc.CreateVehicle(adminCtx(), domain.VehicleCreateRequest{
		Brand:      "Toyota",
		Model:      "Yaris GR",
		Year:       2024,
		Color:      "white",
		PriceCents: priceCents,
	})
	if err != nil {
		t.Fatalf("create vehicle: %v", err)
	}
	return vehicle
}

func TestCreateSaleReservesVehicleAndComputesAmounts(t *testing.T) {
	svc, _ := newTestService()
	vehicle := mustCreateVehicle(t, svc, 50000)

	resp, err := svc.CreateSale(salesCtx(), domain.SaleCreateRequest{
		CustomerID:    "cust-budi-01",
		VehicleID:     vehicle.ID,
		PaymentMethod: "cash",
		DiscountCents: 5000,
	})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}

	if resp.Sale.Status != domain.SaleStatusPending {
		t.Fatalf("expected pending sale, got %s", resp.Sale.Status)
	}
	if resp.Sale.TotalCents != 50000 || resp.Sale.FinalCents != 45000 {
		t.Fatalf("expected total 50000 final 45000, got %d / %d", resp.Sale.TotalCents, resp.Sale.FinalCents)
	}
	if resp.Sale.SellerUsername != "sales" {
		t.Fatalf("expected seller defaulted to actor, got %s", resp.Sale.SellerUsername)
	}

	got, err := svc.GetVehicle(context.Background(), vehicle.ID)
	if err != nil {
		t.Fatalf("get vehicle: %v", err)
	}
	if got.Status != domain.VehicleStatusReserved {
		t.Fatalf("expected vehicle reserved, got %s", got.Status)
	}
}

func TestCreateSaleConflictWhenVehicleNotAvailable(t *testing.T) {
	svc, _ := newTestService()
	vehicle := mustCreateVehicle(t, svc, 50000)

	if _, err := svc.CreateSale(salesCtx(), domain.SaleCreateRequest{
		CustomerID: "cust-budi-01",
		VehicleID:  vehicle.ID,
	}); err != nil {
		t.Fatalf("first sale: %v", err)
	}

	_, err := svc.CreateSale(salesCtx(), domain.SaleCreateRequest{
		CustomerID: "cust-sari-01",
		VehicleID:  vehicle.ID,
	})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestCreateSaleDiscountExceedsPriceLeavesNoTrace(t *testing.T) {
	svc, repo := newTestService()
	vehicle := mustCreateVehicle(t, svc, 50000)

	_, err := svc.CreateSale(salesCtx(), domain.SaleCreateRequest{
		CustomerID:    "cust-budi-01",
		VehicleID:     vehicle.ID,
		DiscountCents: 60000,
	})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	got, err := svc.GetVehicle(context.Background(), vehicle.ID)
	if err != nil {
		t.Fatalf("get vehicle: %v", err)
	}
	if got.Status != domain.VehicleStatusAvailable {
		t.Fatalf("expected vehicle untouched, got %s", got.Status)
	}
	sales, err := repo.FindSalesByVehicle(context.Background(), vehicle.ID)
	if err != nil {
		t.Fatalf("find sales: %v", err)
	}
	if len(sales) != 0 {
		t.Fatalf("expected no sale records, got %d", len(sales))
	}
}

func TestCreateSaleRejectsUnknownRefs(t *testing.T) {
	svc, _ := newTestService()
	vehicle := mustCreateVehicle(t, svc, 50000)

	_, err := svc.CreateSale(salesCtx(), domain.SaleCreateRequest{
		CustomerID: "cust-missing",
		VehicleID:  vehicle.ID,
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found for missing customer, got %v", err)
	}

	_, err = svc.CreateSale(salesCtx(), domain.SaleCreateRequest{
		CustomerID: "cust-budi-01",
		VehicleID:  "veh-missing",
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found for missing vehicle, got %v", err)
	}
}

func TestConfirmPaymentMarksSaleAndVehicle(t *testing.T) {
	svc, _ := newTestService()
	vehicle := mustCreateVehicle(t, svc, 50000)

	created, err := svc.CreateSale(salesCtx(), domain.SaleCreateRequest{
		CustomerID: "cust-budi-01",
		VehicleID:  vehicle.ID,
	})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}

	resp, err := svc.ConfirmPayment(salesCtx(), created.Sale.ID)
	if err != nil {
		t.Fatalf("confirm payment: %v", err)
	}
	if resp.Sale.Status != domain.SaleStatusPaid {
		t.Fatalf("expected paid, got %s", resp.Sale.Status)
	}
	if resp.Sale.PaymentDate == nil {
		t.Fatalf("expected payment date set")
	}

	got, err := svc.GetVehicle(context.Background(), vehicle.ID)
	if err != nil {
		t.Fatalf("get vehicle: %v", err)
	}
	if got.Status != domain.VehicleStatusSold {
		t.Fatalf("expected vehicle sold, got %s", got.Status)
	}
}

func TestConfirmPaymentIsGuardedOnTerminalStates(t *testing.T) {
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

	_, err = svc.ConfirmPayment(salesCtx(), created.Sale.ID)
	if !errors.Is(err, store.ErrStateTransition) {
		t.Fatalf("expected state transition error, got %v", err)
	}
	if !strings.Contains(err.Error(), "already paid") {
		t.Fatalf("expected 'already paid', got %q", err.Error())
	}
}

func TestCancelPendingSaleAppendsReasonAndFreesVehicle(t *testing.T) {
	svc, _ := newTestService()
	vehicle := mustCreateVehicle(t, svc, 50000)

	created, err := svc.CreateSale(salesCtx(), domain.SaleCreateRequest{
		CustomerID: "cust-budi-01",
		VehicleID:  vehicle.ID,
	})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}

	resp, err := svc.Cancel(salesCtx(), created.Sale.ID, "buyer withdrew")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if resp.Sale.Status != domain.SaleStatusCancelled {
		t.Fatalf("expected cancelled, got %s", resp.Sale.Status)
	}
	if !strings.Contains(resp.Sale.Notes, "buyer withdrew") {
		t.Fatalf("expected reason in notes, got %q", resp.Sale.Notes)
	}

	got, err := svc.GetVehicle(context.Background(), vehicle.ID)
	if err != nil {
		t.Fatalf("get vehicle: %v", err)
	}
	if got.Status != domain.VehicleStatusAvailable {
		t.Fatalf("expected vehicle released, got %s", got.Status)
	}
}

func TestCancelPaidSaleRejectedWithoutForce(t *testing.T) {
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

	_, err = svc.Cancel(salesCtx(), created.Sale.ID, "changed mind")
	if !errors.Is(err, store.ErrStateTransition) {
		t.Fatalf("expected state transition error, got %v", err)
	}
	if !strings.Contains(err.Error(), "paid transaction cannot be cancelled") {
		t.Fatalf("unexpected message: %q", err.Error())
	}

	got, err := svc.GetVehicle(context.Background(), vehicle.ID)
	if err != nil {
		t.Fatalf("get vehicle: %v", err)
	}
	if got.Status != domain.VehicleStatusSold {
		t.Fatalf("expected vehicle still sold, got %s", got.Status)
	}
}

func TestCancelCancelledSaleRejected(t *testing.T) {
	svc, _ := newTestService()
	vehicle := mustCreateVehicle(t, svc, 50000)

	created, err := svc.CreateSale(salesCtx(), domain.SaleCreateRequest{
		CustomerID: "cust-budi-01",
		VehicleID:  vehicle.ID,
	})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}
	if _, err := svc.Cancel(salesCtx(), created.Sale.ID, ""); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	_, err = svc.Cancel(salesCtx(), created.Sale.ID, "")
	if !errors.Is(err, store.ErrStateTransition) {
		t.Fatalf("expected state transition error, got %v", err)
	}
	if !strings.Contains(err.Error(), "already cancelled") {
		t.Fatalf("unexpected message: %q", err.Error())
	}
}

func TestOverrideStatusForcedCancelReleasesSoldVehicle(t *testing.T) {
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

	resp, err := svc.OverrideSaleStatus(adminCtx(), created.Sale.ID, "cancelled", "refund approved")
	if err != nil {
		t.Fatalf("override: %v", err)
	}
	if resp.Sale.Status != domain.SaleStatusCancelled {
		t.Fatalf("expected cancelled, got %s", resp.Sale.Status)
	}

	got, err := svc.GetVehicle(context.Background(), vehicle.ID)
	if err != nil {
		t.Fatalf("get vehicle: %v", err)
	}
	if got.Status != domain.VehicleStatusAvailable {
		t.Fatalf("expected vehicle released from sold, got %s", got.Status)
	}
}

func TestOverrideStatusCannotReturnToPending(t *testing.T) {
	svc, _ := newTestService()
	vehicle := mustCreateVehicle(t, svc, 50000)

	created, err := svc.CreateSale(salesCtx(), domain.SaleCreateRequest{
		CustomerID: "cust-budi-01",
		VehicleID:  vehicle.ID,
	})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}
	if _, err := svc.Cancel(salesCtx(), created.Sale.ID, ""); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	_, err = svc.OverrideSaleStatus(adminCtx(), created.Sale.ID, "pending", "")
	if !errors.Is(err, store.ErrStateTransition) {
		t.Fatalf("expected state transition error, got %v", err)
	}
}

func TestOverrideStatusRequiresAdmin(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.OverrideSaleStatus(salesCtx(), "sale-any", "cancelled", "")
	if err == nil || !strings.Contains(err.Error(), "admin role required") {
		t.Fatalf("expected admin role error, got %v", err)
	}
}

func TestPurchaseForcesSellerToPrincipal(t *testing.T) {
	svc, _ := newTestService()
	vehicle := mustCreateVehicle(t, svc, 50000)

	resp, err := svc.Purchase(customerCtx("budi"), domain.PurchaseRequest{
		CustomerID:    "cust-budi-01",
		VehicleID:     vehicle.ID,
		PaymentMethod: "transfer",
	})
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if resp.Sale.SellerUsername != "budi" {
		t.Fatalf("expected seller fixed to principal, got %s", resp.Sale.SellerUsername)
	}
}

func TestCreateSaleForbiddenForCustomers(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.CreateSale(customerCtx("budi"), domain.SaleCreateRequest{
		CustomerID:     "cust-budi-01",
		VehicleID:      "veh-avanza-01",
		SellerUsername: "someone-else",
	})
	if err == nil || !strings.Contains(err.Error(), "role required") {
		t.Fatalf("expected role error, got %v", err)
	}
}

func TestConcurrentPurchaseHasSingleWinner(t *testing.T) {
	svc, _ := newTestService()
	vehicle := mustCreateVehicle(t, svc, 50000)

	const buyers = 8
	var wg sync.WaitGroup
	results := make(chan error, buyers)

	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Purchase(customerCtx("budi"), domain.PurchaseRequest{
				CustomerID: "cust-budi-01",
				VehicleID:  vehicle.ID,
			})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var wins, conflicts int
	for err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, store.ErrConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}
	if conflicts != buyers-1 {
		t.Fatalf("expected %d conflicts, got %d", buyers-1, conflicts)
	}
}

func TestCreateSaleIdempotencyReplay(t *testing.T) {
	svc, _ := newTestService()
	vehicle := mustCreateVehicle(t, svc, 50000)

	req := domain.SaleCreateRequest{
		CustomerID:     "cust-budi-01",
		VehicleID:      vehicle.ID,
		IdempotencyKey: "idem-retry-1",
	}
	first, err := svc.CreateSale(salesCtx(), req)
	if err != nil {
		t.Fatalf("first create: %v", err)
	}
	if first.Duplicate {
		t.Fatalf("first create flagged duplicate")
	}

	second, err := svc.CreateSale(salesCtx(), req)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !second.Duplicate {
		t.Fatalf("expected duplicate flag on replay")
	}
	if second.Sale.ID != first.Sale.ID {
		t.Fatalf("expected same sale on replay, got %s vs %s", second.Sale.ID, first.Sale.ID)
	}
}

func TestDeleteSaleFreesReservedVehicle(t *testing.T) {
	svc, _ := newTestService()
	vehicle := mustCreateVehicle(t, svc, 50000)

	created, err := svc.CreateSale(salesCtx(), domain.SaleCreateRequest{
		CustomerID: "cust-budi-01",
		VehicleID:  vehicle.ID,
	})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}

	if err := svc.DeleteSale(salesCtx(), created.Sale.ID); err != nil {
		t.Fatalf("delete sale: %v", err)
	}

	if _, err := svc.GetSale(context.Background(), created.Sale.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected sale gone, got %v", err)
	}
	got, err := svc.GetVehicle(context.Background(), vehicle.ID)
	if err != nil {
		t.Fatalf("get vehicle: %v", err)
	}
	if got.Status != domain.VehicleStatusAvailable {
		t.Fatalf("expected vehicle released, got %s", got.Status)
	}
}

func TestDeleteSaleRejectsPaid(t *testing.T) {
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

	if err := svc.DeleteSale(salesCtx(), created.Sale.ID); !errors.Is(err, store.ErrStateTransition) {
		t.Fatalf("expected state transition error, got %v", err)
	}
}

func TestApplyExternalInventoryStatusMapping(t *testing.T) {
	svc, _ := newTestService()
	vehicle := mustCreateVehicle(t, svc, 50000)

	cases := []struct {
		external string
		want     string
	}{
		{"PAID", domain.VehicleStatusSold},
		{"PENDING", domain.VehicleStatusReserved},
		{"CANCELLED", domain.VehicleStatusAvailable},
		{"paid", domain.VehicleStatusSold},
	}
	for _, tc := range cases {
		if err := svc.ApplyExternalInventoryStatus(context.Background(), domain.InventoryWebhookRequest{
			VehicleID:      vehicle.ID,
			ExternalStatus: tc.external,
		}); err != nil {
			t.Fatalf("apply %s: %v", tc.external, err)
		}
		got, err := svc.GetVehicle(context.Background(), vehicle.ID)
		if err != nil {
			t.Fatalf("get vehicle: %v", err)
		}
		if got.Status != tc.want {
			t.Fatalf("external %s: expected %s, got %s", tc.external, tc.want, got.Status)
		}
	}

	err := svc.ApplyExternalInventoryStatus(context.Background(), domain.InventoryWebhookRequest{
		VehicleID:      vehicle.ID,
		ExternalStatus: "REFUNDED",
	})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error for unknown status, got %v", err)
	}
}

func TestListSalesRequiresStaff(t *testing.T) {
	svc, _ := newTestService()

	if _, err := svc.ListSales(customerCtx("budi"), ""); err == nil {
		t.Fatalf("expected role error for customer listing")
	}
	if _, err := svc.ListSales(salesCtx(), "bogus"); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error for unknown status filter")
	}
}

func TestListAuditLogsRecordsLifecycle(t *testing.T) {
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

	logs, err := svc.ListAuditLogs(adminCtx(), "", 100)
	if err != nil {
		t.Fatalf("list audit logs: %v", err)
	}

	actions := map[string]bool{}
	for _, entry := range logs {
		actions[entry.Action] = true
	}
	for _, want := range []string{"vehicle_create", "sale_create", "sale_confirm_payment"} {
		if !actions[want] {
			t.Fatalf("expected %s in audit log, got %v", want, actions)
		}
	}
}
