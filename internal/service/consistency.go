package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"otodeal/backend/internal/domain"
)

// Violation kinds reported by the consistency audit.
const (
	ViolationNegativeAmount        = "negative_amount"
	ViolationDiscountExceedsTotal  = "discount_exceeds_total"
	ViolationFinalMismatch         = "final_amount_mismatch"
	ViolationOrphanCustomer        = "orphan_customer"
	ViolationOrphanVehicle         = "orphan_vehicle"
	ViolationFutureSaleDate        = "future_sale_date"
	ViolationPaymentBeforeSale     = "payment_before_sale_date"
	ViolationSoldWithoutPaid       = "sold_without_paid_sale"
	ViolationReservedWithoutOpen   = "reserved_without_pending_sale"
	ViolationAvailableWithOpenSale = "available_with_active_sale"
)

// RunConsistencyAudit cross-checks every sale against its references and
// every vehicle against the sales that should explain its status. The
// report is advisory; nothing is mutated.
func (s *Service) RunConsistencyAudit(ctx context.Context) (domain.ConsistencyReport, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.ConsistencyReport{}, err
	}
	return s.runConsistencyAudit(ctx)
}

// runConsistencyAudit is the unauthenticated core used by the periodic
// reconciler, which runs outside any request actor.
func (s *Service) runConsistencyAudit(ctx context.Context) (domain.ConsistencyReport, error) {
	report := domain.ConsistencyReport{
		Counts:      map[string]int{},
		GeneratedAt: time.Now().UTC(),
	}

	sales, err := s.repo.ListSales(ctx, "")
	if err != nil {
		return domain.ConsistencyReport{}, err
	}
	vehicles, err := s.repo.ListVehicles(ctx, "")
	if err != nil {
		return domain.ConsistencyReport{}, err
	}
	customers, err := s.repo.ListCustomers(ctx)
	if err != nil {
		return domain.ConsistencyReport{}, err
	}

	vehicleByID := make(map[string]domain.Vehicle, len(vehicles))
	for _, v := range vehicles {
		vehicleByID[v.ID] = v
	}
	customerIDs := make(map[string]struct{}, len(customers))
	for _, c := range customers {
		customerIDs[c.ID] = struct{}{}
	}

	// Active sales per vehicle, used for the status cross-checks below.
	paidByVehicle := map[string]int{}
	pendingByVehicle := map[string]int{}

	now := time.Now().UTC()
	for _, sale := range sales {
		report.CheckedSales++

		if sale.TotalCents < 0 || sale.DiscountCents < 0 || sale.FinalCents < 0 {
			addViolation(&report, ViolationNegativeAmount, sale.ID,
				fmt.Sprintf("total=%d discount=%d final=%d", sale.TotalCents, sale.DiscountCents, sale.FinalCents))
		}
		if sale.DiscountCents > sale.TotalCents {
			addViolation(&report, ViolationDiscountExceedsTotal, sale.ID,
				fmt.Sprintf("discount=%d exceeds total=%d", sale.DiscountCents, sale.TotalCents))
		}
		if sale.FinalCents != sale.TotalCents-sale.DiscountCents {
			addViolation(&report, ViolationFinalMismatch, sale.ID,
				fmt.Sprintf("final=%d, expected %d", sale.FinalCents, sale.TotalCents-sale.DiscountCents))
		}
		if _, ok := customerIDs[sale.CustomerID]; !ok {
			addViolation(&report, ViolationOrphanCustomer, sale.ID,
				fmt.Sprintf("customer %s not found", sale.CustomerID))
		}
		if _, ok := vehicleByID[sale.VehicleID]; !ok {
			addViolation(&report, ViolationOrphanVehicle, sale.ID,
				fmt.Sprintf("vehicle %s not found", sale.VehicleID))
		}
		if sale.SaleDate.After(now.Add(time.Minute)) {
			addViolation(&report, ViolationFutureSaleDate, sale.ID,
				fmt.Sprintf("sale date %s is in the future", sale.SaleDate.Format(time.RFC3339)))
		}
		if sale.PaymentDate != nil && sale.PaymentDate.Before(sale.SaleDate) {
			addViolation(&report, ViolationPaymentBeforeSale, sale.ID,
				fmt.Sprintf("paid %s before sale date %s",
					sale.PaymentDate.Format(time.RFC3339), sale.SaleDate.Format(time.RFC3339)))
		}

		switch sale.Status {
		case domain.SaleStatusPaid:
			paidByVehicle[sale.VehicleID]++
		case domain.SaleStatusPending:
			pendingByVehicle[sale.VehicleID]++
		}
	}

	for _, vehicle := range vehicles {
		report.CheckedVehicles++

		paid := paidByVehicle[vehicle.ID]
		pending := pendingByVehicle[vehicle.ID]

		switch vehicle.Status {
		case domain.VehicleStatusSold:
			if paid != 1 {
				addViolation(&report, ViolationSoldWithoutPaid, vehicle.ID,
					fmt.Sprintf("sold vehicle has %d paid sales", paid))
			}
		case domain.VehicleStatusReserved:
			if pending != 1 {
				addViolation(&report, ViolationReservedWithoutOpen, vehicle.ID,
					fmt.Sprintf("reserved vehicle has %d pending sales", pending))
			}
		case domain.VehicleStatusAvailable:
			if paid > 0 || pending > 0 {
				addViolation(&report, ViolationAvailableWithOpenSale, vehicle.ID,
					fmt.Sprintf("available vehicle has %d paid and %d pending sales", paid, pending))
			}
		}
	}

	return report, nil
}

// StartReconciler periodically re-runs the audit in the background and
// logs when the stores have drifted. It returns immediately; the loop
// stops when ctx is cancelled.
func (s *Service) StartReconciler(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				report, err := s.runConsistencyAudit(ctx)
				if err != nil {
					log.Printf("[service] WARN: consistency audit failed: %v", err)
					continue
				}
				if total := report.Total(); total > 0 {
					log.Printf("[service] WARN: consistency audit found %d violations across %d sales and %d vehicles",
						total, report.CheckedSales, report.CheckedVehicles)
					for _, v := range report.Violations {
						log.Printf("[service] WARN: consistency violation %s entity=%s: %s", v.Kind, v.EntityID, v.Detail)
					}
				}
			}
		}
	}()
}

func addViolation(report *domain.ConsistencyReport, kind, entityID, detail string) {
	report.Violations = append(report.Violations, domain.ConsistencyViolation{
		Kind:     kind,
		EntityID: entityID,
		Detail:   detail,
	})
	report.Counts[kind]++
}
