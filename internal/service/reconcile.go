package service

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"stockbook/backend/internal/domain"
)

// ReconcileLedger compares each product's stored profit with the sum of its
// logged sales. Products start at zero profit, so the two must agree.
//
// Products and sales are read separately, so a sale committing in between
// shows up as drift. Drift is only reported when a second read sees the same
// product version drifting by the same amount.
func (s *Service) ReconcileLedger(ctx context.Context, userID string) (*domain.ReconcileReport, error) {
	first, firstVersions, err := s.reconcileOnce(ctx, userID)
	if err != nil || len(first.Drifts) == 0 {
		return first, err
	}
	second, secondVersions, err := s.reconcileOnce(ctx, userID)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]domain.ProductDrift, len(first.Drifts))
	for _, d := range first.Drifts {
		seen[d.ProductID] = d
	}
	confirmed := make([]domain.ProductDrift, 0, len(second.Drifts))
	for _, d := range second.Drifts {
		prev, ok := seen[d.ProductID]
		if !ok || firstVersions[d.ProductID] != secondVersions[d.ProductID] {
			continue
		}
		if prev.StoredProfit.Equal(d.StoredProfit) && prev.LedgerProfit.Equal(d.LedgerProfit) {
			confirmed = append(confirmed, d)
		}
	}
	second.Drifts = confirmed
	return second, nil
}

func (s *Service) reconcileOnce(ctx context.Context, userID string) (*domain.ReconcileReport, map[string]int64, error) {
	products, err := s.repo.ListProducts(ctx, domain.ProductFilter{UserID: userID})
	if err != nil {
		return nil, nil, err
	}
	sales, err := s.repo.ListSales(ctx, domain.SaleFilter{UserID: userID})
	if err != nil {
		return nil, nil, err
	}

	ledgerProfit := make(map[string]decimal.Decimal, len(products))
	for _, sale := range sales {
		ledgerProfit[sale.ProductID] = ledgerProfit[sale.ProductID].Add(sale.Profit)
	}

	report := &domain.ReconcileReport{
		UserID:          userID,
		ProductsChecked: len(products),
		SalesChecked:    len(sales),
		Drifts:          []domain.ProductDrift{},
		CheckedAt:       s.now(),
	}
	versions := make(map[string]int64, len(products))
	for _, p := range products {
		versions[p.ID] = p.Version
		expected := ledgerProfit[p.ID]
		if !p.Profit.Equal(expected) {
			report.Drifts = append(report.Drifts, domain.ProductDrift{
				ProductID:    p.ID,
				ProductName:  p.Name,
				StoredProfit: p.Profit,
				LedgerProfit: expected,
			})
		}
	}
	for _, sale := range sales {
		if _, ok := versions[sale.ProductID]; !ok {
			report.OrphanSales++
		}
	}
	return report, versions, nil
}

// ReconcileForCaller runs reconciliation for the authenticated user. Admins
// may name another user.
func (s *Service) ReconcileForCaller(ctx context.Context, userID string) (*domain.ReconcileReport, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return nil, err
	}
	userID = strings.TrimSpace(userID)
	if userID == "" || userID == actor.UserID {
		return s.ReconcileLedger(ctx, actor.UserID)
	}
	if _, err := s.requireAdmin(ctx); err != nil {
		return nil, err
	}
	return s.ReconcileLedger(ctx, userID)
}

// ScheduleReconcile queues a reconcile run for the caller on the worker.
func (s *Service) ScheduleReconcile(ctx context.Context) error {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return err
	}
	return s.dispatcher.EnqueueReconcile(ctx, actor.UserID)
}

func (s *Service) ReconcileAll(ctx context.Context) ([]domain.ReconcileReport, error) {
	users, err := s.repo.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	reports := make([]domain.ReconcileReport, 0, len(users))
	for _, user := range users {
		report, err := s.ReconcileLedger(ctx, user.ID)
		if err != nil {
			return nil, err
		}
		reports = append(reports, *report)
	}
	return reports, nil
}

func (s *Service) logDrift(report domain.ReconcileReport) {
	for _, drift := range report.Drifts {
		s.logger.WithFields(logrus.Fields{
			"module":        "reconcile",
			"user_id":       report.UserID,
			"product_id":    drift.ProductID,
			"stored_profit": drift.StoredProfit.String(),
			"ledger_profit": drift.LedgerProfit.String(),
		}).Warn("ledger drift detected")
	}
}
