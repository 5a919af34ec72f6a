package service

import (
	"context"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"stockbook/backend/internal/domain"
)

const recentSalesOnDashboard = 10

// Dashboard summarises stock and sales for the caller. Results are cached per
// user and dropped whenever a ledger write touches that user.
func (s *Service) Dashboard(ctx context.Context) (domain.DashboardSummary, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return domain.DashboardSummary{}, err
	}

	if cached, ok, err := s.cache.Get(ctx, actor.UserID); err != nil {
		s.logger.WithError(err).Warn("dashboard cache read failed")
	} else if ok {
		return *cached, nil
	}

	gen := s.dashboardGeneration(actor.UserID)
	built := gen.Load()

	var (
		products []domain.Product
		sales    []domain.Sale
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		products, err = s.repo.ListProducts(gctx, domain.ProductFilter{UserID: actor.UserID})
		return err
	})
	g.Go(func() error {
		var err error
		sales, err = s.repo.ListSales(gctx, domain.SaleFilter{UserID: actor.UserID})
		return err
	})
	if err := g.Wait(); err != nil {
		return domain.DashboardSummary{}, err
	}

	summary := summarize(products, sales)
	summary.GeneratedAt = s.now()

	// A write that invalidated while the summary was being built makes it
	// stale; it is still returned but never cached.
	if gen.Load() != built {
		return summary, nil
	}
	if err := s.cache.Set(ctx, actor.UserID, &summary, s.dashboardTTL); err != nil {
		s.logger.WithError(err).Warn("dashboard cache write failed")
	}
	if gen.Load() != built {
		s.invalidateDashboard(ctx, actor.UserID)
	}
	return summary, nil
}

func summarize(products []domain.Product, sales []domain.Sale) domain.DashboardSummary {
	summary := domain.DashboardSummary{
		TotalProducts: len(products),
		StockValue:    decimal.Zero,
		TotalProfit:   decimal.Zero,
		SalesCount:    len(sales),
		SalesRevenue:  decimal.Zero,
		SalesCost:     decimal.Zero,
		RecentSales:   []domain.Sale{},
	}
	for _, p := range products {
		summary.UnitsInStock += p.Quantity
		summary.StockValue = summary.StockValue.Add(p.StockValue())
		summary.TotalProfit = summary.TotalProfit.Add(p.Profit)
		switch {
		case p.Quantity == 0:
			summary.OutOfStock++
		case p.Quantity < domain.LowStockThreshold:
			summary.LowStock++
		}
	}
	for i, sale := range sales {
		summary.SalesRevenue = summary.SalesRevenue.Add(sale.Revenue())
		summary.SalesCost = summary.SalesCost.Add(sale.TotalCost())
		if i < recentSalesOnDashboard {
			summary.RecentSales = append(summary.RecentSales, sale)
		}
	}
	summary.MoneySpent = summary.StockValue.Add(summary.SalesCost)
	return summary
}
