package service

import (
	"context"
	"errors"
	"strings"

	"github.com/sirupsen/logrus"

	"stockbook/backend/internal/domain"
	"stockbook/backend/internal/ledger"
	"stockbook/backend/internal/lock"
	"stockbook/backend/internal/logging"
	"stockbook/backend/internal/store"
	"stockbook/backend/internal/xid"
)

// RecordSale inserts a sale and applies its stock and profit delta to the
// product in one transaction. A repeated idempotency key returns the original
// sale without applying anything.
func (s *Service) RecordSale(ctx context.Context, req domain.RecordSaleRequest) (domain.SaleResponse, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return domain.SaleResponse{}, err
	}
	req.ProductID = strings.TrimSpace(req.ProductID)
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	if err := s.validateStruct(req); err != nil {
		return domain.SaleResponse{}, err
	}

	release, err := s.acquire(ctx, lock.ProductKey(req.ProductID))
	if err != nil {
		return domain.SaleResponse{}, err
	}
	defer release()

	var resp domain.SaleResponse
	err = s.withConflictRetry(ctx, "record_sale", func() error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx store.LedgerTx) error {
			if req.IdempotencyKey != "" {
				existing, err := tx.FindSaleByIdempotency(ctx, actor.UserID, req.IdempotencyKey)
				if err == nil {
					if existing.ProductID != req.ProductID {
						return store.Invalid("idempotency_key", "already used for another product")
					}
					resp = domain.SaleResponse{Sale: *existing, Duplicate: true}
					product, err := tx.GetProductForUpdate(ctx, actor.UserID, existing.ProductID)
					if err == nil {
						resp.Product = *product
					} else if !errors.Is(err, store.ErrNotFound) {
						return err
					}
					return nil
				}
				if errors.Is(err, store.ErrKeyRetired) {
					return store.Invalid("idempotency_key", "belongs to a reversed sale")
				}
				if !errors.Is(err, store.ErrNotFound) {
					return err
				}
			}

			product, err := tx.GetProductForUpdate(ctx, actor.UserID, req.ProductID)
			if err != nil {
				return err
			}
			plan, err := ledger.PlanSale(*product, ledger.SaleInput{
				Units:          req.Units,
				SellPrice:      req.SellPrice,
				OverrideCost:   req.OverrideCost,
				IdempotencyKey: req.IdempotencyKey,
			})
			if err != nil {
				return err
			}

			updated, err := tx.UpdateProductIfVersion(ctx, plan.Product, product.Version)
			if err != nil {
				return err
			}
			plan.Sale.ID = xid.New("sale")
			plan.Sale.CreatedAt = s.now()
			sale, err := tx.CreateSale(ctx, plan.Sale)
			if err != nil {
				return err
			}

			resp = domain.SaleResponse{Sale: *sale, Product: *updated}
			return nil
		})
	})
	if err != nil {
		if !errors.Is(err, store.ErrValidation) && !errors.Is(err, store.ErrNotFound) {
			logging.LogError(s.logger, "service", "RecordSale", "record sale", req, err)
		}
		return domain.SaleResponse{}, err
	}

	s.metrics.SaleRecorded(resp.Duplicate)
	if !resp.Duplicate {
		s.invalidateDashboard(ctx, actor.UserID)
		s.logAudit(ctx, "sale_record", "sale", resp.Sale.ID, logrus.Fields{
			"product_id": resp.Sale.ProductID,
			"units":      resp.Sale.Units,
			"profit":     resp.Sale.Profit.String(),
		})
	}
	return resp, nil
}

// ReverseSale deletes a sale and restores its units and profit to the
// product. When the product no longer exists the sale is still removed and
// the response is flagged as an orphan.
func (s *Service) ReverseSale(ctx context.Context, saleID string) (domain.ReverseSaleResponse, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return domain.ReverseSaleResponse{}, err
	}
	saleID = strings.TrimSpace(saleID)
	if saleID == "" {
		return domain.ReverseSaleResponse{}, store.Invalid("sale_id", "is required")
	}

	sale, err := s.repo.GetSale(ctx, actor.UserID, saleID)
	if err != nil {
		return domain.ReverseSaleResponse{}, err
	}
	release, err := s.acquire(ctx, lock.ProductKey(sale.ProductID))
	if err != nil {
		return domain.ReverseSaleResponse{}, err
	}
	defer release()

	var resp domain.ReverseSaleResponse
	err = s.withConflictRetry(ctx, "reverse_sale", func() error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx store.LedgerTx) error {
			resp = domain.ReverseSaleResponse{SaleID: saleID}
			current, err := tx.GetSaleForUpdate(ctx, actor.UserID, saleID)
			if err != nil {
				return err
			}

			product, err := tx.GetProductForUpdate(ctx, actor.UserID, current.ProductID)
			switch {
			case errors.Is(err, store.ErrNotFound):
				resp.Orphan = true
			case err != nil:
				return err
			default:
				restored, err := ledger.PlanReversal(*product, *current)
				if err != nil {
					return err
				}
				updated, err := tx.UpdateProductIfVersion(ctx, restored, product.Version)
				if err != nil {
					return err
				}
				resp.Product = updated
			}

			return tx.DeleteSale(ctx, actor.UserID, saleID)
		})
	})
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) && !errors.Is(err, store.ErrValidation) {
			logging.LogError(s.logger, "service", "ReverseSale", "reverse sale", saleID, err)
		}
		return domain.ReverseSaleResponse{}, err
	}

	s.metrics.SaleReversed(resp.Orphan)
	if resp.Orphan {
		s.logger.WithFields(logrus.Fields{
			"module":     "service",
			"sale_id":    saleID,
			"product_id": sale.ProductID,
			"user_id":    actor.UserID,
		}).Warn("reversed sale whose product no longer exists")
	}
	s.invalidateDashboard(ctx, actor.UserID)
	s.logAudit(ctx, "sale_reverse", "sale", saleID, logrus.Fields{
		"product_id": sale.ProductID,
		"units":      sale.Units,
		"orphan":     resp.Orphan,
	})
	return resp, nil
}

// AdjustQuantity applies a manual stock correction guarded by the product version.
func (s *Service) AdjustQuantity(ctx context.Context, productID string, req domain.QuantityAdjustRequest) (domain.Product, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return domain.Product{}, err
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.Product{}, store.Invalid("product_id", "is required")
	}
	if err := s.validateStruct(req); err != nil {
		return domain.Product{}, err
	}

	release, err := s.acquire(ctx, lock.ProductKey(productID))
	if err != nil {
		return domain.Product{}, err
	}
	defer release()

	var updated *domain.Product
	err = s.withConflictRetry(ctx, "adjust_quantity", func() error {
		product, err := s.repo.GetProduct(ctx, actor.UserID, productID)
		if err != nil {
			return err
		}
		next, err := ledger.PlanAdjustment(*product, req.Delta)
		if err != nil {
			return err
		}
		updated, err = s.repo.UpdateProductIfVersion(ctx, next, product.Version)
		return err
	})
	if err != nil {
		return domain.Product{}, err
	}

	s.metrics.QuantityAdjusted()
	s.invalidateDashboard(ctx, actor.UserID)
	s.logAudit(ctx, "quantity_adjust", "product", productID, logrus.Fields{
		"delta":    req.Delta,
		"quantity": updated.Quantity,
	})
	return *updated, nil
}
