// Package ledger holds the stock and profit arithmetic applied when a sale is
// recorded, reversed, or when stock is adjusted by hand. Every function is pure:
// callers persist the returned records through a version-guarded store write.
package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"

	"stockbook/backend/internal/domain"
	"stockbook/backend/internal/store"
)

// MoneyScale is the number of fractional digits stored for monetary amounts.
const MoneyScale = 2

type SaleInput struct {
	Units          int
	SellPrice      decimal.Decimal
	OverrideCost   *decimal.Decimal
	IdempotencyKey string
}

type SalePlan struct {
	Sale    domain.Sale
	Product domain.Product
}

// ValidateAmount rejects negative amounts and amounts finer than a cent.
func ValidateAmount(field string, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return store.Invalid(field, "must not be negative")
	}
	if !amount.Equal(amount.Round(MoneyScale)) {
		return store.Invalid(field, fmt.Sprintf("must have at most %d decimal places", MoneyScale))
	}
	return nil
}

// PlanSale validates a sale against the product's current state and returns
// the sale record to insert together with the product as it must look after.
// Sale.ID and Sale.CreatedAt are left for the caller.
func PlanSale(product domain.Product, in SaleInput) (SalePlan, error) {
	if in.Units <= 0 {
		return SalePlan{}, store.Invalid("units", "must be a positive integer")
	}
	if err := ValidateAmount("sell_price", in.SellPrice); err != nil {
		return SalePlan{}, err
	}
	if in.OverrideCost != nil {
		if err := ValidateAmount("override_cost", *in.OverrideCost); err != nil {
			return SalePlan{}, err
		}
	}
	if in.Units > product.Quantity {
		return SalePlan{}, fmt.Errorf("%w: requested %d, on hand %d", store.ErrInsufficientStock, in.Units, product.Quantity)
	}

	effectiveCost := product.Cost
	var newCost *decimal.Decimal
	if in.OverrideCost != nil {
		override := *in.OverrideCost
		effectiveCost = override
		newCost = &override
	}

	profit := in.SellPrice.Sub(effectiveCost).Mul(decimal.NewFromInt(int64(in.Units)))

	next := product
	next.Quantity = product.Quantity - in.Units
	next.Profit = product.Profit.Add(profit)

	return SalePlan{
		Sale: domain.Sale{
			UserID:         product.UserID,
			ProductID:      product.ID,
			ProductName:    product.Name,
			Units:          in.Units,
			SellPrice:      in.SellPrice,
			Cost:           product.Cost,
			NewCost:        newCost,
			Profit:         profit,
			IdempotencyKey: in.IdempotencyKey,
		},
		Product: next,
	}, nil
}

// PlanReversal returns the product as it would be had sale never happened.
func PlanReversal(product domain.Product, sale domain.Sale) (domain.Product, error) {
	if sale.ProductID != product.ID {
		return domain.Product{}, store.Invalid("product_id", "sale does not belong to product")
	}
	if sale.Units <= 0 {
		return domain.Product{}, store.Invalid("units", "sale has no units to restore")
	}

	next := product
	next.Quantity = product.Quantity + sale.Units
	next.Profit = product.Profit.Sub(sale.Profit)
	return next, nil
}

// PlanAdjustment applies a manual stock correction. Profit is left untouched.
func PlanAdjustment(product domain.Product, delta int) (domain.Product, error) {
	if delta == 0 {
		return domain.Product{}, store.Invalid("delta", "must not be zero")
	}
	if product.Quantity+delta < 0 {
		return domain.Product{}, fmt.Errorf("%w: adjustment %d on %d units", store.ErrInsufficientStock, delta, product.Quantity)
	}

	next := product
	next.Quantity = product.Quantity + delta
	return next, nil
}
