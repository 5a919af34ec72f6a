package service

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"stockbook/backend/internal/blob"
	"stockbook/backend/internal/domain"
	"stockbook/backend/internal/ledger"
	"stockbook/backend/internal/store"
	"stockbook/backend/internal/xid"
)

func (s *Service) ListProducts(ctx context.Context, filter domain.ProductFilter) ([]domain.Product, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return nil, err
	}
	filter.UserID = actor.UserID
	filter.Search = strings.TrimSpace(filter.Search)
	switch filter.Sort {
	case domain.SortNewest, domain.SortName, domain.SortQuantity, domain.SortPrice, domain.SortCost:
	default:
		return nil, store.Invalid("sort", "unknown sort key")
	}
	if filter.Type != "" && !domain.IsProductType(filter.Type) {
		return nil, store.Invalid("type", "unknown product type")
	}
	return s.repo.ListProducts(ctx, filter)
}

func (s *Service) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return domain.Product{}, err
	}
	product, err := s.repo.GetProduct(ctx, actor.UserID, strings.TrimSpace(id))
	if err != nil {
		return domain.Product{}, err
	}
	return *product, nil
}

// CreateProduct starts a product with zero cumulative profit.
func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return domain.Product{}, err
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Type = strings.TrimSpace(req.Type)
	req.ImageURL = strings.TrimSpace(req.ImageURL)
	if err := s.validateStruct(req); err != nil {
		return domain.Product{}, err
	}
	if !domain.IsProductType(req.Type) {
		return domain.Product{}, store.Invalid("type", "unknown product type")
	}
	if err := validatePrices(req.Cost, req.Price); err != nil {
		return domain.Product{}, err
	}

	now := s.now()
	created, err := s.repo.CreateProduct(ctx, domain.Product{
		ID:        xid.New("prd"),
		UserID:    actor.UserID,
		Name:      req.Name,
		Type:      req.Type,
		Quantity:  req.Quantity,
		Cost:      req.Cost,
		Price:     req.Price,
		Profit:    decimal.Zero,
		ImageURL:  req.ImageURL,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return domain.Product{}, err
	}

	s.invalidateDashboard(ctx, actor.UserID)
	s.logAudit(ctx, "product_create", "product", created.ID, logrus.Fields{
		"name":     created.Name,
		"quantity": created.Quantity,
	})
	return *created, nil
}

// UpdateProduct edits descriptive fields. With an explicit version the write
// fails on mismatch; without one it retries against fresh reads.
func (s *Service) UpdateProduct(ctx context.Context, id string, req domain.ProductUpdateRequest) (domain.Product, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return domain.Product{}, err
	}
	id = strings.TrimSpace(id)
	if err := s.validateStruct(req); err != nil {
		return domain.Product{}, err
	}

	apply := func(existing domain.Product) (domain.Product, error) {
		next := existing
		if req.Name != nil {
			name := strings.TrimSpace(*req.Name)
			if name == "" {
				return domain.Product{}, store.Invalid("name", "must not be empty")
			}
			next.Name = name
		}
		if req.Type != nil {
			if !domain.IsProductType(*req.Type) {
				return domain.Product{}, store.Invalid("type", "unknown product type")
			}
			next.Type = *req.Type
		}
		if req.Cost != nil {
			next.Cost = *req.Cost
		}
		if req.Price != nil {
			next.Price = *req.Price
		}
		if req.ImageURL != nil {
			next.ImageURL = strings.TrimSpace(*req.ImageURL)
		}
		if err := validatePrices(next.Cost, next.Price); err != nil {
			return domain.Product{}, err
		}
		return next, nil
	}

	var previousImage string
	var updated *domain.Product
	write := func() error {
		existing, err := s.repo.GetProduct(ctx, actor.UserID, id)
		if err != nil {
			return err
		}
		expected := existing.Version
		if req.Version != nil {
			expected = *req.Version
		}
		next, err := apply(*existing)
		if err != nil {
			return err
		}
		previousImage = existing.ImageURL
		updated, err = s.repo.UpdateProductIfVersion(ctx, next, expected)
		return err
	}

	if req.Version != nil {
		err = write()
	} else {
		err = s.withConflictRetry(ctx, "update_product", write)
	}
	if err != nil {
		return domain.Product{}, err
	}

	if previousImage != "" && previousImage != updated.ImageURL {
		s.cleanupBlob(ctx, actor.UserID, previousImage)
	}
	s.invalidateDashboard(ctx, actor.UserID)
	s.logAudit(ctx, "product_update", "product", updated.ID, logrus.Fields{"version": updated.Version})
	return *updated, nil
}

// DeleteProduct removes the product. Its sales are kept; reversing one later
// is reported as an orphan.
func (s *Service) DeleteProduct(ctx context.Context, id string) error {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return err
	}
	id = strings.TrimSpace(id)

	existing, err := s.repo.GetProduct(ctx, actor.UserID, id)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteProduct(ctx, actor.UserID, id); err != nil {
		return err
	}

	if existing.ImageURL != "" {
		s.cleanupBlob(ctx, actor.UserID, existing.ImageURL)
	}
	s.invalidateDashboard(ctx, actor.UserID)
	s.logAudit(ctx, "product_delete", "product", id, nil)
	return nil
}

// cleanupBlob queues removal of an object the owner no longer references.
// URLs are client supplied, so objects outside the owner's key prefix are
// left alone.
func (s *Service) cleanupBlob(ctx context.Context, ownerID string, url string) {
	if !strings.HasPrefix(blob.KeyFromURL("", url), ownerID+"/") {
		s.logger.WithFields(logrus.Fields{"user_id": ownerID, "url": url}).Warn("skipping cleanup of blob outside owner prefix")
		return
	}
	if err := s.dispatcher.EnqueueBlobCleanup(ctx, url); err != nil {
		s.logger.WithError(err).WithField("url", url).Warn("failed to enqueue blob cleanup")
	}
}

func validatePrices(cost decimal.Decimal, price decimal.Decimal) error {
	if err := ledger.ValidateAmount("cost", cost); err != nil {
		return err
	}
	return ledger.ValidateAmount("price", price)
}
