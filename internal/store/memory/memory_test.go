package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"stockbook/backend/internal/domain"
	"stockbook/backend/internal/store"
)

func createProduct(t *testing.T, s *Store, name string, qty int, cost string) domain.Product {
	t.Helper()
	p, err := s.CreateProduct(context.Background(), domain.Product{
		UserID:   "usr_a",
		Name:     name,
		Type:     "Other",
		Quantity: qty,
		Cost:     decimal.RequireFromString(cost),
		Price:    decimal.RequireFromString(cost).Add(decimal.NewFromInt(1)),
		Profit:   decimal.Zero,
	})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}
	return *p
}

func TestUpdateProductIfVersionRejectsStaleVersion(t *testing.T) {
	s := New()
	p := createProduct(t, s, "Tin", 5, "2.00")

	p.Quantity = 4
	updated, err := s.UpdateProductIfVersion(context.Background(), p, p.Version)
	if err != nil {
		t.Fatalf("first update: %v", err)
	}
	if updated.Version != p.Version+1 {
		t.Fatalf("expected version bump to %d, got %d", p.Version+1, updated.Version)
	}

	p.Quantity = 3
	_, err = s.UpdateProductIfVersion(context.Background(), p, p.Version)
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict on stale version, got %v", err)
	}

	current, err := s.GetProduct(context.Background(), "usr_a", p.ID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if current.Quantity != 4 {
		t.Fatalf("stale write must not apply, quantity=%d", current.Quantity)
	}
}

func TestProductsAreScopedToOwner(t *testing.T) {
	s := New()
	p := createProduct(t, s, "Tin", 5, "2.00")

	if _, err := s.GetProduct(context.Background(), "usr_b", p.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found for other user, got %v", err)
	}
	if err := s.DeleteProduct(context.Background(), "usr_b", p.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found deleting other user's product, got %v", err)
	}
}

func TestWithTxRollsBackOnError(t *testing.T) {
	s := New()
	p := createProduct(t, s, "Box", 5, "2.00")
	boom := errors.New("boom")

	err := s.WithTx(context.Background(), func(ctx context.Context, tx store.LedgerTx) error {
		next := p
		next.Quantity = 1
		if _, err := tx.UpdateProductIfVersion(ctx, next, p.Version); err != nil {
			return err
		}
		if _, err := tx.CreateSale(ctx, domain.Sale{
			UserID:         p.UserID,
			ProductID:      p.ID,
			Units:          4,
			IdempotencyKey: "idem-1",
		}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected callback error, got %v", err)
	}

	current, _ := s.GetProduct(context.Background(), p.UserID, p.ID)
	if current.Quantity != 5 || current.Version != p.Version {
		t.Fatalf("expected product untouched, got qty=%d version=%d", current.Quantity, current.Version)
	}
	sales, _ := s.ListSales(context.Background(), domain.SaleFilter{UserID: p.UserID})
	if len(sales) != 0 {
		t.Fatalf("expected no sales after rollback, got %d", len(sales))
	}

	err = s.WithTx(context.Background(), func(ctx context.Context, tx store.LedgerTx) error {
		_, err := tx.FindSaleByIdempotency(ctx, p.UserID, "idem-1")
		return err
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected idempotency index rolled back, got %v", err)
	}
}

func TestWithTxHonoursCancelledContext(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := s.WithTx(ctx, func(context.Context, store.LedgerTx) error {
		called = true
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if called {
		t.Fatalf("callback must not run on a cancelled context")
	}
}

func TestDeleteSaleRestoresOnRollback(t *testing.T) {
	s := New()
	p := createProduct(t, s, "Pack", 5, "1.00")

	var saleID string
	if err := s.WithTx(context.Background(), func(ctx context.Context, tx store.LedgerTx) error {
		sale, err := tx.CreateSale(ctx, domain.Sale{UserID: p.UserID, ProductID: p.ID, Units: 1, IdempotencyKey: "k"})
		if err != nil {
			return err
		}
		saleID = sale.ID
		return nil
	}); err != nil {
		t.Fatalf("create sale: %v", err)
	}

	_ = s.WithTx(context.Background(), func(ctx context.Context, tx store.LedgerTx) error {
		if err := tx.DeleteSale(ctx, p.UserID, saleID); err != nil {
			return err
		}
		return errors.New("abort")
	})

	if _, err := s.GetSale(context.Background(), p.UserID, saleID); err != nil {
		t.Fatalf("expected sale to survive aborted delete: %v", err)
	}
}

func TestDeleteSaleRetiresIdempotencyKey(t *testing.T) {
	s := New()
	p := createProduct(t, s, "Pack", 5, "1.00")

	var saleID string
	if err := s.WithTx(context.Background(), func(ctx context.Context, tx store.LedgerTx) error {
		sale, err := tx.CreateSale(ctx, domain.Sale{UserID: p.UserID, ProductID: p.ID, Units: 1, IdempotencyKey: "k"})
		if err != nil {
			return err
		}
		saleID = sale.ID
		return tx.DeleteSale(ctx, p.UserID, saleID)
	}); err != nil {
		t.Fatalf("create and delete sale: %v", err)
	}

	err := s.WithTx(context.Background(), func(ctx context.Context, tx store.LedgerTx) error {
		_, err := tx.FindSaleByIdempotency(ctx, p.UserID, "k")
		return err
	})
	if !errors.Is(err, store.ErrKeyRetired) {
		t.Fatalf("expected retired key, got %v", err)
	}
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("retired key must be a validation error, got %v", err)
	}
}

func TestListProductsFiltersAndSorts(t *testing.T) {
	s := New()
	createProduct(t, s, "Charizard Tin", 0, "9.00")
	createProduct(t, s, "Booster", 2, "3.00")
	createProduct(t, s, "alpha box", 12, "50.00")

	all, _ := s.ListProducts(context.Background(), domain.ProductFilter{UserID: "usr_a", Sort: domain.SortName})
	if len(all) != 3 || all[0].Name != "alpha box" || all[2].Name != "Charizard Tin" {
		t.Fatalf("unexpected name order: %+v", names(all))
	}

	inStock, _ := s.ListProducts(context.Background(), domain.ProductFilter{UserID: "usr_a", HideOutOfStock: true})
	if len(inStock) != 2 {
		t.Fatalf("expected 2 in-stock products, got %d", len(inStock))
	}

	healthy, _ := s.ListProducts(context.Background(), domain.ProductFilter{UserID: "usr_a", HideLowStock: true})
	if len(healthy) != 1 || healthy[0].Name != "alpha box" {
		t.Fatalf("expected only alpha box above low stock, got %v", names(healthy))
	}

	byCost, _ := s.ListProducts(context.Background(), domain.ProductFilter{UserID: "usr_a", Sort: domain.SortCost, Descending: true})
	if byCost[0].Name != "alpha box" || byCost[2].Name != "Booster" {
		t.Fatalf("unexpected cost order: %v", names(byCost))
	}

	search, _ := s.ListProducts(context.Background(), domain.ProductFilter{UserID: "usr_a", Search: "TIN"})
	if len(search) != 1 || search[0].Name != "Charizard Tin" {
		t.Fatalf("expected case-insensitive search hit, got %v", names(search))
	}
}

func TestListSalesNewestFirstWithPaging(t *testing.T) {
	s := New()
	p := createProduct(t, s, "Pack", 10, "1.00")
	base := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)

	_ = s.WithTx(context.Background(), func(ctx context.Context, tx store.LedgerTx) error {
		for i := 0; i < 3; i++ {
			if _, err := tx.CreateSale(ctx, domain.Sale{
				UserID:    p.UserID,
				ProductID: p.ID,
				Units:     i + 1,
				CreatedAt: base.Add(time.Duration(i) * time.Hour),
			}); err != nil {
				return err
			}
		}
		return nil
	})

	sales, _ := s.ListSales(context.Background(), domain.SaleFilter{UserID: p.UserID, Limit: 2})
	if len(sales) != 2 || sales[0].Units != 3 || sales[1].Units != 2 {
		t.Fatalf("unexpected first page: %+v", sales)
	}
	rest, _ := s.ListSales(context.Background(), domain.SaleFilter{UserID: p.UserID, Limit: 2, Offset: 2})
	if len(rest) != 1 || rest[0].Units != 1 {
		t.Fatalf("unexpected second page: %+v", rest)
	}
}

func TestClearLinkFolderMovesLinks(t *testing.T) {
	s := New()
	folder, _ := s.CreateFolder(context.Background(), domain.LinkFolder{UserID: "usr_a", Name: "Shops", Color: "#3B82F6"})
	for _, name := range []string{"a", "b"} {
		if _, err := s.CreateLink(context.Background(), domain.Link{UserID: "usr_a", Name: name, URL: "https://example.com/" + name, FolderID: folder.ID}); err != nil {
			t.Fatalf("create link: %v", err)
		}
	}

	var moved int
	err := s.WithTx(context.Background(), func(ctx context.Context, tx store.LedgerTx) error {
		var err error
		moved, err = tx.ClearLinkFolder(ctx, "usr_a", folder.ID)
		if err != nil {
			return err
		}
		return tx.DeleteLinkFolder(ctx, "usr_a", folder.ID)
	})
	if err != nil {
		t.Fatalf("delete folder: %v", err)
	}
	if moved != 2 {
		t.Fatalf("expected 2 links moved, got %d", moved)
	}
	uncategorized, _ := s.ListLinks(context.Background(), domain.LinkFilter{UserID: "usr_a", Uncategorized: true})
	if len(uncategorized) != 2 {
		t.Fatalf("expected 2 uncategorized links, got %d", len(uncategorized))
	}
}

func TestCreateUserRejectsDuplicate(t *testing.T) {
	s := New()
	if err := s.CreateUser(context.Background(), domain.UserAccount{Username: "Sam", Password: "hash"}); err != nil {
		t.Fatalf("create user: %v", err)
	}
	err := s.CreateUser(context.Background(), domain.UserAccount{Username: "sam", Password: "hash"})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict for duplicate username, got %v", err)
	}
}

func names(products []domain.Product) []string {
	out := make([]string, 0, len(products))
	for _, p := range products {
		out = append(out, p.Name)
	}
	return out
}
