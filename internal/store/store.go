package store

import (
	"context"
	"errors"
	"fmt"

	"stockbook/backend/internal/domain"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation failed")
	ErrConflict   = errors.New("concurrent update conflict")
	ErrStorage    = errors.New("storage unavailable")

	ErrInsufficientStock = fmt.Errorf("%w: insufficient stock", ErrValidation)
	// ErrKeyRetired is returned for an idempotency key whose sale was reversed.
	// Keys are never reused once spent.
	ErrKeyRetired = fmt.Errorf("%w: idempotency key belongs to a reversed sale", ErrValidation)
)

// ValidationError reports bad input on a single field. It matches ErrValidation
// under errors.Is.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func Invalid(field string, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

type Repository interface {
	ProductStore
	SaleStore
	LinkStore
	NoteStore
	ProfileStore
	UserStore

	// WithTx runs fn inside a single store transaction. Any error returned by fn
	// rolls back every write made through tx.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx LedgerTx) error) error
}

// LedgerTx is the set of primitives available inside WithTx.
type LedgerTx interface {
	GetProductForUpdate(ctx context.Context, userID string, id string) (*domain.Product, error)
	// UpdateProductIfVersion writes product only when the stored version still
	// equals expectedVersion, and bumps the version. A stale version yields
	// ErrConflict; a missing row yields ErrNotFound.
	UpdateProductIfVersion(ctx context.Context, product domain.Product, expectedVersion int64) (*domain.Product, error)
	CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
	GetSaleForUpdate(ctx context.Context, userID string, id string) (*domain.Sale, error)
	FindSaleByIdempotency(ctx context.Context, userID string, key string) (*domain.Sale, error)
	DeleteSale(ctx context.Context, userID string, id string) error
	ClearLinkFolder(ctx context.Context, userID string, folderID string) (int, error)
	DeleteLinkFolder(ctx context.Context, userID string, folderID string) error
}

type ProductStore interface {
	ListProducts(ctx context.Context, filter domain.ProductFilter) ([]domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	GetProduct(ctx context.Context, userID string, id string) (*domain.Product, error)
	UpdateProductIfVersion(ctx context.Context, product domain.Product, expectedVersion int64) (*domain.Product, error)
	DeleteProduct(ctx context.Context, userID string, id string) error
}

type SaleStore interface {
	ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, error)
	GetSale(ctx context.Context, userID string, id string) (*domain.Sale, error)
}

type LinkStore interface {
	ListFolders(ctx context.Context, userID string) ([]domain.LinkFolder, error)
	GetFolder(ctx context.Context, userID string, id string) (*domain.LinkFolder, error)
	CreateFolder(ctx context.Context, folder domain.LinkFolder) (*domain.LinkFolder, error)
	UpdateFolder(ctx context.Context, folder domain.LinkFolder) (*domain.LinkFolder, error)
	ListLinks(ctx context.Context, filter domain.LinkFilter) ([]domain.Link, error)
	CreateLink(ctx context.Context, link domain.Link) (*domain.Link, error)
	UpdateLink(ctx context.Context, link domain.Link) (*domain.Link, error)
	DeleteLink(ctx context.Context, userID string, id string) error
}

type NoteStore interface {
	ListNotes(ctx context.Context, userID string) ([]domain.Note, error)
	CreateNote(ctx context.Context, note domain.Note) (*domain.Note, error)
	UpdateNote(ctx context.Context, note domain.Note) (*domain.Note, error)
	DeleteNote(ctx context.Context, userID string, id string) error
}

type ProfileStore interface {
	GetProfile(ctx context.Context, userID string) (*domain.Profile, error)
	UpsertProfile(ctx context.Context, profile domain.Profile) (*domain.Profile, error)
}

type UserStore interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
