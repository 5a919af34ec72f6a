package service

import (
	"context"
	"io"
	"strings"

	"stockbook/backend/internal/domain"
	"stockbook/backend/internal/export"
	"stockbook/backend/internal/store"
)

const (
	ExportCSV  = "csv"
	ExportXLSX = "xlsx"
)

// ListSales returns the caller's sales newest first.
func (s *Service) ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return nil, err
	}
	if filter.Limit < 0 || filter.Offset < 0 {
		return nil, store.Invalid("limit", "must not be negative")
	}
	filter.UserID = actor.UserID
	filter.ProductID = strings.TrimSpace(filter.ProductID)
	return s.repo.ListSales(ctx, filter)
}

func (s *Service) GetSale(ctx context.Context, id string) (domain.Sale, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return domain.Sale{}, err
	}
	sale, err := s.repo.GetSale(ctx, actor.UserID, strings.TrimSpace(id))
	if err != nil {
		return domain.Sale{}, err
	}
	return *sale, nil
}

// ExportSales writes every sale of the caller in the given format and returns
// the content type to serve it with.
func (s *Service) ExportSales(ctx context.Context, format string, w io.Writer) (string, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		format = ExportCSV
	}
	if format != ExportCSV && format != ExportXLSX {
		return "", store.Invalid("format", "must be csv or xlsx")
	}

	sales, err := s.ListSales(ctx, domain.SaleFilter{})
	if err != nil {
		return "", err
	}

	if format == ExportXLSX {
		return export.ContentTypeXLSX, export.WriteSalesXLSX(w, sales)
	}
	return export.ContentTypeCSV, export.WriteSalesCSV(w, sales)
}
