package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"stockbook/backend/internal/domain"
)

const (
	ContentTypeCSV  = "text/csv; charset=utf-8"
	ContentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

	salesSheet = "Sales"
)

var salesHeader = []string{"Date", "Product", "Units", "Sell Price", "Cost", "New Cost", "Profit", "Revenue"}

func salesRow(sale domain.Sale) []string {
	newCost := ""
	if sale.NewCost != nil {
		newCost = sale.NewCost.StringFixed(2)
	}
	return []string{
		sale.CreatedAt.UTC().Format(time.RFC3339),
		sale.ProductName,
		fmt.Sprint(sale.Units),
		sale.SellPrice.StringFixed(2),
		sale.Cost.StringFixed(2),
		newCost,
		sale.Profit.StringFixed(2),
		sale.Revenue().StringFixed(2),
	}
}

func WriteSalesCSV(w io.Writer, sales []domain.Sale) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(salesHeader); err != nil {
		return err
	}
	for _, sale := range sales {
		if err := cw.Write(salesRow(sale)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteSalesXLSX writes one sheet with a header row. Money columns are numeric
// cells so spreadsheet sums work.
func WriteSalesXLSX(w io.Writer, sales []domain.Sale) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", salesSheet); err != nil {
		return err
	}
	for i, title := range salesHeader {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(salesSheet, cell, title); err != nil {
			return err
		}
	}

	for i, sale := range sales {
		row := i + 2
		values := []any{
			sale.CreatedAt.UTC().Format(time.RFC3339),
			sale.ProductName,
			sale.Units,
			sale.SellPrice.InexactFloat64(),
			sale.Cost.InexactFloat64(),
			nil,
			sale.Profit.InexactFloat64(),
			sale.Revenue().InexactFloat64(),
		}
		if sale.NewCost != nil {
			values[5] = sale.NewCost.InexactFloat64()
		}
		for col, v := range values {
			if v == nil {
				continue
			}
			cell, err := excelize.CoordinatesToCellName(col+1, row)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(salesSheet, cell, v); err != nil {
				return err
			}
		}
	}

	return f.Write(w)
}
