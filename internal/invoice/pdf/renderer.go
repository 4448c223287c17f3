// Package pdf renders invoices as PDF documents.
package pdf

import (
	"context"
	"fmt"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/line"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
	"github.com/shopspring/decimal"

	"github.com/smallbiznis/storefront/internal/invoice/domain"
)

const dateLayout = "2006-01-02"

type Renderer interface {
	Render(ctx context.Context, inv *domain.Invoice) ([]byte, error)
}

type marotoRenderer struct {
	storeName string
}

func NewRenderer() Renderer {
	return &marotoRenderer{storeName: "Storefront"}
}

func (r *marotoRenderer) Render(ctx context.Context, inv *domain.Invoice) ([]byte, error) {
	if inv == nil {
		return nil, fmt.Errorf("render invoice: nil invoice")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()
	m := maroto.New(cfg)

	m.AddRow(12,
		text.NewCol(8, r.storeName, props.Text{Size: 16, Style: fontstyle.Bold}),
		text.NewCol(4, "Invoice", props.Text{Size: 20, Style: fontstyle.Bold, Align: align.Right}),
	)

	due := "-"
	if inv.DueAt != nil {
		due = inv.DueAt.Format(dateLayout)
	}
	m.AddRow(20,
		col.New(6).Add(
			text.New("Invoice number: "+inv.InvoiceNumber, props.Text{Top: 0}),
			text.New("Date of issue: "+inv.CreatedAt.Format(dateLayout), props.Text{Top: 4}),
			text.New("Date due: "+due, props.Text{Top: 8}),
			text.New("Status: "+string(inv.Status), props.Text{Top: 12}),
		),
		col.New(6),
	)

	m.AddRow(10,
		text.NewCol(6, "Description", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(2, "Qty", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(2, "Unit price", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(2, "Amount", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)
	m.AddRow(2, line.NewCol(12))

	for _, item := range inv.Items {
		if item == nil {
			continue
		}
		m.AddRow(8,
			text.NewCol(6, item.Description, props.Text{Size: 9}),
			text.NewCol(2, fmt.Sprintf("%d", item.Quantity), props.Text{Size: 9, Align: align.Right}),
			text.NewCol(2, money(item.UnitPrice, inv.Currency), props.Text{Size: 9, Align: align.Right}),
			text.NewCol(2, money(item.LineTotal(), inv.Currency), props.Text{Size: 9, Align: align.Right}),
		)
	}

	totals := []struct {
		label string
		value decimal.Decimal
	}{
		{"Subtotal", inv.Subtotal()},
		{"Tax", inv.TaxAmount},
		{"Adjustment", inv.AdjustmentAmount},
		{"Total", inv.Total()},
		{"Paid", inv.PaidAmount()},
	}
	for _, t := range totals {
		m.AddRow(8,
			col.New(8),
			text.NewCol(2, t.label, props.Text{Size: 9}),
			text.NewCol(2, money(t.value, inv.Currency), props.Text{Size: 9, Align: align.Right}),
		)
	}
	m.AddRow(10,
		col.New(8),
		text.NewCol(2, "Amount due", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(2, money(inv.Outstanding(), inv.Currency), props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)

	doc, err := m.Generate()
	if err != nil {
		return nil, fmt.Errorf("render invoice %s: %w", inv.InvoiceNumber, err)
	}
	return doc.GetBytes(), nil
}

func money(v decimal.Decimal, currency string) string {
	return v.StringFixed(2) + " " + currency
}
