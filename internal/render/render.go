// Package render projects a Quote into a human-readable document. The
// document is what external surfaces display; it never feeds back into the
// store.
package render

import (
	"fmt"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"quoteline/internal/config"
	"quoteline/internal/domain"
)

// Document is the rendered projection of a quote.
type Document struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Placeholder is rendered before a quote is committed, so a message ref
// exists prior to store insertion.
func Placeholder() Document {
	return Document{Title: "quote incoming", Body: "rendering..."}
}

// Prompt asks the actor for a follow-up text block in the add flow.
func Prompt(example string) Document {
	return Document{Title: "quote text needed", Body: example}
}

// Render builds the document. detail=false omits contact info, per-item
// pricing, totals and comments.
func Render(q domain.Quote, catalog []config.Category, detail bool) Document {
	title := fmt.Sprintf("[%s] #%d %s", q.Status, q.ID, q.Customer.Name)

	var b strings.Builder
	fmt.Fprintf(&b, "estimated start: %s\n", q.EstimateStartDate)
	fmt.Fprintf(&b, "contact: %s\n", q.Customer.Contact)
	fmt.Fprintf(&b, "payment: %s (%s)\n", q.Customer.PaymentMethod, receivedWord(q.PaymentReceived))
	if detail {
		fmt.Fprintf(&b, "contact info: %s\n", q.Customer.ContactInfo)
	}

	if tbl := itemTable(q, catalog, detail); tbl != "" {
		b.WriteString("\n")
		b.WriteString(tbl)
		b.WriteString("\n")
	}

	if detail {
		if q.Unpriced() {
			fmt.Fprintf(&b, "\ntotal: %d (quote pending on unpriced items)\n", q.Total())
		} else {
			fmt.Fprintf(&b, "\ntotal: %d\n", q.Total())
		}
		if q.Comment != "" {
			fmt.Fprintf(&b, "comment: %s\n", q.Comment)
		}
	}
	fmt.Fprintf(&b, "\nlast update: %s\n", time.Unix(q.LastUpdate, 0).UTC().Format(time.RFC3339))

	return Document{Title: title, Body: b.String()}
}

func itemTable(q domain.Quote, catalog []config.Category, detail bool) string {
	t := table.NewWriter()
	if detail {
		t.AppendHeader(table.Row{"item", "count", "unit", "subtotal", "stage"})
	} else {
		t.AppendHeader(table.Row{"item", "count", "stage"})
	}
	rows := 0
	for _, item := range q.Items {
		if !item.Ordered() {
			continue
		}
		rows++
		label := labelFor(catalog, item.Kind)
		if detail {
			t.AppendRow(table.Row{label, item.Count, priceWord(item.UnitPrice), subtotalWord(item), item.Stage})
		} else {
			t.AppendRow(table.Row{label, item.Count, item.Stage})
		}
	}
	if rows == 0 {
		return ""
	}
	return t.Render()
}

func labelFor(catalog []config.Category, kind string) string {
	for _, cat := range catalog {
		if cat.Key == kind {
			if cat.Label != "" {
				return cat.Label
			}
			break
		}
	}
	return kind
}

func priceWord(price int) string {
	if price == 0 {
		return "quote pending"
	}
	return fmt.Sprintf("%d", price)
}

func subtotalWord(item domain.Commission) string {
	if item.UnitPrice == 0 {
		return "quote pending"
	}
	return fmt.Sprintf("%d", item.Subtotal())
}

func receivedWord(received bool) string {
	if received {
		return "paid"
	}
	return "unpaid"
}
