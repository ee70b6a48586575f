// Package dailymetrics folds marketplace orders into per-day totals and keeps
// them in the daily metrics store.
package dailymetrics

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the ISO calendar day used as bucket key.
const DateLayout = "2006-01-02"

// Order is a platform-neutral completed order. Nil amounts are absent, not zero.
type Order struct {
	ID        string
	CreatedAt time.Time
	PaidAt    *time.Time
	Total     *decimal.Decimal
	Escrow    *decimal.Decimal
}

// RecognizedAt is the payment time when known, the creation time otherwise.
func (o Order) RecognizedAt() time.Time {
	if o.PaidAt != nil && !o.PaidAt.IsZero() {
		return *o.PaidAt
	}
	return o.CreatedAt
}

// NetRevenue prefers the escrow (net of fees) amount over the order total.
func (o Order) NetRevenue() decimal.Decimal {
	return firstOf(o.Escrow, o.Total)
}

// GrossValue prefers the order total over the escrow amount.
func (o Order) GrossValue() decimal.Decimal {
	return firstOf(o.Total, o.Escrow)
}

func firstOf(a, b *decimal.Decimal) decimal.Decimal {
	switch {
	case a != nil:
		return *a
	case b != nil:
		return *b
	default:
		return decimal.Zero
	}
}

// Totals are the metric values of one day.
type Totals struct {
	Faturamento      decimal.Decimal
	VendasQuantidade int
	VendasValor      decimal.Decimal
}

func (t Totals) add(o Order) Totals {
	return Totals{
		Faturamento:      t.Faturamento.Add(o.NetRevenue()),
		VendasQuantidade: t.VendasQuantidade + 1,
		VendasValor:      t.VendasValor.Add(o.GrossValue()),
	}
}

// Aggregate groups orders by the calendar day (in loc) of RecognizedAt and sums
// them. An order id seen twice is counted once. A nil loc means UTC.
func Aggregate(orders []Order, loc *time.Location) map[string]Totals {
	if loc == nil {
		loc = time.UTC
	}

	out := make(map[string]Totals)
	seen := make(map[string]struct{}, len(orders))
	for _, o := range orders {
		if o.ID != "" {
			if _, dup := seen[o.ID]; dup {
				continue
			}
			seen[o.ID] = struct{}{}
		}
		day := o.RecognizedAt().In(loc).Format(DateLayout)
		out[day] = out[day].add(o)
	}
	return out
}

// Bucket is one persisted (user, date, platform) row.
type Bucket struct {
	UserID   string
	Platform string
	Date     string
	Totals
	UpdatedAt time.Time
}

// Buckets turns aggregated totals into rows ordered by date.
func Buckets(userID, platform string, totals map[string]Totals) []Bucket {
	out := make([]Bucket, 0, len(totals))
	for day, t := range totals {
		out = append(out, Bucket{UserID: userID, Platform: platform, Date: day, Totals: t})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}
