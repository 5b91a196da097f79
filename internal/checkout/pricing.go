package checkout

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Totals is the payable amount in the viewer's currency and the EUR amount charged via PayPal.
type Totals struct {
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	AmountEUR decimal.Decimal `json:"amount_eur"`
	Slugs     []string        `json:"slugs"`
}

// ComputeTotals sums the discounted subject price and, when included, the bump price.
func ComputeTotals(subject Subject, includeBump bool, region string) (Totals, error) {
	main, ok := subject.Offer.PriceFor(region)
	if !ok {
		return Totals{}, fmt.Errorf("%w: %s/%s", ErrPriceUnavailable, subject.Offer.Slug, region)
	}
	t := Totals{
		Amount:    main.Discounted,
		Currency:  main.Currency,
		AmountEUR: main.EURDiscounted,
		Slugs:     subject.Slugs(includeBump),
	}
	if includeBump && subject.Bump != nil {
		bump, ok := subject.Bump.PriceFor(region)
		if !ok {
			return Totals{}, fmt.Errorf("%w: %s/%s", ErrPriceUnavailable, subject.Bump.Slug, region)
		}
		t.Amount = t.Amount.Add(bump.Discounted)
		t.AmountEUR = t.AmountEUR.Add(bump.EURDiscounted)
	}
	return t, nil
}
