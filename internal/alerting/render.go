package alerting

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Deal describes a price that crossed the limit.
type Deal struct {
	Origin      string
	Destination string
	DepartDate  string
	ReturnDate  string
	NonStop     bool
	Price       decimal.Decimal
	Limit       decimal.Decimal
	Currency    string
	Airlines    string
}

// RenderDeal formats the alert title and body for a deal.
func RenderDeal(d Deal) Notification {
	price := d.Price.StringFixed(0)
	limit := d.Limit.StringFixed(0)

	kind := "Flight"
	if d.NonStop {
		kind = "DIRECT Flight"
	}

	var body strings.Builder
	fmt.Fprintf(&body, "%s %s↔%s is NOW %s %s!\n", kind, d.Origin, d.Destination, price, d.Currency)
	fmt.Fprintf(&body, "Threshold: %s %s\n", limit, d.Currency)
	fmt.Fprintf(&body, "Airlines: %s\n", d.Airlines)
	fmt.Fprintf(&body, "Outbound %s | Return %s\n", d.DepartDate, d.ReturnDate)
	if d.NonStop {
		body.WriteString("Non-stop both ways. ")
	}
	body.WriteString("Book quickly!")

	return Notification{
		Title: fmt.Sprintf("✈ Flight Deal! %s %s (< %s %s)", price, d.Currency, limit, d.Currency),
		Body:  body.String(),
	}
}
