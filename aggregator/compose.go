package aggregator

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/hedeqiang/dropwatch/event"
)

var (
	million = decimal.NewFromInt(1_000_000)
	one     = decimal.NewFromInt(1)
)

var markdownEscaper = strings.NewReplacer("_", "\\_", "*", "\\*", "`", "\\`", "[", "\\[")

func (a *Aggregator) compose(tx event.Hash, wallet event.Address, records []event.TransferRecord) string {
	var b strings.Builder

	name := wallet.Hex()
	if n, ok := a.cfg.WalletNames[wallet.Hex()]; ok && n != "" {
		name = n
	}
	fmt.Fprintf(&b, "[%s](%s) · %s\n", markdownEscaper.Replace(name), a.link("address", wallet.Hex()), a.cfg.ChainLabel)

	for i, r := range records {
		verb, side := "Received", "From"
		if r.Direction == event.Outbound {
			verb, side = "Sent", "To"
		}
		fmt.Fprintf(&b, "%s: %s [%s](%s) ", verb, FormatAmount(r.Amount), markdownEscaper.Replace(r.Symbol), a.link("token", r.Token.Hex()))
		if r.USDValue > 0 {
			fmt.Fprintf(&b, "(~$%.4f) ", r.USDValue)
		}
		fmt.Fprintf(&b, "%s: [%s](%s)", side, r.Counterparty.Short(), a.link("address", r.Counterparty.Hex()))
		if i < len(records)-1 {
			b.WriteByte('\n')
		}
	}

	fmt.Fprintf(&b, "\n[Tx hash](%s)", a.link("tx", tx.Hex()))

	first := records[0].Token
	if a.cfg.BuyLinks && first != a.cfg.NativeToken {
		t := first.Hex()
		fmt.Fprintf(&b, " · [Buy with Maestro](https://t.me/maestro?start=%s-maestroinvite) ([Pro](https://t.me/maestropro?start=%s-maestroinvite))", t, t)
	}
	return b.String()
}

func (a *Aggregator) link(kind, id string) string {
	return a.cfg.Explorer + "/" + kind + "/" + id
}

// FormatAmount renders amounts of a million or more as grouped integers,
// amounts of at least one with two decimals and smaller ones with eight.
func FormatAmount(d decimal.Decimal) string {
	switch {
	case d.GreaterThanOrEqual(million):
		return groupThousands(d.StringFixed(0))
	case d.GreaterThanOrEqual(one):
		return d.StringFixed(2)
	default:
		return d.StringFixed(8)
	}
}

func groupThousands(digits string) string {
	n := len(digits)
	if n <= 3 {
		return digits
	}
	var b strings.Builder
	head := n % 3
	if head > 0 {
		b.WriteString(digits[:head])
	}
	for i := head; i < n; i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}
