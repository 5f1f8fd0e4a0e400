// Package skillfmt holds presentation helpers shared by the HTTP API and the
// MCP server: price display, client OS detection and popularity tiers.
package skillfmt

import (
	"strconv"
	"strings"
)

// FormatPrice renders an amount in cents as "Free" or "$1,234.50".
func FormatPrice(cents int64) string {
	if cents <= 0 {
		return "Free"
	}
	dollars := cents / 100
	rest := cents % 100

	var b strings.Builder
	b.WriteByte('$')
	b.WriteString(groupThousands(strconv.FormatInt(dollars, 10)))
	b.WriteByte('.')
	if rest < 10 {
		b.WriteByte('0')
	}
	b.WriteString(strconv.FormatInt(rest, 10))
	return b.String()
}

func groupThousands(digits string) string {
	if len(digits) <= 3 {
		return digits
	}
	var b strings.Builder
	lead := len(digits) % 3
	if lead > 0 {
		b.WriteString(digits[:lead])
	}
	for i := lead; i < len(digits); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}
