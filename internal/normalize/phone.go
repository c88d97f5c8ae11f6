// Package normalize provides the pure key functions used to compare contact
// values: phone numbers, email addresses, URIs, free text, and images.
package normalize

import (
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// Phone returns the E.164 form of raw. Numbers written without a country
// code are read in region. Input the library cannot parse falls back to its
// digits, keeping a leading '+'.
func Phone(raw, region string) string {
	s := strings.TrimSpace(raw)
	if len(s) >= 4 && strings.EqualFold(s[:4], "tel:") {
		s = s[4:]
	}
	num, err := phonenumbers.Parse(s, strings.ToUpper(region))
	if err != nil {
		return digits(s)
	}
	out := phonenumbers.Format(num, phonenumbers.E164)
	if ext := num.GetExtension(); ext != "" {
		out += ";ext=" + ext
	}
	return out
}

func digits(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= '0' && r <= '9' || (r == '+' && i == 0) {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return strings.TrimSpace(s)
	}
	return b.String()
}
