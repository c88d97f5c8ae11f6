package normalize

import (
	"strings"

	"golang.org/x/text/cases"
)

// Email returns the comparison key for an address: the local part verbatim
// and the domain case-folded. A mailto: prefix is dropped.
func Email(raw string) string {
	s := strings.TrimSpace(raw)
	if len(s) >= 7 && strings.EqualFold(s[:7], "mailto:") {
		s = s[7:]
	}
	at := strings.LastIndexByte(s, '@')
	if at < 0 {
		return s
	}
	domain := strings.TrimSuffix(s[at+1:], ".")
	return s[:at] + "@" + cases.Fold().String(domain)
}
