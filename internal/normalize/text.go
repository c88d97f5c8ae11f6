package normalize

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/mozillazg/go-unidecode"
	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Fold returns the NFC, case-folded form of s with surrounding space
// trimmed. It is the dedupe key for free-form values such as nicknames.
func Fold(s string) string {
	return cases.Fold().String(norm.NFC.String(strings.TrimSpace(s)))
}

// SearchKey is Fold with combining marks removed and other scripts
// transliterated to Latin, so "José" matches "jose" and "Иван" matches
// "ivan" in substring search.
func SearchKey(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	if !isASCII(out) {
		if latin := strings.Join(strings.Fields(unidecode.Unidecode(out)), " "); latin != "" {
			out = latin
		}
	}
	return Fold(out)
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

// LikePattern wraps a search key for a SQL LIKE with '\' as the escape
// character.
func LikePattern(key string) string {
	r := strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)
	return "%" + r.Replace(key) + "%"
}
