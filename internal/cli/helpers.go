package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/mesh-intelligence/addrbook/internal/vcard"
)

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}

// structured fields take ';' separated components on the command line.
var structured = map[string]bool{"N": true, "ADR": true, "ORG": true, "GENDER": true}

// listed fields take ',' separated values.
var listed = map[string]bool{"NICKNAME": true, "CATEGORIES": true}

// ParseAssignment turns a command-line property into a Property. Two forms
// are accepted:
//
//	FIELD=value            TEL=+1 555 0100
//	FIELD;PARAM=x:value    TEL;TYPE=cell:+1 555 0100
//
// In the first form structured fields split the value on ';' and list
// fields on ','. The second form is a vCard content line taken verbatim.
func ParseAssignment(s string) (*vcard.Property, error) {
	eq := strings.IndexByte(s, '=')
	if eq > 0 && validField(s[:eq]) {
		p := &vcard.Property{Name: strings.ToUpper(s[:eq])}
		value := s[eq+1:]
		switch {
		case structured[p.Name]:
			p.SetComponents(strings.Split(value, ";"))
		case listed[p.Name]:
			p.SetListValues(strings.Split(value, ","))
		default:
			p.SetText(value)
		}
		return p, nil
	}

	rec, err := vcard.ParseOne([]byte("BEGIN:VCARD\r\n" + s + "\r\nEND:VCARD\r\n"))
	if err != nil || len(rec.Props) != 1 {
		return nil, userError{fmt.Errorf("invalid property %q (expected FIELD=value or FIELD;PARAM=x:value)", s)}
	}
	return rec.Props[0], nil
}

// ParseSelector parses FIELD or FIELD#n. n counts instances from 1; zero
// means every instance.
func ParseSelector(s string) (string, int, error) {
	name, num, found := strings.Cut(s, "#")
	if !validField(name) {
		return "", 0, userError{fmt.Errorf("invalid field %q", name)}
	}
	if !found {
		return strings.ToUpper(name), 0, nil
	}
	n, err := strconv.Atoi(num)
	if err != nil || n < 1 {
		return "", 0, userError{fmt.Errorf("invalid instance number in %q", s)}
	}
	return strings.ToUpper(name), n, nil
}

func validField(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if !(c == '-' || c >= '0' && c <= '9' || c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z') {
			return false
		}
	}
	return true
}
