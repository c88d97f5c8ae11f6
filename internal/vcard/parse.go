package vcard

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/mesh-intelligence/addrbook/pkg/types"
)

// Parse decodes every vCard in data, in order. Line folding is undone and
// both CRLF and LF line endings are accepted. Any malformed content fails
// the whole call with an error wrapping types.ErrParse.
func Parse(data []byte) ([]*Record, error) {
	lines := unfold(data)

	var (
		records []*Record
		cur     *Record
	)
	for _, ln := range lines {
		if strings.TrimSpace(ln.text) == "" {
			continue
		}
		prop, err := parseLine(ln.text)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", types.ErrParse, ln.num, err)
		}
		switch {
		case prop.Is("BEGIN") && strings.EqualFold(strings.TrimSpace(prop.Value), "VCARD"):
			if cur != nil {
				return nil, fmt.Errorf("%w: line %d: nested BEGIN:VCARD", types.ErrParse, ln.num)
			}
			cur = &Record{}
		case prop.Is("END") && strings.EqualFold(strings.TrimSpace(prop.Value), "VCARD"):
			if cur == nil {
				return nil, fmt.Errorf("%w: line %d: END:VCARD without BEGIN", types.ErrParse, ln.num)
			}
			records = append(records, cur)
			cur = nil
		default:
			if cur == nil {
				return nil, fmt.Errorf("%w: line %d: content outside BEGIN:VCARD", types.ErrParse, ln.num)
			}
			cur.Add(prop)
		}
	}
	if cur != nil {
		return nil, fmt.Errorf("%w: missing END:VCARD", types.ErrParse)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: no vCard found", types.ErrParse)
	}
	return records, nil
}

// ParseOne decodes data that must hold exactly one vCard.
func ParseOne(data []byte) (*Record, error) {
	recs, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if len(recs) != 1 {
		return nil, fmt.Errorf("%w: expected one vCard, found %d", types.ErrParse, len(recs))
	}
	return recs[0], nil
}

type logicalLine struct {
	num  int
	text string
}

func unfold(data []byte) []logicalLine {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	raw := strings.Split(string(data), "\n")

	var (
		out       []logicalLine
		softBreak bool
	)
	for i, s := range raw {
		s = strings.TrimSuffix(s, "\r")
		switch {
		case softBreak:
			last := &out[len(out)-1]
			last.text = strings.TrimSuffix(last.text, "=") + strings.TrimLeft(s, " \t")
		case len(s) > 0 && (s[0] == ' ' || s[0] == '\t') && len(out) > 0:
			out[len(out)-1].text += s[1:]
		default:
			out = append(out, logicalLine{num: i + 1, text: s})
		}
		last := out[len(out)-1].text
		softBreak = strings.HasSuffix(last, "=") && isQuotedPrintable(last)
	}
	return out
}

// isQuotedPrintable reports whether the parameters of line declare
// quoted-printable. Such values continue after a trailing '=' on the next
// line, with or without leading whitespace.
func isQuotedPrintable(line string) bool {
	head, _, ok := strings.Cut(line, ":")
	return ok && strings.Contains(strings.ToUpper(head), quotedPrintable)
}

// parseLine splits one unfolded content line into group, name, params, and
// the raw value.
func parseLine(s string) (*Property, error) {
	i := strings.IndexAny(s, ";:")
	if i < 0 {
		return nil, fmt.Errorf("missing ':'")
	}
	p := &Property{}
	name := s[:i]
	if dot := strings.LastIndexByte(name, '.'); dot >= 0 {
		p.Group, name = name[:dot], name[dot+1:]
		if !validName(p.Group) {
			return nil, fmt.Errorf("invalid group %q", p.Group)
		}
	}
	if !validName(name) {
		return nil, fmt.Errorf("invalid property name %q", name)
	}
	p.Name = name

	for s[i] == ';' {
		i++
		start := i
		for i < len(s) && s[i] != '=' && s[i] != ';' && s[i] != ':' {
			i++
		}
		if i == len(s) {
			return nil, fmt.Errorf("missing ':'")
		}
		pname := s[start:i]
		if !validName(pname) {
			return nil, fmt.Errorf("invalid parameter name %q", pname)
		}
		if s[i] != '=' {
			p.Params = append(p.Params, Param{Name: pname, Bare: true})
			continue
		}
		i++
		start = i
		inQuote := false
		for i < len(s) && (inQuote || (s[i] != ';' && s[i] != ':')) {
			if s[i] == '"' {
				inQuote = !inQuote
			}
			i++
		}
		if i == len(s) {
			if inQuote {
				return nil, fmt.Errorf("unterminated quote in parameter %q", pname)
			}
			return nil, fmt.Errorf("missing ':'")
		}
		p.Params = append(p.Params, Param{Name: pname, Raw: s[start:i]})
	}
	p.Value = s[i+1:]
	return p, nil
}

func validName(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c == '-' || c >= '0' && c <= '9' || c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z') {
			return false
		}
	}
	return true
}
