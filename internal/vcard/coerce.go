package vcard

import (
	"fmt"
	"io"
	"mime/quotedprintable"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/htmlindex"

	"github.com/mesh-intelligence/addrbook/pkg/types"
)

// quotedPrintable is the ENCODING value, or bare parameter, of
// quoted-printable text.
const quotedPrintable = "QUOTED-PRINTABLE"

// Properties that exist only in vCard 3.0 and have no lossless 4.0 form.
var v3OnlyProps = map[string]bool{
	"AGENT":       true,
	"LABEL":       true,
	"NAME":        true,
	"MAILER":      true,
	"CLASS":       true,
	"PROFILE":     true,
	"SORT-STRING": true,
}

// Inline binary properties that 4.0 expresses as data: URIs.
var binaryProps = map[string]bool{
	"PHOTO": true,
	"LOGO":  true,
	"SOUND": true,
	"KEY":   true,
}

// Coerce upgrades r in place to vCard 4.0. It reports whether anything
// changed. Records that would lose information in the upgrade are left
// untouched and an error wrapping types.ErrVersionMismatch is returned.
func Coerce(r *Record) (bool, error) {
	switch v := r.Version(); v {
	case Version4:
		return false, nil
	case "3.0", "":
	default:
		return false, fmt.Errorf("%w: version %q", types.ErrVersionMismatch, v)
	}

	decoded, err := checkUpgradable(r)
	if err != nil {
		return false, err
	}

	for _, p := range r.Props {
		if v, ok := decoded[p]; ok {
			p.Value = v
			p.DelParam("ENCODING")
			p.DelParam("CHARSET")
			p.DelParam(quotedPrintable)
		}
		upgradeTypePref(p)
		if binaryProps[p.Field()] {
			upgradeInlineBinary(p)
		}
	}
	if v := r.Get("VERSION"); v != nil {
		v.Value = Version4
	} else {
		r.Props = append([]*Property{{Name: "VERSION", Value: Version4}}, r.Props...)
	}
	return true, nil
}

// checkUpgradable reports why r cannot be upgraded. It returns the plain
// values of quoted-printable or non UTF-8 text properties.
func checkUpgradable(r *Record) (map[*Property]string, error) {
	var decoded map[*Property]string
	for _, p := range r.Props {
		if v3OnlyProps[p.Field()] {
			return nil, fmt.Errorf("%w: property %s has no 4.0 form", types.ErrVersionMismatch, p.Field())
		}
		qp, charset := false, ""
		for _, prm := range p.Params {
			if prm.Bare {
				if strings.EqualFold(prm.Name, quotedPrintable) && !binaryProps[p.Field()] {
					qp = true
					continue
				}
				return nil, fmt.Errorf("%w: bare parameter %s on %s", types.ErrVersionMismatch, prm.Name, p.Field())
			}
			switch strings.ToUpper(prm.Name) {
			case "CHARSET":
				charset = strings.Join(prm.Values(), "")
			case "ENCODING":
				enc := strings.ToUpper(strings.Join(prm.Values(), ""))
				switch {
				case enc == quotedPrintable && !binaryProps[p.Field()]:
					qp = true
				case (enc == "B" || enc == "BASE64") && binaryProps[p.Field()]:
				default:
					return nil, fmt.Errorf("%w: ENCODING=%s on %s", types.ErrVersionMismatch, enc, p.Field())
				}
			}
		}
		if !qp && charset == "" {
			continue
		}
		v, err := decodeText(p.Value, qp, charset)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", types.ErrVersionMismatch, p.Field(), err)
		}
		if decoded == nil {
			decoded = make(map[*Property]string)
		}
		decoded[p] = v
	}
	return decoded, nil
}

// decodeText undoes quoted-printable encoding and converts charset to
// UTF-8. Line breaks in the result are escaped for a text value.
func decodeText(value string, qp bool, charset string) (string, error) {
	raw := []byte(value)
	if qp {
		b, err := io.ReadAll(quotedprintable.NewReader(strings.NewReader(value)))
		if err != nil {
			return "", fmt.Errorf("quoted-printable: %w", err)
		}
		raw = b
	}
	if charset != "" && !strings.EqualFold(charset, "utf-8") {
		enc, err := htmlindex.Get(charset)
		if err != nil {
			return "", fmt.Errorf("CHARSET=%s: %w", charset, err)
		}
		if raw, err = enc.NewDecoder().Bytes(raw); err != nil {
			return "", fmt.Errorf("CHARSET=%s: %w", charset, err)
		}
	}
	if !utf8.Valid(raw) {
		return "", fmt.Errorf("value is not valid UTF-8")
	}
	text := strings.ReplaceAll(string(raw), "\r\n", "\n")
	return strings.ReplaceAll(text, "\n", `\n`), nil
}

// upgradeTypePref turns TYPE=pref into PREF=1.
func upgradeTypePref(p *Property) {
	vals := p.ParamValues("TYPE")
	if len(vals) == 0 {
		return
	}
	kept := vals[:0]
	pref := false
	for _, t := range vals {
		if strings.EqualFold(t, "pref") {
			pref = true
			continue
		}
		kept = append(kept, t)
	}
	if !pref {
		return
	}
	if len(kept) == 0 {
		p.DelParam("TYPE")
	} else {
		p.SetParam("TYPE", kept...)
	}
	if p.Pref() == 0 {
		p.SetPref(1)
	}
}

// upgradeInlineBinary rewrites ENCODING=b values as data: URIs.
func upgradeInlineBinary(p *Property) {
	if _, ok := p.Param("ENCODING"); !ok {
		return
	}
	media := "application/octet-stream"
	if ts := p.ParamValues("TYPE"); len(ts) > 0 {
		t := strings.ToLower(ts[0])
		if strings.Contains(t, "/") {
			media = t
		} else {
			media = mediaPrefix(p.Field()) + t
		}
		p.DelParam("TYPE")
	}
	p.DelParam("ENCODING")
	p.Value = "data:" + media + ";base64," + strings.TrimSpace(p.Value)
}

func mediaPrefix(field string) string {
	switch field {
	case "SOUND":
		return "audio/"
	case "KEY":
		return "application/"
	default:
		return "image/"
	}
}
