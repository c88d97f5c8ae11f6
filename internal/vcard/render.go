package vcard

import (
	"bytes"
	"strings"
	"unicode/utf8"
)

// maxLineOctets is the folding limit for content lines, excluding CRLF.
const maxLineOctets = 75

// Render encodes r as a single vCard with CRLF line endings. VERSION is
// always emitted right after BEGIN; a record without one gets VERSION:4.0.
func Render(r *Record) []byte {
	var buf bytes.Buffer
	writeRecord(&buf, r)
	return buf.Bytes()
}

// RenderAll encodes records back to back.
func RenderAll(records []*Record) []byte {
	var buf bytes.Buffer
	for _, r := range records {
		writeRecord(&buf, r)
	}
	return buf.Bytes()
}

func writeRecord(buf *bytes.Buffer, r *Record) {
	buf.WriteString("BEGIN:VCARD\r\n")
	if v := r.Get("VERSION"); v != nil {
		writeFolded(buf, contentLine(v))
	} else {
		buf.WriteString("VERSION:" + Version4 + "\r\n")
	}
	for _, p := range r.Props {
		if p.Is("VERSION") {
			continue
		}
		writeFolded(buf, contentLine(p))
	}
	buf.WriteString("END:VCARD\r\n")
}

// ContentLine returns the unfolded wire form of p.
func ContentLine(p *Property) string {
	return contentLine(p)
}

func contentLine(p *Property) string {
	var b strings.Builder
	if p.Group != "" {
		b.WriteString(p.Group)
		b.WriteByte('.')
	}
	b.WriteString(p.Name)
	for _, prm := range p.Params {
		b.WriteByte(';')
		b.WriteString(prm.Name)
		if !prm.Bare {
			b.WriteByte('=')
			b.WriteString(prm.Raw)
		}
	}
	b.WriteByte(':')
	b.WriteString(p.Value)
	return b.String()
}

// writeFolded writes line, folding it so no physical line exceeds
// maxLineOctets and no UTF-8 sequence is split. Bytes that are not valid
// UTF-8 are cut at the limit.
func writeFolded(buf *bytes.Buffer, line string) {
	limit := maxLineOctets
	for len(line) > limit {
		cut := limit
		for cut > limit-utf8.UTFMax+1 && !utf8.RuneStart(line[cut]) {
			cut--
		}
		if !utf8.RuneStart(line[cut]) {
			cut = limit
		}
		buf.WriteString(line[:cut])
		buf.WriteString("\r\n ")
		line = line[cut:]
		limit = maxLineOctets - 1
	}
	buf.WriteString(line)
	buf.WriteString("\r\n")
}
