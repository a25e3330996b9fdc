package extract

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

const (
	maxPDFPages = 50
	// TJ adjustments are in thousandths of an em; anything wider than this is a space.
	wordGap = 200
)

// pdfText reads the text-showing operators of every page content stream.
// Text drawn through CID fonts with hex glyph ids is not recoverable this way and is skipped.
func pdfText(body []byte) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed pdf: %v", r)
		}
	}()

	conf := model.NewDefaultConfiguration()
	ctx, err := api.ReadContext(bytes.NewReader(body), conf)
	if err != nil {
		return "", fmt.Errorf("read pdf: %w", err)
	}
	if err := api.ValidateContext(ctx); err != nil {
		return "", fmt.Errorf("validate pdf: %w", err)
	}

	pages := ctx.PageCount
	if pages > maxPDFPages {
		pages = maxPDFPages
	}
	var parts []string
	for nr := 1; nr <= pages; nr++ {
		r, err := pdfcpu.ExtractPageContent(ctx, nr)
		if err != nil || r == nil {
			continue
		}
		stream, err := io.ReadAll(r)
		if err != nil {
			continue
		}
		if text := contentStreamText(stream); text != "" {
			parts = append(parts, text)
		}
	}
	return normalize(strings.Join(parts, "\n\n")), nil
}

// contentStreamText collects literal strings passed to Tj, TJ, ' and " operators.
// Positioning operators become line breaks.
func contentStreamText(stream []byte) string {
	var (
		out     strings.Builder
		pending []string
	)
	flush := func() {
		for _, s := range pending {
			out.WriteString(s)
		}
		pending = pending[:0]
	}

	for i := 0; i < len(stream); {
		c := stream[i]
		switch {
		case c == '(':
			s, next := literalString(stream, i)
			pending = append(pending, s)
			i = next
		case c == '%':
			for i < len(stream) && stream[i] != '\n' && stream[i] != '\r' {
				i++
			}
		case isDelimiter(c) || isSpace(c):
			i++
		default:
			start := i
			for i < len(stream) && !isSpace(stream[i]) && !isDelimiter(stream[i]) {
				i++
			}
			switch string(stream[start:i]) {
			case "Tj", "TJ":
				flush()
			case "'", `"`:
				out.WriteByte('\n')
				flush()
			case "Td", "TD", "T*", "Tm":
				pending = pending[:0]
				out.WriteByte('\n')
			case "ET":
				pending = pending[:0]
				out.WriteString("\n\n")
			default:
				// numeric operands of TJ arrays; wide gaps read as word breaks
				if v, err := strconv.ParseFloat(string(stream[start:i]), 64); err == nil && v <= -wordGap && len(pending) > 0 {
					pending = append(pending, " ")
				}
			}
		}
	}
	return normalize(out.String())
}

// literalString decodes a parenthesised PDF string starting at stream[i] == '('.
func literalString(stream []byte, i int) (string, int) {
	var b strings.Builder
	depth := 0
	for i < len(stream) {
		c := stream[i]
		switch {
		case c == '\\' && i+1 < len(stream):
			i++
			switch e := stream[i]; e {
			case 'n':
				b.WriteByte('\n')
			case 'r', 't', 'b', 'f':
				b.WriteByte(' ')
			case '\r', '\n':
			default:
				if e >= '0' && e <= '7' {
					v, n := 0, 0
					for n < 3 && i < len(stream) && stream[i] >= '0' && stream[i] <= '7' {
						v = v*8 + int(stream[i]-'0')
						i++
						n++
					}
					b.WriteByte(byte(v))
					continue
				}
				b.WriteByte(e)
			}
		case c == '(':
			if depth > 0 {
				b.WriteByte(c)
			}
			depth++
		case c == ')':
			depth--
			if depth == 0 {
				return b.String(), i + 1
			}
			b.WriteByte(c)
		default:
			b.WriteByte(c)
		}
		i++
	}
	return b.String(), i
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\n' || c == '\r' || c == '\t' || c == '\f' || c == 0
}

func isDelimiter(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return false
}
