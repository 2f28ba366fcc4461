// Package toptab turns the header+values tail of `top -b -n 1 -p <pid>` into a typed record.
package toptab

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/jom-io/gorig-objwatch/src/stat/objwatch/record"
	"github.com/spf13/cast"
)

var (
	ErrNoTable   = errors.New("toptab: header and value lines not found")
	ErrMalformed = errors.New("toptab: malformed table")
)

// Parser keeps only the configured header names.
type Parser struct {
	include map[string]struct{}
	fields  []string
}

// NewParser builds a parser for the given inclusion set. An empty set means DefaultFields.
func NewParser(fields []string) *Parser {
	if len(fields) == 0 {
		fields = DefaultFields
	}
	p := &Parser{include: make(map[string]struct{}, len(fields))}
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		if _, ok := p.include[f]; ok {
			continue
		}
		p.include[f] = struct{}{}
		p.fields = append(p.fields, f)
	}
	return p
}

// Fields returns the inclusion set.
func (p *Parser) Fields() []string {
	out := make([]string, len(p.fields))
	copy(out, p.fields)
	return out
}

// Includes reports whether a header is kept.
func (p *Parser) Includes(field string) bool {
	_, ok := p.include[field]
	return ok
}

// Parse reads the last two non-empty lines of text as header and values.
func (p *Parser) Parse(text string) (*record.Record, error) {
	header, values, err := tail(text)
	if err != nil {
		return nil, err
	}
	names := strings.Fields(header)
	vals := strings.Fields(values)
	if !hasKnown(names) {
		return nil, fmt.Errorf("%w: no known column in header %q", ErrMalformed, header)
	}
	if len(vals) < len(names) {
		return nil, fmt.Errorf("%w: %d values for %d columns", ErrMalformed, len(vals), len(names))
	}
	// the command may contain spaces and is always the last column
	if len(vals) > len(names) && names[len(names)-1] == FieldCommand {
		last := len(names) - 1
		vals = append(vals[:last], strings.Join(vals[last:], " "))
	}

	rec := record.New()
	for i, name := range names {
		if !p.Includes(name) {
			continue
		}
		v, err := coerce(name, vals[i])
		if err != nil {
			return nil, err
		}
		rec.Set(Key(name), v)
	}
	return rec, nil
}

// Parse is a one-shot helper around NewParser(fields).Parse(text).
func Parse(text string, fields []string) (*record.Record, error) {
	return NewParser(fields).Parse(text)
}

func tail(text string) (string, string, error) {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	var found []string
	for i := len(lines) - 1; i >= 0 && len(found) < 2; i-- {
		if strings.TrimSpace(lines[i]) == "" {
			continue
		}
		found = append(found, lines[i])
	}
	if len(found) < 2 {
		return "", "", ErrNoTable
	}
	return found[1], found[0], nil
}

func hasKnown(names []string) bool {
	for _, n := range names {
		if Known(n) {
			return true
		}
	}
	return false
}

func coerce(name, raw string) (any, error) {
	switch KindOf(name) {
	case KindString:
		return raw, nil
	case KindInt:
		v, err := parseInt(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: column %s value %q: %v", ErrMalformed, name, raw, err)
		}
		return v, nil
	default:
		v, err := cast.ToFloat64E(strings.Replace(raw, ",", ".", 1))
		if err != nil {
			return nil, fmt.Errorf("%w: column %s value %q: %v", ErrMalformed, name, raw, err)
		}
		return v, nil
	}
}

// size suffixes top prints once a value outgrows its column; bare numbers are KiB.
var scale = map[byte]float64{
	'k': 1,
	'm': 1 << 10,
	'g': 1 << 20,
	't': 1 << 30,
	'p': 1 << 40,
	'e': 1 << 50,
}

func parseInt(raw string) (int64, error) {
	if raw == "rt" {
		// real-time tasks print "rt" instead of priority -100
		return -100, nil
	}
	if v, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return v, nil
	}
	s := strings.ToLower(raw)
	mult, ok := scale[s[len(s)-1]]
	if !ok {
		return 0, fmt.Errorf("not an integer")
	}
	f, err := strconv.ParseFloat(strings.Replace(s[:len(s)-1], ",", ".", 1), 64)
	if err != nil {
		return 0, err
	}
	return int64(math.Round(f * mult)), nil
}
