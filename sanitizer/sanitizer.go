// Package sanitizer normalizes queued payloads to a destination schema so the
// insert cannot fail on encoding, overflow or type errors.
//
// Sanitize never fails. Lossy outcomes (truncation, coercion to zero) are the
// accepted price of guaranteed insertability.
package sanitizer

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/baldanca/petition-preprocessor/queue"
	"github.com/baldanca/petition-preprocessor/schema"
)

// Sanitize returns a copy of p with every schema field coerced to its declared
// type. Fields the schema does not declare are copied unchanged.
func Sanitize(s schema.Schema, p queue.Payload) queue.Payload {
	out := p.Clone()
	if out == nil {
		return nil
	}
	for name, v := range out {
		f, ok := s.Fields[name]
		if !ok {
			continue
		}
		switch f.Type {
		case schema.String:
			out[name] = String(v, f.MaxLength)
		case schema.Integer:
			out[name] = Integer(v)
		case schema.Timestamp:
			out[name] = Timestamp(v)
		}
	}
	return out
}

// Restrict drops every field that is not an insertable column of s.
func Restrict(s schema.Schema, p queue.Payload) queue.Payload {
	cols := s.Insertable()
	out := make(queue.Payload, len(cols))
	for _, c := range cols {
		if v, ok := p[c]; ok {
			out[c] = v
		}
	}
	return out
}

// Key returns the uniqueness key of p in the form it is stored in: trimmed,
// cleaned like any string column and cut to schema.KeyMaxLength bytes. It
// reports false when p has no string key or the key cleans to nothing.
//
// Sanitize leaves a key produced here unchanged, so batch keying, duplicate
// lookups and the inserted row all agree.
func Key(p queue.Payload) (string, bool) {
	raw, ok := p[queue.KeyField].(string)
	if !ok {
		return "", false
	}
	key, _ := String(strings.TrimSpace(raw), schema.KeyMaxLength).(string)
	key = strings.TrimSpace(key)
	return key, key != ""
}

func unsafeControl(r rune) bool {
	return unicode.IsControl(r) && r != '\t' && r != '\n'
}

// String re-encodes v as valid NFC UTF-8 without control characters and cuts
// it to at most maxLen bytes on a rune boundary. nil stays nil.
func String(v any, maxLen int) any {
	if v == nil {
		return nil
	}
	s := stringify(v)

	t := transform.Chain(runes.ReplaceIllFormed(), norm.NFC, runes.Remove(runes.Predicate(unsafeControl)))
	clean, _, err := transform.String(t, s)
	if err != nil {
		clean = strings.ToValidUTF8(s, string(utf8.RuneError))
	}
	return truncate(clean, maxLen)
}

func stringify(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return string(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case bool:
		return strconv.FormatBool(x)
	case json.Number:
		return x.String()
	case time.Time:
		return x.UTC().Format(time.RFC3339)
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

func truncate(s string, maxLen int) string {
	if maxLen <= 0 || len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// Integer coerces v to int64. Anything that is not a number or a numeric
// string becomes 0.
func Integer(v any) int64 {
	switch x := v.(type) {
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case int64:
		return x
	case uint:
		return clampUint(uint64(x))
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case uint64:
		return clampUint(x)
	case float32:
		return fromFloat(float64(x))
	case float64:
		return fromFloat(x)
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n
		}
		return fromString(x.String())
	case string:
		return fromString(x)
	case []byte:
		return fromString(string(x))
	case bool:
		if x {
			return 1
		}
		return 0
	default:
		return 0
	}
}

func clampUint(u uint64) int64 {
	if u > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(u)
}

func fromFloat(f float64) int64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	if f >= math.MaxInt64 {
		return math.MaxInt64
	}
	if f <= math.MinInt64 {
		return math.MinInt64
	}
	return int64(math.Trunc(f))
}

func fromString(s string) int64 {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return fromFloat(f)
	}
	return 0
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Timestamp normalizes time values to UTC and parses common string layouts.
// Values it cannot interpret are returned unchanged.
func Timestamp(v any) any {
	switch x := v.(type) {
	case time.Time:
		return x.UTC()
	case *time.Time:
		if x == nil {
			return nil
		}
		return x.UTC()
	case string:
		s := strings.TrimSpace(x)
		for _, layout := range timestampLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC()
			}
		}
		return x
	default:
		return v
	}
}
