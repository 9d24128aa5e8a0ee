// Package jsonscan locates and decodes JSON values embedded in free-form
// model output.
//
// Language models rarely return a bare JSON document; the value is usually
// wrapped in prose or a fenced code block. The scanner walks the text,
// collects the top-level JSON values it can decode, and prefers the first
// array over the first object:
//
//	jsonscan.ExtractList(`Sure! [{"a":1}] thanks`) // [{"a":1}]
//	jsonscan.ExtractList(`{"a":1}`)                // [{"a":1}]
//
// Values that are almost JSON (trailing commas, single quotes) are passed
// through jsonrepair as a last resort. An array cut off mid-element keeps
// only its complete elements; a truncated element is never completed.
package jsonscan

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"github.com/kaptinlin/jsonrepair"
)

// ErrNotFound is returned when the text contains no decodable JSON array or
// object. Callers treat it as a recoverable condition.
var ErrNotFound = errors.New("jsonscan: no json value found")

// ExcerptLen bounds the number of runes of unparsable input that are logged.
const ExcerptLen = 100

// Extract returns the first top-level JSON array in text decoded as []any,
// or the first top-level object decoded as map[string]any when the text has
// no array.
func Extract(text string) (any, error) {
	raw, err := find(text)
	if err != nil {
		return nil, err
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("jsonscan: decode: %w", err)
	}
	return v, nil
}

// ExtractList is like Extract but always returns a collection: an object is
// wrapped as a single-element list. Elements are returned undecoded so the
// caller can validate them one by one.
func ExtractList(text string) ([]json.RawMessage, error) {
	raw, err := find(text)
	if err != nil {
		return nil, err
	}
	if raw[0] == '{' {
		return []json.RawMessage{raw}, nil
	}
	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("jsonscan: decode list: %w", err)
	}
	return list, nil
}

// ExtractObject decodes the first object found in text into v. When the
// text holds an array, its first element is used.
func ExtractObject(text string, v any) error {
	list, err := ExtractList(text)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		warn("empty json list", text)
		return ErrNotFound
	}
	if err := json.Unmarshal(list[0], v); err != nil {
		return fmt.Errorf("jsonscan: decode object: %w", err)
	}
	return nil
}

// find returns the raw bytes of the preferred JSON value in text.
func find(text string) (json.RawMessage, error) {
	if raw, ok := pick(scan(text)); ok {
		return raw, nil
	}
	warn("no json found", text)
	return nil, ErrNotFound
}

// pick selects the first array, falling back to the first object.
func pick(values []json.RawMessage) (json.RawMessage, bool) {
	for _, v := range values {
		if v[0] == '[' {
			return v, true
		}
	}
	for _, v := range values {
		if v[0] == '{' {
			return v, true
		}
	}
	return nil, false
}

// decode accepts a candidate as-is when it is valid JSON, and otherwise
// tries to repair it when it plausibly starts a JSON value.
func decode(candidate string) (json.RawMessage, bool) {
	if candidate == "" {
		return nil, false
	}
	if json.Valid([]byte(candidate)) {
		return json.RawMessage(candidate), true
	}
	if !plausible(candidate) {
		return nil, false
	}
	fixed, err := jsonrepair.JSONRepair(candidate)
	if err != nil || fixed == "" || fixed[0] != candidate[0] {
		return nil, false
	}
	if !json.Valid([]byte(fixed)) {
		return nil, false
	}
	return json.RawMessage(fixed), true
}

// plausible reports whether the first significant byte after the opening
// bracket can begin JSON content. It keeps prose such as "[note]" from
// being repaired into a string array.
func plausible(candidate string) bool {
	for i := 1; i < len(candidate); i++ {
		switch c := candidate[i]; c {
		case ' ', '\t', '\n', '\r':
			continue
		case '"', '\'':
			return true
		case '{', '[', ']', '}', '-':
			return candidate[0] == '['
		default:
			return candidate[0] == '[' && c >= '0' && c <= '9'
		}
	}
	return false
}

// scan walks text and returns every top-level array or object accepted by
// decode. Values nested inside an accepted value are not top-level and are
// skipped.
func scan(text string) []json.RawMessage {
	var out []json.RawMessage
	for i := 0; i < len(text); i++ {
		if text[i] != '[' && text[i] != '{' {
			continue
		}
		end, balanced := closing(text, i)
		candidate := text[i:end]
		if !balanced {
			candidate = complete(candidate)
		}
		raw, ok := decode(candidate)
		if !ok {
			continue
		}
		out = append(out, raw)
		i = end - 1
	}
	return out
}

// closing returns the index just past the bracket that balances the one at
// start. Brackets inside string literals are ignored. An unbalanced value
// runs to the end of text and is reported as such.
func closing(text string, start int) (int, bool) {
	var (
		depth   int
		inStr   bool
		escaped bool
	)
	for i := start; i < len(text); i++ {
		c := text[i]
		if inStr {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inStr = false
			}
			continue
		}
		switch c {
		case '"':
			inStr = true
		case '[', '{':
			depth++
		case ']', '}':
			depth--
			if depth == 0 {
				return i + 1, true
			}
		}
	}
	return len(text), false
}

// complete cuts a truncated array back to its last complete element and
// closes it. Truncated objects and arrays without a complete element yield
// the empty string, which decode rejects.
func complete(candidate string) string {
	if candidate == "" || candidate[0] != '[' {
		return ""
	}
	var (
		depth   int
		inStr   bool
		escaped bool
		cut     int
	)
	for i := 0; i < len(candidate); i++ {
		c := candidate[i]
		if inStr {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inStr = false
			}
			continue
		}
		switch c {
		case '"':
			inStr = true
		case '[', '{':
			depth++
		case ']', '}':
			depth--
			if depth == 1 {
				cut = i + 1
			}
		case ',':
			if depth == 1 {
				cut = i
			}
		}
	}
	if cut == 0 {
		return ""
	}
	return candidate[:cut] + "]"
}

func warn(msg, text string) {
	slog.Warn("jsonscan: "+msg, "excerpt", Excerpt(text, ExcerptLen))
}

// Excerpt returns at most n runes of s, marking truncation with "...".
func Excerpt(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos] + "..."
		}
		i++
	}
	return s
}
