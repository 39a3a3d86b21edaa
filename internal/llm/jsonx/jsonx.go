// Package jsonx extracts the first well-formed JSON value embedded in free-form
// model output. Markdown fences and surrounding prose are tolerated.
package jsonx

import (
	"errors"
	"strings"

	"github.com/tidwall/gjson"
)

// ErrNoJSON is returned when no well-formed value of the requested kind exists.
var ErrNoJSON = errors.New("no JSON value found")

// FirstArray returns the first well-formed JSON array in text.
func FirstArray(text string) (string, error) {
	return first(text, func(c byte) bool { return c == '[' })
}

// FirstObject returns the first well-formed JSON object in text.
func FirstObject(text string) (string, error) {
	return first(text, func(c byte) bool { return c == '{' })
}

// First returns whichever well-formed array or object starts earliest.
func First(text string) (string, error) {
	return first(text, func(c byte) bool { return c == '[' || c == '{' })
}

// FirstNumber returns the first standalone JSON number in text, such as the 6
// in "wait 6 hours". Digits inside words like "v2" are skipped.
func FirstNumber(text string) (float64, error) {
	for i := 0; i < len(text); i++ {
		c := text[i]
		if c != '-' && !isDigit(c) {
			continue
		}
		if i > 0 && (isWordByte(text[i-1]) || text[i-1] == '.') {
			continue
		}
		end := i + 1
		for end < len(text) && (isDigit(text[end]) || strings.IndexByte(".eE+-", text[end]) >= 0) {
			end++
		}
		tok := strings.TrimRight(text[i:end], ".")
		if end < len(text) && isWordByte(text[end]) {
			i = end
			continue
		}
		if r := gjson.Parse(tok); gjson.Valid(tok) && r.Type == gjson.Number {
			return r.Num, nil
		}
		i = end
	}
	return 0, ErrNoJSON
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isWordByte(c byte) bool {
	return isDigit(c) || c == '_' || (c|0x20 >= 'a' && c|0x20 <= 'z')
}

func first(text string, opens func(byte) bool) (string, error) {
	for i := 0; i < len(text); i++ {
		if !opens(text[i]) {
			continue
		}
		if end, ok := match(text, i); ok && gjson.Valid(text[i:end]) {
			return text[i:end], nil
		}
	}
	return "", ErrNoJSON
}

// match returns the index one past the bracket closing text[start], skipping
// brackets inside string literals.
func match(text string, start int) (int, bool) {
	var stack []byte
	inString, escaped := false, false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '[':
			stack = append(stack, ']')
		case '{':
			stack = append(stack, '}')
		case ']', '}':
			if len(stack) == 0 || stack[len(stack)-1] != c {
				return 0, false
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return i + 1, true
			}
		}
	}
	return 0, false
}
