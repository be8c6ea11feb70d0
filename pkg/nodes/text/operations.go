package text

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Case applies a language-sensitive case mapping.
func Case(s string, op Operation, tag language.Tag) string {
	switch op {
	case OpUpper:
		return cases.Upper(tag).String(s)
	case OpLower:
		return cases.Lower(tag).String(s)
	case OpTitle:
		return cases.Title(tag).String(s)
	case OpFold:
		return cases.Fold().String(s)
	}
	return s
}

// Capitalize upper-cases the first rune and leaves the rest unchanged.
func Capitalize(s string) string {
	if s == "" {
		return s
	}
	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(r)) + s[size:]
}

// Normalize strips diacritics and returns the NFC form.
func Normalize(s string) (string, error) {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), ligatures, norm.NFC)
	out, _, err := transform.String(t, s)
	return out, err
}

// ligatures expands letters that do not decompose under NFD.
var ligatures = runes.Map(func(r rune) rune {
	switch r {
	case 'Ø':
		return 'O'
	case 'ø':
		return 'o'
	case 'Đ':
		return 'D'
	case 'đ':
		return 'd'
	case 'Ł':
		return 'L'
	case 'ł':
		return 'l'
	}
	return r
})

// Trim removes cutset from both ends, or whitespace when cutset is empty.
func Trim(s, cutset string) string {
	if cutset == "" {
		return strings.TrimSpace(s)
	}
	return strings.Trim(s, cutset)
}

// Replace replaces up to count occurrences of old (all when count < 0).
// With useRegex, old is an RE2 pattern.
func Replace(s, old, replacement string, count int, useRegex bool) (string, error) {
	if !useRegex {
		return strings.Replace(s, old, replacement, count), nil
	}
	re, err := regexp.Compile(old)
	if err != nil {
		return "", err
	}
	if count < 0 {
		return re.ReplaceAllString(s, replacement), nil
	}
	idxs := re.FindAllStringIndex(s, count)
	if len(idxs) == 0 {
		return s, nil
	}
	var out bytes.Buffer
	last := 0
	for _, pair := range idxs {
		out.WriteString(s[last:pair[0]])
		out.WriteString(replacement)
		last = pair[1]
	}
	out.WriteString(s[last:])
	return out.String(), nil
}

// Substring returns runes [start, end). Negative indices count from the end
// and an end of zero means the end of the string.
func Substring(s string, start, end int) string {
	r := []rune(s)
	n := len(r)
	if start < 0 {
		start += n
	}
	if end <= 0 {
		end += n
	}
	start = max(0, min(start, n))
	end = max(0, min(end, n))
	if start > end {
		start, end = end, start
	}
	return string(r[start:end])
}

// Split splits s on separator. An empty separator yields s alone.
func Split(s, separator string) []string {
	if separator == "" {
		return []string{s}
	}
	return strings.Split(s, separator)
}

// Join joins the string form of items with separator.
func Join(items []any, separator string) string {
	parts := make([]string, len(items))
	for i, item := range items {
		if s, ok := item.(string); ok {
			parts[i] = s
		} else {
			parts[i] = fmt.Sprint(item)
		}
	}
	return strings.Join(parts, separator)
}

// Length counts runes.
func Length(s string) int {
	return utf8.RuneCountInString(s)
}

// Format replaces {key} and ${key} placeholders with values from data.
func Format(template string, data map[string]any) string {
	result := template
	for k, v := range data {
		value := fmt.Sprint(v)
		result = strings.ReplaceAll(result, "${"+k+"}", value)
		result = strings.ReplaceAll(result, "{"+k+"}", value)
	}
	return result
}

func Base64Encode(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

func Base64Decode(s string) (string, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func URLEncode(s string) string {
	return url.QueryEscape(s)
}

func URLDecode(s string) (string, error) {
	return url.QueryUnescape(s)
}
