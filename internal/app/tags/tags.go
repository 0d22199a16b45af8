// Package tags parses user supplied tag strings and derives tag slugs.
package tags

import (
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Parse splits a raw tag string into a sorted, de-duplicated list of names.
//
// Double quoted runs form a single tag. Outside quotes the string is split on
// commas when it has any loose comma, otherwise on spaces:
//
//	`apple ball cat`        -> [apple ball cat]
//	`apple, ball cat`       -> [apple "ball cat"]
//	`"ball cat" dog`        -> ["ball cat" dog]
func Parse(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}

	if !strings.ContainsAny(raw, `,"`) {
		return uniqueSorted(splitStrip(raw, " "))
	}

	var (
		words        []string
		toBeSplit    []string
		buf          strings.Builder
		looseComma   bool
		inputRunes   = []rune(raw)
		flushPending = func() {
			if buf.Len() > 0 {
				toBeSplit = append(toBeSplit, buf.String())
				buf.Reset()
			}
		}
	)

	for i := 0; i < len(inputRunes); i++ {
		c := inputRunes[i]
		if c != '"' {
			if c == ',' {
				looseComma = true
			}
			buf.WriteRune(c)
			continue
		}

		flushPending()
		j := i + 1
		for j < len(inputRunes) && inputRunes[j] != '"' {
			buf.WriteRune(inputRunes[j])
			j++
		}
		if j == len(inputRunes) {
			// Unterminated quote: treat the remainder as loose text.
			if strings.Contains(buf.String(), ",") {
				looseComma = true
			}
			break
		}
		if word := strings.TrimSpace(buf.String()); word != "" {
			words = append(words, word)
		}
		buf.Reset()
		i = j
	}
	flushPending()

	delimiter := " "
	if looseComma {
		delimiter = ","
	}
	for _, chunk := range toBeSplit {
		words = append(words, splitStrip(chunk, delimiter)...)
	}
	return uniqueSorted(words)
}

func splitStrip(s, sep string) []string {
	var out []string
	for _, part := range strings.Split(s, sep) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func uniqueSorted(words []string) []string {
	seen := make(map[string]struct{}, len(words))
	out := make([]string, 0, len(words))
	for _, w := range words {
		if _, ok := seen[w]; ok {
			continue
		}
		seen[w] = struct{}{}
		out = append(out, w)
	}
	sort.Strings(out)
	return out
}

var stripMarks = transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Slugify turns a tag name into a URL-safe slug: accents are stripped,
// letters lower-cased, and runs of anything else collapsed to "-".
func Slugify(name string) string {
	folded, _, err := transform.String(stripMarks, name)
	if err != nil {
		folded = name
	}

	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(folded) {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'):
			b.WriteRune(r)
			dash = false
		case r == '-' || unicode.IsSpace(r):
			if b.Len() > 0 && !dash {
				b.WriteByte('-')
				dash = true
			}
		}
	}
	return strings.TrimRight(b.String(), "-")
}
