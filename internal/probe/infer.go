package probe

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// inferColumn classifies one column's sampled values. NULLs and empty
// strings mark the column nullable and stay out of the inference; a column
// holding nothing else is text. Columns mixing value kinds across rows are
// text as well.
func inferColumn(values []any) (typ, layout string, nullable bool) {
	var texts []string
	kinds := map[string]bool{}
	anyClock := false

	for _, v := range values {
		switch t := v.(type) {
		case nil:
			nullable = true
		case int64, int32, int:
			kinds["integer"] = true
		case float64, float32:
			kinds["real"] = true
		case bool:
			kinds["boolean"] = true
		case time.Time:
			kinds["time"] = true
			if hasClock(t) {
				anyClock = true
			}
		case string:
			s := strings.TrimSpace(t)
			if s == "" {
				nullable = true
				continue
			}
			kinds["text"] = true
			texts = append(texts, s)
		default:
			kinds["text"] = true
			texts = append(texts, strings.TrimSpace(fmt.Sprint(t)))
		}
	}

	switch {
	case len(kinds) == 0:
		return "text", "", nullable
	case len(kinds) > 1:
		return "text", "", nullable
	case kinds["integer"]:
		return "integer", "", nullable
	case kinds["real"]:
		return "real", "", nullable
	case kinds["boolean"]:
		return "boolean", "", nullable
	case kinds["time"]:
		if anyClock {
			return "timestamp", "", nullable
		}
		return "date", "", nullable
	}
	typ, layout = inferText(texts)
	return typ, layout, nullable
}

// inferText applies the narrowing ladder to textual samples: integer before
// boolean so "1"/"0" columns stay numeric, then real, time layouts, and
// text. Every sample must satisfy a rung for it to win.
func inferText(samples []string) (typ, layout string) {
	if allMatch(samples, isInt) {
		return "integer", ""
	}
	if allMatch(samples, isBool) {
		return "boolean", ""
	}
	if allMatch(samples, isFloat) {
		return "real", ""
	}
	if lay := bestLayout(samples, timestampLayouts); lay != "" {
		return "timestamp", lay
	}
	if lay := bestLayout(samples, dateLayouts); lay != "" {
		return "date", lay
	}
	return "text", ""
}

// bestLayout returns the first layout every sample parses under, or "".
// Table order is the preference order.
func bestLayout(samples, layouts []string) string {
	if len(samples) == 0 {
		return ""
	}
	for _, layout := range layouts {
		ok := true
		for _, s := range samples {
			if _, err := time.Parse(layout, s); err != nil {
				ok = false
				break
			}
		}
		if ok {
			return layout
		}
	}
	return ""
}

// Layout tables are ordered by preference; the ISO forms come first because
// the supported engines emit them.
var timestampLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.999999999",
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"02/01/2006 15:04:05",
	"01/02/2006 15:04:05",
}

var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"02/01/2006",
	"01/02/2006",
	"2 Jan 2006",
	"02-Jan-2006",
}

func allMatch(samples []string, fn func(string) bool) bool {
	for _, s := range samples {
		if !fn(s) {
			return false
		}
	}
	return true
}

func isInt(s string) bool {
	_, err := strconv.ParseInt(s, 10, 64)
	return err == nil
}

// isBool accepts the textual booleans engines and exports commonly emit.
func isBool(s string) bool {
	switch strings.ToLower(s) {
	case "true", "false", "t", "f", "yes", "no", "y", "n", "1", "0":
		return true
	}
	return false
}

// isFloat accepts decimal and scientific notation. Pure integer columns win
// at the first rung, so integers passing here only widen mixed numeric
// columns to real.
func isFloat(s string) bool {
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}

func hasClock(t time.Time) bool {
	return t.Hour() != 0 || t.Minute() != 0 || t.Second() != 0 || t.Nanosecond() != 0
}

// SuggestName converts arbitrary column text into a lowercase identifier:
// accents are stripped (NFD, drop nonspacing marks, NFC), space/dash/dot
// become underscores, anything else outside [a-z0-9_] is dropped, and the
// result is capped at postgres's 63-byte identifier limit.
func SuggestName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))

	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	ascii, _, _ := transform.String(t, s)

	var b strings.Builder
	prevUnderscore := false
	for _, r := range ascii {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			prevUnderscore = false
		case r == '_' || r == ' ' || r == '-' || r == '.':
			if !prevUnderscore {
				b.WriteRune('_')
				prevUnderscore = true
			}
		}
	}
	name := strings.Trim(b.String(), "_")
	if name == "" {
		return "col"
	}
	return squeezeName(name)
}

// squeezeName caps a name at 63 bytes, keeping the first 10 and last 53 so
// suffixed variants of one long prefix stay distinct.
func squeezeName(s string) string {
	if len(s) <= 63 {
		return s
	}
	return s[:10] + s[len(s)-53:]
}
