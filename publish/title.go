package publish

import (
	"strings"
	"unicode/utf8"
)

// YouTube limits, in characters.
const (
	MaxTitleRunes       = 100
	MaxDescriptionRunes = 5000
)

// NormalizeTitle appends marker when the title does not already contain it
// (case-insensitive) and truncates to MaxTitleRunes, keeping the marker at
// the end when truncation would otherwise cut it off. Applying it twice gives
// the same result as applying it once.
func NormalizeTitle(title, marker string) string {
	title = strings.Join(strings.Fields(title), " ")
	if marker == "" {
		return truncateRunes(title, MaxTitleRunes)
	}
	if !containsFold(title, marker) {
		if title == "" {
			title = marker
		} else {
			title += " " + marker
		}
	}
	if utf8.RuneCountInString(title) <= MaxTitleRunes {
		return title
	}
	base := strings.TrimSpace(removeFold(title, marker))
	room := MaxTitleRunes - utf8.RuneCountInString(marker) - 1
	if room <= 0 {
		return truncateRunes(marker, MaxTitleRunes)
	}
	base = strings.TrimSpace(truncateRunes(base, room))
	if base == "" {
		return marker
	}
	return base + " " + marker
}

// ComposeDescription joins the title, free-text description, hashtags and the
// promotional suffix with blank lines, skipping empty parts, and truncates to
// MaxDescriptionRunes.
func ComposeDescription(title, description, hashtags, promo string) string {
	parts := make([]string, 0, 4)
	for _, p := range []string{title, description, hashtags, promo} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return truncateRunes(strings.Join(parts, "\n\n"), MaxDescriptionRunes)
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}

// removeFold drops every case-insensitive occurrence of sub from s.
func removeFold(s, sub string) string {
	if sub == "" {
		return s
	}
	lowerSub := strings.ToLower(sub)
	var b strings.Builder
	rs := []rune(s)
	subLen := len([]rune(sub))
	for i := 0; i < len(rs); {
		if i+subLen <= len(rs) && strings.ToLower(string(rs[i:i+subLen])) == lowerSub {
			i += subLen
			continue
		}
		b.WriteRune(rs[i])
		i++
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
