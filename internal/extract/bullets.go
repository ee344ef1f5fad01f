package extract

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	minBulletWords = 3
	maxBulletRunes = 1000
)

var bulletMarkers = []string{"•", "●", "▪", "■", "◦", "‣", "–", "—", "-", "*", "·", "o "}

// SplitBullets turns résumé text into bullet lines. When the text uses bullet
// markers, only marked lines are returned and wrapped lines that start in
// lowercase are joined onto the previous bullet. Otherwise every line with at
// least three words is a bullet. Exact duplicates are dropped.
func SplitBullets(text string) []string {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")

	marked := false
	for _, line := range lines {
		if _, ok := stripMarker(strings.TrimSpace(line)); ok {
			marked = true
			break
		}
	}

	var out []string
	seen := make(map[string]struct{})
	var current strings.Builder
	flush := func() {
		bullet := strings.Join(strings.Fields(current.String()), " ")
		current.Reset()
		if len(strings.Fields(bullet)) < minBulletWords || utf8.RuneCountInString(bullet) > maxBulletRunes {
			return
		}
		if _, ok := seen[bullet]; ok {
			return
		}
		seen[bullet] = struct{}{}
		out = append(out, bullet)
	}

	for _, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" {
			flush()
			continue
		}
		if !marked {
			current.WriteString(line)
			flush()
			continue
		}
		if body, ok := stripMarker(line); ok {
			flush()
			current.WriteString(body)
			continue
		}
		if current.Len() > 0 && startsLower(line) {
			current.WriteString(" ")
			current.WriteString(line)
			continue
		}
		flush()
	}
	flush()
	return out
}

func stripMarker(line string) (string, bool) {
	for _, marker := range bulletMarkers {
		if strings.HasPrefix(line, marker) {
			body := strings.TrimSpace(strings.TrimPrefix(line, marker))
			if body == "" {
				return "", false
			}
			return body, true
		}
	}
	// Numbered lists: "1." or "2)".
	i := 0
	for i < len(line) && line[i] >= '0' && line[i] <= '9' {
		i++
	}
	if i > 0 && i < 3 && i < len(line) && (line[i] == '.' || line[i] == ')') {
		body := strings.TrimSpace(line[i+1:])
		if body != "" {
			return body, true
		}
	}
	return "", false
}

func startsLower(line string) bool {
	r, _ := utf8.DecodeRuneInString(line)
	return unicode.IsLower(r)
}
