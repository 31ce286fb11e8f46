package tui

import (
	"strings"
	"unicode/utf8"
)

// wrapLine breaks s on spaces so no line is wider than width runes. Words
// longer than width are hard-split.
func wrapLine(s string, width int) []string {
	if width <= 0 {
		return []string{s}
	}
	var (
		lines []string
		line  strings.Builder
		n     int
	)
	flush := func() {
		lines = append(lines, line.String())
		line.Reset()
		n = 0
	}
	for i, word := range strings.Split(s, " ") {
		wlen := utf8.RuneCountInString(word)
		switch {
		case i > 0 && n+1+wlen <= width:
			line.WriteByte(' ')
			line.WriteString(word)
			n += 1 + wlen
			continue
		case i > 0:
			flush()
		}
		chunks := splitLongWord(word, width)
		lines = append(lines, chunks[:len(chunks)-1]...)
		line.WriteString(chunks[len(chunks)-1])
		n = utf8.RuneCountInString(chunks[len(chunks)-1])
	}
	if line.Len() > 0 {
		flush()
	}
	return lines
}

func splitLongWord(word string, width int) []string {
	runes := []rune(word)
	if width <= 0 || len(runes) <= width {
		return []string{word}
	}
	var chunks []string
	for len(runes) > width {
		chunks = append(chunks, string(runes[:width]))
		runes = runes[width:]
	}
	return append(chunks, string(runes))
}

func wrapWithPrefix(s string, prefix string, width int) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		wrapped := wrapLine(line, width-utf8.RuneCountInString(prefix))
		for j := range wrapped {
			wrapped[j] = prefix + wrapped[j]
		}
		lines[i] = strings.Join(wrapped, "\n")
	}
	return strings.Join(lines, "\n")
}
