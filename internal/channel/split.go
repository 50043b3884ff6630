package channel

import (
	"strings"
	"unicode/utf8"
)

// SplitText breaks text into chunks of at most max runes. Cuts prefer the
// last newline inside the window, then the last space, and never split a
// rune. Whitespace at chunk boundaries is dropped.
func SplitText(text string, max int) []string {
	return split(text, max, func(s string) (int, bool) {
		if utf8.RuneCountInString(s) <= max {
			return len(s), true
		}
		n := 0
		for i := range s {
			if n == max {
				return i, false
			}
			n++
		}
		return len(s), true
	})
}

// SplitBytes is SplitText with the limit measured in bytes, for wire
// formats with byte-bounded lines.
func SplitBytes(text string, max int) []string {
	return split(text, max, func(s string) (int, bool) {
		if len(s) <= max {
			return len(s), true
		}
		cut := max
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		if cut == 0 {
			_, cut = utf8.DecodeRuneInString(s)
		}
		return cut, false
	})
}

// split applies window, which returns the byte length of the longest
// prefix of s that fits and whether all of s fits.
func split(text string, max int, window func(s string) (int, bool)) []string {
	if text == "" {
		return nil
	}
	if max <= 0 {
		return []string{text}
	}

	var chunks []string
	for text != "" {
		cut, fits := window(text)
		if !fits {
			if i := strings.LastIndexByte(text[:cut], '\n'); i > 0 {
				cut = i
			} else if i := strings.LastIndexByte(text[:cut], ' '); i > 0 {
				cut = i
			}
		}
		if chunk := strings.TrimRight(text[:cut], " \n"); chunk != "" {
			chunks = append(chunks, chunk)
		}
		text = strings.TrimLeft(text[cut:], " \n")
	}
	return chunks
}
