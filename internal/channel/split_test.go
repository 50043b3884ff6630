package channel

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestSplitText(t *testing.T) {
	tests := []struct {
		name string
		text string
		max  int
		want []string
	}{
		{"empty", "", 10, nil},
		{"fits", "hola", 10, []string{"hola"}},
		{"exact", "hola", 4, []string{"hola"}},
		{"no limit", "hola mundo", 0, []string{"hola mundo"}},
		{"prefers newline", "uno dos\ntres cuatro", 12, []string{"uno dos", "tres cuatro"}},
		{"falls back to space", "uno dos tres", 8, []string{"uno dos", "tres"}},
		{"hard cut", "abcdefghij", 4, []string{"abcd", "efgh", "ij"}},
		{"counts runes", "ñañañaña", 4, []string{"ñaña", "ñaña"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SplitText(tt.text, tt.max))
		})
	}
}

func TestSplitText_LongReply(t *testing.T) {
	text := strings.Repeat("Bebe agua durante el día.\n", 400)

	chunks := SplitText(text, 4000)
	assert.Len(t, chunks, 3)
	for _, c := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(c), 4000)
		assert.True(t, strings.HasSuffix(c, "."))
	}
	assert.Equal(t, strings.Fields(text), strings.Fields(strings.Join(chunks, " ")))
}

func TestSplitBytes_KeepsRunesWhole(t *testing.T) {
	chunks := SplitBytes("áéíóú", 3)
	assert.Equal(t, []string{"á", "é", "í", "ó", "ú"}, chunks)
	for _, c := range chunks {
		assert.True(t, utf8.ValidString(c))
	}
}

func TestSplitBytes_WindowSmallerThanRune(t *testing.T) {
	assert.Equal(t, []string{"ñ", "ñ"}, SplitBytes("ññ", 1))
}
