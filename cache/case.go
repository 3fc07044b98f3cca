package cache

import (
	"strings"
	"unicode"
)

// SnakeCase lower-cases s and joins its words with underscores. Words break
// on case changes and on any rune that is not a letter or digit, so
// "OrderItems", "order-items" and "order items" name the same resource.
// Digits stay with the word before them.
func SnakeCase(s string) string {
	var (
		words []string
		word  []rune
	)
	flush := func() {
		if len(word) > 0 {
			words = append(words, strings.ToLower(string(word)))
			word = word[:0]
		}
	}

	runes := []rune(s)
	for i, r := range runes {
		switch {
		case unicode.IsUpper(r):
			if len(word) > 0 {
				prev := runes[i-1]
				acronymEnd := unicode.IsUpper(prev) && i+1 < len(runes) && unicode.IsLower(runes[i+1])
				if unicode.IsLower(prev) || unicode.IsDigit(prev) || acronymEnd {
					flush()
				}
			}
			word = append(word, r)
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			word = append(word, r)
		default:
			flush()
		}
	}
	flush()

	return strings.Join(words, "_")
}
