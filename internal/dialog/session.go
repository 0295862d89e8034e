package dialog

import "strings"

var endPhrases = map[string]struct{}{
	"bye":       {},
	"quit":      {},
	"exit":      {},
	"goodbye":   {},
	"stop":      {},
	"terminate": {},
	"done":      {},
	"finish":    {},
}

// IsEndOfSession true, если пользователь прощается одной из фиксированных фраз.
func IsEndOfSession(text string) bool {
	_, ok := endPhrases[strings.ToLower(strings.TrimSpace(text))]
	return ok
}
