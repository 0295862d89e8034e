package dialog

import "strings"

const (
	turnSeparator = " EOS "
	contextTag    = " [CONTEXT] "
	knowledgeTag  = " [KNOWLEDGE] "
)

// BuildQuery склеивает инструкцию, историю диалога и (если есть) знания в один запрос.
// Пустые знания не добавляют сегмент [KNOWLEDGE].
func BuildQuery(instruction string, history []string, knowledge string) string {
	var b strings.Builder
	b.WriteString(instruction)
	b.WriteString(contextTag)
	b.WriteString(strings.Join(history, turnSeparator))
	if knowledge != "" {
		b.WriteString(knowledgeTag)
		b.WriteString(knowledge)
	}
	return b.String()
}
