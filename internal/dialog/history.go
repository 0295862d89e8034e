package dialog

// History упорядоченная история реплик. Элементы только добавляются.
type History struct {
	entries []string
}

func NewHistory(entries ...string) *History {
	h := &History{}
	h.Append(entries...)
	return h
}

func (h *History) Append(entries ...string) {
	h.entries = append(h.entries, entries...)
}

// Entries возвращает копию, чтобы вызывающий не мог изменить уже добавленное.
func (h *History) Entries() []string {
	out := make([]string, len(h.entries))
	copy(out, h.entries)
	return out
}

func (h *History) Len() int {
	return len(h.entries)
}
