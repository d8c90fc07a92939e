package orders

import (
	"fmt"
	"strings"
)

type LineInput struct {
	ID       string `json:"id"`
	Quantity int    `json:"quantity"`
}

// MergedLines sums request lines by id. Duplicates are additive; the first
// occurrence fixes an id's position.
type MergedLines struct {
	ids []string
	qty map[string]int
}

func MergeLines(in []LineInput) (MergedLines, error) {
	m := MergedLines{qty: make(map[string]int, len(in))}
	for _, it := range in {
		id := strings.TrimSpace(it.ID)
		if id == "" {
			return MergedLines{}, fmt.Errorf("%w: line id is required", ErrInvalidInput)
		}
		if it.Quantity <= 0 {
			return MergedLines{}, fmt.Errorf("%w: line %s: %d", ErrNonPositiveQuantity, id, it.Quantity)
		}
		if _, seen := m.qty[id]; !seen {
			m.ids = append(m.ids, id)
		}
		m.qty[id] += it.Quantity
	}
	return m, nil
}

func (m MergedLines) IDs() []string {
	return append([]string(nil), m.ids...)
}

func (m MergedLines) Quantity(id string) int {
	return m.qty[id]
}

func (m MergedLines) Len() int {
	return len(m.ids)
}
