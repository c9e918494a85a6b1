package cart

import (
	"errors"
	"sync"

	"restopos/terminal/internal/domain"
)

var ErrLineNotFound = errors.New("cart line not found")

// Ledger holds the lines of one in-progress order. Lines keep insertion order
// and there is never more than one line per item id.
type Ledger struct {
	mu    sync.RWMutex
	lines []domain.CartLine
}

func NewLedger() *Ledger {
	return &Ledger{lines: make([]domain.CartLine, 0, 8)}
}

// Add puts one unit of item into the ledger.
func (l *Ledger) Add(item domain.MenuItem) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i := range l.lines {
		if l.lines[i].ItemID == item.ItemID {
			l.lines[i].Count++
			return
		}
	}
	l.lines = append(l.lines, domain.CartLine{
		ItemID: item.ItemID,
		Name:   item.Name,
		Price:  item.Price,
		Count:  1,
	})
}

// Remove takes one unit off the line at index. A line that drops to zero is deleted.
func (l *Ledger) Remove(index int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if index < 0 || index >= len(l.lines) {
		return ErrLineNotFound
	}
	l.lines[index].Count--
	if l.lines[index].Count <= 0 {
		l.lines = append(l.lines[:index], l.lines[index+1:]...)
	}
	return nil
}

// Snapshot returns a copy of the current lines in insertion order.
func (l *Ledger) Snapshot() []domain.CartLine {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]domain.CartLine, len(l.lines))
	copy(out, l.lines)
	return out
}

func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.lines)
}

func (l *Ledger) Clear() {
	l.mu.Lock()
	l.lines = l.lines[:0]
	l.mu.Unlock()
}

// Restore replaces the ledger content, merging duplicate item ids and dropping empty lines.
func (l *Ledger) Restore(lines []domain.CartLine) {
	merged := make([]domain.CartLine, 0, len(lines))
	index := make(map[int64]int, len(lines))
	for _, line := range lines {
		if line.Count < 1 {
			continue
		}
		if pos, ok := index[line.ItemID]; ok {
			merged[pos].Count += line.Count
			continue
		}
		index[line.ItemID] = len(merged)
		merged = append(merged, line)
	}

	l.mu.Lock()
	l.lines = merged
	l.mu.Unlock()
}
