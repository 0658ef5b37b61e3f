package storage

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dvloznov/splitwise-ledger/internal/domain"
)

func entries(n int) []domain.Entry {
	out := make([]domain.Entry, n)
	for i := range out {
		out[i].Transaction.ID = strconv.Itoa(i)
	}
	return out
}

func TestChunks(t *testing.T) {
	tests := []struct {
		name  string
		n     int
		size  int
		sizes []int
	}{
		{"empty", 0, 3, []int{}},
		{"exact", 6, 3, []int{3, 3}},
		{"remainder", 7, 3, []int{3, 3, 1}},
		{"smaller than size", 2, 100, []int{2}},
		{"default size", 501, 0, []int{500, 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks := Chunks(entries(tt.n), tt.size)
			sizes := make([]int, 0, len(chunks))
			for _, c := range chunks {
				sizes = append(sizes, len(c))
			}
			assert.Equal(t, tt.sizes, sizes)
		})
	}
}

func TestChunksPreserveOrder(t *testing.T) {
	chunks := Chunks(entries(5), 2)
	var ids []string
	for _, c := range chunks {
		for _, e := range c {
			ids = append(ids, e.Transaction.ID)
		}
	}
	assert.Equal(t, []string{"0", "1", "2", "3", "4"}, ids)
}

func TestInsertedAdd(t *testing.T) {
	var total Inserted
	total.Add(Inserted{Transactions: 2, Payments: 4})
	total.Add(Inserted{Transactions: 1, Payments: 2})
	assert.Equal(t, Inserted{Transactions: 3, Payments: 6}, total)
}
