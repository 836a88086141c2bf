// Package collaborative implements user-based collaborative filtering over
// explicit book ratings.
package collaborative

import (
	"math"
	"sort"

	"github.com/fyrsmithlabs/bookrec/internal/catalog"
)

// Matrix is a dense user x item rating table. Unrated cells are 0. Users
// and items are held in ascending id order.
type Matrix struct {
	users     []int64
	items     []int64
	userIndex map[int64]int
	itemIndex map[int64]int
	values    [][]float64
	books     map[int64]catalog.Book
}

// BuildMatrix pivots rating triples into a Matrix. Repeated (user, item)
// observations are averaged.
func BuildMatrix(ratings []catalog.Rating) *Matrix {
	type cell struct{ user, item int64 }
	sums := make(map[cell]float64, len(ratings))
	counts := make(map[cell]int, len(ratings))
	books := make(map[int64]catalog.Book)
	userSet := make(map[int64]struct{})
	itemSet := make(map[int64]struct{})

	for _, r := range ratings {
		if math.IsNaN(r.Rating) {
			continue
		}
		c := cell{r.UserID, r.Book.ID}
		sums[c] += r.Rating
		counts[c]++
		userSet[r.UserID] = struct{}{}
		itemSet[r.Book.ID] = struct{}{}
		if _, ok := books[r.Book.ID]; !ok {
			books[r.Book.ID] = r.Book
		}
	}

	m := &Matrix{
		users:     sortedKeys(userSet),
		items:     sortedKeys(itemSet),
		userIndex: make(map[int64]int, len(userSet)),
		itemIndex: make(map[int64]int, len(itemSet)),
		books:     books,
	}
	for i, u := range m.users {
		m.userIndex[u] = i
	}
	for j, it := range m.items {
		m.itemIndex[it] = j
	}
	m.values = make([][]float64, len(m.users))
	for i := range m.values {
		m.values[i] = make([]float64, len(m.items))
	}
	for c, sum := range sums {
		m.values[m.userIndex[c.user]][m.itemIndex[c.item]] = sum / float64(counts[c])
	}
	return m
}

// Users returns user ids in ascending order.
func (m *Matrix) Users() []int64 { return append([]int64(nil), m.users...) }

// Items returns item ids in ascending order.
func (m *Matrix) Items() []int64 { return append([]int64(nil), m.items...) }

// HasUser reports whether the user has any rating.
func (m *Matrix) HasUser(userID int64) bool {
	_, ok := m.userIndex[userID]
	return ok
}

// Rating returns the (averaged) rating, or 0 when absent.
func (m *Matrix) Rating(userID, itemID int64) float64 {
	i, ok := m.userIndex[userID]
	if !ok {
		return 0
	}
	j, ok := m.itemIndex[itemID]
	if !ok {
		return 0
	}
	return m.values[i][j]
}

// Book returns the catalog metadata seen with an item's ratings.
func (m *Matrix) Book(itemID int64) (catalog.Book, bool) {
	b, ok := m.books[itemID]
	return b, ok
}

func sortedKeys(set map[int64]struct{}) []int64 {
	out := make([]int64, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
