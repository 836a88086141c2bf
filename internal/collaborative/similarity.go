package collaborative

import (
	"sort"

	"github.com/fyrsmithlabs/bookrec/internal/catalog"
	"gonum.org/v1/gonum/floats"
)

// Similarity is the symmetric user x user cosine similarity of a Matrix.
type Similarity struct {
	users     []int64
	userIndex map[int64]int
	values    [][]float64
}

// Neighbor is another user and their similarity to the target.
type Neighbor struct {
	UserID     int64
	Similarity float64
}

// SimilarityMatrix builds the rating matrix and its user similarity in one
// step.
func SimilarityMatrix(ratings []catalog.Rating) *Similarity {
	return ComputeSimilarity(BuildMatrix(ratings))
}

// ComputeSimilarity computes cosine similarity between every pair of user
// rows. A user with an all-zero row has similarity 0 with everyone.
// Only the upper triangle is computed; the lower one is mirrored so that
// sim(u, v) and sim(v, u) are bit-identical.
func ComputeSimilarity(m *Matrix) *Similarity {
	n := len(m.users)
	norms := make([]float64, n)
	for i, row := range m.values {
		norms[i] = floats.Norm(row, 2)
	}

	values := make([][]float64, n)
	for i := range values {
		values[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			var s float64
			if norms[i] > 0 && norms[j] > 0 {
				s = floats.Dot(m.values[i], m.values[j]) / (norms[i] * norms[j])
			}
			values[i][j] = s
			values[j][i] = s
		}
	}

	return &Similarity{
		users:     m.users,
		userIndex: m.userIndex,
		values:    values,
	}
}

// Between returns sim(u, v); 0 when either user is unknown.
func (s *Similarity) Between(u, v int64) float64 {
	i, ok := s.userIndex[u]
	if !ok {
		return 0
	}
	j, ok := s.userIndex[v]
	if !ok {
		return 0
	}
	return s.values[i][j]
}

// Neighbors ranks every other user by similarity to userID, highest first.
// The user itself is never included. Ties are broken by ascending user id.
func (s *Similarity) Neighbors(userID int64) []Neighbor {
	i, ok := s.userIndex[userID]
	if !ok {
		return nil
	}
	out := make([]Neighbor, 0, len(s.users)-1)
	for j, other := range s.users {
		if j == i {
			continue
		}
		out = append(out, Neighbor{UserID: other, Similarity: s.values[i][j]})
	}
	sort.SliceStable(out, func(a, b int) bool {
		if out[a].Similarity != out[b].Similarity {
			return out[a].Similarity > out[b].Similarity
		}
		return out[a].UserID < out[b].UserID
	})
	return out
}
