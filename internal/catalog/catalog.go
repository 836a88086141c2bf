// Package catalog holds the reference data shared by the recommenders:
// books, user ratings and scored recommendations.
package catalog

// Source identifies which recommender produced a candidate.
type Source string

const (
	SourceContent       Source = "content"
	SourceCollaborative Source = "collaborative"
)

// Book is an immutable catalog item.
type Book struct {
	ID        int64  `json:"book_id,omitempty"`
	Title     string `json:"title"`
	Author    string `json:"author"`
	CoverURL  string `json:"book_cover_url,omitempty"`
	Category  string `json:"category,omitempty"`
	Publisher string `json:"publisher,omitempty"`
}

// Rating is one (user, book, rating) observation joined with the book's
// metadata.
type Rating struct {
	UserID int64
	Book   Book
	Rating float64
}

// SeedBook is a recently read book used to seed content similarity.
type SeedBook struct {
	Title    string `json:"title"`
	Author   string `json:"author"`
	Category string `json:"category,omitempty"`
	CoverURL string `json:"book_cover_url,omitempty"`
}

// Recommendation is a scored candidate. Score is the value used for ranking;
// Similarity or PredictedRating carries the raw signal depending on Source.
type Recommendation struct {
	Book            Book
	Score           float64
	Source          Source
	Similarity      float64
	PredictedRating float64
}

// HybridResult is the wire shape of a blended recommendation.
type HybridResult struct {
	BookTitle    string  `json:"book_title"`
	Author       string  `json:"author"`
	BookCoverURL string  `json:"book_cover_url"`
	HybridScore  float64 `json:"hybrid_score"`
}

// Result converts a recommendation to its wire shape.
func (r Recommendation) Result() HybridResult {
	return HybridResult{
		BookTitle:    r.Book.Title,
		Author:       r.Book.Author,
		BookCoverURL: r.Book.CoverURL,
		HybridScore:  r.Score,
	}
}

// Results converts a ranked list to wire shapes, preserving order.
func Results(recs []Recommendation) []HybridResult {
	out := make([]HybridResult, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.Result())
	}
	return out
}
