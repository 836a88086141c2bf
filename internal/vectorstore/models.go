package vectorstore

// SearchResult is one hit from a similarity search.
type SearchResult struct {
	ID       string
	Content  string
	Score    float32 // cosine similarity, higher is closer
	Metadata map[string]string
}
