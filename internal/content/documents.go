package content

import (
	"strconv"

	"github.com/fyrsmithlabs/bookrec/internal/catalog"
)

// BookFromMetadata decodes a search hit; content is used as the title when
// the metadata has none.
//
// The index is built outside bookrec. Each entry embeds QueryText(title,
// author) and carries the Meta* keys, so a seed finds its own entry first.
func BookFromMetadata(meta map[string]string, content string) catalog.Book {
	b := catalog.Book{
		Title:     meta[MetaTitle],
		Author:    meta[MetaAuthor],
		CoverURL:  meta[MetaCoverURL],
		Category:  meta[MetaCategory],
		Publisher: meta[MetaPublisher],
	}
	if id, err := strconv.ParseInt(meta[MetaBookID], 10, 64); err == nil {
		b.ID = id
	}
	if b.Title == "" {
		b.Title = content
	}
	return b
}
