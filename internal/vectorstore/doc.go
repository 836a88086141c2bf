// Package vectorstore holds the similarity index over the book catalog.
//
// Two providers implement Store: an embedded chromem-go database persisted to
// a local directory, and an external Qdrant server reached over gRPC. Both
// embed text through an Embedder and score hits by cosine similarity.
//
// # Usage
//
//	store, err := vectorstore.NewStore(cfg, embedder, logger)
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	hits, err := store.Search(ctx, "Dune Frank Herbert", 10)
//
// Catalog documents carry book metadata under the keys book_id, title,
// author, cover_url, category and publisher. See the content package for
// decoding hits into catalog books.
package vectorstore
