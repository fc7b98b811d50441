// Package metadata provides typed metadata documents, filter predicates and
// a Roaring-bitmap inverted index for filtered vector search.
//
// Metadata is opaque to the spatial index structures: filters are evaluated
// as a post-check on candidates the index visits, never as a pruning bound.
//
// # Usage
//
//	doc := metadata.Metadata{
//	    "category": metadata.String("tech"),
//	    "year":     metadata.Int(2024),
//	}
//
//	fs := metadata.NewFilterSet(
//	    metadata.Eq("category", metadata.String("tech")),
//	    metadata.Gte("year", metadata.Int(2020)),
//	)
//	ok := fs.Matches(doc)
package metadata
