package metadata

import (
	"github.com/RoaringBitmap/roaring/v2"

	"github.com/arbordb/arbor/core"
)

// Index is a per-library inverted index over record metadata.
//
// Equality lookups are answered from Roaring bitmaps keyed by
// field/value; range and substring operators fall back to evaluating the
// predicate against the stored document. The bitmaps also provide cheap
// candidate cardinality estimates, which the search layer uses to clamp k
// before a filtered traversal.
//
// Not safe for concurrent use; callers serialize through the library lock.
type Index struct {
	docs   map[core.LocalID]Metadata
	fields map[string]map[string]*roaring.Bitmap
	all    *roaring.Bitmap
}

// NewIndex creates an empty metadata index.
func NewIndex() *Index {
	return &Index{
		docs:   make(map[core.LocalID]Metadata),
		fields: make(map[string]map[string]*roaring.Bitmap),
		all:    roaring.New(),
	}
}

// Len returns the number of indexed documents.
func (ix *Index) Len() int {
	return len(ix.docs)
}

// Add indexes doc under id, replacing any previous document for id.
// The document is cloned; later caller mutations are not observed.
func (ix *Index) Add(id core.LocalID, doc Metadata) {
	if _, ok := ix.docs[id]; ok {
		ix.Remove(id)
	}
	ix.docs[id] = doc.Clone()
	ix.all.Add(uint32(id))
	for field, value := range doc {
		byValue, ok := ix.fields[field]
		if !ok {
			byValue = make(map[string]*roaring.Bitmap)
			ix.fields[field] = byValue
		}
		key := value.Key()
		bm, ok := byValue[key]
		if !ok {
			bm = roaring.New()
			byValue[key] = bm
		}
		bm.Add(uint32(id))
	}
}

// Remove drops the document indexed under id, if any.
func (ix *Index) Remove(id core.LocalID) {
	doc, ok := ix.docs[id]
	if !ok {
		return
	}
	delete(ix.docs, id)
	ix.all.Remove(uint32(id))
	for field, value := range doc {
		byValue, ok := ix.fields[field]
		if !ok {
			continue
		}
		key := value.Key()
		if bm, ok := byValue[key]; ok {
			bm.Remove(uint32(id))
			if bm.IsEmpty() {
				delete(byValue, key)
			}
		}
		if len(byValue) == 0 {
			delete(ix.fields, field)
		}
	}
}

// Document returns the document indexed under id.
func (ix *Index) Document(id core.LocalID) (Metadata, bool) {
	doc, ok := ix.docs[id]
	return doc, ok
}

// Matches reports whether the document under id satisfies fs.
// Unknown ids never match.
func (ix *Index) Matches(id core.LocalID, fs *FilterSet) bool {
	doc, ok := ix.docs[id]
	if !ok {
		return false
	}
	if fs.Empty() {
		return true
	}
	return fs.Matches(doc)
}

// Candidates returns the ids that may satisfy fs, derived by intersecting
// the equality bitmaps in the set. Non-equality operators cannot narrow the
// bitmap and are left to the per-candidate Matches post-check, so the
// result is a superset of the true match set.
func (ix *Index) Candidates(fs *FilterSet) *roaring.Bitmap {
	if fs.Empty() {
		return ix.all.Clone()
	}
	var acc *roaring.Bitmap
	for i := range fs.Filters {
		f := &fs.Filters[i]
		if f.Operator != OpEqual {
			continue
		}
		byValue, ok := ix.fields[f.Key]
		if !ok {
			return roaring.New()
		}
		bm, ok := byValue[f.Value.Key()]
		if !ok {
			return roaring.New()
		}
		if acc == nil {
			acc = bm.Clone()
		} else {
			acc.And(bm)
		}
		if acc.IsEmpty() {
			return acc
		}
	}
	if acc == nil {
		return ix.all.Clone()
	}
	return acc
}

// CandidateCount returns an upper bound on the number of documents that can
// satisfy fs.
func (ix *Index) CandidateCount(fs *FilterSet) int {
	return int(ix.Candidates(fs).GetCardinality())
}

// Reset drops all documents and postings.
func (ix *Index) Reset() {
	ix.docs = make(map[core.LocalID]Metadata)
	ix.fields = make(map[string]map[string]*roaring.Bitmap)
	ix.all = roaring.New()
}
