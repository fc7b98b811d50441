package metadata

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValue(t *testing.T) {
	t.Run("accessors", func(t *testing.T) {
		i, ok := Int(42).AsInt64()
		require.True(t, ok)
		assert.Equal(t, int64(42), i)

		f, ok := Float(2.5).AsFloat64()
		require.True(t, ok)
		assert.Equal(t, 2.5, f)

		s, ok := String("en").AsString()
		require.True(t, ok)
		assert.Equal(t, "en", s)

		b, ok := Bool(true).AsBool()
		require.True(t, ok)
		assert.True(t, b)

		now := time.Now()
		ts, ok := Time(now).AsTime()
		require.True(t, ok)
		assert.Equal(t, now.UnixNano(), ts.UnixNano())
	})

	t.Run("kind mismatch", func(t *testing.T) {
		_, ok := Int(1).AsString()
		assert.False(t, ok)
		_, ok = String("x").AsBool()
		assert.False(t, ok)
	})

	t.Run("key is stable and distinguishes kinds", func(t *testing.T) {
		assert.Equal(t, "i:7", Int(7).Key())
		assert.Equal(t, "s:7", String("7").Key())
		assert.NotEqual(t, Int(7).Key(), String("7").Key())
		assert.Equal(t, "b:1", Bool(true).Key())
	})
}

func TestMetadataClone(t *testing.T) {
	doc := Metadata{"lang": String("en")}
	clone := doc.Clone()
	clone["lang"] = String("de")
	assert.Equal(t, "en", doc["lang"].S)

	assert.Nil(t, Metadata(nil).Clone())
	assert.Nil(t, Metadata{}.Clone())
}

func TestFromAny(t *testing.T) {
	got, err := FromAny(map[string]any{
		"lang":  "en",
		"year":  2024,
		"score": 0.5,
		"draft": false,
	})
	require.NoError(t, err)
	assert.Equal(t, String("en"), got["lang"])
	assert.Equal(t, Int(2024), got["year"])
	assert.Equal(t, Float(0.5), got["score"])
	assert.Equal(t, Bool(false), got["draft"])

	_, err = FromAny(map[string]any{"bad": []int{1}})
	require.Error(t, err)
}

func TestFilterMatches(t *testing.T) {
	doc := Metadata{
		"lang":  String("en"),
		"year":  Int(2020),
		"score": Float(0.75),
		"title": String("introduction to trees"),
	}

	tests := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"eq string match", Eq("lang", String("en")), true},
		{"eq string miss", Eq("lang", String("de")), false},
		{"ne", Ne("lang", String("de")), true},
		{"missing key never matches", Eq("author", String("x")), false},
		{"missing key never matches ne", Ne("author", String("x")), false},
		{"gt int", Gt("year", Int(2019)), true},
		{"gt int boundary", Gt("year", Int(2020)), false},
		{"gte int boundary", Gte("year", Int(2020)), true},
		{"lt float", Lt("score", Float(0.8)), true},
		{"lte float boundary", Lte("score", Float(0.75)), true},
		{"cross int float compare", Gt("year", Float(2019.5)), true},
		{"string ordering", Lt("lang", String("fr")), true},
		{"contains", Contains("title", "trees"), true},
		{"contains miss", Contains("title", "graphs"), false},
		{"contains on non-string", Contains("year", "20"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.Matches(doc))
		})
	}
}

func TestFilterSet(t *testing.T) {
	doc := Metadata{"lang": String("en"), "year": Int(2020)}

	t.Run("all must match", func(t *testing.T) {
		fs := NewFilterSet(Eq("lang", String("en")), Gt("year", Int(2019)))
		assert.True(t, fs.Matches(doc))

		fs = NewFilterSet(Eq("lang", String("en")), Gt("year", Int(2020)))
		assert.False(t, fs.Matches(doc))
	})

	t.Run("empty matches everything", func(t *testing.T) {
		fs := NewFilterSet()
		assert.True(t, fs.Empty())
		assert.True(t, fs.Matches(doc))

		var nilSet *FilterSet
		assert.True(t, nilSet.Empty())
	})
}

func TestIndex(t *testing.T) {
	t.Run("add and match", func(t *testing.T) {
		ix := NewIndex()
		ix.Add(0, Metadata{"lang": String("en")})
		ix.Add(1, Metadata{"lang": String("de")})
		ix.Add(2, nil)

		assert.Equal(t, 3, ix.Len())

		fs := NewFilterSet(Eq("lang", String("en")))
		assert.True(t, ix.Matches(0, fs))
		assert.False(t, ix.Matches(1, fs))
		assert.False(t, ix.Matches(2, fs))
		assert.False(t, ix.Matches(99, fs))
	})

	t.Run("replace reindexes", func(t *testing.T) {
		ix := NewIndex()
		ix.Add(0, Metadata{"lang": String("en")})
		ix.Add(0, Metadata{"lang": String("de")})

		assert.Equal(t, 1, ix.Len())
		assert.Equal(t, 0, ix.CandidateCount(NewFilterSet(Eq("lang", String("en")))))
		assert.Equal(t, 1, ix.CandidateCount(NewFilterSet(Eq("lang", String("de")))))
	})

	t.Run("remove drops postings", func(t *testing.T) {
		ix := NewIndex()
		ix.Add(0, Metadata{"lang": String("en")})
		ix.Remove(0)

		assert.Equal(t, 0, ix.Len())
		assert.Equal(t, 0, ix.CandidateCount(NewFilterSet(Eq("lang", String("en")))))
		_, ok := ix.Document(0)
		assert.False(t, ok)
	})

	t.Run("candidates intersect equality filters", func(t *testing.T) {
		ix := NewIndex()
		ix.Add(0, Metadata{"lang": String("en"), "year": Int(2020)})
		ix.Add(1, Metadata{"lang": String("en"), "year": Int(2021)})
		ix.Add(2, Metadata{"lang": String("de"), "year": Int(2020)})

		fs := NewFilterSet(Eq("lang", String("en")), Eq("year", Int(2020)))
		bm := ix.Candidates(fs)
		assert.Equal(t, uint64(1), bm.GetCardinality())
		assert.True(t, bm.Contains(0))
	})

	t.Run("candidates superset for range filters", func(t *testing.T) {
		ix := NewIndex()
		ix.Add(0, Metadata{"year": Int(2019)})
		ix.Add(1, Metadata{"year": Int(2021)})

		// A pure range filter cannot narrow the bitmap; the count is an
		// upper bound, exact matching happens per candidate.
		fs := NewFilterSet(Gt("year", Int(2020)))
		assert.Equal(t, 2, ix.CandidateCount(fs))
		assert.False(t, ix.Matches(0, fs))
		assert.True(t, ix.Matches(1, fs))
	})

	t.Run("unknown equality value yields empty candidates", func(t *testing.T) {
		ix := NewIndex()
		ix.Add(0, Metadata{"lang": String("en")})
		assert.Equal(t, 0, ix.CandidateCount(NewFilterSet(Eq("lang", String("fr")))))
	})

	t.Run("reset", func(t *testing.T) {
		ix := NewIndex()
		ix.Add(0, Metadata{"lang": String("en")})
		ix.Reset()
		assert.Equal(t, 0, ix.Len())
		assert.Equal(t, 0, ix.CandidateCount(NewFilterSet(Eq("lang", String("en")))))
	})
}
