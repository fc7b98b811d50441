package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbordb/arbor/metadata"
)

func TestParseVector(t *testing.T) {
	vec, err := parseVector("0.1, 0.9,0.3")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.9, 0.3}, vec)

	_, err = parseVector("1,x,3")
	require.Error(t, err)
}

func TestParseMeta(t *testing.T) {
	doc, err := parseMeta([]string{"lang=en", "year=2024", "score=0.5", "draft=false"})
	require.NoError(t, err)
	assert.Equal(t, metadata.String("en"), doc["lang"])
	assert.Equal(t, metadata.Int(2024), doc["year"])
	assert.Equal(t, metadata.Float(0.5), doc["score"])
	assert.Equal(t, metadata.Bool(false), doc["draft"])

	_, err = parseMeta([]string{"broken"})
	require.Error(t, err)

	doc, err = parseMeta(nil)
	require.NoError(t, err)
	assert.Nil(t, doc)
}

func TestParseFilters(t *testing.T) {
	fs, err := parseFilters([]string{"lang=en", "year>=2020", "score<0.9", "name!=bob", "title~intro"})
	require.NoError(t, err)
	require.Len(t, fs, 5)

	assert.Equal(t, metadata.Eq("lang", metadata.String("en")), fs[0])
	assert.Equal(t, metadata.Gte("year", metadata.Int(2020)), fs[1])
	assert.Equal(t, metadata.Lt("score", metadata.Float(0.9)), fs[2])
	assert.Equal(t, metadata.Ne("name", metadata.String("bob")), fs[3])
	assert.Equal(t, metadata.Contains("title", "intro"), fs[4])

	_, err = parseFilters([]string{"nonsense"})
	require.Error(t, err)
}
