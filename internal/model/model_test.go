package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClusterAddDocumentTracksMax(t *testing.T) {
	c := NewCluster(7)
	for _, ts := range []uint64{30, 10, 50, 20} {
		c.AddDocument(&Document{FetchTime: ts})
	}
	assert.Equal(t, 4, c.Size())
	assert.Equal(t, uint64(50), c.MaxTimestamp)
}

func TestClusterTimestampPercentile(t *testing.T) {
	c := NewCluster(1)
	for _, ts := range []uint64{40, 10, 30, 20, 50} {
		c.AddDocument(&Document{FetchTime: ts})
	}
	assert.Equal(t, uint64(10), c.Timestamp(0))
	assert.Equal(t, uint64(30), c.Timestamp(0.5))
	assert.Equal(t, uint64(40), c.Timestamp(0.9))
	assert.Equal(t, uint64(50), c.Timestamp(1))
	assert.Equal(t, uint64(0), NewCluster(2).Timestamp(0.5))
}

func TestSortByWeights(t *testing.T) {
	c := NewCluster(1)
	c.AddDocument(&Document{Title: "b", FetchTime: 1})
	c.AddDocument(&Document{Title: "a", FetchTime: 2})
	c.AddDocument(&Document{Title: "c", FetchTime: 3})

	c.SortByWeights([]float64{0.5, 0.5 + 1e-9, 0.9})

	var titles []string
	for _, d := range c.Documents {
		titles = append(titles, d.Title)
	}
	assert.Equal(t, []string{"c", "a", "b"}, titles)
	assert.Equal(t, uint64(3), c.MaxTimestamp)
	assert.Equal(t, "c", c.Title())
}

func TestSortByWeightsLengthMismatchPanics(t *testing.T) {
	c := NewCluster(1)
	c.AddDocument(&Document{})
	assert.Panics(t, func() { c.SortByWeights(nil) })
}

func TestClusterLess(t *testing.T) {
	a := &Cluster{ID: 2, MaxTimestamp: 10}
	b := &Cluster{ID: 1, MaxTimestamp: 10}
	c := &Cluster{ID: 0, MaxTimestamp: 20}
	assert.True(t, b.Less(a))
	assert.False(t, a.Less(b))
	assert.True(t, a.Less(c))
}

func TestDocumentPredicates(t *testing.T) {
	d := &Document{
		Language:   LanguageEN,
		Category:   CategorySports,
		FetchTime:  100,
		TTL:        50,
		Embeddings: map[EmbeddingKey][]float32{EmbeddingFastTextClassic: {1}},
	}
	assert.True(t, d.IsNews())
	assert.True(t, d.IsFullyIndexed())
	assert.False(t, d.IsStale(150))
	assert.True(t, d.IsStale(151))
	assert.True(t, d.HasEmbeddings(EmbeddingFastTextClassic))
	assert.False(t, d.HasEmbeddings(EmbeddingFastTextClassic, EmbeddingFastTextTitle))

	d.Category = CategoryNotNews
	assert.False(t, d.IsNews())
	assert.True(t, d.IsFullyIndexed())

	d.Embeddings = nil
	assert.False(t, d.IsFullyIndexed())
}

func TestHostOf(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://www.Example.com/path?q=1", "example.com"},
		{"http://news.bbc.co.uk/a", "news.bbc.co.uk"},
		{"reuters.com", "reuters.com"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, HostOf(tt.in), tt.in)
	}

	assert.Equal(t, "cnn.com", (&Document{URL: "https://cnn.com/x"}).SourceHost())
	assert.Equal(t, "given", (&Document{Host: "given", URL: "https://cnn.com/x"}).SourceHost())
}

func TestEnumText(t *testing.T) {
	assert.Equal(t, LanguageRU, ParseLanguage("RU"))
	assert.Equal(t, LanguageUndefined, ParseLanguage("xx"))
	assert.Equal(t, CategoryNotNews, ParseCategory("not_news"))
	assert.Equal(t, CategoryUndefined, ParseCategory("weather"))
	assert.Equal(t, 10, NumCategories)
	assert.Equal(t, "Category(42)", Category(42).String())
}

func TestDocumentJSON(t *testing.T) {
	in := Document{
		Filename:   "a.html",
		Language:   LanguageRU,
		Category:   CategoryScience,
		Embeddings: map[EmbeddingKey][]float32{EmbeddingFastTextTitle: {0.5, -1}},
	}
	b, err := json.Marshal(in)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"language":"ru"`)
	assert.Contains(t, string(b), `"fasttext_title"`)

	var out Document
	require.NoError(t, json.Unmarshal(b, &out))
	assert.Equal(t, in, out)

	err = json.Unmarshal([]byte(`{"embeddings":{"bogus":[1]}}`), &out)
	assert.Error(t, err)
}

func TestEmbeddingCodec(t *testing.T) {
	vec := []float32{0, 1.5, -2.25, 3.4028235e38}
	got, err := DecodeEmbedding(EncodeEmbedding(vec))
	require.NoError(t, err)
	assert.Equal(t, vec, got)

	_, err = DecodeEmbedding([]byte{1, 2, 3})
	assert.Error(t, err)

	got, err = DecodeEmbedding(nil)
	require.NoError(t, err)
	assert.Nil(t, got)
}
