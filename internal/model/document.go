// Package model defines the documents and clusters that flow through the
// clustering pipeline.
//
// Documents are immutable once annotated. The pipeline shares them by pointer
// between the store, the clusters, and the serving layer; nothing downstream of
// the store mutates a Document.
package model

import (
	"net/url"
	"strings"
)

// Document is a fully annotated news article.
type Document struct {
	Filename string `json:"file_name"`
	URL      string `json:"url"`
	Host     string `json:"host"`
	SiteName string `json:"site_name,omitempty"`

	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Text        string `json:"text,omitempty"`

	Language Language `json:"language"`
	Category Category `json:"category"`

	PubTime   uint64 `json:"pub_time"`
	FetchTime uint64 `json:"fetch_time"`
	TTL       uint64 `json:"ttl"`

	Embeddings map[EmbeddingKey][]float32 `json:"embeddings,omitempty"`
	OutLinks   []string                   `json:"out_links,omitempty"`

	// Nasty marks low-quality content (clickbait, ads). It halves the
	// document's weight inside its cluster.
	Nasty bool `json:"nasty,omitempty"`
}

// IsNews reports whether the document has a concrete news category.
func (d *Document) IsNews() bool {
	return d.Category != CategoryNotNews && d.Category != CategoryUndefined
}

// IsFullyIndexed reports whether annotation finished for every field the
// clusterer reads.
func (d *Document) IsFullyIndexed() bool {
	return d.Language != LanguageUndefined && d.Category != CategoryUndefined && len(d.Embeddings) > 0
}

// IsStale reports whether the document's TTL has expired at ts.
func (d *Document) IsStale(ts uint64) bool {
	return ts > d.FetchTime+d.TTL
}

// HasEmbeddings reports whether the document carries a vector for every key.
func (d *Document) HasEmbeddings(keys ...EmbeddingKey) bool {
	for _, k := range keys {
		if len(d.Embeddings[k]) == 0 {
			return false
		}
	}
	return true
}

// SourceHost returns Host, falling back to the host parsed from URL.
func (d *Document) SourceHost() string {
	if d.Host != "" {
		return d.Host
	}
	return HostOf(d.URL)
}

// HostOf extracts the lower-cased host of rawURL without a leading "www.".
// Inputs without a scheme are treated as bare hosts.
func HostOf(rawURL string) string {
	s := strings.TrimSpace(rawURL)
	if s == "" {
		return ""
	}
	if !strings.Contains(s, "://") {
		s = "http://" + s
	}
	u, err := url.Parse(s)
	if err != nil {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	return strings.TrimPrefix(host, "www.")
}
