package model

import (
	"fmt"
	"strings"
)

// Language is the detected language of a document.
type Language int

const (
	LanguageUndefined Language = iota
	LanguageEN
	LanguageRU
	LanguageOther
)

var languageNames = [...]string{
	LanguageUndefined: "undefined",
	LanguageEN:        "en",
	LanguageRU:        "ru",
	LanguageOther:     "other",
}

func (l Language) String() string {
	if l < 0 || int(l) >= len(languageNames) {
		return fmt.Sprintf("Language(%d)", int(l))
	}
	return languageNames[l]
}

// ParseLanguage returns LanguageUndefined for unknown codes.
func ParseLanguage(s string) Language {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range languageNames {
		if name == s {
			return Language(i)
		}
	}
	return LanguageUndefined
}

func (l Language) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

func (l *Language) UnmarshalText(b []byte) error {
	*l = ParseLanguage(string(b))
	return nil
}

// Category is a news category. The order of the constants is significant:
// ties in majority votes resolve to the lower value and ranking buckets are
// indexed by it.
type Category int

const (
	CategoryUndefined Category = iota
	CategoryAny
	CategorySociety
	CategoryEconomy
	CategoryTechnology
	CategorySports
	CategoryEntertainment
	CategoryScience
	CategoryOther
	CategoryNotNews

	// NumCategories is the size of arrays indexed by Category.
	NumCategories = int(CategoryNotNews) + 1
)

var categoryNames = [...]string{
	CategoryUndefined:     "undefined",
	CategoryAny:           "any",
	CategorySociety:       "society",
	CategoryEconomy:       "economy",
	CategoryTechnology:    "technology",
	CategorySports:        "sports",
	CategoryEntertainment: "entertainment",
	CategoryScience:       "science",
	CategoryOther:         "other",
	CategoryNotNews:       "not_news",
}

func (c Category) String() string {
	if c < 0 || int(c) >= len(categoryNames) {
		return fmt.Sprintf("Category(%d)", int(c))
	}
	return categoryNames[c]
}

// ParseCategory returns CategoryUndefined for unknown names.
func ParseCategory(s string) Category {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range categoryNames {
		if name == s {
			return Category(i)
		}
	}
	return CategoryUndefined
}

// NewsCategories lists the concrete categories a cluster can resolve to.
func NewsCategories() []Category {
	return []Category{
		CategorySociety,
		CategoryEconomy,
		CategoryTechnology,
		CategorySports,
		CategoryEntertainment,
		CategoryScience,
		CategoryOther,
	}
}

func (c Category) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Category) UnmarshalText(b []byte) error {
	*c = ParseCategory(string(b))
	return nil
}

// EmbeddingKey names one embedding space a document can carry a vector for.
type EmbeddingKey int

const (
	EmbeddingUndefined EmbeddingKey = iota
	EmbeddingFastTextTitle
	EmbeddingFastTextClassic
)

var embeddingKeyNames = [...]string{
	EmbeddingUndefined:       "undefined",
	EmbeddingFastTextTitle:   "fasttext_title",
	EmbeddingFastTextClassic: "fasttext_classic",
}

func (k EmbeddingKey) String() string {
	if k < 0 || int(k) >= len(embeddingKeyNames) {
		return fmt.Sprintf("EmbeddingKey(%d)", int(k))
	}
	return embeddingKeyNames[k]
}

// ParseEmbeddingKey returns EmbeddingUndefined for unknown names.
func ParseEmbeddingKey(s string) EmbeddingKey {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range embeddingKeyNames {
		if name == s {
			return EmbeddingKey(i)
		}
	}
	return EmbeddingUndefined
}

func (k EmbeddingKey) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *EmbeddingKey) UnmarshalText(b []byte) error {
	key := ParseEmbeddingKey(string(b))
	if key == EmbeddingUndefined {
		return fmt.Errorf("unknown embedding key %q", string(b))
	}
	*k = key
	return nil
}
