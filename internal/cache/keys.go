package cache

import (
	"strconv"
	"strings"
	"time"

	"github.com/jackzampolin/tome/internal/config"
	"github.com/jackzampolin/tome/internal/normalize"
)

// Class selects the TTL policy for a cache key. The class is always the key's
// first segment, which keeps deleteByPrefix invalidation per class trivial.
type Class string

const (
	ClassISBN     Class = "isbn"
	ClassTitle    Class = "title"
	ClassAuthor   Class = "author"
	ClassAdvanced Class = "advanced"
	ClassCSVParse Class = "csv-parse"
	ClassEnrich   Class = "enrich"
)

// TTLs resolves class TTLs from configuration.
type TTLs struct {
	ISBN      time.Duration
	Search    time.Duration
	Advanced  time.Duration
	CSVParse  time.Duration
	EnrichHi  time.Duration
	EnrichLo  time.Duration
	Negative  time.Duration
}

// NewTTLs builds the TTL table from config.
func NewTTLs(cfg config.CacheCfg) TTLs {
	return TTLs{
		ISBN:     time.Duration(cfg.ISBNTTLHours) * time.Hour,
		Search:   time.Duration(cfg.SearchTTLHours) * time.Hour,
		Advanced: time.Duration(cfg.AdvancedTTLHours) * time.Hour,
		CSVParse: time.Duration(cfg.ParseTTLHours) * time.Hour,
		EnrichHi: time.Duration(cfg.EnrichTTLHours) * time.Hour,
		EnrichLo: time.Duration(cfg.EnrichLowTTLHours) * time.Hour,
		Negative: time.Duration(cfg.NegativeTTLMinutes) * time.Minute,
	}
}

// For returns the TTL for a class. Enrichment keys pick their TTL by quality
// through ForEnrich instead.
func (t TTLs) For(c Class) time.Duration {
	switch c {
	case ClassISBN:
		return t.ISBN
	case ClassTitle, ClassAuthor:
		return t.Search
	case ClassAdvanced:
		return t.Advanced
	case ClassCSVParse:
		return t.CSVParse
	}
	return t.EnrichLo
}

// ForEnrich returns the enrichment TTL: long-lived for high-quality merges,
// short for low so thin records retry sooner.
func (t TTLs) ForEnrich(quality float64) time.Duration {
	if quality >= 0.7 {
		return t.EnrichHi
	}
	return t.EnrichLo
}

// ISBNKey builds a key for a normalized ISBN lookup.
func ISBNKey(isbn string) string {
	return string(ClassISBN) + ":" + isbn
}

// TitleKey builds a key for a normalized title search.
func TitleKey(title string) string {
	return string(ClassTitle) + ":" + normalize.Title(title)
}

// AuthorKey builds a key for a normalized author search.
func AuthorKey(author string) string {
	return string(ClassAuthor) + ":" + normalize.Author(author)
}

// AdvancedKey builds a key for a multi-field search. Field order is fixed so
// equivalent queries produce byte-identical keys.
func AdvancedKey(title, author string, year int, publisher string) string {
	parts := []string{string(ClassAdvanced), normalize.Title(title), normalize.Author(author)}
	if year > 0 {
		parts = append(parts, strconv.Itoa(year))
	} else {
		parts = append(parts, "")
	}
	parts = append(parts, normalize.Author(publisher))
	return strings.Join(parts, ":")
}

// CSVParseKey builds a content-addressed key for a CSV payload.
func CSVParseKey(payload []byte) string {
	return string(ClassCSVParse) + ":" + normalize.SHA256(string(payload)) + ":v1"
}

// EnrichKey builds a key for a merged enrichment response, nested under the
// originating lookup key.
func EnrichKey(lookupKey string) string {
	return string(ClassEnrich) + ":" + lookupKey
}
