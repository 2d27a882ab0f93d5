package library

import (
	"bytes"
	_ "embed"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"lbms/library/state"
)

//go:embed data/catalog.csv
var defaultCatalog []byte

var catalogColumns = []string{"isbn", "title", "authors", "publisher", "published"}

// CatalogEntry is one title the bookstore can sell to the library.
type CatalogEntry struct {
	ISBN      string
	Title     string
	Authors   []string
	Publisher string
	Published string
}

// Record returns the entry as a flat book record without an id.
func (c CatalogEntry) Record() state.Record {
	return state.Record{
		BookISBN.Name():      c.ISBN,
		BookTitle.Name():     c.Title,
		BookAuthors.Name():   BookAuthors.Format(c.Authors),
		BookPublisher.Name(): c.Publisher,
		BookPublished.Name(): c.Published,
	}
}

// Catalog is the bookstore inventory, read once at startup.
type Catalog struct {
	entries []CatalogEntry
	byISBN  map[string]int
}

// DefaultCatalog returns the built-in bookstore inventory.
func DefaultCatalog() *Catalog {
	c, err := ParseCatalog(bytes.NewReader(defaultCatalog))
	if err != nil {
		panic(fmt.Sprintf("library: built-in catalog: %v", err))
	}
	return c
}

// LoadCatalog reads a catalog flat file. An empty path yields the built-in
// catalog.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseCatalog(f)
}

// ParseCatalog reads CSV rows with the header isbn,title,authors,publisher,
// published. Authors are separated by '|'.
func ParseCatalog(r io.Reader) (*Catalog, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read catalog header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, want := range catalogColumns {
		if _, ok := cols[want]; !ok {
			return nil, fmt.Errorf("catalog: missing column %q", want)
		}
	}

	c := &Catalog{byISBN: map[string]int{}}
	for line := 2; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("catalog line %d: %w", line, err)
		}
		rec := make(state.Record, len(catalogColumns))
		for _, name := range catalogColumns {
			rec[name] = strings.TrimSpace(row[cols[name]])
		}
		entry, err := entryFromRecord(rec)
		if err != nil {
			return nil, fmt.Errorf("catalog line %d: %w", line, err)
		}
		if _, dup := c.byISBN[entry.ISBN]; dup {
			return nil, fmt.Errorf("catalog line %d: duplicate isbn %s", line, entry.ISBN)
		}
		c.byISBN[entry.ISBN] = len(c.entries)
		c.entries = append(c.entries, entry)
	}
	return c, nil
}

func entryFromRecord(rec state.Record) (CatalogEntry, error) {
	if rec["isbn"] == "" {
		return CatalogEntry{}, errors.New("empty isbn")
	}
	if rec["title"] == "" {
		return CatalogEntry{}, errors.New("empty title")
	}
	authors, _ := BookAuthors.Codec().Parse(rec["authors"])
	return CatalogEntry{
		ISBN:      rec["isbn"],
		Title:     rec["title"],
		Authors:   authors,
		Publisher: rec["publisher"],
		Published: rec["published"],
	}, nil
}

// Lookup finds an entry by ISBN.
func (c *Catalog) Lookup(isbn string) (CatalogEntry, bool) {
	i, ok := c.byISBN[isbn]
	if !ok {
		return CatalogEntry{}, false
	}
	return c.entries[i], true
}

// Entries returns the catalog in file order.
func (c *Catalog) Entries() []CatalogEntry {
	out := make([]CatalogEntry, len(c.entries))
	copy(out, c.entries)
	return out
}

func (c *Catalog) Len() int { return len(c.entries) }
