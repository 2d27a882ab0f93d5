package library

import (
	"cmp"
	"slices"
	"strings"
)

// SortOrder orders INFO and SEARCH results.
type SortOrder string

const (
	SortDefault     SortOrder = ""
	SortTitle       SortOrder = "title"
	SortPublishDate SortOrder = "publish-date"
	SortBookStatus  SortOrder = "book-status"
)

// Wildcard matches any value in an optional search argument.
const Wildcard = "*"

// ParseSortOrder validates a sort argument. Book status only applies to
// books the library owns.
func ParseSortOrder(s string, owned bool) (SortOrder, error) {
	switch o := SortOrder(strings.ToLower(strings.TrimSpace(s))); o {
	case SortDefault, Wildcard:
		return SortDefault, nil
	case SortTitle, SortPublishDate:
		return o, nil
	case SortBookStatus:
		if owned {
			return o, nil
		}
	}
	return SortDefault, fail(CodeInvalidSortOrder, s)
}

// Criteria filters books. Empty or "*" fields match anything; text matches
// are case-insensitive substrings, ISBN must match exactly and every listed
// author must appear.
type Criteria struct {
	Title     string
	Authors   []string
	ISBN      string
	Publisher string
	Sort      SortOrder
}

func isWildcard(s string) bool { return s == "" || s == Wildcard }

func contains(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

func (c Criteria) matches(title string, authors []string, isbn, publisher string) bool {
	if !isWildcard(c.Title) && !contains(title, c.Title) {
		return false
	}
	if !isWildcard(c.ISBN) && isbn != c.ISBN {
		return false
	}
	if !isWildcard(c.Publisher) && !contains(publisher, c.Publisher) {
		return false
	}
	for _, want := range c.Authors {
		if isWildcard(want) {
			continue
		}
		if !slices.ContainsFunc(authors, func(a string) bool { return contains(a, want) }) {
			return false
		}
	}
	return true
}

func sortBooks(books []Book, order SortOrder) {
	switch order {
	case SortTitle:
		slices.SortStableFunc(books, func(a, b Book) int { return compareFold(a.Title, b.Title) })
	case SortPublishDate:
		slices.SortStableFunc(books, func(a, b Book) int { return cmp.Compare(a.Published, b.Published) })
	case SortBookStatus:
		slices.SortStableFunc(books, func(a, b Book) int { return cmp.Compare(b.Available, a.Available) })
	}
}

func sortEntries(entries []CatalogEntry, order SortOrder) {
	switch order {
	case SortTitle:
		slices.SortStableFunc(entries, func(a, b CatalogEntry) int { return compareFold(a.Title, b.Title) })
	case SortPublishDate:
		slices.SortStableFunc(entries, func(a, b CatalogEntry) int { return cmp.Compare(a.Published, b.Published) })
	}
}

func compareFold(a, b string) int {
	return cmp.Compare(strings.ToLower(a), strings.ToLower(b))
}
