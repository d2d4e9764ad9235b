// Package typo suggests spelling corrections for company names against a
// static reference corpus. A Bloom filter screens out names that are already
// known (a positive means "likely correct, nothing to suggest"); only filter
// misses pay for a BK-tree query.
package typo

import (
	"bufio"
	"io"
	"os"
	"strings"

	"github.com/bits-and-blooms/bloom/v3"

	"ticker-enricher/internal/fuzzy"
)

const (
	// DefaultRadius is the edit-distance bound for suggestions.
	DefaultRadius = 3

	// minFilterItems floors the Bloom filter sizing so small corpora still
	// get a comfortably low collision rate.
	minFilterItems = 100000

	falsePositiveRate = 0.001
)

// Suggestion is a corpus entry within the suggestion radius of a query.
type Suggestion struct {
	Name     string
	Distance int
}

// Checker holds the immutable corpus structures. Safe for concurrent reads
// after construction.
type Checker struct {
	filter *bloom.BloomFilter
	index  *fuzzy.BKTree
	radius int
	size   int
}

// NewChecker builds a Checker from a list of reference names. Names are
// normalized (lowercased, trimmed) before indexing; empty strings and
// duplicates are dropped.
func NewChecker(names []string) *Checker {
	seen := make(map[string]struct{}, len(names))
	normalized := make([]string, 0, len(names))
	for _, name := range names {
		n := Normalize(name)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		normalized = append(normalized, n)
	}

	items := uint(len(normalized))
	if items < minFilterItems {
		items = minFilterItems
	}

	c := &Checker{
		filter: bloom.NewWithEstimates(items, falsePositiveRate),
		index:  fuzzy.NewBKTree(),
		radius: DefaultRadius,
		size:   len(normalized),
	}

	for _, n := range normalized {
		c.filter.AddString(n)
		c.index.Add(n)
	}

	return c
}

// LoadChecker reads a newline-delimited corpus file and builds a Checker.
func LoadChecker(path string) (*Checker, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return ReadChecker(f)
}

// ReadChecker builds a Checker from a newline-delimited reader.
func ReadChecker(r io.Reader) (*Checker, error) {
	var names []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		names = append(names, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return NewChecker(names), nil
}

// Suggest returns corpus entries within the suggestion radius of name,
// ordered by distance then lexicographically.
//
// A Bloom filter hit returns nil immediately: the name is (almost certainly)
// already a known corpus entry, so there is nothing to correct. A false
// positive here costs one missed suggestion, never a wrong one.
func (c *Checker) Suggest(name string) []Suggestion {
	n := Normalize(name)
	if n == "" || c.size == 0 {
		return nil
	}

	if c.filter.TestString(n) {
		return nil
	}

	matches := c.index.Search(n, c.radius)
	if len(matches) == 0 {
		return nil
	}

	suggestions := make([]Suggestion, len(matches))
	for i, m := range matches {
		suggestions[i] = Suggestion{Name: m.Item, Distance: m.Distance}
	}
	return suggestions
}

// Size returns the number of corpus entries indexed.
func (c *Checker) Size() int {
	return c.size
}

// Normalize lowercases and trims a name the same way the corpus was indexed.
func Normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
