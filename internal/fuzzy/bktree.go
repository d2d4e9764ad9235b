package fuzzy

import "sort"

// Match is a single result of a bounded-radius query.
type Match struct {
	Distance int
	Item     string
}

type node struct {
	item     string
	children map[int]*node
}

// BKTree is a metric tree over strings. Every child edge is labelled with the
// exact distance between the child's item and its parent's item, which lets a
// query prune entire subtrees via the triangle inequality.
//
// The tree supports insertion and query only; callers that need deletion
// rebuild from scratch (see cache.rebuildIndex). Not safe for concurrent use.
type BKTree struct {
	root     *node
	size     int
	distance func(a, b string) int
}

// NewBKTree creates an empty tree over the Damerau–Levenshtein metric.
func NewBKTree() *BKTree {
	return &BKTree{distance: Distance}
}

// Add inserts item into the tree. Duplicates are ignored.
func (t *BKTree) Add(item string) {
	if t.root == nil {
		t.root = &node{item: item}
		t.size++
		return
	}

	cur := t.root
	for {
		d := t.distance(item, cur.item)
		if d == 0 {
			return
		}
		if cur.children == nil {
			cur.children = make(map[int]*node)
		}
		child, ok := cur.children[d]
		if !ok {
			cur.children[d] = &node{item: item}
			t.size++
			return
		}
		cur = child
	}
}

// Search returns every item within radius of target, sorted by distance and
// then lexicographically so results are deterministic across rebuilds.
//
// At each node with distance d to the target, only children on edges c with
// |c − d| ≤ radius can hold a match, so everything else is skipped.
func (t *BKTree) Search(target string, radius int) []Match {
	if t.root == nil || radius < 0 {
		return nil
	}

	var matches []Match
	stack := []*node{t.root}

	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		d := t.distance(target, cur.item)
		if d <= radius {
			matches = append(matches, Match{Distance: d, Item: cur.item})
		}

		for c, child := range cur.children {
			if c >= d-radius && c <= d+radius {
				stack = append(stack, child)
			}
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Distance != matches[j].Distance {
			return matches[i].Distance < matches[j].Distance
		}
		return matches[i].Item < matches[j].Item
	})

	return matches
}

// Len returns the number of items in the tree.
func (t *BKTree) Len() int {
	return t.size
}
