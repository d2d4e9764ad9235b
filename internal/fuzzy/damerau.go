// Package fuzzy provides the string-similarity primitives behind the
// approximate-match cache and the spelling suggester: a Damerau–Levenshtein
// metric and a BK-tree index over it.
package fuzzy

// Distance computes the Damerau–Levenshtein distance between a and b: the
// minimum number of insertions, deletions, substitutions and adjacent
// transpositions needed to turn one into the other.
//
// This is the full algorithm (not the restricted optimal-string-alignment
// variant): a per-character last-occurrence table lets a transposition span
// previously edited characters, and the cost matrix is seeded with a
// sentinel max distance so an invalid transposition can never undercut a
// genuine insert/delete/substitute path.
//
// Runs in O(len(a)·len(b)) time. The result is a non-negative integer,
// symmetric in its arguments, and zero exactly when a == b.
func Distance(a, b string) int {
	ra := []rune(a)
	rb := []rune(b)
	la := len(ra)
	lb := len(rb)

	if la == 0 {
		return lb
	}
	if lb == 0 {
		return la
	}

	// Sentinel larger than any achievable distance.
	maxDist := la + lb

	// lastRow[r] is the last row index in which rune r appeared in a.
	lastRow := make(map[rune]int, la)

	d := make([][]int, la+2)
	for i := range d {
		d[i] = make([]int, lb+2)
	}

	d[0][0] = maxDist
	for i := 0; i <= la; i++ {
		d[i+1][0] = maxDist
		d[i+1][1] = i
	}
	for j := 0; j <= lb; j++ {
		d[0][j+1] = maxDist
		d[1][j+1] = j
	}

	for i := 1; i <= la; i++ {
		// lastCol is the last column in this row where the runes matched.
		lastCol := 0
		for j := 1; j <= lb; j++ {
			k := lastRow[rb[j-1]]
			l := lastCol

			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
				lastCol = j
			}

			substitution := d[i][j] + cost
			insertion := d[i+1][j] + 1
			deletion := d[i][j+1] + 1
			transposition := d[k][l] + (i - k - 1) + 1 + (j - l - 1)

			d[i+1][j+1] = min4(substitution, insertion, deletion, transposition)
		}
		lastRow[ra[i-1]] = i
	}

	return d[la+1][lb+1]
}

func min4(a, b, c, d int) int {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	if d < m {
		m = d
	}
	return m
}
