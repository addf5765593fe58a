// Package keyword provides edit-distance matching and the business name index.
package keyword

// LevenshteinDistance returns the minimum number of single-character insertions,
// deletions or substitutions needed to turn a into b. Comparison is by rune and
// case-sensitive; callers fold case first when they need to.
//
// The full (|a|+1) x (|b|+1) table is built, so inputs should be short attribute
// strings rather than free text.
func LevenshteinDistance(a, b string) int {
	if a == b {
		return 0
	}
	runesA := []rune(a)
	runesB := []rune(b)
	lenA := len(runesA)
	lenB := len(runesB)
	if lenA == 0 {
		return lenB
	}
	if lenB == 0 {
		return lenA
	}

	table := make([][]int, lenA+1)
	for i := range table {
		table[i] = make([]int, lenB+1)
		table[i][0] = i
	}
	for j := 0; j <= lenB; j++ {
		table[0][j] = j
	}

	for i := 1; i <= lenA; i++ {
		for j := 1; j <= lenB; j++ {
			cost := 1
			if runesA[i-1] == runesB[j-1] {
				cost = 0
			}
			table[i][j] = min3(
				table[i-1][j]+1,      // deletion
				table[i][j-1]+1,      // insertion
				table[i-1][j-1]+cost, // substitution
			)
		}
	}

	return table[lenA][lenB]
}

func min3(a, b, c int) int {
	if a <= b && a <= c {
		return a
	}
	if b <= c {
		return b
	}
	return c
}
