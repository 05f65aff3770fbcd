package testsuite

import (
	"regexp"
	"strconv"
)

var revisionPartRe = regexp.MustCompile(`[0-9]+`)

// ConvertRevision turns a revision label into the integer tuple used to
// order runs, e.g. "154331" -> [154331] and "1.2.10" -> [1 2 10].
// Components too large for an int are dropped.
func ConvertRevision(rev string) []int {
	parts := revisionPartRe.FindAllString(rev, -1)
	out := make([]int, 0, len(parts))

	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			continue
		}

		out = append(out, n)
	}

	return out
}

// CompareRevisions orders two revision labels by their converted tuples.
// Ties fall back to the raw strings so the order is total.
func CompareRevisions(a, b string) int {
	ta, tb := ConvertRevision(a), ConvertRevision(b)

	for i := 0; i < len(ta) && i < len(tb); i++ {
		switch {
		case ta[i] < tb[i]:
			return -1
		case ta[i] > tb[i]:
			return 1
		}
	}

	switch {
	case len(ta) < len(tb):
		return -1
	case len(ta) > len(tb):
		return 1
	case a < b:
		return -1
	case a > b:
		return 1
	}

	return 0
}
