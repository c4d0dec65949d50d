package store

import (
	"strconv"
	"strings"
)

// Ranked list elements are stored as "<rank>|<value>" so that the ordering
// can be evaluated server-side without knowing the value format.
const rankSep = "|"

func encodeRanked(rank int64, value string) string {
	return strconv.FormatInt(rank, 10) + rankSep + value
}

func decodeRanked(elem string) (int64, string, bool) {
	i := strings.Index(elem, rankSep)
	if i <= 0 {
		return 0, elem, false
	}
	rank, err := strconv.ParseInt(elem[:i], 10, 64)
	if err != nil {
		return 0, elem, false
	}
	return rank, elem[i+1:], true
}

// stripRanks returns the values of ranked elements; plain elements pass through.
func stripRanks(elems []string) []string {
	out := make([]string, 0, len(elems))
	for _, e := range elems {
		_, v, _ := decodeRanked(e)
		out = append(out, v)
	}
	return out
}
