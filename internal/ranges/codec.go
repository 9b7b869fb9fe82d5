// Package ranges packs sets of archive message ids into short tokens usable
// inside deep-link URLs, and expands tokens back into batched message
// fetches.
package ranges

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ErrMalformedToken is returned by Decode for tokens that are not one of the
// three produced forms (non-numeric parts, inverted ranges, empty fields).
var ErrMalformedToken = errors.New("malformed range token")

// EmptyToken is the sentinel for the empty set.
const EmptyToken = "0"

// Encode packs a set of positive message ids into a compact token:
//
//	{}            -> "0"
//	{42}          -> "42"
//	{5,6,7,8}     -> "5-8"   (contiguous run)
//	{5,6,8}       -> "5.6.8" (ascending dot-join)
//
// This is a heuristic compaction, not a general range-set encoder: it is
// only short when the input is a contiguous run or a small set. That matches
// how the archive stores uploads (one contiguous burst per variant).
// Duplicate ids collapse; order of the input never changes the result.
func Encode(ids []int) string {
	if len(ids) == 0 {
		return EmptyToken
	}

	uniq := make([]int, 0, len(ids))
	seen := make(map[int]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		uniq = append(uniq, id)
	}
	sort.Ints(uniq)

	if len(uniq) == 1 {
		return strconv.Itoa(uniq[0])
	}
	if uniq[len(uniq)-1]-uniq[0] == len(uniq)-1 {
		return fmt.Sprintf("%d-%d", uniq[0], uniq[len(uniq)-1])
	}

	parts := make([]string, len(uniq))
	for i, id := range uniq {
		parts[i] = strconv.Itoa(id)
	}
	return strings.Join(parts, ".")
}

// Decode expands a token produced by Encode into an ascending id sequence.
func Decode(token string) ([]int, error) {
	if token == EmptyToken {
		return nil, nil
	}

	switch {
	case strings.Contains(token, "-"):
		lo, hi, ok := strings.Cut(token, "-")
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrMalformedToken, token)
		}
		start, err := parseID(lo)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrMalformedToken, token)
		}
		end, err := parseID(hi)
		if err != nil || end < start {
			return nil, fmt.Errorf("%w: %q", ErrMalformedToken, token)
		}
		ids := make([]int, 0, end-start+1)
		for id := start; id <= end; id++ {
			ids = append(ids, id)
		}
		return ids, nil

	case strings.Contains(token, "."):
		parts := strings.Split(token, ".")
		ids := make([]int, 0, len(parts))
		for _, p := range parts {
			id, err := parseID(p)
			if err != nil {
				return nil, fmt.Errorf("%w: %q", ErrMalformedToken, token)
			}
			ids = append(ids, id)
		}
		return ids, nil

	default:
		id, err := parseID(token)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrMalformedToken, token)
		}
		return []int{id}, nil
	}
}

func parseID(s string) (int, error) {
	if s == "" {
		return 0, errors.New("empty part")
	}
	id, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if id <= 0 {
		return 0, errors.New("non-positive id")
	}
	return id, nil
}
