// Package deployid generates deploy identifiers that sort by creation time.
//
//	dep_20260213T200102.123Z_6f2c9a1b04de
//
// The timestamp is UTC with millisecond precision and fixed width, so the
// lexical order of two IDs is their creation order.
package deployid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"
)

const (
	prefix      = "dep_"
	layout      = "20060102T150405.000Z"
	randomBytes = 6
)

// New returns an ID stamped with the current time.
func New() string {
	return NewAt(time.Now())
}

// NewAt returns an ID stamped with t.
func NewAt(t time.Time) string {
	b := make([]byte, randomBytes)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("deployid: crypto/rand failed: %v", err))
	}
	return prefix + t.UTC().Format(layout) + "_" + hex.EncodeToString(b)
}

// Parse returns the creation time encoded in id.
func Parse(id string) (time.Time, error) {
	rest, ok := strings.CutPrefix(id, prefix)
	if !ok {
		return time.Time{}, fmt.Errorf("deployid: %q does not start with %q", id, prefix)
	}
	ts, random, ok := strings.Cut(rest, "_")
	if !ok {
		return time.Time{}, fmt.Errorf("deployid: %q has no random suffix", id)
	}

	t, err := time.Parse(layout, ts)
	if err != nil {
		return time.Time{}, fmt.Errorf("deployid: bad timestamp in %q: %w", id, err)
	}
	if len(random) != randomBytes*2 {
		return time.Time{}, fmt.Errorf("deployid: random suffix of %q has length %d", id, len(random))
	}
	if _, err := hex.DecodeString(random); err != nil {
		return time.Time{}, fmt.Errorf("deployid: random suffix of %q is not hex: %w", id, err)
	}
	return t, nil
}

// IsValid reports whether id was produced by New or NewAt.
func IsValid(id string) bool {
	_, err := Parse(id)
	return err == nil
}

// SortNewestFirst orders ids from most to least recent. Invalid IDs sort
// last, in reverse lexical order among themselves.
func SortNewestFirst(ids []string) {
	sort.SliceStable(ids, func(i, j int) bool {
		vi, vj := IsValid(ids[i]), IsValid(ids[j])
		if vi != vj {
			return vi
		}
		return ids[i] > ids[j]
	})
}
