package deployid

import (
	"reflect"
	"regexp"
	"testing"
	"time"
)

var idPattern = regexp.MustCompile(`^dep_\d{8}T\d{6}\.\d{3}Z_[0-9a-f]{12}$`)

func TestNew(t *testing.T) {
	t.Run("format", func(t *testing.T) {
		if id := New(); !idPattern.MatchString(id) {
			t.Fatalf("New() = %q, does not match %s", id, idPattern)
		}
	})

	t.Run("unique", func(t *testing.T) {
		seen := make(map[string]bool)
		for i := 0; i < 200; i++ {
			id := New()
			if seen[id] {
				t.Fatalf("duplicate ID %q", id)
			}
			seen[id] = true
		}
	})
}

func TestNewAt_RoundTripsMillis(t *testing.T) {
	at := time.Date(2026, 2, 13, 20, 1, 2, 123_456_789, time.FixedZone("CET", 3600))
	id := NewAt(at)

	got, err := Parse(id)
	if err != nil {
		t.Fatalf("Parse(%q): %v", id, err)
	}
	want := at.UTC().Truncate(time.Millisecond)
	if !got.Equal(want) {
		t.Errorf("Parse = %v, want %v", got, want)
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		id   string
	}{
		{"empty", ""},
		{"wrong prefix", "xyz_20260213T200102.123Z_6f2c9a1b04de"},
		{"no random", "dep_20260213T200102.123Z"},
		{"second precision", "dep_20260213T200102Z_6f2c9a1b04de"},
		{"short random", "dep_20260213T200102.123Z_6f2c"},
		{"non-hex random", "dep_20260213T200102.123Z_zzzzzzzzzzzz"},
		{"bad timestamp", "dep_yesterday_6f2c9a1b04de"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse(tt.id); err == nil {
				t.Fatalf("Parse(%q) succeeded, want error", tt.id)
			}
			if IsValid(tt.id) {
				t.Errorf("IsValid(%q) = true", tt.id)
			}
		})
	}
}

func TestSortNewestFirst(t *testing.T) {
	base := time.Date(2026, 2, 13, 20, 0, 0, 0, time.UTC)
	oldest := NewAt(base)
	middle := NewAt(base.Add(999 * time.Millisecond))
	newest := NewAt(base.Add(time.Hour))

	ids := []string{middle, "garbage", oldest, newest}
	SortNewestFirst(ids)

	want := []string{newest, middle, oldest, "garbage"}
	if !reflect.DeepEqual(ids, want) {
		t.Errorf("SortNewestFirst = %v, want %v", ids, want)
	}
}
