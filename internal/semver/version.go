// Package semver implements version parsing and dependency graph resolution
// for the plugin runtime.
//
// Versions follow MAJOR.MINOR.PATCH. Dependency requirements are expressed as
// an inclusive [Min, Max] range; a requirement with no declared maximum is
// open-ended above Min. The graph resolver performs a three-color DFS cycle
// check and returns plugins in an order that respects every dependency edge,
// breaking ties by descending load priority and then by plugin name.
package semver

import (
	"fmt"
	"strconv"
	"strings"
)

// Version is a parsed MAJOR.MINOR.PATCH version.
type Version struct {
	Major, Minor, Patch int
}

// Parse parses a "1.2.3" string into a Version. Leading "v" is tolerated.
func Parse(s string) (Version, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "v")
	parts := strings.SplitN(s, ".", 3)
	if len(parts) != 3 {
		return Version{}, fmt.Errorf("semver: %q is not MAJOR.MINOR.PATCH", s)
	}
	nums := make([]int, 3)
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return Version{}, fmt.Errorf("semver: invalid component %q in %q: %w", p, s, err)
		}
		nums[i] = n
	}
	return Version{Major: nums[0], Minor: nums[1], Patch: nums[2]}, nil
}

// MustParse panics if s cannot be parsed. Intended for static requirement
// literals, not for input coming from a plugin manifest.
func MustParse(s string) Version {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Compare returns -1, 0 or 1 as v is less than, equal to, or greater than o.
func (v Version) Compare(o Version) int {
	switch {
	case v.Major != o.Major:
		return cmp(v.Major, o.Major)
	case v.Minor != o.Minor:
		return cmp(v.Minor, o.Minor)
	default:
		return cmp(v.Patch, o.Patch)
	}
}

func cmp(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Requirement is an inclusive version range. HasMax false means "no upper
// bound", whatever Max holds.
type Requirement struct {
	Min Version
	Max Version
	// HasMax distinguishes an explicit Max of 0.0.0 from "no maximum".
	HasMax bool
}

// Satisfies reports whether v falls within r, inclusive on both ends.
func (r Requirement) Satisfies(v Version) bool {
	if v.Compare(r.Min) < 0 {
		return false
	}
	if r.HasMax && v.Compare(r.Max) > 0 {
		return false
	}
	return true
}

func (r Requirement) String() string {
	if !r.HasMax {
		return fmt.Sprintf(">=%s", r.Min)
	}
	return fmt.Sprintf("[%s, %s]", r.Min, r.Max)
}
