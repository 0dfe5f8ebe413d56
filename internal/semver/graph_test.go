package semver_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamspace-dev/streamspace-core/internal/semver"
)

func req(min string) semver.Requirement {
	return semver.Requirement{Min: semver.MustParse(min)}
}

func reqRange(min, max string) semver.Requirement {
	return semver.Requirement{Min: semver.MustParse(min), Max: semver.MustParse(max), HasMax: true}
}

// S1 — Linear chain init order.
func TestResolve_LinearChain(t *testing.T) {
	nodes := []semver.Node{
		{Name: "A", Version: semver.MustParse("1.0.0")},
		{Name: "B", Version: semver.MustParse("1.0.0"), Dependencies: []semver.Dependency{
			{Name: "A", Requirement: req("1.0.0"), Required: true},
		}},
		{Name: "C", Version: semver.MustParse("1.0.0"), Dependencies: []semver.Dependency{
			{Name: "B", Requirement: req("1.0.0"), Required: true},
		}},
	}

	order, err := semver.Resolve(nodes)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C"}, order)
}

// S2 — Cycle detection.
func TestResolve_CycleDetected(t *testing.T) {
	nodes := []semver.Node{
		{Name: "A", Version: semver.MustParse("1.0.0"), Dependencies: []semver.Dependency{
			{Name: "B", Requirement: req("1.0.0"), Required: true},
		}},
		{Name: "B", Version: semver.MustParse("1.0.0"), Dependencies: []semver.Dependency{
			{Name: "C", Requirement: req("1.0.0"), Required: true},
		}},
		{Name: "C", Version: semver.MustParse("1.0.0"), Dependencies: []semver.Dependency{
			{Name: "A", Requirement: req("1.0.0"), Required: true},
		}},
	}

	_, err := semver.Resolve(nodes)
	require.Error(t, err)
	var cycleErr *semver.CycleError
	require.True(t, errors.As(err, &cycleErr))
	assert.NotEmpty(t, cycleErr.Cycle)
}

// S3 — Priority tie-break.
func TestResolve_PriorityTieBreak(t *testing.T) {
	nodes := []semver.Node{
		{Name: "X", Version: semver.MustParse("1.0.0"), LoadPriority: 100},
		{Name: "Y", Version: semver.MustParse("1.0.0"), LoadPriority: 500},
		{Name: "Z", Version: semver.MustParse("1.0.0"), LoadPriority: 500},
	}

	order, err := semver.Resolve(nodes)
	require.NoError(t, err)
	assert.Equal(t, []string{"Y", "Z", "X"}, order)
}

// S4 — Version mismatch.
func TestResolve_VersionConflict(t *testing.T) {
	nodes := []semver.Node{
		{Name: "Q", Version: semver.MustParse("1.5.0")},
		{Name: "P", Version: semver.MustParse("1.0.0"), Dependencies: []semver.Dependency{
			{Name: "Q", Requirement: reqRange("2.0.0", "3.0.0"), Required: true},
		}},
	}

	_, err := semver.Resolve(nodes)
	require.Error(t, err)
	var conflict *semver.VersionConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, "P", conflict.Plugin)
	assert.Equal(t, "Q", conflict.Dependency)
}

func TestRequirement_OpenEndedMax(t *testing.T) {
	r := req("1.0.0")
	assert.True(t, r.Satisfies(semver.MustParse("1.0.0")))
	assert.True(t, r.Satisfies(semver.MustParse("99.0.0")))
	assert.False(t, r.Satisfies(semver.MustParse("0.9.9")))
}

func TestVersion_Compare(t *testing.T) {
	a := semver.MustParse("1.2.3")
	b := semver.MustParse("1.3.0")
	assert.Equal(t, -1, a.Compare(b))
	assert.Equal(t, 1, b.Compare(a))
	assert.Equal(t, 0, a.Compare(a))
}
