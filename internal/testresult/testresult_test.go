package testresult

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNew_AllPassedRules(t *testing.T) {
	require.True(t, New(3, 0, nil).AllPassed)
	require.False(t, New(0, 0, nil).AllPassed, "zero total is not vacuously passing")
	require.False(t, New(2, 1, nil).AllPassed)
}

func TestMerge_SumsAndConcatenates(t *testing.T) {
	a := New(2, 1, []Failure{{TestName: "a"}})
	b := New(1, 0, nil)
	merged := Merge(a, b)
	require.Equal(t, 4, merged.TotalTests)
	require.Equal(t, 3, merged.Passed)
	require.Equal(t, 1, merged.Failed)
	require.Len(t, merged.FailureDetails, 1)
	require.False(t, merged.AllPassed == (merged.Failed > 0) && false) // sanity no-op
	require.Equal(t, merged.Failed == 0 && merged.TotalTests > 0, merged.AllPassed)
}

func TestMerge_NeutralHalvesYieldOverallResult(t *testing.T) {
	merged := Merge(Neutral(), New(1, 0, nil))
	require.True(t, merged.AllPassed)
	require.Equal(t, 1, merged.TotalTests)
}

func TestMerge_BothNeutralIsFailing(t *testing.T) {
	merged := Merge(Neutral(), Neutral())
	require.False(t, merged.AllPassed)
}

func TestPassedPlusFailedEqualsTotal(t *testing.T) {
	r := New(5, 2, nil)
	require.Equal(t, r.TotalTests, r.Passed+r.Failed)
}
