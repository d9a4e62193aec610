package scheduler

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func bits(present ...int) []bool {
	max := 0
	for _, p := range present {
		if p+1 > max {
			max = p + 1
		}
	}
	b := make([]bool, max)
	for _, p := range present {
		b[p] = true
	}
	return b
}

func TestPartitionRoundRobinThreeCompleteSources(t *testing.T) {
	sources := []source{
		{addr: "p1", bits: bits(0, 1, 2, 3, 4)},
		{addr: "p2", bits: bits(0, 1, 2, 3, 4)},
		{addr: "p3", bits: bits(0, 1, 2, 3, 4)},
	}
	assignment, unassigned := partition(5, sources)
	require.Empty(t, unassigned)
	require.Equal(t, "p1", assignment[0])
	require.Equal(t, "p2", assignment[1])
	require.Equal(t, "p3", assignment[2])
	require.Equal(t, "p1", assignment[3])
	require.Equal(t, "p2", assignment[4])
}

func TestPartitionFallsBackWhenFirstCandidateLacksPiece(t *testing.T) {
	sources := []source{
		{addr: "p1", bits: bits(1)},
		{addr: "p2", bits: bits(0)},
	}
	assignment, unassigned := partition(2, sources)
	require.Empty(t, unassigned)
	require.Equal(t, "p2", assignment[0])
	require.Equal(t, "p1", assignment[1])
}

func TestPartitionLeavesPieceUnassignedWhenNoSourceHasIt(t *testing.T) {
	sources := []source{
		{addr: "p1", bits: bits(0)},
		{addr: "p2", bits: bits(0)},
	}
	assignment, unassigned := partition(2, sources)
	require.Equal(t, []int{1}, unassigned)
	require.Len(t, assignment, 1)
}

func TestPartitionTreatsShortBitVectorAsAbsent(t *testing.T) {
	sources := []source{
		{addr: "p1", bits: bits(0)},
	}
	assignment, unassigned := partition(3, sources)
	require.Equal(t, "p1", assignment[0])
	require.Equal(t, []int{1, 2}, unassigned)
}

func TestPartitionWithNoSourcesLeavesEverythingUnassigned(t *testing.T) {
	assignment, unassigned := partition(3, nil)
	require.Empty(t, assignment)
	require.Equal(t, []int{0, 1, 2}, unassigned)
}
