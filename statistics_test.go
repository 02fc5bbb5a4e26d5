package memarena_test

import (
	"math"
	"testing"

	"github.com/memkit/memarena"
	"github.com/stretchr/testify/require"
)

func TestStatisticsAdd(t *testing.T) {
	var first memarena.Statistics
	first.Clear()

	first.AddStatistics(&memarena.Statistics{
		ArenaCount:      1,
		AllocationCount: 3,
		ArenaBytes:      1024,
		AllocationBytes: 256,
	})
	first.AddStatistics(&memarena.Statistics{
		ArenaCount:      2,
		AllocationCount: 1,
		ArenaBytes:      512,
		AllocationBytes: 128,
	})

	require.Equal(t, memarena.Statistics{
		ArenaCount:      3,
		AllocationCount: 4,
		ArenaBytes:      1536,
		AllocationBytes: 384,
	}, first)
}

func TestDetailedStatisticsRanges(t *testing.T) {
	var stats memarena.DetailedStatistics
	stats.Clear()

	require.Equal(t, math.MaxInt, stats.AllocationSizeMin)
	require.Equal(t, math.MaxInt, stats.FreeRangeSizeMin)

	stats.AddAllocation(64)
	stats.AddAllocation(16)
	stats.AddFreeRange(128)
	stats.AddFreeRange(512)

	require.Equal(t, 2, stats.AllocationCount)
	require.Equal(t, 80, stats.AllocationBytes)
	require.Equal(t, 16, stats.AllocationSizeMin)
	require.Equal(t, 64, stats.AllocationSizeMax)
	require.Equal(t, 2, stats.FreeRangeCount)
	require.Equal(t, 128, stats.FreeRangeSizeMin)
	require.Equal(t, 512, stats.FreeRangeSizeMax)
}

func TestDetailedStatisticsMerge(t *testing.T) {
	var first, second memarena.DetailedStatistics
	first.Clear()
	second.Clear()

	first.AddAllocation(64)
	first.AddFreeRange(128)
	second.AddAllocation(16)
	second.AddFreeRange(512)

	first.AddDetailedStatistics(&second)

	require.Equal(t, 2, first.AllocationCount)
	require.Equal(t, 16, first.AllocationSizeMin)
	require.Equal(t, 64, first.AllocationSizeMax)
	require.Equal(t, 2, first.FreeRangeCount)
	require.Equal(t, 128, first.FreeRangeSizeMin)
	require.Equal(t, 512, first.FreeRangeSizeMax)
}
