package ebrmap

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestViewOrderedByCreateEpoch(t *testing.T) {
	tbl := NewTable[int]()
	defer tbl.Destroy()

	keys := []uint64{0x10, 0x20, 0x30, 0x40, 0x50}
	for i, k := range keys {
		tbl.Put(h(k), i)
	}

	view := tbl.View()
	require.Len(t, view, len(keys))
	require.True(t, sort.SliceIsSorted(view, func(i, j int) bool {
		return view[i].Epoch < view[j].Epoch
	}))
}

func TestViewExcludesDeleted(t *testing.T) {
	tbl := NewTable[int]()
	defer tbl.Destroy()

	tbl.Put(h(1), 1)
	tbl.Put(h(2), 2)
	tbl.Remove(h(1))

	view := tbl.View()
	require.Len(t, view, 1)
	require.Equal(t, 2, view[0].Value)
}

func TestViewIsStableAcrossRepeatedCalls(t *testing.T) {
	tbl := NewTable[int]()
	defer tbl.Destroy()

	for i := uint64(0); i < 20; i++ {
		tbl.Put(h(i), int(i))
	}

	first := tbl.View()
	second := tbl.View()
	require.Equal(t, first, second)
}

func TestViewMatchesGetForEveryPresentKey(t *testing.T) {
	tbl := NewTable[int]()
	defer tbl.Destroy()

	for i := uint64(0); i < 50; i++ {
		tbl.Put(h(i), int(i)*2)
	}
	tbl.Remove(h(5))
	tbl.Remove(h(17))

	view := tbl.View()
	seen := make(map[uint64]int, len(view))
	for _, e := range view {
		seen[e.Hash.Lo] = e.Value
	}

	for i := uint64(0); i < 50; i++ {
		v, present := tbl.Get(h(i))
		gotV, gotPresent := seen[i]
		require.Equal(t, present, gotPresent, "key %d", i)
		if present {
			require.Equal(t, v, gotV, "key %d", i)
		}
	}
}
