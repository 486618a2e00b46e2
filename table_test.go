package ebrmap

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func h(lo uint64) Hash128 {
	return Hash128{Hi: 1, Lo: lo}
}

func TestTablePutGet(t *testing.T) {
	tbl := NewTable[int]()
	defer tbl.Destroy()

	_, present := tbl.Get(h(0x01))
	require.False(t, present)

	prev, had := tbl.Put(h(0x01), 1)
	require.False(t, had)
	require.Equal(t, 0, prev)

	v, present := tbl.Get(h(0x01))
	require.True(t, present)
	require.Equal(t, 1, v)
}

func TestTablePutOverwriteThenRemove(t *testing.T) {
	tbl := NewTable[int]()
	defer tbl.Destroy()

	tbl.Put(h(0x02), 10)
	prev, had := tbl.Put(h(0x02), 20)
	require.True(t, had)
	require.Equal(t, 10, prev)

	v, present := tbl.Get(h(0x02))
	require.True(t, present)
	require.Equal(t, 20, v)

	removed, present := tbl.Remove(h(0x02))
	require.True(t, present)
	require.Equal(t, 20, removed)

	_, present = tbl.Get(h(0x02))
	require.False(t, present)
}

func TestTableAddDoesNotOverwrite(t *testing.T) {
	tbl := NewTable[int]()
	defer tbl.Destroy()

	require.True(t, tbl.Add(h(0x03), 1))
	require.False(t, tbl.Add(h(0x03), 2))

	v, present := tbl.Get(h(0x03))
	require.True(t, present)
	require.Equal(t, 1, v)
}

func TestTableAddAfterRemove(t *testing.T) {
	tbl := NewTable[int]()
	defer tbl.Destroy()

	tbl.Put(h(0x04), 1)
	tbl.Remove(h(0x04))
	require.True(t, tbl.Add(h(0x04), 2))

	v, present := tbl.Get(h(0x04))
	require.True(t, present)
	require.Equal(t, 2, v)
}

func TestTableReplaceRequiresExisting(t *testing.T) {
	tbl := NewTable[int]()
	defer tbl.Destroy()

	_, replaced := tbl.Replace(h(0x05), 1)
	require.False(t, replaced)

	tbl.Put(h(0x05), 1)
	prev, replaced := tbl.Replace(h(0x05), 2)
	require.True(t, replaced)
	require.Equal(t, 1, prev)

	v, _ := tbl.Get(h(0x05))
	require.Equal(t, 2, v)
}

func TestTableRemoveAbsentKey(t *testing.T) {
	tbl := NewTable[int]()
	defer tbl.Destroy()

	_, present := tbl.Remove(h(0x06))
	require.False(t, present)
}

func TestTableLenTracksPuts(t *testing.T) {
	tbl := NewTable[int]()
	defer tbl.Destroy()

	for i := uint64(0); i < 10; i++ {
		tbl.Put(h(i), int(i))
	}
	require.Equal(t, 10, tbl.Len())

	tbl.Remove(h(0))
	require.Equal(t, 9, tbl.Len())
}

func TestTableInsertThreeKeysViewPreservesOrder(t *testing.T) {
	tbl := NewTable[string]()
	defer tbl.Destroy()

	tbl.Put(h(0xA), "A-value")
	tbl.Put(h(0xB), "B-value")
	tbl.Put(h(0xC), "C-value")

	view := tbl.View()
	require.Len(t, view, 3)
	require.Equal(t, "A-value", view[0].Value)
	require.Equal(t, "B-value", view[1].Value)
	require.Equal(t, "C-value", view[2].Value)
	require.Less(t, view[0].Epoch, view[1].Epoch)
	require.Less(t, view[1].Epoch, view[2].Epoch)
}

func TestTableUpdateExistingKeyPreservesViewOrder(t *testing.T) {
	tbl := NewTable[string]()
	defer tbl.Destroy()

	tbl.Put(h(0xA), "A-value")
	tbl.Put(h(0xB), "B-value")

	before := tbl.View()
	require.Len(t, before, 2)
	require.Equal(t, "A-value", before[0].Value)
	require.Equal(t, "B-value", before[1].Value)

	tbl.Put(h(0xA), "A-value-updated")

	after := tbl.View()
	require.Len(t, after, 2)
	require.Equal(t, "A-value-updated", after[0].Value, "updated key must keep its original view position")
	require.Equal(t, "B-value", after[1].Value)
	require.Equal(t, before[0].Epoch, after[0].Epoch, "update must not change create_epoch")
}

func TestTableReinsertAfterDeleteGetsNewCreateEpoch(t *testing.T) {
	tbl := NewTable[string]()
	defer tbl.Destroy()

	tbl.Put(h(0xAA), "first")
	firstView := tbl.View()
	require.Len(t, firstView, 1)

	tbl.Remove(h(0xAA))
	tbl.Put(h(0xAA), "second")

	secondView := tbl.View()
	require.Len(t, secondView, 1)
	require.Equal(t, "second", secondView[0].Value)
	require.Greater(t, secondView[0].Epoch, firstView[0].Epoch)
}
