package page_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/govetachun/shimmer/internal/page"
)

func TestSearchAndInsertPosition(t *testing.T) {
	p := page.New(1, true, 8)
	require.NoError(t, p.Insert([]byte("b"), []byte("2")))
	require.NoError(t, p.Insert([]byte("d"), []byte("4")))
	require.NoError(t, p.Insert([]byte("a"), []byte("1")))

	idx, ok := p.Search([]byte("d"))
	require.True(t, ok)
	require.Equal(t, 2, idx)

	_, ok = p.Search([]byte("z"))
	require.False(t, ok)

	require.Equal(t, 2, p.FindInsertPosition([]byte("b")))
	require.Equal(t, 3, p.FindInsertPosition([]byte("z")))

	require.Equal(t, [][]byte{[]byte("a"), []byte("b"), []byte("d")}, p.Keys)
}

func TestInsertReplacesInPlace(t *testing.T) {
	p := page.New(1, true, 8)
	require.NoError(t, p.Insert([]byte("k"), []byte("v1")))
	require.NoError(t, p.Insert([]byte("k"), []byte("v2")))
	require.Equal(t, 1, p.KeyCount())
	require.Equal(t, []byte("v2"), p.Values[0])
}

func TestInsertFullFails(t *testing.T) {
	p := page.New(1, true, 2)
	require.NoError(t, p.Insert([]byte("a"), []byte("1")))
	require.NoError(t, p.Insert([]byte("b"), []byte("2")))
	err := p.Insert([]byte("c"), []byte("3"))
	require.Error(t, err)
}

func TestRemove(t *testing.T) {
	p := page.New(1, true, 8)
	require.NoError(t, p.Insert([]byte("a"), []byte("1")))
	require.NoError(t, p.Insert([]byte("b"), []byte("2")))
	p.Remove([]byte("a"))
	require.Equal(t, 1, p.KeyCount())
	require.Equal(t, []byte("b"), p.Keys[0])

	// removing an absent key is a silent no-op
	p.Remove([]byte("zzz"))
	require.Equal(t, 1, p.KeyCount())
}

func TestSplitLeaf(t *testing.T) {
	p := page.New(1, true, 4)
	for _, k := range []string{"a", "b", "c", "d"} {
		require.NoError(t, p.Insert([]byte(k), []byte(k)))
	}
	right := page.New(2, true, 4)
	p.Split(right)

	require.Equal(t, 2, p.KeyCount())
	require.Equal(t, 2, right.KeyCount())
	require.Equal(t, uint64(2), p.Next)
	require.Equal(t, uint64(1), right.Prev)

	sep := p.PromotedSeparatorForLeafSplit(right)
	require.Equal(t, []byte("c"), sep)
}

func TestMergeLeaves(t *testing.T) {
	left := page.New(1, true, 8)
	right := page.New(2, true, 8)
	require.NoError(t, left.Insert([]byte("a"), []byte("1")))
	require.NoError(t, right.Insert([]byte("b"), []byte("2")))
	right.Next = 99

	left.Merge(right, nil)
	require.Equal(t, 2, left.KeyCount())
	require.Equal(t, uint64(99), left.Next)
}

func TestRedistributeFromLeft(t *testing.T) {
	left := page.New(1, true, 8)
	right := page.New(2, true, 8)
	require.NoError(t, left.Insert([]byte("a"), []byte("1")))
	require.NoError(t, left.Insert([]byte("b"), []byte("2")))
	require.NoError(t, right.Insert([]byte("c"), []byte("3")))

	newSep := right.RedistributeFromLeft(left, []byte("c"))
	require.Equal(t, 1, left.KeyCount())
	require.Equal(t, 2, right.KeyCount())
	require.Equal(t, []byte("b"), newSep)
	require.Equal(t, []byte("b"), right.Keys[0])
}

func TestCanLendAndUnderflow(t *testing.T) {
	p := page.New(1, true, 8) // half = 4
	for _, k := range []string{"a", "b", "c"} {
		require.NoError(t, p.Insert([]byte(k), []byte(k)))
	}
	require.True(t, p.IsUnderflowing())
	require.False(t, p.CanLendKey())

	require.NoError(t, p.Insert([]byte("d"), []byte("d")))
	require.NoError(t, p.Insert([]byte("e"), []byte("e")))
	require.True(t, p.CanLendKey())
}
