package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTreeInsertAndChildren(t *testing.T) {
	tr := newTree()
	tr.insertRoot(1)
	tr.insertChild(1, 2)
	tr.insertChild(1, 3)
	tr.insertChild(2, 4)

	assert.Equal(t, []uint64{2, 3}, tr.childList(1))
	assert.Equal(t, []uint64{4}, tr.childList(2))
	assert.True(t, tr.contains(4))
	assert.False(t, tr.contains(99))
}

func TestTreeAncestors(t *testing.T) {
	tr := newTree()
	tr.insertRoot(1)
	tr.insertChild(1, 2)
	tr.insertChild(2, 3)

	assert.Equal(t, []uint64{2, 1}, tr.ancestors(3))
	assert.Equal(t, []uint64(nil), tr.ancestors(1))
}

func TestTreeRemoveSubtree(t *testing.T) {
	tr := newTree()
	tr.insertRoot(1)
	tr.insertChild(1, 2)
	tr.insertChild(2, 3)
	tr.insertChild(1, 4)

	removed := tr.removeSubtree(2)

	assert.ElementsMatch(t, []uint64{2, 3}, removed)
	assert.Equal(t, []uint64{4}, tr.childList(1))
	assert.False(t, tr.contains(2))
	assert.False(t, tr.contains(3))
}

// TestTreeMoveThreeLevelSubtreePreservesDescendants moves a three-level
// subtree and verifies get_children at every level afterward.
func TestTreeMoveThreeLevelSubtreePreservesDescendants(t *testing.T) {
	tr := newTree()
	tr.insertRoot(1)
	tr.insertChild(1, 2)  // /a -> inode 2
	tr.insertChild(1, 10) // /dest -> inode 10
	tr.insertChild(2, 3)  // /a/b -> inode 3
	tr.insertChild(3, 4)  // /a/b/c -> inode 4

	tr.detach(2)
	tr.attach(10, 2)

	assert.Equal(t, []uint64{10}, tr.childList(1))
	assert.Equal(t, []uint64{2}, tr.childList(10))
	assert.Equal(t, []uint64{3}, tr.childList(2))
	assert.Equal(t, []uint64{4}, tr.childList(3))
	assert.Equal(t, []uint64{10, 1}, tr.ancestors(2))
	assert.Equal(t, []uint64{2, 10, 1}, tr.ancestors(3))
}

func TestTreeIsDescendant(t *testing.T) {
	tr := newTree()
	tr.insertRoot(1)
	tr.insertChild(1, 2)
	tr.insertChild(2, 3)

	assert.True(t, tr.isDescendant(2, 2))
	assert.True(t, tr.isDescendant(2, 3))
	assert.False(t, tr.isDescendant(3, 2))
}
