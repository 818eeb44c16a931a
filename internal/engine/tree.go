package engine

// tree is the inode topology of the mounted filesystem. Nodes are indexed
// directly by inode rather than through a separate node-handle layer, so
// detaching and re-attaching a subtree during move never invalidates a
// descendant's identity — there is no separate handle to refresh.
type tree struct {
	root     uint64
	parent   map[uint64]uint64   // child inode -> parent inode (root absent)
	children map[uint64][]uint64 // parent inode -> ordered child inodes
}

func newTree() *tree {
	return &tree{
		parent:   map[uint64]uint64{},
		children: map[uint64][]uint64{},
	}
}

// insertRoot registers the tree's single root node. Must be called exactly
// once, before any insertChild.
func (t *tree) insertRoot(inode uint64) {
	t.root = inode
	if _, ok := t.children[inode]; !ok {
		t.children[inode] = nil
	}
}

// insertChild attaches inode as a child of parent, appended after any
// existing children.
func (t *tree) insertChild(parent, inode uint64) {
	t.parent[inode] = parent
	t.children[parent] = append(t.children[parent], inode)
	if _, ok := t.children[inode]; !ok {
		t.children[inode] = nil
	}
}

// childList returns the direct children of parent in insertion order.
func (t *tree) childList(parent uint64) []uint64 {
	return t.children[parent]
}

// contains reports whether inode has a node in the tree.
func (t *tree) contains(inode uint64) bool {
	if inode == t.root {
		return true
	}
	_, ok := t.parent[inode]
	return ok
}

// ancestors walks from inode's parent toward the root, inclusive: the
// returned slice ends with the root inode, and is empty for the root itself.
func (t *tree) ancestors(inode uint64) []uint64 {
	var out []uint64
	cur := inode
	for cur != t.root {
		p, ok := t.parent[cur]
		if !ok {
			break
		}
		out = append(out, p)
		cur = p
	}
	return out
}

// isDescendant reports whether candidate is inode itself or appears in
// inode's subtree — the cycle guard move_file needs.
func (t *tree) isDescendant(inode, candidate uint64) bool {
	if inode == candidate {
		return true
	}
	for _, c := range t.children[inode] {
		if t.isDescendant(c, candidate) {
			return true
		}
	}
	return false
}

// detach removes inode from its parent's child list without touching the
// subtree rooted at inode.
func (t *tree) detach(inode uint64) {
	parent, ok := t.parent[inode]
	if !ok {
		return
	}
	siblings := t.children[parent]
	for i, c := range siblings {
		if c == inode {
			t.children[parent] = append(siblings[:i], siblings[i+1:]...)
			break
		}
	}
	delete(t.parent, inode)
}

// attach re-parents inode, already detached, under newParent.
func (t *tree) attach(newParent, inode uint64) {
	t.parent[inode] = newParent
	t.children[newParent] = append(t.children[newParent], inode)
}

// removeSubtree deletes inode and every descendant from the tree,
// returning the full set of removed inodes (inode first, then descendants
// in pre-order).
func (t *tree) removeSubtree(inode uint64) []uint64 {
	var removed []uint64
	var walk func(uint64)
	walk = func(n uint64) {
		removed = append(removed, n)
		for _, c := range t.children[n] {
			walk(c)
		}
		delete(t.children, n)
	}
	walk(inode)

	if parent, ok := t.parent[inode]; ok {
		siblings := t.children[parent]
		for i, c := range siblings {
			if c == inode {
				t.children[parent] = append(siblings[:i], siblings[i+1:]...)
				break
			}
		}
	}
	for _, n := range removed {
		delete(t.parent, n)
	}
	return removed
}
