package mmrmath

// SiblingAndParent returns the 0-based index of i's sibling and of the
// parent node that sibling pair completes, without knowing anything about
// the overall size of the MMR. It is the single-step primitive behind
// proof-path construction and subtree-collapse in the prune list.
func SiblingAndParent(i uint64) (sibling uint64, parent uint64) {
	g := IndexHeight(i)
	siblingOffset := uint64(2) << g

	if IndexHeight(i+1) > g {
		// i is the right child; its sibling precedes it, its parent follows.
		sibling = i - siblingOffset + 1
		parent = i + 1
	} else {
		// i is the left child; its sibling (and then parent) follow it.
		sibling = i + siblingOffset - 1
		parent = i + siblingOffset
	}
	return sibling, parent
}
