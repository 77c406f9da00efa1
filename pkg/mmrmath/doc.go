// Package mmrmath implements the position arithmetic of an append-only
// Merkle Mountain Range (MMR): a forest of perfect binary trees built by
// postorder-append, with no rebalancing and no deletion of interior nodes.
//
// Nodes (leaves and internal) share a single 1-based position space in
// insertion order. A tree of height h occupies 2^(h+1)-1 positions; an MMR
// of a given size is uniquely decomposed into "peaks" - the roots of the
// maximal perfect subtrees that cover 1..size. The MMR root is the bagged
// hash of those peaks, right to left, prefixed by the size.
//
// Every function here is a pure position computation; none of them touch
// storage. [AddHashedLeaf] is the sole exception, and it only calls back
// into the caller-supplied [NodeAppender] - it does not know how nodes are
// persisted. This lets the same arithmetic back a file-backed MMR, an
// in-memory one built for tests, or a staging MMR used while applying PIBD
// segments.
//
// The derivation follows the mimblewimble/grin pmmr implementation and the
// related write-up in github.com/proofchains/python-proofmarshal. In
// particular [PosHeight] recovers the height of a node from its postorder
// position without ever materializing the tree: repeatedly jump to the
// start of the largest perfect subtree preceding the position (its binary
// representation loses its low "all ones" run each jump) until what
// remains is itself all-ones; the bit length of that remainder, minus one,
// is the height.
package mmrmath
