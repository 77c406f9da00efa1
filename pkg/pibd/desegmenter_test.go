package pibd

import (
	"context"
	"crypto/sha256"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/mimblenode/node/pkg/mmrmath"
	"github.com/mimblenode/node/pkg/pmmr"
	"github.com/mimblenode/node/pkg/segment"
)

// testSegmentHeight is small enough that a handful of leaves already covers
// several segments, so fixtures stay readable without running the Go
// toolchain to check them.
const testSegmentHeight = 2 // 4 leaves per segment

// emptyRoot is the root pkg/pmmr computes for a freshly opened, empty
// backend - not the zero value, since BagPeaks folds in the MMR size even
// with no peaks. Kinds a test doesn't otherwise exercise are given this as
// their expected root (size left at 0) so ValidateCompleteState's generic
// per-kind root check passes without requiring every test to populate all
// four trees.
func emptyRoot(t *testing.T) []byte {
	t.Helper()
	backend, err := pmmr.Open(pmmr.Config{Dir: t.TempDir()})
	require.NoError(t, err)
	root, err := backend.Root()
	require.NoError(t, err)
	return root
}

// sourceTree builds a live pmmr.Backend with n leaves, each hashed per
// pkg/segment's own convention (hash of the payload alone), and returns it
// alongside its payloads in leaf-index order.
func sourceTree(t *testing.T, n int) (*pmmr.Backend, [][]byte) {
	t.Helper()
	backend, err := pmmr.Open(pmmr.Config{Dir: t.TempDir()})
	require.NoError(t, err)

	payloads := make([][]byte, n)
	for i := 0; i < n; i++ {
		payload := []byte(fmt.Sprintf("leaf-%d", i))
		sum := sha256.Sum256(payload)
		_, _, err := backend.Append(sum[:], payload)
		require.NoError(t, err)
		payloads[i] = payload
	}
	require.NoError(t, backend.Commit())
	return backend, payloads
}

// buildTarget extracts every segment a Desegmenter would need to reconstruct
// source (at segment height testSegmentHeight) and returns the Target
// describing it plus the extracted segments, keyed by kind and leaf-range
// start, for tests to hand to ReceiveSegment.
func buildTarget(t *testing.T, tree *pmmr.Backend, kind Kind, size uint64) (Target, map[uint64]*segment.Segment) {
	t.Helper()

	root, err := tree.Root()
	require.NoError(t, err)

	segs := make(map[uint64]*segment.Segment)
	leavesPerSegment := uint64(1) << testSegmentHeight
	for idx := uint64(0); idx*leavesPerSegment < size; idx++ {
		id := segment.Identifier{Height: testSegmentHeight, Idx: idx}
		seg, err := segment.FromBackend(id, tree, size)
		require.NoError(t, err)
		start, _ := id.LeafRange()
		segs[start] = seg
	}

	var target Target
	switch kind {
	case KindOutput:
		target.OutputSize = size
		copy(target.Header.OutputRoot[:], root)
	case KindRangeproof:
		target.RangeproofSize = size
		copy(target.Header.RangeProofRoot[:], root)
	case KindKernel:
		target.KernelSize = size
		copy(target.Header.KernelRoot[:], root)
	case KindBitmap:
		target.BitmapSize = size
		copy(target.BitmapRoot[:], root)
	}
	return target, segs
}

// mergeTargets combines the per-kind fields of several single-kind Targets
// produced by buildTarget into one Target describing all four trees. Any
// kind none of the inputs set is given emptyRoot, so its (size-0) tree
// already satisfies ValidateCompleteState.
func mergeTargets(t *testing.T, targets ...Target) Target {
	t.Helper()
	var out Target
	var sawOutput, sawRangeproof, sawKernel, sawBitmap bool
	for _, in := range targets {
		if in.OutputSize != 0 {
			out.OutputSize = in.OutputSize
			out.Header.OutputRoot = in.Header.OutputRoot
			sawOutput = true
		}
		if in.RangeproofSize != 0 {
			out.RangeproofSize = in.RangeproofSize
			out.Header.RangeProofRoot = in.Header.RangeProofRoot
			sawRangeproof = true
		}
		if in.KernelSize != 0 {
			out.KernelSize = in.KernelSize
			out.Header.KernelRoot = in.Header.KernelRoot
			sawKernel = true
		}
		if in.BitmapSize != 0 {
			out.BitmapSize = in.BitmapSize
			out.BitmapRoot = in.BitmapRoot
			sawBitmap = true
		}
	}

	empty := emptyRoot(t)
	if !sawOutput {
		copy(out.Header.OutputRoot[:], empty)
	}
	if !sawRangeproof {
		copy(out.Header.RangeProofRoot[:], empty)
	}
	if !sawKernel {
		copy(out.Header.KernelRoot[:], empty)
	}
	if !sawBitmap {
		copy(out.BitmapRoot[:], empty)
	}
	return out
}

// openDesegmenter opens a Desegmenter against target with a short
// per-segment timeout suitable for timeout tests.
func openDesegmenter(t *testing.T, target Target) *Desegmenter {
	t.Helper()
	d, err := Open(Config{
		Dir:            filepath.Join(t.TempDir(), "staging"),
		Target:         target,
		SegmentHeight:  testSegmentHeight,
		SegmentTimeout: time.Hour,
	})
	require.NoError(t, err)
	t.Cleanup(d.Close)
	return d
}

// singleKindTarget is a convenience for tests that only exercise one tree;
// the other three kinds report size 0 and are given emptyRoot so they are
// immediately "complete" as far as ValidateCompleteState is concerned.
func singleKindTarget(t *testing.T, n int, kind Kind) (Target, map[uint64]*segment.Segment, [][]byte) {
	t.Helper()
	tree, payloads := sourceTree(t, n)
	target, segs := buildTarget(t, tree, kind, uint64(n))
	target = mergeTargets(t, target)
	return target, segs, payloads
}

func TestDesegmenterHappyPath(t *testing.T) {
	target, segs, payloads := singleKindTarget(t, 9, KindOutput)
	d := openDesegmenter(t, target)

	ctx := context.Background()
	for {
		reqs, err := d.NextDesiredSegments(ctx, 4)
		require.NoError(t, err)
		if len(reqs) == 0 {
			break
		}
		for _, req := range reqs {
			require.Equal(t, KindOutput, req.Kind)
			seg, ok := segs[req.Segment.Idx*4]
			require.True(t, ok)
			require.NoError(t, d.ReceiveSegment(req.RequestID, seg))
		}
		n, err := d.ApplyNextSegments()
		require.NoError(t, err)
		require.Positive(t, n)
	}

	require.True(t, d.CheckProgress())
	require.NoError(t, d.ValidateCompleteState())

	for _, seg := range segs {
		for _, l := range seg.Leaves {
			require.Equal(t, payloads[l.LeafIdx], l.Payload)
		}
	}
}

func TestDesegmenterUnknownRequest(t *testing.T) {
	target, segs, _ := singleKindTarget(t, 4, KindOutput)
	d := openDesegmenter(t, target)

	err := d.ReceiveSegment(uuid.New(), segs[0])
	require.ErrorIs(t, err, ErrUnknownRequest)
}

func TestDesegmenterKindMismatch(t *testing.T) {
	target, segs, _ := singleKindTarget(t, 4, KindOutput)
	d := openDesegmenter(t, target)

	reqs, err := d.NextDesiredSegments(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, reqs, 1)

	wrongID := segs[0].ID
	wrongID.Idx = 99
	bogus := &segment.Segment{ID: wrongID}
	err = d.ReceiveSegment(reqs[0].RequestID, bogus)
	require.ErrorIs(t, err, ErrKindMismatch)
}

func TestDesegmenterRootMismatch(t *testing.T) {
	target, segs, _ := singleKindTarget(t, 4, KindOutput)
	d := openDesegmenter(t, target)

	reqs, err := d.NextDesiredSegments(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, reqs, 1)

	// Corrupt the target root so Validate fails inside ReceiveSegment.
	d.cfg.Target.Header.OutputRoot[0] ^= 0xFF

	err = d.ReceiveSegment(reqs[0].RequestID, segs[0])
	require.ErrorIs(t, err, segment.ErrRootMismatch)
}

func TestDesegmenterCannotApplyPrunedSegment(t *testing.T) {
	target, segs, _ := singleKindTarget(t, 4, KindOutput)
	d := openDesegmenter(t, target)

	reqs, err := d.NextDesiredSegments(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, reqs, 1)

	seg := segs[0]
	root, err := seg.Root()
	require.NoError(t, err)

	// A pruned segment substitutes its own root hash for the whole subtree;
	// the node index of that root is the perfect subtree of the segment's
	// height whose leftmost leaf is the segment's first leaf.
	start, _ := seg.ID.LeafRange()
	rootNodeIdx := mmrmath.MMRIndex(start) + mmrmath.HeightIndexSize(uint64(seg.ID.Height)) - 1
	pruned := &segment.Segment{
		ID:      seg.ID,
		Hashes:  []segment.HashEntry{{NodeIdx: rootNodeIdx, Hash: root}},
		Peaks:   seg.Peaks,
		HasherF: seg.HasherF,
	}

	err = d.ReceiveSegment(reqs[0].RequestID, pruned)
	require.ErrorIs(t, err, ErrCannotApplyPrunedSegment)
}

func TestDesegmenterSegmentTimeoutIsReRequested(t *testing.T) {
	target, _, _ := singleKindTarget(t, 4, KindOutput)
	d, err := Open(Config{
		Dir:            filepath.Join(t.TempDir(), "staging"),
		Target:         target,
		SegmentHeight:  testSegmentHeight,
		SegmentTimeout: 20 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(d.Close)

	reqs, err := d.NextDesiredSegments(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, reqs, 1)

	require.Eventually(t, func() bool {
		d.mu.Lock()
		defer d.mu.Unlock()
		return len(d.inflight) == 0
	}, time.Second, 5*time.Millisecond)

	again, err := d.NextDesiredSegments(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, again, 1)
	require.Equal(t, reqs[0].Segment, again[0].Segment)
}

func TestDesegmenterFallbackWindowAborts(t *testing.T) {
	target, _, _ := singleKindTarget(t, 4, KindOutput)
	d, err := Open(Config{
		Dir:            filepath.Join(t.TempDir(), "staging"),
		Target:         target,
		SegmentHeight:  testSegmentHeight,
		FallbackWindow: 20 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(d.Close)

	d.NoteNoCapablePeers()
	require.Eventually(t, func() bool {
		return d.Aborted()
	}, time.Second, 5*time.Millisecond)

	_, err = d.NextDesiredSegments(context.Background(), 1)
	require.ErrorIs(t, err, ErrAborted)
}

func TestDesegmenterFallbackWindowCancelledByCapablePeer(t *testing.T) {
	target, _, _ := singleKindTarget(t, 4, KindOutput)
	d, err := Open(Config{
		Dir:            filepath.Join(t.TempDir(), "staging"),
		Target:         target,
		SegmentHeight:  testSegmentHeight,
		FallbackWindow: 30 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(d.Close)

	d.NoteNoCapablePeers()
	d.NotePeerCapable()

	time.Sleep(50 * time.Millisecond)
	require.False(t, d.Aborted())
}

func TestDesegmenterMultiTreeCanonicalOrder(t *testing.T) {
	outTree, _ := sourceTree(t, 8)
	outTarget, outSegs := buildTarget(t, outTree, KindOutput, 8)

	kernTree, _ := sourceTree(t, 4)
	kernTarget, kernSegs := buildTarget(t, kernTree, KindKernel, 4)

	target := mergeTargets(t, outTarget, kernTarget)
	d := openDesegmenter(t, target)

	reqs, err := d.NextDesiredSegments(context.Background(), 10)
	require.NoError(t, err)
	// bitmap and rangeproof sizes are 0 (already "complete"); output's two
	// segments must be requested before kernel's one.
	require.Len(t, reqs, 3)
	require.Equal(t, KindOutput, reqs[0].Kind)
	require.Equal(t, KindOutput, reqs[1].Kind)
	require.Equal(t, KindKernel, reqs[2].Kind)

	for _, req := range reqs {
		var seg *segment.Segment
		switch req.Kind {
		case KindOutput:
			seg = outSegs[req.Segment.Idx*4]
		case KindKernel:
			seg = kernSegs[req.Segment.Idx*4]
		}
		require.NoError(t, d.ReceiveSegment(req.RequestID, seg))
	}

	n, err := d.ApplyNextSegments()
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.True(t, d.CheckProgress())
	require.NoError(t, d.ValidateCompleteState())
}
