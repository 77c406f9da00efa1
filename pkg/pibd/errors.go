package pibd

import "errors"

// Sentinel errors returned by the Desegmenter. Mirrors the fatal/typed
// split used by pkg/chain: a rejected segment never panics or corrupts
// staged state, it is simply discarded and (where the caller's retry
// loop calls NextDesiredSegments again) re-requested.
var (
	// ErrUnknownRequest is returned by ReceiveSegment for a request id
	// that is not (or is no longer) in flight - already satisfied,
	// already timed out, or never issued by this Desegmenter.
	ErrUnknownRequest = errors.New("pibd: segment response does not match any in-flight request")
	// ErrKindMismatch is returned when a received segment's identifier
	// does not match the identifier recorded for its request id.
	ErrKindMismatch = errors.New("pibd: segment identifier does not match the requested one")
	// ErrCannotApplyPrunedSegment is returned by ReceiveSegment when a
	// segment verifies but substitutes one or more pruned-subtree root
	// hashes for leaves this Desegmenter has no way to individually
	// replay into a fresh staging backend.
	ErrCannotApplyPrunedSegment = errors.New("pibd: segment omits pruned leaves this desegmenter cannot reconstruct")
	// ErrNotContiguous is not returned by any Desegmenter method:
	// ApplyNextSegments only promotes staged segments in frontier order.
	ErrNotContiguous = errors.New("pibd: segment does not extend the applied frontier")
	// ErrIncompleteState is returned by ValidateCompleteState before
	// every tree has reached the archive target's size.
	ErrIncompleteState = errors.New("pibd: one or more trees are not yet fully applied")
	// ErrRootMismatch is returned by ValidateCompleteState when a fully
	// applied tree's root does not equal the archive target's.
	ErrRootMismatch = errors.New("pibd: reconstructed root does not match archive target")
	// ErrAborted is returned by NextDesiredSegments, ReceiveSegment and
	// ApplyNextSegments once the PIBD-capability fallback window has
	// elapsed with no progress.
	ErrAborted = errors.New("pibd: aborted, falling back to whole-state download")
)
