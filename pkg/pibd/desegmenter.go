// Package pibd implements the receiving side of parallel initial block
// download: given a pinned archive header, a Desegmenter works out which
// segments of the output, range-proof, kernel and leaf-set-bitmap trees
// are still missing, verifies segments as they arrive against the
// archive's peak roots, and promotes them into staging MMR backends once
// they extend the applied frontier contiguously.
package pibd

import (
	"context"
	"crypto/sha256"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mimblenode/node/pkg/chaintypes"
	"github.com/mimblenode/node/pkg/mmrmath"
	"github.com/mimblenode/node/pkg/pmmr"
	"github.com/mimblenode/node/pkg/segment"
)

// Kind names one of the four trees PIBD exchanges segments for.
type Kind int

const (
	KindBitmap Kind = iota
	KindOutput
	KindRangeproof
	KindKernel
)

func (k Kind) String() string {
	switch k {
	case KindBitmap:
		return "bitmap"
	case KindOutput:
		return "output"
	case KindRangeproof:
		return "rangeproof"
	case KindKernel:
		return "kernel"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// kinds is the canonical request order: the bitmap tree first (everything
// else is validated against the leaf set it describes), then output,
// range proof, kernel.
var kinds = [...]Kind{KindBitmap, KindOutput, KindRangeproof, KindKernel}

// DefaultSegmentHeight is the subtree height every requested segment is
// cut at unless Config.SegmentHeight overrides it.
const DefaultSegmentHeight = 11

// Target pins the state a Desegmenter is reconstructing: the archive
// header plus the three MMR sizes it commits to, and the size/root of
// the chunked leaf-set-bitmap tree - a PIBD-specific artifact the header
// itself doesn't carry a root for, advertised out of band by a
// PIBD-capable peer alongside the header.
type Target struct {
	Header         chaintypes.BlockHeader
	OutputSize     uint64
	RangeproofSize uint64
	KernelSize     uint64
	BitmapSize     uint64
	BitmapRoot     chaintypes.Hash
}

func (t Target) size(k Kind) uint64 {
	switch k {
	case KindBitmap:
		return t.BitmapSize
	case KindOutput:
		return t.OutputSize
	case KindRangeproof:
		return t.RangeproofSize
	case KindKernel:
		return t.KernelSize
	default:
		return 0
	}
}

func (t Target) root(k Kind) []byte {
	switch k {
	case KindBitmap:
		return t.BitmapRoot[:]
	case KindOutput:
		return t.Header.OutputRoot[:]
	case KindRangeproof:
		return t.Header.RangeProofRoot[:]
	case KindKernel:
		return t.Header.KernelRoot[:]
	default:
		return nil
	}
}

// Config configures a Desegmenter's staging storage and timeouts.
type Config struct {
	// Dir holds one staging subdirectory per tree; discarded once sync
	// completes or aborts.
	Dir string

	Target Target

	// SegmentHeight is the subtree height requested segments are cut at.
	// Defaults to DefaultSegmentHeight.
	SegmentHeight uint8

	// SegmentTimeout bounds how long a requested segment may stay
	// in-flight before it is dropped back into the desired set. Default
	// 60s, per the archive-sync default.
	SegmentTimeout time.Duration
	// FallbackWindow bounds how long the Desegmenter tolerates having no
	// PIBD-capable peer before aborting in favor of whole-state download.
	// Default 10 minutes.
	FallbackWindow time.Duration

	Log *zap.SugaredLogger
}

func (c *Config) setDefaults() {
	if c.SegmentHeight == 0 {
		c.SegmentHeight = DefaultSegmentHeight
	}
	if c.SegmentTimeout == 0 {
		c.SegmentTimeout = 60 * time.Second
	}
	if c.FallbackWindow == 0 {
		c.FallbackWindow = 10 * time.Minute
	}
}

// request is one outstanding segment fetch.
type request struct {
	kind   Kind
	id     segment.Identifier
	cancel context.CancelFunc
}

// Desegmenter drives downloading a pinned archive header's state one
// segment at a time. Safe for concurrent use.
type Desegmenter struct {
	mu  sync.Mutex
	cfg Config

	trees map[Kind]*pmmr.Backend

	// applied is the number of leaves each tree has promoted so far -
	// the contiguous frontier segments must extend to be accepted.
	applied map[Kind]uint64
	// staged holds verified segments not yet promoted, keyed by kind and
	// leaf-range start, waiting for the frontier to reach them.
	staged map[Kind]map[uint64]*segment.Segment

	inflight map[uuid.UUID]*request

	fallbackTimer *time.Timer
	aborted       bool
}

// Open creates the four staging backends under cfg.Dir and returns a
// Desegmenter ready to drive sync toward cfg.Target.
func Open(cfg Config) (*Desegmenter, error) {
	cfg.setDefaults()

	d := &Desegmenter{
		cfg:      cfg,
		trees:    make(map[Kind]*pmmr.Backend, len(kinds)),
		applied:  make(map[Kind]uint64, len(kinds)),
		staged:   make(map[Kind]map[uint64]*segment.Segment, len(kinds)),
		inflight: make(map[uuid.UUID]*request),
	}

	for _, k := range kinds {
		fixedSize := 0
		if k == KindBitmap {
			fixedSize = bitmapChunkSize
		}
		backend, err := pmmr.Open(pmmr.Config{
			Dir:           filepath.Join(cfg.Dir, k.String()),
			DataFixedSize: fixedSize,
		})
		if err != nil {
			return nil, fmt.Errorf("pibd: opening %s staging tree: %w", k, err)
		}
		d.trees[k] = backend
		d.staged[k] = make(map[uint64]*segment.Segment)
	}

	return d, nil
}

// bitmapChunkSize is the fixed byte width of one leaf-set-bitmap chunk
// (a fixed-size leaf of the bitmap tree), matching a roaring bitmap's
// serialized container size at a conservative upper bound; chunk content
// is opaque to the Desegmenter, which only verifies and relays it.
const bitmapChunkSize = 4096

// Close discards every staging backend's buffered state. Call after
// ValidateCompleteState succeeds (the caller copies trees into the live
// chain store itself) or after the sync is abandoned.
func (d *Desegmenter) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, r := range d.inflight {
		r.cancel()
	}
	for _, t := range d.trees {
		t.Discard()
	}
}

// Tree returns the staging backend for kind, for a caller that needs to
// read back applied leaves (e.g. to copy them into the live chain store
// once ValidateCompleteState passes).
func (d *Desegmenter) Tree(k Kind) *pmmr.Backend {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.trees[k]
}

// Aborted reports whether the fallback window elapsed with no capable
// peer, per NoteNoCapablePeers.
func (d *Desegmenter) Aborted() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.aborted
}

// NoteNoCapablePeers starts the fallback-window timer unless one is already
// running; if it fires before NotePeerCapable cancels it, the Desegmenter
// aborts and NextDesiredSegments, ReceiveSegment and ApplyNextSegments
// return ErrAborted from then on.
func (d *Desegmenter) NoteNoCapablePeers() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fallbackTimer != nil {
		return
	}
	d.fallbackTimer = time.AfterFunc(d.cfg.FallbackWindow, func() {
		d.mu.Lock()
		d.aborted = true
		d.mu.Unlock()
		if d.cfg.Log != nil {
			d.cfg.Log.Warnw("pibd: no PIBD-capable peer within fallback window, aborting")
		}
	})
}

// NotePeerCapable cancels a pending fallback-window timer started by
// NoteNoCapablePeers.
func (d *Desegmenter) NotePeerCapable() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fallbackTimer != nil {
		d.fallbackTimer.Stop()
		d.fallbackTimer = nil
	}
}

// SegmentRequest names one segment this Desegmenter wants fetched, with
// the request id a matching ReceiveSegment call must quote back.
type SegmentRequest struct {
	RequestID uuid.UUID
	Kind      Kind
	Segment   segment.Identifier
}

// NextDesiredSegments returns up to k segment identifiers still needed,
// in canonical order (bitmap, then output, then rangeproof, then kernel;
// ascending index within a kind), skipping anything already staged or
// already in flight. Each returned request is tracked with ctx's
// deadline (bounded additionally by the configured per-segment timeout);
// if neither ReceiveSegment nor the caller's own cancellation resolves it
// first, the request is dropped back into the desired set automatically.
func (d *Desegmenter) NextDesiredSegments(ctx context.Context, k int) ([]SegmentRequest, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.aborted {
		return nil, ErrAborted
	}

	var out []SegmentRequest
	for _, kind := range kinds {
		if len(out) >= k {
			break
		}
		total := d.cfg.Target.size(kind)
		leavesPerSegment := mmrmath.HeightIndexLeafCount(uint64(d.cfg.SegmentHeight))

		for idx := d.applied[kind] / leavesPerSegment; len(out) < k; idx++ {
			start := idx * leavesPerSegment
			if start >= total {
				break
			}
			if _, ok := d.staged[kind][start]; ok {
				continue
			}
			if d.requestedFor(kind, idx) {
				continue
			}

			id := segment.Identifier{Height: d.cfg.SegmentHeight, Idx: idx}
			reqID := uuid.New()
			reqCtx, cancel := context.WithTimeout(ctx, d.cfg.SegmentTimeout)
			d.inflight[reqID] = &request{kind: kind, id: id, cancel: cancel}
			go d.awaitTimeout(reqID, reqCtx)

			out = append(out, SegmentRequest{RequestID: reqID, Kind: kind, Segment: id})
		}
	}
	return out, nil
}

func (d *Desegmenter) requestedFor(kind Kind, idx uint64) bool {
	for _, r := range d.inflight {
		if r.kind == kind && r.id.Idx == idx {
			return true
		}
	}
	return false
}

func (d *Desegmenter) awaitTimeout(id uuid.UUID, ctx context.Context) {
	<-ctx.Done()
	if ctx.Err() != context.Canceled {
		d.mu.Lock()
		if _, ok := d.inflight[id]; ok {
			delete(d.inflight, id)
			if d.cfg.Log != nil {
				d.cfg.Log.Debugw("pibd: segment request timed out, will be re-requested")
			}
		}
		d.mu.Unlock()
	}
}

// ReceiveSegment verifies a segment against the archive target's
// peak root for its kind and, if valid, stages it for promotion by
// ApplyNextSegments. requestID must match an outstanding request
// returned by NextDesiredSegments.
func (d *Desegmenter) ReceiveSegment(requestID uuid.UUID, seg *segment.Segment) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.aborted {
		return ErrAborted
	}

	req, ok := d.inflight[requestID]
	if !ok {
		return ErrUnknownRequest
	}
	if req.id != seg.ID {
		return ErrKindMismatch
	}

	total := d.cfg.Target.size(req.kind)
	if err := seg.Validate(total, nil, d.cfg.Target.root(req.kind)); err != nil {
		return err
	}
	if len(seg.Hashes) > 0 {
		// This Desegmenter stages segments by replaying their leaves
		// leaf-by-leaf into a fresh backend; a pruned-root substitute
		// means some leaves in range are gone at the source and cannot
		// be individually reconstructed. The segment is verified (and
		// the peer is not at fault) but cannot be applied here.
		delete(d.inflight, requestID)
		req.cancel()
		return ErrCannotApplyPrunedSegment
	}

	start, _ := seg.ID.LeafRange()
	d.staged[req.kind][start] = seg
	delete(d.inflight, requestID)
	req.cancel()
	return nil
}

// ApplyNextSegments promotes every staged segment that extends its
// tree's applied frontier contiguously, in canonical kind order,
// replaying each segment's leaves into the tree's staging backend.
// Returns the number of segments promoted.
func (d *Desegmenter) ApplyNextSegments() (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.aborted {
		return 0, ErrAborted
	}

	promoted := 0
	for _, kind := range kinds {
		leavesPerSegment := mmrmath.HeightIndexLeafCount(uint64(d.cfg.SegmentHeight))
		for {
			start := d.applied[kind]
			// Segments are staged keyed by their own leaf-range start,
			// which only equals the frontier once every earlier segment
			// has already been promoted.
			aligned := (start / leavesPerSegment) * leavesPerSegment
			if aligned != start {
				break
			}
			seg, ok := d.staged[kind][start]
			if !ok {
				break
			}

			if err := d.applySegment(kind, seg); err != nil {
				return promoted, err
			}
			delete(d.staged[kind], start)
			promoted++
		}
	}
	return promoted, nil
}

func (d *Desegmenter) applySegment(kind Kind, seg *segment.Segment) error {
	backend := d.trees[kind]
	total := d.cfg.Target.size(kind)
	_, end := seg.ID.LeafRange()
	if end > total {
		end = total
	}

	leafAt := make(map[uint64][]byte, len(seg.Leaves))
	for _, l := range seg.Leaves {
		leafAt[l.LeafIdx] = l.Payload
	}

	start, _ := seg.ID.LeafRange()
	for idx := start; idx < end; idx++ {
		payload, ok := leafAt[idx]
		if !ok {
			return fmt.Errorf("%w: leaf %d", ErrCannotApplyPrunedSegment, idx)
		}
		sum := sha256.Sum256(payload)
		if _, _, err := backend.Append(sum[:], payload); err != nil {
			return fmt.Errorf("pibd: applying %s leaf %d: %w", kind, idx, err)
		}
	}
	d.applied[kind] = end
	return nil
}

// CheckProgress reports whether every tree has been promoted up to the
// archive target's size.
func (d *Desegmenter) CheckProgress() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, k := range kinds {
		if d.applied[k] < d.cfg.Target.size(k) {
			return false
		}
	}
	return true
}

// ValidateCompleteState checks that every tree, once fully applied,
// roots to the value the archive target commits to. Range-proof and
// kernel-signature verification are the excluded elliptic-curve crypto
// layer's job; this only checks the structural MMR roots this module
// owns.
func (d *Desegmenter) ValidateCompleteState() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, k := range kinds {
		if d.applied[k] < d.cfg.Target.size(k) {
			return ErrIncompleteState
		}
	}
	for _, k := range kinds {
		root, err := d.trees[k].Root()
		if err != nil {
			return fmt.Errorf("pibd: computing %s root: %w", k, err)
		}
		var got chaintypes.Hash
		copy(got[:], root)
		if got != d.expectedHash(k) {
			return fmt.Errorf("%w: %s", ErrRootMismatch, k)
		}
	}
	return nil
}

func (d *Desegmenter) expectedHash(k Kind) chaintypes.Hash {
	var h chaintypes.Hash
	copy(h[:], d.cfg.Target.root(k))
	return h
}
