package bloomfilter

/*

# Bloom filter primitives for pool duplicate pre-checks

This package provides primitive building blocks for Bloom filters, plus a
small [Filter] wrapper sized for an expected element count. The transaction
pool uses it as a cheap "definitely not a duplicate" pre-check before it
pays for an exact membership lookup against the pool's entry map.

## What Bloom filters are (and are not)

Bloom filters provide a *probabilistic prefilter*:

  - If the filter says "definitely not present", the element is not present.
  - If the filter says "maybe present", the element may or may not be
    present (false positives are possible).

Bloom filters are not cryptographic commitments and provide no proof of
exclusion; they are purely an I/O/CPU optimization ahead of an exact check.

## A single filter, not a bank of them

This package holds exactly one bitset per region, sized for the one
pre-check the pool actually needs (see [Filter]):

	+----------------------+  16B header (magic, version, params)
	| Header               |
	+----------------------+  bitset bytes
	| bitset               |
	+----------------------+

An earlier revision of this package carried a 4-way-bank region format
(four independent bitsets sharing one header, addressed by a filter
index), on the theory that a future caller might want several independent
filter generations sharing one allocation. No caller ever exercised bank
1-3, so the format was collapsed to the one bank [Filter] actually uses:
[Reset] reinitializes the single bitset in place for the pool's
rebuild-from-scratch path (see pkg/txpool's Reconcile) instead of needing
a second bank to stage a new generation into.

*/
