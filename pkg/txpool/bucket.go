package txpool

import (
	"sort"

	"github.com/mimblenode/node/pkg/chaintypes"
)

// bucket groups dependent transactions together as a single aggregated
// candidate for block inclusion, tracking the aggregate's fee rate and its
// position among buckets for stable age-based tie-breaking.
type bucket struct {
	txs     []chaintypes.Transaction
	feeRate uint64
	ageIdx  int
}

func newBucket(tx chaintypes.Transaction, ageIdx int) bucket {
	return bucket{txs: []chaintypes.Transaction{tx}, feeRate: tx.FeeRate(), ageIdx: ageIdx}
}

// aggregateWith combines newTx into the bucket, returning the resulting
// bucket and whether the combination is itself a valid aggregate under
// weighting (mirroring a failed cut-through/signature aggregation upstream,
// which here is reduced to the weight check this module can perform).
func (b bucket) aggregateWith(newTx chaintypes.Transaction, weighting Weighting) (bucket, bool) {
	txs := make([]chaintypes.Transaction, len(b.txs), len(b.txs)+1)
	copy(txs, b.txs)
	txs = append(txs, newTx)

	var weight, fee uint64
	for _, tx := range txs {
		weight += tx.Weight
		fee += tx.Fee
	}
	if weighting.check(weight) != nil {
		return bucket{}, false
	}
	agg := bucket{txs: txs, ageIdx: b.ageIdx}
	if weight > 0 {
		agg.feeRate = fee / weight
	}
	return agg, true
}

// bucketTransactions orders entries to maximize cut-through and overall
// fees while preserving dependency order: a child transaction never sorts
// ahead of the bucket containing the parent output it spends.
func bucketTransactions(entries []PoolEntry, weighting Weighting) []chaintypes.Transaction {
	var buckets []bucket
	outputCommits := make(map[chaintypes.Commitment]int)
	rejected := make(map[chaintypes.Commitment]bool)

	for _, entry := range entries {
		tx := entry.Tx

		var insertPos = -1
		multipleParents := false
		isRejected := false
		for _, in := range tx.Inputs {
			if rejected[in.Commit] {
				isRejected = true
				continue
			}
			if pos, ok := outputCommits[in.Commit]; ok {
				if insertPos != -1 && insertPos != pos {
					multipleParents = true
				}
				insertPos = pos
			}
		}
		if multipleParents {
			isRejected = true
		}

		if isRejected {
			for _, out := range tx.Outputs {
				rejected[out.Commit] = true
			}
			continue
		}

		if insertPos == -1 {
			insertPos = len(buckets)
			buckets = append(buckets, newBucket(tx, len(buckets)))
		} else {
			b := buckets[insertPos]
			if agg, ok := b.aggregateWith(tx, weighting); ok && agg.feeRate >= b.feeRate {
				buckets[insertPos] = agg
			} else if ok {
				insertPos = len(buckets)
				buckets = append(buckets, newBucket(tx, len(buckets)))
			} else {
				isRejected = true
			}
		}

		if isRejected {
			for _, out := range tx.Outputs {
				rejected[out.Commit] = true
			}
			continue
		}
		for _, out := range tx.Outputs {
			outputCommits[out.Commit] = insertPos
		}
	}

	sort.SliceStable(buckets, func(i, j int) bool {
		if buckets[i].feeRate != buckets[j].feeRate {
			return buckets[i].feeRate > buckets[j].feeRate
		}
		return buckets[i].ageIdx < buckets[j].ageIdx
	})

	var out []chaintypes.Transaction
	for _, b := range buckets {
		out = append(out, b.txs...)
	}
	return out
}
