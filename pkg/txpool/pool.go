package txpool

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/mimblenode/node/pkg/bloomfilter"
	"github.com/mimblenode/node/pkg/chaintypes"
)

// Pool is the entry list and admission logic shared by the txpool and
// stempool layers: the only difference between the two is which Pool
// instance a caller is looking at.
type Pool struct {
	Name    string
	entries []PoolEntry
	chain   BlockChain
	log     *zap.SugaredLogger

	// dupFilter is a cheap pre-check ahead of the exact contains_tx scan:
	// a negative answer here is authoritative (no false negatives), a
	// positive one just means "worth doing the exact scan".
	dupFilter *bloomfilter.Filter
}

// NewPool constructs an empty pool named name, validating against chain.
func NewPool(chain BlockChain, name string, log *zap.SugaredLogger) *Pool {
	filter, _ := bloomfilter.NewFilter(4096, 10, 4)
	return &Pool{Name: name, chain: chain, log: log, dupFilter: filter}
}

func kernelKey(k chaintypes.Kernel) []byte { return k.Excess[:] }

// ContainsTx reports whether an entry with the same kernel set as tx is
// already present, per this module's tx-identity convention
// (chaintypes.Transaction.Equal).
func (p *Pool) ContainsTx(tx *chaintypes.Transaction) bool {
	if p.dupFilter != nil && len(tx.Kernels) > 0 {
		maybe, err := p.dupFilter.MaybeContains(kernelKey(tx.Kernels[0]))
		if err == nil && !maybe {
			return false
		}
	}
	for i := range p.entries {
		if p.entries[i].Tx.Equal(tx) {
			return true
		}
	}
	return false
}

// RetrieveTxByKernelHash returns the pool entry carrying a kernel whose
// excess matches hash, if any.
func (p *Pool) RetrieveTxByKernelHash(excess chaintypes.Commitment) (chaintypes.Transaction, bool) {
	for _, e := range p.entries {
		for _, k := range e.Tx.Kernels {
			if k.Excess == excess {
				return e.Tx, true
			}
		}
	}
	return chaintypes.Transaction{}, false
}

// FindMatchingTransactions returns every entry whose kernel set is a
// subset of kernels, used to deaggregate a multi-kernel tx against
// transactions already known to the pool.
func (p *Pool) FindMatchingTransactions(kernels []chaintypes.Kernel) []chaintypes.Transaction {
	wanted := make(map[chaintypes.Commitment]bool, len(kernels))
	for _, k := range kernels {
		wanted[k.Excess] = true
	}
	var out []chaintypes.Transaction
	for _, e := range p.entries {
		subset := true
		for _, k := range e.Tx.Kernels {
			if !wanted[k.Excess] {
				subset = false
				break
			}
		}
		if subset && len(e.Tx.Kernels) > 0 {
			out = append(out, e.Tx)
		}
	}
	return out
}

// AllTransactions returns every tx currently in the pool, insertion order.
func (p *Pool) AllTransactions() []chaintypes.Transaction {
	out := make([]chaintypes.Transaction, len(p.entries))
	for i, e := range p.entries {
		out[i] = e.Tx
	}
	return out
}

// AllTransactionsAggregate combines every pool tx (plus an optional extra
// tx) into one structural aggregate: inputs/outputs/kernels concatenated
// and then cut through (a spent output cancels its own production within
// the aggregate). Balance/signature aggregation is real-cryptography work
// this module has no opaque primitive for and so is not reproduced here;
// callers needing a verified aggregate go through BlockChain.ValidateTx.
func (p *Pool) AllTransactionsAggregate(extra *chaintypes.Transaction) *chaintypes.Transaction {
	txs := p.AllTransactions()
	if len(txs) == 0 {
		return extra
	}
	if extra != nil {
		txs = append(txs, *extra)
	}
	agg := aggregateTransactions(txs)
	return &agg
}

func aggregateTransactions(txs []chaintypes.Transaction) chaintypes.Transaction {
	var agg chaintypes.Transaction
	for _, tx := range txs {
		agg.Inputs = append(agg.Inputs, tx.Inputs...)
		agg.Outputs = append(agg.Outputs, tx.Outputs...)
		agg.Kernels = append(agg.Kernels, tx.Kernels...)
		agg.Weight += tx.Weight
		agg.Fee += tx.Fee
	}
	agg.Inputs, agg.Outputs = cutThrough(agg.Inputs, agg.Outputs)
	return agg
}

// cutThrough removes every input/output pair that shares a commitment: an
// output produced and then immediately spent within the same aggregate
// need not appear in either list.
func cutThrough(inputs []chaintypes.Input, outputs []chaintypes.Output) ([]chaintypes.Input, []chaintypes.Output) {
	spent := make(map[chaintypes.Commitment]bool, len(inputs))
	for _, in := range inputs {
		spent[in.Commit] = true
	}
	var keptOutputs []chaintypes.Output
	produced := make(map[chaintypes.Commitment]bool, len(outputs))
	for _, out := range outputs {
		if spent[out.Commit] {
			produced[out.Commit] = true
			continue
		}
		keptOutputs = append(keptOutputs, out)
	}
	var keptInputs []chaintypes.Input
	for _, in := range inputs {
		if produced[in.Commit] {
			continue
		}
		keptInputs = append(keptInputs, in)
	}
	return keptInputs, keptOutputs
}

// AddToPool validates entry (aggregated against the existing pool plus any
// extraTx) and, on success, appends it.
func (p *Pool) AddToPool(entry PoolEntry, extraTx *chaintypes.Transaction, header chaintypes.BlockHeader) error {
	existing := p.AllTransactions()
	for i := range existing {
		if existing[i].Equal(&entry.Tx) {
			return ErrDuplicateTx
		}
	}

	var txs []chaintypes.Transaction
	txs = append(txs, existing...)
	if extraTx != nil {
		txs = append(txs, *extraTx)
	}

	var aggTx chaintypes.Transaction
	if len(txs) == 0 {
		aggTx = entry.Tx
	} else {
		txs = append(txs, entry.Tx)
		aggTx = aggregateTransactions(txs)
	}

	if _, err := p.validateRawTx(&aggTx, header, NoLimit()); err != nil {
		return err
	}

	if p.log != nil {
		p.log.Debugw("add_to_pool",
			"pool", p.Name,
			"inputs", len(entry.Tx.Inputs),
			"outputs", len(entry.Tx.Outputs),
			"kernels", len(entry.Tx.Kernels),
			"pool_size", p.Size(),
			"at_height", header.Height,
		)
	}

	p.entries = append(p.entries, entry)
	if p.dupFilter != nil && len(entry.Tx.Kernels) > 0 {
		_ = p.dupFilter.Add(kernelKey(entry.Tx.Kernels[0]))
	}
	return nil
}

func (p *Pool) validateRawTx(tx *chaintypes.Transaction, header chaintypes.BlockHeader, weighting Weighting) (chaintypes.BlockSums, error) {
	if err := weighting.check(tx.Weight); err != nil {
		return chaintypes.BlockSums{}, err
	}
	if err := p.chain.ValidateTx(tx); err != nil {
		return chaintypes.BlockSums{}, fmt.Errorf("%w: %v", ErrInvalidTx, err)
	}
	sums, err := p.chain.GetBlockSums(header.Hash)
	if err != nil {
		return chaintypes.BlockSums{}, err
	}
	return sums, nil
}

// ValidateRawTxs iteratively validates each tx as an addition to the
// already-accepted prefix, returning the largest such prefix that remains
// valid when aggregated with the chain's current state.
func (p *Pool) ValidateRawTxs(txs []chaintypes.Transaction, extraTx *chaintypes.Transaction, header chaintypes.BlockHeader, weighting Weighting) []chaintypes.Transaction {
	var valid []chaintypes.Transaction
	for _, tx := range txs {
		var candidates []chaintypes.Transaction
		if extraTx != nil {
			candidates = append(candidates, *extraTx)
		}
		candidates = append(candidates, valid...)
		candidates = append(candidates, tx)

		agg := aggregateTransactions(candidates)
		if _, err := p.validateRawTx(&agg, header, weighting); err == nil {
			valid = append(valid, tx)
		}
	}
	return valid
}

// LocateSpends resolves tx's inputs against the pool's own aggregate
// output set first, falling back to the chain's UTXO for anything left
// unresolved, mirroring the original's pool-then-chain lookup order.
func (p *Pool) LocateSpends(tx *chaintypes.Transaction, extraTx *chaintypes.Transaction) (spentPool, spentUTXO []chaintypes.OutputIdentifier, err error) {
	agg := p.AllTransactionsAggregate(extraTx)

	poolOutputs := make(map[chaintypes.Commitment]chaintypes.OutputIdentifier)
	if agg != nil {
		for _, out := range agg.Outputs {
			poolOutputs[out.Commit] = out.OutputIdentifier
		}
	}

	var unresolved []chaintypes.Input
	for _, in := range tx.Inputs {
		if ident, ok := poolOutputs[in.Commit]; ok {
			spentPool = append(spentPool, ident)
			continue
		}
		unresolved = append(unresolved, in)
	}

	if len(unresolved) > 0 {
		spentUTXO, err = p.chain.ValidateInputs(unresolved)
		if err != nil {
			return nil, nil, err
		}
	}
	return spentPool, spentUTXO, nil
}

// PrepareMineableTransactions bucket-sorts the pool and returns the
// longest valid prefix that fits within maxWeight.
func (p *Pool) PrepareMineableTransactions(maxWeight uint64) ([]chaintypes.Transaction, error) {
	weighting := AsLimitedTransaction(maxWeight)
	txs := bucketTransactions(p.entries, weighting)

	header, err := p.chain.ChainHead()
	if err != nil {
		return nil, err
	}
	return p.ValidateRawTxs(txs, nil, header, weighting), nil
}

// Reconcile clears the pool and replays every entry's admission against
// header (with extraTx, typically the current txpool aggregate, folded
// into each check); entries that no longer validate are silently dropped.
func (p *Pool) Reconcile(extraTx *chaintypes.Transaction, header chaintypes.BlockHeader) {
	existing := p.entries
	p.entries = nil
	if p.dupFilter != nil {
		_ = p.dupFilter.Reset()
	}
	for _, e := range existing {
		_ = p.AddToPool(e, extraTx, header)
	}
}

// EvictTransaction removes the last transaction of the lowest-fee-rate
// bucket (the tx with no dependents and the worst fee rate).
func (p *Pool) EvictTransaction() {
	buckets := bucketTransactions(p.entries, NoLimit())
	if len(buckets) == 0 {
		return
	}
	victim := buckets[len(buckets)-1]
	kept := p.entries[:0]
	for _, e := range p.entries {
		if !e.Tx.Equal(&victim) {
			kept = append(kept, e)
		}
	}
	p.entries = kept
}

// ReconcileBlock drops every entry whose kernel set or input set
// intersects block, since those have just been settled on-chain (or
// conflict with a tx that was).
func (p *Pool) ReconcileBlock(block *chaintypes.Block) {
	blockKernels := make(map[chaintypes.Commitment]bool, len(block.Kernels))
	for _, k := range block.Kernels {
		blockKernels[k.Excess] = true
	}
	blockInputs := make(map[chaintypes.Commitment]bool, len(block.Inputs))
	for _, in := range block.Inputs {
		blockInputs[in.Commit] = true
	}

	kept := p.entries[:0]
	for _, e := range p.entries {
		conflict := false
		for _, k := range e.Tx.Kernels {
			if blockKernels[k.Excess] {
				conflict = true
				break
			}
		}
		if !conflict {
			for _, in := range e.Tx.Inputs {
				if blockInputs[in.Commit] {
					conflict = true
					break
				}
			}
		}
		if !conflict {
			kept = append(kept, e)
		}
	}
	p.entries = kept
}

// Size is the number of transactions currently in the pool.
func (p *Pool) Size() int { return len(p.entries) }

// KernelCount sums the kernel count of every pool tx; may exceed Size due
// to multi-kernel aggregated transactions.
func (p *Pool) KernelCount() int {
	n := 0
	for _, e := range p.entries {
		n += len(e.Tx.Kernels)
	}
	return n
}

// IsEmpty reports whether the pool currently holds no transactions.
func (p *Pool) IsEmpty() bool { return len(p.entries) == 0 }
