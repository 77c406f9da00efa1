package txpool

import (
	"container/list"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mimblenode/node/pkg/chaintypes"
)

// TransactionPool owns the public txpool, the Dandelion stempool, and the
// reorg cache that lets entries evicted by a block survive long enough to
// be replayed against a different fork.
type TransactionPool struct {
	mu sync.RWMutex

	config  Config
	Txpool  *Pool
	Stempool *Pool
	chain   BlockChain
	adapter Adapter
	log     *zap.SugaredLogger

	reorgCache *list.List // of PoolEntry
}

// NewTransactionPool constructs a pool pair validating against chain and
// notifying adapter of admission outcomes.
func NewTransactionPool(config Config, chain BlockChain, adapter Adapter, log *zap.SugaredLogger) *TransactionPool {
	return &TransactionPool{
		config:     config,
		Txpool:     NewPool(chain, "txpool", log),
		Stempool:   NewPool(chain, "stempool", log),
		chain:      chain,
		adapter:    adapter,
		log:        log,
		reorgCache: list.New(),
	}
}

func (tp *TransactionPool) ChainHead() (chaintypes.BlockHeader, error) { return tp.chain.ChainHead() }

func (tp *TransactionPool) addToReorgCache(entry PoolEntry) {
	tp.reorgCache.PushBack(entry)
	for tp.reorgCache.Len() > tp.config.MaxPoolSize {
		tp.reorgCache.Remove(tp.reorgCache.Front())
	}
}

func (tp *TransactionPool) deaggregateTx(entry PoolEntry) PoolEntry {
	if len(entry.Tx.Kernels) <= 1 {
		return entry
	}
	matches := tp.Txpool.FindMatchingTransactions(entry.Tx.Kernels)
	if len(matches) == 0 {
		return entry
	}
	tx := deaggregate(entry.Tx, matches)
	return PoolEntry{Tx: tx, Src: TxSourceDeaggregate, TxAt: entry.TxAt}
}

// deaggregate removes every kernel/input/output belonging to one of
// subset's member transactions from tx, returning the residual.
func deaggregate(tx chaintypes.Transaction, subset []chaintypes.Transaction) chaintypes.Transaction {
	remove := make(map[chaintypes.Commitment]bool)
	for _, s := range subset {
		for _, k := range s.Kernels {
			remove[k.Excess] = true
		}
	}

	var out chaintypes.Transaction
	for _, k := range tx.Kernels {
		if !remove[k.Excess] {
			out.Kernels = append(out.Kernels, k)
		}
	}
	removedInputs := make(map[chaintypes.Commitment]bool)
	removedOutputs := make(map[chaintypes.Commitment]bool)
	for _, s := range subset {
		for _, in := range s.Inputs {
			removedInputs[in.Commit] = true
		}
		for _, o := range s.Outputs {
			removedOutputs[o.Commit] = true
		}
	}
	for _, in := range tx.Inputs {
		if !removedInputs[in.Commit] {
			out.Inputs = append(out.Inputs, in)
		}
	}
	for _, o := range tx.Outputs {
		if !removedOutputs[o.Commit] {
			out.Outputs = append(out.Outputs, o)
		}
	}
	out.Weight = tx.Weight
	out.Fee = tx.Fee
	for _, s := range subset {
		out.Weight -= s.Weight
		out.Fee -= s.Fee
	}
	return out
}

func (tp *TransactionPool) verifyKernelVariants(tx *chaintypes.Transaction, header chaintypes.BlockHeader, nrdEnabled bool) error {
	for _, k := range tx.Kernels {
		if k.IsNRD() {
			if !nrdEnabled {
				return ErrNRDKernelNotEnabled
			}
			if header.Version < 4 {
				return ErrNRDKernelPreHF3
			}
		}
	}
	return nil
}

// AddToPool runs the full admission pipeline for tx, directing it to the
// stempool (Dandelion stem phase) or the public txpool.
//
// Step order mirrors the upstream pool exactly: duplicate check and
// fluff-on-restem, deaggregation, NRD kernel gating, capacity (deferred as
// a post-admission eviction for a non-stem tx, rejected outright for
// stem), fee floor, weight validation, lock-height, input resolution,
// coinbase maturity, v2 input rewrite, then stem handoff or txpool
// admission plus reorg-cache recording.
func (tp *TransactionPool) AddToPool(src TxSource, tx chaintypes.Transaction, stem bool, header chaintypes.BlockHeader, nrdEnabled bool) error {
	tp.mu.Lock()
	defer tp.mu.Unlock()

	if stem && tp.Stempool.ContainsTx(&tx) {
		tp.mu.Unlock()
		err := tp.AddToPool(src, tx, false, header, nrdEnabled)
		tp.mu.Lock()
		return err
	}
	if tp.Txpool.ContainsTx(&tx) {
		return ErrDuplicateTx
	}

	entry := PoolEntry{Tx: tx, Src: src, TxAt: time.Unix(header.Timestamp, 0)}
	if !stem {
		entry = tp.deaggregateTx(entry)
	}

	if err := tp.verifyKernelVariants(&entry.Tx, header, nrdEnabled); err != nil {
		return err
	}

	evict := false
	if err := tp.isAcceptable(&entry.Tx, stem); err != nil {
		if !stem && err == ErrOverCapacity {
			evict = true
		} else {
			return err
		}
	}

	if err := tp.chain.VerifyTxLockHeight(&entry.Tx); err != nil {
		return err
	}

	var extraTx *chaintypes.Transaction
	if stem {
		extraTx = tp.Txpool.AllTransactionsAggregate(nil)
	}

	var spentPool, spentUTXO []chaintypes.OutputIdentifier
	var err error
	if stem {
		spentPool, spentUTXO, err = tp.Stempool.LocateSpends(&entry.Tx, extraTx)
	} else {
		spentPool, spentUTXO, err = tp.Txpool.LocateSpends(&entry.Tx, nil)
	}
	if err != nil {
		return err
	}

	var coinbaseInputs []chaintypes.OutputIdentifier
	for _, o := range spentUTXO {
		if o.Features == chaintypes.OutputCoinbase {
			coinbaseInputs = append(coinbaseInputs, o)
		}
	}
	if err := tp.chain.VerifyCoinbaseMaturity(coinbaseInputs); err != nil {
		return err
	}

	entry = tp.convertTxV2(entry, spentPool, spentUTXO)

	if stem {
		if err := tp.Stempool.AddToPool(entry, extraTx, header); err != nil {
			return err
		}
		if tp.adapter != nil && tp.adapter.StemTxAccepted(&entry) == nil {
			return nil
		}
		// Adapter declined the stem handoff; fall through and fluff.
	}

	if err := tp.addToTxpoolLocked(entry, header); err != nil {
		return err
	}
	tp.addToReorgCache(entry)
	if tp.adapter != nil {
		tp.adapter.TxAccepted(&entry)
	}

	if evict {
		tp.Txpool.EvictTransaction()
	}
	return nil
}

func (tp *TransactionPool) addToTxpoolLocked(entry PoolEntry, header chaintypes.BlockHeader) error {
	if err := tp.Txpool.AddToPool(entry, nil, header); err != nil {
		return err
	}
	txpoolAgg := tp.Txpool.AllTransactionsAggregate(nil)
	tp.Stempool.Reconcile(txpoolAgg, header)
	return nil
}

// convertTxV2 rewrites any commit-only inputs in entry's tx to carry the
// resolved output's features, so the tx can be relayed to peers that only
// understand the v2 wire form.
func (tp *TransactionPool) convertTxV2(entry PoolEntry, spentPool, spentUTXO []chaintypes.OutputIdentifier) PoolEntry {
	resolved := make(map[chaintypes.Commitment]chaintypes.OutputIdentifier, len(spentPool)+len(spentUTXO))
	for _, o := range spentUTXO {
		resolved[o.Commit] = o
	}
	for _, o := range spentPool {
		resolved[o.Commit] = o
	}

	inputs := make([]chaintypes.Input, len(entry.Tx.Inputs))
	for i, in := range entry.Tx.Inputs {
		if ident, ok := resolved[in.Commit]; ok {
			inputs[i] = chaintypes.Input{Features: chaintypes.InputFeatures(ident.Features), Commit: ident.Commit}
		} else {
			inputs[i] = in
		}
	}
	entry.Tx.Inputs = inputs
	return entry
}

func (tp *TransactionPool) isAcceptable(tx *chaintypes.Transaction, stem bool) error {
	if tp.Txpool.Size() > tp.config.MaxPoolSize {
		return ErrOverCapacity
	}
	if stem && tp.Stempool.Size() > tp.config.MaxStempoolSize {
		return ErrOverCapacity
	}
	if tx.Fee == 0 || tx.Fee < tp.config.AcceptFee(tx.Weight) {
		return ErrLowFeeTransaction
	}
	return nil
}

// EvictFromTxpool drops the lowest-fee-rate, dependency-free tx to make
// room for an incoming one that exceeded capacity.
func (tp *TransactionPool) EvictFromTxpool() {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	tp.Txpool.EvictTransaction()
}

// TruncateReorgCache drops cache entries older than cutoff.
func (tp *TransactionPool) TruncateReorgCache(cutoff time.Time) {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	for tp.reorgCache.Len() > 0 {
		front := tp.reorgCache.Front().Value.(PoolEntry)
		if !front.TxAt.Before(cutoff) {
			break
		}
		tp.reorgCache.Remove(tp.reorgCache.Front())
	}
}

// ReconcileReorgCache replays every cached entry against header, used
// after switching to a fork whose block had evicted these entries.
func (tp *TransactionPool) ReconcileReorgCache(header chaintypes.BlockHeader) {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	for e := tp.reorgCache.Front(); e != nil; e = e.Next() {
		entry := e.Value.(PoolEntry)
		_ = tp.addToTxpoolLocked(entry, header)
	}
}

// ReconcileBlock drops settled/conflicting entries from both pools and
// replays the survivors against the new chain head.
func (tp *TransactionPool) ReconcileBlock(block *chaintypes.Block, header chaintypes.BlockHeader) {
	tp.mu.Lock()
	defer tp.mu.Unlock()

	tp.Txpool.ReconcileBlock(block)
	tp.Txpool.Reconcile(nil, header)

	tp.Stempool.ReconcileBlock(block)
	txpoolAgg := tp.Txpool.AllTransactionsAggregate(nil)
	tp.Stempool.Reconcile(txpoolAgg, header)
}

// RetrieveTxByKernelHash looks up a known tx by kernel excess in the
// public txpool only (the stempool is under embargo).
func (tp *TransactionPool) RetrieveTxByKernelHash(excess chaintypes.Commitment) (chaintypes.Transaction, bool) {
	tp.mu.RLock()
	defer tp.mu.RUnlock()
	return tp.Txpool.RetrieveTxByKernelHash(excess)
}

// TotalSize is the public txpool's size (the stempool is never counted
// toward capacity decisions from outside the pool).
func (tp *TransactionPool) TotalSize() int {
	tp.mu.RLock()
	defer tp.mu.RUnlock()
	return tp.Txpool.Size()
}

// PrepareMineableTransactions returns a bucket-sorted, weight-bounded,
// chain-valid prefix of the txpool suitable for a block template.
func (tp *TransactionPool) PrepareMineableTransactions() ([]chaintypes.Transaction, error) {
	tp.mu.RLock()
	defer tp.mu.RUnlock()
	return tp.Txpool.PrepareMineableTransactions(tp.config.MineableMaxWeight)
}
