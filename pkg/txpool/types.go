// Package txpool implements the transaction pool: two independent pools of
// identical structure (a public txpool and a Dandelion stempool), sharing
// one admission pipeline, a reorg cache for replay after a fork switch,
// and fee-rate bucket sorting for building a mineable block template.
package txpool

import (
	"errors"
	"time"

	"github.com/mimblenode/node/pkg/chaintypes"
)

// TxSource records where a pool entry came from, carried through for
// diagnostics and for deciding whether deaggregation was attempted.
type TxSource uint8

const (
	TxSourceUnknown TxSource = iota
	TxSourceBroadcast
	TxSourceDeaggregate
	TxSourcePushAPI
)

// PoolEntry is a transaction plus its pool bookkeeping.
type PoolEntry struct {
	Tx   chaintypes.Transaction
	Src  TxSource
	TxAt time.Time
}

// Weighting selects how strictly a tx (or aggregate) is checked against the
// consensus weight limit: unrestricted while building an aggregate for
// internal pool validation, bounded by a miner's chosen block weight while
// selecting transactions for a block template.
type Weighting struct {
	// Limited is false for NoLimit (pool-internal aggregate validation) and
	// true for a limited check against MaxWeight (AsLimitedTransaction) or
	// the fixed per-tx cap (AsTransaction, MaxWeight left at its default).
	Limited   bool
	MaxWeight uint64
}

// NoLimit validates only that the tx is internally well formed, ignoring
// weight entirely.
func NoLimit() Weighting { return Weighting{} }

// AsTransaction validates a single tx against the standard per-tx weight
// cap.
func AsTransaction(maxWeight uint64) Weighting {
	return Weighting{Limited: true, MaxWeight: maxWeight}
}

// AsLimitedTransaction validates an aggregate against a miner-chosen block
// weight budget.
func AsLimitedTransaction(maxWeight uint64) Weighting {
	return Weighting{Limited: true, MaxWeight: maxWeight}
}

func (w Weighting) check(weight uint64) error {
	if w.Limited && weight > w.MaxWeight {
		return ErrExceedsWeight
	}
	return nil
}

// Sentinel pool errors. Every one is a non-fatal rejection of the
// transaction in question; no other pool state is touched.
var (
	ErrDuplicateTx          = errors.New("txpool: duplicate transaction")
	ErrOverCapacity         = errors.New("txpool: pool is over capacity")
	ErrLowFeeTransaction    = errors.New("txpool: fee below accept threshold")
	ErrExceedsWeight        = errors.New("txpool: transaction exceeds weight limit")
	ErrNRDKernelNotEnabled  = errors.New("txpool: NRD kernel feature not enabled")
	ErrNRDKernelPreHF3      = errors.New("txpool: NRD kernel requires header version >= 4")
	ErrInvalidTx            = errors.New("txpool: invalid transaction")
	ErrInputSpentOrUnknown  = errors.New("txpool: input spent or unknown")
	ErrImmatureCoinbase     = errors.New("txpool: coinbase not yet mature")
	ErrInvalidLockHeight    = errors.New("txpool: transaction not yet unlocked")
)

// BlockChain is the read-mostly view of chain state the pool validates
// against; satisfied by pkg/chain.Chain.
type BlockChain interface {
	ChainHead() (chaintypes.BlockHeader, error)
	ValidateTx(tx *chaintypes.Transaction) error
	ValidateInputs(inputs []chaintypes.Input) ([]chaintypes.OutputIdentifier, error)
	VerifyCoinbaseMaturity(coinbaseInputs []chaintypes.OutputIdentifier) error
	VerifyTxLockHeight(tx *chaintypes.Transaction) error
	GetBlockSums(blockHash chaintypes.Hash) (chaintypes.BlockSums, error)
}

// Adapter is notified of pool admission outcomes, mirroring Dandelion's
// stem/fluff handoff to the network layer.
type Adapter interface {
	// StemTxAccepted is called after a stem-phase tx has been added to the
	// stempool; an error here falls back to fluffing (adding to txpool).
	StemTxAccepted(entry *PoolEntry) error
	// TxAccepted is called after a tx has been added to the public txpool.
	TxAccepted(entry *PoolEntry)
}

// Config bounds pool capacity, the mineable block weight and the minimum
// fee rate a transaction must clear to be admitted.
type Config struct {
	MaxPoolSize        int
	MaxStempoolSize    int
	MineableMaxWeight  uint64
	ReorgCacheLifetime time.Duration

	// BaseFee is the minimum fee required per unit of transaction weight
	// (inputs/outputs/kernels weighed per the node's consensus weights, see
	// chaintypes.Transaction.Weight). A tx's accept-fee floor is
	// BaseFee*tx.Weight; AddToPool rejects anything paying less.
	BaseFee uint64
}

// AcceptFee returns the minimum fee a transaction of the given weight must
// pay to clear this pool's fee floor.
func (c Config) AcceptFee(weight uint64) uint64 {
	return c.BaseFee * weight
}
