package txpool

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mimblenode/node/pkg/chaintypes"
)

var errDeclined = errors.New("stem handoff declined")

type recordingAdapter struct {
	stemmed     []PoolEntry
	fluffed     []PoolEntry
	declineStem bool
}

func (a *recordingAdapter) StemTxAccepted(entry *PoolEntry) error {
	if a.declineStem {
		return errDeclined
	}
	a.stemmed = append(a.stemmed, *entry)
	return nil
}

func (a *recordingAdapter) TxAccepted(entry *PoolEntry) {
	a.fluffed = append(a.fluffed, *entry)
}

func testConfig() Config {
	return Config{MaxPoolSize: 100, MaxStempoolSize: 100, MineableMaxWeight: 10000, BaseFee: 1}
}

func TestTransactionPoolStemAdmissionNotifiesAdapter(t *testing.T) {
	chain := newFakeChain()
	adapter := &recordingAdapter{}
	tp := NewTransactionPool(testConfig(), chain, adapter, nil)

	tx := simpleTx(1, 10, 100)
	require.NoError(t, tp.AddToPool(TxSourceBroadcast, tx, true, chain.head, true))

	require.Len(t, adapter.stemmed, 1)
	require.Empty(t, adapter.fluffed)
	require.Equal(t, 1, tp.Stempool.Size())
	require.Equal(t, 0, tp.Txpool.Size())
}

func TestTransactionPoolStemFallsBackToFluffOnAdapterDecline(t *testing.T) {
	chain := newFakeChain()
	adapter := &recordingAdapter{declineStem: true}
	tp := NewTransactionPool(testConfig(), chain, adapter, nil)

	tx := simpleTx(1, 10, 100)
	require.NoError(t, tp.AddToPool(TxSourceBroadcast, tx, true, chain.head, true))

	require.Empty(t, adapter.stemmed)
	require.Len(t, adapter.fluffed, 1)
	require.Equal(t, 1, tp.Stempool.Size())
	require.Equal(t, 1, tp.Txpool.Size())
}

func TestTransactionPoolRestemsWhenAlreadyInStempool(t *testing.T) {
	chain := newFakeChain()
	adapter := &recordingAdapter{}
	tp := NewTransactionPool(testConfig(), chain, adapter, nil)

	tx := simpleTx(1, 10, 100)
	require.NoError(t, tp.AddToPool(TxSourceBroadcast, tx, true, chain.head, true))
	require.NoError(t, tp.AddToPool(TxSourceBroadcast, tx, true, chain.head, true))

	require.Equal(t, 1, tp.Txpool.Size())
}

func TestTransactionPoolRejectsDuplicateInTxpool(t *testing.T) {
	chain := newFakeChain()
	tp := NewTransactionPool(testConfig(), chain, nil, nil)

	tx := simpleTx(1, 10, 100)
	require.NoError(t, tp.AddToPool(TxSourceBroadcast, tx, false, chain.head, true))
	require.ErrorIs(t, tp.AddToPool(TxSourceBroadcast, tx, false, chain.head, true), ErrDuplicateTx)
}

func TestTransactionPoolRejectsNRDKernelWhenNotEnabled(t *testing.T) {
	chain := newFakeChain()
	tp := NewTransactionPool(testConfig(), chain, nil, nil)

	tx := chaintypes.Transaction{
		Kernels: []chaintypes.Kernel{{Features: chaintypes.KernelNoRecentDuplicate, Excess: commit(1), Fee: 100}},
		Weight:  10,
		Fee:     100,
	}
	err := tp.AddToPool(TxSourceBroadcast, tx, false, chain.head, false)
	require.ErrorIs(t, err, ErrNRDKernelNotEnabled)
}

func TestTransactionPoolRejectsNRDKernelPreHF3(t *testing.T) {
	chain := newFakeChain()
	chain.head.Version = 3
	tp := NewTransactionPool(testConfig(), chain, nil, nil)

	tx := chaintypes.Transaction{
		Kernels: []chaintypes.Kernel{{Features: chaintypes.KernelNoRecentDuplicate, Excess: commit(1), Fee: 100}},
		Weight:  10,
		Fee:     100,
	}
	err := tp.AddToPool(TxSourceBroadcast, tx, false, chain.head, true)
	require.ErrorIs(t, err, ErrNRDKernelPreHF3)
}

func TestTransactionPoolRejectsZeroFeeTransaction(t *testing.T) {
	chain := newFakeChain()
	tp := NewTransactionPool(testConfig(), chain, nil, nil)

	tx := simpleTx(1, 10, 0)
	err := tp.AddToPool(TxSourceBroadcast, tx, false, chain.head, true)
	require.ErrorIs(t, err, ErrLowFeeTransaction)
}

func TestTransactionPoolRejectsFeeBelowWeightedFloor(t *testing.T) {
	chain := newFakeChain()
	cfg := testConfig()
	cfg.BaseFee = 10
	tp := NewTransactionPool(cfg, chain, nil, nil)

	// Weight 10 at BaseFee 10 needs a fee of at least 100; 99 is nonzero but
	// still below the weight-scaled floor.
	tx := simpleTx(1, 10, 99)
	err := tp.AddToPool(TxSourceBroadcast, tx, false, chain.head, true)
	require.ErrorIs(t, err, ErrLowFeeTransaction)
}

func TestTransactionPoolAcceptsFeeAtWeightedFloor(t *testing.T) {
	chain := newFakeChain()
	cfg := testConfig()
	cfg.BaseFee = 10
	tp := NewTransactionPool(cfg, chain, nil, nil)

	tx := simpleTx(1, 10, 100)
	err := tp.AddToPool(TxSourceBroadcast, tx, false, chain.head, true)
	require.NoError(t, err)
}

func TestTransactionPoolRejectsZeroFeeZeroWeightTransaction(t *testing.T) {
	chain := newFakeChain()
	cfg := testConfig()
	cfg.BaseFee = 10
	tp := NewTransactionPool(cfg, chain, nil, nil)

	// Weight 0 makes the weighted floor itself 0; the unconditional
	// Fee == 0 check must still catch this rather than admitting a
	// free transaction whenever Weight happens to be 0.
	tx := simpleTx(1, 0, 0)
	err := tp.AddToPool(TxSourceBroadcast, tx, false, chain.head, true)
	require.ErrorIs(t, err, ErrLowFeeTransaction)
}

func TestTransactionPoolHeavierTxNeedsHigherFeeAtSameRate(t *testing.T) {
	chain := newFakeChain()
	cfg := testConfig()
	cfg.BaseFee = 10
	tp := NewTransactionPool(cfg, chain, nil, nil)

	// Same fee, double the weight: passes at weight 10, fails at weight 20.
	light := simpleTx(1, 10, 100)
	require.NoError(t, tp.AddToPool(TxSourceBroadcast, light, false, chain.head, true))

	heavy := simpleTx(2, 20, 100)
	err := tp.AddToPool(TxSourceBroadcast, heavy, false, chain.head, true)
	require.ErrorIs(t, err, ErrLowFeeTransaction)
}

func TestTransactionPoolReorgCacheTruncatesByAge(t *testing.T) {
	chain := newFakeChain()
	tp := NewTransactionPool(testConfig(), chain, nil, nil)

	old := time.Now().Add(-time.Hour).Unix()
	chain.head.Timestamp = old
	tx := simpleTx(1, 10, 100)
	require.NoError(t, tp.AddToPool(TxSourceBroadcast, tx, false, chain.head, true))
	require.Equal(t, 1, tp.reorgCache.Len())

	tp.TruncateReorgCache(time.Now().Add(-30 * time.Minute))
	require.Equal(t, 0, tp.reorgCache.Len())
}

func TestTransactionPoolReconcileBlockDropsFromBothPools(t *testing.T) {
	chain := newFakeChain()
	adapter := &recordingAdapter{}
	tp := NewTransactionPool(testConfig(), chain, adapter, nil)

	stemTx := simpleTx(1, 10, 100)
	require.NoError(t, tp.AddToPool(TxSourceBroadcast, stemTx, true, chain.head, true))

	fluffTx := simpleTx(2, 10, 100)
	require.NoError(t, tp.AddToPool(TxSourceBroadcast, fluffTx, false, chain.head, true))

	block := &chaintypes.Block{Kernels: fluffTx.Kernels}
	tp.ReconcileBlock(block, chain.head)

	require.Equal(t, 0, tp.Txpool.Size())
	require.Equal(t, 1, tp.Stempool.Size())
}
