package txpool

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mimblenode/node/pkg/chaintypes"
)

// fakeChain is a minimal BlockChain stub: every tx is valid, every input is
// resolvable, nothing is coinbase, nothing is lock-height restricted.
type fakeChain struct {
	head  chaintypes.BlockHeader
	utxos map[chaintypes.Commitment]chaintypes.OutputIdentifier
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		head:  chaintypes.BlockHeader{Height: 1, Version: 4},
		utxos: make(map[chaintypes.Commitment]chaintypes.OutputIdentifier),
	}
}

func (c *fakeChain) ChainHead() (chaintypes.BlockHeader, error) { return c.head, nil }
func (c *fakeChain) ValidateTx(tx *chaintypes.Transaction) error { return nil }
func (c *fakeChain) ValidateInputs(inputs []chaintypes.Input) ([]chaintypes.OutputIdentifier, error) {
	out := make([]chaintypes.OutputIdentifier, len(inputs))
	for i, in := range inputs {
		if ident, ok := c.utxos[in.Commit]; ok {
			out[i] = ident
			continue
		}
		out[i] = chaintypes.OutputIdentifier{Features: chaintypes.OutputPlain, Commit: in.Commit}
	}
	return out, nil
}
func (c *fakeChain) VerifyCoinbaseMaturity(coinbaseInputs []chaintypes.OutputIdentifier) error {
	return nil
}
func (c *fakeChain) VerifyTxLockHeight(tx *chaintypes.Transaction) error { return nil }
func (c *fakeChain) GetBlockSums(blockHash chaintypes.Hash) (chaintypes.BlockSums, error) {
	return chaintypes.BlockSums{}, nil
}

func commit(b byte) chaintypes.Commitment {
	var c chaintypes.Commitment
	c[0] = b
	return c
}

func kernel(b byte, fee uint64) chaintypes.Kernel {
	return chaintypes.Kernel{Features: chaintypes.KernelPlain, Fee: fee, Excess: commit(b)}
}

func simpleTx(excessByte byte, weight, fee uint64) chaintypes.Transaction {
	return chaintypes.Transaction{
		Kernels: []chaintypes.Kernel{kernel(excessByte, fee)},
		Weight:  weight,
		Fee:     fee,
	}
}

func TestPoolContainsTxDetectsByKernelSet(t *testing.T) {
	chain := newFakeChain()
	p := NewPool(chain, "txpool", nil)

	tx := simpleTx(1, 10, 100)
	require.False(t, p.ContainsTx(&tx))

	require.NoError(t, p.AddToPool(PoolEntry{Tx: tx}, nil, chain.head))
	require.True(t, p.ContainsTx(&tx))

	other := simpleTx(2, 10, 100)
	require.False(t, p.ContainsTx(&other))
}

func TestPoolAddToPoolRejectsDuplicate(t *testing.T) {
	chain := newFakeChain()
	p := NewPool(chain, "txpool", nil)
	tx := simpleTx(1, 10, 100)

	require.NoError(t, p.AddToPool(PoolEntry{Tx: tx}, nil, chain.head))
	require.ErrorIs(t, p.AddToPool(PoolEntry{Tx: tx}, nil, chain.head), ErrDuplicateTx)
	require.Equal(t, 1, p.Size())
}

func TestPoolReconcileBlockDropsSettledEntries(t *testing.T) {
	chain := newFakeChain()
	p := NewPool(chain, "txpool", nil)

	tx1 := simpleTx(1, 10, 100)
	tx2 := simpleTx(2, 10, 100)
	require.NoError(t, p.AddToPool(PoolEntry{Tx: tx1}, nil, chain.head))
	require.NoError(t, p.AddToPool(PoolEntry{Tx: tx2}, nil, chain.head))
	require.Equal(t, 2, p.Size())

	block := &chaintypes.Block{Kernels: tx1.Kernels}
	p.ReconcileBlock(block)
	require.Equal(t, 1, p.Size())
	require.True(t, p.ContainsTx(&tx2))
	require.False(t, p.ContainsTx(&tx1))
}

func TestPoolEvictTransactionRemovesWorstFeeRateBucket(t *testing.T) {
	chain := newFakeChain()
	p := NewPool(chain, "txpool", nil)

	low := simpleTx(1, 100, 100)  // fee rate 1
	high := simpleTx(2, 100, 500) // fee rate 5
	require.NoError(t, p.AddToPool(PoolEntry{Tx: low}, nil, chain.head))
	require.NoError(t, p.AddToPool(PoolEntry{Tx: high}, nil, chain.head))

	p.EvictTransaction()
	require.Equal(t, 1, p.Size())
	require.True(t, p.ContainsTx(&high))
	require.False(t, p.ContainsTx(&low))
}

func TestBucketTransactionsOrdersByDescendingFeeRate(t *testing.T) {
	entries := []PoolEntry{
		{Tx: simpleTx(1, 100, 100)}, // fee rate 1
		{Tx: simpleTx(2, 100, 300)}, // fee rate 3
		{Tx: simpleTx(3, 100, 200)}, // fee rate 2
	}
	out := bucketTransactions(entries, NoLimit())
	require.Len(t, out, 3)
	require.Equal(t, commit(2), out[0].Kernels[0].Excess)
	require.Equal(t, commit(3), out[1].Kernels[0].Excess)
	require.Equal(t, commit(1), out[2].Kernels[0].Excess)
}

func TestBucketTransactionsGroupsDependentChildAfterParent(t *testing.T) {
	parentOut := chaintypes.OutputIdentifier{Commit: commit(10)}
	parent := chaintypes.Transaction{
		Kernels: []chaintypes.Kernel{kernel(1, 100)},
		Outputs: []chaintypes.Output{{OutputIdentifier: parentOut}},
		Weight:  100,
		Fee:     100,
	}
	child := chaintypes.Transaction{
		Kernels: []chaintypes.Kernel{kernel(2, 1000)},
		Inputs:  []chaintypes.Input{{Commit: commit(10)}},
		Weight:  100,
		Fee:     1000,
	}

	entries := []PoolEntry{{Tx: parent}, {Tx: child}}
	out := bucketTransactions(entries, NoLimit())
	require.Len(t, out, 2)
	// Child depends on parent's output, so despite its much higher fee rate
	// it must be aggregated into the same bucket, immediately after parent.
	require.Equal(t, commit(1), out[0].Kernels[0].Excess)
	require.Equal(t, commit(2), out[1].Kernels[0].Excess)
}

func TestPrepareMineableTransactionsBoundsByWeight(t *testing.T) {
	chain := newFakeChain()
	p := NewPool(chain, "txpool", nil)

	for i := byte(1); i <= 3; i++ {
		tx := simpleTx(i, 50, 100)
		require.NoError(t, p.AddToPool(PoolEntry{Tx: tx}, nil, chain.head))
	}

	out, err := p.PrepareMineableTransactions(120)
	require.NoError(t, err)
	var total uint64
	for _, tx := range out {
		total += tx.Weight
	}
	require.LessOrEqual(t, total, uint64(120))
}

func TestConfigAcceptFeeScalesWithWeight(t *testing.T) {
	cfg := Config{BaseFee: 10}
	require.EqualValues(t, 0, cfg.AcceptFee(0))
	require.EqualValues(t, 100, cfg.AcceptFee(10))
	require.EqualValues(t, 200, cfg.AcceptFee(20))
}
