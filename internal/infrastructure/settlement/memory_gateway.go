package settlement

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
)

// MemoryGateway はプロセス内で払い出しを記録する Gateway
// 受取人ごとの送金済み額を保持し、取り消しにも対応する
type MemoryGateway struct {
	mu       sync.Mutex
	paid     map[string]int64
	receipts map[string]Payout
	failNext error
}

func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{
		paid:     make(map[string]int64),
		receipts: make(map[string]Payout),
	}
}

func (g *MemoryGateway) Disburse(_ context.Context, payout Payout) (Receipt, error) {
	if err := payout.Validate(); err != nil {
		return Receipt{}, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.failNext != nil {
		err := g.failNext
		g.failNext = nil
		return Receipt{}, fmt.Errorf("%w: %v", ErrPayoutRejected, err)
	}

	hash := fakeHash(payout.Reference + payout.Recipient)
	g.paid[payout.Recipient] += payout.Amount
	g.receipts[hash] = payout
	return Receipt{Reference: payout.Reference, TxHash: hash}, nil
}

func (g *MemoryGateway) Revert(_ context.Context, receipt Receipt) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	payout, ok := g.receipts[receipt.TxHash]
	if !ok {
		return fmt.Errorf("送金 %s が見つかりません", receipt.TxHash)
	}
	g.paid[payout.Recipient] -= payout.Amount
	delete(g.receipts, receipt.TxHash)
	return nil
}

// FailNext は次の1回の払い出しを err で失敗させる
func (g *MemoryGateway) FailNext(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failNext = err
}

// PaidTo は recipient への送金済み額を返す
func (g *MemoryGateway) PaidTo(recipient string) int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.paid[recipient]
}

func fakeHash(input string) string {
	sum := sha256.Sum256([]byte(input))
	return "0x" + hex.EncodeToString(sum[:])
}

var (
	_ Gateway  = (*MemoryGateway)(nil)
	_ Reverter = (*MemoryGateway)(nil)
)
