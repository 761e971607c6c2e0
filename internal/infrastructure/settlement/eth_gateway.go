package settlement

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// transferGasLimit はネイティブ送金のガス上限
const transferGasLimit = 21000

// chainBackend は EthGateway が使う RPC 操作
type chainBackend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// EthConfig は EthGateway の設定
type EthConfig struct {
	RPCURL        string
	PrivateKeyHex string
}

// EthGateway は預かり用ウォレットからネイティブ通貨で払い出す
// 金額は最小単位（wei）で扱う。送信済みトランザクションは取り消せないため Reverter は実装しない
type EthGateway struct {
	backend chainBackend
	key     *ecdsa.PrivateKey
	from    common.Address
	signer  types.Signer

	mu sync.Mutex // nonce の取得から送信までを直列化する
}

// NewEthGateway は RPC に接続して EthGateway を作成する
func NewEthGateway(ctx context.Context, cfg EthConfig) (*EthGateway, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("rpc url is required")
	}
	cli, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	gw, err := newEthGateway(ctx, cli, cfg.PrivateKeyHex)
	if err != nil {
		cli.Close()
		return nil, err
	}
	return gw, nil
}

func newEthGateway(ctx context.Context, backend chainBackend, privateKeyHex string) (*EthGateway, error) {
	if privateKeyHex == "" {
		return nil, fmt.Errorf("private key is required for payouts")
	}
	key, err := parsePrivateKey(privateKeyHex)
	if err != nil {
		return nil, err
	}
	chainID, err := backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch chain id: %w", err)
	}
	return &EthGateway{
		backend: backend,
		key:     key,
		from:    crypto.PubkeyToAddress(key.PublicKey),
		signer:  types.LatestSignerForChainID(chainID),
	}, nil
}

func parsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	hexKey = strings.TrimPrefix(hexKey, "0x")
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return key, nil
}

// Address は預かり用ウォレットのアドレス
func (g *EthGateway) Address() string {
	return g.from.Hex()
}

func (g *EthGateway) Disburse(ctx context.Context, payout Payout) (Receipt, error) {
	if err := payout.Validate(); err != nil {
		return Receipt{}, err
	}
	if !common.IsHexAddress(payout.Recipient) {
		return Receipt{}, fmt.Errorf("%w: %s", ErrInvalidRecipient, payout.Recipient)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	nonce, err := g.backend.PendingNonceAt(ctx, g.from)
	if err != nil {
		return Receipt{}, fmt.Errorf("fetch nonce: %w", err)
	}
	gasPrice, err := g.backend.SuggestGasPrice(ctx)
	if err != nil {
		return Receipt{}, fmt.Errorf("suggest gas price: %w", err)
	}

	to := common.HexToAddress(payout.Recipient)
	tx, err := types.SignTx(types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    big.NewInt(payout.Amount),
		Gas:      transferGasLimit,
		GasPrice: gasPrice,
	}), g.signer, g.key)
	if err != nil {
		return Receipt{}, fmt.Errorf("sign payout: %w", err)
	}
	if err := g.backend.SendTransaction(ctx, tx); err != nil {
		return Receipt{}, fmt.Errorf("%w: %v", ErrPayoutRejected, err)
	}
	return Receipt{Reference: payout.Reference, TxHash: tx.Hash().Hex()}, nil
}

// Ping は RPC の疎通を確認する
func (g *EthGateway) Ping(ctx context.Context) error {
	_, err := g.backend.BlockNumber(ctx)
	return err
}

var _ Gateway = (*EthGateway)(nil)
