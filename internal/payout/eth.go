package payout

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log/slog"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/alanyoungcy/stakefund/internal/domain"
)

// nativeTransferGas is the fixed gas cost of a plain value transfer.
const nativeTransferGas = 21000

// EthRail pays transfers as native-token transactions signed with the
// treasury key. Sends are serialised so nonces are assigned in order.
type EthRail struct {
	client   *ethclient.Client
	key      *ecdsa.PrivateKey
	from     common.Address
	chainID  *big.Int
	maxPrice *big.Int // nil means no cap
	mu       sync.Mutex
	logger   *slog.Logger
}

// DialEthRail connects to rpcURL and prepares a rail paying from the account
// of privateKeyHex (without 0x). maxGasPriceGwei caps the gas price; zero
// disables the cap.
func DialEthRail(ctx context.Context, rpcURL, privateKeyHex string, maxGasPriceGwei int64, logger *slog.Logger) (*EthRail, error) {
	key, err := ethcrypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("payout/eth: parse key: %w", err)
	}
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("payout/eth: dial %s: %w", rpcURL, err)
	}
	chainID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("payout/eth: chain id: %w", err)
	}

	r := &EthRail{
		client:  client,
		key:     key,
		from:    ethcrypto.PubkeyToAddress(key.PublicKey),
		chainID: chainID,
		logger:  logger.With(slog.String("component", "eth_rail")),
	}
	if maxGasPriceGwei > 0 {
		r.maxPrice = new(big.Int).Mul(big.NewInt(maxGasPriceGwei), big.NewInt(1_000_000_000))
	}
	r.logger.InfoContext(ctx, "eth rail ready",
		slog.String("from", r.from.Hex()),
		slog.String("chain_id", chainID.String()),
	)
	return r, nil
}

// From returns the paying account.
func (r *EthRail) From() common.Address { return r.from }

// Pay implements domain.Payer. It returns the transaction hash once the
// transaction is accepted by the node; it does not wait for inclusion.
func (r *EthRail) Pay(ctx context.Context, t domain.Transfer) (string, error) {
	value, ok := new(big.Int).SetString(domain.ToWei(t.Amount), 10)
	if !ok || value.Sign() <= 0 {
		return "", fmt.Errorf("payout/eth: invalid amount %s", t.Amount)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	nonce, err := r.client.PendingNonceAt(ctx, r.from)
	if err != nil {
		return "", fmt.Errorf("payout/eth: nonce: %w", err)
	}
	gasPrice, err := r.client.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("payout/eth: gas price: %w", err)
	}
	if r.maxPrice != nil && gasPrice.Cmp(r.maxPrice) > 0 {
		return "", fmt.Errorf("payout/eth: gas price %s wei above cap %s", gasPrice, r.maxPrice)
	}

	to := t.To
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    value,
		Gas:      nativeTransferGas,
		GasPrice: gasPrice,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(r.chainID), r.key)
	if err != nil {
		return "", fmt.Errorf("payout/eth: %w: %v", domain.ErrSigningFailed, err)
	}
	if err := r.client.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("payout/eth: send: %w", err)
	}

	hash := signed.Hash().Hex()
	r.logger.InfoContext(ctx, "transfer broadcast",
		slog.String("transfer_id", t.ID),
		slog.String("to", to.Hex()),
		slog.String("wei", value.String()),
		slog.Uint64("nonce", nonce),
		slog.String("tx_hash", hash),
	)
	return hash, nil
}

// Close releases the RPC connection.
func (r *EthRail) Close() {
	r.client.Close()
}

var _ domain.Payer = (*EthRail)(nil)
