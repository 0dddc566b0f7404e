// Package chain binds the binary option market contracts through
// go-ethereum: read-only snapshots, gas estimation and transaction
// submission for exerciseOptions, and market creation on the manager.
package chain

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/alanyoungcy/optionsd/internal/domain"
)

// Backend is what the bindings need from a node connection. *ethclient.Client
// satisfies it.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
}

// Dial connects to an RPC endpoint and checks the chain ID matches.
func Dial(ctx context.Context, rpcURL string, chainID int64) (*ethclient.Client, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial %s: %w", rpcURL, err)
	}
	id, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("chain: chain id: %w", err)
	}
	if id.Int64() != chainID {
		client.Close()
		return nil, fmt.Errorf("chain: connected to chain %d, configured %d", id.Int64(), chainID)
	}
	return client, nil
}

// waitMined blocks until tx is mined or the timeout elapses and converts
// the receipt. A reverted transaction returns the receipt together with
// domain.ErrTxReverted.
func waitMined(ctx context.Context, backend Backend, tx *types.Transaction, timeout time.Duration) (*types.Receipt, *domain.Receipt, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	rcpt, err := bind.WaitMined(ctx, backend, tx)
	if err != nil {
		return nil, nil, fmt.Errorf("chain: wait mined %s: %w", tx.Hash().Hex(), err)
	}
	out := &domain.Receipt{
		TxHash:  rcpt.TxHash.Hex(),
		GasUsed: rcpt.GasUsed,
		Success: rcpt.Status == types.ReceiptStatusSuccessful,
	}
	if rcpt.BlockNumber != nil {
		out.BlockNumber = rcpt.BlockNumber.Uint64()
	}
	if !out.Success {
		return rcpt, out, fmt.Errorf("chain: tx %s: %w", out.TxHash, domain.ErrTxReverted)
	}
	return rcpt, out, nil
}
