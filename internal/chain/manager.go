package chain

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/optionsd/internal/domain"
)

// Manager is a binding to the market manager contract that deploys new
// binary option markets.
type Manager struct {
	address        common.Address
	backend        Backend
	contract       *bind.BoundContract
	transactor     *bind.TransactOpts
	refundsEnabled bool
	mineTimeout    time.Duration
}

// NewManager binds the manager at address. Markets are created from the
// transactor's account.
func NewManager(address common.Address, backend Backend, transactor *bind.TransactOpts, refundsEnabled bool) *Manager {
	return &Manager{
		address:        address,
		backend:        backend,
		contract:       bind.NewBoundContract(address, marketManagerABIParsed, backend, backend, backend),
		transactor:     transactor,
		refundsEnabled: refundsEnabled,
		mineTimeout:    DefaultMineTimeout,
	}
}

// SetMineTimeout overrides DefaultMineTimeout. Zero waits indefinitely.
func (m *Manager) SetMineTimeout(d time.Duration) { m.mineTimeout = d }

// Creator returns the address markets are created from.
func (m *Manager) Creator() common.Address { return m.transactor.From }

// SendCreate submits createMarket for req without waiting for it to be
// mined and returns the transaction.
func (m *Manager) SendCreate(ctx context.Context, req domain.CreationRequest) (*types.Transaction, error) {
	times := [2]*big.Int{
		big.NewInt(req.BiddingEnd.Unix()),
		big.NewInt(req.Maturity.Unix()),
	}
	bids := [2]*big.Int{ToWei(req.LongBid), ToWei(req.ShortBid)}

	opts := *m.transactor
	opts.Context = ctx
	tx, err := m.contract.Transact(&opts, "createMarket",
		OracleKey(req.Asset), ToWei(req.StrikePrice), m.refundsEnabled, times, bids)
	if err != nil {
		return nil, fmt.Errorf("chain: send createMarket: %w", err)
	}
	return tx, nil
}

// Confirm waits for a createMarket transaction and extracts the new market
// address from its MarketCreated event.
func (m *Manager) Confirm(ctx context.Context, tx *types.Transaction) (string, *domain.Receipt, error) {
	raw, rcpt, err := waitMined(ctx, m.backend, tx, m.mineTimeout)
	if err != nil {
		return "", rcpt, err
	}
	market, err := marketFromLogs(raw.Logs)
	if err != nil {
		return "", rcpt, err
	}
	return market, rcpt, nil
}

// CreateMarket submits createMarket and waits for confirmation.
func (m *Manager) CreateMarket(ctx context.Context, req domain.CreationRequest) (string, *domain.Receipt, error) {
	tx, err := m.SendCreate(ctx, req)
	if err != nil {
		return "", nil, err
	}
	return m.Confirm(ctx, tx)
}

func marketFromLogs(logs []*types.Log) (string, error) {
	event := marketManagerABIParsed.Events["MarketCreated"]
	for _, lg := range logs {
		if lg == nil || len(lg.Topics) == 0 || lg.Topics[0] != event.ID {
			continue
		}
		values, err := marketManagerABIParsed.Unpack("MarketCreated", lg.Data)
		if err != nil {
			return "", fmt.Errorf("chain: unpack MarketCreated: %w", err)
		}
		addr, ok := values[0].(common.Address)
		if !ok {
			return "", fmt.Errorf("chain: MarketCreated market field has type %T", values[0])
		}
		return addr.Hex(), nil
	}
	return "", fmt.Errorf("chain: no MarketCreated event in receipt")
}
