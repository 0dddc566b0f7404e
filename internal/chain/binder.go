package chain

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/optionsd/internal/domain"
)

// ParseAddress validates a hex account or contract address.
func ParseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("chain: %q: %w", s, domain.ErrInvalidAddress)
	}
	return common.HexToAddress(s), nil
}

// Binder opens per-account market bindings against one backend. Bindings
// for the transactor's own account can submit; any other account gets a
// read-only binding.
type Binder struct {
	backend     Backend
	transactor  *bind.TransactOpts
	mineTimeout time.Duration
}

// NewBinder creates a Binder. transactor may be nil.
func NewBinder(backend Backend, transactor *bind.TransactOpts, mineTimeout time.Duration) *Binder {
	return &Binder{backend: backend, transactor: transactor, mineTimeout: mineTimeout}
}

// Bind returns the binding of market for account.
func (b *Binder) Bind(market, account string) (*AccountMarket, error) {
	marketAddr, err := ParseAddress(market)
	if err != nil {
		return nil, err
	}
	accountAddr, err := ParseAddress(account)
	if err != nil {
		return nil, err
	}
	var tx *bind.TransactOpts
	if b.transactor != nil && b.transactor.From == accountAddr {
		tx = b.transactor
	}
	m, err := NewOptionMarket(marketAddr, accountAddr, b.backend, tx)
	if err != nil {
		return nil, err
	}
	if b.mineTimeout > 0 {
		m.SetMineTimeout(b.mineTimeout)
	}
	return &AccountMarket{market: m, account: accountAddr}, nil
}

// AccountMarket is an OptionMarket with its account fixed, so snapshots
// need no arguments.
type AccountMarket struct {
	market  *OptionMarket
	account common.Address
}

// EstimateExercise delegates to OptionMarket.EstimateExercise.
func (a *AccountMarket) EstimateExercise(ctx context.Context) (uint64, error) {
	return a.market.EstimateExercise(ctx)
}

// SubmitExercise delegates to OptionMarket.SubmitExercise.
func (a *AccountMarket) SubmitExercise(ctx context.Context, gasLimit uint64) (*domain.Receipt, error) {
	return a.market.SubmitExercise(ctx, gasLimit)
}

// Snapshot reads the bound account's view of the market.
func (a *AccountMarket) Snapshot(ctx context.Context) (domain.AccountMarketInfo, error) {
	return a.market.Snapshot(ctx, a.account)
}

// Info reads the market metadata.
func (a *AccountMarket) Info(ctx context.Context) (domain.OptionsMarket, error) {
	return a.market.Info(ctx)
}

// CanSubmit reports whether the binding holds a signer.
func (a *AccountMarket) CanSubmit() bool {
	return a.market.transactor != nil
}
