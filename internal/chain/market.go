package chain

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/optionsd/internal/domain"
)

// DefaultMineTimeout bounds how long SubmitExercise waits for a receipt.
const DefaultMineTimeout = 3 * time.Minute

// OptionMarket is a binding to a single deployed binary option market,
// scoped to one account. The account is used as the sender for gas
// estimation and, when a transactor is supplied, for submission.
type OptionMarket struct {
	address     common.Address
	account     common.Address
	backend     Backend
	contract    *bind.BoundContract
	transactor  *bind.TransactOpts
	mineTimeout time.Duration
}

// NewOptionMarket binds the market at address for account. transactor may
// be nil, in which case the binding is read-only and SubmitExercise fails
// with domain.ErrUnauthorized. A transactor for a different address than
// account is rejected.
func NewOptionMarket(address, account common.Address, backend Backend, transactor *bind.TransactOpts) (*OptionMarket, error) {
	if transactor != nil && transactor.From != account {
		return nil, fmt.Errorf("chain: signer %s cannot act for %s: %w", transactor.From.Hex(), account.Hex(), domain.ErrUnauthorized)
	}
	return &OptionMarket{
		address:     address,
		account:     account,
		backend:     backend,
		contract:    bind.NewBoundContract(address, optionMarketABIParsed, backend, backend, backend),
		transactor:  transactor,
		mineTimeout: DefaultMineTimeout,
	}, nil
}

// SetMineTimeout overrides DefaultMineTimeout. Zero waits indefinitely.
func (m *OptionMarket) SetMineTimeout(d time.Duration) { m.mineTimeout = d }

// Address returns the market contract address.
func (m *OptionMarket) Address() common.Address { return m.address }

// EstimateExercise asks the node for the gas an exerciseOptions call from
// the bound account would use.
func (m *OptionMarket) EstimateExercise(ctx context.Context) (uint64, error) {
	data, err := optionMarketABIParsed.Pack("exerciseOptions")
	if err != nil {
		return 0, fmt.Errorf("chain: pack exerciseOptions: %w", err)
	}
	to := m.address
	gas, err := m.backend.EstimateGas(ctx, ethereum.CallMsg{
		From: m.account,
		To:   &to,
		Data: data,
	})
	if err != nil {
		return 0, fmt.Errorf("chain: estimate exerciseOptions: %w", err)
	}
	return gas, nil
}

// SubmitExercise sends exerciseOptions with the given gas limit and waits
// for it to be mined. ctx governs the send only; once broadcast, the wait is
// bounded by the mine timeout alone. When the wait fails the returned
// receipt carries at least the transaction hash.
func (m *OptionMarket) SubmitExercise(ctx context.Context, gasLimit uint64) (*domain.Receipt, error) {
	if m.transactor == nil {
		return nil, fmt.Errorf("chain: no signer for %s: %w", m.account.Hex(), domain.ErrUnauthorized)
	}
	opts := *m.transactor
	opts.Context = ctx
	opts.GasLimit = gasLimit

	tx, err := m.contract.Transact(&opts, "exerciseOptions")
	if err != nil {
		return nil, fmt.Errorf("chain: send exerciseOptions: %w", err)
	}
	waitCtx := ctx
	if m.mineTimeout > 0 {
		waitCtx = context.WithoutCancel(ctx)
	}
	_, rcpt, err := waitMined(waitCtx, m.backend, tx, m.mineTimeout)
	if err != nil {
		if rcpt == nil {
			rcpt = &domain.Receipt{TxHash: tx.Hash().Hex()}
		}
		return rcpt, err
	}
	return rcpt, nil
}

// Info reads the market-level state: phase, result, oracle details and
// lifecycle timestamps.
func (m *OptionMarket) Info(ctx context.Context) (domain.OptionsMarket, error) {
	opts := &bind.CallOpts{Context: ctx}
	market := domain.OptionsMarket{Address: m.address.Hex()}

	out, err := m.call(opts, "times")
	if err != nil {
		return market, err
	}
	market.BiddingEnd = unixTime(out[0].(*big.Int))
	market.Maturity = unixTime(out[1].(*big.Int))
	market.Expiry = unixTime(out[2].(*big.Int))

	out, err = m.call(opts, "oracleDetails")
	if err != nil {
		return market, err
	}
	key := out[0].([32]byte)
	market.Asset = symbolFromKey(key)
	market.StrikePrice = FromWei(out[1].(*big.Int))

	out, err = m.call(opts, "phase")
	if err != nil {
		return market, err
	}
	market.Phase = phaseFromUint(out[0].(uint8))

	out, err = m.call(opts, "result")
	if err != nil {
		return market, err
	}
	market.Result = sideFromUint(out[0].(uint8))
	return market, nil
}

// Snapshot reads the per-account view of the market for account: claimable
// balances, bids, the current result and the maturity date.
func (m *OptionMarket) Snapshot(ctx context.Context, account common.Address) (domain.AccountMarketInfo, error) {
	opts := &bind.CallOpts{Context: ctx}
	info := domain.AccountMarketInfo{
		Market:  m.address.Hex(),
		Account: account.Hex(),
	}

	out, err := m.call(opts, "claimableBalancesOf", account)
	if err != nil {
		return info, err
	}
	info.Claimable = domain.LongShort{Long: FromWei(out[0].(*big.Int)), Short: FromWei(out[1].(*big.Int))}

	out, err = m.call(opts, "bidsOf", account)
	if err != nil {
		return info, err
	}
	info.Bids = domain.LongShort{Long: FromWei(out[0].(*big.Int)), Short: FromWei(out[1].(*big.Int))}

	out, err = m.call(opts, "result")
	if err != nil {
		return info, err
	}
	info.Result = sideFromUint(out[0].(uint8))

	out, err = m.call(opts, "times")
	if err != nil {
		return info, err
	}
	info.TimeRemaining = unixTime(out[1].(*big.Int))
	info.FetchedAt = time.Now().UTC()
	return info, nil
}

func (m *OptionMarket) call(opts *bind.CallOpts, method string, params ...interface{}) ([]interface{}, error) {
	var out []interface{}
	if err := m.contract.Call(opts, &out, method, params...); err != nil {
		return nil, fmt.Errorf("chain: call %s: %w", method, err)
	}
	return out, nil
}

func sideFromUint(v uint8) domain.Side {
	if v == 1 {
		return domain.SideShort
	}
	return domain.SideLong
}

func phaseFromUint(v uint8) domain.Phase {
	switch v {
	case 0:
		return domain.PhaseBidding
	case 1:
		return domain.PhaseTrading
	case 2:
		return domain.PhaseMaturity
	default:
		return domain.PhaseExpiry
	}
}

func symbolFromKey(key [32]byte) string {
	n := 0
	for n < len(key) && key[n] != 0 {
		n++
	}
	return string(key[:n])
}
