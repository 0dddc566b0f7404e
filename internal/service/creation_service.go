package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"

	"github.com/alanyoungcy/optionsd/internal/domain"
	"github.com/alanyoungcy/optionsd/internal/market"
	"github.com/alanyoungcy/optionsd/internal/notify"
)

// ListingRoute is where a client goes after closing a draft.
const ListingRoute = "/options"

// DefaultConfirmTimeout bounds the background wait for a createMarket
// transaction to be mined.
const DefaultConfirmTimeout = 5 * time.Minute

// MarketCreator submits createMarket to the market manager.
type MarketCreator interface {
	Creator() common.Address
	SendCreate(ctx context.Context, req domain.CreationRequest) (*types.Transaction, error)
	Confirm(ctx context.Context, tx *types.Transaction) (string, *domain.Receipt, error)
}

// CreationArchiver stores the submitted request payload.
type CreationArchiver interface {
	ArchiveCreation(ctx context.Context, req domain.CreationRequest) (string, error)
}

// OptionalTime is a JSON field that distinguishes "absent" from null.
type OptionalTime struct {
	Set   bool
	Value *time.Time
}

// UnmarshalJSON records that the field was present. null clears it.
func (o *OptionalTime) UnmarshalJSON(b []byte) error {
	o.Set = true
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		o.Value = nil
		return nil
	}
	var t time.Time
	if err := json.Unmarshal(b, &t); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidDraft, err)
	}
	o.Value = &t
	return nil
}

// DraftPatch is a set of field changes. Nil pointers and unset times leave
// the field alone. An empty asset symbol clears the asset.
type DraftPatch struct {
	UnderlyingAsset *string      `json:"underlying_asset"`
	StrikePrice     *string      `json:"strike_price"`
	BiddingEnd      OptionalTime `json:"bidding_end"`
	Maturity        OptionalTime `json:"maturity"`
	LongPercent     *int         `json:"long_percent"`
	FundingAmount   *string      `json:"funding_amount"`
}

// DraftState is a draft together with its derived preview.
type DraftState struct {
	ID              string         `json:"id"`
	Draft           market.Draft   `json:"draft"`
	Preview         market.Preview `json:"preview"`
	MaturityCleared bool           `json:"maturity_cleared,omitempty"`
}

// CloseResult tells the client where to go after closing a draft.
type CloseResult struct {
	Navigate string `json:"navigate"`
}

type draftEntry struct {
	draft   *market.Draft
	touched time.Time
	// submitting is set while Submit owns the draft.
	submitting bool
}

// CreationService owns in-progress market drafts and turns complete ones
// into creation requests.
type CreationService struct {
	assets   *AssetService
	fees     domain.FeeSchedule
	requests domain.CreationStore
	markets  domain.MarketStore
	audit    domain.AuditStore
	archive  CreationArchiver
	manager  MarketCreator
	bus      domain.SignalBus
	notifier *notify.Notifier
	logger   *slog.Logger

	creator        string
	confirmTimeout time.Duration
	now            func() time.Time

	mu     sync.Mutex
	drafts map[string]*draftEntry
	wg     sync.WaitGroup
}

// CreationDeps groups the CreationService collaborators. Archive, Manager,
// Bus, Markets and Notifier may be nil.
type CreationDeps struct {
	Assets   *AssetService
	Fees     domain.FeeSchedule
	Requests domain.CreationStore
	Markets  domain.MarketStore
	Audit    domain.AuditStore
	Archive  CreationArchiver
	Manager  MarketCreator
	Bus      domain.SignalBus
	Notifier *notify.Notifier
	// Creator is recorded on requests when no manager is configured.
	Creator string
}

// NewCreationService creates a CreationService.
func NewCreationService(deps CreationDeps, logger *slog.Logger) *CreationService {
	creator := deps.Creator
	if deps.Manager != nil {
		creator = deps.Manager.Creator().Hex()
	}
	return &CreationService{
		assets:         deps.Assets,
		fees:           deps.Fees,
		requests:       deps.Requests,
		markets:        deps.Markets,
		audit:          deps.Audit,
		archive:        deps.Archive,
		manager:        deps.Manager,
		bus:            deps.Bus,
		notifier:       deps.Notifier,
		logger:         logger.With(slog.String("component", "creation_service")),
		creator:        creator,
		confirmTimeout: DefaultConfirmTimeout,
		now:            time.Now,
		drafts:         make(map[string]*draftEntry),
	}
}

// SetConfirmTimeout overrides DefaultConfirmTimeout.
func (s *CreationService) SetConfirmTimeout(d time.Duration) {
	s.confirmTimeout = d
}

// DraftChannel is the bus channel carrying updates for one draft.
func DraftChannel(id string) string {
	return "optionsd:draft:" + id
}

// CreationChannel is the bus channel carrying the outcome of one request.
func CreationChannel(id string) string {
	return "optionsd:creation:" + id
}

// CreateDraft starts an empty draft.
func (s *CreationService) CreateDraft(ctx context.Context) DraftState {
	id := uuid.NewString()
	d := market.NewDraft()

	s.mu.Lock()
	s.drafts[id] = &draftEntry{draft: d, touched: s.now()}
	state := s.stateLocked(id, d)
	s.mu.Unlock()

	s.logger.DebugContext(ctx, "creation_service: draft created", slog.String("draft_id", id))
	return state
}

// GetDraft returns the draft and its preview.
func (s *CreationService) GetDraft(ctx context.Context, id string) (DraftState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.drafts[id]
	if !ok {
		return DraftState{}, fmt.Errorf("creation_service: draft %q: %w", id, domain.ErrNotFound)
	}
	return s.stateLocked(id, e.draft), nil
}

// UpdateDraft applies patch. The patch is all-or-nothing: when any field is
// rejected the draft is left as it was.
func (s *CreationService) UpdateDraft(ctx context.Context, id string, patch DraftPatch) (DraftState, error) {
	s.mu.Lock()
	e, ok := s.drafts[id]
	if !ok {
		s.mu.Unlock()
		return DraftState{}, fmt.Errorf("creation_service: draft %q: %w", id, domain.ErrNotFound)
	}
	if e.submitting {
		s.mu.Unlock()
		return DraftState{}, fmt.Errorf("creation_service: update draft %q: %w", id, domain.ErrSubmitInFlight)
	}
	next := *e.draft
	cleared, err := s.apply(&next, patch)
	if err != nil {
		s.mu.Unlock()
		return DraftState{}, fmt.Errorf("creation_service: update draft %q: %w", id, err)
	}
	*e.draft = next
	e.touched = s.now()
	state := s.stateLocked(id, e.draft)
	state.MaturityCleared = cleared
	s.mu.Unlock()

	s.publishEvent(ctx, DraftChannel(id), Event{Type: EventDraftUpdated, Key: id, Data: state})
	return state, nil
}

func (s *CreationService) apply(d *market.Draft, p DraftPatch) (maturityCleared bool, err error) {
	if p.UnderlyingAsset != nil {
		if *p.UnderlyingAsset == "" {
			d.SetUnderlyingAsset(nil)
		} else {
			a, ok := s.assets.IsSelectable(*p.UnderlyingAsset)
			if !ok {
				return false, fmt.Errorf("%w: asset %q is not selectable", domain.ErrInvalidDraft, *p.UnderlyingAsset)
			}
			d.SetUnderlyingAsset(&a)
		}
	}
	if p.StrikePrice != nil {
		d.SetStrikePrice(*p.StrikePrice)
	}
	if p.FundingAmount != nil {
		d.SetFundingAmount(*p.FundingAmount)
	}
	if p.LongPercent != nil {
		if *p.LongPercent < 0 || *p.LongPercent > 100 {
			return false, fmt.Errorf("%w: long percent %d outside 0..100", domain.ErrInvalidDraft, *p.LongPercent)
		}
		d.SetSkew(*p.LongPercent)
	}
	if p.BiddingEnd.Set {
		maturityCleared = d.SetBiddingEnd(p.BiddingEnd.Value)
	}
	if p.Maturity.Set {
		if err := d.SetMaturity(p.Maturity.Value); err != nil {
			return false, err
		}
		maturityCleared = false
	}
	return maturityCleared, nil
}

// CloseDraft discards the draft.
func (s *CreationService) CloseDraft(ctx context.Context, id string) (CloseResult, error) {
	s.mu.Lock()
	_, ok := s.drafts[id]
	delete(s.drafts, id)
	s.mu.Unlock()
	if !ok {
		return CloseResult{}, fmt.Errorf("creation_service: draft %q: %w", id, domain.ErrNotFound)
	}
	s.logger.DebugContext(ctx, "creation_service: draft closed", slog.String("draft_id", id))
	return CloseResult{Navigate: ListingRoute}, nil
}

// PruneDrafts drops drafts untouched for longer than maxIdle and returns
// how many were dropped.
func (s *CreationService) PruneDrafts(maxIdle time.Duration) int {
	cutoff := s.now().Add(-maxIdle)
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, e := range s.drafts {
		if !e.submitting && e.touched.Before(cutoff) {
			delete(s.drafts, id)
			n++
		}
	}
	return n
}

func (s *CreationService) stateLocked(id string, d *market.Draft) DraftState {
	return DraftState{
		ID:      id,
		Draft:   *d,
		Preview: market.BuildPreview(d, s.assets.Directory(), s.fees, s.now()),
	}
}

// Submit turns a complete draft into a creation request. The request is
// persisted and archived first. With a market manager configured the
// createMarket transaction is sent and confirmed in the background;
// otherwise the request stays pending. The draft is consumed on success
// and claimed while the submission runs: concurrent submits of the same
// draft get ErrSubmitInFlight.
func (s *CreationService) Submit(ctx context.Context, id string) (domain.CreationRequest, error) {
	s.mu.Lock()
	e, ok := s.drafts[id]
	if !ok {
		s.mu.Unlock()
		return domain.CreationRequest{}, fmt.Errorf("creation_service: draft %q: %w", id, domain.ErrNotFound)
	}
	if e.submitting {
		s.mu.Unlock()
		return domain.CreationRequest{}, fmt.Errorf("creation_service: submit %q: %w", id, domain.ErrSubmitInFlight)
	}
	e.submitting = true
	snapshot := *e.draft
	s.mu.Unlock()

	req, err := snapshot.Request(s.creator)
	if err != nil {
		s.release(e)
		return domain.CreationRequest{}, fmt.Errorf("creation_service: submit %q: %w", id, err)
	}
	now := s.now().UTC()
	req.ID = uuid.NewString()
	req.Status = domain.CreationStatusPending
	req.CreatedAt = now
	req.UpdatedAt = now

	if err := s.requests.Create(ctx, req); err != nil {
		s.release(e)
		return domain.CreationRequest{}, fmt.Errorf("creation_service: persist request: %w", err)
	}
	s.logAudit(ctx, "creation.requested", map[string]any{
		"request_id": req.ID,
		"asset":      req.Asset,
		"strike":     req.StrikePrice.String(),
		"funding":    req.InitialFunding.String(),
	})
	if s.archive != nil {
		if _, err := s.archive.ArchiveCreation(ctx, req); err != nil {
			s.logger.WarnContext(ctx, "creation_service: archive failed",
				slog.String("request_id", req.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	if s.manager != nil {
		tx, err := s.manager.SendCreate(ctx, req)
		if err != nil {
			s.release(e)
			s.fail(ctx, &req, err)
			return req, fmt.Errorf("creation_service: send createMarket: %w", err)
		}
		req.Status = domain.CreationStatusSubmitted
		req.TxHash = tx.Hash().Hex()
		if err := s.requests.UpdateStatus(ctx, req.ID, req.Status, req.TxHash, ""); err != nil {
			s.logger.ErrorContext(ctx, "creation_service: record submitted status",
				slog.String("request_id", req.ID),
				slog.String("error", err.Error()),
			)
		}
		s.wg.Add(1)
		go s.awaitConfirmation(context.WithoutCancel(ctx), req, tx)
	}

	s.mu.Lock()
	delete(s.drafts, id)
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "creation_service: request submitted",
		slog.String("request_id", req.ID),
		slog.String("asset", req.Asset),
		slog.String("status", string(req.Status)),
	)
	s.publishEvent(ctx, DraftChannel(id), Event{Type: EventDraftSubmitted, Key: id, Data: req})
	return req, nil
}

// release hands a claimed draft back after a submit that sent nothing.
func (s *CreationService) release(e *draftEntry) {
	s.mu.Lock()
	e.submitting = false
	e.touched = s.now()
	s.mu.Unlock()
}

func (s *CreationService) awaitConfirmation(ctx context.Context, req domain.CreationRequest, tx *types.Transaction) {
	defer s.wg.Done()
	if s.confirmTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.confirmTimeout)
		defer cancel()
	}

	addr, receipt, err := s.manager.Confirm(ctx, tx)
	if err != nil {
		s.fail(ctx, &req, err)
		return
	}
	if err := s.requests.Confirm(ctx, req.ID, receipt.TxHash, addr); err != nil {
		s.logger.ErrorContext(ctx, "creation_service: record confirmation",
			slog.String("request_id", req.ID),
			slog.String("error", err.Error()),
		)
	}
	if s.markets != nil {
		now := s.now().UTC()
		m := domain.OptionsMarket{
			Address:     addr,
			Asset:       req.Asset,
			StrikePrice: req.StrikePrice,
			BiddingEnd:  req.BiddingEnd,
			Maturity:    req.Maturity,
			Phase:       domain.PhaseBidding,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := s.markets.Upsert(ctx, m); err != nil {
			s.logger.WarnContext(ctx, "creation_service: upsert market",
				slog.String("market", addr),
				slog.String("error", err.Error()),
			)
		}
	}
	s.logAudit(ctx, "creation.confirmed", map[string]any{
		"request_id": req.ID,
		"market":     addr,
		"tx_hash":    receipt.TxHash,
		"block":      receipt.BlockNumber,
	})
	s.logger.InfoContext(ctx, "creation_service: market created",
		slog.String("request_id", req.ID),
		slog.String("market", addr),
		slog.String("tx", receipt.TxHash),
	)
	req.Status = domain.CreationStatusConfirmed
	req.MarketAddress = addr
	s.publishEvent(ctx, CreationChannel(req.ID), Event{Type: EventCreationResolved, Key: req.ID, Data: req})
	if err := s.notifier.Notify(ctx, notify.EventMarketCreated, "Market created",
		"asset", req.Asset,
		"strike", req.StrikePrice.String(),
		"market", addr,
		"tx", receipt.TxHash,
	); err != nil {
		s.logger.WarnContext(ctx, "creation_service: notify failed", slog.String("error", err.Error()))
	}
}

func (s *CreationService) fail(ctx context.Context, req *domain.CreationRequest, cause error) {
	req.Status = domain.CreationStatusFailed
	req.Error = cause.Error()
	if err := s.requests.UpdateStatus(ctx, req.ID, req.Status, req.TxHash, req.Error); err != nil {
		s.logger.ErrorContext(ctx, "creation_service: record failure",
			slog.String("request_id", req.ID),
			slog.String("error", err.Error()),
		)
	}
	s.logAudit(ctx, "creation.failed", map[string]any{
		"request_id": req.ID,
		"error":      req.Error,
	})
	s.logger.ErrorContext(ctx, "creation_service: createMarket failed",
		slog.String("request_id", req.ID),
		slog.String("error", cause.Error()),
	)
	s.publishEvent(ctx, CreationChannel(req.ID), Event{Type: EventCreationResolved, Key: req.ID, Data: *req})
	title := "Market creation failed"
	if errors.Is(cause, domain.ErrTxReverted) {
		title = "Market creation reverted"
	}
	if err := s.notifier.Notify(ctx, notify.EventCreationFailed, title,
		"request", req.ID,
		"asset", req.Asset,
		"error", req.Error,
	); err != nil {
		s.logger.WarnContext(ctx, "creation_service: notify failed", slog.String("error", err.Error()))
	}
}

// GetRequest returns a stored creation request.
func (s *CreationService) GetRequest(ctx context.Context, id string) (domain.CreationRequest, error) {
	req, err := s.requests.GetByID(ctx, id)
	if err != nil {
		return domain.CreationRequest{}, fmt.Errorf("creation_service: get request %q: %w", id, err)
	}
	return req, nil
}

// ListRequests returns recent creation requests, newest first.
func (s *CreationService) ListRequests(ctx context.Context, opts domain.ListOpts) ([]domain.CreationRequest, error) {
	reqs, err := s.requests.ListRecent(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("creation_service: list requests: %w", err)
	}
	return reqs, nil
}

// Wait blocks until background confirmations have finished.
func (s *CreationService) Wait() {
	s.wg.Wait()
}

func (s *CreationService) logAudit(ctx context.Context, event string, detail map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "creation_service: audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func (s *CreationService) publishEvent(ctx context.Context, channel string, ev Event) {
	publishEvent(ctx, s.bus, s.logger, channel, ev)
}
