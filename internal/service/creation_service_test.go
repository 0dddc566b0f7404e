package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/optionsd/internal/domain"
	"github.com/alanyoungcy/optionsd/internal/market"
	"github.com/alanyoungcy/optionsd/internal/notify"
)

func strPtr(s string) *string { return &s }
func intPtr(n int) *int       { return &n }

func at(t time.Time) OptionalTime { return OptionalTime{Set: true, Value: &t} }

func TestAssetServiceSelectable(t *testing.T) {
	dir := market.NewDirectory([]domain.Asset{
		{Symbol: "sUSD"}, {Symbol: "sETH"}, {Symbol: "iBTC", Inverted: true}, {Symbol: "sBTC"},
	})
	s := NewAssetService(dir, discardLogger())

	got := s.Selectable()
	if len(got) != 2 || got[0].Symbol != "sETH" || got[1].Symbol != "sBTC" {
		t.Fatalf("Selectable = %+v", got)
	}
	got[0].Symbol = "mutated"
	if s.Selectable()[0].Symbol != "sETH" {
		t.Error("caller mutation leaked into the memoized list")
	}

	dir.Replace([]domain.Asset{{Symbol: "sLINK"}, {Symbol: "sUSD"}})
	got = s.Selectable()
	if len(got) != 1 || got[0].Symbol != "sLINK" {
		t.Fatalf("after Replace = %+v", got)
	}
	if _, ok := s.IsSelectable("sUSD"); ok {
		t.Error("sUSD must not be selectable")
	}
}

func TestFingerprintChangesWithInversion(t *testing.T) {
	a := []domain.Asset{{Symbol: "sETH"}}
	b := []domain.Asset{{Symbol: "sETH", Inverted: true}}
	if fingerprint(a) == fingerprint(b) {
		t.Error("fingerprint ignores the inverted flag")
	}
}

func TestOptionalTimeJSON(t *testing.T) {
	var p DraftPatch
	if err := json.Unmarshal([]byte(`{"strike_price":"1800","maturity":null,"bidding_end":"2026-11-01T00:00:00Z"}`), &p); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if p.StrikePrice == nil || *p.StrikePrice != "1800" {
		t.Errorf("strike = %v", p.StrikePrice)
	}
	if !p.Maturity.Set || p.Maturity.Value != nil {
		t.Errorf("maturity null should be set and empty: %+v", p.Maturity)
	}
	if !p.BiddingEnd.Set || p.BiddingEnd.Value == nil {
		t.Errorf("bidding end = %+v", p.BiddingEnd)
	}
	if p.FundingAmount != nil || p.LongPercent != nil {
		t.Error("absent fields should stay nil")
	}

	if err := json.Unmarshal([]byte(`{"maturity":"tomorrow"}`), &p); !errors.Is(err, domain.ErrInvalidDraft) {
		t.Errorf("bad time err = %v", err)
	}
}

func newCreationService(t *testing.T, mgr MarketCreator) (*CreationService, *fakeCreationStore, *fakeAudit, *fakeArchive, *recordSender, *fakeMarketStore) {
	t.Helper()
	store := newFakeCreationStore()
	audit := &fakeAudit{}
	archive := &fakeArchive{}
	sender := &recordSender{}
	markets := newFakeMarketStore()
	s := NewCreationService(CreationDeps{
		Assets:   testAssets(),
		Fees:     domain.DefaultFeeSchedule(),
		Requests: store,
		Markets:  markets,
		Audit:    audit,
		Archive:  archive,
		Manager:  mgr,
		Bus:      newFakeBus(),
		Notifier: notify.NewNotifier([]notify.Sender{sender}, nil, discardLogger()),
		Creator:  "0x00000000000000000000000000000000000000c0",
	}, discardLogger())
	return s, store, audit, archive, sender, markets
}

func completePatch(now time.Time) DraftPatch {
	return DraftPatch{
		UnderlyingAsset: strPtr("sETH"),
		StrikePrice:     strPtr("1800"),
		BiddingEnd:      at(now.Add(48 * time.Hour)),
		Maturity:        at(now.Add(96 * time.Hour)),
		LongPercent:     intPtr(70),
		FundingAmount:   strPtr("1000"),
	}
}

func TestDraftLifecycle(t *testing.T) {
	ctx := context.Background()
	s, _, _, _, _, _ := newCreationService(t, nil)

	st := s.CreateDraft(ctx)
	if st.ID == "" || st.Draft.Skew.Long != 50 || st.Preview.CanSubmit {
		t.Fatalf("new draft = %+v", st)
	}

	st, err := s.UpdateDraft(ctx, st.ID, completePatch(time.Now()))
	if err != nil {
		t.Fatalf("UpdateDraft: %v", err)
	}
	if !st.Preview.CanSubmit || st.Draft.Skew.Short != 30 {
		t.Errorf("preview = %+v skew = %+v", st.Preview, st.Draft.Skew)
	}
	if st.Preview.Fees.Creator != "0.10%" {
		t.Errorf("creator fee = %q", st.Preview.Fees.Creator)
	}

	got, err := s.GetDraft(ctx, st.ID)
	if err != nil || got.Draft.StrikePrice != "1800" {
		t.Fatalf("GetDraft = %+v, %v", got, err)
	}

	res, err := s.CloseDraft(ctx, st.ID)
	if err != nil || res.Navigate != "/options" {
		t.Fatalf("CloseDraft = %+v, %v", res, err)
	}
	if _, err := s.CloseDraft(ctx, st.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("second close err = %v", err)
	}
	if _, err := s.GetDraft(ctx, st.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("get after close err = %v", err)
	}
}

func TestUpdateDraftIsAtomic(t *testing.T) {
	ctx := context.Background()
	s, _, _, _, _, _ := newCreationService(t, nil)
	id := s.CreateDraft(ctx).ID
	now := time.Now()

	tests := []struct {
		name  string
		patch DraftPatch
		want  error
	}{
		{"skew above 100", DraftPatch{StrikePrice: strPtr("5"), LongPercent: intPtr(101)}, domain.ErrInvalidDraft},
		{"skew below 0", DraftPatch{StrikePrice: strPtr("5"), LongPercent: intPtr(-1)}, domain.ErrInvalidDraft},
		{"stable asset", DraftPatch{StrikePrice: strPtr("5"), UnderlyingAsset: strPtr("sUSD")}, domain.ErrInvalidDraft},
		{"inverted asset", DraftPatch{StrikePrice: strPtr("5"), UnderlyingAsset: strPtr("iETH")}, domain.ErrInvalidDraft},
		{"maturity before bidding end", DraftPatch{
			StrikePrice: strPtr("5"),
			BiddingEnd:  at(now.Add(48 * time.Hour)),
			Maturity:    at(now.Add(24 * time.Hour)),
		}, domain.ErrMaturityBeforeBidding},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.UpdateDraft(ctx, id, tt.patch)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			st, _ := s.GetDraft(ctx, id)
			if st.Draft.StrikePrice != "" || st.Draft.BiddingEnd != nil {
				t.Errorf("rejected patch was partly applied: %+v", st.Draft)
			}
		})
	}

	if _, err := s.UpdateDraft(ctx, "missing", DraftPatch{}); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("missing draft err = %v", err)
	}
}

func TestUpdateDraftClearsStaleMaturity(t *testing.T) {
	ctx := context.Background()
	s, _, _, _, _, _ := newCreationService(t, nil)
	id := s.CreateDraft(ctx).ID
	now := time.Now()

	if _, err := s.UpdateDraft(ctx, id, DraftPatch{
		BiddingEnd: at(now.Add(24 * time.Hour)),
		Maturity:   at(now.Add(48 * time.Hour)),
	}); err != nil {
		t.Fatalf("UpdateDraft: %v", err)
	}
	st, err := s.UpdateDraft(ctx, id, DraftPatch{BiddingEnd: at(now.Add(72 * time.Hour))})
	if err != nil {
		t.Fatalf("UpdateDraft: %v", err)
	}
	if !st.MaturityCleared || st.Draft.Maturity != nil {
		t.Errorf("maturity should be cleared: %+v", st)
	}

	st, err = s.UpdateDraft(ctx, id, DraftPatch{BiddingEnd: OptionalTime{Set: true}})
	if err != nil {
		t.Fatalf("clear bidding end: %v", err)
	}
	if st.Draft.BiddingEnd != nil || st.Preview.TradingPeriod != "-" {
		t.Errorf("bidding end not cleared: %+v", st)
	}
}

func TestSubmitIncompleteKeepsDraft(t *testing.T) {
	ctx := context.Background()
	s, store, _, _, _, _ := newCreationService(t, nil)
	id := s.CreateDraft(ctx).ID

	if _, err := s.Submit(ctx, id); !errors.Is(err, domain.ErrDraftIncomplete) {
		t.Fatalf("err = %v, want ErrDraftIncomplete", err)
	}
	if _, err := s.GetDraft(ctx, id); err != nil {
		t.Errorf("draft dropped after refused submit: %v", err)
	}
	if len(store.reqs) != 0 {
		t.Error("incomplete draft was persisted")
	}
}

func TestSubmitRejectsNonNumericStrike(t *testing.T) {
	ctx := context.Background()
	s, _, _, _, _, _ := newCreationService(t, nil)
	id := s.CreateDraft(ctx).ID
	p := completePatch(time.Now())
	p.StrikePrice = strPtr("abc")
	if _, err := s.UpdateDraft(ctx, id, p); err != nil {
		t.Fatalf("UpdateDraft: %v", err)
	}
	if _, err := s.Submit(ctx, id); !errors.Is(err, domain.ErrInvalidDraft) {
		t.Fatalf("err = %v, want ErrInvalidDraft", err)
	}
}

func TestSubmitWithoutManagerStaysPending(t *testing.T) {
	ctx := context.Background()
	s, store, audit, archive, _, _ := newCreationService(t, nil)
	id := s.CreateDraft(ctx).ID
	if _, err := s.UpdateDraft(ctx, id, completePatch(time.Now())); err != nil {
		t.Fatalf("UpdateDraft: %v", err)
	}

	req, err := s.Submit(ctx, id)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if req.Status != domain.CreationStatusPending || req.Creator != "0x00000000000000000000000000000000000000c0" {
		t.Errorf("req = %+v", req)
	}
	if req.LongBid.String() != "700" || req.ShortBid.String() != "300" {
		t.Errorf("bids = %s / %s", req.LongBid, req.ShortBid)
	}
	if _, ok := store.reqs[req.ID]; !ok {
		t.Error("request not persisted")
	}
	if archive.creations != 1 || !audit.has("creation.requested") {
		t.Error("request not archived or audited")
	}
	if _, err := s.GetDraft(ctx, id); !errors.Is(err, domain.ErrNotFound) {
		t.Error("submitted draft should be consumed")
	}
}

func TestSubmitWithManagerConfirms(t *testing.T) {
	ctx := context.Background()
	mgr := &fakeManager{
		creator: common.HexToAddress("0x00000000000000000000000000000000000000c1"),
		address: "0x00000000000000000000000000000000000000d1",
	}
	s, store, audit, _, sender, markets := newCreationService(t, mgr)
	id := s.CreateDraft(ctx).ID
	if _, err := s.UpdateDraft(ctx, id, completePatch(time.Now())); err != nil {
		t.Fatalf("UpdateDraft: %v", err)
	}

	req, err := s.Submit(ctx, id)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if req.Status != domain.CreationStatusSubmitted || req.TxHash == "" {
		t.Errorf("req = %+v", req)
	}
	if req.Creator != mgr.creator.Hex() {
		t.Errorf("creator = %s, want manager signer", req.Creator)
	}
	s.Wait()

	stored, _ := store.GetByID(ctx, req.ID)
	if stored.Status != domain.CreationStatusConfirmed || stored.MarketAddress != mgr.address {
		t.Errorf("stored = %+v", stored)
	}
	if _, err := markets.GetByAddress(ctx, mgr.address); err != nil {
		t.Errorf("market not recorded: %v", err)
	}
	if !audit.has("creation.confirmed") {
		t.Error("confirmation not audited")
	}
	if titles := sender.sent(); len(titles) != 1 || titles[0] != "Market created" {
		t.Errorf("notifications = %v", titles)
	}
}

func TestSubmitWithManagerSendFailure(t *testing.T) {
	ctx := context.Background()
	mgr := &fakeManager{sendErr: errors.New("insufficient funds")}
	s, store, _, _, sender, _ := newCreationService(t, mgr)
	id := s.CreateDraft(ctx).ID
	if _, err := s.UpdateDraft(ctx, id, completePatch(time.Now())); err != nil {
		t.Fatalf("UpdateDraft: %v", err)
	}

	req, err := s.Submit(ctx, id)
	if err == nil {
		t.Fatal("expected error")
	}
	stored, _ := store.GetByID(ctx, req.ID)
	if stored.Status != domain.CreationStatusFailed || stored.Error != "insufficient funds" {
		t.Errorf("stored = %+v", stored)
	}
	if titles := sender.sent(); len(titles) != 1 || titles[0] != "Market creation failed" {
		t.Errorf("notifications = %v", titles)
	}
	if _, err := s.GetDraft(ctx, id); err != nil {
		t.Error("draft should survive a failed send so the user can retry")
	}
}

func TestSubmitClaimsDraft(t *testing.T) {
	ctx := context.Background()
	mgr := &fakeManager{
		address: "0x00000000000000000000000000000000000000d1",
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	s, store, _, _, _, _ := newCreationService(t, mgr)
	id := s.CreateDraft(ctx).ID
	if _, err := s.UpdateDraft(ctx, id, completePatch(time.Now())); err != nil {
		t.Fatalf("UpdateDraft: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := s.Submit(ctx, id)
		done <- err
	}()
	<-mgr.entered

	if _, err := s.Submit(ctx, id); !errors.Is(err, domain.ErrSubmitInFlight) {
		t.Errorf("second Submit err = %v, want ErrSubmitInFlight", err)
	}
	if _, err := s.UpdateDraft(ctx, id, DraftPatch{LongPercent: intPtr(10)}); !errors.Is(err, domain.ErrSubmitInFlight) {
		t.Errorf("UpdateDraft err = %v, want ErrSubmitInFlight", err)
	}
	if n := s.PruneDrafts(0); n != 0 {
		t.Errorf("pruned %d drafts mid-submit", n)
	}

	close(mgr.release)
	if err := <-done; err != nil {
		t.Fatalf("Submit: %v", err)
	}
	s.Wait()

	if n := mgr.sentCount(); n != 1 {
		t.Errorf("createMarket sent %d times", n)
	}
	store.mu.Lock()
	persisted := len(store.reqs)
	store.mu.Unlock()
	if persisted != 1 {
		t.Errorf("persisted %d requests", persisted)
	}
}

func TestSubmitReleasesDraftOnPersistFailure(t *testing.T) {
	ctx := context.Background()
	s, store, _, _, _, _ := newCreationService(t, &fakeManager{})
	store.createErr = errors.New("db down")
	id := s.CreateDraft(ctx).ID
	if _, err := s.UpdateDraft(ctx, id, completePatch(time.Now())); err != nil {
		t.Fatalf("UpdateDraft: %v", err)
	}

	if _, err := s.Submit(ctx, id); err == nil || errors.Is(err, domain.ErrSubmitInFlight) {
		t.Fatalf("Submit err = %v, want persist failure", err)
	}
	store.createErr = nil
	if _, err := s.Submit(ctx, id); err != nil {
		t.Fatalf("retry Submit: %v", err)
	}
	s.Wait()
}

func TestSubmitConfirmReverted(t *testing.T) {
	ctx := context.Background()
	mgr := &fakeManager{confirmErr: domain.ErrTxReverted}
	s, store, _, _, sender, _ := newCreationService(t, mgr)
	id := s.CreateDraft(ctx).ID
	if _, err := s.UpdateDraft(ctx, id, completePatch(time.Now())); err != nil {
		t.Fatalf("UpdateDraft: %v", err)
	}
	req, err := s.Submit(ctx, id)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	s.Wait()

	stored, _ := store.GetByID(ctx, req.ID)
	if stored.Status != domain.CreationStatusFailed {
		t.Errorf("status = %s", stored.Status)
	}
	if titles := sender.sent(); len(titles) != 1 || titles[0] != "Market creation reverted" {
		t.Errorf("notifications = %v", titles)
	}
}

func TestPruneDrafts(t *testing.T) {
	ctx := context.Background()
	s, _, _, _, _, _ := newCreationService(t, nil)
	base := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }
	old := s.CreateDraft(ctx).ID

	s.now = func() time.Time { return base.Add(2 * time.Hour) }
	fresh := s.CreateDraft(ctx).ID

	if n := s.PruneDrafts(time.Hour); n != 1 {
		t.Fatalf("pruned %d, want 1", n)
	}
	if _, err := s.GetDraft(ctx, old); !errors.Is(err, domain.ErrNotFound) {
		t.Error("idle draft survived")
	}
	if _, err := s.GetDraft(ctx, fresh); err != nil {
		t.Error("fresh draft pruned")
	}
}
