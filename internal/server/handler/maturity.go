package handler

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/optionsd/internal/crypto"
	"github.com/alanyoungcy/optionsd/internal/domain"
	"github.com/alanyoungcy/optionsd/internal/exercise"
	"github.com/alanyoungcy/optionsd/internal/service"
)

// ExerciseService is the slice of service.ExerciseService the handlers use.
type ExerciseService interface {
	View(ctx context.Context, market, account string) (exercise.View, error)
	SetSession(ctx context.Context, market, account string, loggedIn bool) (exercise.View, error)
	RetryEstimate(ctx context.Context, market, account string) (exercise.View, error)
	Exercise(ctx context.Context, market, account string) (service.ExerciseResult, error)
	History(ctx context.Context, account string, opts domain.ListOpts) ([]domain.ExerciseAttempt, error)
}

// MaturityHandler serves the maturity-phase exercise endpoints.
type MaturityHandler struct {
	svc              ExerciseService
	requireSignature bool
	logger           *slog.Logger
}

// NewMaturityHandler creates a MaturityHandler. With requireSignature set a
// login must carry a personal_sign signature of SessionMessage by the
// account.
func NewMaturityHandler(svc ExerciseService, requireSignature bool, logger *slog.Logger) *MaturityHandler {
	return &MaturityHandler{svc: svc, requireSignature: requireSignature, logger: logHandler(logger, "maturity")}
}

type accountRequest struct {
	Account string `json:"account"`
}

type sessionRequest struct {
	Account   string `json:"account"`
	LoggedIn  bool   `json:"logged_in"`
	Signature string `json:"signature,omitempty"`
}

// SessionMessage is the text an account signs to open a session on market.
func SessionMessage(market, account string) string {
	return fmt.Sprintf("optionsd session\nmarket: %s\naccount: %s",
		strings.ToLower(market), strings.ToLower(account))
}

// View returns the maturity card for an account.
// GET /api/markets/{market}/maturity?account=0x..
func (h *MaturityHandler) View(w http.ResponseWriter, r *http.Request) {
	account := r.URL.Query().Get("account")
	if account == "" {
		writeError(w, http.StatusBadRequest, "account query parameter is required")
		return
	}
	v, err := h.svc.View(r.Context(), r.PathValue("market"), account)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// Session reports the account's login status.
// POST /api/markets/{market}/session
func (h *MaturityHandler) Session(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Account == "" {
		writeError(w, http.StatusBadRequest, "account is required")
		return
	}
	market := r.PathValue("market")
	if req.LoggedIn && h.requireSignature {
		if err := verifySession(market, req.Account, req.Signature); err != nil {
			writeServiceError(w, r, h.logger, err)
			return
		}
	}
	v, err := h.svc.SetSession(r.Context(), market, req.Account, req.LoggedIn)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func verifySession(market, account, signature string) error {
	if !common.IsHexAddress(account) {
		return fmt.Errorf("account %q: %w", account, domain.ErrInvalidAddress)
	}
	sig, err := hex.DecodeString(strings.TrimPrefix(signature, "0x"))
	if err != nil || len(sig) == 0 {
		return fmt.Errorf("session signature missing or malformed: %w", domain.ErrUnauthorized)
	}
	signer, err := crypto.RecoverSigner([]byte(SessionMessage(market, account)), sig)
	if err != nil {
		return fmt.Errorf("session signature: %w", domain.ErrUnauthorized)
	}
	if signer != common.HexToAddress(account) {
		return fmt.Errorf("session signed by %s: %w", signer.Hex(), domain.ErrUnauthorized)
	}
	return nil
}

// Estimate retries gas estimation.
// POST /api/markets/{market}/estimate
func (h *MaturityHandler) Estimate(w http.ResponseWriter, r *http.Request) {
	var req accountRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	v, err := h.svc.RetryEstimate(r.Context(), r.PathValue("market"), req.Account)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// Exercise submits exerciseOptions for the account.
// POST /api/markets/{market}/exercise
func (h *MaturityHandler) Exercise(w http.ResponseWriter, r *http.Request) {
	var req accountRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := h.svc.Exercise(r.Context(), r.PathValue("market"), req.Account)
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			h.logger.ErrorContext(r.Context(), "exercise failed",
				slog.String("market", r.PathValue("market")),
				slog.String("error", err.Error()),
			)
		}
		writeJSON(w, status, map[string]any{"error": err.Error(), "view": res.View})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// History lists exercise attempts for an account.
// GET /api/accounts/{account}/exercises
func (h *MaturityHandler) History(w http.ResponseWriter, r *http.Request) {
	attempts, err := h.svc.History(r.Context(), r.PathValue("account"), parseListOpts(r))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	if attempts == nil {
		attempts = []domain.ExerciseAttempt{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"attempts": attempts})
}
