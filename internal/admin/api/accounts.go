package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/goodtune/timekeeper/internal/accounting"
	"github.com/goodtune/timekeeper/internal/status"
	"github.com/goodtune/timekeeper/internal/storage"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// AccountsHandler handles account administration.
type AccountsHandler struct {
	accounts   storage.AccountStore
	engine     *accounting.Engine
	aggregator *status.Aggregator
	logger     zerolog.Logger
}

// NewAccountsHandler creates a new accounts handler.
func NewAccountsHandler(accounts storage.AccountStore, engine *accounting.Engine, aggregator *status.Aggregator, logger zerolog.Logger) *AccountsHandler {
	return &AccountsHandler{
		accounts:   accounts,
		engine:     engine,
		aggregator: aggregator,
		logger:     logger.With().Str("handler", "accounts").Logger(),
	}
}

// accountView is an account without its password hash.
type accountView struct {
	ID               string       `json:"id"`
	Username         string       `json:"username"`
	Role             storage.Role `json:"role"`
	Active           bool         `json:"active"`
	RegisteredDevice string       `json:"registered_device,omitempty"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
}

func newAccountView(a storage.Account) accountView {
	return accountView{
		ID:               a.ID,
		Username:         a.Username,
		Role:             a.Role,
		Active:           a.Active,
		RegisteredDevice: a.RegisteredDevice,
		CreatedAt:        a.CreatedAt,
		UpdatedAt:        a.UpdatedAt,
	}
}

// ListAccounts returns every account.
func (h *AccountsHandler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.accounts.List(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list accounts")
		writeError(w, http.StatusInternalServerError, "Failed to retrieve accounts")
		return
	}

	views := make([]accountView, len(accounts))
	for i, a := range accounts {
		views[i] = newAccountView(a)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"accounts": views,
		"count":    len(views),
	})
}

// EnableAccount allows an account to log in.
func (h *AccountsHandler) EnableAccount(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, true)
}

// DisableAccount blocks further logins of an account.
func (h *AccountsHandler) DisableAccount(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, false)
}

func (h *AccountsHandler) setActive(w http.ResponseWriter, r *http.Request, active bool) {
	id := mux.Vars(r)["id"]

	if err := h.accounts.SetActive(r.Context(), id, active); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Account not found")
			return
		}
		h.logger.Error().Err(err).Str("id", id).Bool("active", active).Msg("Failed to update account")
		writeError(w, http.StatusInternalServerError, "Failed to update account")
		return
	}
	h.aggregator.Forget(id)

	h.logger.Info().Str("id", id).Bool("active", active).Msg("Account updated by admin")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":     id,
		"active": active,
	})
}

// DeleteAccount purges an account with its sessions and events.
func (h *AccountsHandler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := h.engine.PurgeAccount(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Account not found")
			return
		}
		h.logger.Error().Err(err).Str("id", id).Msg("Failed to delete account")
		writeError(w, http.StatusInternalServerError, "Failed to delete account")
		return
	}
	h.aggregator.Forget(id)

	h.logger.Info().Str("id", id).Msg("Account deleted by admin")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Account deleted successfully",
	})
}
