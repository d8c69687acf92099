package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"connector/internal/service"
)

// AccountResponse - состояние аккаунта без ключей
type AccountResponse struct {
	ID                string     `json:"id"`
	Exchange          string     `json:"exchange"`
	Status            string     `json:"status"`
	Error             string     `json:"error,omitempty"`
	BalancesUpdatedAt *time.Time `json:"balancesUpdatedAt,omitempty"`
}

// EnqueueResponse - результат принудительной постановки в очередь
type EnqueueResponse struct {
	Queued bool `json:"queued"`
}

// AccountHandler - восстановление аккаунтов оператором
//
// Endpoints:
// - GET /api/v1/accounts/{id} - статус аккаунта
// - POST /api/v1/accounts/{id}/enable - включить после invalid/disabled
// - POST /api/v1/accounts/{id}/enqueue - принудительно запустить обработку заданий
type AccountHandler struct {
	accountService service.AccountServiceInterface
}

// NewAccountHandler создает новый AccountHandler
func NewAccountHandler(accountService service.AccountServiceInterface) *AccountHandler {
	return &AccountHandler{accountService: accountService}
}

// GetAccount возвращает статус аккаунта
// GET /api/v1/accounts/{id}
func (h *AccountHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	account, err := h.accountService.GetAccount(r.Context(), id)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	resp := AccountResponse{
		ID:       account.ID,
		Exchange: account.Exchange,
		Status:   account.Status,
		Error:    account.Error,
	}
	if account.Balances != nil && !account.Balances.UpdatedAt.IsZero() {
		at := account.Balances.UpdatedAt
		resp.BalancesUpdatedAt = &at
	}
	respondWithJSON(w, http.StatusOK, resp)
}

// EnableAccount включает аккаунт и очищает ошибку
// POST /api/v1/accounts/{id}/enable
func (h *AccountHandler) EnableAccount(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := h.accountService.EnableAccount(r.Context(), id); err != nil {
		respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, SuccessResponse{Message: "Account enabled"})
}

// EnqueueAccount ставит обработку заданий аккаунта в очередь
// POST /api/v1/accounts/{id}/enqueue
//
// Ответы:
// - 202 Accepted: {"queued": true|false}, false - запуск уже в очереди
// - 409 Conflict: аккаунт не enabled
func (h *AccountHandler) EnqueueAccount(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	queued, err := h.accountService.EnqueueAccount(r.Context(), id)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusAccepted, EnqueueResponse{Queued: queued})
}
