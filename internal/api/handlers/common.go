package handlers

import (
	"errors"
	"net/http"

	jsoniter "github.com/json-iterator/go"

	"connector/internal/errkind"
	"connector/internal/repository"
	"connector/internal/service"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// MaxRequestBodySize ограничение размера тела запроса (1 MB)
const MaxRequestBodySize = 1 << 20

// ErrorResponse стандартный формат ответа об ошибке для всех API endpoints
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// SuccessResponse стандартный формат успешного ответа
type SuccessResponse struct {
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// respondWithJSON отправляет JSON ответ
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"Failed to marshal response"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(response)
}

// respondWithError отправляет JSON ответ с ошибкой
func respondWithError(w http.ResponseWriter, code int, message, details string) {
	respondWithJSON(w, code, ErrorResponse{
		Error:   message,
		Code:    http.StatusText(code),
		Details: details,
	})
}

// respondWithServiceError переводит ошибку сервиса в HTTP код
func respondWithServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, repository.ErrAccountNotFound):
		respondWithError(w, http.StatusNotFound, "Exchange account not found", "")
	case errors.Is(err, service.ErrAccountNotEnabled):
		respondWithError(w, http.StatusConflict, "Exchange account is not enabled", "Enable the account first")
	case errkind.Is(err, errkind.Validation):
		respondWithError(w, http.StatusBadRequest, "Invalid request", err.Error())
	default:
		respondWithError(w, http.StatusInternalServerError, "Internal error", err.Error())
	}
}
