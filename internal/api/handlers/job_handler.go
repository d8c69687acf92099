package handlers

import (
	"net/http"

	"connector/internal/models"
	"connector/internal/service"
)

// JobHandler принимает команду ADD_CONNECTOR_JOB по HTTP
//
// Endpoints:
// - POST /api/v1/connector-jobs - добавить задание ордеру
type JobHandler struct {
	jobService service.JobServiceInterface
}

// NewJobHandler создает новый JobHandler
func NewJobHandler(jobService service.JobServiceInterface) *JobHandler {
	return &JobHandler{jobService: jobService}
}

// AddConnectorJob сохраняет задание и ставит аккаунт в очередь
// POST /api/v1/connector-jobs
//
// Тело запроса:
//
//	{
//	  "userExAccId": "...",
//	  "orderId": "...",
//	  "type": "create|recreate|cancel|check",
//	  "priority": 1,
//	  "nextJobAt": "2024-03-01T12:00:00Z", // опционально
//	  "data": {"price": "101.5"}           // опционально, для recreate
//	}
//
// Ответы:
// - 201 Created: задание сохранено
// - 400 Bad Request: некорректная команда или ордер другого аккаунта
// - 404 Not Found: аккаунт не найден
func (h *JobHandler) AddConnectorJob(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)

	var cmd models.AddConnectorJobCommand
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}

	job, err := h.jobService.AddConnectorJob(r.Context(), &cmd)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusCreated, job)
}
