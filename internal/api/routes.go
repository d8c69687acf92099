package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"connector/internal/api/handlers"
	"connector/internal/api/middleware"
	"connector/internal/service"
	"connector/pkg/utils"
)

// Dependencies содержит все зависимости для API handlers
type Dependencies struct {
	JobService     service.JobServiceInterface
	AccountService service.AccountServiceInterface

	// Events - поток событий /ws/events, nil - маршрут не регистрируется
	Events http.Handler

	// Health проверяет зависимости (БД). nil - всегда OK
	Health func(ctx context.Context) error

	APIToken       string
	AllowedOrigins []string
	Logger         *utils.Logger
}

// SetupRoutes настраивает HTTP маршруты воркера
//
// /api/v1/
//
//	├── POST /connector-jobs - команда ADD_CONNECTOR_JOB
//	└── /accounts/{id}
//	    ├── GET / - статус аккаунта
//	    ├── POST /enable - включить аккаунт
//	    └── POST /enqueue - запустить обработку заданий
//
// /ws/events - поток ORDER_STATUS, ORDER_ERROR, USER_EX_ACC_ERROR
// /health, /metrics - без авторизации
//
// Middleware: Recovery, Logging, CORS для всех маршрутов; BearerAuth только для /api/v1
func SetupRoutes(deps *Dependencies) *mux.Router {
	router := mux.NewRouter()

	router.Use(middleware.Recovery(deps.Logger))
	router.Use(middleware.Logging(deps.Logger))
	router.Use(middleware.CORS(deps.AllowedOrigins))

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(middleware.BearerAuth(deps.APIToken))

	if deps.JobService != nil {
		jobHandler := handlers.NewJobHandler(deps.JobService)
		handle(api, "/connector-jobs", http.MethodPost, jobHandler.AddConnectorJob)
	}

	if deps.AccountService != nil {
		accountHandler := handlers.NewAccountHandler(deps.AccountService)
		handle(api, "/accounts/{id}", http.MethodGet, accountHandler.GetAccount)
		handle(api, "/accounts/{id}/enable", http.MethodPost, accountHandler.EnableAccount)
		handle(api, "/accounts/{id}/enqueue", http.MethodPost, accountHandler.EnqueueAccount)
	}

	if deps.Events != nil {
		router.Handle("/ws/events", deps.Events).Methods(http.MethodGet)
	}

	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if deps.Health != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := deps.Health(ctx); err != nil {
				http.Error(w, "UNAVAILABLE: "+err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods(http.MethodGet)

	return router
}

// handle регистрирует обработчик метода и 405 для остальных методов пути.
// Саброутер mux на несовпадение метода отвечает 404, поэтому 405 задается явно
func handle(r *mux.Router, path, method string, h http.HandlerFunc) {
	r.HandleFunc(path, h).Methods(method)
	r.HandleFunc(path, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Allow", method)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	})
}
