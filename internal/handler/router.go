package handler

import (
	"net/http"

	"studio-sync/internal/middleware"

	"github.com/gorilla/mux"
)

type RouterConfig struct {
	Sync      *SyncHandler
	WebSocket *WebSocketHandler

	// JWTSecret enables bearer auth on the sync routes when set.
	JWTSecret string

	AllowedOrigins string
	AllowedMethods string
	AllowedHeaders string
}

// NewRouter wires the sync API. CORS and logging wrap the whole router so
// preflights and unknown routes are decorated too.
func NewRouter(cfg RouterConfig) http.Handler {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(NotFound)
	r.MethodNotAllowedHandler = http.HandlerFunc(NotFound)

	r.HandleFunc("/health", Health).Methods(http.MethodGet)

	if cfg.WebSocket != nil {
		// The websocket handler checks its own token, from the query string
		// when browsers cannot set headers.
		r.HandleFunc("/sync/ws", cfg.WebSocket.HandleConnection).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/sync").Subrouter()
	if cfg.JWTSecret != "" {
		api.Use(middleware.AuthMiddleware(cfg.JWTSecret))
	}

	api.HandleFunc("/status", cfg.Sync.Status).Methods(http.MethodGet)
	api.HandleFunc("/users", cfg.Sync.Users).Methods(http.MethodGet)
	api.HandleFunc("/notify", cfg.Sync.Notify).Methods(http.MethodPost)

	var h http.Handler = r
	h = middleware.CORSMiddleware(cfg.AllowedOrigins, cfg.AllowedMethods, cfg.AllowedHeaders)(h)
	h = middleware.LoggerMiddleware()(h)
	return h
}
