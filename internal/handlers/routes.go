package handlers

import "net/http"

// RouterConfig collects the transport settings of NewRouter.
type RouterConfig struct {
	AllowedOrigins []string
	Recorder       Recorder
	// MetricsHandler is mounted at MetricsPath when both are set.
	MetricsHandler http.Handler
	MetricsPath    string
}

func NewRouter(h *Handler, cfg RouterConfig) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", h.Status)
	mux.HandleFunc("POST /{$}", h.Predict)
	mux.HandleFunc("GET /favicon.ico", h.Favicon)
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("POST /predict", h.Predict)
	mux.HandleFunc("POST /predict/batch", h.PredictBatch)
	if cfg.MetricsHandler != nil && cfg.MetricsPath != "" {
		mux.Handle("GET "+cfg.MetricsPath, cfg.MetricsHandler)
	}

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	chain := Chain(
		RequestLogger(cfg.Recorder),
		Recovery,
		EnableCORS(origins),
	)
	return chain(mux)
}
