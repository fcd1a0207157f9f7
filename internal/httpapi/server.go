package httpapi

import (
	"net/http"
	"time"

	"github.com/komcat/SiphogAdapter/internal/config"
)

const (
	readHeaderTimeout = 5 * time.Second
	// Exports write the whole chart buffer before responding.
	writeTimeout = 30 * time.Second
	idleTimeout  = 60 * time.Second
)

func NewServer(cfg config.Config, mux *http.ServeMux) *http.Server {
	return &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           requestLogger(mux),
		ReadHeaderTimeout: readHeaderTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}
}
