package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/loykin/termexec/internal/config"
	"github.com/loykin/termexec/internal/registry"
	itls "github.com/loykin/termexec/internal/tls"
)

// NewServer builds an http.Server for cfg around the registry's router.
// Write and idle timeouts leave room for the longest allowed poll or exec.
func NewServer(cfg config.ServerConfig, reg *registry.Registry, opts ...Option) (*http.Server, error) {
	tlsCfg, err := itls.SetupTLS(cfg)
	if err != nil {
		return nil, err
	}
	longest := time.Duration(registry.MaxTimeoutSeconds) * time.Second
	return &http.Server{
		Addr:              cfg.Listen,
		Handler:           NewRouter(reg, cfg.BasePath, opts...).Handler(),
		TLSConfig:         tlsCfg,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      longest + 30*time.Second,
		IdleTimeout:       60 * time.Second,
	}, nil
}

// ListenAndServe serves srv over TLS when it carries a TLS config. It
// returns nil after Shutdown.
func ListenAndServe(srv *http.Server) error {
	var err error
	if srv.TLSConfig != nil {
		err = srv.ListenAndServeTLS("", "")
	} else {
		err = srv.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
