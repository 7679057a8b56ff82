package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/dukerupert/overlap/internal/config"
)

// ErrServerRunning is returned by RequireOffline when a server answers on the
// configured listen address.
var ErrServerRunning = errors.New("overlap server is running")

const healthTimeout = 500 * time.Millisecond

// RequireOffline fails when an overlap server is serving cfg.Listen. A running
// server holds its own copy of the conflict list and overwrites the stored
// one on its next change, so conflict mutations must go through its API.
func RequireOffline(ctx context.Context, cfg *config.Config) error {
	url := "http://" + loopbackAddr(cfg.Listen) + "/health"

	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build health request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil
	}
	resp.Body.Close()
	return fmt.Errorf("%w at %s: use the HTTP API or stop it first", ErrServerRunning, cfg.Listen)
}

// loopbackAddr maps wildcard listen addresses to loopback.
func loopbackAddr(listen string) string {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return listen
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port)
}
