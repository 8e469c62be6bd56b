// Package app is the composition root: it wires storage, transport and the
// session registry together and owns their lifecycle.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"chatsync/internal/retention"
	"chatsync/pkg/api"
	"chatsync/pkg/config"
	"chatsync/pkg/logger"
	"chatsync/pkg/registry"
	"chatsync/pkg/storage"
	"chatsync/pkg/transport"
)

// App encapsulates the daemon components and lifecycle.
type App struct {
	cfg   config.Config
	store storage.Store
	tr    transport.Transport
	reg   *registry.Registry
	srv   *http.Server
}

// New initializes storage, transport and the registry. It does not start
// the HTTP server or subscribe to the transport; call Run for that.
func New(cfg config.Config) (*App, error) {
	st, err := storage.OpenPebble(cfg.Storage.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open storage at %s: %w", cfg.Storage.DBPath, err)
	}

	tr, err := buildTransport(cfg)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	reg := registry.New(registry.Options{
		Storage:      st,
		Transport:    tr,
		Channel:      cfg.Transport.Channel,
		MaxMessages:  cfg.Session.MaxMessages,
		TypingTTL:    time.Duration(cfg.Session.TypingTTLMs) * time.Millisecond,
		TypingMinTTL: time.Duration(cfg.Session.TypingMinTTLMs) * time.Millisecond,
	})
	return &App{cfg: cfg, store: st, tr: tr, reg: reg}, nil
}

func buildTransport(cfg config.Config) (transport.Transport, error) {
	switch cfg.Transport.Kind {
	case "websocket":
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return transport.DialWS(ctx, cfg.Transport.URL, transport.WSConfig{})
	case "redis":
		return transport.NewRedis(cfg.Transport.Redis.Addr, cfg.Transport.Redis.Password, cfg.Transport.Redis.DB), nil
	case "memory", "":
		return transport.NewMemory(""), nil
	}
	return nil, fmt.Errorf("unknown transport kind %q", cfg.Transport.Kind)
}

// Registry exposes the engine to callers embedding the app.
func (a *App) Registry() *registry.Registry { return a.reg }

// Run hydrates the registry, subscribes to the realtime channel, starts
// retention and the HTTP server, and blocks until ctx is cancelled or the
// server fails.
func (a *App) Run(ctx context.Context) error {
	// hydrate before subscribing so replayed events merge into restored
	// state instead of racing it
	a.reg.Hydrate()
	a.reg.SetIdentity(a.cfg.Identity.UserID, a.cfg.Identity.Name, a.cfg.Identity.Avatar)
	a.reg.AdoptClientID(a.tr.ClientID())

	unsub, err := a.tr.Subscribe(a.cfg.Transport.Channel, a.reg.HandleEvent)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", a.cfg.Transport.Channel, err)
	}
	defer unsub()

	stopRetention, err := retention.Start(ctx, a.cfg, a.reg, a.store)
	if err != nil {
		return err
	}
	defer stopRetention()

	a.srv = &http.Server{
		Addr:    a.cfg.Addr(),
		Handler: api.Handler(a.reg, api.Options{RPS: a.cfg.RateLimit.RPS, Burst: a.cfg.RateLimit.Burst}),
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http_listening", "addr", a.srv.Addr)
		if err := a.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown tears everything down in dependency order.
func (a *App) Shutdown(ctx context.Context) {
	if a.srv != nil {
		_ = a.srv.Shutdown(ctx)
	}
	a.reg.Close()
	if err := a.tr.Close(); err != nil {
		logger.Warn("transport_close_failed", "error", err)
	}
	if err := a.store.Close(); err != nil {
		logger.Warn("storage_close_failed", "error", err)
	}
	logger.Info("shutdown_complete")
}
