// Package server exposes the bridge admin API: health, session status,
// binding tables, the scene and Prometheus metrics.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/danmuck/simbridge/internal/auth"
	"github.com/danmuck/simbridge/internal/bridge"
	"github.com/danmuck/simbridge/internal/observability"
	"github.com/danmuck/simbridge/internal/protocol/attribute"
	"github.com/danmuck/simbridge/internal/protocol/schema"
	"github.com/danmuck/simbridge/internal/scene"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const Component = "bridge-admin"

// Bridge is the client surface the admin API reads and drives.
type Bridge interface {
	State() bridge.State
	Status() bridge.Status
	Bindings() bridge.Bindings
	QueueAPICallbacks(simulation string, calls ...schema.APICallback) error
	APICallbackResponses() schema.APICallbacks
}

// Scene is the host view served under /scene.
type Scene interface {
	Snapshot(catalog *attribute.Catalog) []scene.ObjectSnapshot
}

// Options tune the admin API. A zero Token leaves mutating routes open.
type Options struct {
	CorsOrigins []string
	Token       auth.Token
}

type Admin struct {
	Addr     string
	token    auth.Token
	bridge   Bridge
	scene    Scene
	catalog  *attribute.Catalog
	router   *gin.Engine
	appeared time.Time
}

func New(addr string, b Bridge, s Scene, catalog *attribute.Catalog, opts Options) *Admin {
	observability.RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(observability.ComponentLogger(Component)))
	r.Use(observability.RequestMetricsMiddleware(Component))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(opts.CorsOrigins),
		AllowMethods: []string{"GET", "POST"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	a := &Admin{
		Addr:     addr,
		token:    opts.Token,
		bridge:   b,
		scene:    s,
		catalog:  catalog,
		router:   r,
		appeared: time.Now(),
	}
	a.registerRoutes()
	return a
}

func (a *Admin) HTTPRouter() *gin.Engine {
	return a.router
}

// Serve listens on Addr until ctx ends, then shuts down gracefully.
func (a *Admin) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.Addr)
	if err != nil {
		return err
	}
	return a.ServeListener(ctx, ln)
}

func (a *Admin) ServeListener(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	log.Info().Str("addr", ln.Addr().String()).Msg("server.Admin listening")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	log.Info().Msg("server.Admin stopped")
	return nil
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
