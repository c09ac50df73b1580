// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package control implements the admission edge: the HTTP listener that
// resolves a tenant, runs it through connection-capacity admission, and
// hands accepted connections off to the realtime session layer.
package control

import (
	"bufio"
	"context"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ManuGH/xg2g/internal/config"
	"github.com/ManuGH/xg2g/internal/control/admission"
	cmw "github.com/ManuGH/xg2g/internal/control/middleware"
	"github.com/ManuGH/xg2g/internal/health"
	"github.com/ManuGH/xg2g/internal/log"
	"github.com/ManuGH/xg2g/internal/realtime"
	"github.com/ManuGH/xg2g/internal/store"
	"github.com/ManuGH/xg2g/internal/tenancy"
	"github.com/ManuGH/xg2g/internal/wire"
)

// Deps collects every component the admission edge wires a connection
// through, from tenant resolution down to the realtime session layer.
type Deps struct {
	Resolver   *tenancy.TenantResolver
	RateLimit  *tenancy.RateLimiter
	Limits     *tenancy.LimitEnforcer
	Admission  admission.CapacityController
	Registry   *realtime.ConnectionRegistry
	Router     *realtime.ChannelRouter
	Heartbeats *wire.HeartbeatManager
	Presence   *realtime.PresenceTracker
	Presences  store.PresenceStore
	Health     *health.Manager

	Codec    *wire.Codec
	HTTP     config.HTTPConfig
	HBConfig config.HeartbeatConfig
	Wire     config.WireConfig
}

// Server is the admission edge's HTTP listener.
type Server struct {
	deps   Deps
	router *chi.Mux
	http   *http.Server
}

// NewServer builds the router and middleware stack. Call ListenAndServe to
// start accepting connections.
func NewServer(deps Deps) *Server {
	s := &Server{deps: deps}

	r := cmw.NewRouter(cmw.StackConfig{
		EnableCORS:            len(deps.HTTP.CORSOrigins) > 0,
		AllowedOrigins:        deps.HTTP.CORSOrigins,
		EnableSecurityHeaders: true,
		EnableMetrics:         true,
		TracingService:        "rtc-session-core",
		EnableLogging:         true,
		EnableRateLimit:       deps.HTTP.EdgeRateRPS > 0,
		RateLimitEnabled:      deps.HTTP.EdgeRateRPS > 0,
		RateLimitGlobalRPS:    int(deps.HTTP.EdgeRateRPS),
		RateLimitBurst:        deps.HTTP.EdgeRateBurst,
	})

	r.Get("/healthz", s.handleHealthz)
	if deps.Health != nil {
		r.Get("/readyz", deps.Health.ServeReady)
	}
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/v1/connect", s.handleConnect)

	s.router = r
	s.http = &http.Server{
		Addr:         deps.HTTP.ListenAddr,
		Handler:      r,
		ReadTimeout:  deps.HTTP.ReadTimeout,
		WriteTimeout: deps.HTTP.WriteTimeout,
	}
	return s
}

// Router exposes the underlying chi.Mux, mainly for tests.
func (s *Server) Router() http.Handler { return s.router }

// ListenAndServe starts the listener, honoring TLSCert/TLSKey if both are set.
func (s *Server) ListenAndServe() error {
	if s.deps.HTTP.TLSCert != "" && s.deps.HTTP.TLSKey != "" {
		return s.http.ListenAndServeTLS(s.deps.HTTP.TLSCert, s.deps.HTTP.TLSKey)
	}
	return s.http.ListenAndServe()
}

// Shutdown gracefully drains in-flight HTTP requests; it does not close
// already-hijacked realtime connections, which are owned by Sessions.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health != nil {
		s.deps.Health.ServeHealth(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// handleConnect resolves the caller's tenant, runs connection-capacity
// admission, and on success hijacks the HTTP connection to hand it to a
// realtime Session. It never writes a response body on success: the wire
// protocol takes over the raw socket.
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	tenant, err := s.deps.Resolver.Resolve(ctx, r)
	if err != nil {
		s.writeTenantError(w, r, err)
		return
	}
	ctx = tenancy.WithTenant(ctx, tenant)

	now := time.Now()
	if err := s.deps.RateLimit.Enforce(tenant, "connect", now); err != nil {
		s.writeTenantError(w, r, err)
		return
	}

	active := len(s.deps.Registry.ForTenant(tenant.ID))
	decision := s.deps.Admission.Check(ctx, tenant, admission.Request{}, admission.RuntimeState{ActiveConnections: active})
	if !decision.Allow {
		admission.WriteProblem(w, r, decision.Problem)
		return
	}

	hj, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "connection upgrade not supported", http.StatusInternalServerError)
		return
	}
	conn, buf, err := hj.Hijack()
	if err != nil {
		log.L().Error().Err(err).Msg("hijack failed")
		return
	}
	if buf.Reader.Buffered() > 0 {
		// Any bytes already buffered by the HTTP layer belong to the wire
		// protocol stream; wrap the conn so the session reads them first.
		conn = &bufferedConn{Conn: conn, r: buf.Reader}
	}

	connID := uuid.NewString()
	rc := realtime.NewConnection(connID, tenant.ID, r.RemoteAddr, s.deps.HTTP.EdgeRateBurst)
	if err := s.deps.Registry.Insert(rc); err != nil {
		log.L().Error().Err(err).Str("conn_id", connID).Msg("failed to register connection")
		_ = conn.Close()
		return
	}

	sess := NewSession(SessionDeps{
		Codec:         s.deps.Codec,
		Router:        s.deps.Router,
		Registry:      s.deps.Registry,
		Heartbeats:    s.deps.Heartbeats,
		Presence:      s.deps.Presence,
		RateLimit:     s.deps.RateLimit,
		Limits:        s.deps.Limits,
		Tenant:        tenant,
		HBConfig:      wire.HeartbeatConfig{Interval: s.deps.HBConfig.Interval, Timeout: s.deps.HBConfig.Timeout, MaxMissed: s.deps.HBConfig.MaxMissed, Jitter: s.deps.HBConfig.Jitter},
		MaxFrameBytes: s.deps.Wire.MaxFrameBytes,
	}, conn, rc)

	go sess.Run()
}

func (s *Server) writeTenantError(w http.ResponseWriter, r *http.Request, err error) {
	te, ok := err.(*tenancy.Error)
	if !ok {
		admission.WriteProblem(w, r, &admission.Problem{
			Status: http.StatusInternalServerError,
			Type:   "admission/internal-error",
			Title:  "Internal error",
			Code:   tenancy.CodeInternalError,
			Detail: err.Error(),
		})
		return
	}
	admission.WriteProblem(w, r, admission.FromTenantError(te))
}

// bufferedConn prepends bytes the HTTP layer already buffered from the
// socket (e.g. part of the first wire frame sent pipelined with the
// upgrade request) ahead of further reads from the raw connection.
type bufferedConn struct {
	net.Conn
	r *bufio.Reader
}

func (b *bufferedConn) Read(p []byte) (int, error) {
	return b.r.Read(p)
}
