package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"opsgate.io/internal/auth"
	"opsgate.io/internal/obs"
	"opsgate.io/internal/ratelimit"
)

// ReadyProbe checks the backing services the API cannot serve without.
type ReadyProbe struct {
	DB    *sql.DB
	Redis *redis.Client
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if rp.DB != nil {
		if err := rp.DB.PingContext(ctx); err != nil {
			return err
		}
	}
	if rp.Redis != nil {
		if err := rp.Redis.Ping(ctx).Err(); err != nil {
			return err
		}
	}
	return nil
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	auth       *auth.Service
	limiter    *ratelimit.Limiter
	readyProbe ReadyProbe
	log        obs.Logger
	version    string
}

func New(svc *auth.Service, limiter *ratelimit.Limiter, rp ReadyProbe, log obs.Logger, version string) *API {
	if log == nil {
		log = obs.NewNop()
	}
	a := &API{
		mux:        http.NewServeMux(),
		auth:       svc,
		limiter:    limiter,
		readyProbe: rp,
		log:        log,
		version:    version,
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// auth surface
	a.mux.HandleFunc("/v1/auth/register", a.handleRegister)
	a.mux.HandleFunc("/v1/auth/login", a.handleLogin)
	a.mux.HandleFunc("/v1/auth/refresh", a.handleRefresh)
	a.mux.HandleFunc("/v1/auth/logout", a.handleLogout)
	a.mux.HandleFunc("/v1/auth/me", a.handleMe)
	a.mux.HandleFunc("/v1/auth/password", a.handleChangePassword)
	a.mux.HandleFunc("/v1/auth/apikey", a.handleAPIKey)

	// admin surface
	a.mux.HandleFunc("/v1/admin/accounts", a.handleAdminAccounts)
	a.mux.HandleFunc("/v1/admin/accounts/", a.handleAdminAccountScoped)
	a.mux.HandleFunc("/v1/admin/events", a.handleAdminEvents)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler assembles the middleware chain around the mux. The rate limiter
// runs before authentication so rejected credentials still consume budget and
// a blocked caller is denied before any store lookup.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = a.rateLimit(h)
	h = MaxBodyBytes(h, 1<<20)
	h = SecurityHeaders(h)
	h = a.logRequests(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "opsgate-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "opsgate-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}
