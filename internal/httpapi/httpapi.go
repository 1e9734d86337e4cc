package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/unrolled/secure"

	"tokosamanda/backend/internal/observability"
	"tokosamanda/backend/internal/service"
)

const (
	maxBodyBytes     = 1 << 20
	defaultListLimit = 50
	maxListLimit     = 200
)

type Options struct {
	AllowedOrigin  string
	LoginRateLimit int
	SSLRedirect    bool
	Logger         logrus.FieldLogger
	Metrics        *observability.Metrics
}

type API struct {
	service *service.Service
	auth    *AuthManager
	logger  logrus.FieldLogger
	metrics *observability.Metrics
	router  chi.Router
}

func New(svc *service.Service, auth *AuthManager, opts Options) *API {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.LoginRateLimit < 1 {
		opts.LoginRateLimit = 5
	}
	a := &API{
		service: svc,
		auth:    auth,
		logger:  opts.Logger,
		metrics: opts.Metrics,
	}
	a.router = a.routes(opts)
	return a
}

func (a *API) Handler() http.Handler {
	return a.router
}

func (a *API) routes(opts Options) chi.Router {
	secureMiddleware := secure.New(secure.Options{
		FrameDeny:             true,
		ContentTypeNosniff:    true,
		BrowserXssFilter:      true,
		ReferrerPolicy:        "strict-origin-when-cross-origin",
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'",
		SSLRedirect:           opts.SSLRedirect,
		SSLProxyHeaders:       map[string]string{"X-Forwarded-Proto": "https"},
	})

	r := chi.NewRouter()
	r.Use(
		a.requestID,
		middleware.RealIP,
		a.logRequests,
		middleware.Recoverer,
		secureMiddleware.Handler,
		cors.Handler(cors.Options{
			AllowedOrigins: []string{opts.AllowedOrigin},
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", middleware.RequestIDHeader},
			ExposedHeaders: []string{middleware.RequestIDHeader},
			MaxAge:         300,
		}),
		limitBody,
		a.metrics.Middleware,
	)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		a.writeError(w, r, http.StatusNotFound, errors.New("route not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		a.writeError(w, r, http.StatusMethodNotAllowed, errors.New("method not allowed"))
	})

	r.Get("/healthz", a.handleHealth)
	r.Method(http.MethodGet, "/metrics", a.metrics.Handler())

	loginLimiter := httprate.Limit(opts.LoginRateLimit, time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			a.writeError(w, r, http.StatusTooManyRequests, errors.New("too many login attempts"))
		}),
	)

	r.Route("/api/v1", func(r chi.Router) {
		r.With(loginLimiter).Post("/auth/login", a.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(a.requireAuth(roleStaff, roleAdmin))

			r.Get("/purchases", a.handleListPurchases)
			r.Post("/purchases", a.handleCreatePurchase)
			r.Get("/purchases/{id}", a.handleGetPurchase)
			r.Get("/sales", a.handleListSales)
			r.Post("/sales", a.handleCreateSale)
			r.Get("/sales/{id}", a.handleGetSale)

			r.Get("/products/{id}/stock", a.handleProductStock)
			r.Get("/products/{id}/ledger", a.handleProductLedger)
			r.Get("/reports/stock", a.handleStockReport)
			r.Get("/reports/low-stock", a.handleLowStock)
		})

		// Reversals rewrite batch history and stay admin only.
		r.Group(func(r chi.Router) {
			r.Use(a.requireAuth(roleAdmin))
			r.Delete("/purchases/{id}", a.handleDeletePurchase)
			r.Delete("/sales/{id}", a.handleDeleteSale)
		})
	})
	return r
}

// requestID keeps a caller supplied X-Request-Id or assigns a new uuid, and
// exposes it through chi's middleware.GetReqID.
func (a *API) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(middleware.RequestIDHeader))
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set(middleware.RequestIDHeader, id)
		ctx := context.WithValue(r.Context(), middleware.RequestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *API) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startedAt := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		a.logger.WithFields(logrus.Fields{
			"request_id": middleware.GetReqID(r.Context()),
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"bytes":      ww.BytesWritten(),
			"duration":   time.Since(startedAt).String(),
			"remote":     r.RemoteAddr,
		}).Info("http request")
	})
}

func limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil && (r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch) {
			r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		}
		next.ServeHTTP(w, r)
	})
}

func (a *API) requireAuth(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authorization := strings.TrimSpace(r.Header.Get("Authorization"))
			if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
				a.writeError(w, r, http.StatusUnauthorized, errors.New("missing bearer token"))
				return
			}

			token := strings.TrimSpace(authorization[len("Bearer "):])
			actor, err := a.auth.ParseToken(token)
			if err != nil {
				a.writeError(w, r, http.StatusUnauthorized, err)
				return
			}
			if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
				a.writeError(w, r, http.StatusForbidden, errors.New("forbidden role"))
				return
			}

			next.ServeHTTP(w, r.WithContext(service.WithActor(r.Context(), actor)))
		})
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return errors.New("request body too large")
		}
		return err
	}
	return nil
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

func (a *API) writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	// 5xx details stay in the log.
	msg := err.Error()
	if status >= 500 {
		a.logger.WithError(err).WithFields(logrus.Fields{
			"request_id": middleware.GetReqID(r.Context()),
			"status":     status,
		}).Error("internal error")
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
