/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Structured request logging (zap), request-scoped logger
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. Timeout:    Cancels the request context after RequestTimeout
  5. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/advances/*       Advances, payment plans, payments
  /api/scenarios/*      Demo scenarios and reset
  /healthz              Liveness and database check
  /*                    Static files (frontend)

STATIC FILE SERVING:
  Serves the built frontend from StaticDir when it exists and falls back
  to index.html for client-side routing. Without a build, a placeholder
  page lists the API entry points.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/warp/household-ledger/logging"
)

// RouterOptions configures middleware and static serving.
type RouterOptions struct {
	Logger         *zap.Logger
	RequestTimeout time.Duration
	AllowedOrigins []string
	StaticDir      string
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(logging.RequestLogger(opts.Logger))
	r.Use(middleware.Recoverer)
	if opts.RequestTimeout > 0 {
		r.Use(middleware.Timeout(opts.RequestTimeout))
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", h.Health)

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Route("/advances", func(r chi.Router) {
			r.Get("/", h.ListAdvances)
			r.Post("/", h.SaveAdvance)
			r.Delete("/", h.DeleteAdvances)
			r.Get("/periodicities", h.ListPeriodicities)
			r.Post("/recalculate-payment-plan", h.RecalculatePlan)

			// Payment routes
			r.Route("/payments", func(r chi.Router) {
				r.Post("/", h.SavePayment)
				r.Post("/{id}/status", h.SetPaymentStatus)
				r.Delete("/{id}", h.DeletePayment)
			})

			r.Get("/{id}", h.GetAdvance)
			r.Get("/{id}/payments", h.ListPayments)
			r.Get("/{id}/events", h.ListEvents)
			r.Post("/{id}/recalculate-pending", h.RecalculatePending)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	staticDir := opts.StaticDir
	if staticDir == "" {
		staticDir = "./web/dist"
	}
	if _, err := os.Stat(staticDir); os.IsNotExist(err) && !filepath.IsAbs(staticDir) {
		// Try relative to executable
		exe, _ := os.Executable()
		staticDir = filepath.Join(filepath.Dir(exe), staticDir)
	}

	if _, err := os.Stat(staticDir); err == nil {
		fileServer := http.FileServer(http.Dir(staticDir))
		r.Get("/*", func(w http.ResponseWriter, r *http.Request) {
			fullPath := filepath.Join(staticDir, filepath.Clean(r.URL.Path))
			if _, err := os.Stat(fullPath); os.IsNotExist(err) {
				// SPA routing: serve index.html
				http.ServeFile(w, r, filepath.Join(staticDir, "index.html"))
				return
			}
			fileServer.ServeHTTP(w, r)
		})
	} else {
		r.Get("/*", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/html")
			w.Write([]byte(placeholderPage))
		})
	}

	return r
}

const placeholderPage = `<!DOCTYPE html>
<html>
<head><title>Household Ledger</title></head>
<body style="font-family: system-ui; max-width: 800px; margin: 50px auto; padding: 20px;">
<h1>Household Ledger API</h1>
<p>The frontend is not built yet. Run <code>cd web && npm install && npm run build</code></p>
<h2>API Endpoints</h2>
<ul>
<li><a href="/api/advances">/api/advances</a> - List advances</li>
<li><a href="/api/advances/periodicities">/api/advances/periodicities</a> - Periodicities</li>
<li><a href="/api/scenarios">/api/scenarios</a> - List scenarios</li>
<li><a href="/healthz">/healthz</a> - Health check</li>
</ul>
</body>
</html>`
