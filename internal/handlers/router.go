package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	mW "github.com/clutchstake/backend/internal/middleware"
)

type RouterConfig struct {
	JWTSecret      string
	RequestTimeout time.Duration
	Logger         *zap.Logger

	Matches  *MatchHandler
	Wallet   *WalletHandler
	Disputes *DisputeHandler
}

// NewRouter mounts the API under /api/v1 behind bearer auth. Moderator
// routes additionally require the moderator role.
func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(mW.SecurityHeaders)
	r.Use(mW.RequestLogger(cfg.Logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.RequestTimeout))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(mW.AuthMiddleware(cfg.JWTSecret))

		r.Post("/matches", cfg.Matches.CreateMatch)
		r.Get("/matches/{matchId}", cfg.Matches.GetMatch)
		r.Post("/matches/{matchId}/join", cfg.Matches.JoinMatch)
		r.Post("/matches/{matchId}/results", cfg.Matches.SubmitResult)
		r.Post("/matches/{matchId}/cancel", cfg.Matches.CancelMatch)
		r.Post("/matches/{matchId}/disputes", cfg.Matches.RaiseDispute)

		r.Get("/wallet", cfg.Wallet.GetBalance)
		r.Get("/wallet/entries", cfg.Wallet.ListEntries)
		r.Post("/wallet/withdrawals", cfg.Wallet.RequestWithdrawal)

		// Moderator endpoints
		r.Group(func(r chi.Router) {
			r.Use(mW.RequireRole(mW.RoleModerator))

			r.Post("/matches/{matchId}/settle", cfg.Matches.SettleMatch)

			r.Get("/disputes", cfg.Disputes.ListOpen)
			r.Get("/disputes/{disputeId}", cfg.Disputes.GetDispute)
			r.Post("/disputes/{disputeId}/resolve", cfg.Disputes.Resolve)

			r.Post("/wallet/deposits", cfg.Wallet.Deposit)
			r.Get("/withdrawals/pending", cfg.Wallet.PendingWithdrawals)
			r.Post("/withdrawals/{requestId}/review", cfg.Wallet.ReviewWithdrawal)
		})
	})

	return r
}
