// Package billing exposes the billing engine over HTTP: the provider webhook
// endpoint, scheduler-driven cron endpoints, and the checkout/portal surface.
package billing

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	billingcore "github.com/brickrecipes/billing/pkg/billing"
	"github.com/brickrecipes/billing/pkg/entitlement"
	"github.com/brickrecipes/billing/pkg/logger"
	"github.com/brickrecipes/billing/pkg/plans"
	"github.com/brickrecipes/billing/pkg/usage"
)

// Webhook payloads are small JSON documents; anything larger is abuse.
const maxWebhookBody = 64 << 10

// Config carries the module's own settings.
type Config struct {
	CronSecret string `env:"CRON_SECRET,required"`
}

// Services are the engine components the router dispatches into.
type Services struct {
	Reconciler *billingcore.Reconciler
	Checkout   *billingcore.Checkout
	Sweeper    *billingcore.Sweeper
	Limiter    *usage.Limiter
	Log        *slog.Logger
}

// Router mounts the billing endpoints. Cron endpoints are gated by a shared
// bearer secret since they are called by an external scheduler, not users.
func Router(cfg Config, svc Services) chi.Router {
	if svc.Reconciler == nil || svc.Checkout == nil || svc.Sweeper == nil || svc.Limiter == nil {
		panic("billing: all services are required")
	}
	if svc.Log == nil {
		svc.Log = logger.Noop()
	}
	h := &handlers{svc: svc}

	r := chi.NewRouter()
	r.Post("/webhooks/stripe", h.webhook)
	r.Post("/checkout", h.checkout)
	r.Post("/portal", h.portal)
	r.Get("/usage/check", h.usageCheck)
	r.Post("/usage/increment", h.usageIncrement)
	r.Route("/cron", func(cron chi.Router) {
		cron.Use(requireCronSecret(cfg.CronSecret))
		cron.Post("/sweep", h.sweep)
		cron.Post("/reset-usage", h.resetUsage)
	})
	return r
}

type handlers struct {
	svc Services
}

// webhook acknowledges everything the reconciler concluded on. Only invalid
// deliveries and transient failures get a non-2xx, which is what makes the
// provider redeliver.
func (h *handlers) webhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable payload")
		return
	}

	result, err := h.svc.Reconciler.Handle(r.Context(), payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		if result.Outcome == billingcore.OutcomeRejected {
			writeError(w, http.StatusBadRequest, result.Reason)
			return
		}
		h.svc.Log.ErrorContext(r.Context(), "webhook processing failed, provider will redeliver", logger.Error(err))
		writeError(w, http.StatusInternalServerError, "temporary failure")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"received": true,
		"outcome":  result.Outcome,
		"reason":   result.Reason,
	})
}

type checkoutRequest struct {
	UserID     string `json:"user_id"`
	Email      string `json:"email"`
	Plan       string `json:"plan"`
	Period     string `json:"period"`
	SuccessURL string `json:"success_url"`
	CancelURL  string `json:"cancel_url"`
	Locale     string `json:"locale,omitempty"`
}

func (h *handlers) checkout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	result, err := h.svc.Checkout.Create(r.Context(), billingcore.CheckoutRequest{
		UserID:     req.UserID,
		Email:      req.Email,
		Plan:       plans.Plan(req.Plan),
		Period:     plans.Period(req.Period),
		SuccessURL: req.SuccessURL,
		CancelURL:  req.CancelURL,
		Locale:     req.Locale,
	})
	if err != nil {
		switch {
		case errors.Is(err, billingcore.ErrInvalidPlan), errors.Is(err, billingcore.ErrMissingField):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			h.svc.Log.ErrorContext(r.Context(), "checkout session creation failed",
				logger.UserID(req.UserID), logger.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to create checkout session")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"session_id": result.SessionID,
		"url":        result.URL,
	})
}

type portalRequest struct {
	UserID    string `json:"user_id"`
	ReturnURL string `json:"return_url"`
}

func (h *handlers) portal(w http.ResponseWriter, r *http.Request) {
	var req portalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	url, err := h.svc.Checkout.PortalSession(r.Context(), req.UserID, req.ReturnURL)
	if err != nil {
		switch {
		case errors.Is(err, billingcore.ErrMissingField):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, entitlement.ErrUserNotFound):
			writeError(w, http.StatusNotFound, "user not found")
		case errors.Is(err, billingcore.ErrNoCustomerForUser):
			writeError(w, http.StatusConflict, "user has no billing profile")
		default:
			h.svc.Log.ErrorContext(r.Context(), "portal session creation failed",
				logger.UserID(req.UserID), logger.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to create portal session")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

func (h *handlers) usageCheck(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	kind := entitlement.UsageKind(r.URL.Query().Get("kind"))
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	check, err := h.svc.Limiter.CheckLimit(r.Context(), userID, kind)
	if err != nil {
		switch {
		case errors.Is(err, entitlement.ErrInvalidUsageKind):
			writeError(w, http.StatusBadRequest, "unknown usage kind")
		case errors.Is(err, entitlement.ErrUserNotFound):
			writeError(w, http.StatusNotFound, "user not found")
		default:
			h.svc.Log.ErrorContext(r.Context(), "usage check failed",
				logger.UserID(userID), logger.Error(err))
			writeError(w, http.StatusInternalServerError, "usage check failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"allowed":   check.Allowed,
		"current":   check.Current,
		"limit":     check.Limit,
		"unlimited": check.Unlimited,
	})
}

type usageIncrementRequest struct {
	UserID string `json:"user_id"`
	Kind   string `json:"kind"`
	Amount int    `json:"amount,omitempty"`
}

// usageIncrement advances a counter after a completed action. A missing or
// non-positive amount counts a single action.
func (h *handlers) usageIncrement(w http.ResponseWriter, r *http.Request) {
	var req usageIncrementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	current, err := h.svc.Limiter.Record(r.Context(), req.UserID, entitlement.UsageKind(req.Kind), req.Amount)
	if err != nil {
		switch {
		case errors.Is(err, entitlement.ErrInvalidUsageKind):
			writeError(w, http.StatusBadRequest, "unknown usage kind")
		case errors.Is(err, entitlement.ErrUserNotFound):
			writeError(w, http.StatusNotFound, "user not found")
		default:
			h.svc.Log.ErrorContext(r.Context(), "usage increment failed",
				logger.UserID(req.UserID), logger.Error(err))
			writeError(w, http.StatusInternalServerError, "usage increment failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{"current": current})
}

func (h *handlers) sweep(w http.ResponseWriter, r *http.Request) {
	expired, err := h.svc.Sweeper.Sweep(r.Context())
	if err != nil {
		h.svc.Log.ErrorContext(r.Context(), "expiration sweep failed", logger.Error(err))
		writeError(w, http.StatusInternalServerError, "sweep failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"expired": expired})
}

func (h *handlers) resetUsage(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Limiter.ResetAll(r.Context()); err != nil {
		h.svc.Log.ErrorContext(r.Context(), "usage reset failed", logger.Error(err))
		writeError(w, http.StatusInternalServerError, "reset failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// requireCronSecret authenticates scheduler calls with a constant-time
// comparison against the shared secret.
func requireCronSecret(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if secret == "" || !ok || subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
