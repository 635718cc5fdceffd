// Package httptransport is the thin HTTP layer over the login orchestrator.
// It parses the two inbound surfaces (GET / and POST /), delegates to the
// orchestrator, and renders its outcome. Classification lives in the
// orchestrator; this package only maps reasons to pages and status codes.
package httptransport

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"leihsldap/internal/login"
	"leihsldap/internal/platform/middleware"
)

// Orchestrator is the login service this handler delegates to.
type Orchestrator interface {
	Prompt(rawToken string) (*login.Prompt, error)
	Login(ctx context.Context, rawToken, password string) (string, error)
}

// Handler serves the login form and processes login attempts.
type Handler struct {
	logger       *slog.Logger
	orchestrator Orchestrator
	pages        *Pages
}

func New(orchestrator Orchestrator, pages *Pages, logger *slog.Logger) *Handler {
	return &Handler{
		logger:       logger,
		orchestrator: orchestrator,
		pages:        pages,
	}
}

// Register registers the login routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/", h.handleLoginPage)
	r.Post("/", h.handleLogin)
}

// handleLoginPage renders the login form for a verified sign-in request
// token. The token is carried through the form as a hidden field.
func (h *Handler) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	prompt, err := h.orchestrator.Prompt(r.URL.Query().Get("token"))
	if err != nil {
		h.renderFailure(w, r, err)
		return
	}
	h.pages.RenderLogin(w, prompt)
}

// handleLogin processes the submitted form. On success the browser is
// redirected back to the downstream system with the success token.
func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.pages.RenderError(w, string(login.ReasonInvalidToken), http.StatusBadRequest)
		return
	}

	redirect, err := h.orchestrator.Login(
		r.Context(),
		r.PostFormValue("token"),
		r.PostFormValue("password"),
	)
	if err != nil {
		h.renderFailure(w, r, err)
		return
	}

	http.Redirect(w, r, redirect, http.StatusFound)
}

// renderFailure translates a classified login failure into an error page.
// This is the only reason-to-status mapping in the whole service.
func (h *Handler) renderFailure(w http.ResponseWriter, r *http.Request, err error) {
	reason := login.ReasonInternal
	var failure *login.Failure
	if errors.As(err, &failure) {
		reason = failure.Reason
	}

	status := statusFor(reason)
	logLevel := slog.LevelWarn
	if status >= http.StatusInternalServerError {
		logLevel = slog.LevelError
	}
	h.logger.Log(r.Context(), logLevel, "login attempt failed",
		"reason", string(reason),
		"status", status,
		"request_id", middleware.GetRequestID(r.Context()),
		"error", err,
	)

	h.pages.RenderError(w, string(reason), status)
}

func statusFor(reason login.Reason) int {
	switch reason {
	case login.ReasonNoToken, login.ReasonInvalidToken, login.ReasonExpiredToken:
		return http.StatusBadRequest
	case login.ReasonInvalidCredentials:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
