// ABOUTME: Forward-auth HTTP handler consumed by the reverse proxy
// ABOUTME: Extracts instance id and token from proxy headers and answers 200 or 401

package forwardauth

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/openclaw/forward-auth/internal/terminaltoken"
)

// Request headers set by the reverse proxy.
const (
	HeaderInstanceID   = "X-Openclaw-Instance-Id"
	HeaderForwardedURI = "X-Forwarded-Uri"
)

const (
	// HealthPath is the liveness probe; it never runs authentication.
	HealthPath = "/healthz"

	// TokenParam is the query parameter of the forwarded URI carrying the token.
	TokenParam = "token"

	bodyHealthy      = "ok"
	bodyAuthorized   = "OK"
	bodyUnauthorized = "Unauthorized"
)

// placeholderBase resolves relative forwarded URIs; only the query matters.
var placeholderBase = &url.URL{Scheme: "http", Host: "localhost", Path: "/"}

// Decision is the binary outcome of a forward-auth check.
type Decision int

const (
	Unauthorized Decision = iota
	Authorized
)

func (d Decision) String() string {
	if d == Authorized {
		return "authorized"
	}
	return "unauthorized"
}

// Rejection reasons. They are logged and counted, never sent to the client.
const (
	ReasonMissingHeaders     = "missing_headers"
	ReasonInvalidURI         = "invalid_uri"
	ReasonMissingToken       = "missing_token"
	ReasonMalformedToken     = "malformed_token"
	ReasonExpiredToken       = "expired_token"
	ReasonSignatureTooShort  = "signature_too_short"
	ReasonSignatureMismatch  = "signature_mismatch"
	ReasonVerificationFailed = "verification_failed"
)

// TokenChecker verifies a token for an instance at a given unix time.
// *terminaltoken.Validator satisfies it.
type TokenChecker interface {
	Check(instanceID, token string, now int64) error
}

// Observer receives decision and request measurements. *metrics.Metrics
// satisfies it.
type Observer interface {
	ObserveDecision(decision, reason string)
	ObserveRequest(route string, status int, d time.Duration)
}

type noopObserver struct{}

func (noopObserver) ObserveDecision(string, string) {}

func (noopObserver) ObserveRequest(string, int, time.Duration) {}

// AuthRequest is the per-call input derived from the proxy's headers.
type AuthRequest struct {
	InstanceID   string
	ForwardedURI string
	Token        string
}

// Handler answers forward-auth subrequests.
type Handler struct {
	tokens   TokenChecker
	now      func() time.Time
	logger   *slog.Logger
	observer Observer
}

// Option configures a Handler.
type Option func(*Handler)

// WithClock overrides the time source used for token freshness.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

// WithObserver sets the receiver for decision metrics.
func WithObserver(o Observer) Option {
	return func(h *Handler) {
		if o != nil {
			h.observer = o
		}
	}
}

// NewHandler creates a forward-auth handler backed by tokens.
func NewHandler(tokens TokenChecker, logger *slog.Logger, opts ...Option) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{
		tokens:   tokens,
		now:      time.Now,
		logger:   logger,
		observer: noopObserver{},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ServeHTTP routes the liveness probe and treats every other path as a check.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == HealthPath {
		writeText(w, http.StatusOK, bodyHealthy)
		return
	}

	decision, reason := h.authorize(r)
	h.observer.ObserveDecision(decision.String(), reason)

	if decision != Authorized {
		h.logger.Debug("forward-auth rejected",
			"instance_id", r.Header.Get(HeaderInstanceID),
			"reason", reason,
			"request_id", RequestIDFromContext(r.Context()),
		)
		writeText(w, http.StatusUnauthorized, bodyUnauthorized)
		return
	}

	writeText(w, http.StatusOK, bodyAuthorized)
}

// authorize computes the decision for r and, on rejection, the reason.
func (h *Handler) authorize(r *http.Request) (Decision, string) {
	req, reason := ExtractAuthRequest(r)
	if reason != "" {
		return Unauthorized, reason
	}

	if err := h.tokens.Check(req.InstanceID, req.Token, h.now().Unix()); err != nil {
		return Unauthorized, reasonFor(err)
	}
	return Authorized, ""
}

// ExtractAuthRequest reads the instance id and forwarded URI headers and pulls
// the token out of the URI's query. A non-empty reason means the request is
// rejected before any token verification.
func ExtractAuthRequest(r *http.Request) (AuthRequest, string) {
	req := AuthRequest{
		InstanceID:   strings.TrimSpace(r.Header.Get(HeaderInstanceID)),
		ForwardedURI: strings.TrimSpace(r.Header.Get(HeaderForwardedURI)),
	}
	if req.InstanceID == "" || req.ForwardedURI == "" {
		return req, ReasonMissingHeaders
	}

	u, err := placeholderBase.Parse(req.ForwardedURI)
	if err != nil {
		return req, ReasonInvalidURI
	}

	req.Token = u.Query().Get(TokenParam)
	if req.Token == "" {
		return req, ReasonMissingToken
	}
	return req, ""
}

func reasonFor(err error) string {
	switch {
	case errors.Is(err, terminaltoken.ErrMalformedToken):
		return ReasonMalformedToken
	case errors.Is(err, terminaltoken.ErrExpiredToken):
		return ReasonExpiredToken
	case errors.Is(err, terminaltoken.ErrSignatureTooShort):
		return ReasonSignatureTooShort
	case errors.Is(err, terminaltoken.ErrSignatureMismatch):
		return ReasonSignatureMismatch
	default:
		return ReasonVerificationFailed
	}
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}
