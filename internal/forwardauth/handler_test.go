// ABOUTME: Tests for the forward-auth HTTP handler
// ABOUTME: Covers health bypass, header extraction, token decisions, and the proxy scenario

package forwardauth

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclaw/forward-auth/internal/terminaltoken"
)

var (
	testSecret = []byte("topsecret")
	testNow    = time.Unix(1_700_000_000, 0)
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func signedToken(instanceID string, issuedAt int64, n int) string {
	ts := strconv.FormatInt(issuedAt, 16)
	return ts + "." + terminaltoken.Digest(testSecret, instanceID, ts)[:n]
}

func newTestHandler(t *testing.T, now time.Time, opts ...Option) *Handler {
	t.Helper()
	v, err := terminaltoken.NewValidator(testSecret, terminaltoken.Options{TTLSeconds: terminaltoken.DefaultTTLSeconds})
	require.NoError(t, err)
	return NewHandler(v, discardLogger(), append([]Option{WithClock(fixedClock(now))}, opts...)...)
}

func doRequest(h http.Handler, path string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// recordingObserver captures decisions for assertions.
type recordingObserver struct {
	decisions []string
	reasons   []string
	routes    []string
	statuses  []int
}

func (o *recordingObserver) ObserveDecision(decision, reason string) {
	o.decisions = append(o.decisions, decision)
	o.reasons = append(o.reasons, reason)
}

func (o *recordingObserver) ObserveRequest(route string, status int, _ time.Duration) {
	o.routes = append(o.routes, route)
	o.statuses = append(o.statuses, status)
}

// countingChecker fails the test if verification is reached.
type countingChecker struct {
	calls int
}

func (c *countingChecker) Check(string, string, int64) error {
	c.calls++
	return errors.New("unexpected")
}

func TestHandler_ProxyScenario(t *testing.T) {
	const instanceID = "inst-42"
	ts := strconv.FormatInt(testNow.Unix(), 16)
	require.Equal(t, "6553f100", ts)

	sig := terminaltoken.Digest(testSecret, instanceID, ts)[:16]
	headers := map[string]string{
		"x-openclaw-instance-id": instanceID,
		"x-forwarded-uri":        "/term?token=" + ts + "." + sig,
	}

	rec := doRequest(newTestHandler(t, testNow), "/", headers)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
	assert.Equal(t, "text/plain; charset=utf-8", rec.Header().Get("Content-Type"))

	rec = doRequest(newTestHandler(t, time.Unix(1_700_086_400, 0)), "/", headers)
	assert.Equal(t, http.StatusOK, rec.Code, "exactly 24h old is still valid")

	rec = doRequest(newTestHandler(t, time.Unix(1_700_086_401, 0)), "/", headers)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Unauthorized", rec.Body.String())
	assert.Equal(t, "text/plain; charset=utf-8", rec.Header().Get("Content-Type"))
}

func TestHandler_FutureDatedTokenAccepted(t *testing.T) {
	// 0x655b3e00 is ahead of both clocks; freshness is one-sided.
	const ts = "655b3e00"
	sig := terminaltoken.Digest(testSecret, "inst-42", ts)[:16]
	headers := map[string]string{
		HeaderInstanceID:   "inst-42",
		HeaderForwardedURI: "/term?token=" + ts + "." + sig,
	}

	for _, now := range []int64{1_700_000_000, 1_700_086_401} {
		rec := doRequest(newTestHandler(t, time.Unix(now, 0)), "/", headers)
		assert.Equal(t, http.StatusOK, rec.Code, "now=%d", now)
	}
}

func TestHandler_Healthz(t *testing.T) {
	checker := &countingChecker{}
	obs := &recordingObserver{}
	h := NewHandler(checker, discardLogger(), WithObserver(obs))

	for _, headers := range []map[string]string{
		nil,
		{HeaderInstanceID: "inst-42"},
		{HeaderInstanceID: "inst-42", HeaderForwardedURI: "/term?token=garbage"},
	} {
		rec := doRequest(h, "/healthz", headers)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "ok", rec.Body.String())
		assert.Equal(t, "text/plain; charset=utf-8", rec.Header().Get("Content-Type"))
	}

	assert.Zero(t, checker.calls)
	assert.Empty(t, obs.decisions, "health checks are not auth decisions")
}

func TestHandler_HealthzWithoutValidator(t *testing.T) {
	h := NewHandler(nil, nil)

	rec := doRequest(h, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestHandler_MissingHeadersSkipTokenParsing(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
	}{
		{name: "no headers", headers: nil},
		{name: "missing instance id", headers: map[string]string{HeaderForwardedURI: "/t?token=a.b"}},
		{name: "missing forwarded uri", headers: map[string]string{HeaderInstanceID: "inst-42"}},
		{name: "whitespace instance id", headers: map[string]string{HeaderInstanceID: "   ", HeaderForwardedURI: "/t?token=a.b"}},
		{name: "whitespace forwarded uri", headers: map[string]string{HeaderInstanceID: "inst-42", HeaderForwardedURI: "\t "}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := &countingChecker{}
			obs := &recordingObserver{}
			h := NewHandler(checker, discardLogger(), WithObserver(obs))

			rec := doRequest(h, "/", tt.headers)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, "Unauthorized", rec.Body.String())
			assert.Zero(t, checker.calls)
			assert.Equal(t, []string{ReasonMissingHeaders}, obs.reasons)
		})
	}
}

func TestHandler_Rejections(t *testing.T) {
	valid := signedToken("inst-42", testNow.Unix(), 16)
	expired := signedToken("inst-42", testNow.Unix()-terminaltoken.DefaultTTLSeconds-1, 16)

	tests := []struct {
		name       string
		instanceID string
		uri        string
		wantReason string
	}{
		{name: "unparsable uri", instanceID: "inst-42", uri: "http://[::1/term?token=" + valid, wantReason: ReasonInvalidURI},
		{name: "no token param", instanceID: "inst-42", uri: "/term?other=1", wantReason: ReasonMissingToken},
		{name: "empty token param", instanceID: "inst-42", uri: "/term?token=", wantReason: ReasonMissingToken},
		{name: "no query", instanceID: "inst-42", uri: "/term", wantReason: ReasonMissingToken},
		{name: "token in fragment only", instanceID: "inst-42", uri: "/term#token=" + valid, wantReason: ReasonMissingToken},
		{name: "no separator", instanceID: "inst-42", uri: "/term?token=6553f100abcdef", wantReason: ReasonMalformedToken},
		{name: "non-hex timestamp", instanceID: "inst-42", uri: "/term?token=zz.abcdef", wantReason: ReasonMalformedToken},
		{name: "expired", instanceID: "inst-42", uri: "/term?token=" + expired, wantReason: ReasonExpiredToken},
		{name: "other instance", instanceID: "inst-43", uri: "/term?token=" + valid, wantReason: ReasonSignatureMismatch},
		{name: "forged signature", instanceID: "inst-42", uri: "/term?token=6553f100.0000000000000000", wantReason: ReasonSignatureMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obs := &recordingObserver{}
			h := newTestHandler(t, testNow, WithObserver(obs))

			rec := doRequest(h, "/", map[string]string{
				HeaderInstanceID:   tt.instanceID,
				HeaderForwardedURI: tt.uri,
			})

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, "Unauthorized", rec.Body.String(), "body must not reveal the reason")
			assert.Equal(t, []string{"unauthorized"}, obs.decisions)
			assert.Equal(t, []string{tt.wantReason}, obs.reasons)
		})
	}
}

func TestHandler_AcceptedURIForms(t *testing.T) {
	valid := signedToken("inst-42", testNow.Unix(), terminaltoken.DigestLength)

	uris := []string{
		"/terminal?token=" + valid,
		"terminal?token=" + valid,
		"?token=" + valid,
		"https://openclaw-inst-42.h1.openclaw.example.com/terminal?token=" + valid,
		"/terminal?foo=bar&token=" + valid + "&baz=1",
		"/terminal?token=" + valid + "&token=ignored",
		"  /terminal?token=" + valid + "  ",
	}

	for _, uri := range uris {
		obs := &recordingObserver{}
		h := newTestHandler(t, testNow, WithObserver(obs))
		rec := doRequest(h, "/any/path", map[string]string{
			HeaderInstanceID:   " inst-42 ",
			HeaderForwardedURI: uri,
		})
		assert.Equal(t, http.StatusOK, rec.Code, "uri %q", uri)
		assert.Equal(t, []string{"authorized"}, obs.decisions)
		assert.Equal(t, []string{""}, obs.reasons)
	}
}

func TestHandler_AnyPathIsACheck(t *testing.T) {
	h := newTestHandler(t, testNow)
	headers := map[string]string{
		HeaderInstanceID:   "inst-42",
		HeaderForwardedURI: "/terminal?token=" + signedToken("inst-42", testNow.Unix(), 16),
	}

	for _, path := range []string{"/", "/auth", "/healthz/extra", "/metrics"} {
		rec := doRequest(h, path, headers)
		assert.Equal(t, http.StatusOK, rec.Code, "path %q", path)
		assert.Equal(t, "OK", rec.Body.String())

		rec = doRequest(h, path, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "path %q", path)
	}
}

func TestHandler_UnknownCheckerErrorRejected(t *testing.T) {
	obs := &recordingObserver{}
	h := NewHandler(&countingChecker{}, discardLogger(), WithObserver(obs))

	rec := doRequest(h, "/", map[string]string{
		HeaderInstanceID:   "inst-42",
		HeaderForwardedURI: "/t?token=a.b",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, []string{ReasonVerificationFailed}, obs.reasons)
}

func TestExtractAuthRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-OPENCLAW-INSTANCE-ID", "  inst-42 ")
	req.Header.Set("x-forwarded-uri", "/terminal?token=abc.def%2B1")

	got, reason := ExtractAuthRequest(req)
	require.Empty(t, reason)
	assert.Equal(t, AuthRequest{
		InstanceID:   "inst-42",
		ForwardedURI: "/terminal?token=abc.def%2B1",
		Token:        "abc.def+1",
	}, got)
}

func TestDecision_String(t *testing.T) {
	assert.Equal(t, "authorized", Authorized.String())
	assert.Equal(t, "unauthorized", Unauthorized.String())
}
