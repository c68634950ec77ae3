package apierror

import (
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestCodeStatusMapping(t *testing.T) {
	cases := map[Code]int{
		CodeValidation:         http.StatusBadRequest,
		CodeRateLimitExceeded:  http.StatusTooManyRequests,
		CodePayloadTooLarge:    http.StatusRequestEntityTooLarge,
		CodeTenantMismatch:     http.StatusForbidden,
		CodeTimeout:            http.StatusGatewayTimeout,
		CodeServiceUnavailable: http.StatusServiceUnavailable,
	}
	for code, want := range cases {
		if got := code.HTTPStatus(); got != want {
			t.Errorf("%s: got %d, want %d", code, got, want)
		}
	}
	if got := Code("BOGUS").HTTPStatus(); got != http.StatusInternalServerError {
		t.Errorf("unknown code must map to 500, got %d", got)
	}
}

func TestEnvelopeShape(t *testing.T) {
	env := New(CodeRateLimitExceeded, "rate limit exceeded", "req-1", time.Now()).
		WithRetryAfter(30).
		WithTrace("trace-abc")

	if env.Success {
		t.Error("success must be false")
	}
	if env.Err.RetryAfter != 30 {
		t.Errorf("retry_after = %d", env.Err.RetryAfter)
	}
	if env.Trace == nil || env.Trace.TraceID != "trace-abc" {
		t.Error("trace not attached")
	}
	if !strings.Contains(env.Error(), "RATE_LIMIT_EXCEEDED") {
		t.Errorf("error string: %s", env.Error())
	}
}

func TestScrub(t *testing.T) {
	in := "failed to connect: password=hunter2 token=abc"
	out := Scrub(in)
	if strings.Contains(out, "hunter2") || strings.Contains(out, "token=abc") {
		t.Errorf("credentials leaked: %s", out)
	}
	if !strings.Contains(out, "[redacted]") {
		t.Errorf("expected redaction marker: %s", out)
	}
}
