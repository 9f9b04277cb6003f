package security

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func newCapturedAuditor(enabled bool) (*Auditor, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	return NewAuditor(logger, enabled), &buf
}

func TestAuditorDisabled(t *testing.T) {
	auditor, buf := newCapturedAuditor(false)
	auditor.LogTokenIssued("user-1", "client-1", "203.0.113.7", "password", "read")
	if buf.Len() != 0 {
		t.Errorf("disabled auditor wrote: %q", buf.String())
	}
}

func TestAuditorHashesUserID(t *testing.T) {
	auditor, buf := newCapturedAuditor(true)
	auditor.LogTokenIssued("user-1", "client-1", "203.0.113.7", "password", "read")

	out := buf.String()
	if strings.Contains(out, `"user-1"`) {
		t.Error("raw user identifier leaked into the log")
	}
	if !strings.Contains(out, "token_issued") {
		t.Errorf("missing event type: %q", out)
	}
	if !strings.Contains(out, "client-1") {
		t.Errorf("missing client id: %q", out)
	}
}

func TestAuditorEventTypes(t *testing.T) {
	auditor, buf := newCapturedAuditor(true)

	auditor.LogAuthorizationRequested("client-1", "203.0.113.7", "code")
	auditor.LogCodeReplay("client-1", "203.0.113.7", 2)
	auditor.LogAuthFailure("", "client-1", "203.0.113.7", "bad secret")
	auditor.LogProtocolError("client-1", "203.0.113.7", "token", "invalid_grant")
	auditor.LogRateLimitExceeded("203.0.113.7")

	out := buf.String()
	for _, want := range []string{
		"authorization_requested",
		"authorization_code_replay",
		"auth_failure",
		"protocol_error",
		"rate_limit_exceeded",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing event %q in output", want)
		}
	}
}

func TestHashForLogging(t *testing.T) {
	if got := hashForLogging(""); got != "<empty>" {
		t.Errorf("empty input: got %q", got)
	}
	a := hashForLogging("alice")
	if len(a) != 16 {
		t.Errorf("hash length: got %d", len(a))
	}
	if a != hashForLogging("alice") {
		t.Error("hash not stable")
	}
	if a == hashForLogging("bob") {
		t.Error("distinct inputs collided")
	}
}
