package instrumentation

import (
	"fmt"

	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the metric instruments recorded by the server.
type Metrics struct {
	// HTTP layer
	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram

	// Protocol engine
	AuthorizationRequests metric.Int64Counter
	TokensIssued          metric.Int64Counter
	ProtocolErrors        metric.Int64Counter

	// Security
	CodeReplayDetected metric.Int64Counter
	RateLimitExceeded  metric.Int64Counter
}

func newMetrics(inst *Instrumentation) (*Metrics, error) {
	httpMeter := inst.Meter("http")
	serverMeter := inst.Meter("server")
	securityMeter := inst.Meter("security")

	m := &Metrics{}
	var err error

	m.HTTPRequestsTotal, err = httpMeter.Int64Counter(
		"oauth.http.requests.total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http.requests.total counter: %w", err)
	}

	m.HTTPRequestDuration, err = httpMeter.Float64Histogram(
		"oauth.http.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http.request.duration histogram: %w", err)
	}

	m.AuthorizationRequests, err = serverMeter.Int64Counter(
		"oauth.authorization.requests",
		metric.WithDescription("Number of authorization-endpoint requests by response type and outcome"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create authorization.requests counter: %w", err)
	}

	m.TokensIssued, err = serverMeter.Int64Counter(
		"oauth.tokens.issued",
		metric.WithDescription("Number of token grants issued by grant type"),
		metric.WithUnit("{grant}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tokens.issued counter: %w", err)
	}

	m.ProtocolErrors, err = serverMeter.Int64Counter(
		"oauth.protocol.errors",
		metric.WithDescription("Number of protocol error responses by error code"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create protocol.errors counter: %w", err)
	}

	m.CodeReplayDetected, err = securityMeter.Int64Counter(
		"oauth.code.replay_detected",
		metric.WithDescription("Number of authorization code replay attempts detected"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create code.replay_detected counter: %w", err)
	}

	m.RateLimitExceeded, err = securityMeter.Int64Counter(
		"oauth.rate_limit.exceeded",
		metric.WithDescription("Number of rate limit violations"),
		metric.WithUnit("{violation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create rate_limit.exceeded counter: %w", err)
	}

	return m, nil
}
