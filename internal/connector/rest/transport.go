package rest

import (
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// loggingRoundTripper logs one line per request and one per response.
type loggingRoundTripper struct {
	base   http.RoundTripper
	logger *zap.Logger
}

func (t *loggingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	t.logger.Debug("repository request", zap.String("method", req.Method), zap.String("url", req.URL.String()))

	resp, err := t.base.RoundTrip(req)
	elapsed := time.Since(start).Truncate(time.Millisecond)
	if err != nil {
		t.logger.Debug("repository request failed", zap.Duration("elapsed", elapsed), zap.Error(err))
		return resp, err
	}
	t.logger.Debug("repository response",
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", elapsed),
	)
	return resp, err
}

// buildTransport layers request logging and bearer authentication over base.
func buildTransport(base http.RoundTripper, token string, verbose bool, logger *zap.Logger) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	transport := base
	if verbose {
		transport = &loggingRoundTripper{base: transport, logger: logger}
	}
	if token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		transport = &oauth2.Transport{Source: ts, Base: transport}
	}
	return transport
}
