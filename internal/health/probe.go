package health

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrProbeTimeout marks a readiness probe that failed to answer within its
// deadline. Connection refused and timeout are classified identically; both
// count toward the consecutive-failure threshold.
var ErrProbeTimeout = errors.New("readiness probe timed out")

// Prober checks whether a unit's declared endpoint answers readiness.
type Prober interface {
	Probe(ctx context.Context, url string) error
}

// HTTPProber probes with a bounded-timeout GET. Any 2xx or 3xx response is
// ready; redirects from units that serve a UI are common and fine.
type HTTPProber struct {
	Client *http.Client
}

func NewHTTPProber(timeout time.Duration) *HTTPProber {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &HTTPProber{Client: &http.Client{
		Timeout: timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}}
}

func (p *HTTPProber) Probe(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		// Refused, unreachable and deadline exceeded all read the same to
		// the classifier.
		return fmt.Errorf("%w: %v", ErrProbeTimeout, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 200 && resp.StatusCode < 400 {
		return nil
	}
	return fmt.Errorf("%w: status %d", ErrProbeTimeout, resp.StatusCode)
}
