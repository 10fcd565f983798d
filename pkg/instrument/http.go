// Package instrument provides producer hooks that time work and record it
// as performance data points.
package instrument

import (
	"context"
	"net/http"
	"time"

	"github.com/insightflo/perfmon/pkg/types"
)

// Recorder accepts data points. *collector.Collector implements it.
type Recorder interface {
	RecordMetricData(ctx context.Context, point types.MetricDataPoint)
}

// RoundTripper records an api point for every request it carries
type RoundTripper struct {
	transport http.RoundTripper
	recorder  Recorder
	clock     func() time.Time
}

// NewRoundTripper wraps transport, or http.DefaultTransport when nil
func NewRoundTripper(recorder Recorder, transport http.RoundTripper) *RoundTripper {
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &RoundTripper{
		transport: transport,
		recorder:  recorder,
		clock:     time.Now,
	}
}

// NewHTTPClient returns a copy of client whose requests are recorded
func NewHTTPClient(recorder Recorder, client *http.Client) *http.Client {
	if client == nil {
		client = &http.Client{}
	}
	wrapped := *client
	wrapped.Transport = NewRoundTripper(recorder, client.Transport)
	return &wrapped
}

// RoundTrip implements http.RoundTripper
func (rt *RoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	start := rt.clock()
	resp, err := rt.transport.RoundTrip(req)
	duration := rt.clock().Sub(start)

	endpoint := req.URL.Host + req.URL.Path
	detail := types.APIDetail{
		Method:   req.Method,
		Endpoint: endpoint,
		Err:      err != nil,
	}
	if resp != nil {
		detail.StatusCode = resp.StatusCode
		detail.Err = detail.Err || resp.StatusCode >= 400
	}

	rt.recorder.RecordMetricData(req.Context(), types.NewAPIPoint(req.Method+" "+endpoint, duration, detail))
	return resp, err
}
