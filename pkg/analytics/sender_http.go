package analytics

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/insightflo/perfmon/pkg/types"
)

// Sender delivers one batch of analytics events
type Sender interface {
	Send(ctx context.Context, batch []types.AnalyticsEvent) error
}

type wireEvent struct {
	Name       string         `json:"name"`
	Value      float64        `json:"value"`
	Timestamp  string         `json:"timestamp"`
	Properties map[string]any `json:"properties,omitempty"`
}

type wireBatch struct {
	Events    []wireEvent `json:"events"`
	DSN       string      `json:"dsn,omitempty"`
	ProjectID string      `json:"project_id,omitempty"`
}

// encodeBatch renders the analytics wire body. The DSN wins over the
// project id when both are configured. Events carrying NaN or infinite
// numbers cannot be represented in JSON and are left out of the body.
func encodeBatch(batch []types.AnalyticsEvent, dsn, projectID string) ([]byte, error) {
	body := wireBatch{Events: make([]wireEvent, 0, len(batch))}
	if dsn != "" {
		body.DSN = dsn
	} else {
		body.ProjectID = projectID
	}

	for _, e := range batch {
		if !finite(e.Value()) || !finiteProperties(e.Properties) {
			log.WithFields(log.Fields{
				"component": "analytics",
				"event":     e.Name,
				"type":      e.Type,
			}).Warn("Dropping analytics event with non-finite number")
			continue
		}

		props := make(map[string]any, len(e.Properties)+3)
		for k, v := range e.Properties {
			props[k] = v
		}
		props["event_type"] = string(e.Type)
		if e.UserID != "" {
			props["user_id"] = e.UserID
		}
		if e.SessionID != "" {
			props["session_id"] = e.SessionID
		}

		body.Events = append(body.Events, wireEvent{
			Name:       e.Name,
			Value:      e.Value(),
			Timestamp:  e.Timestamp.UTC().Format(time.RFC3339Nano),
			Properties: props,
		})
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode analytics batch: %w", err)
	}
	return data, nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func finiteProperties(props map[string]any) bool {
	for _, v := range props {
		switch n := v.(type) {
		case float64:
			if !finite(n) {
				return false
			}
		case float32:
			if !finite(float64(n)) {
				return false
			}
		case map[string]any:
			if !finiteProperties(n) {
				return false
			}
		}
	}
	return true
}

// HTTPSender posts batches as JSON to the analytics endpoint
type HTTPSender struct {
	endpoint  string
	dsn       string
	projectID string
	userAgent string
	client    *http.Client
}

// NewHTTPSender creates a sender. A nil client gets one bounded by the
// configured send timeout.
func NewHTTPSender(cfg types.TransportConfig, client *http.Client) *HTTPSender {
	if client == nil {
		client = &http.Client{Timeout: cfg.SendTimeout}
	}
	return &HTTPSender{
		endpoint:  cfg.Endpoint,
		dsn:       cfg.DSN,
		projectID: cfg.ProjectID,
		userAgent: cfg.UserAgent,
		client:    client,
	}
}

func (s *HTTPSender) Send(ctx context.Context, batch []types.AnalyticsEvent) error {
	body, err := encodeBatch(batch, s.dsn, s.projectID)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build analytics request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", s.userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(snippet))}
	}
	return nil
}
