// Package gateway talks to the remote patient/telemetry service that is the
// source of truth for everything the monitor displays.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"vitalwatch/internal/config"
	"vitalwatch/internal/model"
)

// Error carries the gateway's own failure message so it can be shown to
// users without translation.
type Error struct {
	Op      string
	Status  int
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

type Client struct {
	http   *resty.Client
	logger *zap.Logger
}

func New(cfg config.GatewayConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(timeout).
		SetRetryCount(0).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if cfg.UserAgent != "" {
		client.SetHeader("User-Agent", cfg.UserAgent)
	}
	return &Client{http: client, logger: logger}
}

func (c *Client) request(ctx context.Context) *resty.Request {
	return c.http.R().
		SetContext(ctx).
		SetHeader("X-Request-ID", uuid.NewString())
}

func (c *Client) ListPatients(ctx context.Context) ([]model.Patient, error) {
	var wire []wirePatient
	if err := c.do(ctx, "list patients", http.MethodGet, "/patients", nil, &wire); err != nil {
		return nil, err
	}
	out := make([]model.Patient, 0, len(wire))
	for _, w := range wire {
		out = append(out, w.toModel())
	}
	return out, nil
}

func (c *Client) ListAlerts(ctx context.Context) ([]model.Alert, error) {
	var wire []wireAlert
	if err := c.do(ctx, "list alerts", http.MethodGet, "/alerts", nil, &wire); err != nil {
		return nil, err
	}
	out := make([]model.Alert, 0, len(wire))
	for _, w := range wire {
		out = append(out, w.toModel())
	}
	return out, nil
}

// GetStats returns whatever subset of the stats the gateway supplies.
func (c *Client) GetStats(ctx context.Context) (*model.StatsReport, error) {
	var wire wireStats
	if err := c.do(ctx, "get stats", http.MethodGet, "/stats", nil, &wire); err != nil {
		return nil, err
	}
	return wire.toModel(), nil
}

// CreatePatient returns the stored patient when the gateway echoes it back;
// an empty body yields a zero Patient.
func (c *Client) CreatePatient(ctx context.Context, in model.PatientInput) (model.Patient, error) {
	var wire wirePatient
	if err := c.do(ctx, "create patient", http.MethodPost, "/patients", in, &wire); err != nil {
		return model.Patient{}, err
	}
	return wire.toModel(), nil
}

func (c *Client) UpdatePatient(ctx context.Context, id string, in model.PatientInput) error {
	return c.do(ctx, "update patient", http.MethodPut, "/patients/"+url.PathEscape(strings.TrimSpace(id)), in, nil)
}

func (c *Client) DeletePatient(ctx context.Context, id string) error {
	return c.do(ctx, "delete patient", http.MethodDelete, "/patients/"+url.PathEscape(strings.TrimSpace(id)), nil, nil)
}

func (c *Client) SendTelemetry(ctx context.Context, reading model.TelemetryReading) (model.TelemetryResult, error) {
	var result struct {
		AlertTriggered flexBool `json:"alert_triggered"`
		Issue          string   `json:"issue"`
	}
	if err := c.do(ctx, "send telemetry", http.MethodPost, "/telemetry", reading, &result); err != nil {
		return model.TelemetryResult{}, err
	}
	return model.TelemetryResult{AlertTriggered: bool(result.AlertTriggered), Issue: result.Issue}, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, body, out any) error {
	req := c.request(ctx)
	if body != nil {
		req.SetBody(body)
	}
	started := time.Now()
	resp, err := req.Execute(method, path)
	if err != nil {
		c.logger.Warn("gateway call failed",
			zap.String("op", op),
			zap.String("path", path),
			zap.Error(err),
		)
		return &Error{Op: op, Message: err.Error()}
	}
	c.logger.Debug("gateway call",
		zap.String("op", op),
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status_code", resp.StatusCode()),
		zap.Duration("elapsed", time.Since(started)),
	)
	if resp.IsError() {
		gerr := &Error{Op: op, Status: resp.StatusCode(), Message: errorMessage(resp)}
		c.logger.Warn("gateway returned error",
			zap.String("op", op),
			zap.Int("status_code", gerr.Status),
			zap.String("msg", gerr.Message),
		)
		return gerr
	}
	if out == nil {
		return nil
	}
	raw := resp.Body()
	if len(strings.TrimSpace(string(raw))) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &Error{Op: op, Status: resp.StatusCode(), Message: fmt.Sprintf("%s: malformed response: %v", op, err)}
	}
	return nil
}

func errorMessage(resp *resty.Response) string {
	raw := strings.TrimSpace(string(resp.Body()))
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
		Detail  string `json:"detail"`
	}
	if raw != "" && json.Unmarshal([]byte(raw), &body) == nil {
		for _, msg := range []string{body.Error, body.Message, body.Detail} {
			if strings.TrimSpace(msg) != "" {
				return msg
			}
		}
	}
	if raw != "" && !strings.HasPrefix(raw, "{") {
		return raw
	}
	if status := resp.Status(); status != "" {
		return status
	}
	return http.StatusText(resp.StatusCode())
}
