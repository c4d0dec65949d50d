// Package device speaks the signed heartbeat/report protocol to the hub.
package device

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"autojs-hub/protocol"
)

// ErrUnauthorized means the hub rejected the device signature or timestamp.
var ErrUnauthorized = errors.New("device unauthorized")

type Client struct {
	BaseURL       string
	DeviceCode    string
	Certificate   string
	AutoJsVersion string
	HTTP          *http.Client
	Now           func() time.Time
}

func (c *Client) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return http.DefaultClient
}

// Heartbeat long-polls for instructions. The request may be held by the hub
// for up to pollTimeout.
func (c *Client) Heartbeat(ctx context.Context, pollTimeout time.Duration) (*protocol.HeartbeatResponse, error) {
	ts := c.now().UnixMilli()
	req := protocol.HeartbeatRequest{
		DeviceCode:    c.DeviceCode,
		Timestamp:     ts,
		Signature:     protocol.SignHeartbeat(c.DeviceCode, ts, c.Certificate),
		AutoJsVersion: c.AutoJsVersion,
		DeviceInfo:    map[string]any{"os": runtime.GOOS, "arch": runtime.GOARCH},
		PollTimeout:   int(pollTimeout / time.Second),
	}
	// leave room for the hub to answer after the hold expires
	ctx, cancel := context.WithTimeout(ctx, pollTimeout+10*time.Second)
	defer cancel()

	var resp protocol.HeartbeatResponse
	if err := c.post(ctx, "/api/device/heartbeat", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Result is what a device reports for one instruction.
type Result struct {
	Status       string
	StartTime    time.Time
	EndTime      time.Time // zero for an interim running report
	Output       string
	ErrorMessage string
	Metrics      map[string]any
}

func (c *Client) Report(ctx context.Context, instructionID string, res Result) (*protocol.ReportResponse, error) {
	ts := c.now().UnixMilli()
	req := protocol.ReportRequest{
		DeviceCode:       c.DeviceCode,
		Timestamp:        ts,
		Signature:        protocol.SignReport(c.DeviceCode, instructionID, ts, c.Certificate),
		InstructionID:    instructionID,
		Status:           res.Status,
		StartTime:        res.StartTime.UnixMilli(),
		Output:           res.Output,
		ErrorMessage:     res.ErrorMessage,
		ExecutionMetrics: res.Metrics,
	}
	if !res.EndTime.IsZero() {
		req.EndTime = res.EndTime.UnixMilli()
	}
	var resp protocol.ReportResponse
	if err := c.post(ctx, "/api/device/report", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return ErrUnauthorized
	case resp.StatusCode >= 300:
		return fmt.Errorf("post %s: status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
