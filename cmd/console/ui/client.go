package ui

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"

	"autojs-hub/backend/app/dispatch"
	"autojs-hub/backend/app/dto"
)

// Session talks to the hub admin API with the JWT obtained at login.
type Session struct {
	BaseURL string
	Token   string
	HTTP    *http.Client

	events chan tea.Msg
	mu     sync.Mutex
	conn   *websocket.Conn
}

func NewSession(baseURL string) *Session {
	return &Session{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    http.DefaultClient,
		events:  make(chan tea.Msg, 64),
	}
}

// APIError is a non-2xx answer from the hub.
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string { return fmt.Sprintf("%d: %s", e.Code, e.Message) }

func (s *Session) do(ctx context.Context, method, path string, body, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, s.BaseURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.Token)
	}
	resp, err := s.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		var e dto.ErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return &APIError{Code: resp.StatusCode, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (s *Session) Login(ctx context.Context, username, password string) error {
	var tok dto.TokenResponse
	if err := s.do(ctx, http.MethodPost, "/login", dto.LoginRequest{Username: username, Password: password}, &tok); err != nil {
		return err
	}
	if tok.AccessToken == "" {
		return errors.New("empty token")
	}
	s.Token = tok.AccessToken
	return nil
}

func (s *Session) Devices(ctx context.Context) ([]dto.DeviceSummary, error) {
	var out []dto.DeviceSummary
	return out, s.do(ctx, http.MethodGet, "/admin/devices", nil, &out)
}

func (s *Session) Tasks(ctx context.Context, limit int) ([]dto.TaskResponse, error) {
	var out []dto.TaskResponse
	return out, s.do(ctx, http.MethodGet, fmt.Sprintf("/admin/tasks?limit=%d", limit), nil, &out)
}

func (s *Session) Task(ctx context.Context, id uint) (*dto.TaskDetailResponse, error) {
	var out dto.TaskDetailResponse
	if err := s.do(ctx, http.MethodGet, fmt.Sprintf("/admin/tasks/%d", id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// TaskAction posts cancel, pause or resume for a task.
func (s *Session) TaskAction(ctx context.Context, id uint, action string) (*dto.TaskResponse, error) {
	var out dto.TaskResponse
	if err := s.do(ctx, http.MethodPost, fmt.Sprintf("/admin/tasks/%d/%s", id, action), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *Session) SendInstruction(ctx context.Context, req dto.SendInstructionRequest) (*dispatch.DeviceInstruction, error) {
	var out dispatch.DeviceInstruction
	if err := s.do(ctx, http.MethodPost, "/admin/instructions", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// EventMsg carries one hub event into the bubbletea loop.
type EventMsg struct {
	Event dispatch.Event
	Err   error
}

// StartEvents opens the event websocket. Events arrive through WaitForEvent.
func (s *Session) StartEvents() error {
	u, err := url.Parse(s.BaseURL)
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/admin/events"
	header := http.Header{}
	header.Set("Authorization", "Bearer "+s.Token)
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), header)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	go s.readEvents(conn)
	return nil
}

func (s *Session) readEvents(conn *websocket.Conn) {
	for {
		var ev dispatch.Event
		if err := conn.ReadJSON(&ev); err != nil {
			s.events <- EventMsg{Err: fmt.Errorf("event stream closed: %w", err)}
			return
		}
		s.events <- EventMsg{Event: ev}
	}
}

// WaitForEvent is a tea.Cmd that blocks for the next event.
func (s *Session) WaitForEvent() tea.Msg { return <-s.events }

func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
}
