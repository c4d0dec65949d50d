package ui

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autojs-hub/backend/app/dispatch"
	"autojs-hub/backend/app/dto"
)

func fakeHub(t *testing.T) *httptest.Server {
	t.Helper()
	authed := func(r *http.Request) bool { return r.Header.Get("Authorization") == "Bearer tok" }
	mux := http.NewServeMux()
	mux.HandleFunc("POST /login", func(w http.ResponseWriter, r *http.Request) {
		var req dto.LoginRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Password != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(dto.ErrorResponse{Error: "invalid credentials"})
			return
		}
		_ = json.NewEncoder(w).Encode(dto.TokenResponse{AccessToken: "tok", ExpiresIn: 60})
	})
	mux.HandleFunc("GET /admin/tasks", func(w http.ResponseWriter, r *http.Request) {
		if !authed(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode([]dto.TaskResponse{{ID: 3, Name: "greet", Status: "RUNNING"}})
	})
	mux.HandleFunc("POST /admin/tasks/{id}/cancel", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != "3" {
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(dto.ErrorResponse{Error: "not found"})
			return
		}
		_ = json.NewEncoder(w).Encode(dto.TaskResponse{ID: 3, Status: "CANCELLED"})
	})
	upgrader := websocket.Upgrader{}
	mux.HandleFunc("GET /admin/events", func(w http.ResponseWriter, r *http.Request) {
		if !authed(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteJSON(dispatch.Event{Type: dispatch.EventTaskStatusChanged, TaskID: 3, Status: "COMPLETED", Time: time.Now()})
		_, _, _ = conn.ReadMessage()
	})
	return httptest.NewServer(mux)
}

func TestSession_LoginAndCalls(t *testing.T) {
	srv := fakeHub(t)
	defer srv.Close()
	s := NewSession(srv.URL + "/")
	ctx := context.Background()

	err := s.Login(ctx, "admin", "wrong")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Code)
	assert.Equal(t, "invalid credentials", apiErr.Message)

	require.NoError(t, s.Login(ctx, "admin", "secret"))
	tasks, err := s.Tasks(ctx, 10)
	require.NoError(t, err)
	require.Len(t, tasks, 1)

	got, err := s.TaskAction(ctx, 3, "cancel")
	require.NoError(t, err)
	assert.Equal(t, "CANCELLED", got.Status)
	_, err = s.TaskAction(ctx, 4, "cancel")
	assert.Error(t, err)
}

func TestSession_Events(t *testing.T) {
	srv := fakeHub(t)
	defer srv.Close()
	s := NewSession(srv.URL)
	s.Token = "tok"
	require.NoError(t, s.StartEvents())
	defer s.Close()

	msg, ok := s.WaitForEvent().(EventMsg)
	require.True(t, ok)
	require.NoError(t, msg.Err)
	assert.Equal(t, dispatch.EventTaskStatusChanged, msg.Event.Type)
	assert.EqualValues(t, 3, msg.Event.TaskID)
}

func TestDashboard_RowsAndKeys(t *testing.T) {
	m := NewDashboardModel(NewSession("http://hub"), 120, 40)
	m, _ = m.Update(tasksLoadedMsg{Tasks: []dto.TaskResponse{{ID: 7, Name: "a", TaskType: "IMMEDIATE", Status: "RUNNING", MaxRetries: 2}}})
	m, _ = m.Update(devicesLoadedMsg{Devices: []dto.DeviceSummary{{DeviceCode: "D1", GroupID: "g", Online: true, QueueDepth: 2}}})
	require.Len(t, m.Tasks.Rows(), 1)
	assert.Equal(t, "0/2", m.Tasks.Rows()[0][4])
	assert.Equal(t, []string{"D1", "g", "yes"}, table3(m.Devices.Rows()[0]))

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	assert.Equal(t, TaskSelectedMsg{TaskID: 7}, cmd())

	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyTab})
	assert.Equal(t, focusDevices, m.Focus)
	_, cmd = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("i")})
	require.NotNil(t, cmd)
	assert.Equal(t, InstructionFormMsg{DeviceCode: "D1"}, cmd())

	m, _ = m.Update(EventMsg{Event: dispatch.Event{Type: dispatch.EventDeviceOffline, DeviceCode: "D1", Time: time.Now()}})
	require.Len(t, m.Events, 1)
	assert.Contains(t, m.Events[0], "device_offline device=D1")
}

func table3(row []string) []string { return row[:3] }

func TestInstructionForm_Request(t *testing.T) {
	f := NewInstructionFormModel("D1", NewSession("http://hub"), 80, 30)
	f.Selected = 0
	f.initInputs()
	f.Inputs[fieldPriority].SetValue("4")
	f.Inputs[fieldData].SetValue(`{"reason":"manual"}`)
	req, err := f.request()
	require.NoError(t, err)
	assert.Equal(t, "D1", req.DeviceCode)
	assert.Equal(t, string(dispatch.InstPing), req.Type)
	assert.Equal(t, 4, req.Priority)
	assert.Equal(t, "manual", req.Data["reason"])

	f.Inputs[fieldPriority].SetValue("11")
	_, err = f.request()
	assert.Error(t, err)

	f.Inputs[fieldPriority].SetValue("")
	f.Inputs[fieldData].SetValue("{")
	_, err = f.request()
	assert.Error(t, err)
}

func TestExecutionRows_Order(t *testing.T) {
	rows := executionRows([]dto.ExecutionResponse{
		{DeviceCode: "D2", Occurrence: 1, Attempt: 1, Status: "SUCCESS"},
		{DeviceCode: "D1", Occurrence: 1, Attempt: 2, Status: "FAILED", ErrorMessage: "boom"},
		{DeviceCode: "D1", Occurrence: 2, Attempt: 1, Status: "RUNNING", DurationMs: 1500},
		{DeviceCode: "D1", Occurrence: 1, Attempt: 1, Status: "FAILED"},
	})
	require.Len(t, rows, 4)
	assert.Equal(t, "2", rows[0][1])
	assert.Equal(t, "1.5s", rows[0][4])
	assert.Equal(t, []string{"D1", "1", "1"}, []string(rows[1][:3]))
	assert.Equal(t, "boom", rows[2][5])
	assert.Equal(t, "D2", rows[3][0])
}
