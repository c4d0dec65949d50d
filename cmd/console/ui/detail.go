package ui

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"

	"autojs-hub/backend/app/dto"
)

type BackToDashboardMsg struct{}

type taskDetailMsg struct {
	Detail *dto.TaskDetailResponse
	Err    error
}

type TaskDetailModel struct {
	Session    *Session
	TaskID     uint
	Detail     *dto.TaskDetailResponse
	Executions table.Model
	Status     string
	Err        error
}

func NewTaskDetailModel(s *Session, id uint, width, height int) TaskDetailModel {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "Device", Width: 16},
			{Title: "Occ", Width: 4},
			{Title: "Try", Width: 4},
			{Title: "Status", Width: 10},
			{Title: "Duration", Width: 10},
			{Title: "Output / error", Width: 36},
		}),
		table.WithFocused(true),
		table.WithHeight(tableHeight(height)),
	)
	t.SetStyles(tableStyles())
	return TaskDetailModel{Session: s, TaskID: id, Executions: t}
}

func (m TaskDetailModel) Init() tea.Cmd { return loadTask(m.Session, m.TaskID) }

func loadTask(s *Session, id uint) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		d, err := s.Task(ctx, id)
		return taskDetailMsg{Detail: d, Err: err}
	}
}

func (m TaskDetailModel) Update(msg tea.Msg) (TaskDetailModel, tea.Cmd) {
	switch msg := msg.(type) {
	case taskDetailMsg:
		m.Err = msg.Err
		if msg.Err != nil {
			return m, nil
		}
		m.Detail = msg.Detail
		m.Executions.SetRows(executionRows(msg.Detail.Executions))
		return m, nil

	case actionDoneMsg:
		m.Err = msg.Err
		if msg.Err == nil {
			m.Status = msg.Text
		}
		return m, loadTask(m.Session, m.TaskID)

	case EventMsg:
		if msg.Err == nil && msg.Event.TaskID == m.TaskID {
			return m, loadTask(m.Session, m.TaskID)
		}
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "esc", "backspace":
			return m, func() tea.Msg { return BackToDashboardMsg{} }
		case "r":
			return m, loadTask(m.Session, m.TaskID)
		case "c":
			return m, taskAction(m.Session, m.TaskID, "cancel")
		case "p":
			return m, taskAction(m.Session, m.TaskID, "pause")
		case "u":
			return m, taskAction(m.Session, m.TaskID, "resume")
		}
	}

	var cmd tea.Cmd
	m.Executions, cmd = m.Executions.Update(msg)
	return m, cmd
}

// executionRows lists the newest occurrence first, then attempts in order.
func executionRows(execs []dto.ExecutionResponse) []table.Row {
	sorted := append([]dto.ExecutionResponse(nil), execs...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Occurrence != sorted[j].Occurrence {
			return sorted[i].Occurrence > sorted[j].Occurrence
		}
		if sorted[i].DeviceCode != sorted[j].DeviceCode {
			return sorted[i].DeviceCode < sorted[j].DeviceCode
		}
		return sorted[i].Attempt < sorted[j].Attempt
	})
	rows := make([]table.Row, 0, len(sorted))
	for _, e := range sorted {
		note := e.Output
		if e.ErrorMessage != "" {
			note = e.ErrorMessage
		}
		dur := "-"
		if e.DurationMs > 0 {
			dur = (time.Duration(e.DurationMs) * time.Millisecond).String()
		}
		rows = append(rows, table.Row{
			e.DeviceCode, fmt.Sprint(e.Occurrence), fmt.Sprint(e.Attempt), e.Status, dur, note,
		})
	}
	return rows
}

func (m TaskDetailModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("Task %d", m.TaskID)) + "\n\n")
	if t := m.Detail; t != nil {
		fmt.Fprintf(&b, "%s  %s  %s\n", t.Task.Name, t.Task.TaskType, statusStyle(t.Task.Status).Render(t.Task.Status))
		target := t.Task.TargetType
		switch {
		case t.Task.TargetGroup != "":
			target += " " + t.Task.TargetGroup
		case len(t.Task.TargetDeviceIDs) > 0:
			target += " " + strings.Join(t.Task.TargetDeviceIDs, ",")
		}
		fmt.Fprintf(&b, "target %s | script %d | priority %d | retries %d/%d\n",
			target, t.Task.ScriptID, t.Task.Priority, t.Task.RetryCount, t.Task.MaxRetries)
		if t.Task.LastError != "" {
			b.WriteString(warnStyle.Render(t.Task.LastError) + "\n")
		}
		b.WriteString("\n" + m.Executions.View() + "\n")
	} else if m.Err == nil {
		b.WriteString("loading...\n")
	}
	b.WriteString("\n" + blurredStyle.Render("c cancel | p pause | u resume | r refresh | esc back"))
	if m.Status != "" {
		b.WriteString("\n" + statusMessageStyle(m.Status))
	}
	if m.Err != nil {
		b.WriteString("\n" + errorMessageStyle(m.Err.Error()))
	}
	return b.String()
}
