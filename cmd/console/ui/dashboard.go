package ui

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"autojs-hub/backend/app/dto"
)

const (
	focusTasks = iota
	focusDevices
)

const maxEventLines = 6

type DashboardModel struct {
	Session *Session
	Tasks   table.Model
	Devices table.Model
	Focus   int
	Events  []string
	Status  string
	Err     error
}

type devicesLoadedMsg struct {
	Devices []dto.DeviceSummary
	Err     error
}

type tasksLoadedMsg struct {
	Tasks []dto.TaskResponse
	Err   error
}

// actionDoneMsg reports the outcome of a task or instruction command.
type actionDoneMsg struct {
	Text string
	Err  error
}

type TaskSelectedMsg struct{ TaskID uint }

type InstructionFormMsg struct{ DeviceCode string }

func NewDashboardModel(s *Session, width, height int) DashboardModel {
	tasks := table.New(
		table.WithColumns([]table.Column{
			{Title: "ID", Width: 6},
			{Title: "Name", Width: 24},
			{Title: "Type", Width: 10},
			{Title: "Status", Width: 20},
			{Title: "Retry", Width: 6},
		}),
		table.WithFocused(true),
		table.WithHeight(tableHeight(height)),
	)
	tasks.SetStyles(tableStyles())

	devices := table.New(
		table.WithColumns([]table.Column{
			{Title: "Device", Width: 20},
			{Title: "Group", Width: 12},
			{Title: "Online", Width: 7},
			{Title: "Queue", Width: 6},
		}),
		table.WithHeight(tableHeight(height)),
	)
	devices.SetStyles(tableStyles())

	return DashboardModel{Session: s, Tasks: tasks, Devices: devices, Focus: focusTasks}
}

func tableHeight(height int) int {
	if h := height - 14; h > 5 {
		return h
	}
	return 10
}

func (m DashboardModel) Init() tea.Cmd {
	return tea.Batch(loadTasks(m.Session), loadDevices(m.Session))
}

func loadTasks(s *Session) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		tasks, err := s.Tasks(ctx, 100)
		return tasksLoadedMsg{Tasks: tasks, Err: err}
	}
}

func loadDevices(s *Session) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		devs, err := s.Devices(ctx)
		return devicesLoadedMsg{Devices: devs, Err: err}
	}
}

func taskAction(s *Session, id uint, action string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		t, err := s.TaskAction(ctx, id, action)
		if err != nil {
			return actionDoneMsg{Err: fmt.Errorf("%s task %d: %w", action, id, err)}
		}
		return actionDoneMsg{Text: fmt.Sprintf("task %d is %s", t.ID, t.Status)}
	}
}

func (m DashboardModel) selectedTask() (uint, bool) {
	row := m.Tasks.SelectedRow()
	if len(row) == 0 {
		return 0, false
	}
	id, err := strconv.ParseUint(row[0], 10, 64)
	return uint(id), err == nil
}

func (m *DashboardModel) setFocus(f int) {
	m.Focus = f
	if f == focusTasks {
		m.Tasks.Focus()
		m.Devices.Blur()
	} else {
		m.Devices.Focus()
		m.Tasks.Blur()
	}
}

func (m DashboardModel) Update(msg tea.Msg) (DashboardModel, tea.Cmd) {
	switch msg := msg.(type) {
	case tasksLoadedMsg:
		if msg.Err != nil {
			m.Err = msg.Err
			return m, nil
		}
		rows := make([]table.Row, 0, len(msg.Tasks))
		for _, t := range msg.Tasks {
			rows = append(rows, table.Row{
				strconv.FormatUint(uint64(t.ID), 10), t.Name, t.TaskType, t.Status,
				fmt.Sprintf("%d/%d", t.RetryCount, t.MaxRetries),
			})
		}
		m.Tasks.SetRows(rows)
		return m, nil

	case devicesLoadedMsg:
		if msg.Err != nil {
			m.Err = msg.Err
			return m, nil
		}
		rows := make([]table.Row, 0, len(msg.Devices))
		for _, d := range msg.Devices {
			online := "no"
			if d.Online {
				online = "yes"
			}
			rows = append(rows, table.Row{d.DeviceCode, d.GroupID, online, strconv.FormatInt(d.QueueDepth, 10)})
		}
		m.Devices.SetRows(rows)
		return m, nil

	case actionDoneMsg:
		m.Err = msg.Err
		if msg.Err == nil {
			m.Status = msg.Text
		}
		return m, loadTasks(m.Session)

	case EventMsg:
		if msg.Err != nil {
			m.Err = msg.Err
			return m, nil
		}
		ev := msg.Event
		line := fmt.Sprintf("%s %s", ev.Time.Local().Format("15:04:05"), ev.Type)
		if ev.TaskID != 0 {
			line += fmt.Sprintf(" task=%d", ev.TaskID)
		}
		if ev.DeviceCode != "" {
			line += " device=" + ev.DeviceCode
		}
		if ev.Status != "" {
			line += " " + ev.Status
		}
		m.Events = append(m.Events, line)
		if len(m.Events) > maxEventLines {
			m.Events = m.Events[len(m.Events)-maxEventLines:]
		}
		return m, tea.Batch(loadTasks(m.Session), loadDevices(m.Session))

	case tea.KeyMsg:
		switch msg.String() {
		case "tab":
			if m.Focus == focusTasks {
				m.setFocus(focusDevices)
			} else {
				m.setFocus(focusTasks)
			}
			return m, nil
		case "r":
			m.Err = nil
			return m, tea.Batch(loadTasks(m.Session), loadDevices(m.Session))
		case "c":
			if id, ok := m.selectedTask(); ok && m.Focus == focusTasks {
				return m, taskAction(m.Session, id, "cancel")
			}
			return m, nil
		case "enter":
			if m.Focus == focusTasks {
				if id, ok := m.selectedTask(); ok {
					return m, func() tea.Msg { return TaskSelectedMsg{TaskID: id} }
				}
			}
			return m, nil
		case "i":
			if row := m.Devices.SelectedRow(); m.Focus == focusDevices && len(row) > 0 {
				code := row[0]
				return m, func() tea.Msg { return InstructionFormMsg{DeviceCode: code} }
			}
			return m, nil
		case "q":
			return m, tea.Quit
		}
	}

	var cmd tea.Cmd
	if m.Focus == focusTasks {
		m.Tasks, cmd = m.Tasks.Update(msg)
	} else {
		m.Devices, cmd = m.Devices.Update(msg)
	}
	return m, cmd
}

func (m DashboardModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Auto.js Hub - Dashboard") + "\n\n")

	taskTitle, devTitle := "Tasks", "Devices"
	if m.Focus == focusTasks {
		taskTitle = okStyle.Render("> Tasks")
	} else {
		devTitle = okStyle.Render("> Devices")
	}
	left := lipgloss.JoinVertical(lipgloss.Left, taskTitle, m.Tasks.View())
	right := lipgloss.JoinVertical(lipgloss.Left, devTitle, m.Devices.View())
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, left, "  ", right))

	b.WriteString("\n\n" + blurredStyle.Render("events") + "\n")
	for _, e := range m.Events {
		b.WriteString(e + "\n")
	}
	b.WriteString("\n")
	b.WriteString(blurredStyle.Render("tab switch table | enter task detail | c cancel task | i send instruction | r refresh | q quit"))
	if m.Status != "" {
		b.WriteString("\n" + statusMessageStyle(m.Status))
	}
	if m.Err != nil {
		b.WriteString("\n" + errorMessageStyle(m.Err.Error()))
	}
	return b.String()
}
