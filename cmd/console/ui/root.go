package ui

import (
	tea "github.com/charmbracelet/bubbletea"
)

type state int

const (
	stateLogin state = iota
	stateDashboard
	stateTaskDetail
	stateInstruction
)

type RootModel struct {
	State     state
	Session   *Session
	Login     LoginModel
	Dashboard DashboardModel
	Detail    TaskDetailModel
	Form      InstructionFormModel
	Quitting  bool
	width     int
	height    int
}

func NewRootModel(s *Session) RootModel {
	return RootModel{State: stateLogin, Session: s, Login: NewLoginModel(s)}
}

func (m RootModel) Init() tea.Cmd { return m.Login.Init() }

func (m RootModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.Dashboard.Tasks.SetHeight(tableHeight(msg.Height))
		m.Dashboard.Devices.SetHeight(tableHeight(msg.Height))
		m.Detail.Executions.SetHeight(tableHeight(msg.Height))
		return m, nil

	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			m.Quitting = true
			m.Session.Close()
			return m, tea.Quit
		}

	case loginResultMsg:
		if msg.Err != nil {
			break
		}
		m.State = stateDashboard
		m.Dashboard = NewDashboardModel(m.Session, m.width, m.height)
		cmds := []tea.Cmd{m.Dashboard.Init()}
		if err := m.Session.StartEvents(); err != nil {
			m.Dashboard.Err = err
		} else {
			cmds = append(cmds, m.Session.WaitForEvent)
		}
		return m, tea.Batch(cmds...)

	case EventMsg:
		var cmd tea.Cmd
		switch m.State {
		case stateDashboard:
			m.Dashboard, cmd = m.Dashboard.Update(msg)
		case stateTaskDetail:
			m.Detail, cmd = m.Detail.Update(msg)
		}
		if msg.Err != nil {
			m.Dashboard.Err = msg.Err
			return m, cmd
		}
		return m, tea.Batch(cmd, m.Session.WaitForEvent)

	case TaskSelectedMsg:
		m.State = stateTaskDetail
		m.Detail = NewTaskDetailModel(m.Session, msg.TaskID, m.width, m.height)
		return m, m.Detail.Init()

	case InstructionFormMsg:
		m.State = stateInstruction
		m.Form = NewInstructionFormModel(msg.DeviceCode, m.Session, m.width, m.height)
		return m, nil

	case BackToDashboardMsg:
		m.State = stateDashboard
		return m, m.Dashboard.Init()
	}

	var cmd tea.Cmd
	switch m.State {
	case stateLogin:
		m.Login, cmd = m.Login.Update(msg)
	case stateDashboard:
		m.Dashboard, cmd = m.Dashboard.Update(msg)
	case stateTaskDetail:
		m.Detail, cmd = m.Detail.Update(msg)
	case stateInstruction:
		if done, ok := msg.(actionDoneMsg); ok {
			if done.Err != nil {
				m.Form.Err = done.Err
				return m, nil
			}
			m.State = stateDashboard
			m.Dashboard, cmd = m.Dashboard.Update(done)
			return m, cmd
		}
		m.Form, cmd = m.Form.Update(msg)
	}
	return m, cmd
}

func (m RootModel) View() string {
	if m.Quitting {
		return "Bye!\n"
	}
	switch m.State {
	case stateLogin:
		return m.Login.View()
	case stateDashboard:
		return m.Dashboard.View()
	case stateTaskDetail:
		return m.Detail.View()
	case stateInstruction:
		return m.Form.View()
	}
	return "Unknown state"
}
