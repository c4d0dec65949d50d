package ui

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"autojs-hub/backend/app/dispatch"
	"autojs-hub/backend/app/dto"
)

type FormState int

const (
	StateSelecting FormState = iota
	StateFilling
)

type instItem struct {
	title, desc string
	index       int
}

func (i instItem) Title() string       { return i.title }
func (i instItem) Description() string { return i.desc }
func (i instItem) FilterValue() string { return i.title }

type InstructionDef struct {
	Type        dispatch.InstructionType
	Description string
}

var availableInstructions = []InstructionDef{
	{dispatch.InstPing, "Check the device answers"},
	{dispatch.InstStopScript, "Stop every running script"},
	{dispatch.InstUpdateStatus, "Ask for a status snapshot"},
	{dispatch.InstCollectLog, "Upload recent Auto.js logs"},
	{dispatch.InstRestartApp, "Restart the Auto.js app"},
	{dispatch.InstUpdateApp, "Update the Auto.js app"},
}

const (
	fieldPriority = iota
	fieldTimeout
	fieldData
	fieldCount
)

// InstructionFormModel sends one ad-hoc instruction to a device.
type InstructionFormModel struct {
	DeviceCode string
	Session    *Session
	State      FormState
	List       list.Model
	Inputs     []textinput.Model
	Focused    int
	Selected   int
	Err        error
}

func NewInstructionFormModel(code string, s *Session, width, height int) InstructionFormModel {
	items := make([]list.Item, 0, len(availableInstructions))
	for i, d := range availableInstructions {
		items = append(items, instItem{title: string(d.Type), desc: d.Description, index: i})
	}
	l := list.New(items, list.NewDefaultDelegate(), width, tableHeight(height))
	l.Title = "Instruction for " + code
	l.SetShowHelp(false)
	return InstructionFormModel{DeviceCode: code, Session: s, State: StateSelecting, List: l}
}

func (m *InstructionFormModel) initInputs() {
	m.Inputs = make([]textinput.Model, fieldCount)
	placeholders := []string{"priority 0-10 (default 0)", "timeout seconds (default 300)", `data JSON, e.g. {"reason":"manual"}`}
	for i := range m.Inputs {
		ti := textinput.New()
		ti.Placeholder = placeholders[i]
		ti.CharLimit = 256
		m.Inputs[i] = ti
	}
	m.Focused = 0
	m.updateFocus()
}

func (m InstructionFormModel) Update(msg tea.Msg) (InstructionFormModel, tea.Cmd) {
	if m.State == StateSelecting {
		if key, ok := msg.(tea.KeyMsg); ok {
			switch key.String() {
			case "esc":
				return m, func() tea.Msg { return BackToDashboardMsg{} }
			case "enter":
				if it, ok := m.List.SelectedItem().(instItem); ok {
					m.Selected = it.index
					m.State = StateFilling
					m.initInputs()
					return m, textinput.Blink
				}
			}
		}
		var cmd tea.Cmd
		m.List, cmd = m.List.Update(msg)
		return m, cmd
	}

	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.String() {
		case "esc":
			m.State = StateSelecting
			m.Err = nil
			return m, nil
		case "enter":
			if m.Focused == len(m.Inputs) {
				req, err := m.request()
				if err != nil {
					m.Err = err
					return m, nil
				}
				return m, sendInstruction(m.Session, req)
			}
			m.Focused++
			m.updateFocus()
			return m, nil
		case "tab", "down":
			m.Focused = (m.Focused + 1) % (len(m.Inputs) + 1)
			m.updateFocus()
			return m, nil
		case "shift+tab", "up":
			m.Focused = (m.Focused + len(m.Inputs)) % (len(m.Inputs) + 1)
			m.updateFocus()
			return m, nil
		}
	}
	var cmd tea.Cmd
	if m.Focused < len(m.Inputs) {
		m.Inputs[m.Focused], cmd = m.Inputs[m.Focused].Update(msg)
	}
	return m, cmd
}

func (m *InstructionFormModel) updateFocus() {
	for i := range m.Inputs {
		if i == m.Focused {
			m.Inputs[i].Focus()
		} else {
			m.Inputs[i].Blur()
		}
	}
}

// request validates the form into an admin instruction request.
func (m InstructionFormModel) request() (dto.SendInstructionRequest, error) {
	req := dto.SendInstructionRequest{
		DeviceCode: m.DeviceCode,
		Type:       string(availableInstructions[m.Selected].Type),
	}
	var err error
	if v := strings.TrimSpace(m.Inputs[fieldPriority].Value()); v != "" {
		if req.Priority, err = strconv.Atoi(v); err != nil || req.Priority < 0 || req.Priority > 10 {
			return req, fmt.Errorf("priority must be 0-10")
		}
	}
	if v := strings.TrimSpace(m.Inputs[fieldTimeout].Value()); v != "" {
		if req.Timeout, err = strconv.Atoi(v); err != nil || req.Timeout < 0 {
			return req, fmt.Errorf("timeout must be a positive number of seconds")
		}
	}
	if v := strings.TrimSpace(m.Inputs[fieldData].Value()); v != "" {
		if err := json.Unmarshal([]byte(v), &req.Data); err != nil {
			return req, fmt.Errorf("data: %w", err)
		}
	}
	return req, nil
}

func sendInstruction(s *Session, req dto.SendInstructionRequest) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		inst, err := s.SendInstruction(ctx, req)
		if err != nil {
			return actionDoneMsg{Err: fmt.Errorf("send %s: %w", req.Type, err)}
		}
		return actionDoneMsg{Text: fmt.Sprintf("queued %s %s for %s", inst.Type, inst.InstructionID, req.DeviceCode)}
	}
}

func renderButton(text string, focused bool) string {
	if focused {
		return lipgloss.NewStyle().Foreground(lipgloss.Color("0")).Background(lipgloss.Color("205")).Padding(0, 3).Bold(true).Render(text)
	}
	return lipgloss.NewStyle().Foreground(lipgloss.Color("254")).Background(lipgloss.Color("240")).Padding(0, 3).Render(text)
}

func (m InstructionFormModel) View() string {
	if m.State == StateSelecting {
		return m.List.View() + "\n" + blurredStyle.Render("enter select | esc back")
	}
	def := availableInstructions[m.Selected]
	var b strings.Builder
	b.WriteString(lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("99")).
		Render(fmt.Sprintf("%s -> %s", def.Type, m.DeviceCode)) + "\n\n")
	for i := range m.Inputs {
		b.WriteString(m.Inputs[i].View() + "\n\n")
	}
	b.WriteString(renderButton("Send", m.Focused == len(m.Inputs)))
	b.WriteString("\n\n" + blurredStyle.Render("tab next field | enter send | esc back"))
	if m.Err != nil {
		b.WriteString("\n" + errorMessageStyle(m.Err.Error()))
	}
	return lipgloss.NewStyle().Padding(1, 2).Render(b.String())
}
