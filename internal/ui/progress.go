package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"
)

// StepStatus represents the current state of a step
type StepStatus int

const (
	StepPending  StepStatus = iota // Not yet started
	StepRunning                    // Currently executing
	StepComplete                   // Successfully completed
	StepFailed                     // Failed
	StepSkipped                    // Skipped
)

// Step represents a single step in the provisioning sequence
type Step struct {
	Name    string
	Status  StepStatus
	Message string // Optional note (e.g., "timed out")
}

// Provisioning steps, in order.
const (
	StepSavedNetwork = iota
	StepAccessPoint
	StepCredentials
	StepNewNetwork
)

// Progress follows a station through the provisioning sequence, driven by
// the controller state names carried in state_changed events.
type Progress struct {
	Steps     []Step
	Width     int
	sawPortal bool
	bar       progress.Model
}

// NewProgress creates the four-step provisioning tracker.
func NewProgress() *Progress {
	p := &Progress{
		Steps: []Step{
			{Name: "Join saved network"},
			{Name: "Open setup portal"},
			{Name: "Receive credentials"},
			{Name: "Join new network"},
		},
	}
	return p.SetWidth(GetTerminalWidth())
}

// SetWidth sets the terminal width for responsive rendering
func (p *Progress) SetWidth(width int) *Progress {
	p.Width = width
	barWidth := width - 20 // Leave room for percentage and step count
	if barWidth < 20 {
		barWidth = 20
	}
	if barWidth > 50 {
		barWidth = 50
	}
	p.bar = progress.New(progress.WithDefaultGradient(), progress.WithWidth(barWidth))
	return p
}

func (p *Progress) set(i int, status StepStatus, message string) {
	p.Steps[i].Status = status
	p.Steps[i].Message = message
}

// Apply moves the tracker to a controller state such as "portal-running".
// Unknown states are ignored.
func (p *Progress) Apply(state string) {
	switch state {
	case "connecting":
		if !p.sawPortal {
			p.set(StepSavedNetwork, StepRunning, "")
			return
		}
		p.set(StepCredentials, StepComplete, "")
		p.set(StepNewNetwork, StepRunning, "")
	case "connected":
		if !p.sawPortal {
			p.set(StepSavedNetwork, StepComplete, "")
			for i := StepAccessPoint; i <= StepNewNetwork; i++ {
				p.set(i, StepSkipped, "")
			}
			return
		}
		p.set(StepNewNetwork, StepComplete, "")
	case "opening-portal":
		p.sawPortal = true
		if p.Steps[StepSavedNetwork].Status == StepRunning {
			p.set(StepSavedNetwork, StepFailed, "")
		} else if p.Steps[StepSavedNetwork].Status == StepPending {
			p.set(StepSavedNetwork, StepSkipped, "")
		}
		p.set(StepAccessPoint, StepRunning, "")
	case "portal-running":
		p.sawPortal = true
		p.set(StepAccessPoint, StepComplete, "")
		note := ""
		if p.Steps[StepNewNetwork].Status == StepRunning {
			p.set(StepNewNetwork, StepFailed, "")
			note = "retry"
		}
		p.set(StepCredentials, StepRunning, note)
	case "credentials-submitted":
		p.set(StepCredentials, StepComplete, "")
	case "portal-timed-out":
		p.set(StepCredentials, StepFailed, "timed out")
	case "break-after-config":
		p.set(StepNewNetwork, StepFailed, "portal closed")
	}
}

// Percent returns the share of steps that are complete or skipped.
func (p *Progress) Percent() float64 {
	done := 0
	for _, s := range p.Steps {
		if s.Status == StepComplete || s.Status == StepSkipped {
			done++
		}
	}
	return float64(done) / float64(len(p.Steps))
}

// Render returns the progress bar above the step list
func (p *Progress) Render() string {
	pct := p.Percent()
	bar := lipgloss.NewStyle().
		PaddingLeft(2).
		Render(fmt.Sprintf("%s  %3.0f%%", p.bar.ViewAs(pct), pct*100))

	lines := []string{bar, ""}
	for i, step := range p.Steps {
		lines = append(lines, p.renderStepLine(i, step))
	}
	return strings.Join(lines, "\n")
}

func (p *Progress) renderStepLine(i int, step Step) string {
	var (
		marker string
		style  lipgloss.Style
	)
	switch step.Status {
	case StepComplete:
		marker, style = StepMarkerComplete, StepCompleteStyle
	case StepRunning:
		marker, style = StepMarkerRunning, StepRunningStyle
	case StepFailed:
		marker, style = FailureMarker, ErrorTitleStyle
	case StepSkipped:
		marker, style = StepMarkerSkipped, StepPendingStyle
	default:
		marker, style = StepMarkerPending, StepPendingStyle
	}

	var b strings.Builder
	fmt.Fprintf(&b, "  [%d/%d] ", i+1, len(p.Steps))
	b.WriteString(style.Render(step.Name))

	padding := 30 - lipgloss.Width(step.Name)
	if padding < 1 {
		padding = 1
	}
	b.WriteString(strings.Repeat(" ", padding))
	b.WriteString(style.Render(marker))

	if step.Message != "" {
		b.WriteString("  ")
		b.WriteString(StepNoteStyle.Render("(" + step.Message + ")"))
	}
	return b.String()
}

// String implements fmt.Stringer
func (p *Progress) String() string {
	return p.Render()
}
