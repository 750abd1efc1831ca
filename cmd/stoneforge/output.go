package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/stoneforge-ai/stoneforge/internal/types"
)

var (
	styleID     = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	styleTitle  = lipgloss.NewStyle().Bold(true)
	styleDim    = lipgloss.NewStyle().Faint(true)
	styleOpen   = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	styleActive = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	styleClosed = lipgloss.NewStyle().Faint(true).Strikethrough(true)
	styleError  = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
)

// emit prints data as JSON when --json is set, otherwise the human
// rendering. Quiet mode drops the human form entirely.
func emit(data any, human string) error {
	if flagJSON {
		return emitJSON(data)
	}
	if flagQuiet || human == "" {
		return nil
	}
	fmt.Println(human)
	return nil
}

func emitJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func renderError(err error) string {
	return styleError.Render("error: ") + err.Error()
}

func renderStatus(s types.TaskStatus) string {
	switch s {
	case types.StatusOpen:
		return styleOpen.Render(string(s))
	case types.StatusInProgress:
		return styleActive.Render(string(s))
	case types.StatusClosed:
		return styleClosed.Render(string(s))
	}
	return string(s)
}

// renderLine is the one-line list form of an element.
func renderLine(el *types.Element) string {
	var b strings.Builder
	b.WriteString(styleID.Render(el.ID))
	b.WriteString("  ")
	if el.Task != nil {
		b.WriteString(fmt.Sprintf("[P%d %s] ", el.Task.Priority, renderStatus(el.Task.Status)))
	} else {
		b.WriteString(styleDim.Render("[" + string(el.Type) + "] "))
	}
	b.WriteString(el.Title)
	if el.IsTombstone() {
		b.WriteString(styleDim.Render("  (deleted)"))
	}
	return b.String()
}

// renderElement is the full detail form.
func renderElement(el *types.Element) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s  %s\n", styleID.Render(el.ID), styleTitle.Render(el.Title))
	fmt.Fprintf(&b, "  type:      %s\n", el.Type)
	if el.Task != nil {
		fmt.Fprintf(&b, "  status:    %s\n", renderStatus(el.Task.Status))
		fmt.Fprintf(&b, "  priority:  P%d\n", el.Task.Priority)
		if el.Task.Assignee != "" {
			fmt.Fprintf(&b, "  assignee:  %s\n", el.Task.Assignee)
		}
		if el.Task.DeferredUntil != nil {
			fmt.Fprintf(&b, "  deferred:  until %s\n", el.Task.DeferredUntil.Format(time.RFC3339))
		}
		if o := el.Task.Orchestrator; o != nil {
			if o.AssignedAgent != "" {
				fmt.Fprintf(&b, "  agent:     %s\n", o.AssignedAgent)
			}
			if o.Branch != "" {
				fmt.Fprintf(&b, "  branch:    %s\n", o.Branch)
			}
			if o.MergeStatus != "" {
				fmt.Fprintf(&b, "  merge:     %s\n", o.MergeStatus)
			}
		}
	}
	if len(el.Tags) > 0 {
		fmt.Fprintf(&b, "  tags:      %s\n", strings.Join(el.Tags, ", "))
	}
	fmt.Fprintf(&b, "  created:   %s by %s\n", el.CreatedAt.Format(time.RFC3339), el.CreatedBy)
	fmt.Fprintf(&b, "  updated:   %s", el.UpdatedAt.Format(time.RFC3339))
	if el.IsTombstone() {
		fmt.Fprintf(&b, "\n  %s", styleDim.Render("deleted "+el.DeletedAt.Format(time.RFC3339)+" by "+el.DeletedBy))
	}
	if el.Content != "" {
		fmt.Fprintf(&b, "\n\n%s", el.Content)
	}
	return b.String()
}

func renderLines(els []*types.Element, empty string) string {
	if len(els) == 0 {
		return styleDim.Render(empty)
	}
	lines := make([]string, len(els))
	for i, el := range els {
		lines[i] = renderLine(el)
	}
	return strings.Join(lines, "\n")
}
