package watch

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/terraflow/internal/registry"
)

func (m Model) renderHeader() string {
	conn := m.theme.StatusFailed.Render("● offline")
	if m.connected {
		conn = m.theme.StatusOK.Render("● connected")
	}

	uptime := time.Duration(m.health.UptimeSeconds) * time.Second
	line := fmt.Sprintf(" terraflow  %s  uptime %s  templates %d",
		conn, uptime.Truncate(time.Second), m.health.ActiveTemplates)

	return m.theme.Border.Width(m.contentWidth()).Render(
		m.theme.Title.Render("Terraflow Watch") + "\n" + line,
	)
}

func (m Model) renderTemplates() string {
	var b strings.Builder
	b.WriteString(m.theme.Header.Render(fmt.Sprintf(" %-20s %-14s %-34s %s", "TEMPLATE", "STATUS", "BUCKET", "AGE")))
	b.WriteString("\n")

	if len(m.templates) == 0 {
		b.WriteString(m.theme.Dim.Render(" no active templates"))
	}

	for i, rec := range m.templates {
		row := fmt.Sprintf(" %-20s %-14s %-34s %s",
			truncateCell(rec.Name, 20),
			string(rec.Status),
			truncateCell(rec.BucketID, 34),
			time.Since(rec.CreatedAt).Truncate(time.Second),
		)
		style := m.statusStyle(rec.Status)
		if i == m.selected {
			style = m.theme.Highlight
		}
		b.WriteString(style.Render(row))
		if i == m.selected && rec.LastError != "" {
			b.WriteString("\n" + m.theme.StatusFailed.Render("   "+truncateCell(rec.LastError, m.contentWidth()-4)))
		}
		b.WriteString("\n")
	}

	return m.theme.Border.Width(m.contentWidth()).Render(strings.TrimRight(b.String(), "\n"))
}

func (m Model) renderEvents() string {
	var b strings.Builder
	b.WriteString(m.theme.Header.Render(" EVENTS"))
	b.WriteString("\n")

	if len(m.eventLog) == 0 {
		b.WriteString(m.theme.Dim.Render(" waiting for lifecycle events"))
	}

	limit := m.height - 14
	if limit < 3 {
		limit = 3
	}
	for i, ev := range m.eventLog {
		if i >= limit {
			break
		}
		line := fmt.Sprintf(" %s  %-22s %s",
			ev.At.Format("15:04:05"),
			ev.Type,
			truncateCell(string(ev.Data), m.contentWidth()-34),
		)
		b.WriteString(m.theme.Dim.Render(line))
		b.WriteString("\n")
	}

	return m.theme.Border.Width(m.contentWidth()).Render(strings.TrimRight(b.String(), "\n"))
}

func (m Model) statusStyle(status registry.Status) lipgloss.Style {
	switch status {
	case registry.StatusApplied:
		return m.theme.StatusOK
	case registry.StatusInitialized:
		return m.theme.StatusBusy
	case registry.StatusApplyFailed, registry.StatusDestroyFailed:
		return m.theme.StatusFailed
	default:
		return m.theme.StatusDim
	}
}

func (m Model) contentWidth() int {
	w := m.width - 6
	if w < 40 {
		w = 40
	}
	return w
}

func truncateCell(s string, max int) string {
	if max <= 1 || len(s) <= max {
		return s
	}
	return s[:max-1] + "…"
}
