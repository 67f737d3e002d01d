package watch

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("213")).Padding(0, 1)
	windowStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("110"))
	boxStyle     = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("63")).Padding(0, 1).MarginTop(1)
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("255"))
	liveStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	waitingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("178"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	hintStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("244")).MarginTop(1)
)

// View renders the dashboard.
func (m Model) View() string {
	header := lipgloss.JoinHorizontal(lipgloss.Bottom,
		titleStyle.Render("presence"),
		windowStyle.Render("window: "+string(m.window)),
	)

	sections := []string{header}
	if !m.hasReport {
		sections = append(sections, m.spinner.View()+" "+waitingStyle.Render("loading report…"))
	} else {
		sections = append(sections,
			boxStyle.Render(m.renderLive()),
			boxStyle.Render(m.renderSummary()+"\n"+m.recent.View()),
			m.spinner.View()+" "+mutedStyle.Render(m.statusLine()),
		)
	}
	if m.lastErr != nil {
		sections = append(sections, errorStyle.Render("error: "+m.lastErr.Error()))
	}
	sections = append(sections, hintStyle.Render("w: next window • r: reload • q: quit"))
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m Model) renderLive() string {
	live := m.report.LiveUsers
	title := headerStyle.Render(fmt.Sprintf("Live (%d)", len(live)))
	if len(live) == 0 {
		return title + "\n" + mutedStyle.Render("nobody is online")
	}
	names := make([]string, 0, len(live))
	for _, u := range live {
		names = append(names, liveStyle.Render("● ")+displayName(u))
	}
	return title + "\n" + strings.Join(names, "\n")
}

func (m Model) renderSummary() string {
	return headerStyle.Render(fmt.Sprintf("Recent logins (%d)", m.report.Total)) + "  " + mutedStyle.Render(formatRoles(m.report.ByRole))
}

func (m Model) statusLine() string {
	etag := m.report.ETag
	if len(etag) > 12 {
		etag = etag[:12]
	}
	line := fmt.Sprintf("waiting for changes • etag %s • %d update(s)", etag, m.updates)
	if !m.updatedAt.IsZero() {
		line += " • last change " + m.updatedAt.Format("15:04:05")
	}
	return line
}

func formatRoles(byRole map[string]int) string {
	if len(byRole) == 0 {
		return ""
	}
	roles := make([]string, 0, len(byRole))
	for role := range byRole {
		roles = append(roles, role)
	}
	sort.Strings(roles)
	parts := make([]string, 0, len(roles))
	for _, role := range roles {
		parts = append(parts, fmt.Sprintf("%s=%d", role, byRole[role]))
	}
	return strings.Join(parts, " ")
}
