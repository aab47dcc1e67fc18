package ui

import (
	"fmt"
	"math"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"stash/internal/config"
	"stash/internal/feed"
	"stash/internal/swipe"
)

var (
	titleStyle    = lipgloss.NewStyle().Bold(true)
	filterStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	selectedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("212")).Bold(true)
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	starStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	// Buttons behind a row slid left.
	archiveButtonStyle = lipgloss.NewStyle().Background(lipgloss.Color("130")).Foreground(lipgloss.Color("231"))
	deleteButtonStyle  = lipgloss.NewStyle().Background(lipgloss.Color("124")).Foreground(lipgloss.Color("231"))
	// Button behind a row slid right.
	starButtonStyle = lipgloss.NewStyle().Background(lipgloss.Color("136")).Foreground(lipgloss.Color("231"))
	noticeStyle     = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	offlineStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
)

func (m Model) View() string {
	var b strings.Builder

	b.WriteString(m.renderHeader())
	b.WriteString("\n\n")

	items := m.visible()
	if len(items) == 0 {
		if m.loading {
			b.WriteString(dimStyle.Render("Loading…"))
		} else {
			b.WriteString(dimStyle.Render("Nothing here. Press '" + m.cfg.Keys.Capture + "' to capture something."))
		}
		b.WriteString("\n")
	} else {
		b.WriteString(m.renderList(items))
	}

	b.WriteString("\n")
	if m.mode == modeCapture {
		b.WriteString(m.input.View())
		b.WriteString("\n")
	}
	if n, ok := m.act.undo.Current(); ok {
		msg := n.Message
		if n.Undoable {
			msg += fmt.Sprintf("  [%s] undo", m.cfg.Keys.Undo)
		}
		b.WriteString(noticeStyle.Render(msg))
		b.WriteString("\n")
	} else {
		b.WriteString(m.status)
		b.WriteString("\n")
	}
	b.WriteString(dimStyle.Render(renderHelp(m.cfg.Keys)))
	return b.String()
}

func (m Model) renderHeader() string {
	parts := []string{titleStyle.Render("stash"), filterStyle.Render("filter: " + string(m.list.Filter()))}
	if !m.connected {
		parts = append(parts, offlineStyle.Render("offline"))
	}
	return strings.Join(parts, "  ")
}

func (m Model) renderList(items []feed.Item) string {
	var b strings.Builder
	end := m.top + m.rowsAvailable()
	if end > len(items) {
		end = len(items)
	}
	for i := m.top; i < end; i++ {
		b.WriteString(m.renderRow(items[i], i == m.cursor))
		b.WriteString("\n")
	}
	if !m.exhausted && end == len(items) {
		b.WriteString(dimStyle.Render(fmt.Sprintf("  … %s for more", m.cfg.Keys.LoadMore)))
		b.WriteString("\n")
	}
	return b.String()
}

func (m Model) renderRow(it feed.Item, selected bool) string {
	cursor := " "
	if selected {
		cursor = ">"
	}
	star := "☆"
	if it.Starred {
		star = starStyle.Render("★")
	}
	title := it.Title()
	if it.Status != feed.StatusReady && it.Status != "" {
		title += dimStyle.Render(" (" + string(it.Status) + ")")
	}
	age := ""
	if !it.CreatedAt.IsZero() {
		age = dimStyle.Render(" " + humanize.RelTime(it.CreatedAt, m.now(), "ago", "from now"))
	}
	body := fmt.Sprintf("%s %s %s%s", cursor, star, title, age)
	if it.Archived {
		body = dimStyle.Render(body)
	} else if selected {
		body = selectedStyle.Render(body)
	}
	return m.slide(it.ID, body)
}

// slide shifts a rendered row by the gesture offset and fills the gap
// with the buttons for that side.
func (m Model) slide(id, body string) string {
	width := m.width
	if width <= 0 {
		return body
	}
	cols := m.slideCols(id)
	switch {
	case cols < 0:
		n := min(-cols, width)
		a := archiveCols(n)
		archive, del := " archive", " delete"
		if n < 18 {
			archive, del = " arch", " del"
		}
		return fit(body, width-n) + archiveButtonStyle.Render(fit(archive, a)) + deleteButtonStyle.Render(fit(del, n-a))
	case cols > 0:
		n := min(cols, width)
		return starButtonStyle.Render(fit(" star", n)) + fit(body, width-n)
	}
	return body
}

// slideCols is the row's offset in columns, negative when slid left.
func (m Model) slideCols(id string) int {
	cols := int(math.Round(m.gestures.Offset(id) / m.cellWidth()))
	if m.gestures.Revealed(id) && cols == 0 {
		cols = m.panelCols(m.gestures.Side(id))
	}
	return cols
}

func (m Model) panelCols(side swipe.Side) int {
	cols := int(math.Round(m.cfg.Gesture.PanelWidth / m.cellWidth()))
	if side == swipe.SideLeft {
		return -cols
	}
	return cols
}

// archiveCols is how much of an n-column left panel the archive button
// takes; delete gets the rest.
func archiveCols(n int) int {
	return (n + 1) / 2
}

// fit pads or truncates s to exactly n cells on one line.
func fit(s string, n int) string {
	if n <= 0 {
		return ""
	}
	return lipgloss.NewStyle().Width(n).MaxWidth(n).MaxHeight(1).Render(s)
}

func renderHelp(k config.Keymap) string {
	return fmt.Sprintf("%s/%s move • %s star • %s archive • %s publish • %s delete • %s undo • %s filter • %s capture • %s quit",
		k.Up, k.Down, k.Star, k.Archive, k.Publish, k.Delete, k.Undo, k.Filter, k.Capture, k.Quit)
}
