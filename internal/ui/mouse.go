package ui

import (
	tea "github.com/charmbracelet/bubbletea"

	"stash/internal/feed"
	"stash/internal/swipe"
)

// Terminal cells are roughly twice as tall as they are wide.
const cellAspect = 2

func (m Model) cellWidth() float64 {
	if m.cfg.Gesture.CellWidth > 0 {
		return m.cfg.Gesture.CellWidth
	}
	return 1
}

func (m Model) surfaceWidth() float64 {
	return float64(m.width) * m.cellWidth()
}

func (m Model) point(msg tea.MouseMsg) swipe.Point {
	cw := m.cellWidth()
	return swipe.Point{X: float64(msg.X) * cw, Y: float64(msg.Y) * cw * cellAspect}
}

// rowAt maps a screen line to the visible item under it.
func (m Model) rowAt(y int) (string, int, bool) {
	line := y - headerLines
	if line < 0 || line >= m.rowsAvailable() {
		return "", 0, false
	}
	i := m.top + line
	items := m.visible()
	if i >= len(items) {
		return "", 0, false
	}
	return items[i].ID, i, true
}

type button int

const (
	buttonNone button = iota
	buttonArchive
	buttonDelete
	buttonStar
)

// buttonAt hit-tests column x against the buttons of a revealed row, laid
// out the way slide draws them.
func (m Model) buttonAt(id string, x int) button {
	if !m.gestures.Revealed(id) || m.width <= 0 {
		return buttonNone
	}
	cols := m.slideCols(id)
	switch {
	case cols < 0:
		n := min(-cols, m.width)
		start := m.width - n
		switch {
		case x < start:
			return buttonNone
		case x < start+archiveCols(n):
			return buttonArchive
		}
		return buttonDelete
	case cols > 0:
		if x < min(cols, m.width) {
			return buttonStar
		}
	}
	return buttonNone
}

// pushButton runs a revealed button. The row closes first.
func (m Model) pushButton(id string, b button) Model {
	m.gestures.Close(id)
	switch b {
	case buttonArchive:
		m.act.toggle(id, feed.FieldArchived)
		m.clamp()
	case buttonStar:
		m.act.toggle(id, feed.FieldStarred)
	case buttonDelete:
		if it, ok := m.list.Get(id); ok {
			m = m.askDelete(it)
		}
	}
	return m
}

// handleMouse feeds press, drag and release events to the gesture group.
// Hooks fire from inside Up and queue their commands on the effects.
func (m Model) handleMouse(msg tea.MouseMsg) Model {
	switch msg.Action {
	case tea.MouseActionPress:
		switch msg.Button {
		case tea.MouseButtonWheelUp:
			if m.cursor > 0 {
				m.cursor--
				m.clamp()
			}
			return m
		case tea.MouseButtonWheelDown:
			m.cursor++
			m.clamp()
			return m
		case tea.MouseButtonLeft:
		default:
			return m
		}
		id, _, ok := m.rowAt(msg.Y)
		if !ok {
			return m
		}
		if b := m.buttonAt(id, msg.X); b != buttonNone {
			return m.pushButton(id, b)
		}
		w := m.surfaceWidth()
		m.gestures.Down(id, m.point(msg), swipe.Bounds{ScreenWidth: w, SurfaceWidth: w})
	case tea.MouseActionMotion:
		if _, active := m.gestures.Active(); active {
			m.gestures.Move(m.point(msg))
		}
	case tea.MouseActionRelease:
		if _, active := m.gestures.Active(); active {
			res := m.gestures.Up(m.point(msg))
			if res.Outcome.IsCommit() {
				m.clamp()
			}
		}
	}
	return m
}
