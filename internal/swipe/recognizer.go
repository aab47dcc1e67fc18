// Package swipe turns pointer samples on a list row into swipe intents.
//
// A Recognizer is a synchronous reducer: Down, Move, Up and Cancel each
// consume one sample and return what the host should render. It never
// blocks and never schedules work of its own.
package swipe

import (
	"errors"
	"math"
)

type Point struct {
	X, Y float64
}

// Bounds describes where a session happens. ScreenWidth drives the edge
// guard; SurfaceWidth is the row width used for the commit threshold.
type Bounds struct {
	ScreenWidth  float64
	SurfaceWidth float64
}

type Direction int

const (
	Undecided Direction = iota
	Horizontal
	Vertical
)

func (d Direction) String() string {
	switch d {
	case Horizontal:
		return "horizontal"
	case Vertical:
		return "vertical"
	}
	return "undecided"
}

type Side int

const (
	SideNone Side = iota
	SideLeft
	SideRight
)

func (s Side) String() string {
	switch s {
	case SideLeft:
		return "left"
	case SideRight:
		return "right"
	}
	return "none"
}

type Outcome int

const (
	// OutcomeIgnored: no session was running (edge guard or stray event).
	OutcomeIgnored Outcome = iota
	OutcomeTap
	// OutcomeScroll: the session locked vertical and belonged to the surface.
	OutcomeScroll
	OutcomeClose
	OutcomeRevealLeft
	OutcomeRevealRight
	OutcomeCommitLeft
	OutcomeCommitRight
)

func (o Outcome) String() string {
	switch o {
	case OutcomeTap:
		return "tap"
	case OutcomeScroll:
		return "scroll"
	case OutcomeClose:
		return "close"
	case OutcomeRevealLeft:
		return "reveal-left"
	case OutcomeRevealRight:
		return "reveal-right"
	case OutcomeCommitLeft:
		return "commit-left"
	case OutcomeCommitRight:
		return "commit-right"
	}
	return "ignored"
}

func (o Outcome) IsCommit() bool {
	return o == OutcomeCommitLeft || o == OutcomeCommitRight
}

func (o Outcome) IsReveal() bool {
	return o == OutcomeRevealLeft || o == OutcomeRevealRight
}

// Config holds the fixed thresholds, in the same logical units as the
// samples. The commit threshold is always half the surface width.
type Config struct {
	EdgeMargin      float64
	Deadzone        float64
	RevealThreshold float64
	PanelWidth      float64
	Damping         float64
}

func DefaultConfig() Config {
	return Config{
		EdgeMargin:      24,
		Deadzone:        10,
		RevealThreshold: 80,
		PanelWidth:      80,
		Damping:         0.3,
	}
}

func (c Config) Validate() error {
	switch {
	case c.EdgeMargin < 0:
		return errors.New("edge margin must not be negative")
	case c.Deadzone < 0:
		return errors.New("deadzone must not be negative")
	case c.RevealThreshold <= c.Deadzone:
		return errors.New("reveal threshold must exceed the deadzone")
	case c.PanelWidth <= 0:
		return errors.New("panel width must be positive")
	case c.Damping <= 0 || c.Damping >= 1:
		return errors.New("damping must be between 0 and 1 exclusive")
	}
	return nil
}

func (c Config) CommitThreshold(surfaceWidth float64) float64 {
	return 0.5 * surfaceWidth
}

// RevealReachable reports whether a release can land in the reveal band for
// this surface width. On narrow surfaces the commit threshold drops below
// the reveal threshold and every long-enough swipe commits.
func (c Config) RevealReachable(surfaceWidth float64) bool {
	return c.RevealThreshold < c.CommitThreshold(surfaceWidth)
}

// Frame is the rendering state after a Move.
type Frame struct {
	Offset    float64
	Direction Direction
	// Capture is set on exactly the sample that locked the session
	// horizontal; the host acquires pointer capture then and not earlier.
	Capture bool
}

type Result struct {
	Outcome  Outcome
	Offset   float64
	Revealed Side
}

type session struct {
	start Point
	base  float64
	width float64
	dir   Direction
	dx    float64
}

// Recognizer tracks one row. The revealed side survives across sessions
// until a close, a commit or ForceClose.
type Recognizer struct {
	cfg      Config
	offset   float64
	revealed Side
	sess     *session
}

func NewRecognizer(cfg Config) *Recognizer {
	return &Recognizer{cfg: cfg}
}

func (r *Recognizer) Offset() float64 { return r.offset }
func (r *Recognizer) Revealed() Side  { return r.revealed }
func (r *Recognizer) Active() bool    { return r.sess != nil }

func (r *Recognizer) Direction() Direction {
	if r.sess == nil {
		return Undecided
	}
	return r.sess.dir
}

// Down starts a session. It returns false when the sample falls inside the
// edge margin, in which case the whole session is ignored.
func (r *Recognizer) Down(p Point, b Bounds) bool {
	if r.nearEdge(p, b) {
		r.sess = nil
		return false
	}
	r.sess = &session{
		start: p,
		base:  r.offset,
		width: b.SurfaceWidth,
	}
	return true
}

func (r *Recognizer) nearEdge(p Point, b Bounds) bool {
	if p.X < r.cfg.EdgeMargin {
		return true
	}
	return b.ScreenWidth > 0 && p.X > b.ScreenWidth-r.cfg.EdgeMargin
}

func (r *Recognizer) Move(p Point) Frame {
	s := r.sess
	if s == nil {
		return Frame{Offset: r.offset}
	}
	dx := p.X - s.start.X
	dy := p.Y - s.start.Y

	capture := false
	if s.dir == Undecided {
		if math.Abs(dx) <= r.cfg.Deadzone && math.Abs(dy) <= r.cfg.Deadzone {
			return Frame{Offset: r.offset, Direction: Undecided}
		}
		if math.Abs(dx) > math.Abs(dy) {
			s.dir = Horizontal
			capture = true
		} else {
			s.dir = Vertical
		}
	}
	if s.dir == Vertical {
		return Frame{Offset: r.offset, Direction: Vertical}
	}

	s.dx = dx
	r.offset = r.rubberBand(s.base + dx)
	return Frame{Offset: r.offset, Direction: Horizontal, Capture: capture}
}

func (r *Recognizer) rubberBand(v float64) float64 {
	limit := r.cfg.PanelWidth
	if math.Abs(v) <= limit {
		return v
	}
	extra := (math.Abs(v) - limit) * r.cfg.Damping
	return math.Copysign(limit+extra, v)
}

// Up ends the session at p and resolves it. The distance compared with the
// thresholds is where the row ends up (the open panel's offset plus the
// drag), not the raw drag: a further 120 from a left panel of 80 travels
// 200 and commits where the drag alone would only reveal.
func (r *Recognizer) Up(p Point) Result {
	if r.sess == nil {
		return Result{Outcome: OutcomeIgnored, Offset: r.offset, Revealed: r.revealed}
	}
	r.Move(p)
	s := r.sess
	r.sess = nil

	switch s.dir {
	case Vertical:
		return Result{Outcome: OutcomeScroll, Offset: r.offset, Revealed: r.revealed}
	case Undecided:
		if r.revealed != SideNone {
			r.close()
			return Result{Outcome: OutcomeClose}
		}
		r.close()
		return Result{Outcome: OutcomeTap}
	}

	// Distance is measured from the resting position, so a swipe that
	// starts on an open panel is resolved against where the row ends up.
	travel := s.base + s.dx
	d := math.Abs(travel)
	left := travel < 0

	switch {
	case d >= r.cfg.CommitThreshold(s.width):
		r.close()
		if left {
			return Result{Outcome: OutcomeCommitLeft}
		}
		return Result{Outcome: OutcomeCommitRight}
	case d >= r.cfg.RevealThreshold:
		if left {
			r.offset = -r.cfg.PanelWidth
			r.revealed = SideLeft
			return Result{Outcome: OutcomeRevealLeft, Offset: r.offset, Revealed: r.revealed}
		}
		r.offset = r.cfg.PanelWidth
		r.revealed = SideRight
		return Result{Outcome: OutcomeRevealRight, Offset: r.offset, Revealed: r.revealed}
	}
	r.close()
	return Result{Outcome: OutcomeClose}
}

// Cancel resolves the session to a close regardless of displacement.
func (r *Recognizer) Cancel() Result {
	if r.sess == nil {
		return Result{Outcome: OutcomeIgnored, Offset: r.offset, Revealed: r.revealed}
	}
	r.sess = nil
	r.close()
	return Result{Outcome: OutcomeClose}
}

// ForceClose snaps the row shut even with no pointer down, ending any
// session in progress. It reports whether anything changed.
func (r *Recognizer) ForceClose() bool {
	changed := r.sess != nil || r.offset != 0 || r.revealed != SideNone
	r.sess = nil
	r.close()
	return changed
}

// Open reveals a side without a pointer, as a keyboard shortcut would.
func (r *Recognizer) Open(side Side) {
	r.sess = nil
	switch side {
	case SideLeft:
		r.offset = -r.cfg.PanelWidth
	case SideRight:
		r.offset = r.cfg.PanelWidth
	default:
		r.close()
		return
	}
	r.revealed = side
}

func (r *Recognizer) close() {
	r.offset = 0
	r.revealed = SideNone
}
