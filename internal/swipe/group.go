package swipe

// Hooks are called synchronously from Group.Up and friends. Any of them may
// be nil.
type Hooks struct {
	OnTap          func(id string)
	OnCommitLeft   func(id string)
	OnCommitRight  func(id string)
	OnRevealChange func(id string, side Side)
}

// Group owns one Recognizer per row and the single "currently revealed"
// id. Revealing a row force-closes whichever row was open before.
type Group struct {
	cfg        Config
	hooks      Hooks
	rows       map[string]*Recognizer
	activeID   string
	revealedID string
}

func NewGroup(cfg Config, hooks Hooks) *Group {
	return &Group{
		cfg:   cfg,
		hooks: hooks,
		rows:  make(map[string]*Recognizer),
	}
}

func (g *Group) Config() Config { return g.cfg }

func (g *Group) row(id string) *Recognizer {
	r, ok := g.rows[id]
	if !ok {
		r = NewRecognizer(g.cfg)
		g.rows[id] = r
	}
	return r
}

// Down starts a session on row id. A second pointer while a session is
// running is ignored.
func (g *Group) Down(id string, p Point, b Bounds) bool {
	if g.activeID != "" || id == "" {
		return false
	}
	if !g.row(id).Down(p, b) {
		return false
	}
	g.activeID = id
	return true
}

// Active returns the row with a running session.
func (g *Group) Active() (string, bool) {
	return g.activeID, g.activeID != ""
}

func (g *Group) Move(p Point) Frame {
	if g.activeID == "" {
		return Frame{}
	}
	return g.row(g.activeID).Move(p)
}

func (g *Group) Up(p Point) Result {
	if g.activeID == "" {
		return Result{Outcome: OutcomeIgnored}
	}
	id := g.activeID
	g.activeID = ""
	res := g.row(id).Up(p)
	g.settle(id, res)
	return res
}

// Cancel resolves the running session, if any, to a close.
func (g *Group) Cancel() Result {
	if g.activeID == "" {
		return Result{Outcome: OutcomeIgnored}
	}
	id := g.activeID
	g.activeID = ""
	res := g.row(id).Cancel()
	g.settle(id, res)
	return res
}

func (g *Group) settle(id string, res Result) {
	switch res.Outcome {
	case OutcomeTap:
		g.clearRevealed(id)
		if g.hooks.OnTap != nil {
			g.hooks.OnTap(id)
		}
	case OutcomeClose:
		g.clearRevealed(id)
	case OutcomeRevealLeft, OutcomeRevealRight:
		g.setRevealed(id, res.Revealed)
	case OutcomeCommitLeft:
		g.clearRevealed(id)
		if g.hooks.OnCommitLeft != nil {
			g.hooks.OnCommitLeft(id)
		}
	case OutcomeCommitRight:
		g.clearRevealed(id)
		if g.hooks.OnCommitRight != nil {
			g.hooks.OnCommitRight(id)
		}
	}
}

func (g *Group) setRevealed(id string, side Side) {
	if prev := g.revealedID; prev != "" && prev != id {
		if r, ok := g.rows[prev]; ok {
			r.ForceClose()
		}
		g.revealedID = ""
		g.notify(prev, SideNone)
	}
	g.revealedID = id
	g.notify(id, side)
}

func (g *Group) clearRevealed(id string) {
	if g.revealedID != id {
		return
	}
	g.revealedID = ""
	g.notify(id, SideNone)
}

func (g *Group) notify(id string, side Side) {
	if g.hooks.OnRevealChange != nil {
		g.hooks.OnRevealChange(id, side)
	}
}

// Reveal opens a row without a pointer session.
func (g *Group) Reveal(id string, side Side) {
	if id == "" {
		return
	}
	if side == SideNone {
		g.Close(id)
		return
	}
	g.row(id).Open(side)
	g.setRevealed(id, side)
}

// Close force-closes one row, ending its session if it has one.
func (g *Group) Close(id string) {
	r, ok := g.rows[id]
	if !ok {
		return
	}
	r.ForceClose()
	if g.activeID == id {
		g.activeID = ""
	}
	g.clearRevealed(id)
}

func (g *Group) CloseAll() {
	for id := range g.rows {
		g.Close(id)
	}
}

// Forget drops the state of a row that left the list.
func (g *Group) Forget(id string) {
	if _, ok := g.rows[id]; !ok {
		return
	}
	g.Close(id)
	delete(g.rows, id)
}

func (g *Group) RevealedID() string { return g.revealedID }

func (g *Group) Revealed(id string) bool {
	return id != "" && g.revealedID == id
}

func (g *Group) Side(id string) Side {
	if r, ok := g.rows[id]; ok {
		return r.Revealed()
	}
	return SideNone
}

func (g *Group) Offset(id string) float64 {
	if r, ok := g.rows[id]; ok {
		return r.Offset()
	}
	return 0
}
