// Package presenter coordinates one editing session: it owns the active
// Specification, applies edits through its change log, talks to the engine
// over the bus and pushes state to a View.
//
// A Presenter is single-owner. All calls, including bus deliveries, are
// expected on one goroutine; bus handlers may re-enter the Presenter.
// Requests published from other goroutines, such as a cron scheduler, must
// be routed through engine.Serial so their replies arrive on that goroutine.
package presenter

import (
	"errors"
	"log/slog"

	"github.com/petal-labs/storyline/bus"
	"github.com/petal-labs/storyline/model"
	"github.com/petal-labs/storyline/protocol"
)

// ErrNotLoaded is returned by operations that need the specification
// before it has been loaded. Save and Run also return it while only the
// header is known.
var ErrNotLoaded = errors.New("presenter: specification not loaded")

// Cache resolves specification ids to loaded specifications.
type Cache interface {
	Store(id string, data model.SpecData)
	Find(id string) *model.Specification
}

// Loader is handed to Activate and kept for the view; the presenter itself
// does not call it.
type Loader any

// Ref names the specification a Presenter edits, either by id or by an
// already loaded object.
type Ref struct {
	id   string
	spec *model.Specification
}

// ByID refers to a specification by id. It is resolved through the cache.
func ByID(id string) Ref { return Ref{id: id} }

// BySpec refers to an already loaded specification.
func BySpec(spec *model.Specification) Ref { return Ref{id: spec.ID(), spec: spec} }

// ID returns the referenced specification id.
func (r Ref) ID() string { return r.id }

// Option configures a Presenter.
type Option func(*Presenter)

// WithLogger sets the logger. Default slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(p *Presenter) {
		if l != nil {
			p.logger = l
		}
	}
}

// Presenter is the editor-side coordinator for one specification.
type Presenter struct {
	id     string
	spec   *model.Specification
	bus    bus.Bus
	cache  Cache
	logger *slog.Logger

	loader     Loader
	view       View
	active     bool
	subs       []*bus.Subscription
	stopEdited func()
}

// New creates a Presenter for ref. cache may be nil when ref is BySpec.
func New(ref Ref, b bus.Bus, cache Cache, opts ...Option) *Presenter {
	p := &Presenter{
		id:     ref.id,
		spec:   ref.spec,
		bus:    b,
		cache:  cache,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("spec", p.id)
	return p
}

// ID returns the id of the edited specification.
func (p *Presenter) ID() string { return p.id }

// Spec returns the edited specification, or nil before it is loaded.
func (p *Presenter) Spec() *model.Specification { return p.spec }

// Loader returns the loader passed to Activate.
func (p *Presenter) Loader() Loader { return p.loader }

// Active reports whether the presenter is between Activate and Deactivate.
func (p *Presenter) Active() bool { return p.active }

// Activate attaches view and starts listening to the bus. When the
// specification is available in full it is rendered before Activate
// returns; otherwise the view is told it is loading and the engine is asked
// for the data.
func (p *Presenter) Activate(loader Loader, view View) {
	if p.active {
		p.Deactivate()
	}
	p.loader = loader
	p.view = view
	p.active = true
	p.subscribe()

	spec := p.spec
	if spec == nil {
		spec = p.resolve()
	}
	if spec == nil || spec.Mode() == model.ModeHeader {
		if spec != nil {
			p.assign(spec)
		}
		p.setState(Patch{Loading: ptr(true)})
		p.logger.Debug("requesting specification data")
		p.bus.Publish(protocol.ChannelEngineRequest, protocol.TopicSpecDataRequested, protocol.SpecRef{ID: p.id})
		return
	}
	p.assign(spec)
	p.refresh()
}

// Deactivate stops all bus traffic into the presenter.
func (p *Presenter) Deactivate() {
	for _, sub := range p.subs {
		p.bus.Unsubscribe(sub)
	}
	p.subs = nil
	if p.stopEdited != nil {
		p.stopEdited()
		p.stopEdited = nil
	}
	p.active = false
}

func (p *Presenter) subscribe() {
	on := func(channel, topic string, h bus.Handler) {
		p.subs = append(p.subs, p.bus.Subscribe(channel, topic, func(env bus.Envelope) {
			if p.active {
				h(env)
			}
		}))
	}
	on(protocol.ChannelEditor, protocol.TopicSpecDataAvailable, p.onSpecData)
	on(protocol.ChannelEditor, protocol.TopicSpecChanged, p.onSpecData)
	on(protocol.ChannelEditor, protocol.TopicChanges, p.onChanges)
	on(protocol.ChannelEditor, protocol.TopicSelectCell, p.onSelectCell)
	on(protocol.ChannelEngine, protocol.TopicSpecBodySaved, p.onSpecBodySaved)
	on(protocol.ChannelEngine, protocol.TopicSpecResults, p.onSpecResults)
}

// ApplyChange applies c to the specification. Listeners see it as a
// spec-edited message.
func (p *Presenter) ApplyChange(c model.Change) error {
	if p.spec == nil {
		return ErrNotLoaded
	}
	if err := p.spec.ApplyChange(c); err != nil {
		return err
	}
	p.pushUndoState()
	return nil
}

// SelectCell makes the referenced cell the active one and shows its
// enclosing section.
func (p *Presenter) SelectCell(ref model.CellRef) error {
	if p.spec == nil {
		return ErrNotLoaded
	}
	container, err := p.spec.SelectCell(ref)
	if err != nil {
		return err
	}
	p.setState(Patch{ActiveContainer: container})
	return nil
}

// Undo reverts the last change. Having nothing to undo is not an error.
func (p *Presenter) Undo() error {
	return p.step("undo", func(s *model.Specification) error { return s.Undo() })
}

// Redo reapplies the last undone change. Having nothing to redo is not an
// error.
func (p *Presenter) Redo() error {
	return p.step("redo", func(s *model.Specification) error { return s.Redo() })
}

func (p *Presenter) step(op string, fn func(*model.Specification) error) error {
	if p.spec == nil {
		return ErrNotLoaded
	}
	if err := fn(p.spec); err != nil {
		if model.IsNoOp(err) {
			p.logger.Debug("nothing to "+op, "status", p.spec.ChangeStatus())
			return nil
		}
		return err
	}
	p.pushUndoState()
	return nil
}

// Save asks the engine to persist the current specification body.
func (p *Presenter) Save() error {
	if p.spec == nil || p.spec.Mode() == model.ModeHeader {
		return ErrNotLoaded
	}
	p.setState(Patch{Persisting: ptr(true)})
	p.bus.Publish(protocol.ChannelEngineRequest, protocol.TopicSaveSpecBody, p.body())
	return nil
}

// Run saves the specification, asks the engine to run it and navigates the
// view to the results.
func (p *Presenter) Run() error {
	if err := p.Save(); err != nil {
		return err
	}
	p.bus.Publish(protocol.ChannelEngineRequest, protocol.TopicRunSpec, p.body())
	if p.view != nil {
		p.view.GotoResults()
	}
	return nil
}

// SpecDateUpdating tells the view the backing data is being replaced.
func (p *Presenter) SpecDateUpdating() {
	p.setState(Patch{UpdatingDate: ptr(true)})
}

// SpecDateUpdated re-resolves the specification from the cache and
// renders it.
func (p *Presenter) SpecDateUpdated() {
	if spec := p.resolve(); spec != nil {
		p.assign(spec)
	}
	p.setState(Patch{UpdatingDate: ptr(false)})
	if p.spec != nil {
		p.refresh()
	}
}

func (p *Presenter) body() protocol.SpecBody {
	return protocol.SpecBody{
		ID:       p.id,
		Spec:     p.spec.Write(),
		Revision: p.spec.Revision(),
	}
}

func (p *Presenter) onSpecData(env bus.Envelope) {
	ref, err := protocol.Decode[protocol.SpecRef](env.Payload)
	if err != nil {
		p.logger.Warn("ignoring malformed message", "topic", env.Topic, "error", err)
		return
	}
	if ref.ID != p.id {
		return
	}
	if spec := p.resolve(); spec != nil {
		p.assign(spec)
	}
	if p.spec == nil {
		p.logger.Debug("specification still not available", "topic", env.Topic)
		return
	}
	p.refresh()
}

func (p *Presenter) onChanges(env bus.Envelope) {
	spec, payload := protocol.Unaddress(env.Payload)
	if spec != "" && spec != p.id {
		return
	}
	c, err := protocol.DecodeChange(payload)
	if err != nil {
		p.logger.Warn("ignoring malformed change", "error", err)
		return
	}
	if !p.owns(c.StepID()) {
		return
	}
	if err := p.ApplyChange(c); err != nil {
		p.logger.Warn("change rejected", "step", c.StepID(), "error", err)
	}
}

func (p *Presenter) onSelectCell(env bus.Envelope) {
	spec, payload := protocol.Unaddress(env.Payload)
	if spec != "" && spec != p.id {
		return
	}
	ref, err := protocol.Decode[model.CellRef](payload)
	if err != nil {
		p.logger.Warn("ignoring malformed selection", "error", err)
		return
	}
	if !p.owns(ref.Step) {
		return
	}
	if err := p.SelectCell(ref); err != nil {
		p.logger.Warn("selection rejected", "step", ref.Step, "cell", ref.Cell, "error", err)
	}
}

func (p *Presenter) onSpecBodySaved(env bus.Envelope) {
	saved, err := protocol.Decode[protocol.SpecBodySaved](env.Payload)
	if err != nil {
		p.logger.Warn("ignoring malformed message", "topic", env.Topic, "error", err)
		return
	}
	if saved.ID != p.id || p.spec == nil {
		return
	}
	p.spec.BaselineAt(saved.Revision)
	p.setState(Patch{Persisting: ptr(false), LastSaved: ptr(saved.Time)})
	p.refresh()
}

func (p *Presenter) onSpecResults(env bus.Envelope) {
	res, err := protocol.Decode[protocol.RunResults](env.Payload)
	if err != nil {
		p.logger.Warn("ignoring malformed message", "topic", env.Topic, "error", err)
		return
	}
	if res.ID != p.id || res.Report == nil {
		return
	}
	p.setState(Patch{Results: res.Report})
}

// owns reports whether stepID belongs to the edited specification.
// Messages addressed to other editors are dropped silently. Unaddressed
// messages are matched by step id only, so two editors whose
// specifications share a step id both accept them.
func (p *Presenter) owns(stepID string) bool {
	if p.spec == nil {
		return false
	}
	_, err := p.spec.FindStep(stepID)
	return err == nil
}

func (p *Presenter) resolve() *model.Specification {
	if p.cache == nil {
		return nil
	}
	return p.cache.Find(p.id)
}

// assign makes spec the edited specification and moves the spec-edited
// publisher over to it.
func (p *Presenter) assign(spec *model.Specification) {
	if spec == p.spec && p.stopEdited != nil {
		return
	}
	if p.stopEdited != nil {
		p.stopEdited()
		p.stopEdited = nil
	}
	p.spec = spec
	if p.active {
		p.stopEdited = spec.OnEdited(func(c model.Change) {
			p.bus.Publish(protocol.ChannelEditor, protocol.TopicSpecEdited, protocol.SpecEdited{ID: p.id, Change: c})
		})
	}
}

// refresh pushes a full snapshot of the edited specification.
func (p *Presenter) refresh() {
	s := p.spec
	p.setState(Patch{
		Spec:            s,
		Loading:         ptr(s.Mode() == model.ModeHeader),
		RetryCount:      s.MaxRetries(),
		ActiveContainer: s.ActiveContainer(),
		UndoEnabled:     ptr(s.CanUndo()),
		RedoEnabled:     ptr(s.CanRedo()),
	})
	p.logger.Debug("editor refreshed", "revision", s.Revision(), "dirty", s.IsDirty())
}

func (p *Presenter) pushUndoState() {
	p.setState(Patch{
		UndoEnabled: ptr(p.spec.CanUndo()),
		RedoEnabled: ptr(p.spec.CanRedo()),
	})
}

func (p *Presenter) setState(patch Patch) {
	if p.view != nil {
		p.view.SetState(patch)
	}
}
