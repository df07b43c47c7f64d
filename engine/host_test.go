package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/petal-labs/storyline/bus"
	"github.com/petal-labs/storyline/hierarchy"
	"github.com/petal-labs/storyline/model"
	"github.com/petal-labs/storyline/presenter"
	"github.com/petal-labs/storyline/protocol"
	"github.com/petal-labs/storyline/runtime"
	"github.com/petal-labs/storyline/samples"
	"github.com/petal-labs/storyline/store"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

var fixedNow = time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC)

type fixture struct {
	bus   *bus.MemBus
	store *store.MemStore
	cache *hierarchy.Hierarchy
	host  *Host
	sent  []bus.Envelope
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		bus:   bus.NewMemBus(bus.MemBusConfig{Logger: quiet}),
		store: store.NewMemStore(),
		cache: hierarchy.New(quiet),
	}
	host, err := NewHost(HostConfig{
		Bus:     f.bus,
		Store:   f.store,
		Cache:   f.cache,
		Library: samples.Library(),
		Now:     func() time.Time { return fixedNow },
		Logger:  quiet,
	})
	if err != nil {
		t.Fatalf("NewHost: %v", err)
	}
	f.host = host
	host.Start(context.Background())
	t.Cleanup(host.Stop)

	for _, ch := range []string{protocol.ChannelEditor, protocol.ChannelEngine} {
		f.bus.Subscribe(ch, "*", func(env bus.Envelope) { f.sent = append(f.sent, env) })
	}
	return f
}

func (f *fixture) last(topic string) (bus.Envelope, bool) {
	for i := len(f.sent) - 1; i >= 0; i-- {
		if f.sent[i].Topic == topic {
			return f.sent[i], true
		}
	}
	return bus.Envelope{}, false
}

func TestNewHost_Validation(t *testing.T) {
	if _, err := NewHost(HostConfig{Store: store.NewMemStore()}); err == nil {
		t.Error("NewHost without a bus should fail")
	}
	if _, err := NewHost(HostConfig{Bus: bus.NewMemBus(bus.MemBusConfig{})}); err == nil {
		t.Error("NewHost without a store should fail")
	}
}

func TestHost_SpecDataRequested(t *testing.T) {
	f := newFixture(t)
	if _, err := f.store.Put(context.Background(), samples.Arithmetic()); err != nil {
		t.Fatal(err)
	}

	f.bus.Publish(protocol.ChannelEngineRequest, protocol.TopicSpecDataRequested, protocol.SpecRef{ID: "arithmetic"})

	msg, ok := f.last(protocol.TopicSpecDataAvailable)
	if !ok {
		t.Fatal("no spec-data-available message")
	}
	if msg.Payload.(protocol.SpecRef).ID != "arithmetic" {
		t.Errorf("payload = %+v", msg.Payload)
	}
	if f.cache.Find("arithmetic") == nil {
		t.Error("loaded data should be cached")
	}
}

func TestHost_SpecDataRequestedMissing(t *testing.T) {
	f := newFixture(t)
	f.bus.Publish(protocol.ChannelEngineRequest, protocol.TopicSpecDataRequested, protocol.SpecRef{ID: "missing"})
	if _, ok := f.last(protocol.TopicSpecDataAvailable); ok {
		t.Error("nothing should be published for an unknown spec")
	}
	if _, err := f.host.Load(context.Background(), "missing"); !errors.Is(err, store.ErrSpecNotFound) {
		t.Errorf("Load() error = %v", err)
	}
}

func TestHost_SaveSpecBody(t *testing.T) {
	f := newFixture(t)
	f.bus.Publish(protocol.ChannelEngineRequest, protocol.TopicSaveSpecBody, protocol.SpecBody{
		ID:       "arithmetic",
		Spec:     samples.Arithmetic(),
		Revision: "old",
	})

	msg, ok := f.last(protocol.TopicSpecBodySaved)
	if !ok {
		t.Fatal("no spec-body-saved message")
	}
	saved := msg.Payload.(protocol.SpecBodySaved)
	stored, err := f.store.Get(context.Background(), "arithmetic")
	if err != nil {
		t.Fatal(err)
	}
	if saved.ID != "arithmetic" || saved.Revision != stored.Revision || saved.Revision == "old" {
		t.Errorf("saved = %+v, stored revision %q", saved, stored.Revision)
	}
	if !saved.Time.Equal(fixedNow) {
		t.Errorf("time = %v", saved.Time)
	}
}

func TestHost_SaveMismatchedID(t *testing.T) {
	f := newFixture(t)
	_, err := f.host.Save(context.Background(), protocol.SpecBody{ID: "a", Spec: model.SpecData{ID: "b"}})
	if err == nil {
		t.Error("Save() should reject a body for another id")
	}
}

func TestHost_SaveHeaderBodyRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rev, err := f.store.Put(ctx, samples.Arithmetic())
	if err != nil {
		t.Fatal(err)
	}
	header := samples.Arithmetic()
	header.Mode = model.ModeHeader
	header.Steps = nil

	if _, err := f.host.Save(ctx, protocol.SpecBody{ID: "arithmetic", Spec: header}); !errors.Is(err, ErrHeaderBody) {
		t.Errorf("Save() error = %v, want ErrHeaderBody", err)
	}
	f.bus.Publish(protocol.ChannelEngineRequest, protocol.TopicSaveSpecBody, protocol.SpecBody{ID: "arithmetic", Spec: header})
	if _, ok := f.last(protocol.TopicSpecBodySaved); ok {
		t.Error("a rejected save should not be acknowledged")
	}

	stored, err := f.store.Get(ctx, "arithmetic")
	if err != nil {
		t.Fatal(err)
	}
	if stored.Revision != rev || stored.IsHeader() || len(stored.Steps) == 0 {
		t.Errorf("stored body was overwritten: mode=%q steps=%d", stored.Mode, len(stored.Steps))
	}
}

func TestHost_HeaderOnlyEditorCannotWipeStore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rev, err := f.store.Put(ctx, samples.Arithmetic())
	if err != nil {
		t.Fatal(err)
	}
	header := samples.Arithmetic()
	header.Mode = model.ModeHeader
	header.Steps = nil
	f.cache.Store("arithmetic", header)

	// The editor's data request goes out while the host is not listening,
	// so the editor keeps the header.
	f.host.Stop()
	p := presenter.New(presenter.ByID("arithmetic"), f.bus, f.cache, presenter.WithLogger(quiet))
	view := presenter.NewStateView()
	p.Activate(nil, view)
	defer p.Deactivate()
	f.host.Start(ctx)

	if err := p.Save(); !errors.Is(err, presenter.ErrNotLoaded) {
		t.Errorf("Save() error = %v, want ErrNotLoaded", err)
	}
	stored, err := f.store.Get(ctx, "arithmetic")
	if err != nil {
		t.Fatal(err)
	}
	if stored.Revision != rev || len(stored.Steps) == 0 {
		t.Errorf("stored body changed: revision=%q steps=%d", stored.Revision, len(stored.Steps))
	}
}

func TestHost_RunSpec(t *testing.T) {
	f := newFixture(t)
	f.bus.Publish(protocol.ChannelEngineRequest, protocol.TopicRunSpec, protocol.SpecBody{
		ID:       "arithmetic",
		Spec:     samples.Arithmetic(),
		Revision: "r1",
	})

	msg, ok := f.last(protocol.TopicSpecResults)
	if !ok {
		t.Fatal("no spec-results message")
	}
	res := msg.Payload.(protocol.RunResults)
	if res.ID != "arithmetic" || res.Revision != "r1" {
		t.Errorf("results = %+v", res)
	}
	if !res.Report.Succeeded() || res.Report.Revision != "r1" {
		t.Errorf("report = %+v", res.Report)
	}
}

func TestHost_RunHeaderUsesStore(t *testing.T) {
	f := newFixture(t)
	if _, err := f.store.Put(context.Background(), samples.Arithmetic()); err != nil {
		t.Fatal(err)
	}
	report, err := f.host.Run(context.Background(), protocol.SpecBody{
		ID:   "arithmetic",
		Spec: model.SpecData{ID: "arithmetic", Mode: model.ModeHeader},
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.Counts.Pass != 7 {
		t.Errorf("counts = %+v", report.Counts)
	}
}

func TestHost_RunOptionsApplied(t *testing.T) {
	var events []runtime.Event
	f := newFixture(t)
	f.host.opts = runtime.Options{
		Policy:       runtime.Policy{StopOnFailure: true},
		EventHandler: func(e runtime.Event) { events = append(events, e) },
	}
	d := samples.Arithmetic()
	d.Steps[1].Steps[0].Cells[2].Value = "4" // add: 1 + 2 is not 4

	report, err := f.host.Run(context.Background(), protocol.SpecBody{ID: d.ID, Spec: d})
	if err != nil {
		t.Fatal(err)
	}
	if report.Status != runtime.RunCancelled || report.Counts.Fail != 1 {
		t.Errorf("status=%s counts=%+v", report.Status, report.Counts)
	}
	if len(events) == 0 || events[0].Kind != runtime.EventRunStarted {
		t.Error("run events should reach the configured handler")
	}
}

func TestHost_Stop(t *testing.T) {
	f := newFixture(t)
	f.host.Stop()
	f.bus.Publish(protocol.ChannelEngineRequest, protocol.TopicRunSpec, protocol.SpecBody{ID: "arithmetic", Spec: samples.Arithmetic()})
	if _, ok := f.last(protocol.TopicSpecResults); ok {
		t.Error("a stopped host should not answer")
	}
}

// The editor and the engine share only the bus: a full edit, save and run
// cycle driven from the presenter.
func TestHost_EditorRoundTrip(t *testing.T) {
	f := newFixture(t)
	if _, err := f.store.Put(context.Background(), samples.Arithmetic()); err != nil {
		t.Fatal(err)
	}

	view := presenter.NewStateView()
	p := presenter.New(presenter.ByID("arithmetic"), f.bus, f.cache, presenter.WithLogger(quiet))
	p.Activate(nil, view)
	defer p.Deactivate()

	if p.Spec() == nil || view.State().Loading {
		t.Fatal("the engine should have answered the data request during Activate")
	}

	if err := p.ApplyChange(model.NewCellValueChange("add", "y", "5")); err != nil {
		t.Fatal(err)
	}
	if !p.Spec().IsDirty() {
		t.Fatal("spec should be dirty after an edit")
	}

	if err := p.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	state := view.State()
	if state.Persisting {
		t.Error("save should have completed")
	}
	if p.Spec().IsDirty() {
		t.Error("spec should be clean after the save")
	}
	stored, _ := f.store.Get(context.Background(), "arithmetic")
	if p.Spec().Revision() != stored.Revision {
		t.Errorf("revision = %q, stored %q", p.Spec().Revision(), stored.Revision)
	}
	if state.Results == nil {
		t.Fatal("view should show the run report")
	}
	// 1 + 5 is not the expected 3.
	if state.Results.Counts.Fail != 1 || state.Results.Revision != stored.Revision {
		t.Errorf("report counts=%+v revision=%q", state.Results.Counts, state.Results.Revision)
	}
	if view.Navigations() != 1 {
		t.Error("view should navigate to results")
	}
}
