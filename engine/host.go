// Package engine is the in-process stand-in for the execution engine. It
// answers engine-request messages from editors: it loads and saves
// specifications through a store and runs them against a fixture library.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/petal-labs/storyline/bus"
	"github.com/petal-labs/storyline/grammar"
	"github.com/petal-labs/storyline/model"
	"github.com/petal-labs/storyline/protocol"
	"github.com/petal-labs/storyline/runtime"
	"github.com/petal-labs/storyline/store"
)

// ErrHeaderBody is returned when a save carries metadata only. Storing it
// would replace the stored step tree with nothing.
var ErrHeaderBody = errors.New("engine: refusing to save a header-only specification")

// Cache receives loaded specification data for editors.
type Cache interface {
	Store(id string, data model.SpecData)
}

// HostConfig configures a Host.
type HostConfig struct {
	Bus     bus.Bus
	Store   store.SpecStore
	Cache   Cache
	Library *grammar.Library

	// RunOptions is the template for every run. RunID and Context are
	// reset per run.
	RunOptions runtime.Options

	Now    func() time.Time
	Logger *slog.Logger
}

// Host serves engine-request messages. Requests are handled one at a time;
// replies are published after the request's work is done.
type Host struct {
	bus     bus.Bus
	store   store.SpecStore
	cache   Cache
	library *grammar.Library
	opts    runtime.Options
	now     func() time.Time
	logger  *slog.Logger

	mu   sync.Mutex // serializes request handling
	ctx  context.Context
	subs []*bus.Subscription
}

// NewHost creates a Host.
func NewHost(cfg HostConfig) (*Host, error) {
	if cfg.Bus == nil {
		return nil, errors.New("engine host bus is nil")
	}
	if cfg.Store == nil {
		return nil, errors.New("engine host store is nil")
	}
	if cfg.Library == nil {
		cfg.Library = grammar.NewLibrary()
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Host{
		bus:     cfg.Bus,
		store:   cfg.Store,
		cache:   cfg.Cache,
		library: cfg.Library,
		opts:    cfg.RunOptions,
		now:     cfg.Now,
		logger:  cfg.Logger,
		ctx:     context.Background(),
	}, nil
}

// Start subscribes the host to engine requests. ctx bounds the work done
// for each request.
func (h *Host) Start(ctx context.Context) {
	h.Stop()
	h.ctx = ctx
	h.subs = append(h.subs,
		h.bus.Subscribe(protocol.ChannelEngineRequest, protocol.TopicSpecDataRequested, h.onSpecDataRequested),
		h.bus.Subscribe(protocol.ChannelEngineRequest, protocol.TopicSaveSpecBody, h.onSaveSpecBody),
		h.bus.Subscribe(protocol.ChannelEngineRequest, protocol.TopicRunSpec, h.onRunSpec),
	)
}

// Stop unsubscribes the host.
func (h *Host) Stop() {
	for _, sub := range h.subs {
		h.bus.Unsubscribe(sub)
	}
	h.subs = nil
}

// Load reads id from the store into the cache.
func (h *Host) Load(ctx context.Context, id string) (model.SpecData, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	d, err := h.store.Get(ctx, id)
	if err != nil {
		return model.SpecData{}, err
	}
	if h.cache != nil {
		h.cache.Store(id, d)
	}
	return d, nil
}

// Save writes body to the store and returns the saved notice.
func (h *Host) Save(ctx context.Context, body protocol.SpecBody) (protocol.SpecBodySaved, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	d := body.Spec
	if d.ID == "" {
		d.ID = body.ID
	}
	if d.ID != body.ID {
		return protocol.SpecBodySaved{}, fmt.Errorf("engine: body id %q does not match message id %q", d.ID, body.ID)
	}
	if d.IsHeader() {
		return protocol.SpecBodySaved{}, fmt.Errorf("%w: %s", ErrHeaderBody, body.ID)
	}
	rev, err := h.store.Put(ctx, d)
	if err != nil {
		return protocol.SpecBodySaved{}, err
	}
	return protocol.SpecBodySaved{ID: body.ID, Revision: rev, Time: h.now()}, nil
}

// Run executes body. A header-only body is replaced by the stored data.
func (h *Host) Run(ctx context.Context, body protocol.SpecBody) (*runtime.Report, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	d := body.Spec
	if d.ID == "" {
		d.ID = body.ID
	}
	if d.IsHeader() {
		stored, err := h.store.Get(ctx, body.ID)
		if err != nil {
			return nil, err
		}
		d = stored
	}
	spec, err := model.FromData(d)
	if err != nil {
		return nil, err
	}

	opts := h.opts
	opts.RunID = ""
	opts.Context = nil
	report, err := runtime.Run(ctx, spec, h.library, opts)
	if err != nil {
		return nil, err
	}
	if body.Revision != "" {
		report.Revision = body.Revision
	}
	return report, nil
}

func (h *Host) onSpecDataRequested(env bus.Envelope) {
	ref, err := protocol.Decode[protocol.SpecRef](env.Payload)
	if err != nil {
		h.logger.Warn("ignoring malformed request", "topic", env.Topic, "error", err)
		return
	}
	if _, err := h.Load(h.ctx, ref.ID); err != nil {
		h.logger.Error("load specification", "spec", ref.ID, "error", err)
		return
	}
	h.bus.Publish(protocol.ChannelEditor, protocol.TopicSpecDataAvailable, protocol.SpecRef{ID: ref.ID})
}

func (h *Host) onSaveSpecBody(env bus.Envelope) {
	body, err := protocol.Decode[protocol.SpecBody](env.Payload)
	if err != nil {
		h.logger.Warn("ignoring malformed request", "topic", env.Topic, "error", err)
		return
	}
	saved, err := h.Save(h.ctx, body)
	if err != nil {
		h.logger.Error("save specification", "spec", body.ID, "error", err)
		return
	}
	h.logger.Info("specification saved", "spec", saved.ID, "revision", saved.Revision)
	h.bus.Publish(protocol.ChannelEngine, protocol.TopicSpecBodySaved, saved)
}

func (h *Host) onRunSpec(env bus.Envelope) {
	body, err := protocol.Decode[protocol.SpecBody](env.Payload)
	if err != nil {
		h.logger.Warn("ignoring malformed request", "topic", env.Topic, "error", err)
		return
	}
	report, err := h.Run(h.ctx, body)
	if err != nil {
		h.logger.Error("run specification", "spec", body.ID, "error", err)
		return
	}
	h.logger.Info("specification run",
		"spec", body.ID,
		"run_id", report.RunID,
		"status", report.Status,
		"pass", report.Counts.Pass,
		"fail", report.Counts.Fail,
		"exception", report.Counts.Exception,
	)
	h.bus.Publish(protocol.ChannelEngine, protocol.TopicSpecResults, protocol.RunResults{
		ID:       body.ID,
		Revision: body.Revision,
		Report:   report,
	})
}
