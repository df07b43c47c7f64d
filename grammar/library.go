package grammar

import "sync"

// Fixture is a named group of actions. A section step whose kind names a
// fixture scopes grammar lookup for its children.
type Fixture struct {
	name     string
	mu       sync.RWMutex
	grammars map[string]*Action
	order    []string // preserves registration order
}

// NewFixture creates a fixture holding the given actions.
func NewFixture(name string, actions ...*Action) *Fixture {
	f := &Fixture{name: name, grammars: make(map[string]*Action)}
	for _, a := range actions {
		f.Register(a)
	}
	return f
}

// Name returns the fixture name.
func (f *Fixture) Name() string { return f.name }

// Register adds an action. An action with the same key is overwritten.
func (f *Fixture) Register(a *Action) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.grammars[a.key]; !exists {
		f.order = append(f.order, a.key)
	}
	f.grammars[a.key] = a
}

// Get returns the action registered under key.
func (f *Fixture) Get(key string) (*Action, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	a, ok := f.grammars[key]
	return a, ok
}

// Keys returns the grammar keys in registration order.
func (f *Fixture) Keys() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return append([]string(nil), f.order...)
}

// Library holds every fixture and global grammar known to an engine.
type Library struct {
	mu          sync.RWMutex
	fixtures    map[string]*Fixture
	order       []string
	global      *Fixture
	conversions *Conversions
}

// NewLibrary creates an empty library with its own conversion registry.
func NewLibrary() *Library {
	return &Library{
		fixtures:    make(map[string]*Fixture),
		global:      NewFixture(""),
		conversions: NewConversions(),
	}
}

// Add registers fixtures. A fixture with the same name is overwritten.
func (l *Library) Add(fixtures ...*Fixture) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, f := range fixtures {
		if _, exists := l.fixtures[f.name]; !exists {
			l.order = append(l.order, f.name)
		}
		l.fixtures[f.name] = f
	}
}

// RegisterGlobal adds actions reachable from any fixture.
func (l *Library) RegisterGlobal(actions ...*Action) {
	for _, a := range actions {
		l.global.Register(a)
	}
}

// Fixture returns the named fixture.
func (l *Library) Fixture(name string) (*Fixture, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	f, ok := l.fixtures[name]
	return f, ok
}

// Fixtures returns fixture names in registration order.
func (l *Library) Fixtures() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]string(nil), l.order...)
}

// Lookup resolves kind within fixture, falling back to global grammars.
func (l *Library) Lookup(fixture, kind string) (*Action, bool) {
	if f, ok := l.Fixture(fixture); ok {
		if a, ok := f.Get(kind); ok {
			return a, true
		}
	}
	return l.global.Get(kind)
}

// Conversions returns the library's conversion registry.
func (l *Library) Conversions() *Conversions {
	return l.conversions
}
