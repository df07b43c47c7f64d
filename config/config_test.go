package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/petal-labs/storyline/engine"
	"github.com/petal-labs/storyline/model"
	"github.com/petal-labs/storyline/store"
)

func TestDiscoverFrom_FirstMatchWins(t *testing.T) {
	cwd := t.TempDir()
	home := t.TempDir()

	project := filepath.Join(cwd, "storyline.yaml")
	if err := os.WriteFile(project, []byte("store: {backend: memory}"), 0o600); err != nil {
		t.Fatal(err)
	}
	homeDir := filepath.Join(home, ".storyline")
	if err := os.MkdirAll(homeDir, 0o755); err != nil {
		t.Fatal(err)
	}
	homeCfg := filepath.Join(homeDir, "config.yaml")
	if err := os.WriteFile(homeCfg, []byte("store: {backend: memory}"), 0o600); err != nil {
		t.Fatal(err)
	}

	got, found, err := DiscoverFrom("", cwd, home)
	if err != nil || !found || got != project {
		t.Fatalf("DiscoverFrom() = %q, %v, %v; want %q", got, found, err, project)
	}

	_ = os.Remove(project)
	got, found, err = DiscoverFrom("", cwd, home)
	if err != nil || !found || got != homeCfg {
		t.Fatalf("DiscoverFrom() fallback = %q, %v, %v; want %q", got, found, err, homeCfg)
	}
}

func TestDiscoverFrom_NothingFound(t *testing.T) {
	_, found, err := DiscoverFrom("", t.TempDir(), t.TempDir())
	if err != nil || found {
		t.Fatalf("found=%v err=%v, want false/nil", found, err)
	}
}

func TestDiscoverFrom_ExplicitNotFound(t *testing.T) {
	_, found, err := DiscoverFrom(filepath.Join(t.TempDir(), "missing.yaml"), t.TempDir(), t.TempDir())
	if err == nil || found {
		t.Fatalf("found=%v err=%v, want an error", found, err)
	}
}

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(`
store:
  backend: sqlite
  dsn: specs.db
execution:
  stop_on_failure: true
journal:
  dsn: journal.db
  retention_age: 48h
  retention_count: 500
schedules:
  - spec: arithmetic
    cron: "0 6 * * *"
telemetry:
  otlp_endpoint: localhost:4318
  insecure: true
`))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.Store.Backend != BackendSQLite || cfg.Store.DSN != "specs.db" {
		t.Errorf("store = %+v", cfg.Store)
	}
	if p := cfg.Policy(); !p.StopOnFailure || p.StopOnException {
		t.Errorf("policy = %+v", p)
	}
	if cfg.Journal.RetentionAge != 48*time.Hour || cfg.Journal.RetentionCount != 500 {
		t.Errorf("journal = %+v", cfg.Journal)
	}
	want := engine.Schedule{SpecID: "arithmetic", Cron: "0 6 * * *"}
	if len(cfg.Schedules) != 1 || cfg.Schedules[0] != want {
		t.Errorf("schedules = %+v", cfg.Schedules)
	}
	if cfg.Telemetry.OTLPEndpoint != "localhost:4318" || !cfg.Telemetry.Insecure {
		t.Errorf("telemetry = %+v", cfg.Telemetry)
	}
}

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte("execution: {stop_on_exception: true}"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Store != Default().Store {
		t.Errorf("store = %+v, want defaults", cfg.Store)
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"unknown backend", "store: {backend: etcd}", "unknown store backend"},
		{"sqlite without dsn", "store: {backend: sqlite}", "store.dsn"},
		{"redis without addr", "store: {backend: redis}", "store.addr"},
		{"dir without dir", "store: {backend: dir, dir: ''}", "store.dir"},
		{"negative retention", "journal: {retention_count: -1}", "retention"},
		{"schedule without spec", "schedules: [{cron: '@daily'}]", "spec is required"},
		{"bad cron", "schedules: [{spec: a, cron: 'every day'}]", "bad schedule"},
		{"not yaml", "store: [", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			if err == nil {
				t.Fatal("Parse() error = nil")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestParse_BadCronWrapsSentinel(t *testing.T) {
	_, err := Parse([]byte("schedules: [{spec: a, cron: 'nope'}]"))
	if !errors.Is(err, engine.ErrBadSchedule) {
		t.Errorf("error = %v, want ErrBadSchedule", err)
	}
}

func TestLoad_ResolvesRelativeDir(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "storyline.yaml")
	if err := os.WriteFile(path, []byte("store: {backend: dir, dir: specs}"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Store.Dir != filepath.Join(dir, "specs") {
		t.Errorf("dir = %q", cfg.Store.Dir)
	}
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	for _, sc := range []StoreConfig{
		{Backend: BackendMemory},
		{Backend: BackendDir, Dir: filepath.Join(dir, "specs")},
		{Backend: BackendSQLite, DSN: filepath.Join(dir, "specs.db")},
	} {
		t.Run(sc.Backend, func(t *testing.T) {
			cfg := Config{Store: sc}
			st, closeStore, err := cfg.OpenStore()
			if err != nil {
				t.Fatalf("OpenStore() error = %v", err)
			}
			defer closeStore()

			if _, err := st.Put(ctx, model.SpecData{ID: "s1", Title: "One"}); err != nil {
				t.Fatalf("Put() error = %v", err)
			}
			got, err := st.Get(ctx, "s1")
			if err != nil || got.Title != "One" {
				t.Errorf("Get() = %+v, %v", got, err)
			}
			if _, err := st.Get(ctx, "nope"); !errors.Is(err, store.ErrSpecNotFound) {
				t.Errorf("Get(missing) error = %v", err)
			}
		})
	}

	if _, _, err := (Config{Store: StoreConfig{Backend: "zip"}}).OpenStore(); err == nil {
		t.Error("OpenStore() with an unknown backend should fail")
	}
}

func TestOpenJournal(t *testing.T) {
	j, err := Config{}.OpenJournal()
	if err != nil || j != nil {
		t.Fatalf("OpenJournal() without dsn = %v, %v", j, err)
	}

	cfg := Config{Journal: JournalConfig{DSN: filepath.Join(t.TempDir(), "journal.db")}}
	j, err = cfg.OpenJournal()
	if err != nil {
		t.Fatalf("OpenJournal() error = %v", err)
	}
	defer j.Close()
	seq, err := j.LatestSeq(context.Background(), "editor")
	if err != nil || seq != 0 {
		t.Errorf("LatestSeq() = %d, %v", seq, err)
	}
}
