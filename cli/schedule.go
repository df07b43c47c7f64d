package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/petal-labs/storyline/bus"
	"github.com/petal-labs/storyline/config"
	"github.com/petal-labs/storyline/engine"
	"github.com/petal-labs/storyline/hierarchy"
	storyotel "github.com/petal-labs/storyline/otel"
	"github.com/petal-labs/storyline/protocol"
)

func (a *app) newScheduleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run stored specifications on the schedules in storyline.yaml",
		Args:  cobra.NoArgs,
		RunE:  a.runSchedule,
	}
	cmd.Flags().Bool("once", false, "Run every scheduled specification once and exit")
	return cmd
}

func (a *app) runSchedule(cmd *cobra.Command, _ []string) error {
	cfg, err := a.loadConfig(cmd)
	if err != nil {
		return err
	}
	if len(cfg.Schedules) == 0 {
		return exitError(exitValidation, "no schedules configured")
	}

	st, closeStore, err := cfg.OpenStore()
	if err != nil {
		return exitError(exitValidation, "opening store: %v", err)
	}
	defer func() { _ = closeStore() }()

	b := bus.NewMemBus(bus.MemBusConfig{Logger: a.logger})
	defer b.Reset()

	closeJournal, err := a.attachJournal(b, cfg)
	if err != nil {
		return err
	}
	defer closeJournal()

	opts := runOptions(cmd, cfg)
	if cfg.Telemetry.OTLPEndpoint != "" {
		tel, err := storyotel.Setup(cmd.Context(), storyotel.Config{
			Endpoint: cfg.Telemetry.OTLPEndpoint,
			Insecure: cfg.Telemetry.Insecure,
		})
		if err != nil {
			return exitError(exitValidation, "telemetry: %v", err)
		}
		defer func() { _ = tel.Shutdown(context.Background()) }()
		opts = tel.Instrument(opts)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	host, err := engine.NewHost(engine.HostConfig{
		Bus:        b,
		Store:      st,
		Cache:      hierarchy.New(a.logger),
		Library:    a.lib,
		RunOptions: opts,
		Logger:     a.logger,
	})
	if err != nil {
		return exitError(exitValidation, "%v", err)
	}
	host.Start(ctx)
	defer host.Stop()

	out := cmd.OutOrStdout()
	failed := 0
	b.Subscribe(protocol.ChannelEngine, protocol.TopicSpecResults, func(env bus.Envelope) {
		res, err := protocol.Decode[protocol.RunResults](env.Payload)
		if err != nil || res.Report == nil {
			return
		}
		c := res.Report.Counts
		if !res.Report.Succeeded() {
			failed++
		}
		fmt.Fprintf(out, "%s %s: %d pass, %d fail, %d exception\n",
			res.Report.Started.UTC().Format(time.RFC3339), res.ID, c.Pass, c.Fail, c.Exception)
	})

	// Cron jobs fire on their own goroutines; the bus and its subscribers
	// are owned by this one, so publishes are handed to serial.Run below.
	// With --once the requests are fired from here directly.
	once, _ := cmd.Flags().GetBool("once")
	serial := engine.NewSerial()
	schedCfg := engine.SchedulerConfig{Bus: b, Store: st, Logger: a.logger}
	if !once {
		schedCfg.Dispatch = serial.Dispatch
	}
	sched, err := engine.NewScheduler(schedCfg)
	if err != nil {
		return exitError(exitValidation, "%v", err)
	}

	if once {
		for _, s := range cfg.Schedules {
			if err := sched.Fire(ctx, s.SpecID); err != nil {
				return exitError(exitFileError, "%s: %v", s.SpecID, err)
			}
		}
		if failed > 0 {
			return exitError(exitFailures, "%d scheduled specification(s) failed", failed)
		}
		return nil
	}

	for _, s := range cfg.Schedules {
		if _, err := sched.Add(s); err != nil {
			return exitError(exitValidation, "schedule %s: %v", s.SpecID, err)
		}
	}
	sched.Start(ctx)
	for _, e := range sched.Entries() {
		fmt.Fprintf(out, "Scheduled %s (%s), next run %s\n", e.SpecID, e.Cron, e.Next.Format(time.RFC3339))
	}

	serial.Run(ctx)
	fmt.Fprintln(out, "Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := sched.Stop(shutdownCtx); err != nil {
		return exitError(exitFailures, "shutdown error: %v", err)
	}
	return nil
}

// attachJournal records all bus traffic when a journal is configured. A
// SQLite specification store journals into the same database by default.
func (a *app) attachJournal(b bus.Bus, cfg config.Config) (func(), error) {
	if cfg.Journal.DSN == "" && cfg.Store.Backend == config.BackendSQLite {
		cfg.Journal.DSN = cfg.Store.DSN
	}
	journal, err := cfg.OpenJournal()
	if err != nil {
		return nil, exitError(exitValidation, "opening journal: %v", err)
	}
	if journal == nil {
		return func() {}, nil
	}
	subs := bus.NewRecorder(journal, a.logger).Attach(b,
		protocol.ChannelEditor, protocol.ChannelEngine, protocol.ChannelEngineRequest)
	return func() {
		for _, s := range subs {
			b.Unsubscribe(s)
		}
		_ = journal.Close()
	}, nil
}
