package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/rustyeddy/dtcterm/engine"
	"github.com/rustyeddy/dtcterm/internal/logging"
	"github.com/rustyeddy/dtcterm/internal/server"
	"github.com/rustyeddy/dtcterm/journal"
	"github.com/rustyeddy/dtcterm/session"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Connect to the DTC server and run the live engine",
	Long: `Run connects to the configured DTC server, recovers persisted positions,
and keeps orders, positions and equity reconciled until interrupted.

When server.addr is set, a read-only HTTP surface is served with /health,
/metrics, /ws (live events) and /api/v1 queries.

Example:
  dtcterm run -f dtcterm.yaml`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

var (
	runHTTPAddr        string
	runShutdownTimeout time.Duration
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&runHTTPAddr, "http", "", "serve the HTTP surface on this address (overrides server.addr)")
	runCmd.Flags().DurationVar(&runShutdownTimeout, "shutdown-timeout", 10*time.Second, "time allowed for logoff and journal drain")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if runHTTPAddr != "" {
		cfg.Server.Addr = runHTTPAddr
	}

	log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := journal.NewSQLite(cfg.Journal.DBPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()
	writer := journal.NewAsync(db, cfg.Journal.QueueSize, log)

	eng := engine.New(cfg.EngineConfig(), writer, log)
	sum, err := eng.Recover(ctx, db, cfg.Recovery.MaxAge.D(), log)
	if err != nil {
		return fmt.Errorf("recover: %w", err)
	}
	if sum.Stale > 0 {
		for _, k := range sum.StaleKeys {
			log.WithFields(logrus.Fields{
				"scope":  k.Scope().String(),
				"symbol": k.Symbol,
			}).Warn("stale position restored, verify against the broker")
		}
	}

	sess := session.New(cfg.SessionConfig(), nil, log)

	// The session outlives ctx so Shutdown can still log off.
	sessErr := make(chan error, 1)
	go func() { sessErr <- sess.Run(context.Background()) }()

	engErr := make(chan error, 1)
	go func() { engErr <- eng.Run(context.Background(), sess.Events()) }()

	srvCtx, srvCancel := context.WithCancel(context.Background())
	defer srvCancel()

	var wg sync.WaitGroup
	var hubEvents chan engine.Event
	if cfg.Server.Addr != "" {
		hubEvents = make(chan engine.Event, cfg.Engine.PublishBuffer)
		hub := server.NewHub(log)
		srv := server.New(eng, hub, log)

		wg.Add(2)
		go func() {
			defer wg.Done()
			hub.Run(srvCtx, hubEvents)
		}()
		go func() {
			defer wg.Done()
			if err := srv.ListenAndServe(srvCtx, cfg.Server.Addr); err != nil {
				log.WithError(err).Error("http server")
			}
		}()
	}

	consumed := make(chan struct{})
	go func() {
		defer close(consumed)
		consume(log, eng.Published(), hubEvents)
	}()

	var fatal error
	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-sessErr:
		fatal = err
		sessErr <- err
	}

	shCtx, cancel := context.WithTimeout(context.Background(), runShutdownTimeout)
	defer cancel()

	if err := sess.Shutdown(shCtx); err != nil {
		log.WithError(err).Warn("session shutdown")
	}
	<-sessErr
	if err := <-engErr; err != nil {
		log.WithError(err).Warn("engine")
	}
	<-consumed
	srvCancel()
	wg.Wait()

	if err := writer.Close(shCtx); err != nil {
		log.WithError(err).Warn("journal did not drain")
	}

	if fatal != nil && errors.Is(fatal, session.ErrGaveUp) {
		fmt.Fprintf(cmd.ErrOrStderr(), "dtcterm: %v\n", fatal)
		return fatal
	}
	return nil
}

// consume logs notable engine events and forwards everything to the
// websocket hub without ever blocking the engine.
func consume(log *logrus.Logger, events <-chan engine.Event, hub chan<- engine.Event) {
	if hub != nil {
		defer close(hub)
	}
	for ev := range events {
		switch ev.Kind {
		case engine.KindFatal:
			log.WithField("error", ev.Error).Error("session gave up")
		case engine.KindSession:
			log.WithField("state", ev.Session.State).Info("session")
		case engine.KindPosition:
			p := ev.Position
			log.WithFields(logrus.Fields{
				"scope":  p.Record.Scope().String(),
				"symbol": p.Record.Symbol,
				"qty":    p.Record.Qty,
				"state":  p.New,
			}).Info("position")
		case engine.KindOrder:
			o := ev.Order
			log.WithFields(logrus.Fields{
				"order":  o.Record.Key(),
				"symbol": o.Record.Symbol,
				"state":  o.New,
			}).Info("order")
		}

		if hub == nil {
			continue
		}
		select {
		case hub <- ev:
		default:
		}
	}
}
