package commands

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/paprika-agent/paprika/pkg/agent"
	"github.com/paprika-agent/paprika/pkg/gateway"
)

// shutdownTimeout bounds the wait for sessions to end.
const shutdownTimeout = 10 * time.Second

var flagAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the websocket gateway",
	Long: `Run the websocket gateway.

Each game client connects to /ws/agent/{client_id} and sends one
perception per message. The agent answers every perception with the
task it chose and the plan for it:

  {"client_id": "npc-1", "task": "Cook a burger", "plan": [...]}

Every connection gets its own task history; memories and skills are
shared by all clients.

With a manual curriculum or critic mode the questions are asked on this
terminal.

Example:
  paprika serve --addr :8000`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&flagAddr, "addr", "", "listen address (default: server.addr)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer e.close()
	if err := e.withAgent(ctx); err != nil {
		return err
	}
	logger := e.logger

	var op *agent.Operator
	if e.needsOperator() {
		op = agent.NewOperator(os.Stdin, os.Stderr)
	}

	sc := e.cfg.Server
	gw, err := gateway.New(gateway.Config{
		NewRunner: func(clientID string) (gateway.Runner, error) {
			return e.newEngine(op, logger.With("client_id", clientID))
		},
		Store:              e.store,
		RecordObservations: sc.RecordObservations,
		ReadLimit:          sc.ReadLimit,
		WriteTimeout:       sc.WriteTimeout,
		PingInterval:       sc.PingInterval,
		Logger:             logger,
	})
	if err != nil {
		return err
	}

	addr := sc.Addr
	if flagAddr != "" {
		addr = flagAddr
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           gw.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("gateway listening", "addr", addr, "tools", len(e.tools), "model", e.cfg.LLM.Model)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return errors.Join(srv.Shutdown(sctx), gw.Shutdown(sctx))
	})
	if e.cfg.Prompts.Watch && e.cfg.Prompts.Dir != "" {
		g.Go(func() error {
			return e.prompts.Watch(gctx)
		})
	}
	if spec := e.cfg.Store.Snapshot.Schedule; spec != "" {
		c := cron.New()
		if _, err := c.AddFunc(spec, func() {
			if err := e.snapshot(gctx); err != nil {
				logger.Error("scheduled snapshot failed", "error", err)
				return
			}
			logger.Debug("snapshot written")
		}); err != nil {
			return err
		}
		g.Go(func() error {
			c.Start()
			<-gctx.Done()
			<-c.Stop().Done()
			return nil
		})
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
