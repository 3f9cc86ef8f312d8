package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/codefionn/ictchat/internal/bridge"
	"github.com/codefionn/ictchat/internal/logger"
)

var (
	serveAddr string
	profiling bool
)

// serveCmd runs the renderer bridge.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the session as a local JSON API",
	Long: `Start an HTTP server that exposes the chat session to other renderers.
Renderers subscribe to /api/events and refetch when notified.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default from config bridge_addr)")
	serveCmd.Flags().BoolVar(&profiling, "pprof", false, "Mount /debug/pprof/")
}

func runServe(ctx context.Context) error {
	a, err := setup(false)
	if err != nil {
		return err
	}
	defer a.Close()

	addr := serveAddr
	if addr == "" {
		addr = a.cfg.BridgeAddr
	}
	if err := a.acquire("serve", addr); err != nil {
		return err
	}

	var srv *bridge.Server
	sess := a.newSession(func() { srv.Notify("changed") })
	srv = bridge.NewServer(sess, bridge.Options{
		Addr:      addr,
		Metrics:   a.metrics,
		Location:  a.cfg.Location(),
		Profiling: profiling,
	})
	defer sess.Stop(context.WithoutCancel(ctx))

	// A missing or rejected token is not fatal: renderers can POST one.
	if verdict, err := sess.Start(ctx, tokenFlag); err != nil {
		logger.Warn("session not started: %v", err)
		if !verdict.Authorized() && verdict.LoginURL != "" {
			fmt.Fprintf(stderr, "Not signed in (%s). POST a token to /api/session.\n", verdict.Reason)
		}
	}

	if a.cfg.TokenFile != "" {
		if w, err := sess.FollowTokenFile(ctx, a.cfg.TokenFile); err == nil {
			defer w.Close()
		}
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Stop(shutdownCtx); err != nil {
			logger.Warn("bridge shutdown: %v", err)
		}
	}()

	fmt.Fprintf(stderr, "Serving on http://%s\n", addr)
	return srv.Start()
}
