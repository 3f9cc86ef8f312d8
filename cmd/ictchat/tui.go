package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/codefionn/ictchat/internal/logger"
	"github.com/codefionn/ictchat/internal/tui"
)

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Chat in the terminal",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTUI(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(tuiCmd)
}

func runTUI(ctx context.Context) error {
	a, err := setup(true)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.acquire("tui", ""); err != nil {
		return err
	}

	notifier := tui.NewNotifier()
	sess := a.newSession(notifier.Notify)
	defer sess.Stop(context.WithoutCancel(ctx))

	verdict, err := sess.Start(ctx, tokenFlag)
	if err != nil {
		if !verdict.Authorized() {
			return rejected(verdict)
		}
		return err
	}

	if a.cfg.TokenFile != "" {
		w, err := sess.FollowTokenFile(ctx, a.cfg.TokenFile)
		if err != nil {
			logger.Warn("not watching token file: %v", err)
		} else {
			defer w.Close()
		}
	}

	logger.Info("running tui")
	loggedOut, err := tui.Run(ctx, sess, tui.Options{
		Changes:  notifier.Changes(),
		Location: a.cfg.Location(),
	})
	if err != nil {
		return err
	}
	if loggedOut {
		fmt.Fprintln(stdout, "Logged out.")
	}
	return nil
}
