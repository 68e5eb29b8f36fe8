package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"msgshell/internal/app"
	"msgshell/internal/config"
	"msgshell/internal/shell"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:           "msgshell",
	Short:         "Desktop shell for a web messenger",
	Long:          "Runs the messenger in a native window with unread badges, notifications and link routing.",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runShell,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Open the messenger window (default)",
	RunE:  runShell,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration commands",
}

var configCheckCmd = &cobra.Command{
	Use:   "check [path]",
	Short: "Validate a config file and exit",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := cfgPath
		if len(args) == 1 {
			path = args[0]
		}
		path = config.ResolvePath(path)
		if _, err := app.CheckConfig(path); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", path)
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "msgshell %s\n", app.Version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (env "+config.EnvPath+", default "+config.DefaultPath+")")
	configCmd.AddCommand(configCheckCmd)
	rootCmd.AddCommand(runCmd, configCmd, versionCmd)
}

func main() {
	// .env is optional; it may carry MSGSHELL_CONFIG.
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

// runShell runs on the main goroutine; the webview loop requires it.
func runShell(cmd *cobra.Command, _ []string) error {
	a, err := app.New(config.ResolvePath(cfgPath))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var reason atomic.Value
	reason.Store(app.StopWindowClose)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			if sig == syscall.SIGTERM {
				reason.Store(app.StopSIGTERM)
			} else {
				reason.Store(app.StopSIGINT)
			}
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := a.Start(ctx); err != nil {
		return err
	}

	runErr := shell.Run(a.Context(), a.Window(), a.Host())
	if errors.Is(runErr, shell.ErrUnsupported) {
		fmt.Fprintln(cmd.ErrOrStderr(), strings.TrimSpace(runErr.Error())+"; running headless until signaled")
		<-a.Context().Done()
		runErr = nil
	}
	if a.Err() != nil {
		reason.Store(app.StopFatalError)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	_ = a.Stop(stopCtx, reason.Load().(app.StopReason))

	if runErr != nil {
		return runErr
	}
	return a.Err()
}
