package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/JordanOlivet/docker-compose-manager-sub000/internal/discovery"
	"github.com/JordanOlivet/docker-compose-manager-sub000/internal/project"
	"github.com/JordanOlivet/docker-compose-manager-sub000/internal/registry"
	"github.com/JordanOlivet/docker-compose-manager-sub000/internal/runtime"
	"github.com/JordanOlivet/docker-compose-manager-sub000/internal/settings"
	"github.com/JordanOlivet/docker-compose-manager-sub000/internal/updates"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// env holds everything the subcommands share, wired once before any
// command runs.
type env struct {
	log          *logrus.Entry
	store        *settings.FileStore
	matcher      *project.Matcher
	orchestrator *updates.Orchestrator
	events       *updates.ChannelNotifier
}

func newRootCmd() *cobra.Command {
	var (
		settingsPath string
		logLevel     string
		emitEvents   bool
		e            env
	)

	root := &cobra.Command{
		Use:           "composemanager",
		Short:         "Discover compose projects and keep their images current",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger := logrus.New()
			level, err := logrus.ParseLevel(logLevel)
			if err != nil {
				return fmt.Errorf("invalid log level %q: %w", logLevel, err)
			}
			logger.SetLevel(level)
			e.log = logrus.NewEntry(logger)

			if settingsPath == "" {
				settingsPath = getenvDefault("SETTINGS_PATH", "/config/settings.yml")
			}
			store, err := settings.NewFileStore(settingsPath)
			if err != nil {
				return err
			}
			e.store = store
			cfg := store.Current()
			if v := os.Getenv("COMPOSE_ROOT"); v != "" {
				cfg.Discovery.RootPath = v
			}
			if v := os.Getenv("HOST_ROOT"); v != "" {
				cfg.Discovery.HostRootPath = v
			}

			rt, err := runtime.NewDockerRuntime(e.log)
			if err != nil {
				return fmt.Errorf("connect to docker: %w", err)
			}
			scanner := discovery.NewScanner(e.log, cfg.Discovery)
			mapper := discovery.NewPathMapper(cfg.Discovery.RootPath, cfg.Discovery.HostRootPath)
			e.matcher = project.NewMatcher(e.log, rt, scanner, mapper)

			var notifier updates.Notifier = updates.LogNotifier{Log: e.log}
			if emitEvents {
				e.events = updates.NewChannelNotifier(e.log, 256)
				notifier = e.events
			}
			e.orchestrator = updates.NewOrchestrator(
				e.log, rt, e.matcher,
				registry.NewFactory(e.log),
				notifier,
				cfg.UpdateChecks,
			)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&settingsPath, "settings", "", "path to the settings file (default $SETTINGS_PATH or /config/settings.yml)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", getenvDefault("LOG_LEVEL", "info"), "log level (debug, info, warn, error)")

	root.AddCommand(
		newScanCmd(&e),
		newCheckCmd(&e),
		newUpdateCmd(&e),
		newWatchCmd(&e, &emitEvents),
	)
	return root
}

func newScanCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "List compose projects, matched files and conflicts",
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := e.matcher.List(cmd.Context(), nil)
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}
}

func newCheckCmd(e *env) *cobra.Command {
	var (
		all         bool
		containerID string
		image       string
	)
	cmd := &cobra.Command{
		Use:   "check [project]",
		Short: "Check for image updates",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if containerID != "" {
				if image == "" {
					return fmt.Errorf("--image is required with --container")
				}
				status := e.orchestrator.CheckContainerImage(cmd.Context(), containerID, image, updates.TriggerManual)
				return printJSON(status)
			}
			if all || len(args) == 0 {
				summaries, err := e.orchestrator.CheckAllProjects(cmd.Context(), updates.TriggerManual)
				if err != nil {
					return err
				}
				return printJSON(summaries)
			}
			summary, err := e.orchestrator.CheckProjectUpdates(cmd.Context(), args[0], "")
			if err != nil {
				return err
			}
			return printJSON(summary)
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "check every project")
	cmd.Flags().StringVar(&containerID, "container", "", "check a single container instead of a project")
	cmd.Flags().StringVar(&image, "image", "", "image reference of the container (with --container)")
	return cmd
}

func newUpdateCmd(e *env) *cobra.Command {
	var (
		all      bool
		services []string
	)
	cmd := &cobra.Command{
		Use:   "update [project]",
		Short: "Pull outdated images and recreate their containers",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if all {
				if _, err := e.orchestrator.CheckAllProjects(cmd.Context(), updates.TriggerManual); err != nil {
					return err
				}
				return printJSON(e.orchestrator.UpdateAll(cmd.Context()))
			}
			if len(args) == 0 {
				return fmt.Errorf("a project name or --all is required")
			}
			result := e.orchestrator.UpdateProject(cmd.Context(), args[0], services)
			if err := printJSON(result); err != nil {
				return err
			}
			if !result.Success {
				return fmt.Errorf("update failed: %s", result.Message)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "update every project with pending updates")
	cmd.Flags().StringSliceVar(&services, "service", nil, "restrict the update to the named services")
	return cmd
}

func newWatchCmd(e *env, emitEvents *bool) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Run periodic update checks until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg := e.store.Current()
			if !cfg.AutoCheck.Enabled {
				e.log.Warn("auto_check.enabled is false, enable it in the settings file")
				return nil
			}

			// With --events, check results stream to stdout as JSON lines
			// for an external consumer.
			if e.events != nil {
				go func() {
					for {
						select {
						case <-ctx.Done():
							return
						case ev := <-e.events.Events():
							if err := json.NewEncoder(os.Stdout).Encode(ev); err != nil {
								e.log.WithError(err).Warn("could not write event")
							}
						}
					}
				}()
			}

			e.log.WithField("interval", cfg.AutoCheck.Interval).Info("starting periodic update checks")
			e.orchestrator.RunPeriodicChecks(ctx, e.store)
			return ctx.Err()
		},
	}
	cmd.Flags().BoolVar(emitEvents, "events", false, "emit check events as JSON lines on stdout")
	return cmd
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func getenvDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
