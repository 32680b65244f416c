// Package cli provides the command-line interface for tunneld.
package cli

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tunneld/tunneld/internal/appconfig"
	"github.com/tunneld/tunneld/internal/doctor"
	"github.com/tunneld/tunneld/internal/events"
	"github.com/tunneld/tunneld/internal/health"
	"github.com/tunneld/tunneld/internal/policy"
	"github.com/tunneld/tunneld/internal/sshclient"
	"github.com/tunneld/tunneld/internal/tunnel"
	"github.com/tunneld/tunneld/internal/util"
)

// Version is injected at build time via -ldflags.
var Version = "dev"

// NewRootCommand creates the root cobra command.
func NewRootCommand() *cobra.Command {
	var configPath string
	var debug bool

	root := &cobra.Command{
		Use:           "tunneld",
		Short:         "Supervise SSH port-forwarding tunnels",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelInfo
			if debug {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config.yaml (default: $XDG_CONFIG_HOME/tunneld/config.yaml)")
	root.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	root.AddCommand(newStartCmd(&configPath))
	root.AddCommand(newCheckCmd(&configPath))
	root.AddCommand(newPrintCmdCmd(&configPath))
	root.AddCommand(newEventsCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func newStartCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start all configured tunnels and supervise them until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := appconfig.Load(*configPath)
			if err != nil {
				return err
			}
			if err := sshclient.EnsureSSHBinary(); err != nil {
				return err
			}
			specs, err := cfg.Specs()
			if err != nil {
				return err
			}

			client := sshclient.New(cfg.ModelRemote())
			prober := health.NewProber(cfg.ProbeTimeout())
			mgr, err := tunnel.NewManager(tunnel.NewSSHStarter(client), prober, specs, tunnel.Options{
				Interval: cfg.Interval(),
				Warmup:   cfg.Warmup(),
				Grace:    cfg.ShutdownGrace(),
				Policy: policy.Policy{
					Threshold:   cfg.Health.Threshold,
					BackoffBase: cfg.BackoffBase(),
					BackoffMax:  cfg.BackoffMax(),
				},
				Recorder: events.NewStore(),
			})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return mgr.Run(ctx)
		},
	}
}

func newCheckCmd(configPath *string) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Run preflight diagnostics against the configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := appconfig.Load(*configPath)
			if err != nil {
				return err
			}
			report, err := doctor.Run(cfg)
			if err != nil {
				return err
			}
			if jsonOut {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				if err := enc.Encode(report); err != nil {
					return err
				}
			} else if len(report.Issues) == 0 {
				fmt.Println("no issues found")
			} else {
				fmt.Printf("%-8s %-22s %-28s %s\n", "SEV", "CHECK", "TARGET", "MESSAGE")
				for _, is := range report.Issues {
					fmt.Printf("%-8s %-22s %-28s %s\n", is.Severity, is.Check, is.Target, is.Message)
				}
			}
			for _, is := range report.Issues {
				if is.Severity == doctor.SeverityHigh {
					return fmt.Errorf("preflight found high-severity issues")
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output JSON")
	return cmd
}

func newPrintCmdCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "print-cmd",
		Short: "Print the ssh command line for each forward without starting anything",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := appconfig.Load(*configPath)
			if err != nil {
				return err
			}
			specs, err := cfg.Specs()
			if err != nil {
				return err
			}
			client := sshclient.New(cfg.ModelRemote())
			for _, spec := range specs {
				fmt.Println("ssh " + strings.Join(client.BuildArgs(spec), " "))
			}
			return nil
		},
	}
}

func newEventsCmd() *cobra.Command {
	var (
		limit     int
		eventType string
		index     int
		jsonOut   bool
	)
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show the tunnel lifecycle journal",
		RunE: func(cmd *cobra.Command, args []string) error {
			store := events.NewStore()
			evts, err := store.Read(events.Query{
				TunnelIndex: index,
				EventType:   eventType,
				Limit:       limit,
			})
			if err != nil {
				return err
			}
			if jsonOut {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(evts)
			}
			fmt.Printf("%-25s %-7s %-18s %-10s %s\n", "TIMESTAMP", "TUNNEL", "TYPE", "STATUS", "MESSAGE")
			for _, evt := range evts {
				fmt.Printf("%-25s %-7d %-18s %-10s %s\n",
					evt.Timestamp.Format("2006-01-02T15:04:05Z07:00"),
					evt.TunnelIndex, evt.EventType, string(evt.Status), util.EmptyDash(evt.Message))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of events to show")
	cmd.Flags().StringVar(&eventType, "type", "", "filter by event type")
	cmd.Flags().IntVar(&index, "tunnel", -1, "filter by tunnel index")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output JSON")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the tunneld version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(Version)
		},
	}
}
