package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/inotifyexec/inotifyexec/internal/config"
	"github.com/inotifyexec/inotifyexec/internal/daemon"
	"github.com/inotifyexec/inotifyexec/internal/ipc"
	"github.com/inotifyexec/inotifyexec/internal/logging"
	"github.com/inotifyexec/inotifyexec/internal/report"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "inotifyexec [flags] DIRECTORY [--] COMMAND [ARGS...]",
		Short: "Run a command when files in a directory change",
		Long: "inotifyexec watches DIRECTORY and runs COMMAND once file activity has been " +
			"quiet for the configured delay, coalescing each burst of changes into a single run.\n\n" +
			"A DIRECTORY named like a subcommand (status, ping, stop, history) must be " +
			"given with a path prefix, e.g. ./status.",
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, args, configFile)
			if err != nil {
				return err
			}
			cmd.SilenceUsage = true

			logger := logging.New(os.Stderr, cfg.Verbose)
			d, err := daemon.New(cfg, logger, os.Stdout)
			if err != nil {
				return err
			}
			return d.Start(cmd.Context())
		},
	}

	// Everything after DIRECTORY belongs to COMMAND, including its flags.
	cmd.Flags().SetInterspersed(false)
	config.RegisterFlags(cmd.Flags())
	cmd.Flags().StringVar(&configFile, "config", "", "read settings from this file (yaml, toml or json)")

	cmd.AddCommand(statusCmd())
	cmd.AddCommand(pingCmd())
	cmd.AddCommand(stopCmd())
	cmd.AddCommand(historyCmd())
	return cmd
}

// splitArgs separates DIRECTORY from COMMAND. Flag parsing stops at
// DIRECTORY, so a "--" right after it arrives as a positional argument.
func splitArgs(args []string) (string, []string, error) {
	if len(args) == 0 {
		return "", nil, fmt.Errorf("%w: missing DIRECTORY", config.ErrInvalid)
	}
	dir, command := args[0], args[1:]
	if len(command) > 0 && command[0] == "--" {
		command = command[1:]
	}
	if len(command) == 0 {
		return "", nil, fmt.Errorf("%w: missing COMMAND", config.ErrInvalid)
	}
	return dir, command, nil
}

// loadConfig layers the parsed flags, DIRECTORY and COMMAND over the
// environment and the optional config file.
func loadConfig(cmd *cobra.Command, args []string, configFile string) (*config.Config, error) {
	dir, command, err := splitArgs(args)
	if err != nil {
		return nil, err
	}

	v := viper.New()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return nil, err
	}
	v.Set(config.KeyDirectory, dir)
	v.Set(config.KeyCommand, command)
	return config.Load(v, configFile)
}

func statusCmd() *cobra.Command {
	var (
		socketPath string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the status of a running instance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := ipc.NewClient(socketPath).Status()
			if err != nil {
				return fmt.Errorf("query status: %w", err)
			}
			if jsonOutput {
				fmt.Println(report.FormatJSON(status))
				return nil
			}
			fmt.Print(report.FormatStatus(status, time.Now()))
			return nil
		},
	}

	cmd.Flags().StringVar(&socketPath, "socket", "", "status socket of the running instance")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "print raw JSON")
	_ = cmd.MarkFlagRequired("socket")
	return cmd
}

func pingCmd() *cobra.Command {
	var socketPath string

	cmd := &cobra.Command{
		Use:   "ping",
		Short: "Check whether an instance is alive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := ipc.NewClient(socketPath).Ping(); err != nil {
				fmt.Println("not running")
				return err
			}
			fmt.Println("alive")
			return nil
		},
	}

	cmd.Flags().StringVar(&socketPath, "socket", "", "status socket of the running instance")
	_ = cmd.MarkFlagRequired("socket")
	return cmd
}

func stopCmd() *cobra.Command {
	var socketPath string

	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop a running instance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := ipc.NewClient(socketPath).RequestStop(); err != nil {
				return fmt.Errorf("stop: %w", err)
			}
			fmt.Println("stopping")
			return nil
		},
	}

	cmd.Flags().StringVar(&socketPath, "socket", "", "status socket of the running instance")
	_ = cmd.MarkFlagRequired("socket")
	return cmd
}

func historyCmd() *cobra.Command {
	var (
		dbPath     string
		limit      int
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent runs recorded with --history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(dbPath); err != nil {
				return fmt.Errorf("history database: %w", err)
			}
			h, err := report.LoadHistory(dbPath, limit)
			if err != nil {
				return err
			}
			if jsonOutput {
				fmt.Println(report.FormatJSON(h))
				return nil
			}
			fmt.Print(report.FormatRuns(h, time.Now()))
			return nil
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "", "history database written by --history")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to show")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "print raw JSON")
	_ = cmd.MarkFlagRequired("db")
	return cmd
}
