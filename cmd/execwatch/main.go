package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/mpataki/execwatch/internal/config"
	"github.com/mpataki/execwatch/internal/executor"
	"github.com/mpataki/execwatch/internal/logger"
	"github.com/mpataki/execwatch/internal/models"
	"github.com/mpataki/execwatch/internal/spec"
	"github.com/mpataki/execwatch/internal/storage"
	"github.com/mpataki/execwatch/internal/tui"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "execwatch",
		Short: "Run replicas and watch their executions",
		Long:  "execwatch runs replicas (ordered shell tasks) and keeps a live timeline of their executions.",
		RunE:  runTUI,
	}

	rootCmd.AddCommand(newReplicasCommand())
	rootCmd.AddCommand(newExecuteCommand())
	rootCmd.AddCommand(newExecutionsCommand())
	rootCmd.AddCommand(newShowCommand())
	rootCmd.AddCommand(newCancelCommand())
	rootCmd.AddCommand(newDeleteCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// env is what every command needs: config, an open store, the executor and
// the replica definitions found on disk.
type env struct {
	cfg   *config.Config
	store *storage.Storage
	exec  *executor.Executor
	defs  map[string]*spec.Definition
}

func (e *env) Close() error {
	return e.store.Close()
}

func setup(log *logger.Logger, cfg *config.Config) (*env, error) {
	if err := cfg.EnsureDataDir(); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	store, err := storage.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	defs, err := spec.LoadAll(cfg.SpecDirs())
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to load replicas: %w", err)
	}

	exec := executor.New(store, cfg.WorkspacesDir(), log)
	if err := exec.SyncReplicas(defs); err != nil {
		store.Close()
		return nil, err
	}

	return &env{cfg: cfg, store: store, exec: exec, defs: defs}, nil
}

// setupCLI builds the env for a non-interactive command, logging to stderr.
func setupCLI() (*env, error) {
	cfg, err := config.New()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	log := logger.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	return setup(log, cfg)
}

func runTUI(cmd *cobra.Command, args []string) error {
	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, closer, err := logger.NewFile(cfg.LogLevel, cfg.LogFormat, cfg.LogPath)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer closer.Close()

	e, err := setup(log, cfg)
	if err != nil {
		return err
	}
	defer e.Close()

	log.Info("starting tui", "replicas", len(e.defs), "refresh", cfg.RefreshInterval)

	app := tui.NewApp(e.exec, e.defs, cfg.RefreshInterval, log)
	p := tea.NewProgram(app, tea.WithAltScreen(), tea.WithMouseCellMotion())

	_, err = p.Run()
	return err
}

func newReplicasCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "replicas",
		Short: "List known replicas",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setupCLI()
			if err != nil {
				return err
			}
			defer e.Close()

			replicas, err := e.exec.ListReplicas()
			if err != nil {
				return err
			}

			if len(replicas) == 0 {
				fmt.Println("No replicas found.")
				return nil
			}

			for _, r := range replicas {
				fmt.Printf("%-24s %s\n", r.Name, truncate(r.Description, 50))
			}
			return nil
		},
	}
}

func newExecuteCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "execute <replica>",
		Short: "Execute a replica now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			noExec, _ := cmd.Flags().GetBool("no-exec")

			e, err := setupCLI()
			if err != nil {
				return err
			}
			defer e.Close()

			def, ok := e.defs[args[0]]
			if !ok {
				return fmt.Errorf("replica %q not found", args[0])
			}

			replica, err := e.exec.GetReplica(def.Name)
			if err != nil {
				return err
			}

			execution, err := e.exec.StartExecution(replica, def)
			if err != nil {
				return fmt.Errorf("failed to start execution: %w", err)
			}

			fmt.Printf("Created execution #%d (%s)\n", execution.Number, execution.ID)

			if noExec {
				fmt.Println("Skipping execution (--no-exec)")
				return nil
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			status, err := e.exec.Execute(ctx, execution, def)
			fmt.Printf("Execution #%d finished with status: %s\n", execution.Number, status)
			if err != nil {
				return fmt.Errorf("execution failed: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().Bool("no-exec", false, "Create the execution but don't run it")
	return cmd
}

func newExecutionsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "executions <replica>",
		Short: "List executions of a replica, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setupCLI()
			if err != nil {
				return err
			}
			defer e.Close()

			replica, err := e.exec.GetReplica(args[0])
			if err != nil {
				if errors.Is(err, storage.ErrNotFound) {
					return fmt.Errorf("replica %q not found", args[0])
				}
				return err
			}

			execs, err := e.exec.ListExecutions(replica.ID)
			if err != nil {
				return err
			}

			if len(execs) == 0 {
				fmt.Println("It looks like there are no executions in this replica.")
				return nil
			}

			if len(execs) > e.cfg.ListLimit {
				execs = execs[len(execs)-e.cfg.ListLimit:]
			}

			for _, ex := range execs {
				fmt.Printf("#%-4d %-10s %-20s %s\n",
					ex.Number, ex.Status, models.FormatCreated(ex.CreatedAt), ex.ID)
			}
			return nil
		},
	}
}

func newShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <execution-id>",
		Short: "Show an execution and its tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setupCLI()
			if err != nil {
				return err
			}
			defer e.Close()

			ex, err := e.exec.GetExecution(args[0])
			if err != nil {
				return fmt.Errorf("failed to get execution: %w", err)
			}

			fmt.Printf("Execution #%d: %s\n", ex.Number, ex.ID)
			fmt.Printf("Status: %s\n", ex.Status)
			fmt.Printf("Created: %s (%s)\n", models.FormatCreated(ex.CreatedAt), models.FormatAge(ex.CreatedAt))
			if ex.CompletedAt != nil {
				fmt.Printf("Completed: %s\n", models.FormatCreated(*ex.CompletedAt))
			}

			if len(ex.Tasks) > 0 {
				fmt.Println("\nTasks:")
				for i, t := range ex.Tasks {
					status := string(t.Status)
					if t.ExitCode != nil {
						status += fmt.Sprintf(" (exit %d)", *t.ExitCode)
					}
					fmt.Printf("  %d. %s [%s]\n", i+1, t.Name, status)
				}
			}
			return nil
		},
	}
}

func newCancelCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <execution-id>",
		Short: "Cancel a running execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setupCLI()
			if err != nil {
				return err
			}
			defer e.Close()

			if err := e.exec.CancelExecution(args[0]); err != nil {
				return fmt.Errorf("failed to cancel execution: %w", err)
			}

			fmt.Printf("Canceling execution %s\n", models.ShortID(args[0]))
			return nil
		},
	}
}

func newDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <execution-id>",
		Short: "Delete a finished execution and its workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setupCLI()
			if err != nil {
				return err
			}
			defer e.Close()

			if err := e.exec.DeleteExecution(args[0]); err != nil {
				return fmt.Errorf("failed to delete execution: %w", err)
			}

			fmt.Printf("Deleted execution %s\n", models.ShortID(args[0]))
			return nil
		},
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
