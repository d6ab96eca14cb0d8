package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"plantline/internal/app"
	"plantline/internal/config"
	"plantline/internal/db"
	"plantline/internal/domain"
	"plantline/internal/engine"
	"plantline/internal/metrics"
	"plantline/internal/repo"
	"plantline/internal/server"
)

const jwtSecretEnv = "PLANTLINE_JWT_SECRET"

var rootCmd = &cobra.Command{
	Use:   "pl",
	Short: "Plantline CLI",
	Long: `Plantline turns shop-floor production and pre-delivery inspection (PDI) records into follow-up tasks.
- Production record: one shift on one machine, with rejection and downtime entries routed to teams.
- PDI record: one inspection result; a named defect becomes a pdi-defect task.
- Tasks: derived per (entry, team) or created by hand; statuses are pending, in-progress and completed.
- Event log: every change is recorded in the same transaction, view with 'pl log tail'.
- Workspace: the directory holding .plantline/plantline.db, plantline.yml and an optional .env.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		if err := godotenv.Load(filepath.Join(workspace, ".env")); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load .env: %w", err)
		}
		logger, err := newLogger(cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		slog.SetDefault(logger)
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("PLANTLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("workspace", "w", ".", "workspace directory")
	flags.String("db", "", "database file (defaults to <workspace>/.plantline/plantline.db)")
	flags.Bool("json", false, "output JSON")
	flags.String("actor-id", "local-user", "actor identifier recorded on changes")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("log-format", "text", "log format (text or json)")
	for _, name := range []string{"workspace", "db", "json", "actor-id", "log-level", "log-format"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(productionCmd())
	rootCmd.AddCommand(pdiCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(apiKeyCmd())
	rootCmd.AddCommand(tokenCmd())
}

func newLogger(w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(viper.GetString("log-level"))); err != nil {
		return nil, fmt.Errorf("invalid --log-level: %w", err)
	}
	opts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(viper.GetString("log-format")) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("invalid --log-format %q (text or json)", viper.GetString("log-format"))
	}
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowLegacy bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		Long:  "Serves the API under the configured base path, Prometheus metrics at /metrics and Swagger UI at /docs. Bearer tokens are verified with " + jwtSecretEnv + ".",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := slog.Default()
			w, err := app.OpenWorkspace(ctx, viper.GetString("workspace"), viper.GetString("db"))
			if err != nil {
				return err
			}
			defer w.Close()

			secret := os.Getenv(jwtSecretEnv)
			if secret == "" && !allowLegacy {
				return fmt.Errorf("%s is required for bearer auth (or pass --allow-legacy-actor-header for local use)", jwtSecretEnv)
			}
			if addr == "" {
				addr = w.Config.Server.Addr
			}
			if addr == "" {
				addr = "127.0.0.1:8080"
			}
			if basePath == "" {
				basePath = w.Config.Server.BasePath
			}

			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
			e := w.Engine(metrics.New(reg), logger)

			handler, err := server.New(server.Config{
				Engine:   e,
				Repo:     repo.Repo{DB: w.DB},
				BasePath: basePath,
				Gatherer: reg,
				Logger:   logger,
				Auth: server.AuthConfig{
					JWTSecret:              secret,
					AllowLegacyActorHeader: allowLegacy,
					Policy:                 w.Config.Policy(),
					Logger:                 logger,
				},
			})
			if err != nil {
				return err
			}

			dispatcher := server.NewWebhookDispatcher(e.Store, w.Config, logger)
			if dispatcher.Enabled() {
				go dispatcher.Run(ctx)
			}

			srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(shutdownCtx)
			}()
			logger.Info("serving plantline api", "plant", w.Config.Plant.ID, "addr", addr, "base_path", basePath, "webhooks", dispatcher.Enabled())
			fmt.Printf("Serving Plantline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs, metrics at /metrics)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to server.addr in plantline.yml)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (defaults to server.base_path in plantline.yml)")
	cmd.Flags().BoolVar(&allowLegacy, "allow-legacy-actor-header", false, "accept unauthenticated X-Actor-Id/X-Actor-Roles headers")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Workspace configuration",
		Long:  "plantline.yml holds the plant identity, server defaults, RBAC roles and webhook subscriptions.",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var plantID string
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default plantline.yml and a JWT secret into .env",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if _, err := config.FromYAML([]byte(config.GenerateDefault(plantID))); err != nil {
				return err
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(plantID)), 0o644); err != nil {
				return err
			}
			envPath := filepath.Join(workspace, ".env")
			env, err := godotenv.Read(envPath)
			if err != nil && !errors.Is(err, os.ErrNotExist) {
				return err
			}
			if env == nil {
				env = map[string]string{}
			}
			if env[jwtSecretEnv] == "" {
				secret, err := randomHex(32)
				if err != nil {
					return err
				}
				env[jwtSecretEnv] = secret
				if err := godotenv.Write(env, envPath); err != nil {
					return err
				}
			}
			fmt.Printf("Wrote %s for plant %s\n", path, plantID)
			return nil
		},
	}
	cmd.Flags().StringVar(&plantID, "plant", app.DefaultPlantID, "plant id")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing plantline.yml")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the resolved configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.ResolveConfig(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cfg)
			}
			enc := yaml.NewEncoder(os.Stdout)
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(cfg)
		},
	}
}

func productionCmd() *cobra.Command {
	prod := &cobra.Command{
		Use:   "production",
		Short: "Production records",
		Long:  "A production record captures one shift on one machine. Rejection and downtime entries assigned to teams become tasks, one per team.",
	}
	prod.AddCommand(productionSubmitCmd())
	prod.AddCommand(productionShowCmd())
	prod.AddCommand(productionListCmd())
	return prod
}

func productionSubmitCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a production record from a JSON or YAML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			var ev domain.ProductionEvent
			if err := readSourceFile(file, &ev); err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				sub, err := e.SubmitProduction(ctx, ev, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printSubmission(sub)
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "record file (.json, .yml or .yaml; - for JSON on stdin)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func productionShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a production record with its entries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rec, err := e.GetProductionRecord(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(rec)
			})
		},
	}
}

func productionListCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent production records",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, w *app.Workspace) error {
				items, err := repo.Repo{DB: w.DB}.ListProductionRecords(ctx, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "Date", "Shift", "Machine", "Product", "Code", "Rejections", "Downtimes")
				for _, r := range items {
					tw.AppendRow(table.Row{r.RecordID, r.Date, r.Shift, r.Machine, r.Product, r.ProductionCode, len(r.RejectionEntries), len(r.DowntimeEntries)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of records")
	return cmd
}

func pdiCmd() *cobra.Command {
	pdi := &cobra.Command{
		Use:   "pdi",
		Short: "Pre-delivery inspection records",
		Long:  "A PDI record with a defect name produces one pdi-defect task whose priority follows the severity.",
	}
	pdi.AddCommand(pdiSubmitCmd())
	pdi.AddCommand(pdiShowCmd())
	return pdi
}

func pdiSubmitCmd() *cobra.Command {
	var file string
	var ev domain.PDIEvent
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a PDI record from flags or a file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file != "" {
				if err := readSourceFile(file, &ev); err != nil {
					return err
				}
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				sub, err := e.SubmitPDI(ctx, ev, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printSubmission(sub)
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "record file (.json, .yml or .yaml); overrides the flags below")
	cmd.Flags().StringVar(&ev.ProductionCode, "production-code", "", "production code")
	cmd.Flags().StringVar(&ev.Product, "product", "", "product")
	cmd.Flags().StringVar(&ev.Shift, "shift", "", "shift")
	cmd.Flags().StringVar(&ev.Date, "date", time.Now().Format(domain.DateLayout), "inspection date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&ev.DefectName, "defect", "", "defect name (blank records a clean inspection)")
	cmd.Flags().StringVar(&ev.Severity, "severity", "", "severity (low, medium, high)")
	cmd.Flags().IntVar(&ev.Quantity, "quantity", 0, "affected quantity")
	cmd.Flags().StringVar(&ev.InspectorID, "inspector-id", "", "inspector UUID")
	return cmd
}

func pdiShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a PDI record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rec, err := e.GetPDIRecord(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(rec)
			})
		},
	}
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks",
		Long:  "Tasks are derived from production and PDI records or created by hand. Status moves between pending, in-progress and completed; completing sets progress to 100.",
	}
	task.AddCommand(taskListCmd())
	task.AddCommand(taskShowCmd())
	task.AddCommand(taskCreateCmd())
	task.AddCommand(taskStatusCmd())
	task.AddCommand(taskDeleteCmd())
	task.AddCommand(taskSummaryCmd())
	return task
}

func taskListCmd() *cobra.Command {
	var f repo.TaskFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				tasks, err := e.ListTasks(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := newTable("ID", "Type", "Priority", "Status", "Team", "Title", "Progress")
				for _, t := range tasks {
					tw.AppendRow(table.Row{t.ID, t.TaskType, t.Priority, t.Status, deref(t.AssignedTeam), t.Title, fmt.Sprintf("%d%%", t.Progress)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.Team, "team", "", "assigned team filter")
	cmd.Flags().StringVar(&f.AssignedTo, "assigned-to", "", "assignee filter")
	cmd.Flags().StringVar(&f.TaskType, "type", "", "task type filter")
	cmd.Flags().StringVar(&f.ProductionCode, "production-code", "", "production code filter")
	cmd.Flags().StringVar(&f.CreatedFrom, "created-from", "", "source filter (production, pdi, manual)")
	cmd.Flags().StringVar(&f.SourceID, "source-id", "", "source record id filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "maximum number of tasks")
	return cmd
}

func taskShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.GetTask(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
}

func taskCreateCmd() *cobra.Command {
	var opts engine.TaskCreateOptions
	var taskType, priority string
	var quantity int
	var actions []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a manual task",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			opts.TaskType = domain.TaskType(taskType)
			opts.Priority = domain.Priority(priority)
			if cmd.Flags().Changed("quantity") {
				opts.Quantity = &quantity
			}
			parsed, err := parseActions(actions)
			if err != nil {
				return err
			}
			opts.PreventiveActions = parsed
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.CreateTask(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Title, "title", "", "title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&taskType, "type", string(domain.TaskTypeManual), "task type")
	cmd.Flags().StringVar(&priority, "priority", string(domain.PriorityMedium), "priority (low, medium, high)")
	cmd.Flags().StringVar(&opts.ProductionCode, "production-code", "", "production code")
	cmd.Flags().StringVar(&opts.AssignedTeam, "team", "", "assigned team")
	cmd.Flags().StringVar(&opts.AssignedTo, "assigned-to", "", "assignee")
	cmd.Flags().StringVar(&opts.DueDate, "due", "", "due date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&opts.Equipment, "equipment", "", "equipment")
	cmd.Flags().IntVar(&quantity, "quantity", 0, "quantity")
	cmd.Flags().StringArrayVar(&actions, "action", nil, `preventive action "text|responsible|YYYY-MM-DD" (repeatable)`)
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func taskStatusCmd() *cobra.Command {
	var status string
	var progress int
	var actions []string
	var clearActions bool
	text := map[string]*string{}
	cmd := &cobra.Command{
		Use:   "status <id>",
		Short: "Update task status, progress and follow-up notes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			u := engine.StatusUpdate{
				TaskID:  args[0],
				Status:  domain.Status(status),
				ActorID: viper.GetString("actor-id"),
			}
			if cmd.Flags().Changed("progress") {
				u.Progress = &progress
			}
			changed := func(name string) *string {
				if cmd.Flags().Changed(name) {
					return text[name]
				}
				return nil
			}
			u.StatusComments = changed("comments")
			u.RootCause = changed("root-cause")
			u.ImpactAssessment = changed("impact")
			u.RecurrenceRisk = changed("recurrence-risk")
			u.LessonsLearned = changed("lessons")
			if len(actions) > 0 || clearActions {
				parsed, err := parseActions(actions)
				if err != nil {
					return err
				}
				if parsed == nil {
					parsed = []domain.Action{}
				}
				u.PreventiveActions = parsed
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.UpdateTaskStatus(ctx, u)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "new status (pending, in-progress, completed)")
	cmd.Flags().IntVar(&progress, "progress", 0, "progress percentage 0-100")
	for name, usage := range map[string]string{
		"comments":        "status comments",
		"root-cause":      "root cause",
		"impact":          "impact assessment",
		"recurrence-risk": "recurrence risk",
		"lessons":         "lessons learned",
	} {
		text[name] = new(string)
		cmd.Flags().StringVar(text[name], name, "", usage)
	}
	cmd.Flags().StringArrayVar(&actions, "action", nil, `preventive action "text|responsible|YYYY-MM-DD" (repeatable, replaces the list)`)
	cmd.Flags().BoolVar(&clearActions, "clear-actions", false, "remove all preventive actions")
	_ = cmd.MarkFlagRequired("status")
	return cmd
}

func taskDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a task and its preventive actions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.DeleteTask(ctx, args[0], viper.GetString("actor-id")); err != nil {
					return err
				}
				fmt.Printf("Deleted task %s\n", args[0])
				return nil
			})
		},
	}
}

func taskSummaryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "summary",
		Short: "Count tasks by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				counts, err := e.CountTasksByStatus(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(counts)
				}
				tw := newTable("Status", "Tasks")
				total := 0
				for _, s := range []domain.Status{domain.StatusPending, domain.StatusInProgress, domain.StatusCompleted} {
					tw.AppendRow(table.Row{s, counts[string(s)]})
					total += counts[string(s)]
				}
				tw.AppendFooter(table.Row{"total", total})
				tw.Render()
				return nil
			})
		},
	}
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The audit trail of submissions and task changes, written in the same transaction as the change.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var f repo.EventFilters
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Store.LatestEvents(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := newTable("ID", "TS", "Type", "Entity", "Actor")
				for _, evt := range events {
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, evt.EntityKind + ":" + evt.EntityID, evt.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&f.Limit, "n", 20, "number of events")
	cmd.Flags().StringVar(&f.Type, "type", "", "event type filter")
	cmd.Flags().StringVar(&f.EntityKind, "entity-kind", "", "entity kind (production_record, pdi_record, task)")
	cmd.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id")
	return cmd
}

func apiKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apikey",
		Short: "Manage API keys for shop-floor terminals",
	}
	cmd.AddCommand(apiKeyCreateCmd())
	cmd.AddCommand(apiKeyListCmd())
	cmd.AddCommand(apiKeyDeleteCmd())
	return cmd
}

func apiKeyCreateCmd() *cobra.Command {
	var actorID, name string
	var roles []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key (the key is printed once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, err := randomHex(24)
			if err != nil {
				return err
			}
			key := "pl_" + secret
			return withWorkspace(cmd.Context(), func(ctx context.Context, w *app.Workspace) error {
				rec := domain.APIKey{
					ID:        uuid.NewString(),
					ActorID:   actorID,
					Name:      name,
					Roles:     roles,
					KeyHash:   repo.HashAPIKey(key),
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				if err := (repo.Repo{DB: w.DB}).InsertAPIKey(ctx, rec); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"id": rec.ID, "actor_id": rec.ActorID, "roles": rec.Roles, "key": key})
				}
				fmt.Printf("API key %s for %s: %s\n", rec.ID, rec.ActorID, key)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "actor id the key authenticates as")
	cmd.Flags().StringVar(&name, "name", "", "label")
	cmd.Flags().StringSliceVar(&roles, "role", nil, "role (repeatable or comma separated)")
	_ = cmd.MarkFlagRequired("actor")
	return cmd
}

func apiKeyListCmd() *cobra.Command {
	var actorID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, w *app.Workspace) error {
				keys, err := repo.Repo{DB: w.DB}.ListAPIKeys(ctx, actorID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := newTable("ID", "Actor", "Name", "Roles", "Created")
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.ActorID, k.Name, strings.Join(k.Roles, ","), k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "actor filter")
	return cmd
}

func apiKeyDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, w *app.Workspace) error {
				return repo.Repo{DB: w.DB}.DeleteAPIKey(ctx, args[0])
			})
		},
	}
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Bearer tokens",
	}
	cmd.AddCommand(tokenIssueCmd())
	return cmd
}

func tokenIssueCmd() *cobra.Command {
	var actorID string
	var roles []string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Issue an HS256 bearer token signed with " + jwtSecretEnv,
		RunE: func(cmd *cobra.Command, args []string) error {
			now := time.Now()
			claims := jwt.RegisteredClaims{
				Issuer:   "plantline",
				IssuedAt: jwt.NewNumericDate(now),
			}
			if ttl > 0 {
				claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
			}
			token, err := server.IssueToken(os.Getenv(jwtSecretEnv), actorID, roles, claims)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "actor id (token subject)")
	cmd.Flags().StringSliceVar(&roles, "role", nil, "role (repeatable or comma separated)")
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "token lifetime (0 for no expiry)")
	_ = cmd.MarkFlagRequired("actor")
	return cmd
}

// --- helpers ---

func withWorkspace(ctx context.Context, fn func(context.Context, *app.Workspace) error) error {
	w, err := app.OpenWorkspace(ctx, viper.GetString("workspace"), viper.GetString("db"))
	if err != nil {
		return err
	}
	defer w.Close()
	return fn(ctx, w)
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	return withWorkspace(ctx, func(ctx context.Context, w *app.Workspace) error {
		return fn(ctx, w.Engine(nil, slog.Default()))
	})
}

// readSourceFile decodes a record from JSON, or from YAML by way of JSON so
// assign_to_team accepts the same string or list shapes in both formats.
func readSourceFile(path string, v any) error {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yml", ".yaml":
		var doc any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		if data, err = json.Marshal(doc); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func parseActions(raw []string) ([]domain.Action, error) {
	var out []domain.Action
	for _, item := range raw {
		parts := strings.Split(item, "|")
		if len(parts) > 3 {
			return nil, fmt.Errorf("invalid --action %q: want text|responsible|due", item)
		}
		a := domain.Action{Action: strings.TrimSpace(parts[0])}
		if len(parts) > 1 {
			a.Responsible = strings.TrimSpace(parts[1])
		}
		if len(parts) > 2 {
			due := strings.TrimSpace(parts[2])
			a.DueDate = &due
		}
		out = append(out, a)
	}
	return out, nil
}

func printSubmission(sub engine.Submission) error {
	if viper.GetBool("json") {
		return printJSON(sub)
	}
	fmt.Printf("Recorded %s, %d task(s) derived\n", sub.SourceID, len(sub.Tasks))
	if len(sub.Tasks) == 0 {
		return nil
	}
	tw := newTable("ID", "Type", "Priority", "Team", "Title")
	for _, t := range sub.Tasks {
		tw.AppendRow(table.Row{t.ID, t.TaskType, t.Priority, deref(t.AssignedTeam), t.Title})
	}
	tw.Render()
	return nil
}

func newTable(header ...any) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row(header))
	return tw
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
