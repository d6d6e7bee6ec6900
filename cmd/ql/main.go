package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"quoteline/internal/app"
	"quoteline/internal/config"
	"quoteline/internal/db"
	"quoteline/internal/domain"
	"quoteline/internal/engine"
	"quoteline/internal/logger"
	"quoteline/internal/migrate"
	"quoteline/internal/repo"
	"quoteline/internal/server"
	"quoteline/internal/surface"
)

var rootCmd = &cobra.Command{
	Use:   "ql",
	Short: "Quoteline CLI",
	Long: `Quoteline tracks art commission quotes through their lifecycle.
A quote is parsed from a labelled text block, stored per workspace, and
rendered to a display surface (a local board directory or a webhook).
Statuses move pending -> ongoing -> finished, or out via cancelled;
per-category stages go draft -> lineart -> colored -> complete.`,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("QUOTELINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("dir", "d", ".", "data directory")
	rootCmd.PersistentFlags().StringP("workspace", "w", "", "workspace id")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("channel", "", "originating channel for renders")
	_ = viper.BindPFlag("dir", rootCmd.PersistentFlags().Lookup("dir"))
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("channel", rootCmd.PersistentFlags().Lookup("channel"))
}

func registerCommands() {
	rootCmd.AddCommand(workflowCmd())
	rootCmd.AddCommand(devCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(apikeyCmd())
}

func workflowCmd() *cobra.Command {
	wf := &cobra.Command{Use: "workflow", Short: "Manage quotes"}
	wf.AddCommand(addCmd())
	wf.AddCommand(infoCmd())
	wf.AddCommand(editCmd())
	wf.AddCommand(setCmd())
	wf.AddCommand(listCmd())
	wf.AddCommand(refreshCmd())
	return wf
}

func addCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a quote from a labelled text block",
		Long:  "Reads the block from --file, or prompts on stdin when absent.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine, workspaceID string) error {
				opts := engine.AddOptions{
					WorkspaceID: workspaceID,
					Channel:     viper.GetString("channel"),
					ActorID:     viper.GetString("actor-id"),
				}
				if file != "" {
					data, err := os.ReadFile(file)
					if err != nil {
						return err
					}
					opts.Text = string(data)
				} else {
					opts.Input = stdinSource{}
				}
				q, err := e.Add(ctx, opts)
				var re *engine.RenderError
				if err != nil && !errors.As(err, &re) {
					return err
				}
				if err != nil {
					fmt.Fprintf(os.Stderr, "warning: %v (run 'ql workflow refresh %d')\n", err, q.ID)
				}
				return printQuote(q)
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "read the quote text from a file")
	return cmd
}

func infoCmd() *cobra.Command {
	var detail bool
	cmd := &cobra.Command{
		Use:   "info <id>",
		Short: "Show a quote",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("id must be an integer")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine, workspaceID string) error {
				q, doc, err := e.Info(ctx, workspaceID, id, detail)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(q)
				}
				fmt.Println(doc.Title)
				fmt.Println(doc.Body)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&detail, "detail", false, "include totals, contact info, and comment")
	return cmd
}

func editCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "edit <id> <field> <value>",
		Short: "Edit one quote field",
		Long:  "Fields: customer-name, contact-method, contact-info, payment-method,\npayment-received, estimated-start-date, comment, status, <category>.count|price|stage.",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("id must be an integer")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine, workspaceID string) error {
				q, err := e.Edit(ctx, engine.EditOptions{
					WorkspaceID: workspaceID,
					ID:          id,
					Field:       args[1],
					Value:       strings.Join(args[2:], " "),
					ActorID:     viper.GetString("actor-id"),
				})
				var re *engine.RenderError
				if err != nil && !errors.As(err, &re) {
					return err
				}
				if err != nil {
					fmt.Fprintf(os.Stderr, "warning: %v (run 'ql workflow refresh %d')\n", err, q.ID)
				}
				return printQuote(q)
			})
		},
	}
}

func setCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <id> <keyword> [category]",
		Short: "Apply a shortcut keyword",
		Long:  "Status keywords: start, ongoing, done, finished, cancel, cancelled, pending.\nStage keywords (need a category): draft, lineart, colored, complete.",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("id must be an integer")
			}
			category := ""
			if len(args) == 3 {
				category = args[2]
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine, workspaceID string) error {
				q, err := e.Shortcut(ctx, workspaceID, id, args[1], category, viper.GetString("actor-id"))
				var re *engine.RenderError
				if err != nil && !errors.As(err, &re) {
					return err
				}
				if err != nil {
					fmt.Fprintf(os.Stderr, "warning: %v (run 'ql workflow refresh %d')\n", err, q.ID)
				}
				return printQuote(q)
			})
		},
	}
}

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Show the workspace bucket overview",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine, workspaceID string) error {
				summary, err := e.List(ctx, workspaceID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(summary)
				}
				t := table.NewWriter()
				t.SetOutputMirror(os.Stdout)
				t.AppendHeader(table.Row{"bucket", "count", "ids"})
				t.AppendRow(table.Row{"pending", len(summary.Pending), idList(summary.Pending)})
				t.AppendRow(table.Row{"ongoing", len(summary.Ongoing), idList(summary.Ongoing)})
				t.AppendRow(table.Row{"finished", len(summary.Finished), idList(summary.Finished)})
				t.AppendRow(table.Row{"cancelled", len(summary.Cancelled), idList(summary.Cancelled)})
				t.Render()
				return nil
			})
		},
	}
}

func refreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh <id>",
		Short: "Replay the rendering from store state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("id must be an integer")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine, workspaceID string) error {
				q, err := e.Refresh(ctx, workspaceID, id, viper.GetString("channel"), viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printQuote(q)
			})
		},
	}
}

func devCmd() *cobra.Command {
	dev := &cobra.Command{Use: "dev", Short: "Workspace maintenance"}
	dev.AddCommand(&cobra.Command{
		Use:   "reset",
		Short: "Clear the workspace, counter included",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine, workspaceID string) error {
				if err := e.Reset(ctx, workspaceID, viper.GetString("actor-id")); err != nil {
					return err
				}
				fmt.Printf("workspace %s cleared\n", workspaceID)
				return nil
			})
		},
	})
	dev.AddCommand(&cobra.Command{
		Use:   "channel [ref]",
		Short: "Set or clear the render channel",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref := ""
			if len(args) == 1 {
				ref = args[0]
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine, workspaceID string) error {
				if err := e.SetRenderChannel(ctx, workspaceID, ref, viper.GetString("actor-id")); err != nil {
					return err
				}
				if ref == "" {
					fmt.Println("render channel cleared")
				} else {
					fmt.Printf("render channel set to %s\n", ref)
				}
				return nil
			})
		},
	})
	return dev
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage workspace config"}
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective workspace config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine, workspaceID string) error {
				return printJSON(e.Config)
			})
		},
	})
	cfg.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Print the default config YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Print(config.GenerateDefault(workspaceID()))
			return nil
		},
	})
	cfg.AddCommand(&cobra.Command{
		Use:   "import <file>",
		Short: "Import a config YAML into the workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			imported, err := config.FromFile(args[0])
			if err != nil {
				return err
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				id := workspaceID()
				if id == "" {
					id = imported.Workspace.ID
				}
				if id == "" {
					return fmt.Errorf("workspace not specified; use --workspace")
				}
				if err := r.UpsertWorkspaceConfig(ctx, id, imported); err != nil {
					return err
				}
				fmt.Printf("config imported for workspace %s\n", id)
				return nil
			})
		},
	})
	return cfg
}

func logCmd() *cobra.Command {
	logRoot := &cobra.Command{Use: "log", Short: "Inspect the event log"}
	var limit int
	var evtType, quoteID string
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Show recent events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				evts, err := r.LatestEvents(ctx, limit, workspaceID(), evtType, quoteID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(evts)
				}
				t := table.NewWriter()
				t.SetOutputMirror(os.Stdout)
				t.AppendHeader(table.Row{"ts", "type", "quote", "actor", "payload"})
				for _, evt := range evts {
					t.AppendRow(table.Row{evt.TS, evt.Type, evt.QuoteID, evt.ActorID, evt.Payload})
				}
				t.Render()
				return nil
			})
		},
	}
	tail.Flags().IntVar(&limit, "limit", 20, "number of events")
	tail.Flags().StringVar(&evtType, "type", "", "filter by event type")
	tail.Flags().StringVar(&quoteID, "quote", "", "filter by quote id")
	logRoot.AddCommand(tail)
	return logRoot
}

func serveCmd() *cobra.Command {
	var addr, basePath, logLevel string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := logger.New(logLevel)
			if err != nil {
				return err
			}
			defer log.Sync()
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine, workspaceID string) error {
				handler, err := server.New(server.Config{
					Engine:   e,
					BasePath: basePath,
					Auth:     server.AuthConfig{JWTSecret: os.Getenv("QUOTELINE_JWT_SECRET")},
					Logger:   log,
				})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler}
				go func() {
					<-ctx.Done()
					shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutCtx)
				}()
				fmt.Printf("Serving Quoteline API on http://%s%s (OpenAPI at %s/openapi.json)\n", addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "zap log level")
	return cmd
}

func apikeyCmd() *cobra.Command {
	root := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	var actor, name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an API key (printed once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if actor == "" {
					actor = viper.GetString("actor-id")
				}
				key := "qlk_" + uuid.NewString()
				tx, err := r.DB.BeginTx(ctx, nil)
				if err != nil {
					return err
				}
				defer tx.Rollback()
				rec := domain.APIKey{
					ID:        uuid.NewString(),
					Name:      name,
					KeyHash:   repo.HashAPIKey(key),
					ActorID:   actor,
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				if err := r.InsertAPIKey(ctx, tx, rec); err != nil {
					return err
				}
				if err := tx.Commit(); err != nil {
					return err
				}
				fmt.Printf("id: %s\nkey: %s\n", rec.ID, key)
				return nil
			})
		},
	}
	create.Flags().StringVar(&actor, "actor", "", "actor the key authenticates as")
	create.Flags().StringVar(&name, "name", "", "human-readable key name")
	root.AddCommand(create)
	root.AddCommand(&cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	})
	return root
}

// stdinSource reads the quote block from stdin until EOF.
type stdinSource struct{}

func (stdinSource) Await(ctx context.Context) (string, error) {
	type result struct {
		text string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		var lines []string
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines = append(lines, scanner.Text())
		}
		ch <- result{text: strings.Join(lines, "\n"), err: scanner.Err()}
	}()
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		return res.text, res.err
	}
}

func workspaceID() string {
	return viper.GetString("workspace")
}

func buildSurface(dir string, cfg *config.Config) surface.Surface {
	if cfg.Surface.Kind == "webhook" && cfg.Surface.WebhookURL != "" {
		return surface.NewWebhook(cfg.Surface.WebhookURL)
	}
	return surface.NewDir(filepath.Join(dir, ".quoteline", "board"))
}

func withEngine(ctx context.Context, fn func(context.Context, *engine.Engine, string) error) error {
	dir := viper.GetString("dir")
	conn, err := db.Open(db.Config{Dir: dir})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	id, cfg, err := app.ResolveWorkspaceConfig(ctx, workspaceID(), r)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg, buildSurface(dir, cfg))
	return fn(ctx, e, id)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	conn, err := db.Open(db.Config{Dir: viper.GetString("dir")})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printQuote(q domain.Quote) error {
	if viper.GetBool("json") {
		return printJSON(q)
	}
	fmt.Printf("#%d [%s] %s\n", q.ID, q.Status, q.Customer.Name)
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"category", "count", "stage"})
	for _, item := range q.Items {
		if !item.Ordered() {
			continue
		}
		t.AppendRow(table.Row{item.Kind, item.Count, item.Stage.String()})
	}
	t.Render()
	return nil
}

func idList(ids []int) string {
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, strconv.Itoa(id))
	}
	return strings.Join(parts, ", ")
}
