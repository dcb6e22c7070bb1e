package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"sidekick/internal/config"
	"sidekick/internal/db"
	"sidekick/internal/domain"
	"sidekick/internal/engine"
	"sidekick/internal/intent"
	"sidekick/internal/migrate"
	"sidekick/internal/repo"
	"sidekick/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "sk",
	Short: "Sidekick CLI",
	Long: `Sidekick turns free-form commands into device actions.
- Parse: "open whatsapp" or "turn on wifi" becomes a typed intent.
- Interactions: the transcript; actionable user commands enqueue a device action.
- Actions: pending work that companion devices claim, execute, and report back on.
- Emotions: a simple mood/arousal journal the assistant can read back.
- Vocabulary: sidekick.yml alias tables; swap them to teach new app and setting names.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
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
	viper.SetEnvPrefix("SIDEKICK")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("device-id", "local", "device identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("device-id", rootCmd.PersistentFlags().Lookup("device-id"))
}

func registerCommands() {
	rootCmd.AddCommand(parseCmd())
	rootCmd.AddCommand(interactionCmd())
	rootCmd.AddCommand(emotionCmd())
	rootCmd.AddCommand(actionCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(vocabCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func withEngine(ctx context.Context, fn func(ctx context.Context, e engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, engine.New(conn, cfg))
}

func withRepo(ctx context.Context, fn func(ctx context.Context, r repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func parseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "parse <text>",
		Short: "Classify text into an intent without recording it",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			// No DB needed; the classifier is pure.
			c := intent.New(cfg.Vocabulary)
			return printJSON(c.Classify(strings.Join(args, " ")))
		},
	}
}

func interactionCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "interaction", Short: "Record and list interactions"}
	cmd.AddCommand(interactionAddCmd())
	cmd.AddCommand(interactionListCmd())
	return cmd
}

func interactionAddCmd() *cobra.Command {
	var role, text string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Record an interaction; actionable commands enqueue a device action",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				it, action, err := e.RecordInteraction(ctx, engine.InteractionOptions{
					Role:    role,
					Text:    text,
					ActorID: viper.GetString("device-id"),
				})
				if err != nil {
					return err
				}
				out := map[string]any{"interaction": it}
				if action != nil {
					out["action"] = action
				}
				return printJSON(out)
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", "user", "interaction role (user|assistant)")
	cmd.Flags().StringVar(&text, "text", "", "interaction text")
	_ = cmd.MarkFlagRequired("text")
	return cmd
}

func interactionListCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List interactions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListInteractions(ctx, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				t := newTable("ID", "ROLE", "TEXT", "CREATED")
				for _, it := range items {
					t.AppendRow(table.Row{it.ID, it.Role, it.Text, it.CreatedAt})
				}
				fmt.Println(t.Render())
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "max rows")
	return cmd
}

func emotionCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "emotion", Short: "Record and read emotion state"}
	cmd.AddCommand(emotionSetCmd())
	cmd.AddCommand(emotionLatestCmd())
	return cmd
}

func emotionSetCmd() *cobra.Command {
	var mood, notes string
	var arousal int
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Record an emotion state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s := domain.EmotionState{Mood: mood, Arousal: arousal}
				if notes != "" {
					s.Notes = &notes
				}
				stored, err := e.SetEmotion(ctx, s, viper.GetString("device-id"))
				if err != nil {
					return err
				}
				return printJSON(stored)
			})
		},
	}
	cmd.Flags().StringVar(&mood, "mood", "neutral", "mood")
	cmd.Flags().IntVar(&arousal, "arousal", 5, "energy level 1-10")
	cmd.Flags().StringVar(&notes, "notes", "", "notes")
	return cmd
}

func emotionLatestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "latest",
		Short: "Show the latest emotion state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.LatestEmotion(ctx)
				if err != nil {
					return err
				}
				return printJSON(s)
			})
		},
	}
}

func actionCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "action", Short: "Inspect and drive the dispatch queue"}
	cmd.AddCommand(actionListCmd())
	cmd.AddCommand(actionShowCmd())
	cmd.AddCommand(actionNextCmd())
	cmd.AddCommand(actionCompleteCmd())
	return cmd
}

func actionListCmd() *cobra.Command {
	var status, deviceID string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List device actions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListActions(ctx, repo.ActionFilters{Status: status, DeviceID: deviceID, Limit: limit})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				t := newTable("ID", "KIND", "TARGET", "ACTION", "STATUS", "DEVICE", "UPDATED")
				for _, a := range items {
					t.AppendRow(table.Row{a.ID, a.Kind, a.Target, strVal(a.Action), a.Status, strVal(a.DeviceID), a.UpdatedAt})
				}
				fmt.Println(t.Render())
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	cmd.Flags().StringVar(&deviceID, "device", "", "filter by device id")
	cmd.Flags().IntVar(&limit, "limit", 50, "max rows")
	return cmd
}

func actionShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one device action",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.GetAction(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(a)
			})
		},
	}
}

func actionNextCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "next",
		Short: "Claim the next pending action for this device",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.NextAction(ctx, viper.GetString("device-id"))
				if err != nil {
					return err
				}
				if a == nil {
					fmt.Println("no pending actions")
					return nil
				}
				return printJSON(a)
			})
		},
	}
}

func actionCompleteCmd() *cobra.Command {
	var status, result string
	cmd := &cobra.Command{
		Use:   "complete <id>",
		Short: "Report an action as completed or failed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resultMap map[string]any
			if result != "" {
				if err := json.Unmarshal([]byte(result), &resultMap); err != nil {
					return fmt.Errorf("invalid --result JSON: %w", err)
				}
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.CompleteAction(ctx, args[0], status, resultMap, viper.GetString("device-id"))
				if err != nil {
					return err
				}
				return printJSON(a)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "completed", "terminal status (completed|failed)")
	cmd.Flags().StringVar(&result, "result", "", "result payload as JSON")
	return cmd
}

func apikeyCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "apikey", Short: "Manage device API keys"}
	cmd.AddCommand(apikeyCreateCmd())
	cmd.AddCommand(apikeyListCmd())
	cmd.AddCommand(apikeyDeleteCmd())
	return cmd
}

func apikeyCreateCmd() *cobra.Command {
	var deviceID, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Mint an API key for a device (the raw key is shown once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				key, raw, err := e.CreateAPIKey(ctx, deviceID, name)
				if err != nil {
					return err
				}
				return printJSON(map[string]any{"id": key.ID, "device_id": key.DeviceID, "name": key.Name, "key": raw})
			})
		},
	}
	cmd.Flags().StringVar(&deviceID, "device", "", "device id")
	cmd.Flags().StringVar(&name, "name", "", "key label")
	_ = cmd.MarkFlagRequired("device")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	var deviceID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				keys, err := r.ListAPIKeys(ctx, deviceID)
				if err != nil {
					return err
				}
				return printJSON(keys)
			})
		},
	}
	cmd.Flags().StringVar(&deviceID, "device", "", "filter by device id")
	return cmd
}

func apikeyDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if err := r.DeleteAPIKey(ctx, args[0]); err != nil {
					return err
				}
				fmt.Println("deleted", args[0])
				return nil
			})
		},
	}
}

func vocabCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "vocab", Short: "Inspect and seed the classifier vocabulary"}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the active vocabulary",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSON(cfg.Vocabulary)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "export",
		Short: "Write the default sidekick.yml template to stdout",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Print(config.DefaultYAML())
			return nil
		},
	})
	return cmd
}

func logCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "log", Short: "Event log"}
	cmd.AddCommand(logTailCmd())
	return cmd
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				events, err := r.LatestEvents(ctx, n, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				t := newTable("ID", "TS", "TYPE", "ENTITY", "ACTOR", "PAYLOAD")
				for _, e := range events {
					t.AppendRow(table.Row{e.ID, e.TS, e.Type, e.EntityKind + "/" + e.EntityID, e.ActorID, e.Payload})
				}
				fmt.Println(t.Render())
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "limit", 50, "max rows")
	cmd.Flags().StringVar(&evtType, "type", "", "filter by event type")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "filter by entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "filter by entity id")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			cfg, err := config.LoadOptional(workspace)
			if err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
			e := engine.New(conn, cfg)
			authCfg := server.AuthConfig{
				JWTSecret:         os.Getenv("SIDEKICK_JWT_SECRET"),
				AllowDeviceHeader: cfg.Auth.AllowDeviceHeader,
			}
			if authCfg.JWTSecret == "" {
				logger.Warn().Msg("SIDEKICK_JWT_SECRET not set; API runs without authentication")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg, Logger: logger})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			logger.Info().Str("addr", addr).Str("base_path", basePath).Msg("serving Sidekick API")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8000", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

func newTable(cols ...string) table.Writer {
	t := table.NewWriter()
	row := make(table.Row, 0, len(cols))
	for _, c := range cols {
		row = append(row, c)
	}
	t.AppendHeader(row)
	return t
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func strVal(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
