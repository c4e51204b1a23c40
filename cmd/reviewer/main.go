package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/pavelanni/reviewer/internal/assistant"
	"github.com/pavelanni/reviewer/internal/handler"
	appI18n "github.com/pavelanni/reviewer/internal/i18n"
	"github.com/pavelanni/reviewer/internal/metrics"
	"github.com/pavelanni/reviewer/internal/model"
	"github.com/pavelanni/reviewer/internal/reply"
	"github.com/pavelanni/reviewer/internal/store"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "reviewer",
		Short: "Offline study assistant for reviewer notes",
	}

	serve := serveCmd()
	root.AddCommand(serve, extractCmd(), askCmd(), ingestCmd(), importLegacyCmd(), exportCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `reviewer --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func addCommonFlags(f *pflag.FlagSet) {
	f.String("db", "reviewer.db", "SQLite database path")
	f.StringP("lang", "l", "en", "Language for replies and notices (en, ru)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	f.String("log-file", "", "Also write logs to this file, rotated by size")
}

func addProfileFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("profile-name", "", "Student name (required)")
	f.String("grade", "", "Student grade (required)")
	_ = cmd.MarkFlagRequired("profile-name")
	_ = cmd.MarkFlagRequired("grade")
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP study server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.StringP("subject", "s", "custom", "Default subject label")
	f.Duration("think-delay", 800*time.Millisecond, "Delay before chat replies (0 disables)")
	f.Duration("think-jitter", 1200*time.Millisecond, "Random extra delay added to think-delay")
	f.Int("chat-rate-limit", 30, "Chat requests per minute per client (0 disables)")
	f.String("base-path", "", "URL prefix for sub-path deployments (e.g. /ru)")
	addCommonFlags(f)
	return cmd
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	var out io.Writer = os.Stderr
	if path := v.GetString("log-file"); path != "" {
		out = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   path,
			MaxSize:    10,
			MaxBackups: 5,
			MaxAge:     30,
			Compress:   true,
		})
	}

	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(out, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(out, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("REVIEWER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("reviewer")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/reviewer")
	v.AddConfigPath("/etc/reviewer")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Debug("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

// openStore opens the database and i18n bundle shared by every command.
func openStore(v *viper.Viper) (*store.Store, error) {
	if err := appI18n.Init(v.GetString("lang")); err != nil {
		return nil, fmt.Errorf("init i18n: %w", err)
	}
	db, err := store.New(v.GetString("db"))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}

// localContext carries the configured language for commands run outside HTTP.
func localContext(lang string) context.Context {
	ctx := appI18n.WithLocalizer(context.Background(), appI18n.NewLocalizer(lang))
	return reply.ContextWithPhrasebook(ctx, appI18n.Phrases(ctx))
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := openStore(v)
	if err != nil {
		return err
	}
	defer db.Close()

	// Normalize base path.
	basePath := strings.TrimRight(v.GetString("base-path"), "/")
	if basePath != "" && !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}

	lang := v.GetString("lang")
	cfg := model.Config{
		Subject:       v.GetString("subject"),
		ThinkDelay:    v.GetDuration("think-delay"),
		ThinkJitter:   v.GetDuration("think-jitter"),
		Lang:          lang,
		BasePath:      basePath,
		ChatRateLimit: v.GetInt("chat-rate-limit"),
	}

	a := assistant.New(db, reply.New(), cfg)
	h := handler.New(a, cfg)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(appI18n.Middleware(lang))

	mount := func(sub chi.Router) {
		h.Routes(sub)
		sub.Handle("/metrics", metrics.Handler())
	}
	if basePath != "" {
		r.Route(basePath, mount)
	} else {
		mount(r)
	}

	profiles, err := db.ListProfiles()
	if err != nil {
		return fmt.Errorf("list profiles: %w", err)
	}

	addr := v.GetString("addr")
	slog.Info("starting server",
		"addr", addr,
		"lang", lang,
		"subject", cfg.Subject,
		"think_delay", cfg.ThinkDelay,
		"think_jitter", cfg.ThinkJitter,
		"chat_rate_limit", cfg.ChatRateLimit,
		"base_path", basePath,
		"profiles", len(profiles),
	)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv.ListenAndServe()
}
