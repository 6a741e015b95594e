// Package main provides the researchchat CLI entrypoint.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"ResearchChat/internal/assistant"
	"ResearchChat/internal/auth"
	"ResearchChat/internal/backend"
	"ResearchChat/internal/cache"
	"ResearchChat/internal/config"
	"ResearchChat/internal/conversation"
	"ResearchChat/internal/store"
	"ResearchChat/internal/telemetry"
	"ResearchChat/internal/tui"
)

var version = "1.0.0"

var logLevel string

func main() {
	rootCmd := &cobra.Command{
		Use:   "researchchat",
		Short: "Terminal client for the research assistant",
		Long: `ResearchChat is a terminal client for a retrieval-augmented research
assistant. Running it with no arguments opens the interactive chat.

Sign in first with 'researchchat login'.`,
		Run: func(cmd *cobra.Command, args []string) {
			app, err := newApp(cmd.Context())
			if err != nil {
				fatal(err)
			}
			defer app.close()

			// A missing or expired cached session just means the TUI
			// starts on the login screen.
			_, _ = app.auth.Restore(cmd.Context())

			if err := tui.Run(app.cfg, app.auth, app.asst, app.logger); err != nil {
				fatal(err)
			}
		},
	}

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug|info|warn|error)")

	rootCmd.AddCommand(
		loginCmd(),
		signupCmd(),
		logoutCmd(),
		resetPasswordCmd(),
		uploadCmd(),
		historyCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// app bundles the wired collaborators behind every command.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	mirror  *cache.Mirror
	auth    *auth.Client
	store   *store.Client
	backend *backend.Client
	asst    *assistant.Assistant
	cleanup func()
}

func (a *app) close() {
	if a.mirror != nil {
		a.mirror.Close()
	}
	if a.cleanup != nil {
		a.cleanup()
	}
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Get()
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Paths.Ensure(); err != nil {
		return nil, err
	}

	logger, err := telemetry.InitLogger(cfg.Paths.Logs, telemetry.ParseLevel(cfg.LogLevel))
	if err != nil {
		return nil, err
	}

	tracer, meter, cleanup, err := telemetry.InitTelemetry(ctx, cfg.Paths.Logs)
	if err != nil {
		return nil, err
	}

	var mirror *cache.Mirror
	if db, err := telemetry.InitMirror(cfg.Paths.CacheFile); err != nil {
		logger.Warn("failed to open local mirror, continuing without it", "error", err)
	} else {
		mirror = cache.NewMirror(db, logger)
	}

	authClient, err := auth.NewClient(cfg.AuthURL(), cfg.SupabaseAnonKey, cfg.Paths.SessionFile, logger)
	if err != nil {
		return nil, err
	}

	storeClient, err := store.NewClient(cfg.RestURL(), cfg.SupabaseAnonKey, cfg.HistoryLimit, func() string {
		if s := authClient.Session(); s != nil {
			return s.AccessToken
		}
		return ""
	}, logger)
	if err != nil {
		return nil, err
	}

	backendClient, err := backend.NewClient(cfg.BackendURL, logger)
	if err != nil {
		return nil, err
	}

	asst, err := assistant.New(assistant.Options{
		Auth:    authClient,
		Store:   storeClient,
		Backend: backendClient,
		Mirror:  mirror,
		Logger:  logger,
		Tracer:  tracer,
		Meter:   meter,
	})
	if err != nil {
		return nil, err
	}

	// Signing out anywhere wipes the local state and mirror.
	authClient.Subscribe(func(e auth.Event, _ *auth.Session) {
		if e == auth.EventSignedOut {
			asst.Reset()
		}
	})

	return &app{
		cfg:     cfg,
		logger:  logger,
		mirror:  mirror,
		auth:    authClient,
		store:   storeClient,
		backend: backendClient,
		asst:    asst,
		cleanup: cleanup,
	}, nil
}

func loginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login [email]",
		Short: "Sign in and cache the session",
		Args:  cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			app, err := newApp(cmd.Context())
			if err != nil {
				fatal(err)
			}
			defer app.close()

			email, password, err := promptCredentials(args)
			if err != nil {
				fatal(err)
			}

			sess, err := app.auth.SignIn(cmd.Context(), email, password)
			if err != nil {
				fatal(err)
			}
			color.Green("✓ Signed in as %s", sess.User.Email)
		},
	}
}

func signupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "signup [email]",
		Short: "Create an account",
		Args:  cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			app, err := newApp(cmd.Context())
			if err != nil {
				fatal(err)
			}
			defer app.close()

			email, password, err := promptCredentials(args)
			if err != nil {
				fatal(err)
			}

			sess, err := app.auth.SignUp(cmd.Context(), email, password)
			if err != nil {
				fatal(err)
			}
			if sess == nil {
				color.Yellow("Check your email to confirm your account, then run 'researchchat login'.")
				return
			}
			color.Green("✓ Signed in as %s", sess.User.Email)
		},
	}
}

func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and clear the cached session",
		Run: func(cmd *cobra.Command, args []string) {
			app, err := newApp(cmd.Context())
			if err != nil {
				fatal(err)
			}
			defer app.close()

			if _, err := app.auth.Restore(cmd.Context()); err != nil {
				if errors.Is(err, auth.ErrNoSession) {
					fmt.Println("Not signed in.")
					return
				}
			}
			if err := app.auth.SignOut(cmd.Context()); err != nil {
				// Local state is already cleared; the remote revocation
				// failing is worth a warning, not a failed exit.
				color.Yellow("Signed out locally, remote sign-out failed: %v", err)
				return
			}
			color.Green("✓ Signed out")
		},
	}
}

func resetPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset-password <email>",
		Short: "Send a password reset email",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			app, err := newApp(cmd.Context())
			if err != nil {
				fatal(err)
			}
			defer app.close()

			if err := app.auth.Recover(cmd.Context(), args[0]); err != nil {
				fatal(err)
			}
			color.Green("✓ Password reset email sent to %s", args[0])
		},
	}
}

func uploadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "upload <file>",
		Short: "Upload a document to the assistant's knowledge base",
		Long: `Upload a document for ingestion. Supported types:
.pdf .png .jpg .jpeg .txt .md`,
		Args: cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			app, err := newApp(cmd.Context())
			if err != nil {
				fatal(err)
			}
			defer app.close()
			requireSession(cmd.Context(), app)

			msg, err := app.asst.Upload(cmd.Context(), args[0])
			if err != nil {
				fatal(err)
			}
			color.Green("✓ %s", msg)
		},
	}
}

func historyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Manage saved conversations",
	}

	var limit int
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List saved conversations, newest first",
		Run: func(cmd *cobra.Command, args []string) {
			app, err := newApp(cmd.Context())
			if err != nil {
				fatal(err)
			}
			defer app.close()
			requireSession(cmd.Context(), app)

			if err := app.asst.RefreshHistory(cmd.Context()); err != nil {
				fatal(err)
			}

			summaries := app.asst.Summaries()
			if limit > 0 && len(summaries) > limit {
				summaries = summaries[:limit]
			}
			if len(summaries) == 0 {
				fmt.Println("No conversations yet.")
				return
			}
			bold := color.New(color.Bold)
			for _, s := range summaries {
				bold.Printf("%6d  ", s.ID)
				fmt.Printf("%s  %s\n", s.CreatedAt.Format("2006-01-02 15:04"), s.Title(60))
			}
		},
	}
	listCmd.Flags().IntVarP(&limit, "limit", "n", 0, "Max conversations to show")

	showCmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Print a conversation transcript",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			app, err := newApp(cmd.Context())
			if err != nil {
				fatal(err)
			}
			defer app.close()
			requireSession(cmd.Context(), app)

			id := parseID(args[0])
			if err := app.asst.OpenConversation(cmd.Context(), id); err != nil {
				fatal(err)
			}

			_, messages := app.asst.Transcript()
			cyan := color.New(color.FgCyan, color.Bold)
			magenta := color.New(color.FgMagenta, color.Bold)
			for _, m := range messages {
				if m.Role == conversation.RoleUser {
					cyan.Println("You:")
				} else {
					magenta.Println("Assistant:")
				}
				fmt.Println(m.Content)
				fmt.Println()
			}
		},
	}

	var yes bool
	deleteCmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a conversation and its messages",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			app, err := newApp(cmd.Context())
			if err != nil {
				fatal(err)
			}
			defer app.close()
			requireSession(cmd.Context(), app)

			id := parseID(args[0])
			if !yes && !confirm(fmt.Sprintf("Delete conversation %d? [y/N] ", id)) {
				fmt.Println("Aborted.")
				return
			}
			if err := app.asst.Delete(cmd.Context(), id); err != nil {
				fatal(err)
			}
			color.Green("✓ Deleted conversation %d", id)
		},
	}
	deleteCmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip confirmation")

	cmd.AddCommand(listCmd, showCmd, deleteCmd)
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("researchchat version %s\n", version)
		},
	}
}

func requireSession(ctx context.Context, app *app) {
	if _, err := app.auth.Restore(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Not signed in. Run 'researchchat login' first.")
		os.Exit(1)
	}
}

func promptCredentials(args []string) (string, string, error) {
	reader := bufio.NewReader(os.Stdin)

	var email string
	if len(args) > 0 {
		email = args[0]
	} else {
		fmt.Print("Email: ")
		line, err := reader.ReadString('\n')
		if err != nil {
			return "", "", err
		}
		email = strings.TrimSpace(line)
	}

	fmt.Print("Password: ")
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", "", fmt.Errorf("failed to read password: %w", err)
	}

	return email, string(raw), nil
}

func confirm(prompt string) bool {
	fmt.Print(prompt)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

func parseID(s string) int64 {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid conversation id: %s\n", s)
		os.Exit(1)
	}
	return id
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
