// Package main is pollctl, an admin CLI for the polls API. The session credential is kept in
// Redis so consecutive invocations share one login.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aura-polls/backend/config"
	"github.com/aura-polls/backend/internal/models"
	"github.com/aura-polls/backend/pkg/apiclient"
	"github.com/aura-polls/backend/pkg/redis"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type app struct {
	baseURL string
	session string
	verbose bool
	client  *apiclient.Client
	close   func()
}

func rootCmd() *cobra.Command {
	a := &app{}
	cmd := &cobra.Command{
		Use:           "pollctl",
		Short:         "Manage polls and vote links from the command line",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.open(cmd.Context())
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.close != nil {
				a.close()
			}
		},
	}
	cmd.PersistentFlags().StringVar(&a.baseURL, "base-url", "", "API base URL (default API_BASE_URL)")
	cmd.PersistentFlags().StringVar(&a.session, "session", "", "Session name for the stored credential (default API_SESSION_KEY)")
	cmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Log requests and refreshes")

	cmd.AddCommand(a.loginCmd(), a.logoutCmd(), a.linksCmd(), a.statsCmd(), a.voteCmd())
	return cmd
}

func (a *app) open(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if a.baseURL == "" {
		a.baseURL = cfg.Client.BaseURL
	}
	if a.session == "" {
		a.session = cfg.Client.SessionKey
	}
	logger := zap.NewNop()
	if a.verbose {
		logger, _ = zap.NewDevelopment()
	}

	rdb, err := redis.NewClient(ctx, redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB}, logger)
	if err != nil {
		return fmt.Errorf("credential store: %w", err)
	}
	store := apiclient.NewRedisCredentialStore(rdb, a.session)
	a.client, err = apiclient.NewClient(ctx, a.baseURL, store,
		apiclient.WithLogger(logger),
		apiclient.WithRefreshTimeout(cfg.Client.RefreshTimeout()),
	)
	if err != nil {
		_ = rdb.Close()
		return err
	}
	a.close = func() {
		_ = logger.Sync()
		_ = rdb.Close()
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parsePollID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid poll id %q", s)
	}
	return id, nil
}

func (a *app) loginCmd() *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "login <username>",
		Short: "Log in and store the session credential",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				password = os.Getenv("POLLCTL_PASSWORD")
			}
			if _, err := a.client.Login(cmd.Context(), args[0], password); err != nil {
				return err
			}
			fmt.Printf("logged in as %s (session %s)\n", args[0], a.session)
			return nil
		},
	}
	cmd.Flags().StringVarP(&password, "password", "p", "", "Password (default POLLCTL_PASSWORD)")
	return cmd
}

func (a *app) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Revoke and forget the session credential",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.client.Logout(cmd.Context())
		},
	}
}

func (a *app) linksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "links",
		Short: "Issue vote links",
	}

	var email, name string
	issue := &cobra.Command{
		Use:   "issue <poll-id>",
		Short: "Issue one vote link, optionally for an invitee",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pollID, err := parsePollID(args[0])
			if err != nil {
				return err
			}
			var invitee *models.Invitee
			if email != "" || name != "" {
				invitee = &models.Invitee{Email: email, Name: name}
			}
			link, err := a.client.IssueVoteLink(cmd.Context(), pollID, invitee)
			if err != nil {
				return err
			}
			return printJSON(link)
		},
	}
	issue.Flags().StringVar(&email, "email", "", "Invitee email; an invitation is sent")
	issue.Flags().StringVar(&name, "name", "", "Invitee name")

	var emails []string
	bulk := &cobra.Command{
		Use:   "bulk <poll-id>",
		Short: "Issue one vote link per invitee email",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pollID, err := parsePollID(args[0])
			if err != nil {
				return err
			}
			if len(emails) == 0 {
				return fmt.Errorf("at least one --email is required")
			}
			invitees := make([]models.Invitee, 0, len(emails))
			for _, e := range emails {
				invitees = append(invitees, models.Invitee{Email: e})
			}
			links, err := a.client.IssueVoteLinksBulk(cmd.Context(), pollID, invitees)
			if err != nil {
				return err
			}
			return printJSON(links)
		},
	}
	bulk.Flags().StringSliceVar(&emails, "email", nil, "Invitee email (repeatable or comma-separated)")

	cmd.AddCommand(issue, bulk)
	return cmd
}

func (a *app) statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats <poll-id>",
		Short: "Show the tally of a poll",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pollID, err := parsePollID(args[0])
			if err != nil {
				return err
			}
			stats, err := a.client.GetPollStats(cmd.Context(), pollID)
			if err != nil {
				return err
			}
			return printJSON(stats)
		},
	}
}

func (a *app) voteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "vote <token> <choice-id>",
		Short: "Cast a vote with a link token",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			choiceID, err := uuid.Parse(args[1])
			if err != nil {
				return fmt.Errorf("invalid choice id %q", args[1])
			}
			res, err := a.client.SubmitVote(cmd.Context(), args[0], choiceID)
			if err != nil {
				return err
			}
			return printJSON(res)
		},
	}
}
