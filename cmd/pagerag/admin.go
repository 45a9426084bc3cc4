package main

import (
	"bufio"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hyperjump/pagerag/internal/cli"
	"github.com/hyperjump/pagerag/internal/config"
	"github.com/hyperjump/pagerag/internal/models"
	"github.com/hyperjump/pagerag/internal/storage"
	"github.com/hyperjump/pagerag/pkg/utils"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

const apiKeyPrefix = "prk_"

func newClearCommand(opts *globalOptions) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every document, vector and preview in the scope",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup(opts, false)
			if err != nil {
				return err
			}
			defer logger.Sync()
			scope := scopeFor(opts, cfg)
			if !yes && !confirm(cmd.InOrStdin(), cmd.OutOrStdout(), fmt.Sprintf("Clear all documents in scope %q?", scope)) {
				fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
				return nil
			}
			components, err := initializeComponents(cmd.Context(), cfg, logger, needs{keywords: true})
			if err != nil {
				return err
			}
			defer components.Close()
			n, err := components.Indexer.ClearScope(cmd.Context(), scope)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d documents from scope %q\n", n, scope)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	return cmd
}

func confirm(in io.Reader, out io.Writer, prompt string) bool {
	fmt.Fprintf(out, "%s [y/N] ", prompt)
	line, _ := bufio.NewReader(in).ReadString('\n')
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}

// statusReport mirrors the server's /api/v1/status body.
type statusReport struct {
	Scope           string                 `json:"scope"`
	Documents       int64                  `json:"documents"`
	Tasks           map[string]int64       `json:"tasks"`
	VectorIndexSize int                    `json:"vector_index_size"`
	DiskUsageBytes  int64                  `json:"disk_usage_bytes"`
	DiskUsage       map[string]int64       `json:"disk_usage,omitempty"`
	Config          map[string]interface{} `json:"config,omitempty"`
}

func newStatusCommand(opts *globalOptions) *cobra.Command {
	var (
		jsonOut   bool
		serverURL string
		apiKey    string
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show document, task and index counts for the scope",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var report *statusReport
			if serverURL != "" {
				report = &statusReport{}
				if err := newAPIClient(serverURL, apiKeyOrEnv(apiKey)).do(cmd.Context(), "GET", "/api/v1/status", nil, report); err != nil {
					return err
				}
			} else {
				cfg, logger, err := setup(opts, false)
				if err != nil {
					return err
				}
				defer logger.Sync()
				components, err := initializeComponents(cmd.Context(), cfg, logger, needs{})
				if err != nil {
					return err
				}
				defer components.Close()
				report, err = localStatus(cmd, components, cfg, scopeFor(opts, cfg))
				if err != nil {
					return err
				}
			}
			if jsonOut {
				return cli.WriteJSON(cmd.OutOrStdout(), report)
			}
			writeStatus(cmd.OutOrStdout(), report)
			return nil
		},
	}
	f := cmd.Flags()
	f.BoolVar(&jsonOut, "json", false, "output status as JSON")
	f.StringVar(&serverURL, "server", "", "read status from a running server at this base URL")
	f.StringVar(&apiKey, "api-key", "", "API key for --server (defaults to $PAGERAG_API_KEY)")
	return cmd
}

func localStatus(cmd *cobra.Command, c *Components, cfg *config.Config, scope string) (*statusReport, error) {
	ctx := cmd.Context()
	docs, err := c.Storage.CountDocuments(ctx, scope)
	if err != nil {
		return nil, err
	}
	report := &statusReport{Scope: scope, Documents: docs, Tasks: map[string]int64{}}
	for _, state := range []models.TaskState{models.TaskPending, models.TaskProcessing, models.TaskCompleted, models.TaskFailed} {
		n, err := c.Storage.CountTasks(ctx, scope, state)
		if err != nil {
			return nil, err
		}
		report.Tasks[string(state)] = n
	}
	idx, err := c.Registry.Index(scope)
	if err != nil {
		return nil, err
	}
	report.VectorIndexSize = idx.Size()
	if usage, err := storage.MeasureUsage(cfg.Storage.Areas()); err == nil {
		report.DiskUsageBytes = usage.Total()
		report.DiskUsage = usage
	}
	return report, nil
}

func writeStatus(w io.Writer, r *statusReport) {
	fmt.Fprintf(w, "Scope:             %s\n", r.Scope)
	fmt.Fprintf(w, "Documents:         %d\n", r.Documents)
	fmt.Fprintf(w, "Vector index size: %d\n", r.VectorIndexSize)
	fmt.Fprintf(w, "Tasks:             %d pending, %d processing, %d completed, %d failed\n",
		r.Tasks[string(models.TaskPending)], r.Tasks[string(models.TaskProcessing)],
		r.Tasks[string(models.TaskCompleted)], r.Tasks[string(models.TaskFailed)])
	fmt.Fprintf(w, "Disk usage:        %s\n", formatBytes(r.DiskUsageBytes))
	areas := make([]string, 0, len(r.DiskUsage))
	for area := range r.DiskUsage {
		areas = append(areas, area)
	}
	sort.Strings(areas)
	for _, area := range areas {
		fmt.Fprintf(w, "  %-16s %s\n", area+":", formatBytes(r.DiskUsage[area]))
	}
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func newUserCommand(opts *globalOptions) *cobra.Command {
	user := &cobra.Command{
		Use:   "user",
		Short: "Manage API users",
	}
	var (
		email string
		admin bool
	)
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a user and print its API key once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !strings.Contains(email, "@") {
				return fmt.Errorf("invalid email %q", email)
			}
			cfg, logger, err := setup(opts, false)
			if err != nil {
				return err
			}
			defer logger.Sync()
			store, err := storage.NewSQLStorage(cfg.Storage.DatabaseDriver, cfg.Storage.DatabaseDSN)
			if err != nil {
				return err
			}
			defer store.Close()

			key, err := generateAPIKey()
			if err != nil {
				return err
			}
			u := &models.User{
				ID:         uuid.NewString(),
				Email:      email,
				APIKeyHash: utils.HashToken(key),
				Active:     true,
				IsAdmin:    admin,
				CreatedAt:  time.Now().UTC(),
			}
			if err := store.CreateUser(cmd.Context(), u); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			role := "user"
			if u.IsAdmin {
				role = "admin user"
			}
			fmt.Fprintf(out, "Created %s %s (%s)\n", role, u.ID, u.Email)
			fmt.Fprintf(out, "API key: %s\n", key)
			fmt.Fprintln(out, "Store this key now; it cannot be shown again.")
			return nil
		},
	}
	create.Flags().StringVar(&email, "email", "", "user email")
	create.Flags().BoolVar(&admin, "admin", false, "allow the status and admin endpoints")
	_ = create.MarkFlagRequired("email")
	user.AddCommand(create)
	return user
}

func generateAPIKey() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate api key: %w", err)
	}
	return apiKeyPrefix + hex.EncodeToString(buf), nil
}

func newSecretCommand(_ *globalOptions) *cobra.Command {
	secret := &cobra.Command{
		Use:   "secret",
		Short: "Manage provider API keys in the OS keyring",
	}
	var service string
	set := &cobra.Command{
		Use:   "set <key>",
		Short: "Read a secret from stdin and store it in the keyring",
		Long:  "Stores the secret and prints the keyring:// URI to use as an api_key value in the config.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := readSecret(cmd.InOrStdin(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			if value == "" {
				return fmt.Errorf("empty secret")
			}
			uri, err := config.StoreSecret(service, args[0], value)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), uri)
			return nil
		},
	}
	set.Flags().StringVar(&service, "service", "pagerag", "keyring service name")
	secret.AddCommand(set)
	return secret
}

// readSecret reads without echo from a terminal, or one line from any other reader.
func readSecret(in io.Reader, prompt io.Writer) (string, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(prompt, "Secret: ")
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(prompt)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(b)), nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
