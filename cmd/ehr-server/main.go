package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/medrecords/internal/config"
	"github.com/ehr/medrecords/internal/domain/report"
	"github.com/ehr/medrecords/internal/platform/auth"
	"github.com/ehr/medrecords/internal/platform/db"
	"github.com/ehr/medrecords/internal/platform/hipaa"
	"github.com/ehr/medrecords/internal/platform/observation"
)

const version = "0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "ehr-server",
		Short:         "Medical records service with encrypted patient identifiers",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(keygenCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(extractCmd())
	return rootCmd
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Database migration commands",
	}
	cmd.PersistentFlags().String("dir", "", "Path to migrations directory (defaults to MIGRATIONS_DIR)")

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			migrator, closeFn, err := openMigrator(ctx, cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			migrator, closeFn, err := openMigrator(ctx, cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			statuses, err := migrator.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			printStatuses(cmd.OutOrStdout(), statuses)
			return nil
		},
	})
	return cmd
}

func openMigrator(ctx context.Context, cmd *cobra.Command) (*db.Migrator, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if cfg.DatabaseURL == "" {
		return nil, nil, fmt.Errorf("DATABASE_URL is required")
	}
	dir, _ := cmd.Flags().GetString("dir")
	if dir == "" {
		dir = cfg.MigrationsDir
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, db.PoolConfig{MaxConns: 2, MinConns: 1})
	if err != nil {
		return nil, nil, err
	}
	return db.NewMigrator(pool, os.DirFS(dir)), pool.Close, nil
}

func printStatuses(w io.Writer, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status, appliedAt := "pending", ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format(time.RFC3339)
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func keygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Print a new base64 256-bit identifier encryption key",
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := hipaa.GenerateKey()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), k.Encoded())
			return nil
		},
	}
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a signed bearer token for local testing",
		RunE: func(cmd *cobra.Command, args []string) error {
			sub, _ := cmd.Flags().GetString("sub")
			roles, _ := cmd.Flags().GetStringSlice("role")
			patientID, _ := cmd.Flags().GetString("patient-id")
			ttl, _ := cmd.Flags().GetDuration("ttl")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			tok, err := mintToken(cfg, sub, roles, patientID, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().String("sub", "", "Token subject (user id)")
	cmd.Flags().StringSlice("role", nil, "Role to grant; repeatable (admin, doctor, diagnost, patient)")
	cmd.Flags().String("patient-id", "", "Patient identifier bound to a patient token")
	cmd.Flags().Duration("ttl", time.Hour, "Token lifetime")
	_ = cmd.MarkFlagRequired("sub")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

// mintToken signs a token with the configured key. A patient id is
// validated and replaced by its blind index before it enters the claims.
func mintToken(cfg *config.Config, sub string, roles []string, patientID string, ttl time.Duration) (string, error) {
	if cfg.AuthSigningKey == "" {
		return "", fmt.Errorf("AUTH_SIGNING_KEY is required to mint tokens")
	}
	for _, r := range roles {
		switch r {
		case auth.RoleAdmin, auth.RoleDoctor, auth.RoleDiagnost, auth.RolePatient:
		default:
			return "", fmt.Errorf("unknown role %q", r)
		}
	}

	var ref string
	if patientID = strings.TrimSpace(patientID); patientID != "" {
		vault, err := vaultFromConfig(cfg, zerolog.Nop())
		if err != nil {
			return "", err
		}
		if ref, err = vault.Hash(patientID); err != nil {
			return "", fmt.Errorf("patient-id: %w", err)
		}
	}

	return auth.IssueToken(jwtConfig(cfg), sub, roles, ref, ttl)
}

// vaultFromConfig loads (or generates) the identifier key and builds the
// vault with the configured blind index.
func vaultFromConfig(cfg *config.Config, logger zerolog.Logger) (*hipaa.Vault, error) {
	if cfg.IdentifierIndexMode == hipaa.IndexModeHMAC && cfg.IdentifierEncryptionKey == "" {
		return nil, fmt.Errorf("IDENTIFIER_ENCRYPTION_KEY is required when IDENTIFIER_INDEX_MODE=%s", hipaa.IndexModeHMAC)
	}
	key, err := hipaa.LoadOrGenerateKey(cfg.IdentifierEncryptionKey, logger)
	if err != nil {
		return nil, err
	}
	indexer, err := hipaa.NewBlindIndexer(cfg.IdentifierIndexMode, key)
	if err != nil {
		return nil, err
	}
	return hipaa.NewVault(key, hipaa.WithBlindIndexer(indexer))
}

func jwtConfig(cfg *config.Config) auth.JWTConfig {
	return auth.JWTConfig{
		Issuer:     cfg.AuthIssuer,
		Audience:   cfg.AuthAudience,
		SigningKey: []byte(cfg.AuthSigningKey),
		Skipper:    auth.AuthSkipper,
	}
}

func extractCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "extract [file]",
		Short: "Extract observations from report text (reads stdin without a file)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()
			if len(args) == 1 {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			text, err := io.ReadAll(in)
			if err != nil {
				return fmt.Errorf("read input: %w", err)
			}

			obs := observation.Extract(report.NormalizeText(string(text)))
			if obs == nil {
				obs = []observation.Observation{}
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(obs)
		},
	}
}
