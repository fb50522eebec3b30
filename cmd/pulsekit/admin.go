package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/snowdamiz/pulsekit/internal/alerting"
	"github.com/snowdamiz/pulsekit/internal/config"
	"github.com/snowdamiz/pulsekit/internal/retention"
	"github.com/snowdamiz/pulsekit/internal/store"
	"github.com/snowdamiz/pulsekit/pkg/models"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
)

const (
	keyPrefix    = "pk_"
	keyPrefixLen = 8
)

var allScopes = []string{models.ScopeIngest, models.ScopeRead, models.ScopeManage}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			if err := store.RunMigrations(cfg.Database.URL, cfg.Database.MigrationsDir); err != nil {
				return err
			}
			logger.Info("database migrations applied")
			return nil
		},
	}
}

func newCleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Run one retention sweep and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			return withStore(cmd.Context(), cfg, func(s *store.PostgresStore) error {
				sweeper := retention.NewSweeper(s, retention.Config{
					Interval:    cfg.Retention.Interval,
					DefaultDays: cfg.Retention.DefaultDays,
				}, logger)
				deleted, err := sweeper.RunOnce(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %d events\n", deleted)
				return nil
			})
		},
	}
}

func newProjectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Manage projects and their API keys",
	}

	var orgID, orgName, name, scopes string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a project and print its first API key",
		RunE: func(cmd *cobra.Command, _ []string) error {
			keyScopes, err := parseScopes(scopes)
			if err != nil {
				return err
			}
			if strings.TrimSpace(name) == "" {
				return fmt.Errorf("--name is required")
			}
			cfg, _, err := setup()
			if err != nil {
				return err
			}

			return withStore(cmd.Context(), cfg, func(s *store.PostgresStore) error {
				ctx := cmd.Context()
				now := time.Now().UTC()

				var org uuid.UUID
				if orgID != "" {
					if org, err = uuid.Parse(orgID); err != nil {
						return fmt.Errorf("--org must be a UUID: %w", err)
					}
				} else {
					o := &models.Organization{ID: uuid.New(), Name: orgName, CreatedAt: now}
					if o.Name == "" {
						o.Name = name
					}
					if err := s.CreateOrganization(ctx, o); err != nil {
						return err
					}
					org = o.ID
				}

				project := &models.Project{ID: uuid.New(), OrganizationID: org, Name: name, CreatedAt: now}
				if err := s.CreateProject(ctx, project); err != nil {
					return err
				}

				raw, key, err := newAPIKey(project.ID, "default", keyScopes, now)
				if err != nil {
					return err
				}
				if err := s.CreateAPIKey(ctx, key); err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "organization: %s\n", org)
				fmt.Fprintf(out, "project:      %s\n", project.ID)
				fmt.Fprintf(out, "api key:      %s\n", raw)
				fmt.Fprintln(out, "Store the key now; it cannot be shown again.")
				return nil
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "project name")
	create.Flags().StringVar(&orgID, "org", "", "existing organization ID")
	create.Flags().StringVar(&orgName, "org-name", "", "name for a new organization when --org is not set")
	create.Flags().StringVar(&scopes, "scopes", strings.Join(allScopes, ","), "comma-separated key scopes")

	cmd.AddCommand(create)
	return cmd
}

func newRulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage alert rules",
	}

	var projectID string
	importCmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Create alert rules from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, err := uuid.Parse(projectID)
			if err != nil {
				return fmt.Errorf("--project must be a UUID: %w", err)
			}
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			rules, err := alerting.ParseRules(f, pid)
			if err != nil {
				return err
			}
			cfg, _, err := setup()
			if err != nil {
				return err
			}

			return withStore(cmd.Context(), cfg, func(s *store.PostgresStore) error {
				if _, err := s.GetProject(cmd.Context(), pid); err != nil {
					return fmt.Errorf("project %s: %w", pid, err)
				}
				for _, rule := range rules {
					if err := s.CreateAlertRule(cmd.Context(), rule); err != nil {
						return fmt.Errorf("create rule %q: %w", rule.Name, err)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "created %s %q\n", rule.ID, rule.Name)
				}
				return nil
			})
		},
	}
	importCmd.Flags().StringVar(&projectID, "project", "", "project ID the rules belong to")
	_ = importCmd.MarkFlagRequired("project")

	cmd.AddCommand(importCmd)
	return cmd
}

func withStore(ctx context.Context, cfg *config.Config, fn func(*store.PostgresStore) error) error {
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	return fn(store.NewPostgresStore(pool))
}

func parseScopes(raw string) ([]string, error) {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		s = strings.TrimSpace(strings.ToLower(s))
		if s == "" {
			continue
		}
		if !slices.Contains(allScopes, s) {
			return nil, fmt.Errorf("unknown scope %q: must be one of %s", s, strings.Join(allScopes, ", "))
		}
		if !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("at least one scope is required")
	}
	return out, nil
}

// newAPIKey generates a raw key and the record that stores its bcrypt hash.
func newAPIKey(projectID uuid.UUID, name string, scopes []string, now time.Time) (string, *models.APIKey, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", nil, fmt.Errorf("generate key: %w", err)
	}
	raw := keyPrefix + hex.EncodeToString(buf)

	hash, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
	if err != nil {
		return "", nil, fmt.Errorf("hash key: %w", err)
	}
	return raw, &models.APIKey{
		ID:        uuid.New(),
		ProjectID: projectID,
		Name:      name,
		KeyHash:   string(hash),
		KeyPrefix: raw[:keyPrefixLen],
		Scopes:    scopes,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}
