package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/mrmushfiq/image-gateway/internal/shared/config"
	"github.com/mrmushfiq/image-gateway/internal/shared/database"
	"github.com/mrmushfiq/image-gateway/internal/shared/models"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the gateway tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDatabase(func(ctx context.Context, db *database.DB) error {
				if err := db.Migrate(ctx); err != nil {
					return err
				}
				log.Println("✓ Schema is up to date")
				return nil
			})
		},
	}
}

func newSeedCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Upsert projects and API keys from a YAML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			seed, err := loadSeedFile(file)
			if err != nil {
				return err
			}
			projects, keys := seed.toModels()

			return withDatabase(func(ctx context.Context, db *database.DB) error {
				if err := db.Migrate(ctx); err != nil {
					return err
				}
				if err := db.Seed(ctx, projects, keys); err != nil {
					return err
				}
				log.Printf("✓ Seeded %d projects and %d API keys", len(projects), len(keys))
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "projects.yaml", "path to the seed file")
	return cmd
}

func withDatabase(fn func(ctx context.Context, db *database.DB) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	db, err := database.New(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	return fn(context.Background(), db)
}

// seedFile is the YAML layout read by the seed command.
type seedFile struct {
	Projects []seedProject `yaml:"projects"`
	Keys     []seedKey     `yaml:"keys"`
}

type seedProject struct {
	ID                    string   `yaml:"id"`
	Slug                  string   `yaml:"slug"`
	TeamID                string   `yaml:"team_id"`
	TeamSlug              string   `yaml:"team_slug"`
	AllowedSourceDomains  []string `yaml:"allowed_source_domains"`
	AllowedRefererDomains []string `yaml:"allowed_referer_domains"`
	RequireSignedURLs     bool     `yaml:"require_signed_urls"`
}

type seedKey struct {
	ID                 string `yaml:"id"`
	ProjectID          string `yaml:"project_id"`
	Secret             string `yaml:"secret"`
	Name               string `yaml:"name"`
	RateLimitPerMinute int64  `yaml:"rate_limit_per_minute"`
	RateLimitPerDay    int64  `yaml:"rate_limit_per_day"`
	Active             *bool  `yaml:"active"`
}

func loadSeedFile(path string) (*seedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	return parseSeed(data)
}

func parseSeed(data []byte) (*seedFile, error) {
	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}
	for _, p := range seed.Projects {
		if p.ID == "" || p.Slug == "" {
			return nil, fmt.Errorf("every project needs an id and a slug")
		}
	}
	for _, k := range seed.Keys {
		if k.ID == "" || k.ProjectID == "" || k.Secret == "" {
			return nil, fmt.Errorf("key %s: id, project_id and secret are required", models.Prefix(k.ID))
		}
	}
	return &seed, nil
}

// toModels converts the file into store rows. Keys are active unless the file
// says otherwise.
func (s *seedFile) toModels() ([]models.ProjectConfig, []models.APIKey) {
	projects := make([]models.ProjectConfig, 0, len(s.Projects))
	for _, p := range s.Projects {
		projects = append(projects, models.ProjectConfig{
			ID:                    p.ID,
			Slug:                  p.Slug,
			TeamID:                p.TeamID,
			TeamSlug:              p.TeamSlug,
			AllowedSourceDomains:  p.AllowedSourceDomains,
			AllowedRefererDomains: p.AllowedRefererDomains,
			RequireSignedURLs:     p.RequireSignedURLs,
		})
	}

	keys := make([]models.APIKey, 0, len(s.Keys))
	for _, k := range s.Keys {
		active := true
		if k.Active != nil {
			active = *k.Active
		}
		keys = append(keys, models.APIKey{
			ID:                 k.ID,
			ProjectID:          k.ProjectID,
			Secret:             k.Secret,
			Name:               k.Name,
			RateLimitPerMinute: k.RateLimitPerMinute,
			RateLimitPerDay:    k.RateLimitPerDay,
			IsActive:           active,
		})
	}
	return projects, keys
}
