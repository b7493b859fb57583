package postgres

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/relaygrid/fleetsched/internal/domain"
)

// SeedDoc is the shape a YAML seed file unmarshals into: a group's profile
// roster, its proxy pool, and its message catalog, mirroring the teacher's
// cmd/server/seed.go "read YAML, upsert idempotently" idiom applied to the
// relational schema instead of a vector store.
type SeedDoc struct {
	GroupID  string           `yaml:"group_id"`
	Profiles []SeedProfile    `yaml:"profiles"`
	Proxies  []string         `yaml:"proxies"`
	Messages []string         `yaml:"messages"`
}

// SeedProfile is one already-validated profile record (§6's ProfileSource).
type SeedProfile struct {
	ProfileID string `yaml:"profile_id"`
	Name      string `yaml:"name"`
}

// Seeder bulk-imports a SeedDoc into the Store. Every insert is idempotent
// (ON CONFLICT DO NOTHING/UPDATE), so re-running the same seed file is safe.
type Seeder struct{ pool PgxPool }

// NewSeeder constructs a Seeder over pool.
func NewSeeder(pool PgxPool) *Seeder { return &Seeder{pool: pool} }

// Apply imports doc's profiles, proxies, and messages for doc.GroupID.
func (s *Seeder) Apply(ctx domain.Context, doc SeedDoc) error {
	if doc.GroupID == "" {
		return fmt.Errorf("op=seed.apply: group_id is required")
	}

	for _, p := range doc.Profiles {
		if p.ProfileID == "" {
			return fmt.Errorf("op=seed.apply: profile missing profile_id")
		}
		if _, err := s.pool.Exec(ctx, `
			INSERT INTO profiles (profile_id, name)
			VALUES ($1, $2)
			ON CONFLICT (profile_id) DO UPDATE SET name = EXCLUDED.name`,
			p.ProfileID, p.Name); err != nil {
			return fmt.Errorf("op=seed.apply.profile: %w", err)
		}
		if _, err := s.pool.Exec(ctx, `
			INSERT INTO group_profiles (group_id, profile_id)
			VALUES ($1, $2)
			ON CONFLICT (group_id, profile_id) DO NOTHING`,
			doc.GroupID, p.ProfileID); err != nil {
			return fmt.Errorf("op=seed.apply.group_profile: %w", err)
		}
	}

	for _, proxyURL := range doc.Proxies {
		if proxyURL == "" {
			continue
		}
		if _, err := s.pool.Exec(ctx, `
			INSERT INTO proxy_assignments (proxy_url)
			VALUES ($1)
			ON CONFLICT (proxy_url) DO NOTHING`, proxyURL); err != nil {
			return fmt.Errorf("op=seed.apply.proxy: %w", err)
		}
	}

	for _, text := range doc.Messages {
		if text == "" {
			continue
		}
		id := uuid.NewString()
		if _, err := s.pool.Exec(ctx, `
			INSERT INTO messages (id, group_id, text)
			VALUES ($1, $2, $3)
			ON CONFLICT (group_id, text) DO NOTHING`, id, doc.GroupID, text); err != nil {
			return fmt.Errorf("op=seed.apply.message: %w", err)
		}
	}

	return nil
}
