package bigquery

import (
	"context"
	"crypto/sha256"
	"embed"
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"

	"github.com/dvloznov/splitwise-ledger/internal/logger"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// migrationPattern matches 0001_name.sql.
var migrationPattern = regexp.MustCompile(`^(\d{4})_(.+)\.sql$`)

// Migration is one versioned DDL script.
type Migration struct {
	Version  int
	Name     string
	SQL      string
	Checksum string
}

// AppliedMigration is a row of schema_migrations.
type AppliedMigration struct {
	Version   int
	Name      string
	AppliedAt time.Time
	Checksum  string
}

// ReadMigrations loads the scripts in fsys sorted by version, with
// {{DATASET_ID}} replaced. The checksum is taken before replacement so it
// identifies the script, not the dataset it was applied to.
func ReadMigrations(fsys fs.FS, dataset string) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, "migrations")
	if err != nil {
		return nil, fmt.Errorf("reading migrations directory: %w", err)
	}

	var migrations []Migration
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := migrationPattern.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		version, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		content, err := fs.ReadFile(fsys, "migrations/"+e.Name())
		if err != nil {
			return nil, fmt.Errorf("reading file %s: %w", e.Name(), err)
		}
		migrations = append(migrations, Migration{
			Version:  version,
			Name:     m[2],
			SQL:      strings.ReplaceAll(string(content), "{{DATASET_ID}}", dataset),
			Checksum: fmt.Sprintf("%x", sha256.Sum256(content)),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

// pending returns the migrations not yet applied. A changed checksum on an
// applied version is an error: applied scripts are immutable.
func pending(all []Migration, applied []AppliedMigration) ([]Migration, error) {
	done := make(map[int]AppliedMigration, len(applied))
	for _, a := range applied {
		done[a.Version] = a
	}
	var out []Migration
	for _, m := range all {
		a, ok := done[m.Version]
		if !ok {
			out = append(out, m)
			continue
		}
		if a.Checksum != "" && a.Checksum != m.Checksum {
			return nil, fmt.Errorf("migration %04d_%s changed after it was applied", m.Version, m.Name)
		}
	}
	return out, nil
}

// Migrate applies pending migrations and records each in schema_migrations.
// It returns how many were applied.
func (g *Gateway) Migrate(ctx context.Context, appliedBy string) (int, error) {
	log := logger.FromContext(ctx)

	if err := g.exec(ctx, fmt.Sprintf(`
		CREATE SCHEMA IF NOT EXISTS `+"`%[1]s`"+`;
		CREATE TABLE IF NOT EXISTS `+"`%[1]s.schema_migrations`"+` (
			version INT64 NOT NULL,
			name STRING NOT NULL,
			applied_at TIMESTAMP NOT NULL,
			checksum STRING,
			applied_by STRING
		)
	`, g.dataset)); err != nil {
		return 0, fmt.Errorf("Migrate: ensuring schema_migrations: %w", err)
	}

	all, err := ReadMigrations(migrationFS, g.dataset)
	if err != nil {
		return 0, fmt.Errorf("Migrate: %w", err)
	}
	applied, err := g.appliedMigrations(ctx)
	if err != nil {
		return 0, fmt.Errorf("Migrate: %w", err)
	}
	todo, err := pending(all, applied)
	if err != nil {
		return 0, fmt.Errorf("Migrate: %w", err)
	}

	for _, m := range todo {
		log.Info().Int("version", m.Version).Str("name", m.Name).Msg("Applying migration")
		if err := g.exec(ctx, m.SQL); err != nil {
			return 0, fmt.Errorf("Migrate: executing %04d_%s: %w", m.Version, m.Name, err)
		}
		if err := g.recordMigration(ctx, m, appliedBy); err != nil {
			return 0, fmt.Errorf("Migrate: recording %04d_%s: %w", m.Version, m.Name, err)
		}
	}
	return len(todo), nil
}

func (g *Gateway) exec(ctx context.Context, sql string) error {
	job, err := g.client.Query(sql).Run(ctx)
	if err != nil {
		return fmt.Errorf("running query: %w", err)
	}
	return runJob(ctx, job)
}

func (g *Gateway) appliedMigrations(ctx context.Context) ([]AppliedMigration, error) {
	q := g.client.Query(fmt.Sprintf(`
		SELECT version, name, applied_at, checksum
		FROM %s
		ORDER BY version ASC
	`, g.table("schema_migrations")))
	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading applied migrations: %w", err)
	}

	var applied []AppliedMigration
	for {
		var row struct {
			Version   int64               `bigquery:"version"`
			Name      string              `bigquery:"name"`
			AppliedAt time.Time           `bigquery:"applied_at"`
			Checksum  bigquery.NullString `bigquery:"checksum"`
		}
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iterating results: %w", err)
		}
		applied = append(applied, AppliedMigration{
			Version:   int(row.Version),
			Name:      row.Name,
			AppliedAt: row.AppliedAt,
			Checksum:  row.Checksum.StringVal,
		})
	}
	return applied, nil
}

func (g *Gateway) recordMigration(ctx context.Context, m Migration, appliedBy string) error {
	q := g.client.Query(fmt.Sprintf(`
		INSERT INTO %s (version, name, applied_at, checksum, applied_by)
		VALUES (@version, @name, CURRENT_TIMESTAMP(), @checksum, @applied_by)
	`, g.table("schema_migrations")))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "version", Value: m.Version},
		{Name: "name", Value: m.Name},
		{Name: "checksum", Value: m.Checksum},
		{Name: "applied_by", Value: appliedBy},
	}
	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("running insert: %w", err)
	}
	return runJob(ctx, job)
}
