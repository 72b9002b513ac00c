// Package postgres provides the Postgres-backed solicitation store.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/sbir-solicitations/internal/grants"
)

//go:embed schema.sql
var schemaSQL string

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type dbPool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Ping(context.Context) error
	Close()
}

// Store implements grants.Store and grants.Catalog on Postgres.
type Store struct {
	pool dbPool
}

var (
	_ grants.Store   = (*Store)(nil)
	_ grants.Catalog = (*Store)(nil)
)

// NewStore connects a pgx pool using the provided config.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewStoreWithPool(pool dbPool) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Migrate creates the tables and indexes if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Reset empties all three tables in one statement. Identity sequences keep
// counting so ids from earlier runs are never reused.
func (s *Store) Reset(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `TRUNCATE TABLE subtopics, topics, solicitations CASCADE`); err != nil {
		return fmt.Errorf("truncate tables: %w", err)
	}
	return nil
}

// InsertSolicitation inserts a row and returns its generated id.
func (s *Store) InsertSolicitation(ctx context.Context, sol grants.Solicitation) (int64, error) {
	const query = `
INSERT INTO solicitations (
	solicitation_id,
	solicitation_title,
	solicitation_number,
	program,
	phase,
	agency,
	branch,
	solicitation_year,
	release_date,
	open_date,
	close_date,
	application_due_date,
	solicitation_agency_url,
	current_status
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14
) RETURNING id`

	dueDates := sol.ApplicationDueDates
	if dueDates == nil {
		dueDates = []string{}
	}
	var id int64
	err := s.pool.QueryRow(ctx, query,
		sol.SolicitationID,
		sol.Title,
		sol.Number,
		sol.Program,
		sol.Phase,
		sol.Agency,
		sol.Branch,
		sol.Year,
		sol.ReleaseDate,
		sol.OpenDate,
		sol.CloseDate,
		dueDates,
		sol.AgencyURL,
		sol.CurrentStatus,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert solicitation: %w", err)
	}
	return id, nil
}

// InsertTopic inserts a row and returns its generated id.
func (s *Store) InsertTopic(ctx context.Context, t grants.Topic) (int64, error) {
	const query = `
INSERT INTO topics (
	solicitation_fk,
	topic_title,
	topic_number,
	branch,
	topic_open_date,
	topic_closed_date,
	topic_description,
	sbir_topic_link
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8
) RETURNING id`

	var id int64
	err := s.pool.QueryRow(ctx, query,
		t.SolicitationFK,
		t.Title,
		t.Number,
		t.Branch,
		t.OpenDate,
		t.ClosedDate,
		t.Description,
		t.Link,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert topic: %w", err)
	}
	return id, nil
}

// InsertSubtopic inserts a row and returns its generated id.
func (s *Store) InsertSubtopic(ctx context.Context, st grants.Subtopic) (int64, error) {
	const query = `
INSERT INTO subtopics (
	topic_fk,
	subtopic_title,
	branch,
	subtopic_number,
	subtopic_description,
	sbir_subtopic_link
) VALUES (
	$1,$2,$3,$4,$5,$6
) RETURNING id`

	var id int64
	err := s.pool.QueryRow(ctx, query,
		st.TopicFK,
		st.Title,
		st.Branch,
		st.Number,
		st.Description,
		st.Link,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert subtopic: %w", err)
	}
	return id, nil
}

const solicitationColumns = `s.id, s.solicitation_id, s.solicitation_title, s.solicitation_number,
	s.program, s.phase, s.agency, s.branch, s.solicitation_year, s.release_date,
	s.open_date, s.close_date, s.application_due_date, s.solicitation_agency_url, s.current_status`

const topicColumns = `t.id, t.solicitation_fk, t.topic_title, t.topic_number, t.branch,
	t.topic_open_date, t.topic_closed_date, t.topic_description, t.sbir_topic_link`

// ListSolicitations returns one page ordered by id.
func (s *Store) ListSolicitations(ctx context.Context, page grants.Page) ([]grants.Solicitation, error) {
	return s.SearchSolicitations(ctx, grants.SolicitationFilter{Page: page})
}

// GetSolicitation returns grants.ErrNotFound when id does not exist.
func (s *Store) GetSolicitation(ctx context.Context, id int64) (grants.Solicitation, error) {
	query := `SELECT ` + solicitationColumns + ` FROM solicitations s WHERE s.id = $1`
	sol, err := scanSolicitation(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return grants.Solicitation{}, fmt.Errorf("solicitation %d: %w", id, grants.ErrNotFound)
	}
	if err != nil {
		return grants.Solicitation{}, fmt.Errorf("get solicitation %d: %w", id, err)
	}
	return sol, nil
}

// SearchSolicitations applies the non-zero filter fields. Keywords match the
// title case-insensitively; agency matches exactly.
func (s *Store) SearchSolicitations(ctx context.Context, f grants.SolicitationFilter) ([]grants.Solicitation, error) {
	var w where
	if f.ID > 0 {
		w.add("s.id = $%d", f.ID)
	}
	if f.Keywords != "" {
		w.add("s.solicitation_title ILIKE $%d", likePattern(f.Keywords))
	}
	if f.Agency != "" {
		w.add("s.agency = $%d", f.Agency)
	}
	query := `SELECT ` + solicitationColumns + ` FROM solicitations s` + w.sql() + w.paginate(f.Page, "s.id")

	rows, err := s.pool.Query(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("query solicitations: %w", err)
	}
	defer rows.Close()

	out := []grants.Solicitation{}
	for rows.Next() {
		sol, err := scanSolicitation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan solicitation: %w", err)
		}
		out = append(out, sol)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate solicitations: %w", err)
	}
	return out, nil
}

// SearchTopics applies the non-zero filter fields. Agency is matched against
// the parent solicitation.
func (s *Store) SearchTopics(ctx context.Context, f grants.TopicFilter) ([]grants.Topic, error) {
	var w where
	if f.ID > 0 {
		w.add("t.id = $%d", f.ID)
	}
	if f.SolicitationFK > 0 {
		w.add("t.solicitation_fk = $%d", f.SolicitationFK)
	}
	if f.Keywords != "" {
		w.add("t.topic_title ILIKE $%d", likePattern(f.Keywords))
	}
	if f.Agency != "" {
		w.add("s.agency = $%d", f.Agency)
	}
	query := `SELECT ` + topicColumns + ` FROM topics t JOIN solicitations s ON s.id = t.solicitation_fk` +
		w.sql() + w.paginate(f.Page, "t.id")

	rows, err := s.pool.Query(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("query topics: %w", err)
	}
	defer rows.Close()

	out := []grants.Topic{}
	for rows.Next() {
		var (
			t      grants.Topic
			fields [7]pgtype.Text
		)
		if err := rows.Scan(&t.ID, &t.SolicitationFK,
			&fields[0], &fields[1], &fields[2], &fields[3], &fields[4], &fields[5], &fields[6]); err != nil {
			return nil, fmt.Errorf("scan topic: %w", err)
		}
		t.Title = textPtr(fields[0])
		t.Number = textPtr(fields[1])
		t.Branch = textPtr(fields[2])
		t.OpenDate = textPtr(fields[3])
		t.ClosedDate = textPtr(fields[4])
		t.Description = textPtr(fields[5])
		t.Link = textPtr(fields[6])
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate topics: %w", err)
	}
	return out, nil
}

func scanSolicitation(row pgx.Row) (grants.Solicitation, error) {
	var (
		sol      grants.Solicitation
		fields   [11]pgtype.Text
		trailing [2]pgtype.Text
		dueDates []string
	)
	err := row.Scan(&sol.ID,
		&fields[0], &fields[1], &fields[2], &fields[3], &fields[4], &fields[5],
		&fields[6], &fields[7], &fields[8], &fields[9], &fields[10],
		&dueDates, &trailing[0], &trailing[1],
	)
	if err != nil {
		return grants.Solicitation{}, err
	}
	sol.SolicitationID = textPtr(fields[0])
	sol.Title = textPtr(fields[1])
	sol.Number = textPtr(fields[2])
	sol.Program = textPtr(fields[3])
	sol.Phase = textPtr(fields[4])
	sol.Agency = textPtr(fields[5])
	sol.Branch = textPtr(fields[6])
	sol.Year = textPtr(fields[7])
	sol.ReleaseDate = textPtr(fields[8])
	sol.OpenDate = textPtr(fields[9])
	sol.CloseDate = textPtr(fields[10])
	sol.ApplicationDueDates = dueDates
	sol.AgencyURL = textPtr(trailing[0])
	sol.CurrentStatus = textPtr(trailing[1])
	return sol, nil
}

func textPtr(t pgtype.Text) *string {
	if !t.Valid {
		return nil
	}
	s := t.String
	return &s
}

type where struct {
	clauses []string
	args    []any
}

// add appends a predicate; clause carries one %d for its placeholder number.
func (w *where) add(clause string, arg any) {
	w.args = append(w.args, arg)
	w.clauses = append(w.clauses, fmt.Sprintf(clause, len(w.args)))
}

func (w *where) sql() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

func (w *where) paginate(page grants.Page, orderBy string) string {
	page = page.Normalize()
	w.args = append(w.args, page.Limit, page.Offset)
	n := len(w.args)
	return fmt.Sprintf(" ORDER BY %s LIMIT $%d OFFSET $%d", orderBy, n-1, n)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func likePattern(keywords string) string {
	return "%" + likeEscaper.Replace(keywords) + "%"
}
