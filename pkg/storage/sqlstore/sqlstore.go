// Package sqlstore keeps meetings in SQL. A postgres:// DSN selects the pgx
// driver; anything else is treated as a SQLite file path.
package sqlstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/meetingmod/moderator/pkg/core"
	"github.com/meetingmod/moderator/pkg/core/meeting"
)

//go:embed migrations/*.sql
var migrations embed.FS

const DefaultPath = "moderator.db"

type Store struct {
	db      *sql.DB
	dialect goose.Dialect
	logger  *slog.Logger
}

// MigrationStatus reports one embedded migration.
type MigrationStatus struct {
	Version   int64
	Path      string
	Applied   bool
	AppliedAt time.Time
}

func IsPostgres(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

// Open connects to dsn and verifies the connection. It does not migrate.
func Open(ctx context.Context, dsn string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		dsn = DefaultPath
	}

	if IsPostgres(dsn) {
		db, err := sql.Open("pgx", dsn)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("ping postgres: %w", err)
		}
		return &Store{db: db, dialect: goose.DialectPostgres, logger: logger}, nil
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dsn, err)
	}
	// Pragmas are per connection.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", dsn, err)
	}
	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000", "PRAGMA foreign_keys=ON"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s on %s: %w", pragma, dsn, err)
		}
	}
	return &Store{db: db, dialect: goose.DialectSQLite3, logger: logger}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) provider() (*goose.Provider, error) {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return nil, err
	}
	return goose.NewProvider(s.dialect, s.db, fsys)
}

// Migrate applies pending migrations and returns how many ran.
func (s *Store) Migrate(ctx context.Context) (int, error) {
	p, err := s.provider()
	if err != nil {
		return 0, fmt.Errorf("migrations: %w", err)
	}
	results, err := p.Up(ctx)
	if err != nil {
		return 0, fmt.Errorf("migrate up: %w", err)
	}
	for _, r := range results {
		s.logger.Info("migration applied", "version", r.Source.Version, "duration", r.Duration)
	}
	return len(results), nil
}

func (s *Store) MigrationStatus(ctx context.Context) ([]MigrationStatus, error) {
	p, err := s.provider()
	if err != nil {
		return nil, fmt.Errorf("migrations: %w", err)
	}
	statuses, err := p.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("migration status: %w", err)
	}
	out := make([]MigrationStatus, 0, len(statuses))
	for _, st := range statuses {
		out = append(out, MigrationStatus{
			Version:   st.Source.Version,
			Path:      st.Source.Path,
			Applied:   st.State == goose.StateApplied,
			AppliedAt: st.AppliedAt,
		})
	}
	return out, nil
}

// rebind rewrites ? placeholders for postgres.
func (s *Store) rebind(query string) string {
	if s.dialect != goose.DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *Store) exec(ctx context.Context, tx *sql.Tx, query string, args ...any) error {
	_, err := tx.ExecContext(ctx, s.rebind(query), args...)
	return err
}

func (s *Store) SavePreparation(ctx context.Context, snap meeting.Snapshot) error {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if err := s.upsertMeeting(ctx, tx, snap.Meeting); err != nil {
			return err
		}
		if err := s.replaceParticipants(ctx, tx, snap.Meeting); err != nil {
			return err
		}
		if err := s.exec(ctx, tx, `DELETE FROM meeting_principles WHERE meeting_id = ?`, snap.ID); err != nil {
			return err
		}
		for i, p := range snap.Principles {
			if err := s.exec(ctx, tx,
				`INSERT INTO meeting_principles (meeting_id, position, id, name, content) VALUES (?, ?, ?, ?, ?)`,
				snap.ID, i, p.ID, p.Name, p.Content,
			); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save preparation %s: %w", snap.ID, err)
	}
	return nil
}

// SaveTranscript upserts the meeting and participant counters and appends
// entries not stored yet.
func (s *Store) SaveTranscript(ctx context.Context, snap meeting.Snapshot) error {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if err := s.upsertMeeting(ctx, tx, snap.Meeting); err != nil {
			return err
		}
		if err := s.replaceParticipants(ctx, tx, snap.Meeting); err != nil {
			return err
		}
		for i, e := range snap.Transcript {
			if err := s.exec(ctx, tx,
				`INSERT INTO transcript_entries (meeting_id, seq, id, recorded_at, speaker, content, duration, confidence)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
				 ON CONFLICT (meeting_id, id) DO NOTHING`,
				snap.ID, i, e.ID, formatTime(e.Timestamp), e.Speaker, e.Text, e.Duration, e.Confidence,
			); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save transcript %s: %w", snap.ID, err)
	}
	return nil
}

func (s *Store) SaveInterventions(ctx context.Context, snap meeting.Snapshot) error {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if err := s.upsertMeeting(ctx, tx, snap.Meeting); err != nil {
			return err
		}
		for i, iv := range snap.Interventions {
			if err := s.exec(ctx, tx,
				`INSERT INTO interventions (meeting_id, seq, id, recorded_at, kind, message, trigger_context, violated_principle, parking_lot_item, suggested_speaker)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
				 ON CONFLICT (meeting_id, id) DO NOTHING`,
				snap.ID, i, iv.ID, formatTime(iv.Timestamp), string(iv.Kind), iv.Message,
				iv.TriggerContext, iv.ViolatedPrinciple, iv.ParkingLotItem, iv.SuggestedSpeaker,
			); err != nil {
				return err
			}
		}
		if err := s.exec(ctx, tx, `DELETE FROM parking_lot WHERE meeting_id = ?`, snap.ID); err != nil {
			return err
		}
		for i, item := range snap.ParkingLot {
			if err := s.exec(ctx, tx,
				`INSERT INTO parking_lot (meeting_id, position, item) VALUES (?, ?, ?)`,
				snap.ID, i, item,
			); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save interventions %s: %w", snap.ID, err)
	}
	return nil
}

func (s *Store) upsertMeeting(ctx context.Context, tx *sql.Tx, m meeting.Meeting) error {
	return s.exec(ctx, tx,
		`INSERT INTO meetings (id, title, agenda, status, created_at, started_at, ended_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   title = excluded.title,
		   agenda = excluded.agenda,
		   status = excluded.status,
		   started_at = excluded.started_at,
		   ended_at = excluded.ended_at`,
		m.ID, m.Title, m.Agenda, string(m.Status), formatTime(m.CreatedAt), nullTime(m.StartedAt), nullTime(m.EndedAt),
	)
}

func (s *Store) replaceParticipants(ctx context.Context, tx *sql.Tx, m meeting.Meeting) error {
	if err := s.exec(ctx, tx, `DELETE FROM participants WHERE meeting_id = ?`, m.ID); err != nil {
		return err
	}
	for i, p := range m.Participants {
		if err := s.exec(ctx, tx,
			`INSERT INTO participants (meeting_id, position, id, name, role, speaking_time, speaking_count)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			m.ID, i, p.ID, p.Name, p.Role, p.SpeakingTime, p.SpeakingCount,
		); err != nil {
			return err
		}
	}
	return nil
}

// Load returns the stored meeting, or a not_found_error.
func (s *Store) Load(ctx context.Context, id string) (meeting.Snapshot, error) {
	var snap meeting.Snapshot
	row := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT id, title, agenda, status, created_at, started_at, ended_at FROM meetings WHERE id = ?`), id)
	m, err := scanMeeting(row)
	if errors.Is(err, sql.ErrNoRows) {
		return snap, core.NewNotFoundError(fmt.Sprintf("meeting %q not found", id))
	}
	if err != nil {
		return snap, fmt.Errorf("load meeting %s: %w", id, err)
	}
	snap.Meeting = m

	if snap.Participants, err = s.participants(ctx, id); err != nil {
		return snap, err
	}
	if snap.Principles, err = s.principles(ctx, id); err != nil {
		return snap, err
	}
	if snap.Transcript, err = s.transcript(ctx, id); err != nil {
		return snap, err
	}
	if snap.Interventions, err = s.interventions(ctx, id); err != nil {
		return snap, err
	}
	if snap.ParkingLot, err = s.parkingLot(ctx, id); err != nil {
		return snap, err
	}
	return snap, nil
}

// List returns stored meetings oldest first, without participants.
func (s *Store) List(ctx context.Context) ([]meeting.Meeting, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, agenda, status, created_at, started_at, ended_at FROM meetings ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list meetings: %w", err)
	}
	defer rows.Close()
	var out []meeting.Meeting
	for rows.Next() {
		m, err := scanMeeting(rows)
		if err != nil {
			return nil, fmt.Errorf("list meetings: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMeeting(row scanner) (meeting.Meeting, error) {
	var (
		m                  meeting.Meeting
		status, createdAt  string
		startedAt, endedAt sql.NullString
	)
	if err := row.Scan(&m.ID, &m.Title, &m.Agenda, &status, &createdAt, &startedAt, &endedAt); err != nil {
		return m, err
	}
	m.Status = meeting.Status(status)
	m.CreatedAt = parseTime(createdAt)
	m.StartedAt = parseNullTime(startedAt)
	m.EndedAt = parseNullTime(endedAt)
	return m, nil
}

func (s *Store) participants(ctx context.Context, id string) ([]meeting.Participant, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT id, name, role, speaking_time, speaking_count FROM participants WHERE meeting_id = ? ORDER BY position`), id)
	if err != nil {
		return nil, fmt.Errorf("load participants %s: %w", id, err)
	}
	defer rows.Close()
	out := []meeting.Participant{}
	for rows.Next() {
		var p meeting.Participant
		if err := rows.Scan(&p.ID, &p.Name, &p.Role, &p.SpeakingTime, &p.SpeakingCount); err != nil {
			return nil, fmt.Errorf("load participants %s: %w", id, err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) principles(ctx context.Context, id string) ([]meeting.Principle, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT id, name, content FROM meeting_principles WHERE meeting_id = ? ORDER BY position`), id)
	if err != nil {
		return nil, fmt.Errorf("load principles %s: %w", id, err)
	}
	defer rows.Close()
	out := []meeting.Principle{}
	for rows.Next() {
		var p meeting.Principle
		if err := rows.Scan(&p.ID, &p.Name, &p.Content); err != nil {
			return nil, fmt.Errorf("load principles %s: %w", id, err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) transcript(ctx context.Context, id string) ([]meeting.TranscriptEntry, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT id, recorded_at, speaker, content, duration, confidence FROM transcript_entries WHERE meeting_id = ? ORDER BY seq`), id)
	if err != nil {
		return nil, fmt.Errorf("load transcript %s: %w", id, err)
	}
	defer rows.Close()
	out := []meeting.TranscriptEntry{}
	for rows.Next() {
		var (
			e  meeting.TranscriptEntry
			ts string
		)
		if err := rows.Scan(&e.ID, &ts, &e.Speaker, &e.Text, &e.Duration, &e.Confidence); err != nil {
			return nil, fmt.Errorf("load transcript %s: %w", id, err)
		}
		e.Timestamp = parseTime(ts)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) interventions(ctx context.Context, id string) ([]meeting.Intervention, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT id, recorded_at, kind, message, trigger_context, violated_principle, parking_lot_item, suggested_speaker
		 FROM interventions WHERE meeting_id = ? ORDER BY seq`), id)
	if err != nil {
		return nil, fmt.Errorf("load interventions %s: %w", id, err)
	}
	defer rows.Close()
	out := []meeting.Intervention{}
	for rows.Next() {
		var (
			iv       meeting.Intervention
			ts, kind string
		)
		if err := rows.Scan(&iv.ID, &ts, &kind, &iv.Message, &iv.TriggerContext, &iv.ViolatedPrinciple, &iv.ParkingLotItem, &iv.SuggestedSpeaker); err != nil {
			return nil, fmt.Errorf("load interventions %s: %w", id, err)
		}
		iv.Timestamp = parseTime(ts)
		iv.Kind = meeting.InterventionKind(kind)
		out = append(out, iv)
	}
	return out, rows.Err()
}

func (s *Store) parkingLot(ctx context.Context, id string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT item FROM parking_lot WHERE meeting_id = ? ORDER BY position`), id)
	if err != nil {
		return nil, fmt.Errorf("load parking lot %s: %w", id, err)
	}
	defer rows.Close()
	out := []string{}
	for rows.Next() {
		var item string
		if err := rows.Scan(&item); err != nil {
			return nil, fmt.Errorf("load parking lot %s: %w", id, err)
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t := parseTime(s.String)
	return &t
}
