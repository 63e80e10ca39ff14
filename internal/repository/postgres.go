package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Shivanand-hulikatti/volunteer-signup/internal/model"
)

const activePairIndex = "registrations_active_pair"

type pgTxKey struct{}

// PostgresStore persists events and registrations in PostgreSQL via pgx.
type PostgresStore struct {
	db          *pgxpool.Pool
	lockTimeout time.Duration
}

// PostgresOption customizes a PostgresStore.
type PostgresOption func(*PostgresStore)

// WithRowLockTimeout bounds how long WithEventLock waits for another
// process holding the same event row. Expiry surfaces as model.ErrBusy.
func WithRowLockTimeout(d time.Duration) PostgresOption {
	return func(s *PostgresStore) {
		if d > 0 {
			s.lockTimeout = d
		}
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(db *pgxpool.Pool, opts ...PostgresOption) *PostgresStore {
	s := &PostgresStore{db: db}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WithEventLock runs fn inside a transaction holding the event row lock.
//
// SELECT ... FOR UPDATE takes a row-level exclusive lock on the event the
// moment it executes. Any other transaction attempting the same lock blocks
// until this one commits or rolls back, so the capacity check-then-write in fn
// cannot interleave with another process doing the same for this event.
func (s *PostgresStore) WithEventLock(ctx context.Context, eventID string, fn func(ctx context.Context) error) (err error) {
	if tx := pgTxFromContext(ctx); tx != nil {
		if err := s.lockEventRow(ctx, tx, eventID); err != nil {
			return err
		}
		return fn(ctx)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
		}
	}()

	if s.lockTimeout > 0 {
		ms := fmt.Sprintf("%dms", s.lockTimeout.Milliseconds())
		if _, err = tx.Exec(ctx, `SELECT set_config('lock_timeout', $1, true)`, ms); err != nil {
			return fmt.Errorf("set lock timeout: %w", err)
		}
	}
	if err = s.lockEventRow(ctx, tx, eventID); err != nil {
		return err
	}

	txCtx := context.WithValue(ctx, pgTxKey{}, tx)
	if err = fn(txCtx); err != nil {
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", translatePgError(err))
	}
	return nil
}

func (s *PostgresStore) lockEventRow(ctx context.Context, tx pgx.Tx, eventID string) error {
	var id string
	err := tx.QueryRow(ctx, `SELECT id FROM events WHERE id = $1 FOR UPDATE`, eventID).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("event %s: %w", eventID, model.ErrNotFound)
		}
		return fmt.Errorf("lock event row: %w", translatePgError(err))
	}
	return nil
}

// CreateEvent inserts a new event.
func (s *PostgresStore) CreateEvent(ctx context.Context, e model.Event) error {
	_, err := s.exec(ctx,
		`INSERT INTO events (`+eventColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		e.ID, e.Title, e.Description, e.Location, e.Category,
		dateOnly(e.ScheduledDate), e.Capacity, string(e.Status), e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", translatePgError(err))
	}
	return nil
}

// UpdateEvent overwrites the mutable attributes of an event.
func (s *PostgresStore) UpdateEvent(ctx context.Context, e model.Event) error {
	tag, err := s.exec(ctx,
		`UPDATE events
		 SET title = $2, description = $3, location = $4, category = $5,
		     scheduled_date = $6, capacity = $7, status = $8, updated_at = $9
		 WHERE id = $1`,
		e.ID, e.Title, e.Description, e.Location, e.Category,
		dateOnly(e.ScheduledDate), e.Capacity, string(e.Status), e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update event: %w", translatePgError(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("event %s: %w", e.ID, model.ErrNotFound)
	}
	return nil
}

// GetEvent returns a single event or model.ErrNotFound.
func (s *PostgresStore) GetEvent(ctx context.Context, id string) (*model.Event, error) {
	e, err := scanEvent(s.queryRow(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("event %s: %w", id, model.ErrNotFound)
		}
		return nil, fmt.Errorf("get event: %w", err)
	}
	return &e, nil
}

// ListEvents returns events ordered by date, each with the number of
// registrations in counted. A non-nil upcomingFrom keeps only active events
// scheduled on or after that date.
func (s *PostgresStore) ListEvents(ctx context.Context, upcomingFrom *time.Time, counted []model.RegistrationStatus) ([]model.Event, error) {
	var from any
	if upcomingFrom != nil {
		from = dateOnly(*upcomingFrom)
	}
	rows, err := s.query(ctx,
		`SELECT `+eventColumns+`,
		        (SELECT COUNT(*) FROM registrations r WHERE r.event_id = events.id AND r.status = ANY($1)) AS active_count
		 FROM events
		 WHERE $2::date IS NULL OR (status = 'active' AND scheduled_date >= $2::date)
		 ORDER BY scheduled_date ASC, created_at DESC`,
		statusStrings(counted), from,
	)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		var active int
		e, err := scanEvent(rows, &active)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.ActiveCount = active
		events = append(events, e)
	}
	return events, rows.Err()
}

// CreateVolunteer inserts a directory entry; used by seeding and tests.
func (s *PostgresStore) CreateVolunteer(ctx context.Context, v model.Volunteer) error {
	_, err := s.exec(ctx, `INSERT INTO volunteers (id, name, email) VALUES ($1, $2, $3)`, v.ID, v.Name, v.Email)
	if err != nil {
		return fmt.Errorf("insert volunteer: %w", translatePgError(err))
	}
	return nil
}

// VolunteerExists reports whether the directory knows volunteerID.
func (s *PostgresStore) VolunteerExists(ctx context.Context, volunteerID string) (bool, error) {
	var exists bool
	err := s.queryRow(ctx, `SELECT EXISTS (SELECT 1 FROM volunteers WHERE id = $1)`, volunteerID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check volunteer: %w", err)
	}
	return exists, nil
}

// GetRegistration returns a registration by ID or model.ErrNotFound.
func (s *PostgresStore) GetRegistration(ctx context.Context, id string) (*model.Registration, error) {
	r, err := scanRegistration(s.queryRow(ctx, `SELECT `+registrationColumns+` FROM registrations WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("registration %s: %w", id, model.ErrNotFound)
		}
		return nil, fmt.Errorf("get registration: %w", err)
	}
	return &r, nil
}

// GetActiveRegistration returns the pair's active registration or model.ErrNotFound.
func (s *PostgresStore) GetActiveRegistration(ctx context.Context, eventID, volunteerID string) (*model.Registration, error) {
	r, err := scanRegistration(s.queryRow(ctx,
		`SELECT `+registrationColumns+`
		 FROM registrations
		 WHERE event_id = $1 AND volunteer_id = $2 AND status = ANY($3)`,
		eventID, volunteerID, statusStrings(model.ActiveStatuses()),
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("active registration: %w", model.ErrNotFound)
		}
		return nil, fmt.Errorf("get active registration: %w", err)
	}
	return &r, nil
}

// LatestRegistration returns the most recently updated record for the pair in any status.
func (s *PostgresStore) LatestRegistration(ctx context.Context, eventID, volunteerID string) (*model.Registration, error) {
	r, err := scanRegistration(s.queryRow(ctx,
		`SELECT `+registrationColumns+`
		 FROM registrations
		 WHERE event_id = $1 AND volunteer_id = $2
		 ORDER BY updated_at DESC, registered_at DESC
		 LIMIT 1`,
		eventID, volunteerID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("registration: %w", model.ErrNotFound)
		}
		return nil, fmt.Errorf("get latest registration: %w", err)
	}
	return &r, nil
}

// CountActive counts the event's registrations whose status is in statuses.
func (s *PostgresStore) CountActive(ctx context.Context, eventID string, statuses []model.RegistrationStatus) (int, error) {
	var n int
	err := s.queryRow(ctx,
		`SELECT COUNT(*) FROM registrations WHERE event_id = $1 AND status = ANY($2)`,
		eventID, statusStrings(statuses),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count active: %w", err)
	}
	return n, nil
}

// WriteRegistration inserts (expectedVersion == 0) or conditionally updates a registration.
func (s *PostgresStore) WriteRegistration(ctx context.Context, r model.Registration, expectedVersion int64) error {
	if expectedVersion == 0 {
		_, err := s.exec(ctx,
			`INSERT INTO registrations (`+registrationColumns+`)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			r.ID, r.EventID, r.VolunteerID, string(r.Status), r.Notes, r.RegisteredAt, r.UpdatedAt, r.Version,
		)
		if err != nil {
			return fmt.Errorf("insert registration: %w", translatePgError(err))
		}
		return nil
	}

	tag, err := s.exec(ctx,
		`UPDATE registrations
		 SET status = $2, notes = $3, updated_at = $4, version = $5
		 WHERE id = $1 AND version = $6`,
		r.ID, string(r.Status), r.Notes, r.UpdatedAt, r.Version, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("update registration: %w", translatePgError(err))
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetRegistration(ctx, r.ID); err != nil {
			return err
		}
		return fmt.Errorf("registration %s at version %d: %w", r.ID, expectedVersion, model.ErrConflict)
	}
	return nil
}

// DeleteRegistration physically removes a registration.
func (s *PostgresStore) DeleteRegistration(ctx context.Context, id string) error {
	tag, err := s.exec(ctx, `DELETE FROM registrations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete registration: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("registration %s: %w", id, model.ErrNotFound)
	}
	return nil
}

// ListByEvent returns the event's registrations, oldest first.
// A nil statuses filter returns every status.
func (s *PostgresStore) ListByEvent(ctx context.Context, eventID string, statuses []model.RegistrationStatus) ([]model.Registration, error) {
	return s.listRegistrations(ctx,
		`SELECT `+registrationColumns+`
		 FROM registrations
		 WHERE event_id = $1 AND ($2::text[] IS NULL OR status = ANY($2))
		 ORDER BY registered_at ASC, id ASC`,
		eventID, nullableStatuses(statuses),
	)
}

// ListByVolunteer returns the volunteer's registrations, newest first.
func (s *PostgresStore) ListByVolunteer(ctx context.Context, volunteerID string, statuses []model.RegistrationStatus) ([]model.Registration, error) {
	return s.listRegistrations(ctx,
		`SELECT `+registrationColumns+`
		 FROM registrations
		 WHERE volunteer_id = $1 AND ($2::text[] IS NULL OR status = ANY($2))
		 ORDER BY registered_at DESC, id ASC`,
		volunteerID, nullableStatuses(statuses),
	)
}

// CountByStatus returns the number of the event's registrations in each status.
func (s *PostgresStore) CountByStatus(ctx context.Context, eventID string) (model.StatusCounts, error) {
	rows, err := s.query(ctx,
		`SELECT status, COUNT(*) FROM registrations WHERE event_id = $1 GROUP BY status`,
		eventID,
	)
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	defer rows.Close()

	counts := newStatusCounts()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts[model.RegistrationStatus(status)] = n
	}
	return counts, rows.Err()
}

func (s *PostgresStore) listRegistrations(ctx context.Context, sql string, args ...any) ([]model.Registration, error) {
	rows, err := s.query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list registrations: %w", err)
	}
	defer rows.Close()

	var regs []model.Registration
	for rows.Next() {
		r, err := scanRegistration(rows)
		if err != nil {
			return nil, fmt.Errorf("scan registration: %w", err)
		}
		regs = append(regs, r)
	}
	return regs, rows.Err()
}

func (s *PostgresStore) exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if tx := pgTxFromContext(ctx); tx != nil {
		return tx.Exec(ctx, sql, args...)
	}
	return s.db.Exec(ctx, sql, args...)
}

func (s *PostgresStore) query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if tx := pgTxFromContext(ctx); tx != nil {
		return tx.Query(ctx, sql, args...)
	}
	return s.db.Query(ctx, sql, args...)
}

func (s *PostgresStore) queryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if tx := pgTxFromContext(ctx); tx != nil {
		return tx.QueryRow(ctx, sql, args...)
	}
	return s.db.QueryRow(ctx, sql, args...)
}

func pgTxFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(pgTxKey{}).(pgx.Tx)
	return tx
}

func nullableStatuses(statuses []model.RegistrationStatus) []string {
	if statuses == nil {
		return nil
	}
	return statusStrings(statuses)
}

// translatePgError maps constraint and lock errors onto the domain taxonomy.
func translatePgError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "23505": // unique_violation
		if pgErr.ConstraintName == activePairIndex {
			return fmt.Errorf("%w: %s", model.ErrDuplicateRegistration, pgErr.Message)
		}
		return fmt.Errorf("%w: %s", model.ErrConflict, pgErr.Message)
	case "23503": // foreign_key_violation
		return fmt.Errorf("%w: %s", model.ErrNotFound, pgErr.Message)
	case "23514": // check_violation
		return fmt.Errorf("%w: %s", model.ErrInvalidInput, pgErr.Message)
	case "55P03", "40001", "40P01": // lock_not_available, serialization_failure, deadlock_detected
		return fmt.Errorf("%w: %s", model.ErrBusy, pgErr.Message)
	}
	return err
}
