package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/Shivanand-hulikatti/volunteer-signup/internal/model"
)

type sqliteTxKey struct{}

// SQLiteStore persists events and registrations in a SQLite database.
// Open the handle with database.OpenSQLite so transactions start IMMEDIATE.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore constructs a SQLiteStore.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// WithEventLock runs fn in a write transaction. SQLite has a single writer,
// so holding the transaction excludes every other writer, this event's included.
func (s *SQLiteStore) WithEventLock(ctx context.Context, eventID string, fn func(ctx context.Context) error) error {
	if sqliteTxFromContext(ctx) != nil {
		if _, err := s.GetEvent(ctx, eventID); err != nil {
			return err
		}
		return fn(ctx)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", translateSQLiteError(err))
	}
	txCtx := context.WithValue(ctx, sqliteTxKey{}, tx)

	if _, err := s.GetEvent(txCtx, eventID); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := fn(txCtx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", translateSQLiteError(err))
	}
	return nil
}

// CreateEvent inserts a new event.
func (s *SQLiteStore) CreateEvent(ctx context.Context, e model.Event) error {
	_, err := s.exec(ctx,
		`INSERT INTO events (`+eventColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Title, e.Description, e.Location, e.Category,
		dateOnly(e.ScheduledDate), e.Capacity, string(e.Status), e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", translateSQLiteError(err))
	}
	return nil
}

// UpdateEvent overwrites the mutable attributes of an event.
func (s *SQLiteStore) UpdateEvent(ctx context.Context, e model.Event) error {
	res, err := s.exec(ctx,
		`UPDATE events
		 SET title = ?, description = ?, location = ?, category = ?,
		     scheduled_date = ?, capacity = ?, status = ?, updated_at = ?
		 WHERE id = ?`,
		e.Title, e.Description, e.Location, e.Category,
		dateOnly(e.ScheduledDate), e.Capacity, string(e.Status), e.UpdatedAt, e.ID,
	)
	if err != nil {
		return fmt.Errorf("update event: %w", translateSQLiteError(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("event %s: %w", e.ID, model.ErrNotFound)
	}
	return nil
}

// GetEvent returns a single event or model.ErrNotFound.
func (s *SQLiteStore) GetEvent(ctx context.Context, id string) (*model.Event, error) {
	e, err := scanEvent(s.queryRow(ctx, `SELECT `+eventColumns+` FROM events WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("event %s: %w", id, model.ErrNotFound)
		}
		return nil, fmt.Errorf("get event: %w", err)
	}
	return &e, nil
}

// ListEvents returns events ordered by date, each with the number of
// registrations in counted. A non-nil upcomingFrom keeps only active events
// scheduled on or after that date.
func (s *SQLiteStore) ListEvents(ctx context.Context, upcomingFrom *time.Time, counted []model.RegistrationStatus) ([]model.Event, error) {
	in, args := inClause(counted)
	query := `SELECT ` + eventColumns + `,
	        (SELECT COUNT(*) FROM registrations r WHERE r.event_id = events.id AND r.status IN (` + in + `)) AS active_count
	 FROM events`
	if upcomingFrom != nil {
		query += ` WHERE status = 'active' AND scheduled_date >= ?`
		args = append(args, dateOnly(*upcomingFrom))
	}
	query += ` ORDER BY scheduled_date ASC, created_at DESC`

	rows, err := s.query(ctx, query, args...)
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
func (s *SQLiteStore) CreateVolunteer(ctx context.Context, v model.Volunteer) error {
	_, err := s.exec(ctx, `INSERT INTO volunteers (id, name, email) VALUES (?, ?, ?)`, v.ID, v.Name, v.Email)
	if err != nil {
		return fmt.Errorf("insert volunteer: %w", translateSQLiteError(err))
	}
	return nil
}

// VolunteerExists reports whether the directory knows volunteerID.
func (s *SQLiteStore) VolunteerExists(ctx context.Context, volunteerID string) (bool, error) {
	var exists bool
	err := s.queryRow(ctx, `SELECT EXISTS (SELECT 1 FROM volunteers WHERE id = ?)`, volunteerID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check volunteer: %w", err)
	}
	return exists, nil
}

// GetRegistration returns a registration by ID or model.ErrNotFound.
func (s *SQLiteStore) GetRegistration(ctx context.Context, id string) (*model.Registration, error) {
	r, err := scanRegistration(s.queryRow(ctx, `SELECT `+registrationColumns+` FROM registrations WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("registration %s: %w", id, model.ErrNotFound)
		}
		return nil, fmt.Errorf("get registration: %w", err)
	}
	return &r, nil
}

// GetActiveRegistration returns the pair's active registration or model.ErrNotFound.
func (s *SQLiteStore) GetActiveRegistration(ctx context.Context, eventID, volunteerID string) (*model.Registration, error) {
	in, statusArgs := inClause(model.ActiveStatuses())
	args := append([]any{eventID, volunteerID}, statusArgs...)
	r, err := scanRegistration(s.queryRow(ctx,
		`SELECT `+registrationColumns+`
		 FROM registrations
		 WHERE event_id = ? AND volunteer_id = ? AND status IN (`+in+`)`,
		args...,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("active registration: %w", model.ErrNotFound)
		}
		return nil, fmt.Errorf("get active registration: %w", err)
	}
	return &r, nil
}

// LatestRegistration returns the most recently updated record for the pair in any status.
func (s *SQLiteStore) LatestRegistration(ctx context.Context, eventID, volunteerID string) (*model.Registration, error) {
	r, err := scanRegistration(s.queryRow(ctx,
		`SELECT `+registrationColumns+`
		 FROM registrations
		 WHERE event_id = ? AND volunteer_id = ?
		 ORDER BY updated_at DESC, registered_at DESC
		 LIMIT 1`,
		eventID, volunteerID,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("registration: %w", model.ErrNotFound)
		}
		return nil, fmt.Errorf("get latest registration: %w", err)
	}
	return &r, nil
}

// CountActive counts the event's registrations whose status is in statuses.
func (s *SQLiteStore) CountActive(ctx context.Context, eventID string, statuses []model.RegistrationStatus) (int, error) {
	in, statusArgs := inClause(statuses)
	var n int
	err := s.queryRow(ctx,
		`SELECT COUNT(*) FROM registrations WHERE event_id = ? AND status IN (`+in+`)`,
		append([]any{eventID}, statusArgs...)...,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count active: %w", err)
	}
	return n, nil
}

// WriteRegistration inserts (expectedVersion == 0) or conditionally updates a registration.
func (s *SQLiteStore) WriteRegistration(ctx context.Context, r model.Registration, expectedVersion int64) error {
	if expectedVersion == 0 {
		_, err := s.exec(ctx,
			`INSERT INTO registrations (`+registrationColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID, r.EventID, r.VolunteerID, string(r.Status), r.Notes, r.RegisteredAt, r.UpdatedAt, r.Version,
		)
		if err != nil {
			return fmt.Errorf("insert registration: %w", translateSQLiteError(err))
		}
		return nil
	}

	res, err := s.exec(ctx,
		`UPDATE registrations
		 SET status = ?, notes = ?, updated_at = ?, version = ?
		 WHERE id = ? AND version = ?`,
		string(r.Status), r.Notes, r.UpdatedAt, r.Version, r.ID, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("update registration: %w", translateSQLiteError(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := s.GetRegistration(ctx, r.ID); err != nil {
			return err
		}
		return fmt.Errorf("registration %s at version %d: %w", r.ID, expectedVersion, model.ErrConflict)
	}
	return nil
}

// DeleteRegistration physically removes a registration.
func (s *SQLiteStore) DeleteRegistration(ctx context.Context, id string) error {
	res, err := s.exec(ctx, `DELETE FROM registrations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete registration: %w", translateSQLiteError(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("registration %s: %w", id, model.ErrNotFound)
	}
	return nil
}

// ListByEvent returns the event's registrations, oldest first.
// A nil statuses filter returns every status.
func (s *SQLiteStore) ListByEvent(ctx context.Context, eventID string, statuses []model.RegistrationStatus) ([]model.Registration, error) {
	query := `SELECT ` + registrationColumns + ` FROM registrations WHERE event_id = ?`
	args := []any{eventID}
	if statuses != nil {
		in, statusArgs := inClause(statuses)
		query += ` AND status IN (` + in + `)`
		args = append(args, statusArgs...)
	}
	return s.listRegistrations(ctx, query+` ORDER BY registered_at ASC, id ASC`, args...)
}

// ListByVolunteer returns the volunteer's registrations, newest first.
func (s *SQLiteStore) ListByVolunteer(ctx context.Context, volunteerID string, statuses []model.RegistrationStatus) ([]model.Registration, error) {
	query := `SELECT ` + registrationColumns + ` FROM registrations WHERE volunteer_id = ?`
	args := []any{volunteerID}
	if statuses != nil {
		in, statusArgs := inClause(statuses)
		query += ` AND status IN (` + in + `)`
		args = append(args, statusArgs...)
	}
	return s.listRegistrations(ctx, query+` ORDER BY registered_at DESC, id ASC`, args...)
}

// CountByStatus returns the number of the event's registrations in each status.
func (s *SQLiteStore) CountByStatus(ctx context.Context, eventID string) (model.StatusCounts, error) {
	rows, err := s.query(ctx, `SELECT status, COUNT(*) FROM registrations WHERE event_id = ? GROUP BY status`, eventID)
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

func (s *SQLiteStore) listRegistrations(ctx context.Context, query string, args ...any) ([]model.Registration, error) {
	rows, err := s.query(ctx, query, args...)
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

func (s *SQLiteStore) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if tx := sqliteTxFromContext(ctx); tx != nil {
		return tx.ExecContext(ctx, query, args...)
	}
	return s.db.ExecContext(ctx, query, args...)
}

func (s *SQLiteStore) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	if tx := sqliteTxFromContext(ctx); tx != nil {
		return tx.QueryContext(ctx, query, args...)
	}
	return s.db.QueryContext(ctx, query, args...)
}

func (s *SQLiteStore) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	if tx := sqliteTxFromContext(ctx); tx != nil {
		return tx.QueryRowContext(ctx, query, args...)
	}
	return s.db.QueryRowContext(ctx, query, args...)
}

func sqliteTxFromContext(ctx context.Context) *sql.Tx {
	tx, _ := ctx.Value(sqliteTxKey{}).(*sql.Tx)
	return tx
}

// inClause renders one placeholder per status. An empty list matches nothing.
func inClause(statuses []model.RegistrationStatus) (string, []any) {
	if len(statuses) == 0 {
		return "NULL", nil
	}
	args := make([]any, len(statuses))
	for i, st := range statuses {
		args[i] = string(st)
	}
	return strings.TrimSuffix(strings.Repeat("?, ", len(statuses)), ", "), args
}

// translateSQLiteError maps constraint and locking errors onto the domain taxonomy.
func translateSQLiteError(err error) error {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return err
	}
	switch {
	case se.ExtendedCode == sqlite3.ErrConstraintUnique && strings.Contains(se.Error(), "volunteer_id"):
		return fmt.Errorf("%w: %s", model.ErrDuplicateRegistration, se.Error())
	case se.ExtendedCode == sqlite3.ErrConstraintUnique, se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey:
		return fmt.Errorf("%w: %s", model.ErrConflict, se.Error())
	case se.ExtendedCode == sqlite3.ErrConstraintForeignKey:
		return fmt.Errorf("%w: %s", model.ErrNotFound, se.Error())
	case se.ExtendedCode == sqlite3.ErrConstraintCheck:
		return fmt.Errorf("%w: %s", model.ErrInvalidInput, se.Error())
	case se.Code == sqlite3.ErrBusy, se.Code == sqlite3.ErrLocked:
		return fmt.Errorf("%w: %s", model.ErrBusy, se.Error())
	}
	return err
}
