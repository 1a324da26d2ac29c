package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Name of the partial unique index on active appointments.
const overlapConstraint = "no_overlapping_appointments"

const appointmentColumns = `
	id, doctor_id, patient_id, appointment_date,
	to_char(start_time, 'HH24:MI'), to_char(end_time, 'HH24:MI'),
	status, appointment_category, appointment_type, reason, created_at, updated_at`

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment

	err := row.Scan(
		&a.ID,
		&a.ProviderID,
		&a.RequesterID,
		&a.Date,
		&a.StartTime,
		&a.EndTime,
		&a.Status,
		&a.Category,
		&a.Type,
		&a.Reason,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	return &a, nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// isOverlapViolation recognises the backstop firing: a unique violation on the
// active-slot index, or an exclusion violation if the schema uses one instead.
func isOverlapViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case "23P01":
		return true
	case "23505":
		return pgErr.ConstraintName == "" || pgErr.ConstraintName == overlapConstraint
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}

func statusStrings(statuses []AppointmentStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

// Interface methods

func (r *PgRepository) ListBookedIntervals(ctx context.Context, providerID uuid.UUID, date time.Time) ([]BookedInterval, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT to_char(start_time, 'HH24:MI'), to_char(end_time, 'HH24:MI'), status
		FROM appointments
		WHERE doctor_id = $1
		  AND appointment_date = $2::date
		  AND status = ANY($3)
		ORDER BY start_time
	`, providerID, DateKey(date), statusStrings(ActiveStatuses))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []BookedInterval
	for rows.Next() {
		var b BookedInterval
		if err := rows.Scan(&b.Start, &b.End, &b.Status); err != nil {
			return nil, err
		}
		result = append(result, b)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) CreatePendingAppointment(ctx context.Context, a Appointment, ev *EventLog) (*Appointment, error) {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin create: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `
		INSERT INTO appointments (id, doctor_id, patient_id, appointment_date, start_time, end_time,
			status, appointment_category, appointment_type, reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4::date, $5::time, $6::time, 'pending', $7, $8, $9, now(), now())
		RETURNING `+appointmentColumns,
		a.ID, a.ProviderID, a.RequesterID, DateKey(a.Date), a.StartTime, a.EndTime,
		a.Category, a.Type, a.Reason)

	created, err := scanAppointment(row)
	if err != nil {
		if isOverlapViolation(err) {
			return nil, ErrSlotAlreadyBooked
		}
		if isForeignKeyViolation(err) {
			return nil, ErrUnknownParty
		}
		return nil, err
	}

	if ev != nil {
		ev.AppointmentID = &created.ID
		if err := insertEvent(ctx, tx, *ev); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit create: %w", err)
	}
	return created, nil
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus, ev *EventLog) (*Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin status update: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+appointmentColumns,
		id, to, from)

	updated, err := scanAppointment(row)
	if err != nil {
		return nil, err
	}

	if ev != nil {
		ev.AppointmentID = &updated.ID
		if err := insertEvent(ctx, tx, *ev); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit status update: %w", err)
	}
	return updated, nil
}

func (r *PgRepository) ListUpcomingByRequester(ctx context.Context, requesterID uuid.UUID, from time.Time, limit int) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE patient_id = $1
		  AND appointment_date >= $2::date
		ORDER BY appointment_date ASC, start_time ASC
		LIMIT $3
	`, requesterID, DateKey(from), limit)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) ListByProviderDate(ctx context.Context, providerID uuid.UUID, date time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = $1
		  AND appointment_date = $2::date
		ORDER BY start_time ASC, created_at ASC
	`, providerID, DateKey(date))
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

// execer is satisfied by both the pool and a transaction.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func insertEvent(ctx context.Context, db execer, ev EventLog) error {
	_, err := db.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}
	return nil
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	return insertEvent(ctx, r.pool, ev)
}

func (r *PgRepository) DrainEvents(ctx context.Context, limit int, publish func(ctx context.Context, events []EventLog) error) (int, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin drain: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
		SELECT id, event_type, appointment_id, payload, created_at
		FROM event_logs
		WHERE published_at IS NULL
		ORDER BY id
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return 0, fmt.Errorf("select unpublished events: %w", err)
	}

	var batch []EventLog
	for rows.Next() {
		var ev EventLog
		if err := rows.Scan(&ev.ID, &ev.EventType, &ev.AppointmentID, &ev.Payload, &ev.CreatedAt); err != nil {
			rows.Close()
			return 0, err
		}
		batch = append(batch, ev)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	if len(batch) == 0 {
		return 0, tx.Commit(ctx)
	}

	if err := publish(ctx, batch); err != nil {
		return 0, err
	}

	ids := make([]int64, len(batch))
	for i, ev := range batch {
		ids[i] = ev.ID
	}
	if _, err := tx.Exec(ctx, `
		UPDATE event_logs
		SET published_at = now()
		WHERE id = ANY($1)
	`, ids); err != nil {
		return 0, fmt.Errorf("mark events published: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit drain: %w", err)
	}
	return len(batch), nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
