package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/appointmenthub/hub/libs/db"
	"github.com/appointmenthub/hub/services/booking-service/internal/model"
	"github.com/appointmenthub/hub/services/booking-service/internal/outbox"
	"github.com/appointmenthub/hub/services/booking-service/internal/store"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// AppointmentRepository persists appointments in Postgres. Slot uniqueness is
// enforced by the appointments_live_slot_idx partial unique index. Events
// passed to a mutation are written to the outbox in the same transaction.
type AppointmentRepository struct {
	pool   *db.Pool
	outbox *outbox.Repository
}

func NewAppointmentRepository(pool *db.Pool, events *outbox.Repository) *AppointmentRepository {
	return &AppointmentRepository{pool: pool, outbox: events}
}

const appointmentColumns = `id, provider_id, customer_id, appointment_date, appointment_time, status,
	COALESCE(cancel_reason, ''), created_at`

func (r *AppointmentRepository) FetchAppointments(ctx context.Context, providerID string) ([]model.Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE ($1 = '' OR provider_id = $1)
		ORDER BY appointment_date ASC, appointment_time ASC
	`, providerID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Appointment, error) {
		return scanAppointment(row)
	})
}

func (r *AppointmentRepository) Get(ctx context.Context, appointmentID string) (model.Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, appointmentID)
	appt, err := scanAppointment(row)
	return appt, mapError(err)
}

func (r *AppointmentRepository) Create(ctx context.Context, appt model.Appointment, events ...outbox.Event) (model.Appointment, error) {
	day, err := model.ParseDate(appt.Date)
	if err != nil {
		return model.Appointment{}, fmt.Errorf("invalid appointment date %q: %w", appt.Date, err)
	}
	return r.mutate(ctx, events, func(tx pgx.Tx) pgx.Row {
		return tx.QueryRow(ctx, `
			INSERT INTO appointments (id, provider_id, customer_id, appointment_date, appointment_time, status)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING `+appointmentColumns,
			appt.ID, appt.ProviderID, appt.CustomerID, day, appt.Time, string(appt.Status))
	})
}

func (r *AppointmentRepository) Reschedule(ctx context.Context, appointmentID, date, tm string, events ...outbox.Event) (model.Appointment, error) {
	day, err := model.ParseDate(date)
	if err != nil {
		return model.Appointment{}, fmt.Errorf("invalid appointment date %q: %w", date, err)
	}
	// The unique index turns a concurrent claim of the same slot into 23505.
	return r.mutate(ctx, events, func(tx pgx.Tx) pgx.Row {
		return tx.QueryRow(ctx, `
			UPDATE appointments
			SET appointment_date = $2,
				appointment_time = $3,
				updated_at = now()
			WHERE id = $1 AND status <> 'cancelled'
			RETURNING `+appointmentColumns,
			appointmentID, day, tm)
	})
}

func (r *AppointmentRepository) Cancel(ctx context.Context, appointmentID, reason string, events ...outbox.Event) (model.Appointment, error) {
	return r.mutate(ctx, events, func(tx pgx.Tx) pgx.Row {
		return tx.QueryRow(ctx, `
			UPDATE appointments
			SET status = 'cancelled',
				cancel_reason = $2,
				updated_at = now()
			WHERE id = $1
			RETURNING `+appointmentColumns,
			appointmentID, reason)
	})
}

// mutate runs one RETURNING statement and the outbox inserts in a single
// transaction.
func (r *AppointmentRepository) mutate(ctx context.Context, events []outbox.Event, stmt func(pgx.Tx) pgx.Row) (model.Appointment, error) {
	if len(events) > 0 && r.outbox == nil {
		return model.Appointment{}, errors.New("appointment events given but no outbox configured")
	}
	var appt model.Appointment
	err := r.pool.InTx(ctx, func(tx pgx.Tx) error {
		var err error
		if appt, err = scanAppointment(stmt(tx)); err != nil {
			return err
		}
		if len(events) == 0 {
			return nil
		}
		return r.outbox.Insert(ctx, tx, events...)
	})
	if err != nil {
		return model.Appointment{}, mapError(err)
	}
	return appt, nil
}

func scanAppointment(row pgx.Row) (model.Appointment, error) {
	var appt model.Appointment
	var day time.Time
	var status string
	if err := row.Scan(
		&appt.ID,
		&appt.ProviderID,
		&appt.CustomerID,
		&day,
		&appt.Time,
		&status,
		&appt.CancelReason,
		&appt.CreatedAt,
	); err != nil {
		return model.Appointment{}, err
	}
	appt.Date = day.Format(model.DateLayout)
	appt.Status = model.Status(status)
	return appt, nil
}

func mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case IsConflict(err):
		return store.ErrSlotTaken
	case IsNotFound(err):
		return store.ErrNotFound
	default:
		return err
	}
}

func IsConflict(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == "appointments_live_slot_idx"
}

func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

var _ store.AppointmentStore = (*AppointmentRepository)(nil)
