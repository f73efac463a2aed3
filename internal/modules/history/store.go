// README: Matching outcome archive backed by PostgreSQL (one row per terminal session plus its attempts).
package history

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ridematch/internal/modules/matching"
	"ridematch/internal/types"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Entry is one archived matching session.
type Entry struct {
	ID              int64              `json:"id"`
	RideID          types.ID           `json:"rideId"`
	PassengerID     types.ID           `json:"passengerId"`
	Status          matching.Status    `json:"status"`
	DriverID        *types.ID          `json:"driverId,omitempty"`
	AttemptsCount   int                `json:"attemptsCount"`
	CandidatesCount int                `json:"candidatesCount"`
	FailureReason   *string            `json:"failureReason,omitempty"`
	StartedAt       time.Time          `json:"startedAt"`
	FinishedAt      time.Time          `json:"finishedAt"`
	Attempts        []matching.Attempt `json:"attempts"`
}

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// Migrate applies the embedded schema. Statements are idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	files, err := migrations.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("history.Migrate: %w", err)
	}
	for _, f := range files {
		body, err := migrations.ReadFile("migrations/" + f.Name())
		if err != nil {
			return fmt.Errorf("history.Migrate %s: %w", f.Name(), err)
		}
		if _, err := s.db.Exec(ctx, string(body)); err != nil {
			return fmt.Errorf("history.Migrate %s: %w", f.Name(), err)
		}
	}
	return nil
}

// Record archives a terminal snapshot and its attempts in one transaction.
func (s *Store) Record(ctx context.Context, v matching.StatusView) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("history.Record begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var driverID *string
	if v.Result != nil {
		d := string(v.Result.DriverID)
		driverID = &d
	}
	var id int64
	err = tx.QueryRow(ctx, `
		INSERT INTO matching_outcomes (
			ride_id, passenger_id, status, driver_id,
			attempts_count, candidates_count, failure_reason,
			started_at, finished_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`,
		string(v.RideID),
		string(v.PassengerID),
		string(v.Status),
		driverID,
		v.AttemptsCount,
		v.CandidatesCount,
		toNullString(v.FailureReason),
		v.StartedAt,
		v.LastUpdateAt,
	).Scan(&id)
	if err != nil {
		return fmt.Errorf("history.Record outcome %s: %w", v.RideID, err)
	}

	if len(v.Attempts) > 0 {
		batch := &pgx.Batch{}
		for i, a := range v.Attempts {
			batch.Queue(`
				INSERT INTO matching_attempts (
					outcome_id, seq, driver_id, distance_km, outcome, offered_at, responded_at
				) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				id, i+1, string(a.DriverID), a.DistanceKm, string(a.Outcome), a.OfferedAt, a.RespondedAt,
			)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("history.Record attempts %s: %w", v.RideID, err)
		}
	}
	return tx.Commit(ctx)
}

// ListByRide returns every archived session of a ride, oldest first.
func (s *Store) ListByRide(ctx context.Context, rideID types.ID) ([]Entry, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, ride_id, passenger_id, status, driver_id,
		       attempts_count, candidates_count, failure_reason,
		       started_at, finished_at
		FROM matching_outcomes
		WHERE ride_id = $1
		ORDER BY finished_at, id`, string(rideID),
	)
	if err != nil {
		return nil, fmt.Errorf("history.ListByRide %s: %w", rideID, err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Entry, error) {
		var e Entry
		var driverID, reason sql.NullString
		err := row.Scan(
			&e.ID, &e.RideID, &e.PassengerID, &e.Status, &driverID,
			&e.AttemptsCount, &e.CandidatesCount, &reason,
			&e.StartedAt, &e.FinishedAt,
		)
		if driverID.Valid {
			d := types.ID(driverID.String)
			e.DriverID = &d
		}
		if reason.Valid {
			e.FailureReason = &reason.String
		}
		e.Attempts = []matching.Attempt{}
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("history.ListByRide %s: %w", rideID, err)
	}
	if len(entries) == 0 {
		return entries, nil
	}

	index := make(map[int64]int, len(entries))
	ids := make([]int64, len(entries))
	for i, e := range entries {
		index[e.ID] = i
		ids[i] = e.ID
	}
	rows, err = s.db.Query(ctx, `
		SELECT outcome_id, driver_id, distance_km, outcome, offered_at, responded_at
		FROM matching_attempts
		WHERE outcome_id = ANY($1)
		ORDER BY outcome_id, seq`, ids,
	)
	if err != nil {
		return nil, fmt.Errorf("history.ListByRide attempts %s: %w", rideID, err)
	}
	defer rows.Close()
	for rows.Next() {
		var outcomeID int64
		var a matching.Attempt
		if err := rows.Scan(&outcomeID, &a.DriverID, &a.DistanceKm, &a.Outcome, &a.OfferedAt, &a.RespondedAt); err != nil {
			return nil, fmt.Errorf("history.ListByRide attempts %s: %w", rideID, err)
		}
		i := index[outcomeID]
		entries[i].Attempts = append(entries[i].Attempts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history.ListByRide attempts %s: %w", rideID, err)
	}
	return entries, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func toNullString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

// NopRecorder is used when no database is configured.
type NopRecorder struct{}

func (NopRecorder) Record(context.Context, matching.StatusView) error { return nil }

func (NopRecorder) ListByRide(context.Context, types.ID) ([]Entry, error) { return []Entry{}, nil }
