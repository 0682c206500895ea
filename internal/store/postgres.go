package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/campus-mobility/parkwatch/internal/db"
	"github.com/campus-mobility/parkwatch/internal/model"
)

// PostgresStore implements Store on a Postgres pool with PostGIS. Locations
// are geography(POINT, 4326); occupancy maps and read attributes are JSONB.
type PostgresStore struct {
	pool db.Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with its own connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(ErrUnavailable, err.Error())
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresStore wraps an existing pool (or a pgxmock pool in tests).
func NewPostgresStore(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE EXTENSION IF NOT EXISTS postgis;

CREATE TABLE IF NOT EXISTS parking_facility (
	id            UUID PRIMARY KEY,
	name          TEXT NOT NULL UNIQUE,
	occupancy     JSONB NOT NULL DEFAULT '{}'::jsonb,
	max_occupancy JSONB NOT NULL DEFAULT '{}'::jsonb,
	location_geog GEOGRAPHY(POINT, 4326) NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS parking_occupancy_history (
	id                  UUID PRIMARY KEY,
	parking_facility_id UUID NOT NULL REFERENCES parking_facility(id) ON DELETE CASCADE,
	occupancy           JSONB NOT NULL,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS parking_occupancy_history_facility_idx
ON parking_occupancy_history (parking_facility_id, created_at);

CREATE TABLE IF NOT EXISTS lpr_read (
	id                  UUID PRIMARY KEY,
	camera_name         TEXT NOT NULL,
	confidence_score    INTEGER,
	context_image       UUID,
	overview_image      UUID,
	plate_image         UUID,
	patroller_id        UUID,
	patroller_user_id   UUID,
	patroller_user_name TEXT,
	plate               TEXT NOT NULL,
	state               TEXT,
	user_name           TEXT,
	vehicle_id          UUID,
	location_geog       GEOGRAPHY(POINT, 4326) NOT NULL,
	attributes          JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	read_at             TIMESTAMPTZ NOT NULL DEFAULT now(),
	CONSTRAINT chk_state_len CHECK (state IS NULL OR char_length(state) = 2)
);

CREATE INDEX IF NOT EXISTS lpr_read_camera_name_idx ON lpr_read (camera_name);
CREATE INDEX IF NOT EXISTS lpr_read_plate_idx ON lpr_read (plate);
CREATE INDEX IF NOT EXISTS lpr_read_state_idx ON lpr_read (state);
CREATE INDEX IF NOT EXISTS lpr_read_patroller_user_name_idx ON lpr_read (patroller_user_name);
CREATE INDEX IF NOT EXISTS lpr_read_attributes_gin ON lpr_read USING gin (attributes);
`

// Migrate applies the idempotent schema. Safe to run on every start.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresMigration); err != nil {
		return eris.Wrap(err, "postgres: migrate")
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return eris.Wrap(ErrUnavailable, err.Error())
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

const facilityColumns = `id, name, occupancy, max_occupancy,
	ST_Y(location_geog::geometry), ST_X(location_geog::geometry),
	created_at, updated_at`

// RegisterFacility implements Store. The insert uses ON CONFLICT (name)
// DO NOTHING; on conflict the existing row is returned unchanged.
func (s *PostgresStore) RegisterFacility(ctx context.Context, f *model.Facility) (*model.Facility, bool, error) {
	occJSON, maxJSON, err := marshalOccupancies(f.Occupancy, f.MaxOccupancy)
	if err != nil {
		return nil, false, eris.Wrap(err, "postgres: marshal occupancy")
	}

	sql := `
		INSERT INTO parking_facility (id, name, occupancy, max_occupancy, location_geog)
		VALUES ($1, $2, $3, $4, ST_SetSRID(ST_MakePoint($5, $6), 4326)::geography)
		ON CONFLICT (name) DO NOTHING
		RETURNING created_at, updated_at
	`
	stored := *f
	err = s.pool.QueryRow(ctx, sql,
		f.ID, f.Name, occJSON, maxJSON, f.Location.Lon, f.Location.Lat,
	).Scan(&stored.CreatedAt, &stored.UpdatedAt)
	if err == nil {
		return &stored, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, eris.Wrapf(err, "postgres: register facility %s", f.Name)
	}

	// Name conflict: the registration contract is idempotent-by-name.
	existing, err := s.getFacilityByName(ctx, f.Name)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (s *PostgresStore) getFacilityByName(ctx context.Context, name string) (*model.Facility, error) {
	sql := `SELECT ` + facilityColumns + ` FROM parking_facility WHERE name = $1`
	f, err := scanFacility(s.pool.QueryRow(ctx, sql, name))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "facility %q", name)
		}
		return nil, eris.Wrapf(err, "postgres: get facility by name %s", name)
	}
	return f, nil
}

// GetFacility implements Store.
func (s *PostgresStore) GetFacility(ctx context.Context, id uuid.UUID) (*model.Facility, error) {
	sql := `SELECT ` + facilityColumns + ` FROM parking_facility WHERE id = $1`
	f, err := scanFacility(s.pool.QueryRow(ctx, sql, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "facility %s", id)
		}
		return nil, eris.Wrapf(err, "postgres: get facility %s", id)
	}
	return f, nil
}

// ListFacilities implements Store. Ordering is not part of the contract.
func (s *PostgresStore) ListFacilities(ctx context.Context) ([]model.Facility, error) {
	sql := `SELECT ` + facilityColumns + ` FROM parking_facility`
	rows, err := s.pool.Query(ctx, sql)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list facilities")
	}
	defer rows.Close()

	var facilities []model.Facility
	for rows.Next() {
		f, err := scanFacility(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan facility row")
		}
		facilities = append(facilities, *f)
	}
	return facilities, eris.Wrap(rows.Err(), "postgres: iterate facility rows")
}

// DeleteFacility implements Store. History rows go with the facility via
// ON DELETE CASCADE.
func (s *PostgresStore) DeleteFacility(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM parking_facility WHERE id = $1`, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete facility %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "facility %s", id)
	}
	return nil
}

// AdjustOccupancy implements Store. The facility row is locked FOR UPDATE for
// the duration of the transaction, which serializes concurrent adjusts on the
// same facility while leaving other facilities unaffected. The history append
// commits atomically with the counter change.
func (s *PostgresStore) AdjustOccupancy(ctx context.Context, id uuid.UUID, category string, delta int) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: adjust: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var occJSON []byte
	err = tx.QueryRow(ctx,
		`SELECT occupancy FROM parking_facility WHERE id = $1 FOR UPDATE`, id,
	).Scan(&occJSON)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, eris.Wrapf(ErrNotFound, "facility %s", id)
		}
		return 0, eris.Wrapf(err, "postgres: adjust: lock facility %s", id)
	}

	var occ model.Occupancy
	if err := json.Unmarshal(occJSON, &occ); err != nil {
		return 0, eris.Wrapf(err, "postgres: adjust: decode occupancy for %s", id)
	}

	count, err := occ.Adjust(category, delta)
	if err != nil {
		return 0, err
	}

	newJSON, err := json.Marshal(occ)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: adjust: encode occupancy")
	}

	if _, err := tx.Exec(ctx,
		`UPDATE parking_facility SET occupancy = $1, updated_at = now() WHERE id = $2`,
		newJSON, id,
	); err != nil {
		return 0, eris.Wrapf(err, "postgres: adjust: update facility %s", id)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO parking_occupancy_history (id, parking_facility_id, occupancy) VALUES ($1, $2, $3)`,
		NewRecordID(), id, newJSON,
	); err != nil {
		return 0, eris.Wrapf(err, "postgres: adjust: append history for %s", id)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "postgres: adjust: commit tx")
	}
	return count, nil
}

// GetOccupancy implements Store.
func (s *PostgresStore) GetOccupancy(ctx context.Context, id uuid.UUID) (model.Occupancy, error) {
	var occJSON []byte
	err := s.pool.QueryRow(ctx,
		`SELECT occupancy FROM parking_facility WHERE id = $1`, id,
	).Scan(&occJSON)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "facility %s", id)
		}
		return nil, eris.Wrapf(err, "postgres: get occupancy %s", id)
	}
	var occ model.Occupancy
	if err := json.Unmarshal(occJSON, &occ); err != nil {
		return nil, eris.Wrapf(err, "postgres: decode occupancy for %s", id)
	}
	return occ, nil
}

// ListOccupancyHistory implements Store. Records come back oldest first so
// replaying them reconstructs the counter sequence.
func (s *PostgresStore) ListOccupancyHistory(ctx context.Context, id uuid.UUID, limit int) ([]model.OccupancyRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, parking_facility_id, occupancy, created_at
		FROM parking_occupancy_history
		WHERE parking_facility_id = $1
		ORDER BY created_at, id
		LIMIT $2
	`, id, limit)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list history for %s", id)
	}
	defer rows.Close()

	var records []model.OccupancyRecord
	for rows.Next() {
		var (
			rec     model.OccupancyRecord
			occJSON []byte
		)
		if err := rows.Scan(&rec.ID, &rec.FacilityID, &occJSON, &rec.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan history row")
		}
		if err := json.Unmarshal(occJSON, &rec.Occupancy); err != nil {
			return nil, eris.Wrap(err, "postgres: decode history occupancy")
		}
		records = append(records, rec)
	}
	return records, eris.Wrap(rows.Err(), "postgres: iterate history rows")
}

// InsertRead implements Store.
func (s *PostgresStore) InsertRead(ctx context.Context, r *model.LPRRead) error {
	attrs := []byte(r.Attributes)
	if len(attrs) == 0 {
		attrs = []byte(`{}`)
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO lpr_read (
			id, camera_name, confidence_score,
			context_image, overview_image, plate_image,
			patroller_id, patroller_user_id, patroller_user_name,
			plate, state, user_name, vehicle_id,
			location_geog, attributes, created_at, read_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
			ST_SetSRID(ST_MakePoint($14, $15), 4326)::geography, $16, $17, $18
		)
	`,
		r.ID, r.CameraName, r.ConfidenceScore,
		r.ContextImage, r.OverviewImage, r.PlateImage,
		r.PatrollerID, r.PatrollerUserID, r.PatrollerUserName,
		r.Plate, r.State, r.UserName, r.VehicleID,
		r.Location.Lon, r.Location.Lat, attrs, r.CreatedAt, r.ReadAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23514" {
			return eris.Wrapf(err, "postgres: insert read: constraint %s", pgErr.ConstraintName)
		}
		return eris.Wrap(err, "postgres: insert read")
	}
	return nil
}

const readColumns = `id, camera_name, confidence_score,
	context_image, overview_image, plate_image,
	patroller_id, patroller_user_id, patroller_user_name,
	plate, state, user_name, vehicle_id,
	ST_Y(location_geog::geometry), ST_X(location_geog::geometry),
	attributes, created_at, read_at`

// FindReads implements Store: exact-match retrieval on the indexed columns.
func (s *PostgresStore) FindReads(ctx context.Context, filter ReadFilter) ([]model.LPRRead, error) {
	var (
		conds []string
		args  []any
	)
	addCond := func(column, value string) {
		if value == "" {
			return
		}
		args = append(args, value)
		conds = append(conds, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	addCond("plate", filter.Plate)
	addCond("camera_name", filter.CameraName)
	addCond("state", filter.State)

	sql := `SELECT ` + readColumns + ` FROM lpr_read`
	if len(conds) > 0 {
		sql += " WHERE " + strings.Join(conds, " AND ")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	sql += fmt.Sprintf(" ORDER BY read_at DESC, id DESC LIMIT $%d", len(args))

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: find reads")
	}
	defer rows.Close()

	var reads []model.LPRRead
	for rows.Next() {
		var r model.LPRRead
		if err := rows.Scan(
			&r.ID, &r.CameraName, &r.ConfidenceScore,
			&r.ContextImage, &r.OverviewImage, &r.PlateImage,
			&r.PatrollerID, &r.PatrollerUserID, &r.PatrollerUserName,
			&r.Plate, &r.State, &r.UserName, &r.VehicleID,
			&r.Location.Lat, &r.Location.Lon,
			&r.Attributes, &r.CreatedAt, &r.ReadAt,
		); err != nil {
			return nil, eris.Wrap(err, "postgres: scan read row")
		}
		reads = append(reads, r)
	}
	return reads, eris.Wrap(rows.Err(), "postgres: iterate read rows")
}

type facilityRow interface {
	Scan(dest ...any) error
}

func scanFacility(row facilityRow) (*model.Facility, error) {
	var (
		f       model.Facility
		occJSON []byte
		maxJSON []byte
	)
	if err := row.Scan(
		&f.ID, &f.Name, &occJSON, &maxJSON,
		&f.Location.Lat, &f.Location.Lon,
		&f.CreatedAt, &f.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(occJSON, &f.Occupancy); err != nil {
		return nil, eris.Wrap(err, "postgres: decode occupancy")
	}
	if err := json.Unmarshal(maxJSON, &f.MaxOccupancy); err != nil {
		return nil, eris.Wrap(err, "postgres: decode max occupancy")
	}
	return &f, nil
}

func marshalOccupancies(occ, maxOcc model.Occupancy) ([]byte, []byte, error) {
	occJSON, err := json.Marshal(occ)
	if err != nil {
		return nil, nil, err
	}
	maxJSON, err := json.Marshal(maxOcc)
	if err != nil {
		return nil, nil, err
	}
	return occJSON, maxJSON, nil
}
