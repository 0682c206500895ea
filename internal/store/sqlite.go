package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
	_ "modernc.org/sqlite"

	geopt "github.com/campus-mobility/parkwatch/internal/geo"
	"github.com/campus-mobility/parkwatch/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. Locations are kept
// as SRID-4326 EWKB blobs so the persisted shape matches the Postgres
// geography columns. A process-level mutex serializes occupancy writes; WAL
// plus busy_timeout covers writers in other processes.
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	sdb, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := sdb.Exec(pragma); err != nil {
			sdb.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: sdb}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS parking_facility (
	id            TEXT PRIMARY KEY,
	name          TEXT NOT NULL UNIQUE,
	occupancy     TEXT NOT NULL DEFAULT '{}',
	max_occupancy TEXT NOT NULL DEFAULT '{}',
	location_geog BLOB NOT NULL,
	created_at    DATETIME NOT NULL,
	updated_at    DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS parking_occupancy_history (
	id                  TEXT PRIMARY KEY,
	parking_facility_id TEXT NOT NULL REFERENCES parking_facility(id) ON DELETE CASCADE,
	occupancy           TEXT NOT NULL,
	created_at          DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS parking_occupancy_history_facility_idx
ON parking_occupancy_history (parking_facility_id, created_at);

CREATE TABLE IF NOT EXISTS lpr_read (
	id                  TEXT PRIMARY KEY,
	camera_name         TEXT NOT NULL,
	confidence_score    INTEGER,
	context_image       TEXT,
	overview_image      TEXT,
	plate_image         TEXT,
	patroller_id        TEXT,
	patroller_user_id   TEXT,
	patroller_user_name TEXT,
	plate               TEXT NOT NULL,
	state               TEXT CHECK (state IS NULL OR length(state) = 2),
	user_name           TEXT,
	vehicle_id          TEXT,
	location_geog       BLOB NOT NULL,
	attributes          TEXT NOT NULL DEFAULT '{}',
	created_at          DATETIME NOT NULL,
	read_at             DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS lpr_read_camera_name_idx ON lpr_read (camera_name);
CREATE INDEX IF NOT EXISTS lpr_read_plate_idx ON lpr_read (plate);
CREATE INDEX IF NOT EXISTS lpr_read_state_idx ON lpr_read (state);
CREATE INDEX IF NOT EXISTS lpr_read_patroller_user_name_idx ON lpr_read (patroller_user_name);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return eris.Wrap(ErrUnavailable, err.Error())
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// RegisterFacility implements Store.
func (s *SQLiteStore) RegisterFacility(ctx context.Context, f *model.Facility) (*model.Facility, bool, error) {
	occJSON, maxJSON, err := marshalOccupancies(f.Occupancy, f.MaxOccupancy)
	if err != nil {
		return nil, false, eris.Wrap(err, "sqlite: marshal occupancy")
	}
	loc, err := encodeLocation(f.Location)
	if err != nil {
		return nil, false, err
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO parking_facility (id, name, occupancy, max_occupancy, location_geog, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO NOTHING
	`, f.ID.String(), f.Name, string(occJSON), string(maxJSON), loc, now, now)
	if err != nil {
		return nil, false, eris.Wrapf(err, "sqlite: register facility %s", f.Name)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, eris.Wrap(err, "sqlite: register facility: rows affected")
	}
	if n == 0 {
		existing, err := s.getFacilityWhere(ctx, "name = ?", f.Name)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}

	stored := *f
	stored.CreatedAt = now
	stored.UpdatedAt = now
	return &stored, true, nil
}

const sqliteFacilityColumns = `id, name, occupancy, max_occupancy, location_geog, created_at, updated_at`

func (s *SQLiteStore) getFacilityWhere(ctx context.Context, cond string, arg any) (*model.Facility, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteFacilityColumns+` FROM parking_facility WHERE `+cond, arg)
	f, err := scanSQLiteFacility(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "facility %v", arg)
		}
		return nil, eris.Wrapf(err, "sqlite: get facility %v", arg)
	}
	return f, nil
}

// GetFacility implements Store.
func (s *SQLiteStore) GetFacility(ctx context.Context, id uuid.UUID) (*model.Facility, error) {
	return s.getFacilityWhere(ctx, "id = ?", id.String())
}

// ListFacilities implements Store.
func (s *SQLiteStore) ListFacilities(ctx context.Context) ([]model.Facility, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteFacilityColumns+` FROM parking_facility`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list facilities")
	}
	defer rows.Close()

	var facilities []model.Facility
	for rows.Next() {
		f, err := scanSQLiteFacility(rows.Scan)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan facility row")
		}
		facilities = append(facilities, *f)
	}
	return facilities, eris.Wrap(rows.Err(), "sqlite: iterate facility rows")
}

// DeleteFacility implements Store.
func (s *SQLiteStore) DeleteFacility(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM parking_facility WHERE id = ?`, id.String())
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete facility %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: delete facility: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "facility %s", id)
	}
	return nil
}

// AdjustOccupancy implements Store. The mutex makes adjusts linearizable
// within the process; the write transaction keeps the counter update and the
// history append atomic for readers.
func (s *SQLiteStore) AdjustOccupancy(ctx context.Context, id uuid.UUID, category string, delta int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: adjust: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	var occJSON string
	err = tx.QueryRowContext(ctx,
		`SELECT occupancy FROM parking_facility WHERE id = ?`, id.String(),
	).Scan(&occJSON)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, eris.Wrapf(ErrNotFound, "facility %s", id)
		}
		return 0, eris.Wrapf(err, "sqlite: adjust: read facility %s", id)
	}

	var occ model.Occupancy
	if err := json.Unmarshal([]byte(occJSON), &occ); err != nil {
		return 0, eris.Wrapf(err, "sqlite: adjust: decode occupancy for %s", id)
	}

	count, err := occ.Adjust(category, delta)
	if err != nil {
		return 0, err
	}

	newJSON, err := json.Marshal(occ)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: adjust: encode occupancy")
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx,
		`UPDATE parking_facility SET occupancy = ?, updated_at = ? WHERE id = ?`,
		string(newJSON), now, id.String(),
	); err != nil {
		return 0, eris.Wrapf(err, "sqlite: adjust: update facility %s", id)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO parking_occupancy_history (id, parking_facility_id, occupancy, created_at) VALUES (?, ?, ?, ?)`,
		NewRecordID().String(), id.String(), string(newJSON), now,
	); err != nil {
		return 0, eris.Wrapf(err, "sqlite: adjust: append history for %s", id)
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: adjust: commit tx")
	}
	return count, nil
}

// GetOccupancy implements Store.
func (s *SQLiteStore) GetOccupancy(ctx context.Context, id uuid.UUID) (model.Occupancy, error) {
	var occJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT occupancy FROM parking_facility WHERE id = ?`, id.String(),
	).Scan(&occJSON)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "facility %s", id)
		}
		return nil, eris.Wrapf(err, "sqlite: get occupancy %s", id)
	}
	var occ model.Occupancy
	if err := json.Unmarshal([]byte(occJSON), &occ); err != nil {
		return nil, eris.Wrapf(err, "sqlite: decode occupancy for %s", id)
	}
	return occ, nil
}

// ListOccupancyHistory implements Store.
func (s *SQLiteStore) ListOccupancyHistory(ctx context.Context, id uuid.UUID, limit int) ([]model.OccupancyRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, parking_facility_id, occupancy, created_at
		FROM parking_occupancy_history
		WHERE parking_facility_id = ?
		ORDER BY created_at, id
		LIMIT ?
	`, id.String(), limit)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list history for %s", id)
	}
	defer rows.Close()

	var records []model.OccupancyRecord
	for rows.Next() {
		var (
			rec        model.OccupancyRecord
			idStr      string
			facilityID string
			occJSON    string
		)
		if err := rows.Scan(&idStr, &facilityID, &occJSON, &rec.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan history row")
		}
		if rec.ID, err = uuid.Parse(idStr); err != nil {
			return nil, eris.Wrap(err, "sqlite: parse history id")
		}
		if rec.FacilityID, err = uuid.Parse(facilityID); err != nil {
			return nil, eris.Wrap(err, "sqlite: parse history facility id")
		}
		if err := json.Unmarshal([]byte(occJSON), &rec.Occupancy); err != nil {
			return nil, eris.Wrap(err, "sqlite: decode history occupancy")
		}
		records = append(records, rec)
	}
	return records, eris.Wrap(rows.Err(), "sqlite: iterate history rows")
}

// InsertRead implements Store.
func (s *SQLiteStore) InsertRead(ctx context.Context, r *model.LPRRead) error {
	loc, err := encodeLocation(r.Location)
	if err != nil {
		return err
	}
	attrs := string(r.Attributes)
	if attrs == "" {
		attrs = "{}"
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO lpr_read (
			id, camera_name, confidence_score,
			context_image, overview_image, plate_image,
			patroller_id, patroller_user_id, patroller_user_name,
			plate, state, user_name, vehicle_id,
			location_geog, attributes, created_at, read_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.ID.String(), r.CameraName, nullInt(r.ConfidenceScore),
		nullUUID(r.ContextImage), nullUUID(r.OverviewImage), nullUUID(r.PlateImage),
		nullUUID(r.PatrollerID), nullUUID(r.PatrollerUserID), nullStr(r.PatrollerUserName),
		r.Plate, nullStr(r.State), nullStr(r.UserName), nullUUID(r.VehicleID),
		loc, attrs, r.CreatedAt, r.ReadAt,
	)
	return eris.Wrap(err, "sqlite: insert read")
}

// FindReads implements Store.
func (s *SQLiteStore) FindReads(ctx context.Context, filter ReadFilter) ([]model.LPRRead, error) {
	var (
		conds []string
		args  []any
	)
	addCond := func(column, value string) {
		if value == "" {
			return
		}
		conds = append(conds, column+" = ?")
		args = append(args, value)
	}
	addCond("plate", filter.Plate)
	addCond("camera_name", filter.CameraName)
	addCond("state", filter.State)

	query := `
		SELECT id, camera_name, confidence_score,
		       context_image, overview_image, plate_image,
		       patroller_id, patroller_user_id, patroller_user_name,
		       plate, state, user_name, vehicle_id,
		       location_geog, attributes, created_at, read_at
		FROM lpr_read`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " ORDER BY read_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: find reads")
	}
	defer rows.Close()

	var reads []model.LPRRead
	for rows.Next() {
		r, err := scanSQLiteRead(rows.Scan)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan read row")
		}
		reads = append(reads, *r)
	}
	return reads, eris.Wrap(rows.Err(), "sqlite: iterate read rows")
}

func scanSQLiteFacility(scan func(...any) error) (*model.Facility, error) {
	var (
		f       model.Facility
		idStr   string
		occJSON string
		maxJSON string
		loc     []byte
	)
	if err := scan(&idStr, &f.Name, &occJSON, &maxJSON, &loc, &f.CreatedAt, &f.UpdatedAt); err != nil {
		return nil, err
	}
	var err error
	if f.ID, err = uuid.Parse(idStr); err != nil {
		return nil, eris.Wrap(err, "sqlite: parse facility id")
	}
	if f.Location, err = decodeLocation(loc); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(occJSON), &f.Occupancy); err != nil {
		return nil, eris.Wrap(err, "sqlite: decode occupancy")
	}
	if err := json.Unmarshal([]byte(maxJSON), &f.MaxOccupancy); err != nil {
		return nil, eris.Wrap(err, "sqlite: decode max occupancy")
	}
	return &f, nil
}

func scanSQLiteRead(scan func(...any) error) (*model.LPRRead, error) {
	var (
		r          model.LPRRead
		idStr      string
		confidence sql.NullInt64
		context_   sql.NullString
		overview   sql.NullString
		plateImg   sql.NullString
		patroller  sql.NullString
		patrUser   sql.NullString
		patrName   sql.NullString
		state      sql.NullString
		userName   sql.NullString
		vehicle    sql.NullString
		loc        []byte
		attrs      string
	)
	if err := scan(
		&idStr, &r.CameraName, &confidence,
		&context_, &overview, &plateImg,
		&patroller, &patrUser, &patrName,
		&r.Plate, &state, &userName, &vehicle,
		&loc, &attrs, &r.CreatedAt, &r.ReadAt,
	); err != nil {
		return nil, err
	}
	var err error
	if r.ID, err = uuid.Parse(idStr); err != nil {
		return nil, eris.Wrap(err, "sqlite: parse read id")
	}
	if r.Location, err = decodeLocation(loc); err != nil {
		return nil, err
	}
	if confidence.Valid {
		v := int(confidence.Int64)
		r.ConfidenceScore = &v
	}
	if r.ContextImage, err = parseNullUUID(context_); err != nil {
		return nil, err
	}
	if r.OverviewImage, err = parseNullUUID(overview); err != nil {
		return nil, err
	}
	if r.PlateImage, err = parseNullUUID(plateImg); err != nil {
		return nil, err
	}
	if r.PatrollerID, err = parseNullUUID(patroller); err != nil {
		return nil, err
	}
	if r.PatrollerUserID, err = parseNullUUID(patrUser); err != nil {
		return nil, err
	}
	if r.VehicleID, err = parseNullUUID(vehicle); err != nil {
		return nil, err
	}
	if patrName.Valid {
		v := patrName.String
		r.PatrollerUserName = &v
	}
	if state.Valid {
		v := state.String
		r.State = &v
	}
	if userName.Valid {
		v := userName.String
		r.UserName = &v
	}
	r.Attributes = json.RawMessage(attrs)
	return &r, nil
}

// encodeLocation serializes a point as SRID-4326 EWKB, the same wire shape
// PostGIS stores for geography columns.
func encodeLocation(p geopt.Point) ([]byte, error) {
	g := geom.NewPointFlat(geom.XY, []float64{p.Lon, p.Lat}).SetSRID(4326)
	data, err := ewkb.Marshal(g, ewkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: encode location")
	}
	return data, nil
}

func decodeLocation(data []byte) (geopt.Point, error) {
	g, err := ewkb.Unmarshal(data)
	if err != nil {
		return geopt.Point{}, eris.Wrap(err, "sqlite: decode location")
	}
	pt, ok := g.(*geom.Point)
	if !ok {
		return geopt.Point{}, eris.Errorf("sqlite: location is %T, want point", g)
	}
	return geopt.Point{Lat: pt.Y(), Lon: pt.X()}, nil
}

func nullStr(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullInt(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullUUID(p *uuid.UUID) any {
	if p == nil {
		return nil
	}
	return p.String()
}

func parseNullUUID(v sql.NullString) (*uuid.UUID, error) {
	if !v.Valid {
		return nil, nil
	}
	id, err := uuid.Parse(v.String)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: parse uuid column")
	}
	return &id, nil
}
