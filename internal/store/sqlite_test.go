package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/campus-mobility/parkwatch/internal/geo"
	"github.com/campus-mobility/parkwatch/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func mustRegister(t *testing.T, st *SQLiteStore, name string) *model.Facility {
	t.Helper()
	f := newFacility(name)
	stored, created, err := st.RegisterFacility(context.Background(), f)
	require.NoError(t, err)
	require.True(t, created)
	return stored
}

func TestSQLiteRegisterFacility_RoundTrip(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	stored := mustRegister(t, st, "PG4")

	got, err := st.GetFacility(ctx, stored.ID)
	require.NoError(t, err)
	assert.Equal(t, "PG4", got.Name)
	assert.InDelta(t, 25.760199, got.Location.Lat, 1e-9)
	assert.InDelta(t, -80.373137, got.Location.Lon, 1e-9)
	assert.Equal(t, model.Occupancy{"student": 0, "employee": 0}, got.Occupancy)
	assert.Equal(t, model.Occupancy{"student": 1440, "employee": 0}, got.MaxOccupancy)
}

func TestSQLiteRegisterFacility_IdempotentByName(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	first := mustRegister(t, st, "PG4")

	// Bump occupancy so we can verify re-registration does not reset it.
	_, err := st.AdjustOccupancy(ctx, first.ID, "student", 3)
	require.NoError(t, err)

	dup := newFacility("PG4")
	dup.Location = geo.Point{Lat: 0, Lon: 0}
	stored, created, err := st.RegisterFacility(ctx, dup)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, stored.ID)
	assert.InDelta(t, 25.760199, stored.Location.Lat, 1e-9, "location must not change")
	assert.Equal(t, 3, stored.Occupancy["student"], "occupancy must not reset")

	all, err := st.ListFacilities(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1, "no second entity")
}

func TestSQLiteGetFacility_NotFound(t *testing.T) {
	st := newTestSQLiteStore(t)

	_, err := st.GetFacility(context.Background(), NewRecordID())
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrNotFound))
}

func TestSQLiteAdjustOccupancy_AppendsHistory(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	f := mustRegister(t, st, "PG4")

	n, err := st.AdjustOccupancy(ctx, f.ID, "student", 2)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = st.AdjustOccupancy(ctx, f.ID, "student", -1)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	records, err := st.ListOccupancyHistory(ctx, f.ID, 0)
	require.NoError(t, err)
	require.Len(t, records, 2, "one history row per committed adjust")
	assert.Equal(t, 2, records[0].Occupancy["student"])
	assert.Equal(t, 1, records[1].Occupancy["student"])

	occ, err := st.GetOccupancy(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, occ, records[len(records)-1].Occupancy,
		"latest snapshot equals current occupancy")
}

func TestSQLiteAdjustOccupancy_RejectsNegativeWithoutHistory(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	f := mustRegister(t, st, "PG4")

	_, err := st.AdjustOccupancy(ctx, f.ID, "student", -1)
	require.Error(t, err)
	assert.True(t, eris.Is(err, model.ErrNegativeOccupancy))

	occ, err := st.GetOccupancy(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, occ["student"], "rejected adjust leaves state unchanged")

	records, err := st.ListOccupancyHistory(ctx, f.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, records, "rejected adjust appends no history")
}

func TestSQLiteAdjustOccupancy_UnknownCategory(t *testing.T) {
	st := newTestSQLiteStore(t)
	f := mustRegister(t, st, "PG4")

	_, err := st.AdjustOccupancy(context.Background(), f.ID, "visitor", 1)
	require.Error(t, err)
	assert.True(t, eris.Is(err, model.ErrInvalidCategory))
}

func TestSQLiteAdjustOccupancy_ConcurrentNoLostUpdates(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	f := mustRegister(t, st, "PG4")

	const n = 25
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			_, err := st.AdjustOccupancy(gctx, f.ID, "student", 1)
			return err
		})
	}
	require.NoError(t, g.Wait())

	occ, err := st.GetOccupancy(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, n, occ["student"], "no lost updates under concurrency")

	records, err := st.ListOccupancyHistory(ctx, f.ID, n+1)
	require.NoError(t, err)
	assert.Len(t, records, n)
}

func TestSQLiteHistory_ReplayReconstructsOccupancy(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	f := mustRegister(t, st, "PG4")

	deltas := []struct {
		category string
		delta    int
	}{
		{"student", 4}, {"employee", 0}, {"student", -2}, {"student", 1}, {"employee", 0},
	}
	for _, d := range deltas {
		_, err := st.AdjustOccupancy(ctx, f.ID, d.category, d.delta)
		require.NoError(t, err)
	}

	records, err := st.ListOccupancyHistory(ctx, f.ID, 0)
	require.NoError(t, err)
	require.Len(t, records, len(deltas))

	// Replay: apply each delta to the zeroed schema and compare against the
	// snapshot committed with it.
	replayed := model.ZeroedOccupancy(f.MaxOccupancy)
	for i, d := range deltas {
		_, err := replayed.Adjust(d.category, d.delta)
		require.NoError(t, err)
		assert.Equal(t, replayed, records[i].Occupancy)
	}

	current, err := st.GetOccupancy(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, replayed, current)
}

func TestSQLiteDeleteFacility_CascadesHistory(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	f := mustRegister(t, st, "PG4")

	_, err := st.AdjustOccupancy(ctx, f.ID, "student", 1)
	require.NoError(t, err)

	require.NoError(t, st.DeleteFacility(ctx, f.ID))

	_, err = st.GetFacility(ctx, f.ID)
	assert.True(t, eris.Is(err, ErrNotFound))

	records, err := st.ListOccupancyHistory(ctx, f.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestSQLiteInsertAndFindReads(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	state := "CA"
	patroller := "j.doe"
	conf := 93
	r := &model.LPRRead{
		ID:                NewRecordID(),
		CameraName:        "cam-entrance-1",
		ConfidenceScore:   &conf,
		PatrollerUserName: &patroller,
		Plate:             "8ABC123",
		State:             &state,
		Location:          geo.Point{Lat: 25.7602, Lon: -80.3730},
		Attributes:        []byte(`{"lane":"2"}`),
	}
	r.CreatedAt = time.Now().UTC()
	r.ReadAt = r.CreatedAt

	require.NoError(t, st.InsertRead(ctx, r))

	// Reachable by each indexed exact-match column.
	for _, filter := range []ReadFilter{
		{Plate: "8ABC123"},
		{CameraName: "cam-entrance-1"},
		{State: "CA"},
		{Plate: "8ABC123", CameraName: "cam-entrance-1", State: "CA"},
	} {
		reads, err := st.FindReads(ctx, filter)
		require.NoError(t, err)
		require.Len(t, reads, 1, "filter %+v", filter)
		got := reads[0]
		assert.Equal(t, r.ID, got.ID)
		assert.Equal(t, "8ABC123", got.Plate)
		require.NotNil(t, got.State)
		assert.Equal(t, "CA", *got.State)
		require.NotNil(t, got.ConfidenceScore)
		assert.Equal(t, 93, *got.ConfidenceScore)
		require.NotNil(t, got.PatrollerUserName)
		assert.Equal(t, "j.doe", *got.PatrollerUserName)
		assert.InDelta(t, 25.7602, got.Location.Lat, 1e-9)
		assert.InDelta(t, -80.3730, got.Location.Lon, 1e-9)
		assert.JSONEq(t, `{"lane":"2"}`, string(got.Attributes))
	}

	// No match is success with zero results, not an error.
	reads, err := st.FindReads(ctx, ReadFilter{Plate: "ZZZ9999"})
	require.NoError(t, err)
	assert.Empty(t, reads)
}

func TestLocationEWKBRoundTrip(t *testing.T) {
	points := []geo.Point{
		{Lat: 25.760199, Lon: -80.373137},
		{Lat: -89.9, Lon: 179.9},
		{Lat: 0, Lon: 0},
	}
	for _, p := range points {
		data, err := encodeLocation(p)
		require.NoError(t, err)
		got, err := decodeLocation(data)
		require.NoError(t, err)
		assert.Equal(t, p, got)
	}
}
