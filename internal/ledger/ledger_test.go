package ledger

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campus-mobility/parkwatch/internal/geo"
	"github.com/campus-mobility/parkwatch/internal/model"
	"github.com/campus-mobility/parkwatch/internal/registry"
	"github.com/campus-mobility/parkwatch/internal/store"
)

func newTestLedger(t *testing.T) (*Service, *model.Facility) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	f, _, err := registry.New(st).Register(context.Background(), "PG4",
		model.Occupancy{"student": 1440, "employee": 230},
		geo.Point{Lat: 25.760199, Lon: -80.373137})
	require.NoError(t, err)

	return New(st), f
}

func TestAdjust_UpdatesCounterAndHistory(t *testing.T) {
	svc, f := newTestLedger(t)
	ctx := context.Background()

	n, err := svc.Adjust(ctx, f.ID, "student", 2)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = svc.Adjust(ctx, f.ID, "employee", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	snap, err := svc.Snapshot(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, model.Occupancy{"student": 2, "employee": 1}, snap)

	records, err := svc.History(ctx, f.ID, 0)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, snap, records[1].Occupancy)
}

func TestAdjust_IndependentPerFacility(t *testing.T) {
	svc, f := newTestLedger(t)
	ctx := context.Background()

	_, err := svc.Adjust(ctx, f.ID, "student", 5)
	require.NoError(t, err)

	other := store.NewRecordID()
	_, err = svc.Adjust(ctx, other, "student", 1)
	assert.True(t, eris.Is(err, store.ErrNotFound))

	snap, err := svc.Snapshot(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, snap["student"])
}

func TestAdjust_RejectsBelowZero(t *testing.T) {
	svc, f := newTestLedger(t)
	ctx := context.Background()

	_, err := svc.Adjust(ctx, f.ID, "student", -1)
	require.Error(t, err)
	assert.True(t, eris.Is(err, model.ErrNegativeOccupancy))

	snap, err := svc.Snapshot(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, snap["student"])
}

func TestAdjust_UnknownCategory(t *testing.T) {
	svc, f := newTestLedger(t)

	_, err := svc.Adjust(context.Background(), f.ID, "visitor", 1)
	assert.True(t, eris.Is(err, model.ErrInvalidCategory))
}
