package deletion

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/cenkalti/backoff/v4"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"campus-inventory-api/internal/inverrors"
	"campus-inventory-api/internal/models"
	"campus-inventory-api/internal/service"
	"campus-inventory-api/internal/store"
	"campus-inventory-api/internal/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type spyDialect struct {
	store.Dialect
	suspended int
	restored  int
}

func (s *spyDialect) SuspendConstraints() string {
	s.suspended++
	return s.Dialect.SuspendConstraints()
}

func (s *spyDialect) RestoreConstraints() string {
	s.restored++
	return s.Dialect.RestoreConstraints()
}

type fixture struct {
	db     *store.DB
	orch   *Orchestrator
	spy    *spyDialect
	tenant int64
	other  int64
}

// newFixture seeds a tenant with 10 devices, 3 access points and 2 locations,
// one of which uses a device as its gateway, plus a second tenant.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewSQLiteDB(t)
	log, _ := testutil.Logger(t)
	f := &fixture{
		db:     db,
		tenant: testutil.SeedTenant(t, db, "North School"),
		other:  testutil.SeedTenant(t, db, "South School"),
	}

	f.orch = NewOrchestrator(db, log, nil, Options{})
	f.orch.newBackOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	f.spy = &spyDialect{Dialect: db.Dialect()}
	f.orch.dialect = f.spy

	rooms := []int64{
		testutil.SeedLocation(t, db, f.tenant, "Room 101"),
		testutil.SeedLocation(t, db, f.tenant, "Server Room"),
	}
	var firstDevice int64
	for i := 0; i < 10; i++ {
		d := testutil.SeedAsset(t, db, f.tenant, models.KindDevice, models.AssetFields{
			Type: "desktop", LocationID: &rooms[i%2], Hostname: lo.ToPtr(fmt.Sprintf("lab-%02d", i)),
		})
		if i == 0 {
			firstDevice = d.ID
		}
	}
	require.NoError(t, store.NewAssetStore(db.Dialect()).SetLocationGateway(context.Background(), db, rooms[1], &firstDevice))
	for i := 0; i < 3; i++ {
		testutil.SeedAsset(t, db, f.tenant, models.KindAccessPoint, models.AssetFields{Type: "access_point", LocationID: &rooms[0]})
	}

	otherRoom := testutil.SeedLocation(t, db, f.other, "Gym")
	testutil.SeedAsset(t, db, f.other, models.KindDevice, models.AssetFields{Type: "projector", LocationID: &otherRoom})
	return f
}

func (f *fixture) total(t *testing.T, tenantID int64) int64 {
	t.Helper()
	counts, err := f.orch.Counts(context.Background(), tenantID)
	require.NoError(t, err)
	var n int64
	for _, c := range counts {
		n += c.Before
	}
	return n
}

// replaceStep swaps the run function of the step with the given name.
func (f *fixture) replaceStep(t *testing.T, name string, run func(ctx context.Context, q store.Querier, tenantID int64) (int64, error)) {
	t.Helper()
	for i := range f.orch.steps {
		if f.orch.steps[i].name() == name {
			f.orch.steps[i].run = run
			return
		}
	}
	t.Fatalf("no step named %s", name)
}

func TestDeleteTenant(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	summary, err := f.orch.DeleteTenant(ctx, f.tenant)
	require.NoError(t, err)
	assert.EqualValues(t, 15, summary.Total)
	assert.Equal(t, 1, summary.Attempts)
	assert.False(t, summary.Selective)

	byTable := lo.SliceToMap(summary.Tables, func(tc models.TableCount) (string, models.TableCount) { return tc.Table, tc })
	assert.Equal(t, models.TableCount{Table: "devices", Before: 10, Deleted: 10}, byTable["devices"])
	assert.Equal(t, models.TableCount{Table: "access_points", Before: 3, Deleted: 3}, byTable["access_points"])
	assert.Equal(t, models.TableCount{Table: "locations", Before: 2, Deleted: 2}, byTable["locations"])

	assert.Zero(t, f.total(t, f.tenant))
	assert.EqualValues(t, 2, f.total(t, f.other), "other tenant untouched")
	assert.Equal(t, 1, f.spy.suspended)
	assert.Equal(t, 1, f.spy.restored)
}

func TestDeleteTenantNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.orch.DeleteTenant(context.Background(), f.other+100)
	assert.ErrorIs(t, err, inverrors.ErrTenantNotFound)

	_, err = f.orch.Counts(context.Background(), f.other+100)
	assert.ErrorIs(t, err, inverrors.ErrTenantNotFound)
}

func TestDeleteTenantRollsBackOnStepFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	before := f.total(t, f.tenant)

	stepFailed := errors.New("disk full")
	f.replaceStep(t, "responsible_persons", func(context.Context, store.Querier, int64) (int64, error) {
		return 0, stepFailed
	})

	_, err := f.orch.DeleteTenant(ctx, f.tenant)
	require.ErrorIs(t, err, stepFailed)
	assert.Equal(t, before, f.total(t, f.tenant), "devices and access points deleted earlier are restored")
	assert.Equal(t, 1, f.spy.suspended)
	assert.Equal(t, 1, f.spy.restored, "constraints restored on failure")
}

func TestDeleteTenantRestoresConstraintsOnPanic(t *testing.T) {
	f := newFixture(t)
	before := f.total(t, f.tenant)
	f.replaceStep(t, "locations", func(context.Context, store.Querier, int64) (int64, error) {
		panic("driver exploded")
	})

	assert.Panics(t, func() { _, _ = f.orch.DeleteTenant(context.Background(), f.tenant) })
	assert.Equal(t, 1, f.spy.restored)
	assert.Equal(t, before, f.total(t, f.tenant))
}

func TestDeleteTenantIncomplete(t *testing.T) {
	f := newFixture(t)
	f.replaceStep(t, "locations", func(context.Context, store.Querier, int64) (int64, error) {
		return 0, nil
	})

	_, err := f.orch.DeleteTenant(context.Background(), f.tenant)
	require.ErrorIs(t, err, inverrors.ErrIncompleteDeletion)
	var incomplete *inverrors.IncompleteDeletionError
	require.True(t, errors.As(err, &incomplete))
	assert.Equal(t, map[string]int64{"locations": 2}, incomplete.Remaining)
	assert.EqualValues(t, 15, f.total(t, f.tenant), "nothing committed")
}

func TestDeleteTenantRetriesTransientConflicts(t *testing.T) {
	f := newFixture(t)
	ts := store.NewTenantStore(f.db.Dialect())
	calls := 0
	f.replaceStep(t, "devices", func(ctx context.Context, q store.Querier, tenantID int64) (int64, error) {
		calls++
		if calls == 1 {
			return 0, fmt.Errorf("delete devices: %w", store.ErrSerialization)
		}
		return ts.Delete(ctx, q, tenantID, store.TableScope{Table: "devices"})
	})

	summary, err := f.orch.DeleteTenant(context.Background(), f.tenant)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Attempts)
	assert.EqualValues(t, 15, summary.Total)
	assert.Equal(t, 2, f.spy.restored)
}

func TestDeleteTenantGivesUpAfterRetries(t *testing.T) {
	f := newFixture(t)
	calls := 0
	f.replaceStep(t, "devices", func(context.Context, store.Querier, int64) (int64, error) {
		calls++
		return 0, store.ErrSerialization
	})

	_, err := f.orch.DeleteTenant(context.Background(), f.tenant)
	require.ErrorIs(t, err, inverrors.ErrOperationFailed)
	assert.ErrorIs(t, err, inverrors.ErrTransientConflict)
	assert.Equal(t, 4, calls, "first attempt plus three retries")
	assert.EqualValues(t, 15, f.total(t, f.tenant))
}

func TestDeleteTenantSelective(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	summary, err := f.orch.DeleteTenantSelective(ctx, f.tenant, []models.TableGroup{models.GroupDevices})
	require.NoError(t, err)
	assert.True(t, summary.Selective)
	assert.Equal(t, []models.TableGroup{models.GroupDevices}, summary.Groups)
	assert.EqualValues(t, 10, summary.Total)

	counts, err := f.orch.Counts(ctx, f.tenant)
	require.NoError(t, err)
	byTable := lo.SliceToMap(counts, func(tc models.TableCount) (string, int64) { return tc.Table, tc.Before })
	assert.Zero(t, byTable["devices"])
	assert.EqualValues(t, 3, byTable["access_points"])
	assert.EqualValues(t, 2, byTable["locations"])

	summary, err = f.orch.DeleteTenantSelective(ctx, f.tenant, []models.TableGroup{
		models.GroupLocations, models.GroupAccessPoints, models.GroupDevices, models.GroupDevices,
	})
	require.NoError(t, err)
	assert.Equal(t, []models.TableGroup{models.GroupDevices, models.GroupAccessPoints, models.GroupLocations}, summary.Groups)
	assert.EqualValues(t, 5, summary.Total)
	assert.Zero(t, f.total(t, f.tenant))
}

func TestValidateSelection(t *testing.T) {
	for name, groups := range map[string][]models.TableGroup{
		"empty":                 nil,
		"unknown":               {"printers"},
		"locations alone":       {models.GroupLocations},
		"identifiers w/o aps":   {models.GroupIdentifiers, models.GroupDevices},
		"management tags alone": {models.GroupManagementTags},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ValidateSelection(groups)
			assert.ErrorIs(t, err, inverrors.ErrValidation)
		})
	}

	got, err := ValidateSelection(ParseGroups(" access_points, devices ,"))
	require.NoError(t, err)
	assert.Equal(t, []models.TableGroup{models.GroupDevices, models.GroupAccessPoints}, got)
}

// seedThroughService builds the same inventory as newFixture, but every asset
// gets an auto-numbered tag the way the API creates them.
func seedThroughService(t *testing.T, f *fixture) {
	t.Helper()
	ctx := context.Background()
	log, _ := testutil.Logger(t)
	svc := service.New(f.db, log, nil)

	rooms := []int64{
		testutil.SeedLocation(t, f.db, f.tenant, "Room 101"),
		testutil.SeedLocation(t, f.db, f.tenant, "Server Room"),
	}
	for i := 0; i < 10; i++ {
		d, err := svc.CreateAsset(ctx, service.CreateInput{
			TenantID: f.tenant, Kind: models.KindDevice,
			Fields: models.AssetFields{Type: "desktop", LocationID: &rooms[i%2]},
		})
		require.NoError(t, err)
		if i == 0 {
			require.NoError(t, store.NewAssetStore(f.db.Dialect()).SetLocationGateway(ctx, f.db, rooms[1], &d.ID))
		}
	}
	for i := 0; i < 3; i++ {
		_, err := svc.CreateAsset(ctx, service.CreateInput{
			TenantID: f.tenant, Kind: models.KindAccessPoint,
			Fields: models.AssetFields{Type: "access_point", LocationID: &rooms[0]},
		})
		require.NoError(t, err)
	}
}

func TestDeleteTenantCountsInventoryApartFromIdentifiers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	empty := testutil.SeedTenant(t, f.db, "West School")
	f.tenant = empty
	seedThroughService(t, f)

	summary, err := f.orch.DeleteTenant(ctx, empty)
	require.NoError(t, err)
	assert.EqualValues(t, 15, summary.Total, "ten devices, three access points and two locations")
	assert.EqualValues(t, 13, summary.Supporting, "one tag per asset")
	assert.Zero(t, f.total(t, empty))
}

func TestDeleteTenantSelectiveReleasesIdentifiers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	empty := testutil.SeedTenant(t, f.db, "West School")
	f.tenant = empty
	seedThroughService(t, f)

	summary, err := f.orch.DeleteTenantSelective(ctx, empty, []models.TableGroup{models.GroupDevices})
	require.NoError(t, err)
	assert.EqualValues(t, 10, summary.Total)
	assert.Zero(t, summary.Supporting, "tags outlive the devices")

	ids, err := store.NewIdentifierStore(f.db.Dialect()).ListForTenant(ctx, f.db, empty, models.IdentifierTag)
	require.NoError(t, err)
	require.Len(t, ids, 13)
	held := lo.CountBy(ids, func(id models.Identifier) bool { return id.AssetID != nil })
	assert.Equal(t, 3, held, "only the access point tags are still held")
}
