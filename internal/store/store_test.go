package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"campus-inventory-api/internal/inverrors"
	"campus-inventory-api/internal/models"
	"campus-inventory-api/internal/store"
	"campus-inventory-api/internal/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestDialectFor(t *testing.T) {
	for driver, name := range map[string]string{"": "postgres", "pgx": "postgres", "postgres": "postgres", "sqlite": "sqlite"} {
		d, err := store.DialectFor(driver)
		require.NoError(t, err, driver)
		assert.Equal(t, name, d.Name(), driver)
	}
	_, err := store.DialectFor("mysql")
	assert.Error(t, err)
}

func TestPostgresClassify(t *testing.T) {
	d, _ := store.DialectFor("pgx")

	err := d.Classify(&pgconn.PgError{Code: "23505"})
	assert.ErrorIs(t, err, store.ErrUniqueViolation)
	assert.True(t, inverrors.IsTransient(err))

	err = d.Classify(&pq.Error{Code: "40001"})
	assert.ErrorIs(t, err, store.ErrSerialization)

	err = d.Classify(&pgconn.PgError{Code: "40P01"})
	assert.ErrorIs(t, err, store.ErrSerialization)

	other := &pgconn.PgError{Code: "23503"}
	assert.Same(t, error(other), d.Classify(other))
	assert.NoError(t, d.Classify(nil))
}

func TestSQLitePrepareDSN(t *testing.T) {
	d, _ := store.DialectFor("sqlite")
	assert.Equal(t, "file:x.db?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", d.PrepareDSN("file:x.db"))
	assert.Equal(t, "file:x.db?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)",
		d.PrepareDSN("file:x.db?_pragma=foreign_keys(1)"))
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	applied, err := db.Migrate(context.Background())
	require.NoError(t, err)
	assert.Empty(t, applied)
}

func TestIdentifierStore(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewSQLiteDB(t)
	tenant := testutil.SeedTenant(t, db, "North School")
	ids := store.NewIdentifierStore(db.Dialect())

	key := models.IdentifierKey{TenantID: tenant, Kind: models.IdentifierTag, Category: "MO", Sequence: 1}
	highest, err := ids.MaxSequence(ctx, db, key)
	require.NoError(t, err)
	assert.Equal(t, 0, highest)

	created, err := ids.Insert(ctx, db, key, nil)
	require.NoError(t, err)
	assert.NotZero(t, created.ID)

	t.Run("absent year is its own scope", func(t *testing.T) {
		withYear := key
		withYear.Year = "24"
		highest, err := ids.MaxSequence(ctx, db, withYear)
		require.NoError(t, err)
		assert.Equal(t, 0, highest)

		highest, err = ids.MaxSequence(ctx, db, key)
		require.NoError(t, err)
		assert.Equal(t, 1, highest)
	})

	t.Run("kinds are independent", func(t *testing.T) {
		mgmt := key
		mgmt.Kind = models.IdentifierManagement
		_, err := ids.Insert(ctx, db, mgmt, nil)
		require.NoError(t, err)
	})

	t.Run("find returns the stored row", func(t *testing.T) {
		found, err := ids.Find(ctx, db, key)
		require.NoError(t, err)
		assert.Equal(t, created.ID, found.ID)
		assert.Equal(t, "", found.Year)
		assert.Equal(t, "MO-0001", found.Display())

		_, err = ids.Find(ctx, db, models.IdentifierKey{TenantID: tenant, Kind: models.IdentifierTag, Category: "MO", Sequence: 9})
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("duplicate key is a transient unique violation", func(t *testing.T) {
		_, err := ids.Insert(ctx, db, key, nil)
		require.Error(t, err)
		assert.ErrorIs(t, err, store.ErrUniqueViolation)
		assert.True(t, inverrors.IsTransient(err))
	})
}

func TestIdentifierAssignedElsewhere(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewSQLiteDB(t)
	tenant := testutil.SeedTenant(t, db, "North School")
	ids := store.NewIdentifierStore(db.Dialect())
	assets := store.NewAssetStore(db.Dialect())

	key := models.IdentifierKey{TenantID: tenant, Kind: models.IdentifierTag, Category: "DW", Year: "24", Sequence: 5}
	ident, err := ids.Insert(ctx, db, key, nil)
	require.NoError(t, err)

	dev := testutil.SeedAsset(t, db, tenant, models.KindDevice, models.AssetFields{Type: "desktop"})
	require.NoError(t, assets.SetIdentifiers(ctx, db, dev.Ref(), &ident.ID, nil))

	taken, err := ids.AssignedElsewhere(ctx, db, key, nil)
	require.NoError(t, err)
	assert.True(t, taken)

	ref := dev.Ref()
	taken, err = ids.AssignedElsewhere(ctx, db, key, &ref)
	require.NoError(t, err)
	assert.False(t, taken, "the asset itself is excluded")

	mgmt := key
	mgmt.Kind = models.IdentifierManagement
	taken, err = ids.AssignedElsewhere(ctx, db, mgmt, nil)
	require.NoError(t, err)
	assert.False(t, taken, "management tags are a separate domain")

	noYear := key
	noYear.Year = ""
	taken, err = ids.AssignedElsewhere(ctx, db, noYear, nil)
	require.NoError(t, err)
	assert.False(t, taken, "absent year only matches absent year")
}

func TestAssetStoreSnapshot(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewSQLiteDB(t)
	tenant := testutil.SeedTenant(t, db, "North School")
	loc := testutil.SeedLocation(t, db, tenant, "Room 101")
	person := testutil.SeedPerson(t, db, tenant, "A. Lindqvist")
	assets := store.NewAssetStore(db.Dialect())

	ap := testutil.SeedAsset(t, db, tenant, models.KindAccessPoint, models.AssetFields{
		Type:                "access_point",
		SSID:                lo.ToPtr("school-wifi"),
		Hostname:            lo.ToPtr("ignored for access points"),
		LocationID:          &loc,
		ResponsiblePersonID: &person,
	})

	snap, err := assets.Snapshot(ctx, db, tenant, ap.Ref())
	require.NoError(t, err)
	assert.Equal(t, models.KindAccessPoint, snap.Kind)
	assert.Equal(t, "school-wifi", lo.FromPtr(snap.SSID))
	assert.Nil(t, snap.Hostname)
	assert.Equal(t, "Room 101", lo.FromPtr(snap.LocationName))
	assert.Equal(t, "A. Lindqvist", lo.FromPtr(snap.ResponsiblePersonName))
	assert.Nil(t, snap.TagDisplay())

	_, err = assets.Snapshot(ctx, db, tenant+1, ap.Ref())
	assert.ErrorIs(t, err, store.ErrNotFound)

	snap.Note = lo.ToPtr("mounted on ceiling")
	require.NoError(t, assets.Update(ctx, db, &snap.Asset))
	got, err := assets.Get(ctx, db, tenant, ap.Ref())
	require.NoError(t, err)
	assert.Equal(t, "mounted on ceiling", lo.FromPtr(got.Note))

	list, total, err := assets.List(ctx, db, tenant, models.KindAccessPoint, models.Page{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, list, 1)
	assert.Equal(t, ap.ID, list[0].ID)
}

func TestHistoryStore(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewSQLiteDB(t)
	tenant := testutil.SeedTenant(t, db, "North School")
	hist := store.NewHistoryStore(db.Dialect())
	ref := models.AssetRef{Kind: models.KindDevice, ID: 42}

	base := time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC)
	for i, field := range []models.HistoryField{models.FieldModel, models.FieldNote, models.FieldLocation} {
		require.NoError(t, hist.Insert(ctx, db, &models.HistoryEntry{
			TenantID: tenant, AssetKind: ref.Kind, AssetID: ref.ID, Field: field,
			After: lo.ToPtr("v"), ActorID: int64(i + 1), ModifiedAt: base.Add(time.Duration(i) * time.Hour),
		}))
	}

	entries, err := hist.ListForAsset(ctx, db, tenant, ref)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, models.FieldLocation, entries[0].Field, "newest first")
	assert.Equal(t, models.FieldModel, entries[2].Field)
	assert.Nil(t, entries[0].Before)

	page, total, err := hist.ListForTenant(ctx, db, tenant, models.HistoryFilter{Since: base.Add(time.Hour)}, models.Page{Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, page, 1)
	assert.Equal(t, models.FieldLocation, page[0].Field)

	_, total, err = hist.ListForTenant(ctx, db, tenant, models.HistoryFilter{ActorID: 2}, models.Page{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, total)

	n, err := hist.DeleteOlderThan(ctx, db, tenant, base.Add(90*time.Minute))
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}

func TestTenantScopes(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewSQLiteDB(t)
	tenants := store.NewTenantStore(db.Dialect())
	tenant := testutil.SeedTenant(t, db, "North School")
	other := testutil.SeedTenant(t, db, "South School")

	testutil.SeedAsset(t, db, tenant, models.KindDevice, models.AssetFields{Type: "monitor"})
	testutil.SeedAsset(t, db, other, models.KindDevice, models.AssetFields{Type: "monitor"})

	n, err := tenants.Count(ctx, db, tenant, store.TableScope{Table: "devices"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	n, err = tenants.Count(ctx, db, tenant, store.TableScope{Table: "identifiers", Column: "kind", Value: "tag"})
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = tenants.Count(ctx, db, tenant, store.TableScope{Table: "tenants"})
	assert.Error(t, err)
	_, err = tenants.Count(ctx, db, tenant, store.TableScope{Table: "devices", Column: "name; --"})
	assert.Error(t, err)

	deleted, err := tenants.Delete(ctx, db, tenant, store.TableScope{Table: "devices"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, deleted)

	n, err = tenants.Count(ctx, db, other, store.TableScope{Table: "devices"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n, "other tenants are untouched")

	ok, err := tenants.Exists(ctx, db, other)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = tenants.Exists(ctx, db, other+100)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, "identifiers[kind=management]", store.TableScope{Table: "identifiers", Column: "kind", Value: "management"}.Name())
}

func TestInTxRollsBack(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewSQLiteDB(t)
	boom := errors.New("boom")

	err := db.InTx(ctx, nil, func(tx *sqlx.Tx) error {
		_, err := store.NewTenantStore(db.Dialect()).Create(ctx, tx, "Ghost School")
		require.NoError(t, err)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	var n int
	require.NoError(t, db.GetContext(ctx, &n, `SELECT COUNT(*) FROM tenants`))
	assert.Zero(t, n)
}
