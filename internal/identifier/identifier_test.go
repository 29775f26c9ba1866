package identifier

import (
	"context"
	"errors"
	"testing"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"campus-inventory-api/internal/inverrors"
	"campus-inventory-api/internal/metrics"
	"campus-inventory-api/internal/models"
	"campus-inventory-api/internal/store"
	"campus-inventory-api/internal/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newAllocator(t *testing.T) (*Allocator, *store.DB, int64) {
	t.Helper()
	db := testutil.NewSQLiteDB(t)
	log, _ := testutil.Logger(t)
	tenant := testutil.SeedTenant(t, db, "North School")
	return NewAllocator(store.NewIdentifierStore(db.Dialect()), log, metrics.NewMetrics()), db, tenant
}

func TestDeriveCategory(t *testing.T) {
	tests := []struct {
		assetType string
		mgmt      string
		want      string
		ok        bool
	}{
		{"monitor", "", "MO", true},
		{"Monitor ", "", "MO", true},
		{"laptop", "TC", "NB", true},
		{"pc", "", "PC", true},
		{"pc", "tc", "TP", true},
		{"pc", "ST", "SP", true},
		{"pc", "XX", "PC", true},
		{"access_point", "", "AP", true},
		{"fax", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.assetType+"/"+tt.mgmt, func(t *testing.T) {
			got, ok := DeriveCategory(tt.assetType, tt.mgmt)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestKnownTypesIsSortedAndUnique(t *testing.T) {
	types := KnownTypes()
	assert.IsIncreasing(t, types)
	assert.Contains(t, types, "pc")
}

func TestManagementSpecificCategoriesHaveATypeDefault(t *testing.T) {
	for k, c := range categories {
		if k.mgmtCategory == "" {
			continue
		}
		_, ok := categories[categoryKey{assetType: k.assetType}]
		assert.True(t, ok, "%s/%s -> %s has no default for the type", k.assetType, k.mgmtCategory, c)
	}
}

func TestParse(t *testing.T) {
	spec, err := Parse("tag", Request{Category: " dw ", Year: "24", Sequence: "0005"})
	require.NoError(t, err)
	assert.Equal(t, Spec{Category: "DW", Year: "24", Sequence: 5}, spec)
	assert.True(t, spec.Explicit())

	spec, err = Parse("tag", Request{Category: "MO"})
	require.NoError(t, err)
	assert.False(t, spec.Explicit())

	for name, req := range map[string]Request{
		"missing category":     {},
		"bad category":         {Category: "M-O"},
		"three digit year":     {Category: "MO", Year: "2024"},
		"non-numeric sequence": {Category: "MO", Sequence: "12a"},
		"zero sequence":        {Category: "MO", Sequence: "0"},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Parse("management_tag", req)
			require.Error(t, err)
			assert.ErrorIs(t, err, inverrors.ErrValidation)
			var verr *inverrors.ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Contains(t, verr.Field, "management_tag.")
		})
	}
}

func TestNextSequenceIsStableUntilPersisted(t *testing.T) {
	ctx := context.Background()
	alloc, db, tenant := newAllocator(t)

	for _, year := range []string{"", "23", "24"} {
		first, err := alloc.NextSequence(ctx, db, tenant, models.IdentifierTag, "MO", year)
		require.NoError(t, err)
		again, err := alloc.NextSequence(ctx, db, tenant, models.IdentifierTag, "MO", year)
		require.NoError(t, err)
		assert.Equal(t, first, again, "no persistence, no advance")

		_, err = alloc.AllocateExplicit(ctx, db, models.IdentifierKey{
			TenantID: tenant, Kind: models.IdentifierTag, Category: "MO", Year: year, Sequence: first,
		}, nil)
		require.NoError(t, err)

		next, err := alloc.NextSequence(ctx, db, tenant, models.IdentifierTag, "MO", year)
		require.NoError(t, err)
		assert.Equal(t, first+1, next)
	}
}

func TestNextSequenceDoesNotFillGaps(t *testing.T) {
	ctx := context.Background()
	alloc, db, tenant := newAllocator(t)

	_, err := alloc.AllocateExplicit(ctx, db, models.IdentifierKey{
		TenantID: tenant, Kind: models.IdentifierTag, Category: "PR", Sequence: 7,
	}, nil)
	require.NoError(t, err)

	next, err := alloc.NextSequence(ctx, db, tenant, models.IdentifierTag, "PR", "")
	require.NoError(t, err)
	assert.Equal(t, 8, next)

	other, err := alloc.NextSequence(ctx, db, tenant+1, models.IdentifierTag, "PR", "")
	require.NoError(t, err)
	assert.Equal(t, 1, other, "sequences are per tenant")
}

func TestAllocateExplicitIsIdempotent(t *testing.T) {
	ctx := context.Background()
	alloc, db, tenant := newAllocator(t)
	key := models.IdentifierKey{TenantID: tenant, Kind: models.IdentifierManagement, Category: "TC", Sequence: 3}

	first, err := alloc.AllocateExplicit(ctx, db, key, nil)
	require.NoError(t, err)
	second, err := alloc.AllocateExplicit(ctx, db, key, nil)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}

func TestAssignAutoNumbers(t *testing.T) {
	ctx := context.Background()
	alloc, db, tenant := newAllocator(t)

	var got []string
	for i := 0; i < 2; i++ {
		dev := testutil.SeedAsset(t, db, tenant, models.KindDevice, models.AssetFields{Type: "monitor"})
		ident, err := alloc.Assign(ctx, db, tenant, models.IdentifierTag, Spec{Category: "MO"}, dev.Ref())
		require.NoError(t, err)
		got = append(got, ident.Display())
		require.NotNil(t, ident.AssetID)
		assert.Equal(t, dev.ID, *ident.AssetID)
	}
	assert.Equal(t, []string{"MO-0001", "MO-0002"}, got)
}

func TestAssignRejectsDuplicates(t *testing.T) {
	ctx := context.Background()
	alloc, db, tenant := newAllocator(t)
	assets := store.NewAssetStore(db.Dialect())
	spec := Spec{Category: "DW", Year: "24", Sequence: 5}

	holder := testutil.SeedAsset(t, db, tenant, models.KindAccessPoint, models.AssetFields{Type: "access_point"})
	ident, err := alloc.Assign(ctx, db, tenant, models.IdentifierTag, spec, holder.Ref())
	require.NoError(t, err)
	require.NoError(t, assets.SetIdentifiers(ctx, db, holder.Ref(), &ident.ID, nil))

	t.Run("other asset", func(t *testing.T) {
		dev := testutil.SeedAsset(t, db, tenant, models.KindDevice, models.AssetFields{Type: "desktop"})
		_, err := alloc.Assign(ctx, db, tenant, models.IdentifierTag, spec, dev.Ref())
		require.Error(t, err)
		var dup *inverrors.DuplicateIdentifierError
		require.True(t, errors.As(err, &dup))
		assert.Equal(t, "DW-24-0005", dup.Display)
		assert.ErrorIs(t, err, inverrors.ErrDuplicateIdentifier)
	})

	t.Run("same asset keeps its identifier", func(t *testing.T) {
		again, err := alloc.Assign(ctx, db, tenant, models.IdentifierTag, spec, holder.Ref())
		require.NoError(t, err)
		assert.Equal(t, ident.ID, again.ID)
	})

	t.Run("management domain is independent", func(t *testing.T) {
		dev := testutil.SeedAsset(t, db, tenant, models.KindDevice, models.AssetFields{Type: "desktop"})
		_, err := alloc.Assign(ctx, db, tenant, models.IdentifierManagement, spec, dev.Ref())
		require.NoError(t, err)
	})
}

func TestIsDuplicateExcludesOwner(t *testing.T) {
	ctx := context.Background()
	alloc, db, tenant := newAllocator(t)
	assets := store.NewAssetStore(db.Dialect())
	key := models.IdentifierKey{TenantID: tenant, Kind: models.IdentifierManagement, Category: "ST", Sequence: 3}

	holder := testutil.SeedAsset(t, db, tenant, models.KindDevice, models.AssetFields{Type: "pc"})
	ident, err := alloc.AllocateExplicit(ctx, db, key, nil)
	require.NoError(t, err)
	require.NoError(t, assets.SetIdentifiers(ctx, db, holder.Ref(), nil, &ident.ID))

	other := testutil.SeedAsset(t, db, tenant, models.KindDevice, models.AssetFields{Type: "pc"})
	dup, err := alloc.IsDuplicate(ctx, db, key, lo.ToPtr(other.Ref()))
	require.NoError(t, err)
	assert.True(t, dup)

	dup, err = alloc.IsDuplicate(ctx, db, key, lo.ToPtr(holder.Ref()))
	require.NoError(t, err)
	assert.False(t, dup)

	withYear := key
	withYear.Year = "24"
	dup, err = alloc.IsDuplicate(ctx, db, withYear, lo.ToPtr(other.Ref()))
	require.NoError(t, err)
	assert.False(t, dup, "an absent year only matches absent years")

	tagKey := key
	tagKey.Kind = models.IdentifierTag
	dup, err = alloc.IsDuplicate(ctx, db, tagKey, lo.ToPtr(other.Ref()))
	require.NoError(t, err)
	assert.False(t, dup, "kinds are separate domains")

	listed, err := alloc.List(ctx, db, tenant, models.IdentifierManagement)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, "ST-0003", listed[0].Display())
}

func TestAllocateExplicitClaimsOwnership(t *testing.T) {
	ctx := context.Background()
	alloc, db, tenant := newAllocator(t)
	key := models.IdentifierKey{TenantID: tenant, Kind: models.IdentifierTag, Category: "DW", Year: "24", Sequence: 5}

	first := testutil.SeedAsset(t, db, tenant, models.KindDevice, models.AssetFields{Type: "desktop"})
	second := testutil.SeedAsset(t, db, tenant, models.KindAccessPoint, models.AssetFields{Type: "access_point"})

	ident, err := alloc.AllocateExplicit(ctx, db, key, lo.ToPtr(first.Ref()))
	require.NoError(t, err)
	assert.Equal(t, "device", *ident.AssetKind)

	_, err = alloc.AllocateExplicit(ctx, db, key, lo.ToPtr(second.Ref()))
	require.ErrorIs(t, err, store.ErrUniqueViolation)
	assert.ErrorIs(t, err, inverrors.ErrTransientConflict, "the facade retries and then reports the duplicate")

	require.NoError(t, alloc.Release(ctx, db, ident.ID, second.Ref()))
	_, err = alloc.AllocateExplicit(ctx, db, key, lo.ToPtr(second.Ref()))
	assert.ErrorIs(t, err, store.ErrUniqueViolation, "only the holder can release")

	require.NoError(t, alloc.Release(ctx, db, ident.ID, first.Ref()))
	claimed, err := alloc.AllocateExplicit(ctx, db, key, lo.ToPtr(second.Ref()))
	require.NoError(t, err)
	assert.Equal(t, ident.ID, claimed.ID)
	assert.Equal(t, "access_point", *claimed.AssetKind)
	assert.Equal(t, second.ID, *claimed.AssetID)

	peek, err := alloc.AllocateExplicit(ctx, db, key, nil)
	require.NoError(t, err)
	listed, err := alloc.List(ctx, db, tenant, models.IdentifierTag)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, peek.ID, listed[0].ID)
	assert.Equal(t, "access_point", *listed[0].AssetKind, "a lookup without owner claims nothing")
	assert.Equal(t, second.ID, *listed[0].AssetID)
}
