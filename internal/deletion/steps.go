package deletion

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/samber/lo"

	"campus-inventory-api/internal/inverrors"
	"campus-inventory-api/internal/models"
	"campus-inventory-api/internal/store"
)

// step is one unit of the fixed delete order. Steps without a scope modify
// rows instead of deleting them and take no part in counting. Supporting
// steps remove identifier and history rows, which the summary reports apart
// from the inventory records themselves.
type step struct {
	group      models.TableGroup
	scope      *store.TableScope
	label      string
	supporting bool
	run        func(ctx context.Context, q store.Querier, tenantID int64) (int64, error)
}

func (s step) name() string {
	if s.scope == nil {
		return string(s.group) + ":" + s.label
	}
	return s.scope.Name()
}

// defaultSteps lists every delete in dependency order: assets and their
// history first, then tag identifiers, responsible persons, management tags
// and locations last.
func defaultSteps(ts *store.TenantStore) []step {
	del := func(group models.TableGroup, scope store.TableScope) step {
		return step{
			group:      group,
			scope:      &scope,
			supporting: scope.Table == "asset_history" || scope.Table == "identifiers",
			run: func(ctx context.Context, q store.Querier, tenantID int64) (int64, error) {
				return ts.Delete(ctx, q, tenantID, scope)
			},
		}
	}
	release := func(group models.TableGroup, kind models.AssetKind) step {
		return step{
			group: group,
			label: "release",
			run: func(ctx context.Context, q store.Querier, tenantID int64) (int64, error) {
				return ts.ReleaseIdentifiers(ctx, q, tenantID, kind)
			},
		}
	}
	return []step{
		del(models.GroupDevices, store.TableScope{Table: "asset_history", Column: "asset_kind", Value: string(models.KindDevice)}),
		{group: models.GroupDevices, label: "detach", run: ts.DetachGateways},
		release(models.GroupDevices, models.KindDevice),
		del(models.GroupDevices, store.TableScope{Table: "devices"}),
		del(models.GroupAccessPoints, store.TableScope{Table: "asset_history", Column: "asset_kind", Value: string(models.KindAccessPoint)}),
		release(models.GroupAccessPoints, models.KindAccessPoint),
		del(models.GroupAccessPoints, store.TableScope{Table: "access_points"}),
		del(models.GroupIdentifiers, store.TableScope{Table: "identifiers", Column: "kind", Value: string(models.IdentifierTag)}),
		del(models.GroupResponsiblePersons, store.TableScope{Table: "responsible_persons"}),
		del(models.GroupManagementTags, store.TableScope{Table: "identifiers", Column: "kind", Value: string(models.IdentifierManagement)}),
		del(models.GroupLocations, store.TableScope{Table: "locations"}),
	}
}

// AllGroups lists every table group in delete order.
var AllGroups = []models.TableGroup{
	models.GroupDevices,
	models.GroupAccessPoints,
	models.GroupIdentifiers,
	models.GroupResponsiblePersons,
	models.GroupManagementTags,
	models.GroupLocations,
}

// requires names the groups whose rows reference a group's rows. Purging a
// group without them would leave dangling references.
var requires = map[models.TableGroup][]models.TableGroup{
	models.GroupIdentifiers:        {models.GroupDevices, models.GroupAccessPoints},
	models.GroupResponsiblePersons: {models.GroupDevices, models.GroupAccessPoints},
	models.GroupManagementTags:     {models.GroupDevices, models.GroupAccessPoints},
	models.GroupLocations:          {models.GroupDevices, models.GroupAccessPoints},
}

// ParseGroups reads a comma-separated group list.
func ParseGroups(s string) []models.TableGroup {
	var out []models.TableGroup
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, models.TableGroup(p))
		}
	}
	return out
}

// ValidateSelection deduplicates groups into delete order and rejects unknown
// groups and selections that are not closed under their dependencies.
func ValidateSelection(groups []models.TableGroup) ([]models.TableGroup, error) {
	if len(groups) == 0 {
		return nil, inverrors.Invalid("groups", "at least one table group is required")
	}
	for _, g := range groups {
		if !lo.Contains(AllGroups, g) {
			return nil, inverrors.Invalid("groups", fmt.Sprintf("unknown table group %q", g))
		}
	}
	for _, g := range lo.Uniq(groups) {
		missing := lo.Without(requires[g], groups...)
		if len(missing) > 0 {
			names := lo.Map(missing, func(m models.TableGroup, _ int) string { return string(m) })
			sort.Strings(names)
			return nil, inverrors.Invalid("groups", fmt.Sprintf("%s also requires %s", g, strings.Join(names, ", ")))
		}
	}
	return lo.Filter(AllGroups, func(g models.TableGroup, _ int) bool { return lo.Contains(groups, g) }), nil
}
