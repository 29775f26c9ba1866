package identifier

import (
	"sort"
	"strings"

	"github.com/samber/lo"
)

type categoryKey struct {
	assetType    string
	mgmtCategory string
}

// categories maps an asset type, and for PCs the management-tag category, to
// the tag category. Entries with an empty mgmtCategory are the per-type default.
var categories = map[categoryKey]string{
	{"monitor", ""}:         "MO",
	{"desktop", ""}:         "DT",
	{"laptop", ""}:          "NB",
	{"tablet", ""}:          "TB",
	{"printer", ""}:         "PR",
	{"projector", ""}:       "PJ",
	{"switch", ""}:          "SW",
	{"router", ""}:          "RT",
	{"access_point", ""}:    "AP",
	{"document_camera", ""}: "DC",
	{"other", ""}:           "OT",
	{"pc", ""}:              "PC",
	{"pc", "TC"}:            "TP", // faculty PC
	{"pc", "ST"}:            "SP", // student PC
}

// DeriveCategory returns the tag category for an asset type. mgmtCategory only
// matters for types that have an entry keyed on it. ok is false when the type
// is unknown.
func DeriveCategory(assetType, mgmtCategory string) (string, bool) {
	t := strings.ToLower(strings.TrimSpace(assetType))
	m := strings.ToUpper(strings.TrimSpace(mgmtCategory))
	if m != "" {
		if c, ok := categories[categoryKey{t, m}]; ok {
			return c, true
		}
	}
	c, ok := categories[categoryKey{t, ""}]
	return c, ok
}

// KnownTypes lists the asset types with a category mapping, sorted.
func KnownTypes() []string {
	types := lo.Uniq(lo.Map(lo.Keys(categories), func(k categoryKey, _ int) string { return k.assetType }))
	sort.Strings(types)
	return types
}
