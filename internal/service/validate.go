package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"

	"campus-inventory-api/internal/identifier"
	"campus-inventory-api/internal/inverrors"
	"campus-inventory-api/internal/models"
)

func validateFields(kind models.AssetKind, f models.AssetFields) error {
	if !lo.Contains(models.AssetKinds, kind) {
		return inverrors.Invalid("kind", fmt.Sprintf("unknown asset kind %q", kind))
	}
	if strings.TrimSpace(f.Type) == "" {
		return inverrors.Invalid("type", "type is required")
	}
	if d := lo.FromPtr(f.PurchasedOn); d != "" {
		if _, err := time.Parse(time.DateOnly, d); err != nil {
			return inverrors.Invalid("purchased_on", "must be YYYY-MM-DD")
		}
	}
	return nil
}

func prepareCreate(in CreateInput) (identifier.Spec, *identifier.Spec, error) {
	if err := validateFields(in.Kind, in.Fields); err != nil {
		return identifier.Spec{}, nil, err
	}
	mgmt, err := parseOptional("management_tag", in.ManagementTag)
	if err != nil {
		return identifier.Spec{}, nil, err
	}
	tagReq := identifier.Request{}
	if in.Tag != nil {
		tagReq = *in.Tag
	}
	tag, err := parseTag(tagReq, in.Fields.Type, mgmt)
	if err != nil {
		return identifier.Spec{}, nil, err
	}
	return tag, mgmt, nil
}

func parseOptional(field string, r *identifier.Request) (*identifier.Spec, error) {
	if r == nil {
		return nil, nil
	}
	spec, err := identifier.Parse(field, *r)
	if err != nil {
		return nil, err
	}
	return &spec, nil
}

// parseTag validates a general tag request, deriving the category from the
// asset type and management category when the request names none.
func parseTag(r identifier.Request, assetType string, mgmt *identifier.Spec) (identifier.Spec, error) {
	if strings.TrimSpace(r.Category) == "" {
		mgmtCategory := ""
		if mgmt != nil {
			mgmtCategory = mgmt.Category
		}
		category, ok := identifier.DeriveCategory(assetType, mgmtCategory)
		if !ok {
			return identifier.Spec{}, inverrors.Invalid("tag.category",
				fmt.Sprintf("category is required for asset type %q (derivable for: %s)",
					assetType, strings.Join(identifier.KnownTypes(), ", ")))
		}
		r.Category = category
	}
	return identifier.Parse("tag", r)
}
