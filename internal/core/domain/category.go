package domain

import "fmt"

// HubCategory is one of the fixed location roles a user may register.
type HubCategory string

const (
	HubHome   HubCategory = "home"
	HubWork   HubCategory = "work"
	HubFamily HubCategory = "family"
)

// legacyHubAliases maps the pre-rename category values that older clients
// and stored rows may still carry. Accepted on read, normalized on write.
var legacyHubAliases = map[string]HubCategory{
	"residence":   HubHome,
	"workplace":   HubWork,
	"family_home": HubFamily,
}

// NormalizeHubCategory resolves a raw category string to its canonical value,
// accepting legacy aliases. Returns ErrUnknownHubCategory otherwise.
func NormalizeHubCategory(raw string) (HubCategory, error) {
	switch HubCategory(raw) {
	case HubHome, HubWork, HubFamily:
		return HubCategory(raw), nil
	}
	if canonical, ok := legacyHubAliases[raw]; ok {
		return canonical, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownHubCategory, raw)
}

// HubCategories lists the canonical categories in stable order.
func HubCategories() []HubCategory {
	return []HubCategory{HubHome, HubWork, HubFamily}
}

// FamilyRelationship describes how a family member relates to the owning user.
type FamilyRelationship string

const (
	RelParent      FamilyRelationship = "parent"
	RelChild       FamilyRelationship = "child"
	RelSpouse      FamilyRelationship = "spouse"
	RelSibling     FamilyRelationship = "sibling"
	RelGrandparent FamilyRelationship = "grandparent"
	RelGrandchild  FamilyRelationship = "grandchild"
	RelOther       FamilyRelationship = "other"
)

// Valid reports whether the relationship is one of the known values.
func (r FamilyRelationship) Valid() bool {
	switch r {
	case RelParent, RelChild, RelSpouse, RelSibling, RelGrandparent, RelGrandchild, RelOther:
		return true
	}
	return false
}

// DatasetKind identifies an externally-sourced geospatial dataset.
type DatasetKind string

const (
	KindCamera  DatasetKind = "camera"
	KindParking DatasetKind = "parking"
	KindShelter DatasetKind = "shelter"
)

// Valid reports whether the kind is one of the reconciled datasets.
func (k DatasetKind) Valid() bool {
	switch k {
	case KindCamera, KindParking, KindShelter:
		return true
	}
	return false
}

// DatasetKinds lists the reconciled datasets in stable order.
func DatasetKinds() []DatasetKind {
	return []DatasetKind{KindCamera, KindParking, KindShelter}
}
