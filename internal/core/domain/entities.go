package domain

import (
	"time"
)

// User is the minimal owner record hubs and family members hang off.
// Profile and session mechanics live elsewhere.
type User struct {
	ID        string    `json:"id"`
	Nickname  string    `json:"nickname,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// GridCell is a discrete, privacy-preserving location bucket. The cell id
// is a pure function of (coordinate, resolution); administrative fields are
// enriched out-of-band and never touched by reconciliation.
type GridCell struct {
	CellID            string         `json:"cell_id"`
	Resolution        int            `json:"resolution"`
	Centroid          Coordinate     `json:"centroid"`
	Boundary          Ring           `json:"boundary,omitempty"`
	Province          string         `json:"province,omitempty"`
	City              string         `json:"city,omitempty"`
	District          string         `json:"district,omitempty"`
	RegionID          *string        `json:"region_id,omitempty"`
	PropertyValueTier int            `json:"property_value_tier,omitempty"` // 1-5, 0 = unknown
	PopulationDensity int            `json:"population_density,omitempty"` // bucket, 0 = unknown
	Active            bool           `json:"active"`
	Tags              map[string]any `json:"tags,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// CellAnnotation carries the administrative-enrichment fields applied to a
// cell by the out-of-band annotation pass. Zero values mean "leave the stored
// field unchanged": PropertyValueTier 0 is the unset sentinel, valid tiers
// are 1-5.
type CellAnnotation struct {
	Province          string  `json:"province,omitempty"`
	City              string  `json:"city,omitempty"`
	District          string  `json:"district,omitempty"`
	RegionID          *string `json:"region_id,omitempty"`
	PropertyValueTier int     `json:"property_value_tier,omitempty"`
	PopulationDensity int     `json:"population_density,omitempty"`
}

// HubLocation links a user to a grid cell under one of the fixed hub
// categories. At most one active row exists per (user, category).
type HubLocation struct {
	ID       string      `json:"id"`
	UserID   string      `json:"user_id"`
	Category HubCategory `json:"category"`
	CellID   string      `json:"cell_id"`
	RegionID *string     `json:"region_id,omitempty"`
	// Centroid is the display centroid of the resolved cell, not the raw
	// coordinate the user submitted.
	Centroid  *Coordinate    `json:"centroid,omitempty"`
	Label     string         `json:"label,omitempty"`
	Primary   bool           `json:"primary"`
	Tags      map[string]any `json:"tags,omitempty"`
	Cell      *GridCell      `json:"cell,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// FamilyMember is a privacy-minimal record of someone a user cares for.
// MemberToken is a hashed external identifier, globally unique across users.
type FamilyMember struct {
	ID            string             `json:"id"`
	UserID        string             `json:"user_id"`
	MemberToken   string             `json:"member_token"`
	Relationship  FamilyRelationship `json:"relationship"`
	BirthYear     int                `json:"birth_year,omitempty"`
	Gender        string             `json:"gender,omitempty"`
	Nickname      string             `json:"nickname,omitempty"`
	SensorEnabled bool               `json:"sensor_enabled"`
	NotifyEnabled bool               `json:"notify_enabled"`
	Active        bool               `json:"active"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

// GeoEntity is one record of an external dataset (camera, parking, shelter)
// reconciled into the local store. ExternalID is unique within its kind.
type GeoEntity struct {
	ID           string         `json:"id"`
	Kind         DatasetKind    `json:"kind"`
	ExternalID   string         `json:"external_id"`
	Name         string         `json:"name"`
	Location     Coordinate     `json:"location"`
	CellID       string         `json:"cell_id"`
	RegionID     *string        `json:"region_id,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	Distance     *float64       `json:"distance,omitempty"` // computed field
	LastSyncedAt time.Time      `json:"last_synced_at"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// RawExternalRecord is one decoded upstream record handed to the reconciler.
// Decoding the upstream wire format happens outside this core.
type RawExternalRecord struct {
	ExternalID string         `json:"external_id"`
	Name       string         `json:"name"`
	Lat        float64        `json:"lat"`
	Lon        float64        `json:"lon"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// SyncStatus is the outcome of a reconciliation run. Running is internal;
// callers only ever observe success or failed on a closed run.
type SyncStatus string

const (
	SyncRunning SyncStatus = "running"
	SyncSuccess SyncStatus = "success"
	SyncFailed  SyncStatus = "failed"
)

// SyncRun is the immutable audit record of one reconciliation invocation.
type SyncRun struct {
	ID           string      `json:"id"`
	Kind         DatasetKind `json:"kind"`
	Status       SyncStatus  `json:"status"`
	Total        int         `json:"total"`
	Inserted     int         `json:"inserted"`
	Updated      int         `json:"updated"`
	Errored      int         `json:"errored"`
	ErrorMessage string      `json:"error_message,omitempty"`
	StartedAt    time.Time   `json:"started_at"`
	EndedAt      time.Time   `json:"ended_at"`
	DurationMs   int64       `json:"duration_ms"`
}

// RegionLevel is the administrative depth of a region.
type RegionLevel string

const (
	RegionCity         RegionLevel = "city"
	RegionDistrict     RegionLevel = "district"
	RegionNeighborhood RegionLevel = "neighborhood"
)

// Region is an administrative area cells, hubs, and entities may reference.
type Region struct {
	ID        string      `json:"id"`
	Code      string      `json:"code"`
	NameKo    string      `json:"name_ko"`
	NameEn    string      `json:"name_en,omitempty"`
	Level     RegionLevel `json:"level"`
	ParentID  *string     `json:"parent_id,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}
