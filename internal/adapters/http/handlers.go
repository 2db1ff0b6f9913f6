package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/townin/geocore/internal/core/domain"
	"github.com/townin/geocore/internal/core/usecases"
	"github.com/townin/geocore/internal/pkg/metrics"
)

// setHubRequest is the body for hub assignment.
type setHubRequest struct {
	Lat      float64        `json:"lat"`
	Lon      float64        `json:"lon"`
	Label    string         `json:"label"`
	RegionID *string        `json:"region_id"`
	Primary  bool           `json:"primary"`
	Tags     map[string]any `json:"tags"`
}

// SetHubHandler assigns or replaces a user's hub for a category.
// Legacy category aliases are accepted and normalized.
func SetHubHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := c.Params("id")
		category := c.Params("category")
		if userID == "" || category == "" {
			return errBadRequest(c, "user id and category are required")
		}

		var req setHubRequest
		if err := c.BodyParser(&req); err != nil {
			return errBadRequest(c, "invalid request body")
		}

		hub, err := deps.Hubs.SetHub(c.Context(), userID, category,
			domain.Coordinate{Lat: req.Lat, Lon: req.Lon},
			usecases.SetHubInput{
				Label:    req.Label,
				RegionID: req.RegionID,
				Primary:  req.Primary,
				Tags:     req.Tags,
			})
		if err != nil {
			return respondDomainError(c, err)
		}

		metrics.HubAssignments.WithLabelValues(string(hub.Category)).Inc()
		return c.JSON(hub)
	}
}

// ListHubsHandler returns a user's hubs, at most one per category.
func ListHubsHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := c.Params("id")
		if userID == "" {
			return errBadRequest(c, "user id is required")
		}
		hubs, err := deps.Hubs.ListHubs(c.Context(), userID)
		if err != nil {
			return respondDomainError(c, err)
		}
		return c.JSON(fiber.Map{"hubs": hubs, "count": len(hubs)})
	}
}

// RemoveHubHandler deletes a user's hub for a category.
func RemoveHubHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := c.Params("id")
		category := c.Params("category")
		if userID == "" || category == "" {
			return errBadRequest(c, "user id and category are required")
		}
		if err := deps.Hubs.RemoveHub(c.Context(), userID, category); err != nil {
			return respondDomainError(c, err)
		}
		return c.SendStatus(204)
	}
}

// legacyLocationRequest is the pre-rename hub payload shape. The "type"
// field carries the old category names.
type legacyLocationRequest struct {
	Type  string  `json:"type"`
	Lat   float64 `json:"lat"`
	Lon   float64 `json:"lon"`
	Label string  `json:"label"`
}

// LegacySetLocationHandler serves the deprecated locations endpoint by
// delegating to the hub service, which understands the old category names.
func LegacySetLocationHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := c.Params("id")
		if userID == "" {
			return errBadRequest(c, "user id is required")
		}
		var req legacyLocationRequest
		if err := c.BodyParser(&req); err != nil {
			return errBadRequest(c, "invalid request body")
		}
		hub, err := deps.Hubs.SetHub(c.Context(), userID, req.Type,
			domain.Coordinate{Lat: req.Lat, Lon: req.Lon},
			usecases.SetHubInput{Label: req.Label})
		if err != nil {
			return respondDomainError(c, err)
		}
		metrics.HubAssignments.WithLabelValues(string(hub.Category)).Inc()
		return c.JSON(hub)
	}
}

// cellIDParam reassembles the res/x/y route segments into a cell id.
func cellIDParam(c *fiber.Ctx) string {
	res, x, y := c.Params("res"), c.Params("x"), c.Params("y")
	if res == "" || x == "" || y == "" {
		return ""
	}
	return res + "/" + x + "/" + y
}

// GetCellHandler returns a grid cell by identifier.
func GetCellHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := cellIDParam(c)
		if id == "" {
			return errBadRequest(c, "cell id is required")
		}
		cell, err := deps.Cells.GetCell(c.Context(), id)
		if err != nil {
			return respondDomainError(c, err)
		}
		c.Set("Cache-Control", "public, max-age=600")
		return c.JSON(cell)
	}
}

// resolveCellRequest is the body for coordinate-to-cell resolution.
type resolveCellRequest struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// ResolveCellHandler maps a coordinate to its grid cell, creating the cell
// row if this is the first sighting of it.
func ResolveCellHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req resolveCellRequest
		if err := c.BodyParser(&req); err != nil {
			return errBadRequest(c, "invalid request body")
		}
		cell, err := deps.Cells.EnsureAt(c.Context(), domain.Coordinate{Lat: req.Lat, Lon: req.Lon})
		if err != nil {
			return respondDomainError(c, err)
		}
		return c.JSON(cell)
	}
}

// ListCellsHandler returns cells inside a bounding box, for map display.
func ListCellsHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		b := domain.Bounds{
			MinLat: c.QueryFloat("min_lat", 0),
			MinLon: c.QueryFloat("min_lon", 0),
			MaxLat: c.QueryFloat("max_lat", 0),
			MaxLon: c.QueryFloat("max_lon", 0),
		}
		if b.MinLat == 0 && b.MaxLat == 0 && b.MinLon == 0 && b.MaxLon == 0 {
			return errBadRequest(c, "min_lat, min_lon, max_lat, max_lon are required")
		}
		limit := c.QueryInt("limit", 200)

		cells, err := deps.Cells.CellsInBounds(c.Context(), b, limit)
		if err != nil {
			return respondDomainError(c, err)
		}

		c.Set("Cache-Control", "public, max-age=300")
		return c.JSON(fiber.Map{"cells": cells, "count": len(cells)})
	}
}

// AnnotateCellHandler applies administrative enrichment to a cell.
func AnnotateCellHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := cellIDParam(c)
		if id == "" {
			return errBadRequest(c, "cell id is required")
		}
		var ann domain.CellAnnotation
		if err := c.BodyParser(&ann); err != nil {
			return errBadRequest(c, "invalid request body")
		}
		if ann.PropertyValueTier < 0 || ann.PropertyValueTier > 5 {
			return errBadRequest(c, "property_value_tier must be 1-5, or 0 to leave it unset")
		}
		if err := deps.Cells.Annotate(c.Context(), id, ann); err != nil {
			return respondDomainError(c, err)
		}
		return c.SendStatus(204)
	}
}

// DeactivateCellHandler soft-retires a cell.
func DeactivateCellHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := cellIDParam(c)
		if id == "" {
			return errBadRequest(c, "cell id is required")
		}
		if err := deps.Cells.Deactivate(c.Context(), id); err != nil {
			return respondDomainError(c, err)
		}
		return c.SendStatus(204)
	}
}

// syncRequest is the body for a reconciliation batch.
type syncRequest struct {
	Records []domain.RawExternalRecord `json:"records"`
}

// SyncDatasetHandler reconciles one dataset batch and returns the closed run.
func SyncDatasetHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		kind := domain.DatasetKind(c.Params("kind"))
		if !kind.Valid() {
			return errNotFound(c, "unknown dataset kind")
		}

		var req syncRequest
		if err := c.BodyParser(&req); err != nil {
			return errBadRequest(c, "invalid request body")
		}

		run, err := deps.Sync.Reconcile(c.Context(), kind, req.Records)
		if run != nil {
			metrics.ObserveSyncRun(string(run.Kind), string(run.Status),
				run.DurationMs, run.Inserted, run.Updated, run.Errored)
		}
		if err != nil {
			// A structural failure still closes and persists the run;
			// callers need its counts alongside the error.
			if run != nil {
				status, code := domainErrorStatus(err)
				reqID, _ := c.Locals("requestid").(string)
				return c.Status(status).JSON(fiber.Map{
					"run": run,
					"error": APIError{
						Status: status, Code: code,
						Message: err.Error(), RequestID: reqID,
					},
				})
			}
			return respondDomainError(c, err)
		}
		return c.JSON(run)
	}
}

// ListSyncRunsHandler returns recent audit runs, newest first.
func ListSyncRunsHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		kind := domain.DatasetKind(c.Query("kind"))
		limit := c.QueryInt("limit", 20)

		runs, err := deps.Audit.ListRecent(c.Context(), kind, limit)
		if err != nil {
			return respondDomainError(c, err)
		}
		return c.JSON(fiber.Map{"runs": runs, "count": len(runs)})
	}
}

// SyncStatusHandler reports per-kind entity counts and last successful runs.
func SyncStatusHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		counts, err := deps.Sync.DatasetStatus(c.Context())
		if err != nil {
			return respondDomainError(c, err)
		}

		datasets := make(map[string]fiber.Map, len(domain.DatasetKinds()))
		for _, kind := range domain.DatasetKinds() {
			entry := fiber.Map{"entities": counts[kind]}
			if run, err := deps.Audit.LastSuccessful(c.Context(), kind); err == nil {
				entry["last_success"] = run.EndedAt
				entry["last_run_id"] = run.ID
			}
			datasets[string(kind)] = entry
		}

		c.Set("Cache-Control", "public, max-age=60")
		return c.JSON(fiber.Map{"datasets": datasets})
	}
}

// NearbyEntitiesHandler returns dataset entities near a point.
func NearbyEntitiesHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		kind := domain.DatasetKind(c.Params("kind"))
		lat := c.QueryFloat("lat", 0)
		lon := c.QueryFloat("lon", 0)
		radius := c.QueryFloat("radius", 1000)
		limit := c.QueryInt("limit", 50)

		if lat == 0 && lon == 0 {
			return errBadRequest(c, "lat and lon are required")
		}

		entities, err := deps.Sync.EntitiesNearby(c.Context(), kind,
			domain.Coordinate{Lat: lat, Lon: lon}, radius, limit)
		if err != nil {
			return respondDomainError(c, err)
		}

		c.Set("Cache-Control", "public, max-age=300")
		return c.JSON(fiber.Map{"entities": entities, "count": len(entities)})
	}
}

// ListEntitiesHandler returns dataset entities attached to one cell.
func ListEntitiesHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		kind := domain.DatasetKind(c.Params("kind"))
		cellID := c.Query("cell_id")
		if cellID == "" {
			return errBadRequest(c, "cell_id query parameter is required")
		}

		entities, err := deps.Sync.EntitiesInCell(c.Context(), kind, cellID)
		if err != nil {
			return respondDomainError(c, err)
		}

		offset := c.QueryInt("offset", 0)
		limit := c.QueryInt("limit", 50)
		if offset < 0 {
			offset = 0
		}
		if limit <= 0 || limit > 200 {
			limit = 50
		}

		total := len(entities)
		if offset > total {
			offset = total
		}
		end := offset + limit
		if end > total {
			end = total
		}

		p := Pagination{Offset: offset, Limit: limit, Total: total}
		SetLinkHeaders(c, p)
		return c.JSON(PaginatedResponse{Data: entities[offset:end], Pagination: p})
	}
}

// addFamilyRequest is the body for member registration.
type addFamilyRequest struct {
	Relationship  string `json:"relationship"`
	BirthYear     int    `json:"birth_year"`
	Gender        string `json:"gender"`
	Nickname      string `json:"nickname"`
	SensorEnabled bool   `json:"sensor_enabled"`
	NotifyEnabled bool   `json:"notify_enabled"`
}

// AddFamilyMemberHandler registers a household member under a user.
func AddFamilyMemberHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := c.Params("id")
		if userID == "" {
			return errBadRequest(c, "user id is required")
		}
		var req addFamilyRequest
		if err := c.BodyParser(&req); err != nil {
			return errBadRequest(c, "invalid request body")
		}
		if !domain.FamilyRelationship(req.Relationship).Valid() {
			return errBadRequest(c, "invalid relationship: "+req.Relationship)
		}

		member, err := deps.Family.AddMember(c.Context(), userID, usecases.AddMemberInput{
			Relationship:  domain.FamilyRelationship(req.Relationship),
			BirthYear:     req.BirthYear,
			Gender:        req.Gender,
			Nickname:      req.Nickname,
			SensorEnabled: req.SensorEnabled,
			NotifyEnabled: req.NotifyEnabled,
		})
		if err != nil {
			return respondDomainError(c, err)
		}
		return c.Status(201).JSON(member)
	}
}

// ListFamilyMembersHandler returns a user's active household members.
func ListFamilyMembersHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := c.Params("id")
		if userID == "" {
			return errBadRequest(c, "user id is required")
		}
		members, err := deps.Family.ListMembers(c.Context(), userID)
		if err != nil {
			return respondDomainError(c, err)
		}
		return c.JSON(fiber.Map{"members": members, "count": len(members)})
	}
}

// updateFamilyRequest carries the mutable member fields; omitted fields are
// left unchanged.
type updateFamilyRequest struct {
	Nickname      *string `json:"nickname"`
	SensorEnabled *bool   `json:"sensor_enabled"`
	NotifyEnabled *bool   `json:"notify_enabled"`
}

// UpdateFamilyMemberHandler applies a partial update to one member.
func UpdateFamilyMemberHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := c.Params("id")
		memberID := c.Params("member_id")
		if userID == "" || memberID == "" {
			return errBadRequest(c, "user id and member id are required")
		}
		var req updateFamilyRequest
		if err := c.BodyParser(&req); err != nil {
			return errBadRequest(c, "invalid request body")
		}

		member, err := deps.Family.UpdateMember(c.Context(), userID, memberID, usecases.UpdateMemberInput{
			Nickname:      req.Nickname,
			SensorEnabled: req.SensorEnabled,
			NotifyEnabled: req.NotifyEnabled,
		})
		if err != nil {
			return respondDomainError(c, err)
		}
		return c.JSON(member)
	}
}

// RemoveFamilyMemberHandler soft-deletes one member.
func RemoveFamilyMemberHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := c.Params("id")
		memberID := c.Params("member_id")
		if userID == "" || memberID == "" {
			return errBadRequest(c, "user id and member id are required")
		}
		if err := deps.Family.DeactivateMember(c.Context(), userID, memberID); err != nil {
			return respondDomainError(c, err)
		}
		return c.SendStatus(204)
	}
}

// ListRegionsHandler returns regions at one administrative level.
func ListRegionsHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		level := domain.RegionLevel(c.Query("level", string(domain.RegionDistrict)))
		regions, err := deps.Regions.List(c.Context(), level)
		if err != nil {
			return respondDomainError(c, err)
		}
		c.Set("Cache-Control", "public, max-age=3600")
		return c.JSON(fiber.Map{"regions": regions, "count": len(regions)})
	}
}

// GetRegionHandler returns a region by administrative code.
func GetRegionHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		code := c.Params("code")
		if code == "" {
			return errBadRequest(c, "region code is required")
		}
		region, err := deps.Regions.GetByCode(c.Context(), code)
		if err != nil {
			return respondDomainError(c, err)
		}
		c.Set("Cache-Control", "public, max-age=3600")
		return c.JSON(region)
	}
}

// GeoStats holds row counts from the geo tables.
type GeoStats struct {
	Cells    int    `json:"cells"`
	Hubs     int    `json:"hubs"`
	Entities int    `json:"entities"`
	SyncRuns int    `json:"sync_runs"`
	LastSync string `json:"last_sync,omitempty"`
}

// GeoStatsHandler returns row counts from the geo tables.
func GeoStatsHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if deps.DB == nil {
			return errInternal(c, "database not available")
		}

		var stats GeoStats
		row := deps.DB.Pool.QueryRow(c.Context(), `
			SELECT
				(SELECT count(*) FROM grid_cells),
				(SELECT count(*) FROM hub_locations),
				(SELECT count(*) FROM geo_entities),
				(SELECT count(*) FROM sync_runs),
				COALESCE((SELECT max(ended_at)::text FROM sync_runs WHERE status = 'success'), '')
		`)
		if err := row.Scan(&stats.Cells, &stats.Hubs, &stats.Entities,
			&stats.SyncRuns, &stats.LastSync); err != nil {
			return errInternal(c, err.Error())
		}

		c.Set("Cache-Control", "public, max-age=60")
		return c.JSON(stats)
	}
}
