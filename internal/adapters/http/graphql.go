package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/graphql-go/graphql"

	"github.com/townin/geocore/internal/core/domain"
)

// buildSchema creates the GraphQL schema wired to our services.
func buildSchema(deps *Dependencies) (graphql.Schema, error) {
	coordinateType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Coordinate",
		Fields: graphql.Fields{
			"lat": &graphql.Field{Type: graphql.Float},
			"lon": &graphql.Field{Type: graphql.Float},
		},
	})

	cellType := graphql.NewObject(graphql.ObjectConfig{
		Name: "GridCell",
		Fields: graphql.Fields{
			"cell_id":             &graphql.Field{Type: graphql.String},
			"resolution":          &graphql.Field{Type: graphql.Int},
			"centroid":            &graphql.Field{Type: coordinateType},
			"province":            &graphql.Field{Type: graphql.String},
			"city":                &graphql.Field{Type: graphql.String},
			"district":            &graphql.Field{Type: graphql.String},
			"property_value_tier": &graphql.Field{Type: graphql.Int},
			"population_density":  &graphql.Field{Type: graphql.Int},
			"active":              &graphql.Field{Type: graphql.Boolean},
		},
	})

	hubType := graphql.NewObject(graphql.ObjectConfig{
		Name: "HubLocation",
		Fields: graphql.Fields{
			"id":       &graphql.Field{Type: graphql.String},
			"user_id":  &graphql.Field{Type: graphql.String},
			"category": &graphql.Field{Type: graphql.String},
			"cell_id":  &graphql.Field{Type: graphql.String},
			"centroid": &graphql.Field{Type: coordinateType},
			"label":    &graphql.Field{Type: graphql.String},
			"primary":  &graphql.Field{Type: graphql.Boolean},
		},
	})

	entityType := graphql.NewObject(graphql.ObjectConfig{
		Name: "GeoEntity",
		Fields: graphql.Fields{
			"id":          &graphql.Field{Type: graphql.String},
			"kind":        &graphql.Field{Type: graphql.String},
			"external_id": &graphql.Field{Type: graphql.String},
			"name":        &graphql.Field{Type: graphql.String},
			"location":    &graphql.Field{Type: coordinateType},
			"cell_id":     &graphql.Field{Type: graphql.String},
			"distance":    &graphql.Field{Type: graphql.Float},
		},
	})

	syncRunType := graphql.NewObject(graphql.ObjectConfig{
		Name: "SyncRun",
		Fields: graphql.Fields{
			"id":            &graphql.Field{Type: graphql.String},
			"kind":          &graphql.Field{Type: graphql.String},
			"status":        &graphql.Field{Type: graphql.String},
			"total":         &graphql.Field{Type: graphql.Int},
			"inserted":      &graphql.Field{Type: graphql.Int},
			"updated":       &graphql.Field{Type: graphql.Int},
			"errored":       &graphql.Field{Type: graphql.Int},
			"error_message": &graphql.Field{Type: graphql.String},
			"duration_ms":   &graphql.Field{Type: graphql.Int},
		},
	})

	queryType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"cell": &graphql.Field{
				Type:        cellType,
				Description: "Get a grid cell by identifier",
				Args: graphql.FieldConfigArgument{
					"id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					id := p.Args["id"].(string)
					return deps.Cells.GetCell(p.Context, id)
				},
			},
			"resolveCell": &graphql.Field{
				Type:        cellType,
				Description: "Resolve a coordinate to its grid cell",
				Args: graphql.FieldConfigArgument{
					"lat": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Float)},
					"lon": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Float)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					lat := p.Args["lat"].(float64)
					lon := p.Args["lon"].(float64)
					return deps.Cells.EnsureAt(p.Context, domain.Coordinate{Lat: lat, Lon: lon})
				},
			},
			"userHubs": &graphql.Field{
				Type:        graphql.NewList(hubType),
				Description: "List a user's hub locations",
				Args: graphql.FieldConfigArgument{
					"user_id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					userID := p.Args["user_id"].(string)
					return deps.Hubs.ListHubs(p.Context, userID)
				},
			},
			"entitiesNearby": &graphql.Field{
				Type:        graphql.NewList(entityType),
				Description: "Find dataset entities near a location",
				Args: graphql.FieldConfigArgument{
					"kind":   &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					"lat":    &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Float)},
					"lon":    &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Float)},
					"radius": &graphql.ArgumentConfig{Type: graphql.Float, DefaultValue: 1000.0},
					"limit":  &graphql.ArgumentConfig{Type: graphql.Int, DefaultValue: 50},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					kind := domain.DatasetKind(p.Args["kind"].(string))
					lat := p.Args["lat"].(float64)
					lon := p.Args["lon"].(float64)
					radius := p.Args["radius"].(float64)
					limit := p.Args["limit"].(int)
					return deps.Sync.EntitiesNearby(p.Context, kind,
						domain.Coordinate{Lat: lat, Lon: lon}, radius, limit)
				},
			},
			"syncRuns": &graphql.Field{
				Type:        graphql.NewList(syncRunType),
				Description: "Recent reconciliation runs, newest first",
				Args: graphql.FieldConfigArgument{
					"kind":  &graphql.ArgumentConfig{Type: graphql.String, DefaultValue: ""},
					"limit": &graphql.ArgumentConfig{Type: graphql.Int, DefaultValue: 20},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					kind := domain.DatasetKind(p.Args["kind"].(string))
					limit := p.Args["limit"].(int)
					return deps.Audit.ListRecent(p.Context, kind, limit)
				},
			},
		},
	})

	return graphql.NewSchema(graphql.SchemaConfig{
		Query: queryType,
	})
}

// GraphQLHandler serves the GraphQL endpoint.
func GraphQLHandler(deps *Dependencies) fiber.Handler {
	schema, err := buildSchema(deps)
	if err != nil {
		// This would be a programming error in the schema definition
		panic("graphql schema build: " + err.Error())
	}

	type gqlRequest struct {
		Query         string                 `json:"query"`
		OperationName string                 `json:"operationName"`
		Variables     map[string]interface{} `json:"variables"`
	}

	return func(c *fiber.Ctx) error {
		var req gqlRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid request body"})
		}

		result := graphql.Do(graphql.Params{
			Schema:         schema,
			RequestString:  req.Query,
			VariableValues: req.Variables,
			OperationName:  req.OperationName,
			Context:        c.Context(),
		})

		return c.JSON(result)
	}
}
