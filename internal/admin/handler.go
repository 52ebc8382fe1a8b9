// Package admin serves read-only schema descriptions and an on-demand
// migration to administrators.
package admin

import (
	"github.com/gofiber/fiber/v2"
	"github.com/samber/lo"

	"restkit/internal/engine"
	"restkit/internal/logging"
	"restkit/internal/metadata"
	"restkit/internal/store"
)

type Handler struct {
	registry *metadata.Registry
	migrator *store.Migrator
}

func NewHandler(reg *metadata.Registry, mig *store.Migrator) *Handler {
	return &Handler{registry: reg, migrator: mig}
}

func RegisterAdminRoutes(app *fiber.App, h *Handler, middleware ...fiber.Handler) {
	admin := app.Group("/api/_admin", middleware...)

	admin.Get("/resources", h.ListResources)
	admin.Get("/resources/:resource", h.GetResource)
	admin.Post("/migrate", h.Migrate)
}

type relationView struct {
	Key             string `json:"key"`
	Kind            string `json:"kind"`
	Model           string `json:"model"`
	Field           string `json:"field"`
	ReferencedField string `json:"referenced_field"`
	Through         string `json:"through,omitempty"`
	Parent          bool   `json:"parent,omitempty"`
}

type resourceView struct {
	Name       string            `json:"name"`
	Resource   string            `json:"resource"`
	Table      string            `json:"table"`
	PrimaryKey string            `json:"primary_key"`
	Parent     string            `json:"parent,omitempty"`
	Columns    []string          `json:"columns"`
	Required   []string          `json:"required"`
	Relations  []relationView    `json:"relations"`
	Defaults   metadata.Defaults `json:"defaults"`
}

func (h *Handler) describe(m *metadata.Model) resourceView {
	link, _ := m.ParentLink()
	return resourceView{
		Name:       m.Name,
		Resource:   m.PluralName(),
		Table:      m.Table,
		PrimaryKey: m.PrimaryKey,
		Parent:     m.Parent,
		Columns:    h.registry.AllowedColumns(m.Name),
		Required:   append([]string{}, m.Required...),
		Relations: lo.Map(m.Relations, func(r metadata.RelationDef, _ int) relationView {
			return relationView{
				Key:             r.Key(),
				Kind:            r.Kind.String(),
				Model:           r.Model,
				Field:           r.Field,
				ReferencedField: r.ReferencedField,
				Through:         r.Through,
				Parent:          m.Parent != "" && r.Key() == link.Key(),
			}
		}),
		Defaults: m.Defaults,
	}
}

// ListResources handles GET /api/_admin/resources
func (h *Handler) ListResources(c *fiber.Ctx) error {
	views := lo.Map(h.registry.AllModels(), func(m *metadata.Model, _ int) resourceView { return h.describe(m) })
	return c.JSON(fiber.Map{"data": views})
}

// GetResource handles GET /api/_admin/resources/:resource
func (h *Handler) GetResource(c *fiber.Ctx) error {
	name := c.Params("resource")
	m := h.registry.Resource(name)
	if m == nil {
		return engine.UnknownResourceError(name)
	}
	return c.JSON(fiber.Map{"data": h.describe(m)})
}

// Migrate handles POST /api/_admin/migrate. Only missing tables are created.
func (h *Handler) Migrate(c *fiber.Ctx) error {
	models := h.registry.AllModels()
	if err := h.migrator.Migrate(c.UserContext(), models); err != nil {
		return engine.InternalError("MIGRATION_FAILED", "migration failed: %v", err)
	}
	logging.FromContext(c.UserContext()).Info("schema migrated", "models", len(models))
	return c.JSON(fiber.Map{"data": fiber.Map{"models": len(models)}})
}
