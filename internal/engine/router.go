package engine

import "github.com/gofiber/fiber/v2"

func RegisterResourceRoutes(app *fiber.App, h *Handler, middleware ...fiber.Handler) {
	api := app.Group("/api", middleware...)

	api.Get("/:resource", h.List)
	api.Get("/:resource/:id", h.GetByID)
	api.Post("/:resource", h.Create)
	api.Put("/:resource/:id", h.Update)
	api.Patch("/:resource/:id", h.Update)
	api.Delete("/:resource/:id", h.Delete)
}
