package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/jinzhu/inflection"
	"github.com/samber/lo"

	"restkit/internal/cache"
	"restkit/internal/logging"
	"restkit/internal/metadata"
	"restkit/internal/rules"
	"restkit/internal/store"
)

// Formatter renders a fetch result as a response document.
type Formatter interface {
	ContentType() string
	Format(res *Result) (any, error)
}

type Handler struct {
	store     *store.Store
	registry  *metadata.Registry
	formatter Formatter
	cache     cache.Cache
	opts      Options
}

func NewHandler(s *store.Store, reg *metadata.Registry, f Formatter, c cache.Cache, joinBelongsTo bool) *Handler {
	if c == nil {
		c = cache.Noop{}
	}
	return &Handler{
		store:     s,
		registry:  reg,
		formatter: f,
		cache:     c,
		opts:      Options{JoinBelongsToColumns: joinBelongsTo},
	}
}

// List handles GET /api/:resource
func (h *Handler) List(c *fiber.Ctx) error {
	model, err := h.resolveModel(c)
	if err != nil {
		return err
	}
	user := getUser(c)

	key := cache.Key(c.Method(), c.Path(), string(c.Request().URI().QueryString()), cacheSubject(user))
	if body, ok := h.cache.Get(c.UserContext(), key); ok {
		c.Set(fiber.HeaderContentType, h.formatter.ContentType())
		return c.Send(body)
	}

	entity, err := h.newEntity(c, model, user)
	if err != nil {
		return err
	}
	res, err := entity.Find(c.UserContext())
	if err != nil {
		return asAppError(model.Name, "", err)
	}
	return h.render(c, fiber.StatusOK, res, key)
}

// GetByID handles GET /api/:resource/:id
func (h *Handler) GetByID(c *fiber.Ctx) error {
	model, err := h.resolveModel(c)
	if err != nil {
		return err
	}
	user := getUser(c)
	id := c.Params("id")

	key := cache.Key(c.Method(), c.Path(), string(c.Request().URI().QueryString()), cacheSubject(user))
	if body, ok := h.cache.Get(c.UserContext(), key); ok {
		c.Set(fiber.HeaderContentType, h.formatter.ContentType())
		return c.Send(body)
	}

	entity, err := h.newEntity(c, model, user)
	if err != nil {
		return err
	}
	res, err := entity.FindFirst(c.UserContext(), parseID(id))
	if err != nil {
		return asAppError(model.Name, id, err)
	}
	return h.render(c, fiber.StatusOK, res, key)
}

// Create handles POST /api/:resource
func (h *Handler) Create(c *fiber.Ctx) error {
	model, err := h.resolveModel(c)
	if err != nil {
		return err
	}
	payload, err := parsePayload(c, model)
	if err != nil {
		return err
	}
	user := getUser(c)
	if user != nil {
		if err := rules.Check(model.Rules, rules.ActionCreate, user.Subject(), payload); err != nil {
			return asAppError(model.Name, "", err)
		}
	}

	entity, err := h.newEntity(c, model, user)
	if err != nil {
		return err
	}
	id, err := entity.Save(c.UserContext(), payload, nil)
	if err != nil {
		return asAppError(model.Name, "", err)
	}
	h.cache.Invalidate(c.UserContext())
	logging.FromContext(c.UserContext()).Info("record created", "resource", model.Name, "id", id)

	res, err := entity.FindFirst(c.UserContext(), id)
	if err != nil {
		return asAppError(model.Name, fmt.Sprint(id), err)
	}
	return h.render(c, fiber.StatusCreated, res, "")
}

// Update handles PUT and PATCH /api/:resource/:id. Both apply only the fields
// present in the payload.
func (h *Handler) Update(c *fiber.Ctx) error {
	model, err := h.resolveModel(c)
	if err != nil {
		return err
	}
	id := c.Params("id")
	user := getUser(c)

	entity, err := h.newEntity(c, model, user)
	if err != nil {
		return err
	}
	current, err := h.checkStored(c, entity, user, rules.ActionUpdate, id)
	if err != nil {
		return err
	}
	payload, err := parsePayload(c, model)
	if err != nil {
		return err
	}
	// the record must stay within the caller's rules after the change
	if user != nil {
		if err := rules.Check(model.Rules, rules.ActionUpdate, user.Subject(), lo.Assign(current, payload)); err != nil {
			return asAppError(model.Name, id, err)
		}
	}
	if _, err := entity.Save(c.UserContext(), payload, parseID(id)); err != nil {
		return asAppError(model.Name, id, err)
	}
	h.cache.Invalidate(c.UserContext())

	res, err := entity.FindFirst(c.UserContext(), parseID(id))
	if err != nil {
		return asAppError(model.Name, id, err)
	}
	return h.render(c, fiber.StatusOK, res, "")
}

// Delete handles DELETE /api/:resource/:id
func (h *Handler) Delete(c *fiber.Ctx) error {
	model, err := h.resolveModel(c)
	if err != nil {
		return err
	}
	id := c.Params("id")
	user := getUser(c)

	entity, err := h.newEntity(c, model, user)
	if err != nil {
		return err
	}
	if _, err := h.checkStored(c, entity, user, rules.ActionDelete, id); err != nil {
		return err
	}
	if err := entity.Delete(c.UserContext(), parseID(id)); err != nil {
		return asAppError(model.Name, id, err)
	}
	h.cache.Invalidate(c.UserContext())
	logging.FromContext(c.UserContext()).Info("record deleted", "resource", model.Name, "id", id)

	return c.JSON(fiber.Map{"data": fiber.Map{"id": id}})
}

// checkStored loads the current record and checks the write rules against it.
// A missing record is a 404 whether or not rules apply.
func (h *Handler) checkStored(c *fiber.Ctx, entity *Entity, user *metadata.UserContext, action rules.Action, id string) (map[string]any, error) {
	current, err := entity.Load(c.UserContext(), parseID(id))
	if err != nil {
		return nil, asAppError(entity.Model.Name, id, err)
	}
	if user == nil {
		return current, nil
	}
	if err := rules.Check(entity.Model.Rules, action, user.Subject(), current); err != nil {
		return nil, asAppError(entity.Model.Name, id, err)
	}
	return current, nil
}

func (h *Handler) newEntity(c *fiber.Ctx, model *metadata.Model, user *metadata.UserContext) (*Entity, error) {
	search, err := NewSearchHelper(c.Queries(), model.Defaults)
	if err != nil {
		return nil, err
	}
	opts := h.opts
	if user != nil {
		opts.BeforeHook = readScope(model, user)
	}
	return NewEntity(h.store.DB, h.store.Dialect, h.registry, model, search, opts), nil
}

// readScope restricts reads to the rows the caller's read rules allow.
func readScope(model *metadata.Model, user *metadata.UserContext) Hook {
	return func(qb *QueryBuilder) error {
		pred, err := rules.ReadPredicate(model.Rules, user.Subject(), qb.StoredColumn)
		if err != nil {
			return asAppError(model.Name, "", err)
		}
		if pred != nil {
			qb.Select = qb.Select.Where(pred)
		}
		return nil
	}
}

func (h *Handler) render(c *fiber.Ctx, status int, res *Result, cacheKey string) error {
	doc, err := h.formatter.Format(res)
	if err != nil {
		return fmt.Errorf("format %s: %w", res.Resource, err)
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode %s: %w", res.Resource, err)
	}
	if cacheKey != "" {
		h.cache.Set(c.UserContext(), cacheKey, body)
	}
	c.Set(fiber.HeaderContentType, h.formatter.ContentType())
	return c.Status(status).Send(body)
}

func (h *Handler) resolveModel(c *fiber.Ctx) (*metadata.Model, error) {
	name := c.Params("resource")
	model := h.registry.Resource(name)
	if model == nil {
		return nil, UnknownResourceError(name)
	}
	return model, nil
}

func getUser(c *fiber.Ctx) *metadata.UserContext {
	user, _ := c.Locals("user").(*metadata.UserContext)
	return user
}

func cacheSubject(user *metadata.UserContext) string {
	if user == nil {
		return ""
	}
	return user.ID + "|" + strings.Join(user.Roles, ",")
}

// parsePayload accepts a bare object, an object wrapped under the singular
// resource name, or a JSON-API {"data": {"attributes": {...}}} document.
func parsePayload(c *fiber.Ctx, model *metadata.Model) (map[string]any, error) {
	var body map[string]any
	if err := json.Unmarshal(c.Body(), &body); err != nil || body == nil {
		return nil, NewAppError("INVALID_PAYLOAD", 400, "Invalid JSON body")
	}
	return integralNumbers(unwrapPayload(body, model)), nil
}

func unwrapPayload(body map[string]any, model *metadata.Model) map[string]any {
	if len(body) != 1 {
		return body
	}
	for _, key := range []string{model.Name, inflection.Singular(model.PluralName())} {
		if inner, ok := body[key].(map[string]any); ok {
			return inner
		}
	}
	if data, ok := body["data"].(map[string]any); ok {
		if attrs, ok := data["attributes"].(map[string]any); ok {
			return attrs
		}
	}
	return body
}

// integralNumbers turns whole JSON numbers into int64 so integer columns
// receive integers on every driver.
func integralNumbers(payload map[string]any) map[string]any {
	for k, v := range payload {
		if f, ok := v.(float64); ok && f == math.Trunc(f) && math.Abs(f) < 1<<53 {
			payload[k] = int64(f)
		}
	}
	return payload
}

// parseID passes integer ids to the driver as integers.
func parseID(raw string) any {
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return n
	}
	return raw
}

// ErrorHandler writes AppErrors with their status. Anything else is logged
// and reported as a 500.
func ErrorHandler(c *fiber.Ctx, err error) error {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return c.Status(appErr.Status).JSON(ErrorResponse{Error: appErr})
	}

	code := fiber.StatusInternalServerError
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		code = fiberErr.Code
		return c.Status(code).JSON(ErrorResponse{Error: &AppError{Code: "HTTP_ERROR", Status: code, Message: fiberErr.Message}})
	}

	logging.FromContext(c.UserContext()).Error("request failed", "error", err, "path", c.Path())
	return c.Status(code).JSON(ErrorResponse{
		Error: &AppError{
			Code:    "INTERNAL_ERROR",
			Message: "Internal server error",
		},
	})
}
