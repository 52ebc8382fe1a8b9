package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/gofiber/fiber/v2"

	"restkit/internal/config"
	"restkit/internal/engine"
	"restkit/internal/logging"
	"restkit/internal/metadata"
	"restkit/internal/store"
)

// Handler authenticates against the configured users resource.
type Handler struct {
	store *store.Store
	users *metadata.Model
	cfg   config.AuthConfig
}

// NewHandler resolves the users resource once at startup.
func NewHandler(s *store.Store, reg *metadata.Registry, cfg config.AuthConfig) (*Handler, error) {
	users := reg.Resource(cfg.UsersResource)
	if users == nil {
		return nil, fmt.Errorf("users resource %q is not defined", cfg.UsersResource)
	}
	for _, col := range []string{cfg.UsernameColumn, cfg.PasswordColumn} {
		if !users.HasColumn(col) {
			return nil, fmt.Errorf("users resource %q has no column %q", users.Name, col)
		}
	}
	return &Handler{store: s, users: users, cfg: cfg}, nil
}

// Login handles POST /auth/login.
func (h *Handler) Login(c *fiber.Ctx) error {
	var body struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.BodyParser(&body); err != nil {
		return engine.NewAppError("INVALID_PAYLOAD", 400, "Invalid request body")
	}
	username := body.Username
	if username == "" {
		username = body.Email
	}
	if username == "" || body.Password == "" {
		return engine.UnauthorizedError("Username and password are required")
	}

	ctx := c.UserContext()
	user, err := h.findUser(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return engine.UnauthorizedError("Invalid username or password")
		}
		return err
	}

	hash, _ := user[h.cfg.PasswordColumn].(string)
	if !CheckPassword(body.Password, hash) {
		return engine.UnauthorizedError("Invalid username or password")
	}

	pair, err := GenerateTokenPair(fmt.Sprint(user[h.users.PrimaryKey]), extractRoles(user[h.cfg.RolesColumn]), h.cfg.JWTSecret)
	if err != nil {
		return engine.InternalError("INTERNAL_ERROR", "Failed to generate tokens")
	}
	logging.FromContext(ctx).Info("login", "user", user[h.users.PrimaryKey])
	return c.JSON(fiber.Map{"data": pair})
}

// Refresh handles POST /auth/refresh. Refresh tokens are stateless; a new
// pair carries the roles of the old one.
func (h *Handler) Refresh(c *fiber.Ctx) error {
	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := c.BodyParser(&body); err != nil {
		return engine.NewAppError("INVALID_PAYLOAD", 400, "Invalid request body")
	}
	if body.RefreshToken == "" {
		return engine.UnauthorizedError("Refresh token is required")
	}

	claims, err := ParseRefreshToken(body.RefreshToken, h.cfg.JWTSecret)
	if err != nil {
		return engine.UnauthorizedError("Invalid or expired refresh token")
	}
	pair, err := GenerateTokenPair(claims.Subject, claims.Roles, h.cfg.JWTSecret)
	if err != nil {
		return engine.InternalError("INTERNAL_ERROR", "Failed to generate tokens")
	}
	return c.JSON(fiber.Map{"data": pair})
}

// Me handles GET /auth/me.
func (h *Handler) Me(c *fiber.Ctx) error {
	user := GetUser(c)
	if user == nil {
		return engine.UnauthorizedError("Missing auth token")
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"id": user.ID, "roles": user.Roles}})
}

// RegisterRoutes registers auth routes on the given Fiber app.
func RegisterRoutes(app *fiber.App, h *Handler, authMW fiber.Handler) {
	g := app.Group("/auth")
	g.Post("/login", h.Login)
	g.Post("/refresh", h.Refresh)
	g.Get("/me", authMW, h.Me)
}

// SeedAdmin inserts a default admin when the users table is empty.
func (h *Handler) SeedAdmin(ctx context.Context) error {
	ph := h.store.Dialect.Placeholder()
	sqlStr, args, err := sq.Select("COUNT(*)").From(h.users.Table).PlaceholderFormat(ph).ToSql()
	if err != nil {
		return err
	}
	row, err := store.QueryRow(ctx, h.store.DB, sqlStr, args...)
	if err != nil {
		return fmt.Errorf("count users: %w", err)
	}
	if n := fmt.Sprint(row.First()); n != "0" {
		return nil
	}

	hash, err := HashPassword("changeme")
	if err != nil {
		return err
	}
	values := map[string]any{
		h.cfg.UsernameColumn: "admin@localhost",
		h.cfg.PasswordColumn: hash,
	}
	if h.users.HasColumn(h.cfg.RolesColumn) {
		values[h.cfg.RolesColumn] = "admin"
	}
	sqlStr, args, err = sq.Insert(h.users.Table).SetMap(values).PlaceholderFormat(ph).ToSql()
	if err != nil {
		return err
	}
	if _, err := store.Exec(ctx, h.store.DB, sqlStr, args...); err != nil {
		return fmt.Errorf("insert admin: %w", err)
	}
	logging.FromContext(ctx).Warn("default admin user created (admin@localhost / changeme), change the password immediately")
	return nil
}

func (h *Handler) findUser(ctx context.Context, username string) (map[string]any, error) {
	cols := []string{h.users.PrimaryKey, h.cfg.PasswordColumn}
	if h.users.HasColumn(h.cfg.RolesColumn) {
		cols = append(cols, h.cfg.RolesColumn)
	}
	sqlStr, args, err := sq.Select(cols...).
		From(h.users.Table).
		Where(sq.Eq{h.cfg.UsernameColumn: username}).
		PlaceholderFormat(h.store.Dialect.Placeholder()).
		ToSql()
	if err != nil {
		return nil, err
	}
	row, err := store.QueryRow(ctx, h.store.DB, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	return row.Map(), nil
}

// extractRoles reads a roles column stored as a comma separated string or an
// array.
func extractRoles(v any) []string {
	switch roles := v.(type) {
	case string:
		var out []string
		for _, r := range strings.Split(roles, ",") {
			if r = strings.TrimSpace(r); r != "" {
				out = append(out, r)
			}
		}
		return out
	case []string:
		return roles
	case []any:
		result := make([]string, 0, len(roles))
		for _, r := range roles {
			if s, ok := r.(string); ok {
				result = append(result, s)
			}
		}
		return result
	default:
		return []string{}
	}
}
