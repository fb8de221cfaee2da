package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"bookshelf-service/internal/model"
	"bookshelf-service/internal/repository"
	"bookshelf-service/pkg/database"
	"bookshelf-service/pkg/logger"
)

// Store is the persistence a CRUD resource delegates to.
// *repository.Repository[T] satisfies it.
type Store[T any] interface {
	ReadByID(ctx context.Context, sc database.SchemaContext, id int64) (*T, error)
	ReadAll(ctx context.Context, sc database.SchemaContext, offset, limit int) ([]T, error)
	CreateOne(ctx context.Context, sc database.SchemaContext, p model.Payload) (*T, error)
	CreateMany(ctx context.Context, sc database.SchemaContext, ps []model.Payload) ([]int64, error)
	UpdateByID(ctx context.Context, sc database.SchemaContext, id int64, p model.Payload, applyNone bool) (*T, error)
	Upsert(ctx context.Context, sc database.SchemaContext, p model.Payload) (*T, error)
	UpsertMany(ctx context.Context, sc database.SchemaContext, ps []model.Payload) ([]int64, error)
	DeleteByID(ctx context.Context, sc database.SchemaContext, id int64) ([]int64, error)
	DeleteAll(ctx context.Context, sc database.SchemaContext) ([]int64, error)
}

// ContextResolver picks the schema context for a request
type ContextResolver func(c echo.Context) (database.SchemaContext, error)

// SharedScope routes every request to the shared schema
func SharedScope(echo.Context) (database.SchemaContext, error) {
	return database.Shared(), nil
}

// Options configures a CRUD resource
type Options struct {
	// Name is used in response messages, e.g. "Book"
	Name   string
	Scope  ContextResolver
	Limits repository.Limits
	// AfterWrite runs after create, create-many, upsert and upsert-many
	// with the ids written. An error fails the request but the rows stay.
	AfterWrite func(ctx context.Context, ids []int64) error
}

type crud[T any, C model.Payload, U model.Payload] struct {
	store Store[T]
	opts  Options
}

// RegisterCRUD adds the ten resource routes to g. C is the create and
// upsert body, U the partial update body.
func RegisterCRUD[T any, C model.Payload, U model.Payload](g *echo.Group, store Store[T], opts Options) {
	if opts.Scope == nil {
		opts.Scope = SharedScope
	}
	h := &crud[T, C, U]{store: store, opts: opts}

	g.POST("", h.createOne)
	g.PATCH("/:id", h.updateByID)
	g.PATCH("", h.updateWithID)
	g.PUT("", h.upsert)
	g.DELETE("/:id", h.deleteByID)
	g.GET("/:id", h.readByID)
	g.DELETE("", h.deleteAll)
	g.GET("", h.readAll)
	g.POST("/bulk", h.createMany)
	g.PUT("/bulk", h.upsertMany)
}

// bulkResponse is returned by the bulk and delete-all routes
type bulkResponse struct {
	Message string  `json:"message"`
	Count   int     `json:"count"`
	IDs     []int64 `json:"ids"`
}

func bindOne(c echo.Context, v any) error {
	if err := c.Bind(v); err != nil {
		return invalid("malformed body")
	}
	if err := c.Validate(v); err != nil {
		return invalid("%v", err)
	}
	return nil
}

func (h *crud[T, C, U]) bindMany(c echo.Context) ([]model.Payload, error) {
	var items []C
	if err := c.Bind(&items); err != nil {
		return nil, invalid("malformed body, expected an array")
	}
	payloads := make([]model.Payload, len(items))
	for i := range items {
		if err := c.Validate(&items[i]); err != nil {
			return nil, invalid("item %d: %v", i, err)
		}
		payloads[i] = items[i]
	}
	return payloads, nil
}

func parseID(c echo.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	return id, err == nil
}

func (h *crud[T, C, U]) afterWrite(c echo.Context, ids []int64) error {
	if h.opts.AfterWrite == nil || len(ids) == 0 {
		return nil
	}
	return h.opts.AfterWrite(c.Request().Context(), ids)
}

func (h *crud[T, C, U]) createOne(c echo.Context) error {
	var body C
	if err := bindOne(c, &body); err != nil {
		return RespondError(c, err)
	}
	sc, err := h.opts.Scope(c)
	if err != nil {
		return RespondError(c, err)
	}

	item, err := h.store.CreateOne(c.Request().Context(), sc, body)
	if err != nil {
		return RespondError(c, err)
	}
	if err := h.afterWrite(c, idOf(item)); err != nil {
		return RespondError(c, err)
	}
	return c.JSON(http.StatusOK, item)
}

func (h *crud[T, C, U]) update(c echo.Context, id int64, body U) error {
	sc, err := h.opts.Scope(c)
	if err != nil {
		return RespondError(c, err)
	}
	ctx := c.Request().Context()

	existing, err := h.store.ReadByID(ctx, sc, id)
	if err != nil {
		return RespondError(c, err)
	}
	if existing == nil {
		return RespondError(c, fmt.Errorf("%s %d: %w", h.opts.Name, id, ErrNotFound))
	}

	applyNone, _ := strconv.ParseBool(c.QueryParam("apply_none_values"))
	item, err := h.store.UpdateByID(ctx, sc, id, body, applyNone)
	if err != nil {
		return RespondError(c, err)
	}
	if item == nil {
		return RespondError(c, fmt.Errorf("%s %d: %w", h.opts.Name, id, ErrNotFound))
	}
	return c.JSON(http.StatusOK, item)
}

func (h *crud[T, C, U]) updateByID(c echo.Context) error {
	id, ok := parseID(c)
	if !ok {
		return RespondError(c, invalid("id must be an integer"))
	}
	var body U
	if err := bindOne(c, &body); err != nil {
		return RespondError(c, err)
	}
	return h.update(c, id, body)
}

// updateWithID takes the id from the body next to the update fields
func (h *crud[T, C, U]) updateWithID(c echo.Context) error {
	raw, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return RespondError(c, invalid("malformed body"))
	}
	var ref struct {
		ID *int64 `json:"id"`
	}
	if err := json.Unmarshal(raw, &ref); err != nil {
		return RespondError(c, invalid("malformed body"))
	}
	if ref.ID == nil {
		return RespondError(c, invalid("id is required"))
	}

	c.Request().Body = io.NopCloser(bytes.NewReader(raw))
	var body U
	if err := bindOne(c, &body); err != nil {
		return RespondError(c, err)
	}
	return h.update(c, *ref.ID, body)
}

func (h *crud[T, C, U]) upsert(c echo.Context) error {
	var body C
	if err := bindOne(c, &body); err != nil {
		return RespondError(c, err)
	}
	sc, err := h.opts.Scope(c)
	if err != nil {
		return RespondError(c, err)
	}

	item, err := h.store.Upsert(c.Request().Context(), sc, body)
	if err != nil {
		return RespondError(c, err)
	}
	if err := h.afterWrite(c, idOf(item)); err != nil {
		return RespondError(c, err)
	}
	return c.JSON(http.StatusOK, item)
}

func (h *crud[T, C, U]) readByID(c echo.Context) error {
	id, ok := parseID(c)
	if !ok {
		return RespondError(c, invalid("id must be an integer"))
	}
	sc, err := h.opts.Scope(c)
	if err != nil {
		return RespondError(c, err)
	}

	item, err := h.store.ReadByID(c.Request().Context(), sc, id)
	if err != nil {
		return RespondError(c, err)
	}
	if item == nil {
		return RespondError(c, fmt.Errorf("%s %d: %w", h.opts.Name, id, ErrNotFound))
	}
	return c.JSON(http.StatusOK, item)
}

func (h *crud[T, C, U]) readAll(c echo.Context) error {
	offset, limit := 0, 0
	if v := c.QueryParam("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return RespondError(c, invalid("offset must be a non-negative integer"))
		}
		offset = n
	}
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return RespondError(c, invalid("limit must be a positive integer"))
		}
		limit = n
	}
	sc, err := h.opts.Scope(c)
	if err != nil {
		return RespondError(c, err)
	}

	items, err := h.store.ReadAll(c.Request().Context(), sc, offset, h.opts.Limits.Clamp(limit))
	if err != nil {
		return RespondError(c, err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *crud[T, C, U]) deleteByID(c echo.Context) error {
	id, ok := parseID(c)
	if !ok {
		return RespondError(c, invalid("id must be an integer"))
	}
	sc, err := h.opts.Scope(c)
	if err != nil {
		return RespondError(c, err)
	}
	ctx := c.Request().Context()

	existing, err := h.store.ReadByID(ctx, sc, id)
	if err != nil {
		return RespondError(c, err)
	}
	if existing == nil {
		return RespondError(c, fmt.Errorf("%s %d: %w", h.opts.Name, id, ErrNotFound))
	}
	if _, err := h.store.DeleteByID(ctx, sc, id); err != nil {
		return RespondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"message": fmt.Sprintf("Deleted %s with id %d", h.opts.Name, id),
		"id":      id,
	})
}

func (h *crud[T, C, U]) deleteAll(c echo.Context) error {
	sc, err := h.opts.Scope(c)
	if err != nil {
		return RespondError(c, err)
	}
	ids, err := h.store.DeleteAll(c.Request().Context(), sc)
	if err != nil {
		return RespondError(c, err)
	}
	logger.FromContext(c).Info("Deleted all rows", zap.String("resource", h.opts.Name), zap.Int("count", len(ids)))
	return c.JSON(http.StatusOK, bulkResponse{
		Message: fmt.Sprintf("Deleted %d %s records", len(ids), h.opts.Name),
		Count:   len(ids),
		IDs:     ids,
	})
}

func (h *crud[T, C, U]) createMany(c echo.Context) error {
	payloads, err := h.bindMany(c)
	if err != nil {
		return RespondError(c, err)
	}
	sc, err := h.opts.Scope(c)
	if err != nil {
		return RespondError(c, err)
	}

	ids, err := h.store.CreateMany(c.Request().Context(), sc, payloads)
	if err != nil {
		return RespondError(c, err)
	}
	if err := h.afterWrite(c, ids); err != nil {
		return RespondError(c, err)
	}
	return c.JSON(http.StatusOK, bulkResponse{
		Message: fmt.Sprintf("Created %d %s records", len(ids), h.opts.Name),
		Count:   len(ids),
		IDs:     ids,
	})
}

func (h *crud[T, C, U]) upsertMany(c echo.Context) error {
	payloads, err := h.bindMany(c)
	if err != nil {
		return RespondError(c, err)
	}
	sc, err := h.opts.Scope(c)
	if err != nil {
		return RespondError(c, err)
	}

	ids, err := h.store.UpsertMany(c.Request().Context(), sc, payloads)
	if err != nil {
		return RespondError(c, err)
	}
	if err := h.afterWrite(c, ids); err != nil {
		return RespondError(c, err)
	}
	return c.JSON(http.StatusOK, bulkResponse{
		Message: fmt.Sprintf("Upserted %d %s records", len(ids), h.opts.Name),
		Count:   len(ids),
		IDs:     ids,
	})
}

// idOf reads the id of an entity that exposes GetID
func idOf[T any](item *T) []int64 {
	if item == nil {
		return nil
	}
	if v, ok := any(item).(interface{ GetID() int64 }); ok {
		return []int64{v.GetID()}
	}
	return nil
}
