// Package api serves the snapshot and room management plane.
//
// All endpoints speak JSON. Storage error kinds map onto status codes:
// bad request 400, not found 404, precondition failed 412, everything
// else 500. Bodies above the configured size cap get 413.
package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/scrawlspace/scrawl/internal/v1/logging"
	"github.com/scrawlspace/scrawl/internal/v1/ratelimit"
	"github.com/scrawlspace/scrawl/internal/v1/registry"
	"github.com/scrawlspace/scrawl/internal/v1/storage"
	"github.com/scrawlspace/scrawl/internal/v1/types"
)

// deleteConfirmation is the body text a room deletion must carry.
const deleteConfirmation = "confirm"

// Handler exposes the management endpoints over a registry and a store.
type Handler struct {
	registry *registry.Registry
	store    storage.Store
	limiter  *ratelimit.RateLimiter
}

// NewHandler creates the management plane. limiter may be nil to
// disable per-endpoint rate limits.
func NewHandler(reg *registry.Registry, store storage.Store, limiter *ratelimit.RateLimiter) *Handler {
	return &Handler{
		registry: reg,
		store:    store,
		limiter:  limiter,
	}
}

// Register mounts the management routes on the given group.
func (h *Handler) Register(api gin.IRouter) {
	rooms := api.Group("/rooms")
	if h.limiter != nil {
		rooms.Use(h.limiter.MiddlewareForEndpoint("rooms"))
	}
	rooms.GET("", h.ListRooms)
	rooms.DELETE("/:roomId", h.DeleteRoom)
	rooms.POST("/:roomId/snapshots", h.CreateSnapshot)
	rooms.GET("/:roomId/snapshots", h.ListSnapshots)
	rooms.PUT("/:roomId/autosave", h.UpsertAutosave)
	rooms.GET("/:roomId/settings", h.GetRoomSettings)
	rooms.PUT("/:roomId/settings", h.UpdateRoomSettings)

	snapshots := api.Group("/snapshots")
	snapshots.GET("/:snapshotId", h.GetSnapshot)
	snapshots.DELETE("/:snapshotId", h.DeleteSnapshot)
	snapshots.PUT("/:snapshotId", h.UpdateSnapshot)
}

type errorResponse struct {
	Error string `json:"error"`
}

type createdResponse struct {
	ID types.SnapshotIDType `json:"id"`
}

type deleteRoomRequest struct {
	Confirmation string `json:"confirmation"`
}

type createSnapshotRequest struct {
	types.SnapshotMeta
	Data []byte `json:"data"`
}

type autosaveRequest struct {
	Data []byte `json:"data"`
}

type updateSnapshotRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ListRooms reports the active rooms, busiest first.
// GET /api/rooms
func (h *Handler) ListRooms(c *gin.Context) {
	c.JSON(http.StatusOK, h.registry.ListRooms())
}

// DeleteRoom evicts every member and purges the room's persisted state.
// The body must carry {"confirmation": "confirm"}.
// DELETE /api/rooms/:roomId
func (h *Handler) DeleteRoom(c *gin.Context) {
	ctx := c.Request.Context()
	roomID := types.RoomIDType(c.Param("roomId"))

	var req deleteRoomRequest
	if !bindJSON(c, &req) {
		return
	}
	if req.Confirmation != deleteConfirmation {
		c.JSON(http.StatusPreconditionFailed, errorResponse{Error: "confirmation text does not match"})
		return
	}

	evicted := h.registry.EvictRoom(ctx, roomID)
	if err := h.store.DeleteRoom(ctx, roomID); err != nil {
		h.renderError(c, err)
		return
	}

	logging.Info(ctx, "room deleted",
		zap.String("roomId", string(roomID)),
		zap.Int("evictedSessions", evicted),
	)
	c.Status(http.StatusNoContent)
}

// CreateSnapshot persists a new snapshot for the room, evicting the
// oldest ones when the room is at its cap.
// POST /api/rooms/:roomId/snapshots
func (h *Handler) CreateSnapshot(c *gin.Context) {
	ctx := c.Request.Context()
	roomID := types.RoomIDType(c.Param("roomId"))

	var req createSnapshotRequest
	if !bindJSON(c, &req) {
		return
	}

	id, err := h.store.CreateSnapshot(ctx, roomID, req.SnapshotMeta, req.Data)
	if err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusCreated, createdResponse{ID: id})
}

// ListSnapshots returns the room's snapshots newest first, without
// scene data.
// GET /api/rooms/:roomId/snapshots
func (h *Handler) ListSnapshots(c *gin.Context) {
	roomID := types.RoomIDType(c.Param("roomId"))

	snapshots, err := h.store.ListSnapshots(c.Request.Context(), roomID)
	if err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, snapshots)
}

// UpsertAutosave creates or replaces the room's autosave snapshot.
// PUT /api/rooms/:roomId/autosave
func (h *Handler) UpsertAutosave(c *gin.Context) {
	ctx := c.Request.Context()
	roomID := types.RoomIDType(c.Param("roomId"))

	var req autosaveRequest
	if !bindJSON(c, &req) {
		return
	}

	id, err := h.store.UpsertAutosaveSnapshot(ctx, roomID, req.Data)
	if err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, createdResponse{ID: id})
}

// GetSnapshot returns the full snapshot including scene data.
// GET /api/snapshots/:snapshotId
func (h *Handler) GetSnapshot(c *gin.Context) {
	id := types.SnapshotIDType(c.Param("snapshotId"))

	snapshot, err := h.store.GetSnapshot(c.Request.Context(), id)
	if err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, snapshot)
}

// DeleteSnapshot removes one snapshot.
// DELETE /api/snapshots/:snapshotId
func (h *Handler) DeleteSnapshot(c *gin.Context) {
	id := types.SnapshotIDType(c.Param("snapshotId"))

	if err := h.store.DeleteSnapshot(c.Request.Context(), id); err != nil {
		h.renderError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// UpdateSnapshot replaces a snapshot's name and description.
// PUT /api/snapshots/:snapshotId
func (h *Handler) UpdateSnapshot(c *gin.Context) {
	ctx := c.Request.Context()
	id := types.SnapshotIDType(c.Param("snapshotId"))

	var req updateSnapshotRequest
	if !bindJSON(c, &req) {
		return
	}

	if err := h.store.UpdateSnapshotMetadata(ctx, id, req.Name, req.Description); err != nil {
		h.renderError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// GetRoomSettings returns the room's settings, defaults when the room
// was never configured.
// GET /api/rooms/:roomId/settings
func (h *Handler) GetRoomSettings(c *gin.Context) {
	roomID := types.RoomIDType(c.Param("roomId"))

	settings, err := h.store.GetRoomSettings(c.Request.Context(), roomID)
	if err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, settings)
}

// UpdateRoomSettings stores new retention settings for the room.
// PUT /api/rooms/:roomId/settings
func (h *Handler) UpdateRoomSettings(c *gin.Context) {
	ctx := c.Request.Context()
	roomID := types.RoomIDType(c.Param("roomId"))

	var req types.RoomSettings
	if !bindJSON(c, &req) {
		return
	}

	if err := h.store.UpdateRoomSettings(ctx, roomID, req); err != nil {
		h.renderError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// bindJSON decodes the request body, answering 413 for oversized bodies
// and 400 for anything else unparseable. Returns false once the error
// response has been written.
func bindJSON(c *gin.Context, out any) bool {
	if err := c.ShouldBindJSON(out); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, errorResponse{Error: "request body too large"})
			return false
		}
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return false
	}
	return true
}

// renderError translates storage error kinds into HTTP status codes.
func (h *Handler) renderError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, types.ErrBadRequest):
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, types.ErrNotFound):
		c.JSON(http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.Is(err, types.ErrPreconditionFailed):
		c.JSON(http.StatusPreconditionFailed, errorResponse{Error: err.Error()})
	default:
		logging.Error(c.Request.Context(), "management request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}
