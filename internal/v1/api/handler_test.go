package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrawlspace/scrawl/internal/v1/middleware"
	"github.com/scrawlspace/scrawl/internal/v1/protocol"
	"github.com/scrawlspace/scrawl/internal/v1/registry"
	"github.com/scrawlspace/scrawl/internal/v1/storage"
	"github.com/scrawlspace/scrawl/internal/v1/types"
)

// recordingPeer satisfies types.PeerInterface and keeps every frame it
// was handed.
type recordingPeer struct {
	id     types.SessionIDType
	mu     sync.Mutex
	frames [][]byte
}

func newRecordingPeer(id string) *recordingPeer {
	return &recordingPeer{id: types.SessionIDType(id)}
}

func (p *recordingPeer) GetID() types.SessionIDType { return p.id }

func (p *recordingPeer) Send(data []byte) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frames = append(p.frames, data)
	return true
}

func (p *recordingPeer) TrySend(data []byte) bool { return p.Send(data) }

func (p *recordingPeer) Disconnect() {}

func (p *recordingPeer) lastEvent(t *testing.T) (protocol.Event, json.RawMessage) {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	require.NotEmpty(t, p.frames)

	var env protocol.Envelope
	require.NoError(t, json.Unmarshal(p.frames[len(p.frames)-1], &env))
	return env.Event, env.Payload
}

type fixture struct {
	router *gin.Engine
	reg    *registry.Registry
	store  storage.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := &fixture{
		reg:    registry.New(),
		store:  storage.NewMemoryStore(),
		router: gin.New(),
	}
	NewHandler(f.reg, f.store, nil).Register(f.router.Group("/api"))
	return f
}

func doRequest(t *testing.T, router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	return doRequest(t, f.router, method, path, body)
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func (f *fixture) createSnapshot(t *testing.T, roomID, name string, data []byte) types.SnapshotIDType {
	t.Helper()
	w := f.do(t, http.MethodPost, "/api/rooms/"+roomID+"/snapshots", map[string]any{
		"name":      name,
		"createdBy": "alice",
		"data":      data,
	})
	require.Equal(t, http.StatusCreated, w.Code)

	resp := decodeBody[createdResponse](t, w)
	require.NotEmpty(t, resp.ID)
	return resp.ID
}

func TestListRooms_Empty(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/api/rooms", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())
}

func TestListRooms_ActiveRooms(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.reg.Join(ctx, "design", newRecordingPeer("alice"))
	f.reg.Join(ctx, "design", newRecordingPeer("bob"))
	f.reg.Join(ctx, "retro", newRecordingPeer("carol"))

	w := f.do(t, http.MethodGet, "/api/rooms", nil)
	require.Equal(t, http.StatusOK, w.Code)

	rooms := decodeBody[[]types.RoomInfo](t, w)
	require.Len(t, rooms, 2)
	assert.Equal(t, types.RoomIDType("design"), rooms[0].ID)
	assert.Equal(t, 2, rooms[0].Users)
	assert.Equal(t, types.RoomIDType("retro"), rooms[1].ID)
	assert.Equal(t, 1, rooms[1].Users)
	assert.NotZero(t, rooms[0].LastActive)
}

func TestCreateSnapshot_RoundTrip(t *testing.T) {
	f := newFixture(t)
	data := []byte(`{"elements":[{"type":"rectangle"}]}`)

	w := f.do(t, http.MethodPost, "/api/rooms/design/snapshots", map[string]any{
		"name":        "v1",
		"description": "first cut",
		"createdBy":   "alice",
		"data":        data,
	})
	require.Equal(t, http.StatusCreated, w.Code)
	id := decodeBody[createdResponse](t, w).ID

	got := f.do(t, http.MethodGet, "/api/snapshots/"+string(id), nil)
	require.Equal(t, http.StatusOK, got.Code)

	snap := decodeBody[types.Snapshot](t, got)
	assert.Equal(t, id, snap.ID)
	assert.Equal(t, types.RoomIDType("design"), snap.RoomID)
	assert.Equal(t, "v1", snap.Name)
	assert.Equal(t, "first cut", snap.Description)
	assert.Equal(t, "alice", snap.CreatedBy)
	assert.Equal(t, data, snap.Data)
	assert.NotZero(t, snap.CreatedAt)
}

func TestGetSnapshot_NotFound(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/api/snapshots/missing", nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "not found")
}

func TestListSnapshots_OmitsData(t *testing.T) {
	f := newFixture(t)
	first := f.createSnapshot(t, "design", "v1", []byte("one"))
	second := f.createSnapshot(t, "design", "v2", []byte("two"))

	w := f.do(t, http.MethodGet, "/api/rooms/design/snapshots", nil)
	require.Equal(t, http.StatusOK, w.Code)

	entries := decodeBody[[]map[string]any](t, w)
	require.Len(t, entries, 2)
	assert.Equal(t, string(second), entries[0]["id"])
	assert.Equal(t, string(first), entries[1]["id"])
	for _, entry := range entries {
		assert.NotContains(t, entry, "data")
	}
}

func TestListSnapshots_UnknownRoom(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/api/rooms/ghost/snapshots", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())
}

func TestSnapshotCap(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPut, "/api/rooms/design/settings", types.RoomSettings{MaxSnapshots: 3, AutoSaveInterval: 60})
	require.Equal(t, http.StatusNoContent, w.Code)

	ids := make([]types.SnapshotIDType, 0, 4)
	for i := 1; i <= 4; i++ {
		ids = append(ids, f.createSnapshot(t, "design", fmt.Sprintf("v%d", i), []byte("x")))
	}

	list := f.do(t, http.MethodGet, "/api/rooms/design/snapshots", nil)
	require.Equal(t, http.StatusOK, list.Code)

	entries := decodeBody[[]types.Snapshot](t, list)
	require.Len(t, entries, 3)
	assert.Equal(t, ids[3], entries[0].ID)
	assert.Equal(t, ids[2], entries[1].ID)
	assert.Equal(t, ids[1], entries[2].ID)

	gone := f.do(t, http.MethodGet, "/api/snapshots/"+string(ids[0]), nil)
	assert.Equal(t, http.StatusNotFound, gone.Code)
}

func TestAutosave_Upsert(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPut, "/api/rooms/design/autosave", map[string]any{"data": []byte("first")})
	require.Equal(t, http.StatusOK, w.Code)
	require.NotEmpty(t, decodeBody[createdResponse](t, w).ID)

	w = f.do(t, http.MethodPut, "/api/rooms/design/autosave", map[string]any{"data": []byte("second")})
	require.Equal(t, http.StatusOK, w.Code)
	secondID := decodeBody[createdResponse](t, w).ID

	// A manual snapshot must not disturb the autosave slot.
	f.createSnapshot(t, "design", "manual", []byte("keep"))

	list := f.do(t, http.MethodGet, "/api/rooms/design/snapshots", nil)
	entries := decodeBody[[]types.Snapshot](t, list)
	require.Len(t, entries, 2)

	autosaves := 0
	for _, entry := range entries {
		if entry.IsAutosave() {
			autosaves++
		}
	}
	assert.Equal(t, 1, autosaves)

	got := f.do(t, http.MethodGet, "/api/snapshots/"+string(secondID), nil)
	require.Equal(t, http.StatusOK, got.Code)
	assert.Equal(t, []byte("second"), decodeBody[types.Snapshot](t, got).Data)
}

func TestDeleteSnapshot(t *testing.T) {
	f := newFixture(t)
	id := f.createSnapshot(t, "design", "v1", []byte("scene"))

	w := f.do(t, http.MethodDelete, "/api/snapshots/"+string(id), nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = f.do(t, http.MethodDelete, "/api/snapshots/"+string(id), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUpdateSnapshot_Metadata(t *testing.T) {
	f := newFixture(t)
	id := f.createSnapshot(t, "design", "draft", []byte("scene"))

	w := f.do(t, http.MethodPut, "/api/snapshots/"+string(id), updateSnapshotRequest{Name: "final", Description: "ship it"})
	require.Equal(t, http.StatusNoContent, w.Code)

	got := decodeBody[types.Snapshot](t, f.do(t, http.MethodGet, "/api/snapshots/"+string(id), nil))
	assert.Equal(t, "final", got.Name)
	assert.Equal(t, "ship it", got.Description)
	assert.Equal(t, []byte("scene"), got.Data)

	w = f.do(t, http.MethodPut, "/api/snapshots/missing", updateSnapshotRequest{Name: "x"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRoomSettings_RoundTrip(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/api/rooms/design/settings", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, types.DefaultRoomSettings(), decodeBody[types.RoomSettings](t, w))

	w = f.do(t, http.MethodPut, "/api/rooms/design/settings", types.RoomSettings{MaxSnapshots: 3, AutoSaveInterval: 120})
	require.Equal(t, http.StatusNoContent, w.Code)

	got := decodeBody[types.RoomSettings](t, f.do(t, http.MethodGet, "/api/rooms/design/settings", nil))
	assert.Equal(t, types.RoomSettings{MaxSnapshots: 3, AutoSaveInterval: 120}, got)
}

func TestRoomSettings_OutOfRange(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPut, "/api/rooms/design/settings", types.RoomSettings{MaxSnapshots: 0, AutoSaveInterval: 10})
	require.Equal(t, http.StatusNoContent, w.Code)

	got := decodeBody[types.RoomSettings](t, f.do(t, http.MethodGet, "/api/rooms/design/settings", nil))
	assert.Equal(t, types.DefaultRoomSettings(), got)
}

func TestDeleteRoom_Flow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := newRecordingPeer("alice")
	bob := newRecordingPeer("bob")
	f.reg.Join(ctx, "design", alice)
	f.reg.Join(ctx, "design", bob)
	f.createSnapshot(t, "design", "v1", []byte("scene"))

	w := f.do(t, http.MethodDelete, "/api/rooms/design", map[string]any{"confirmation": "delete it"})
	assert.Equal(t, http.StatusPreconditionFailed, w.Code)

	w = f.do(t, http.MethodDelete, "/api/rooms/design", map[string]any{"confirmation": "confirm"})
	require.Equal(t, http.StatusNoContent, w.Code)

	assert.JSONEq(t, "[]", f.do(t, http.MethodGet, "/api/rooms/design/snapshots", nil).Body.String())
	assert.JSONEq(t, "[]", f.do(t, http.MethodGet, "/api/rooms", nil).Body.String())
	assert.Empty(t, f.reg.ListRooms())

	for _, peer := range []*recordingPeer{alice, bob} {
		event, payload := peer.lastEvent(t)
		assert.Equal(t, protocol.EventRoomUserChange, event)
		assert.JSONEq(t, "[]", string(payload))
	}

	got := decodeBody[types.RoomSettings](t, f.do(t, http.MethodGet, "/api/rooms/design/settings", nil))
	assert.Equal(t, types.DefaultRoomSettings(), got)
}

func TestDeleteRoom_MalformedBody(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodDelete, "/api/rooms/design", `{broken`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateSnapshot_ReservedCreatedBy(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/rooms/design/snapshots", map[string]any{
		"name":      "sneaky",
		"createdBy": types.AutosaveCreatedBy,
		"data":      []byte("x"),
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "reserved")
}

func TestCreateSnapshot_BodyTooLarge(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(middleware.MaxBodySize(256))
	NewHandler(registry.New(), storage.NewMemoryStore(), nil).Register(router.Group("/api"))

	w := doRequest(t, router, http.MethodPost, "/api/rooms/design/snapshots", map[string]any{
		"name": "big",
		"data": bytes.Repeat([]byte("a"), 1024),
	})

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

type explodingStore struct {
	storage.Store
}

func (s *explodingStore) GetSnapshot(ctx context.Context, id types.SnapshotIDType) (*types.Snapshot, error) {
	return nil, errors.New("disk exploded")
}

func TestStorageFailure_Returns500(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	NewHandler(registry.New(), &explodingStore{Store: storage.NewMemoryStore()}, nil).Register(router.Group("/api"))

	w := doRequest(t, router, http.MethodGet, "/api/snapshots/any", nil)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "internal error")
	assert.NotContains(t, w.Body.String(), "disk exploded")
}
