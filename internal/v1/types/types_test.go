package types

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChatMessageValidate_Valid(t *testing.T) {
	msg := ChatMessage{
		ID:      "chat-123",
		Content: "Valid message",
	}

	assert.NoError(t, msg.Validate())
}

func TestChatMessageValidate_EmptyID(t *testing.T) {
	msg := ChatMessage{Content: "hello"}

	err := msg.Validate()
	assert.Error(t, err)
	assert.ErrorIs(t, err, ErrBadRequest)
	assert.Contains(t, err.Error(), "id cannot be empty")
}

func TestChatMessageValidate_EmptyContent(t *testing.T) {
	msg := ChatMessage{ID: "chat-123"}

	err := msg.Validate()
	assert.ErrorIs(t, err, ErrBadRequest)
	assert.Contains(t, err.Error(), "content cannot be empty")
}

func TestChatMessageValidate_ContentBounds(t *testing.T) {
	atLimit := ChatMessage{ID: "c1", Content: strings.Repeat("a", 2000)}
	assert.NoError(t, atLimit.Validate())

	over := ChatMessage{ID: "c2", Content: strings.Repeat("a", 2001)}
	err := over.Validate()
	assert.ErrorIs(t, err, ErrBadRequest)
	assert.Contains(t, err.Error(), "cannot exceed 2000 characters")
}

func TestSnapshotIsAutosave(t *testing.T) {
	auto := Snapshot{CreatedBy: AutosaveCreatedBy}
	assert.True(t, auto.IsAutosave())

	manual := Snapshot{CreatedBy: "alice"}
	assert.False(t, manual.IsAutosave())
}

func TestDefaultRoomSettings(t *testing.T) {
	s := DefaultRoomSettings()
	assert.Equal(t, DefaultMaxSnapshots, s.MaxSnapshots)
	assert.Equal(t, DefaultAutoSaveInterval, s.AutoSaveInterval)
}

func TestRoomSettingsNormalized(t *testing.T) {
	tests := []struct {
		name string
		in   RoomSettings
		want RoomSettings
	}{
		{
			name: "in range kept",
			in:   RoomSettings{MaxSnapshots: 3, AutoSaveInterval: 120},
			want: RoomSettings{MaxSnapshots: 3, AutoSaveInterval: 120},
		},
		{
			name: "at minimum kept",
			in:   RoomSettings{MaxSnapshots: MinMaxSnapshots, AutoSaveInterval: MinAutoSaveInterval},
			want: RoomSettings{MaxSnapshots: MinMaxSnapshots, AutoSaveInterval: MinAutoSaveInterval},
		},
		{
			name: "below minimum replaced by defaults",
			in:   RoomSettings{MaxSnapshots: 0, AutoSaveInterval: 59},
			want: RoomSettings{MaxSnapshots: DefaultMaxSnapshots, AutoSaveInterval: DefaultAutoSaveInterval},
		},
		{
			name: "negative replaced by defaults",
			in:   RoomSettings{MaxSnapshots: -1, AutoSaveInterval: -100},
			want: DefaultRoomSettings(),
		},
		{
			name: "mixed fields normalized independently",
			in:   RoomSettings{MaxSnapshots: 0, AutoSaveInterval: 600},
			want: RoomSettings{MaxSnapshots: DefaultMaxSnapshots, AutoSaveInterval: 600},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.in.Normalized())
		})
	}
}

func TestErrorKindsAreDistinct(t *testing.T) {
	kinds := []error{ErrBadRequest, ErrPreconditionFailed, ErrNotFound, ErrBackendUnavailable}
	for i, a := range kinds {
		for j, b := range kinds {
			if i == j {
				continue
			}
			assert.False(t, errors.Is(a, b), "%v should not match %v", a, b)
		}
	}
}

func TestErrorKindsSurviveWrapping(t *testing.T) {
	wrapped := fmt.Errorf("snapshot %q: %w", "snap-1", ErrNotFound)
	assert.ErrorIs(t, wrapped, ErrNotFound)
	assert.NotErrorIs(t, wrapped, ErrBadRequest)
}
