package session

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternhq/tern/pkg/protocol"
)

func newTestStore() *Store {
	return NewStore(zerolog.Nop())
}

func TestStoreCreate(t *testing.T) {
	store := newTestStore()

	sess := store.Create(CreateParams{
		AgentType:      "general",
		Model:          "m-1",
		OrganizationID: "org-1",
		UserID:         "u-1",
		Skills:         []string{"research", "drafting"},
	})

	require.NotEmpty(t, sess.ID)
	assert.Equal(t, protocol.StateIdle, sess.State)
	assert.Equal(t, "general", sess.AgentType)
	assert.True(t, sess.Skills["research"])
	assert.True(t, sess.Skills["drafting"])
	assert.False(t, sess.CreatedAt.IsZero())
	assert.Equal(t, 1, store.Count())
}

func TestStoreGet(t *testing.T) {
	store := newTestStore()
	sess := store.Create(CreateParams{AgentType: "general", Model: "m-1"})

	t.Run("existing", func(t *testing.T) {
		got, err := store.Get(sess.ID)
		require.NoError(t, err)
		assert.Equal(t, sess.ID, got.ID)
	})

	t.Run("missing", func(t *testing.T) {
		_, err := store.Get("nope")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStoreMutate(t *testing.T) {
	store := newTestStore()
	sess := store.Create(CreateParams{AgentType: "general", Model: "m-1"})

	err := store.Mutate(sess.ID, func(s *Session) {
		s.State = protocol.StateThinking
		s.Messages = append(s.Messages, Message{Role: "user", Content: "hello"})
	})
	require.NoError(t, err)

	got, err := store.Get(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, protocol.StateThinking, got.State)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "hello", got.Messages[0].Content)

	assert.ErrorIs(t, store.Mutate("nope", func(*Session) {}), ErrNotFound)
}

func TestStoreSnapshotIsDeepCopy(t *testing.T) {
	store := newTestStore()
	sess := store.Create(CreateParams{AgentType: "general", Model: "m-1"})
	require.NoError(t, store.Mutate(sess.ID, func(s *Session) {
		s.Artifacts = append(s.Artifacts, &Artifact{
			ID: "a-1", Type: ArtifactDocument, Status: ArtifactDraft, Version: 1, ChatID: s.ID,
		})
	}))

	snap, err := store.Snapshot(sess.ID)
	require.NoError(t, err)

	// Mutating the snapshot must not leak into the store.
	snap.Artifacts[0].Status = ArtifactFinal
	snap.State = protocol.StateError

	got, err := store.Get(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, ArtifactDraft, got.Artifacts[0].Status)
	assert.Equal(t, protocol.StateIdle, got.State)
}

func TestStoreDelete(t *testing.T) {
	store := newTestStore()
	sess := store.Create(CreateParams{AgentType: "general", Model: "m-1"})

	store.Delete(sess.ID)
	_, err := store.Get(sess.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 0, store.Count())

	// Deleting twice is a no-op.
	store.Delete(sess.ID)
}

func TestFindArtifact(t *testing.T) {
	sess := &Session{
		Artifacts: []*Artifact{{ID: "a-1"}, {ID: "a-2"}},
	}
	assert.Equal(t, "a-2", sess.FindArtifact("a-2").ID)
	assert.Nil(t, sess.FindArtifact("a-3"))
}
