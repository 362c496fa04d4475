package journal

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/gray-logic-gateway/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-gateway/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-gateway/migrations"
)

func newTestRepository(t *testing.T) *SQLiteRepository {
	t.Helper()

	db, err := database.Open(t.Context(), config.DatabaseConfig{
		Path:        filepath.Join(t.TempDir(), "journal.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	require.NoError(t, db.Migrate(t.Context(), migrations.FS))
	return NewSQLiteRepository(db.DB)
}

func TestRecord_GeneratesIDAndTimestamp(t *testing.T) {
	repo := newTestRepository(t)

	entry := &Entry{
		Kind:      KindCommand,
		MessageID: "cmd-1",
		DeviceID:  "thermo-1",
		Topic:     "devices/thermo-1/commands",
		Payload:   `{"commandId":"cmd-1"}`,
		Source:    "graylogic-gateway",
	}
	require.NoError(t, repo.Record(t.Context(), entry))

	assert.Regexp(t, `^jrn-[0-9a-f]{8}$`, entry.ID)
	assert.False(t, entry.CreatedAt.IsZero())

	result, err := repo.List(t.Context(), Filter{})
	require.NoError(t, err)
	require.Len(t, result.Entries, 1)
	got := result.Entries[0]
	assert.Equal(t, entry.ID, got.ID)
	assert.Equal(t, "thermo-1", got.DeviceID)
	assert.Equal(t, `{"commandId":"cmd-1"}`, got.Payload)
	assert.True(t, entry.CreatedAt.Equal(got.CreatedAt))
}

func TestRecord_RequiresFields(t *testing.T) {
	repo := newTestRepository(t)

	err := repo.Record(t.Context(), &Entry{Kind: KindAlert, Topic: "system/alerts"})
	assert.ErrorIs(t, err, ErrInvalidEntry)
}

func TestRecord_DuplicateMessageRejected(t *testing.T) {
	repo := newTestRepository(t)
	entry := func() *Entry {
		return &Entry{Kind: KindAlert, MessageID: "alert-1", Topic: "system/alerts", Payload: "{}"}
	}

	require.NoError(t, repo.Record(t.Context(), entry()))
	assert.Error(t, repo.Record(t.Context(), entry()))
}

func TestList_FiltersAndOrder(t *testing.T) {
	repo := newTestRepository(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	entries := []*Entry{
		{Kind: KindCommand, MessageID: "c1", DeviceID: "dev1", Topic: "devices/dev1/commands", Payload: "{}", CreatedAt: base},
		{Kind: KindCommand, MessageID: "c2", DeviceID: "dev2", Topic: "devices/dev2/commands", Payload: "{}", CreatedAt: base.Add(time.Minute)},
		{Kind: KindAlert, MessageID: "a1", Topic: "system/alerts", Payload: "{}", CreatedAt: base.Add(2 * time.Minute)},
		{Kind: KindCommand, MessageID: "c3", DeviceID: "dev1", Topic: "devices/dev1/commands", Payload: "{}", CreatedAt: base.Add(3 * time.Minute)},
	}
	for _, e := range entries {
		require.NoError(t, repo.Record(t.Context(), e))
	}

	all, err := repo.List(t.Context(), Filter{})
	require.NoError(t, err)
	assert.Equal(t, 4, all.Total)
	assert.Equal(t, defaultLimit, all.Limit)
	ids := make([]string, 0, len(all.Entries))
	for _, e := range all.Entries {
		ids = append(ids, e.MessageID)
	}
	assert.Equal(t, []string{"c3", "a1", "c2", "c1"}, ids)

	commands, err := repo.List(t.Context(), Filter{Kind: KindCommand, DeviceID: "dev1"})
	require.NoError(t, err)
	assert.Equal(t, 2, commands.Total)

	recent, err := repo.List(t.Context(), Filter{Since: base.Add(90 * time.Second)})
	require.NoError(t, err)
	assert.Equal(t, 2, recent.Total)

	page, err := repo.List(t.Context(), Filter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, 4, page.Total)
	require.Len(t, page.Entries, 1)
	assert.Equal(t, "a1", page.Entries[0].MessageID)

	clamped, err := repo.List(t.Context(), Filter{Limit: 10_000, Offset: -5})
	require.NoError(t, err)
	assert.Equal(t, maxLimit, clamped.Limit)
	assert.Equal(t, 0, clamped.Offset)
}

func TestList_EmptyIsNotNil(t *testing.T) {
	repo := newTestRepository(t)

	result, err := repo.List(t.Context(), Filter{})
	require.NoError(t, err)
	assert.NotNil(t, result.Entries)
	assert.Empty(t, result.Entries)
}

func TestPrune(t *testing.T) {
	repo := newTestRepository(t)
	cutoff := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Record(t.Context(), &Entry{Kind: KindAlert, MessageID: "old", Topic: "system/alerts", Payload: "{}", CreatedAt: cutoff.Add(-time.Hour)}))
	require.NoError(t, repo.Record(t.Context(), &Entry{Kind: KindAlert, MessageID: "new", Topic: "system/alerts", Payload: "{}", CreatedAt: cutoff.Add(time.Hour)}))

	removed, err := repo.Prune(t.Context(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	result, err := repo.List(t.Context(), Filter{})
	require.NoError(t, err)
	require.Len(t, result.Entries, 1)
	assert.Equal(t, "new", result.Entries[0].MessageID)
}
