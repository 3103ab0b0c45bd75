//go:build integration

package infrastructure

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcmysql "github.com/testcontainers/testcontainers-go/modules/mysql"

	"promohub/internal/pkg/db"
	"promohub/internal/service/notification/domain"
)

func TestGormNotificationRepository(t *testing.T) {
	ctx := context.Background()
	container, err := tcmysql.Run(ctx, "mysql:8.0.36", tcmysql.WithDatabase("notifications"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	dsn, err := container.ConnectionString(ctx, "parseTime=true", "loc=UTC", "charset=utf8mb4")
	require.NoError(t, err)
	gdb, err := db.OpenDSN(dsn, true, Models()...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close(gdb) })

	repo := NewGormNotificationRepository(gdb)
	player := uuid.NewString()
	now := time.Now().UTC()

	event := func(id string) domain.Event {
		return domain.Event{EventID: id, UserID: player, EventType: domain.EventTypePromotions, Content: json.RawMessage(`{"id":"` + id + `"}`)}
	}

	_, err = repo.Document(ctx, player)
	assert.ErrorIs(t, err, domain.ErrDocumentNotFound)

	created, err := repo.Append(ctx, domain.NewEntry(event("e1"), "e1", false, now))
	require.NoError(t, err)
	assert.True(t, created)

	// 重复投递
	created, err = repo.Append(ctx, domain.NewEntry(event("e1"), "e1", false, now))
	require.NoError(t, err)
	assert.False(t, created)

	created, err = repo.Append(ctx, domain.NewEntry(event("e2"), "e2", true, now))
	require.NoError(t, err)
	assert.True(t, created)
	_, err = repo.Append(ctx, domain.NewEntry(event("e3"), "e3", false, now))
	require.NoError(t, err)

	unread, err := repo.Unread(ctx, player)
	require.NoError(t, err)
	require.Len(t, unread, 2)
	assert.Equal(t, "e1", unread[0].EventID)
	assert.Equal(t, "e3", unread[1].EventID)
	assert.JSONEq(t, `{"id":"e1"}`, string(unread[0].Content))

	n, err := repo.MarkRead(ctx, player, []uuid.UUID{unread[0].ID, unread[1].ID})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	doc, err := repo.Document(ctx, player)
	require.NoError(t, err)
	require.Len(t, doc.Entries, 3)
	assert.Equal(t, 0, doc.Unread())
	assert.Equal(t, domain.EntryPromotion, doc.Entries[0].Type)
}
