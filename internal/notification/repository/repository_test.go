package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallbiznis/storefront/internal/notification/domain"
	"github.com/smallbiznis/storefront/internal/notification/repository"
	"github.com/smallbiznis/storefront/pkg/db/dbtest"
	"github.com/smallbiznis/storefront/pkg/db/pagination"
)

func TestUnreadCountsAndMarkRead(t *testing.T) {
	ctx := context.Background()
	conn := dbtest.OpenMemory(t, &domain.Notification{})
	repo := repository.Provide()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	userID, other := node.Generate(), node.Generate()
	add := func(owner snowflake.ID, kind domain.Kind) *domain.Notification {
		n := &domain.Notification{ID: node.Generate(), UserID: owner, Kind: kind, Title: string(kind)}
		n.Stamp(nil, time.Now())
		require.NoError(t, repo.Add(ctx, conn, n))
		return n
	}

	first := add(userID, domain.KindOrder)
	add(userID, domain.KindOrder)
	add(userID, domain.KindPayment)
	add(other, domain.KindSystem)

	count, err := repo.UnreadCount(ctx, conn, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	require.NoError(t, repo.MarkRead(ctx, conn, userID, first.ID, time.Now()))
	require.NoError(t, repo.MarkRead(ctx, conn, userID, first.ID, time.Now()), "already read")
	assert.ErrorIs(t, repo.MarkRead(ctx, conn, other, first.ID, time.Now()), domain.ErrNotFound)

	byKind, err := repo.CountsByKind(ctx, conn, userID)
	require.NoError(t, err)
	assert.Equal(t, map[domain.Kind]int64{domain.KindOrder: 1, domain.KindPayment: 1}, byKind)

	marked, err := repo.MarkAllRead(ctx, conn, userID, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(2), marked)

	count, err = repo.UnreadCount(ctx, conn, userID)
	require.NoError(t, err)
	assert.Zero(t, count)

	count, err = repo.UnreadCount(ctx, conn, other)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestListByUserPagesNewestFirst(t *testing.T) {
	ctx := context.Background()
	conn := dbtest.OpenMemory(t, &domain.Notification{})
	repo := repository.Provide()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	userID := node.Generate()
	var ids []snowflake.ID
	for i := 0; i < 3; i++ {
		n := &domain.Notification{ID: node.Generate(), UserID: userID, Kind: domain.KindSystem, Title: "hello"}
		n.Stamp(nil, time.Now())
		require.NoError(t, repo.Add(ctx, conn, n))
		ids = append(ids, n.ID)
	}
	require.NoError(t, repo.MarkRead(ctx, conn, userID, ids[2], time.Now()))

	items, err := repo.ListByUser(ctx, conn, userID, false, pagination.Pagination{PageSize: 2})
	require.NoError(t, err)
	require.Len(t, items, 3, "one look-ahead row")
	assert.Equal(t, ids[2], items[0].ID)
	assert.True(t, items[0].IsRead())

	unread, err := repo.ListByUser(ctx, conn, userID, true, pagination.Pagination{})
	require.NoError(t, err)
	require.Len(t, unread, 2)
	assert.Equal(t, ids[1], unread[0].ID)
	assert.Equal(t, ids[0], unread[1].ID)
}
