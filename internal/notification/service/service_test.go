package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smallbiznis/storefront/internal/clock"
	"github.com/smallbiznis/storefront/internal/notification/domain"
	"github.com/smallbiznis/storefront/internal/notification/repository"
	"github.com/smallbiznis/storefront/internal/notification/service"
	"github.com/smallbiznis/storefront/pkg/db/dbtest"
	"github.com/smallbiznis/storefront/pkg/db/pagination"
)

func newService(t *testing.T, conn *gorm.DB) (domain.Service, *snowflake.Node) {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return service.New(service.Params{
		DB:    conn,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clock.NewFakeClock(time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)),
		Repo:  repository.Provide(),
	}), node
}

func TestNotifyValidation(t *testing.T) {
	svc, node := newService(t, dbtest.OpenMemory(t, &domain.Notification{}))
	userID := node.Generate()

	cases := []struct {
		name string
		req  domain.NotifyRequest
		want error
	}{
		{"missing user", domain.NotifyRequest{Kind: domain.KindOrder, Title: "x"}, domain.ErrInvalidUser},
		{"unknown kind", domain.NotifyRequest{UserID: userID, Kind: "spam", Title: "x"}, domain.ErrInvalidKind},
		{"blank title", domain.NotifyRequest{UserID: userID, Kind: domain.KindOrder, Title: "  "}, domain.ErrInvalidTitle},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Notify(context.Background(), tc.req)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestBadgeFollowsReads(t *testing.T) {
	ctx := context.Background()
	svc, node := newService(t, dbtest.OpenMemory(t, &domain.Notification{}))
	userID := node.Generate()

	first, err := svc.Notify(ctx, domain.NotifyRequest{UserID: userID, Kind: domain.KindPayment, Title: " Payment received "})
	require.NoError(t, err)
	assert.Equal(t, "Payment received", first.Title)
	_, err = svc.Notify(ctx, domain.NotifyRequest{UserID: userID, Kind: domain.KindPromotion, Title: "Sale"})
	require.NoError(t, err)

	assert.Equal(t, int64(2), svc.UnreadBadge(ctx, userID))
	assert.Equal(t, map[domain.Kind]int64{domain.KindPayment: 1, domain.KindPromotion: 1}, svc.UnreadByKind(ctx, userID))

	require.NoError(t, svc.MarkRead(ctx, userID, first.ID))
	assert.Equal(t, int64(1), svc.UnreadBadge(ctx, userID))

	marked, err := svc.MarkAllRead(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), marked)
	assert.Zero(t, svc.UnreadBadge(ctx, userID))
	assert.Zero(t, svc.UnreadBadge(ctx, 0))
}

func TestBadgeFallsBackToZero(t *testing.T) {
	ctx := context.Background()
	svc, node := newService(t, dbtest.OpenMemory(t))
	userID := node.Generate()

	assert.Zero(t, svc.UnreadBadge(ctx, userID))
	assert.Empty(t, svc.UnreadByKind(ctx, userID))
}

func TestListPages(t *testing.T) {
	ctx := context.Background()
	svc, node := newService(t, dbtest.OpenMemory(t, &domain.Notification{}))
	userID := node.Generate()
	for i := 0; i < 3; i++ {
		_, err := svc.Notify(ctx, domain.NotifyRequest{UserID: userID, Kind: domain.KindSystem, Title: "ping"})
		require.NoError(t, err)
	}

	first, err := svc.List(ctx, domain.ListRequest{UserID: userID, Pagination: pagination.Pagination{PageSize: 2}})
	require.NoError(t, err)
	require.Len(t, first.Items, 2)
	require.True(t, first.PageInfo.HasMore)

	second, err := svc.List(ctx, domain.ListRequest{
		UserID:     userID,
		Pagination: pagination.Pagination{PageSize: 2, PageToken: first.PageInfo.NextPageToken},
	})
	require.NoError(t, err)
	require.Len(t, second.Items, 1)
	assert.False(t, second.PageInfo.HasMore)
	assert.Less(t, second.Items[0].ID, first.Items[1].ID)

	_, err = svc.List(ctx, domain.ListRequest{})
	assert.ErrorIs(t, err, domain.ErrInvalidUser)
}
