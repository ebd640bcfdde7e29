package memory

import (
	"context"
	"fmt"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mekai/workforce/types"
)

func setupRedisStore(t *testing.T, maxHistory int) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStoreWithClient(client, "test:", maxHistory, nil)
}

func TestRedisStore_CreateGetDelete(t *testing.T) {
	store := setupRedisStore(t, 0)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, newTestConversation("conv-1")))
	assert.ErrorIs(t, store.Create(ctx, newTestConversation("conv-1")), ErrAlreadyExists)

	conv, err := store.Get(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, "emp-1", conv.EmployeeID)

	require.NoError(t, store.Delete(ctx, "conv-1"))
	_, err = store.Get(ctx, "conv-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_AppendPairAndHistory(t *testing.T) {
	store := setupRedisStore(t, 0)
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, newTestConversation("conv-1")))

	u, a, err := store.AppendPair(ctx, "conv-1",
		types.NewUserMessage("question"),
		types.NewAssistantMessage("answer"),
		TurnMeta{Model: "deepseek-chat", PromptTokens: 4, CompletionTokens: 6})
	require.NoError(t, err)
	assert.Less(t, u.Seq, a.Seq)
	assert.Equal(t, 4, u.TokenCount)
	assert.Equal(t, "deepseek-chat", a.Model)
	assert.Equal(t, 6, a.TokenCount)

	conv, err := store.Get(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, 2, conv.MessageCount)

	history, err := store.History(ctx, "conv-1", 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "question", history[0].Content)
	assert.Equal(t, "answer", history[1].Content)

	msgs, err := store.ModelMessages(ctx, "conv-1", 1)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "answer", msgs[0].Content)
}

func TestRedisStore_TrimPreservesSystem(t *testing.T) {
	store := setupRedisStore(t, 3)
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, newTestConversation("conv-1")))

	_, err := store.AppendMessage(ctx, "conv-1", types.NewSystemMessage("persona"))
	require.NoError(t, err)

	for i := 0; i < 6; i++ {
		_, err := store.AppendMessage(ctx, "conv-1", types.NewUserMessage(fmt.Sprintf("u-%d", i)))
		require.NoError(t, err)
	}

	history, err := store.History(ctx, "conv-1", 0)
	require.NoError(t, err)
	require.Len(t, history, 4)
	assert.Equal(t, types.RoleSystem, history[0].Role)
	assert.Equal(t, "u-3", history[1].Content)
	assert.Equal(t, "u-5", history[3].Content)
}

func TestRedisStore_ListSortedByUpdatedAt(t *testing.T) {
	store := setupRedisStore(t, 0)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, newTestConversation("conv-1")))
	require.NoError(t, store.Create(ctx, newTestConversation("conv-2")))

	_, err := store.AppendMessage(ctx, "conv-1", types.NewUserMessage("bump"))
	require.NoError(t, err)

	convs, err := store.List(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, convs, 2)
	assert.Equal(t, "conv-1", convs[0].ID)

	// 其他用户没有会话
	convs, err = store.List(ctx, "user-2")
	require.NoError(t, err)
	assert.Empty(t, convs)
}

func TestRedisStore_AppendUnknownConversation(t *testing.T) {
	store := setupRedisStore(t, 0)
	_, err := store.AppendMessage(context.Background(), "conv-missing", types.NewUserMessage("hi"))
	assert.ErrorIs(t, err, ErrNotFound)
}
