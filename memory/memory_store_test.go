package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mekai/workforce/types"
)

func newTestConversation(id string) *Conversation {
	return &Conversation{
		ID:         id,
		EmployeeID: "emp-1",
		UserID:     "user-1",
	}
}

func TestMemoryStore_CreateAndGet(t *testing.T) {
	store := NewMemoryStore(0)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, newTestConversation("conv-1")))

	conv, err := store.Get(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, "emp-1", conv.EmployeeID)
	assert.False(t, conv.CreatedAt.IsZero())

	assert.ErrorIs(t, store.Create(ctx, newTestConversation("conv-1")), ErrAlreadyExists)

	_, err = store.Get(ctx, "conv-missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_AppendAndHistoryOrder(t *testing.T) {
	store := NewMemoryStore(0)
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, newTestConversation("conv-1")))

	for i := 0; i < 5; i++ {
		_, err := store.AppendMessage(ctx, "conv-1", types.NewUserMessage(fmt.Sprintf("msg-%d", i)))
		require.NoError(t, err)
	}

	history, err := store.History(ctx, "conv-1", 0)
	require.NoError(t, err)
	require.Len(t, history, 5)
	for i := 0; i < 5; i++ {
		assert.Equal(t, fmt.Sprintf("msg-%d", i), history[i].Content)
	}

	// limit 取尾部
	tail, err := store.History(ctx, "conv-1", 2)
	require.NoError(t, err)
	require.Len(t, tail, 2)
	assert.Equal(t, "msg-3", tail[0].Content)
	assert.Equal(t, "msg-4", tail[1].Content)
}

func TestMemoryStore_AppendPairAtomic(t *testing.T) {
	store := NewMemoryStore(0)
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, newTestConversation("conv-1")))

	userMsg, asstMsg, err := store.AppendPair(ctx, "conv-1",
		types.NewUserMessage("question"),
		types.NewAssistantMessage("answer"),
		TurnMeta{Model: "deepseek-chat", PromptTokens: 7, CompletionTokens: 11})
	require.NoError(t, err)
	assert.Equal(t, types.RoleUser, userMsg.Role)
	assert.Equal(t, types.RoleAssistant, asstMsg.Role)
	assert.Less(t, userMsg.Seq, asstMsg.Seq)

	// 成对消息分别携带 token 计数，助手消息记录模型名
	assert.Equal(t, 7, userMsg.TokenCount)
	assert.Empty(t, userMsg.Model)
	assert.Equal(t, 11, asstMsg.TokenCount)
	assert.Equal(t, "deepseek-chat", asstMsg.Model)

	// 会话消息数随追加更新
	conv, err := store.Get(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, 2, conv.MessageCount)

	// 未知会话不落任何消息
	_, _, err = store.AppendPair(ctx, "conv-missing",
		types.NewUserMessage("q"), types.NewAssistantMessage("a"), TurnMeta{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_TrimPreservesSystemMessages(t *testing.T) {
	store := NewMemoryStore(4)
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, newTestConversation("conv-1")))

	_, err := store.AppendMessage(ctx, "conv-1", types.NewSystemMessage("persona"))
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		_, err := store.AppendMessage(ctx, "conv-1", types.NewUserMessage(fmt.Sprintf("u-%d", i)))
		require.NoError(t, err)
	}

	history, err := store.History(ctx, "conv-1", 0)
	require.NoError(t, err)

	require.Len(t, history, 5)
	assert.Equal(t, types.RoleSystem, history[0].Role)
	assert.Equal(t, "u-6", history[1].Content)
	assert.Equal(t, "u-9", history[4].Content)
}

func TestMemoryStore_DeleteAndList(t *testing.T) {
	store := NewMemoryStore(0)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, newTestConversation("conv-1")))
	require.NoError(t, store.Create(ctx, newTestConversation("conv-2")))
	other := newTestConversation("conv-3")
	other.UserID = "user-2"
	require.NoError(t, store.Create(ctx, other))

	// conv-2 最近更新，应排在前面
	_, err := store.AppendMessage(ctx, "conv-2", types.NewUserMessage("hi"))
	require.NoError(t, err)

	convs, err := store.List(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, convs, 2)
	assert.Equal(t, "conv-2", convs[0].ID)

	require.NoError(t, store.Delete(ctx, "conv-1"))
	assert.ErrorIs(t, store.Delete(ctx, "conv-1"), ErrNotFound)

	convs, err = store.List(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, convs, 1)
}

func TestMemoryStore_ClosedStore(t *testing.T) {
	store := NewMemoryStore(0)
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, newTestConversation("conv-1")))
	require.NoError(t, store.Close())

	assert.ErrorIs(t, store.Ping(ctx), ErrStoreClosed)
	_, err := store.AppendMessage(ctx, "conv-1", types.NewUserMessage("hi"))
	assert.ErrorIs(t, err, ErrStoreClosed)
}

func TestMemoryStore_ConcurrentAppendPairs(t *testing.T) {
	store := NewMemoryStore(1000)
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, newTestConversation("conv-1")))

	const writers = 20
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, err := store.AppendPair(ctx, "conv-1",
				types.NewUserMessage(fmt.Sprintf("q-%d", i)),
				types.NewAssistantMessage(fmt.Sprintf("a-%d", i)), TurnMeta{})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	history, err := store.History(ctx, "conv-1", 0)
	require.NoError(t, err)
	require.Len(t, history, writers*2)

	// 成对消息不交错：每个 user 后面紧跟同一轮的 assistant
	for i := 0; i < len(history); i += 2 {
		assert.Equal(t, types.RoleUser, history[i].Role)
		assert.Equal(t, types.RoleAssistant, history[i+1].Role)
		assert.Equal(t, history[i].Content[2:], history[i+1].Content[2:])
	}
}

func TestMemoryStore_ModelMessages(t *testing.T) {
	store := NewMemoryStore(0)
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, newTestConversation("conv-1")))

	_, _, err := store.AppendPair(ctx, "conv-1",
		types.NewUserMessage("hello"),
		types.NewAssistantMessage("hi there"), TurnMeta{})
	require.NoError(t, err)

	msgs, err := store.ModelMessages(ctx, "conv-1", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, types.RoleUser, msgs[0].Role)
	assert.Equal(t, "hello", msgs[0].Content)
	assert.Equal(t, types.RoleAssistant, msgs[1].Role)
}
