package memory

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/mekai/workforce/types"
)

// TestProperty_Trim_HistoryInvariants 验证裁剪策略的不变量:
// 任意追加序列之后，system 消息全部保留，非 system 消息不超过上限，
// 且存活消息保持插入序（Seq 严格递增）。
func TestProperty_Trim_HistoryInvariants(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		maxHistory := rapid.IntRange(1, 10).Draw(rt, "maxHistory")
		store := NewMemoryStore(maxHistory)
		ctx := context.Background()
		require.NoError(rt, store.Create(ctx, newTestConversation("conv-1")))

		numMessages := rapid.IntRange(0, 40).Draw(rt, "numMessages")
		systemCount := 0
		nonSystemContents := []string{}

		for i := 0; i < numMessages; i++ {
			var msg types.Message
			if rapid.Float64Range(0, 1).Draw(rt, fmt.Sprintf("isSystem_%d", i)) < 0.1 {
				msg = types.NewSystemMessage(fmt.Sprintf("sys-%d", i))
				systemCount++
			} else {
				content := fmt.Sprintf("msg-%d", i)
				msg = types.NewUserMessage(content)
				nonSystemContents = append(nonSystemContents, content)
			}
			_, err := store.AppendMessage(ctx, "conv-1", msg)
			require.NoError(rt, err)
		}

		history, err := store.History(ctx, "conv-1", 0)
		require.NoError(rt, err)

		gotSystem := 0
		gotNonSystem := 0
		var lastSeq int64
		for _, m := range history {
			require.Greater(rt, m.Seq, lastSeq, "messages must stay in insertion order")
			lastSeq = m.Seq
			if m.Role == types.RoleSystem {
				gotSystem++
			} else {
				gotNonSystem++
			}
		}

		require.Equal(rt, systemCount, gotSystem, "system messages must never be trimmed")
		require.LessOrEqual(rt, gotNonSystem, maxHistory)

		// 存活的非 system 消息必须是最近追加的后缀
		expected := nonSystemContents
		if len(expected) > maxHistory {
			expected = expected[len(expected)-maxHistory:]
		}
		idx := 0
		for _, m := range history {
			if m.Role != types.RoleSystem {
				require.Equal(rt, expected[idx], m.Content, "trim must drop oldest non-system first")
				idx++
			}
		}
	})
}
