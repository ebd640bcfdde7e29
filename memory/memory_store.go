package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mekai/workforce/types"
)

// MemoryStore 是 Store 的内存实现.
// 适合开发和测试。数据在重启时丢失。
type MemoryStore struct {
	mu         sync.RWMutex
	convs      map[string]*Conversation
	messages   map[string][]StoredMessage // conversationID -> ordered messages
	seq        int64
	maxHistory int
	closed     bool

	// 每会话写锁，串行化同一会话的并发追加
	convLocks sync.Map // conversationID -> *sync.Mutex
}

// NewMemoryStore 创建新的内存会话存储
func NewMemoryStore(maxHistory int) *MemoryStore {
	if maxHistory <= 0 {
		maxHistory = DefaultMaxHistory
	}
	return &MemoryStore{
		convs:      make(map[string]*Conversation),
		messages:   make(map[string][]StoredMessage),
		maxHistory: maxHistory,
	}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) lockConversation(id string) *sync.Mutex {
	v, _ := s.convLocks.LoadOrStore(id, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// Close 关闭存储
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Ping 检查存储是否健康
func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

func (s *MemoryStore) Create(_ context.Context, conv *Conversation) error {
	if conv == nil || conv.ID == "" {
		return ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	if _, ok := s.convs[conv.ID]; ok {
		return ErrAlreadyExists
	}

	now := time.Now()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = now
	}
	conv.UpdatedAt = now

	copied := *conv
	s.convs[conv.ID] = &copied
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	conv, ok := s.convs[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *conv
	return &copied, nil
}

func (s *MemoryStore) AppendMessage(ctx context.Context, conversationID string, msg types.Message) (*StoredMessage, error) {
	lock := s.lockConversation(conversationID)
	lock.Lock()
	defer lock.Unlock()

	stored, _, err := s.appendLocked(conversationID, []types.Message{msg}, TurnMeta{})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

func (s *MemoryStore) AppendPair(ctx context.Context, conversationID string, user, assistant types.Message, meta TurnMeta) (*StoredMessage, *StoredMessage, error) {
	lock := s.lockConversation(conversationID)
	lock.Lock()
	defer lock.Unlock()

	return s.appendLocked(conversationID, []types.Message{user, assistant}, meta)
}

// appendLocked 在持有会话锁的情况下追加消息并应用裁剪策略。
// 返回第一条与最后一条追加的消息。
func (s *MemoryStore) appendLocked(conversationID string, msgs []types.Message, meta TurnMeta) (*StoredMessage, *StoredMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, nil, ErrStoreClosed
	}
	conv, ok := s.convs[conversationID]
	if !ok {
		return nil, nil, ErrNotFound
	}

	var first, last *StoredMessage
	for _, msg := range msgs {
		s.seq++
		stored := StoredMessage{
			ID:             uuid.New().String(),
			ConversationID: conversationID,
			Seq:            s.seq,
			Role:           msg.Role,
			Content:        msg.Content,
			CreatedAt:      time.Now(),
		}
		meta.apply(&stored)
		s.messages[conversationID] = append(s.messages[conversationID], stored)
		if first == nil {
			copied := stored
			first = &copied
		}
		copied := stored
		last = &copied
	}

	s.messages[conversationID] = trimMessages(s.messages[conversationID], s.maxHistory)
	conv.MessageCount = len(s.messages[conversationID])
	conv.UpdatedAt = time.Now()
	return first, last, nil
}

func (s *MemoryStore) History(_ context.Context, conversationID string, limit int) ([]StoredMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	if _, ok := s.convs[conversationID]; !ok {
		return nil, ErrNotFound
	}

	msgs := tailMessages(s.messages[conversationID], limit)
	out := make([]StoredMessage, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (s *MemoryStore) ModelMessages(ctx context.Context, conversationID string, limit int) ([]types.Message, error) {
	msgs, err := s.History(ctx, conversationID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]types.Message, 0, len(msgs))
	for i := range msgs {
		out = append(out, msgs[i].ToModelMessage())
	}
	return out, nil
}

func (s *MemoryStore) Delete(_ context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	if _, ok := s.convs[conversationID]; !ok {
		return ErrNotFound
	}
	delete(s.convs, conversationID)
	delete(s.messages, conversationID)
	s.convLocks.Delete(conversationID)
	return nil
}

func (s *MemoryStore) List(_ context.Context, userID string) ([]Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	var out []Conversation
	for _, conv := range s.convs {
		if conv.UserID == userID {
			out = append(out, *conv)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}
