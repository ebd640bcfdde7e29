package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mekai/workforce/types"
)

// RedisStoreConfig Redis 存储配置
type RedisStoreConfig struct {
	Addr      string `json:"addr" yaml:"addr"`
	Password  string `json:"password" yaml:"password"`
	DB        int    `json:"db" yaml:"db"`
	PoolSize  int    `json:"pool_size" yaml:"pool_size"`
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix"`
}

// RedisStore 是基于 Redis 的会话存储.
// 适合分布式生产部署。
type RedisStore struct {
	client     *redis.Client
	keyPrefix  string
	maxHistory int
	logger     *zap.Logger

	// 每会话写锁，串行化本实例内同一会话的并发追加
	convLocks sync.Map
}

// NewRedisStore 创建 Redis 会话存储并验证连接
func NewRedisStore(cfg RedisStoreConfig, maxHistory int, logger *zap.Logger) (*RedisStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxHistory <= 0 {
		maxHistory = DefaultMaxHistory
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	keyPrefix := cfg.KeyPrefix
	if keyPrefix == "" {
		keyPrefix = "workforce:"
	}

	return &RedisStore{
		client:     client,
		keyPrefix:  keyPrefix,
		maxHistory: maxHistory,
		logger:     logger,
	}, nil
}

// NewRedisStoreWithClient 使用已有客户端创建存储，测试用。
func NewRedisStoreWithClient(client *redis.Client, keyPrefix string, maxHistory int, logger *zap.Logger) *RedisStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxHistory <= 0 {
		maxHistory = DefaultMaxHistory
	}
	if keyPrefix == "" {
		keyPrefix = "workforce:"
	}
	return &RedisStore{
		client:     client,
		keyPrefix:  keyPrefix,
		maxHistory: maxHistory,
		logger:     logger,
	}
}

var _ Store = (*RedisStore)(nil)

func (s *RedisStore) convKey(id string) string     { return s.keyPrefix + "conv:" + id }
func (s *RedisStore) messagesKey(id string) string { return s.keyPrefix + "msgs:" + id }
func (s *RedisStore) userKey(userID string) string { return s.keyPrefix + "user:" + userID }
func (s *RedisStore) seqKey() string               { return s.keyPrefix + "seq" }

func (s *RedisStore) lockConversation(id string) *sync.Mutex {
	v, _ := s.convLocks.LoadOrStore(id, &sync.Mutex{})
	return v.(*sync.Mutex)
}

func (s *RedisStore) Close() error { return s.client.Close() }

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Create(ctx context.Context, conv *Conversation) error {
	if conv == nil || conv.ID == "" {
		return ErrInvalidInput
	}
	now := time.Now()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = now
	}
	conv.UpdatedAt = now

	data, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("failed to marshal conversation: %w", err)
	}

	ok, err := s.client.SetNX(ctx, s.convKey(conv.ID), data, 0).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrAlreadyExists
	}

	return s.client.ZAdd(ctx, s.userKey(conv.UserID), redis.Z{
		Score:  float64(conv.UpdatedAt.UnixNano()),
		Member: conv.ID,
	}).Err()
}

func (s *RedisStore) Get(ctx context.Context, id string) (*Conversation, error) {
	data, err := s.client.Get(ctx, s.convKey(id)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var conv Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		return nil, fmt.Errorf("failed to unmarshal conversation: %w", err)
	}
	return &conv, nil
}

func (s *RedisStore) AppendMessage(ctx context.Context, conversationID string, msg types.Message) (*StoredMessage, error) {
	first, _, err := s.append(ctx, conversationID, TurnMeta{}, msg)
	return first, err
}

func (s *RedisStore) AppendPair(ctx context.Context, conversationID string, user, assistant types.Message, meta TurnMeta) (*StoredMessage, *StoredMessage, error) {
	return s.append(ctx, conversationID, meta, user, assistant)
}

func (s *RedisStore) append(ctx context.Context, conversationID string, meta TurnMeta, msgs ...types.Message) (*StoredMessage, *StoredMessage, error) {
	lock := s.lockConversation(conversationID)
	lock.Lock()
	defer lock.Unlock()

	conv, err := s.Get(ctx, conversationID)
	if err != nil {
		return nil, nil, err
	}

	var first, last *StoredMessage
	payloads := make([]interface{}, 0, len(msgs))
	for _, msg := range msgs {
		seq, err := s.client.Incr(ctx, s.seqKey()).Result()
		if err != nil {
			return nil, nil, err
		}
		stored := StoredMessage{
			ID:             uuid.New().String(),
			ConversationID: conversationID,
			Seq:            seq,
			Role:           msg.Role,
			Content:        msg.Content,
			CreatedAt:      time.Now(),
		}
		meta.apply(&stored)
		data, err := json.Marshal(&stored)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal message: %w", err)
		}
		payloads = append(payloads, data)
		if first == nil {
			copied := stored
			first = &copied
		}
		copied := stored
		last = &copied
	}

	// 单条 RPush 落两条消息，保证成对落盘
	if err := s.client.RPush(ctx, s.messagesKey(conversationID), payloads...).Err(); err != nil {
		return nil, nil, err
	}

	retained, err := s.trim(ctx, conversationID)
	if err != nil {
		return nil, nil, err
	}

	conv.UpdatedAt = time.Now()
	conv.MessageCount = retained
	convData, err := json.Marshal(conv)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal conversation: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.convKey(conversationID), convData, 0)
	pipe.ZAdd(ctx, s.userKey(conv.UserID), redis.Z{
		Score:  float64(conv.UpdatedAt.UnixNano()),
		Member: conversationID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, nil, err
	}
	return first, last, nil
}

// trim 重写消息列表以应用保留策略，返回保留的消息数。调用方持有会话锁。
func (s *RedisStore) trim(ctx context.Context, conversationID string) (int, error) {
	msgs, err := s.readAll(ctx, conversationID)
	if err != nil {
		return 0, err
	}
	trimmed := trimMessages(msgs, s.maxHistory)
	if len(trimmed) == len(msgs) {
		return len(msgs), nil
	}

	payloads := make([]interface{}, 0, len(trimmed))
	for i := range trimmed {
		data, err := json.Marshal(&trimmed[i])
		if err != nil {
			return 0, err
		}
		payloads = append(payloads, data)
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.messagesKey(conversationID))
	if len(payloads) > 0 {
		pipe.RPush(ctx, s.messagesKey(conversationID), payloads...)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return len(trimmed), nil
}

func (s *RedisStore) readAll(ctx context.Context, conversationID string) ([]StoredMessage, error) {
	raw, err := s.client.LRange(ctx, s.messagesKey(conversationID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]StoredMessage, 0, len(raw))
	for _, item := range raw {
		var msg StoredMessage
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			s.logger.Warn("skipping corrupt message entry",
				zap.String("conversation_id", conversationID),
				zap.Error(err))
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}

func (s *RedisStore) History(ctx context.Context, conversationID string, limit int) ([]StoredMessage, error) {
	if _, err := s.Get(ctx, conversationID); err != nil {
		return nil, err
	}
	msgs, err := s.readAll(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	return tailMessages(msgs, limit), nil
}

func (s *RedisStore) ModelMessages(ctx context.Context, conversationID string, limit int) ([]types.Message, error) {
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

func (s *RedisStore) Delete(ctx context.Context, conversationID string) error {
	conv, err := s.Get(ctx, conversationID)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.convKey(conversationID))
	pipe.Del(ctx, s.messagesKey(conversationID))
	pipe.ZRem(ctx, s.userKey(conv.UserID), conversationID)
	_, err = pipe.Exec(ctx)
	if err == nil {
		s.convLocks.Delete(conversationID)
	}
	return err
}

func (s *RedisStore) List(ctx context.Context, userID string) ([]Conversation, error) {
	// ZSet 按 updated_at 打分，倒序即最近更新在前
	ids, err := s.client.ZRevRange(ctx, s.userKey(userID), 0, -1).Result()
	if err != nil {
		return nil, err
	}

	out := make([]Conversation, 0, len(ids))
	for _, id := range ids {
		conv, err := s.Get(ctx, id)
		if err == ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, *conv)
	}
	return out, nil
}
