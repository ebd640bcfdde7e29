package memory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/mekai/workforce/types"
)

// conversationModel 是会话表的 gorm 模型. UserID 为空表示匿名会话.
type conversationModel struct {
	ID           string         `gorm:"primaryKey;size:64"`
	EmployeeID   string         `gorm:"size:64;index;not null"`
	UserID       string         `gorm:"size:64;index"`
	OrgID        string         `gorm:"size:64;index"`
	Title        string         `gorm:"size:255"`
	MessageCount int            `gorm:"default:0"`
	Metadata     map[string]any `gorm:"serializer:json"`
	CreatedAt    time.Time
	UpdatedAt    time.Time `gorm:"index"`
}

func (conversationModel) TableName() string { return "conversations" }

// messageModel 是消息表的 gorm 模型. Seq 由自增主键提供插入序.
type messageModel struct {
	Seq            int64          `gorm:"primaryKey;autoIncrement"`
	ID             string         `gorm:"size:64;uniqueIndex;not null"`
	ConversationID string         `gorm:"size:64;index;not null"`
	Role           string         `gorm:"size:16;not null"`
	Content        string         `gorm:"type:text"`
	TokenCount     int            `gorm:"default:0"`
	Model          string         `gorm:"size:64"`
	Metadata       map[string]any `gorm:"serializer:json"`
	CreatedAt      time.Time
}

func (messageModel) TableName() string { return "conversation_messages" }

// GormStore 将会话持久化到关系数据库.
// 同一会话的写串行化依赖数据库事务。
type GormStore struct {
	db         *gorm.DB
	logger     *zap.Logger
	maxHistory int
}

// NewGormStore 创建 gorm 会话存储并迁移表结构.
func NewGormStore(db *gorm.DB, maxHistory int, logger *zap.Logger) (*GormStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxHistory <= 0 {
		maxHistory = DefaultMaxHistory
	}
	if err := db.AutoMigrate(&conversationModel{}, &messageModel{}); err != nil {
		return nil, fmt.Errorf("conversation schema migration failed: %w", err)
	}
	return &GormStore{db: db, logger: logger, maxHistory: maxHistory}, nil
}

var _ Store = (*GormStore)(nil)

func (s *GormStore) Close() error { return nil }

func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *GormStore) Create(ctx context.Context, conv *Conversation) error {
	if conv == nil || conv.ID == "" {
		return ErrInvalidInput
	}
	now := time.Now()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = now
	}
	conv.UpdatedAt = now

	err := s.db.WithContext(ctx).Create(&conversationModel{
		ID:         conv.ID,
		EmployeeID: conv.EmployeeID,
		UserID:     conv.UserID,
		OrgID:      conv.OrgID,
		Title:      conv.Title,
		Metadata:   conv.Metadata,
		CreatedAt:  conv.CreatedAt,
		UpdatedAt:  conv.UpdatedAt,
	}).Error
	if err != nil && errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrAlreadyExists
	}
	return err
}

func (s *GormStore) Get(ctx context.Context, id string) (*Conversation, error) {
	var m conversationModel
	err := s.db.WithContext(ctx).First(&m, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return modelToConversation(&m), nil
}

func (s *GormStore) AppendMessage(ctx context.Context, conversationID string, msg types.Message) (*StoredMessage, error) {
	var stored *StoredMessage
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		stored, _, err = appendTx(tx, conversationID, s.maxHistory, TurnMeta{}, msg)
		return err
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

func (s *GormStore) AppendPair(ctx context.Context, conversationID string, user, assistant types.Message, meta TurnMeta) (*StoredMessage, *StoredMessage, error) {
	var first, last *StoredMessage
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		first, last, err = appendTx(tx, conversationID, s.maxHistory, meta, user, assistant)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return first, last, nil
}

// appendTx 在事务内追加消息、应用裁剪策略并刷新会话的时间与消息数。
func appendTx(tx *gorm.DB, conversationID string, maxHistory int, meta TurnMeta, msgs ...types.Message) (*StoredMessage, *StoredMessage, error) {
	var conv conversationModel
	if err := tx.First(&conv, "id = ?", conversationID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, err
	}

	var first, last *StoredMessage
	for _, msg := range msgs {
		stored := StoredMessage{
			ID:             uuid.New().String(),
			ConversationID: conversationID,
			Role:           msg.Role,
			Content:        msg.Content,
			CreatedAt:      time.Now(),
		}
		meta.apply(&stored)
		row := messageModel{
			ID:             stored.ID,
			ConversationID: stored.ConversationID,
			Role:           string(stored.Role),
			Content:        stored.Content,
			TokenCount:     stored.TokenCount,
			Model:          stored.Model,
			Metadata:       stored.Metadata,
			CreatedAt:      stored.CreatedAt,
		}
		if err := tx.Create(&row).Error; err != nil {
			return nil, nil, err
		}
		saved := rowToStored(&row)
		if first == nil {
			first = saved
		}
		last = saved
	}

	if err := trimTx(tx, conversationID, maxHistory); err != nil {
		return nil, nil, err
	}

	var total int64
	if err := tx.Model(&messageModel{}).
		Where("conversation_id = ?", conversationID).
		Count(&total).Error; err != nil {
		return nil, nil, err
	}
	if err := tx.Model(&conversationModel{}).
		Where("id = ?", conversationID).
		Updates(map[string]interface{}{
			"updated_at":    time.Now(),
			"message_count": total,
		}).Error; err != nil {
		return nil, nil, err
	}
	return first, last, nil
}

// trimTx 删除超出保留上限的最老非 system 消息。
func trimTx(tx *gorm.DB, conversationID string, maxHistory int) error {
	var count int64
	if err := tx.Model(&messageModel{}).
		Where("conversation_id = ? AND role <> ?", conversationID, string(types.RoleSystem)).
		Count(&count).Error; err != nil {
		return err
	}
	excess := count - int64(maxHistory)
	if excess <= 0 {
		return nil
	}

	var seqs []int64
	if err := tx.Model(&messageModel{}).
		Where("conversation_id = ? AND role <> ?", conversationID, string(types.RoleSystem)).
		Order("seq ASC").
		Limit(int(excess)).
		Pluck("seq", &seqs).Error; err != nil {
		return err
	}
	return tx.Where("seq IN ?", seqs).Delete(&messageModel{}).Error
}

func (s *GormStore) History(ctx context.Context, conversationID string, limit int) ([]StoredMessage, error) {
	if _, err := s.Get(ctx, conversationID); err != nil {
		return nil, err
	}

	q := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("seq DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var rows []messageModel
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}

	// 倒序查询取尾部，再反转为插入序
	out := make([]StoredMessage, len(rows))
	for i, row := range rows {
		out[len(rows)-1-i] = *rowToStored(&row)
	}
	return out, nil
}

func (s *GormStore) ModelMessages(ctx context.Context, conversationID string, limit int) ([]types.Message, error) {
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

func (s *GormStore) Delete(ctx context.Context, conversationID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Delete(&conversationModel{}, "id = ?", conversationID)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return tx.Where("conversation_id = ?", conversationID).Delete(&messageModel{}).Error
	})
}

func (s *GormStore) List(ctx context.Context, userID string) ([]Conversation, error) {
	var rows []conversationModel
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("updated_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]Conversation, 0, len(rows))
	for i := range rows {
		out = append(out, *modelToConversation(&rows[i]))
	}
	return out, nil
}

func modelToConversation(m *conversationModel) *Conversation {
	return &Conversation{
		ID:           m.ID,
		EmployeeID:   m.EmployeeID,
		UserID:       m.UserID,
		OrgID:        m.OrgID,
		Title:        m.Title,
		MessageCount: m.MessageCount,
		Metadata:     m.Metadata,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func rowToStored(row *messageModel) *StoredMessage {
	return &StoredMessage{
		ID:             row.ID,
		ConversationID: row.ConversationID,
		Seq:            row.Seq,
		Role:           types.Role(row.Role),
		Content:        row.Content,
		TokenCount:     row.TokenCount,
		Model:          row.Model,
		Metadata:       row.Metadata,
		CreatedAt:      row.CreatedAt,
	}
}
