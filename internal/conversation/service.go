package conversation

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"englishcorner/internal/core"
)

const (
	// DefaultTitle is used when no title can be derived.
	DefaultTitle = "Untitled Conversation"

	DefaultListLimit   = 20
	DefaultSearchLimit = 10
	MaxListLimit       = 100
)

// Service applies title, ordering and ownership rules on top of a Store.
type Service struct {
	store Store
	now   func() time.Time
}

func NewService(store Store) *Service {
	return &Service{store: store, now: time.Now}
}

func (s *Service) message(role core.Role, content string) Message {
	return Message{Role: role, Content: content, Timestamp: s.now().UTC()}
}

// Start creates a conversation whose first turn is the user's message.
func (s *Service) Start(ctx context.Context, userID int64, userMessage string) (*Conversation, error) {
	return s.Create(ctx, userID, "", []Message{s.message(core.RoleUser, userMessage)})
}

// Create stores a new conversation. An empty title is derived from the first message.
func (s *Service) Create(ctx context.Context, userID int64, title string, msgs []Message) (*Conversation, error) {
	if title == "" && len(msgs) > 0 {
		title = Title(msgs[0].Content)
	}
	if strings.TrimSpace(title) == "" {
		title = DefaultTitle
	}
	now := s.now().UTC()
	c := &Conversation{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     title,
		Messages:  nonNil(msgs),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.Create(ctx, c); err != nil {
		return nil, err
	}
	slog.Debug("conversation created", "conversation_id", c.ID, "user_id", userID)
	return c, nil
}

func (s *Service) Get(ctx context.Context, userID int64, id string) (*Conversation, error) {
	return s.store.Get(ctx, userID, id)
}

// List pages through the user's conversations, newest activity first.
func (s *Service) List(ctx context.Context, userID int64, limit, offset int) ([]*Conversation, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	limit = min(limit, MaxListLimit)
	offset = max(offset, 0)
	return s.store.List(ctx, userID, limit, offset)
}

func (s *Service) Search(ctx context.Context, userID int64, query string, limit int) ([]*Conversation, error) {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	return s.store.Search(ctx, userID, strings.TrimSpace(query), min(limit, MaxListLimit))
}

func (s *Service) Count(ctx context.Context, userID int64) (int64, error) {
	return s.store.Count(ctx, userID)
}

// AppendUser adds a user turn to an existing conversation.
func (s *Service) AppendUser(ctx context.Context, userID int64, id, content string) (*Conversation, error) {
	return s.Append(ctx, userID, id, s.message(core.RoleUser, content))
}

// AppendAssistant adds an assistant reply to an existing conversation.
func (s *Service) AppendAssistant(ctx context.Context, userID int64, id, content string) (*Conversation, error) {
	return s.Append(ctx, userID, id, s.message(core.RoleAssistant, content))
}

func (s *Service) Append(ctx context.Context, userID int64, id string, msgs ...Message) (*Conversation, error) {
	return s.store.Append(ctx, userID, id, msgs, s.now().UTC())
}

// AddMessages appends to conversation id, creating a new conversation when id is
// empty or unknown to the user.
func (s *Service) AddMessages(ctx context.Context, userID int64, id string, msgs ...Message) (*Conversation, error) {
	if id != "" {
		c, err := s.Append(ctx, userID, id, msgs...)
		if !errors.Is(err, ErrNotFound) {
			return c, err
		}
	}
	return s.Create(ctx, userID, "", msgs)
}

// Exchange records one user message and its reply, creating the
// conversation when id is empty or unknown.
func (s *Service) Exchange(ctx context.Context, userID int64, id, userMessage, reply string) (*Conversation, error) {
	return s.AddMessages(ctx, userID, id,
		s.message(core.RoleUser, userMessage),
		s.message(core.RoleAssistant, reply),
	)
}

func (s *Service) Delete(ctx context.Context, userID int64, id string) error {
	return s.store.Delete(ctx, userID, id)
}

// Clear deletes every conversation of the user.
func (s *Service) Clear(ctx context.Context, userID int64) (int64, error) {
	n, err := s.store.DeleteAll(ctx, userID)
	if err != nil {
		return 0, err
	}
	slog.Info("conversations cleared", "user_id", userID, "count", n)
	return n, nil
}
