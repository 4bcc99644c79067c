package domain

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// UserRepository handles account persistence
type UserRepository interface {
	CreateUser(ctx context.Context, u *User) error
	GetUserByID(ctx context.Context, id primitive.ObjectID) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	// GetUsersByIDs silently skips ids that no longer resolve.
	GetUsersByIDs(ctx context.Context, ids []primitive.ObjectID) (map[primitive.ObjectID]*User, error)
	GetUsersByUsernames(ctx context.Context, usernames []string) ([]User, error)
	UpdateUser(ctx context.Context, u *User) error
	MarkVerified(ctx context.Context, id primitive.ObjectID) error
	DeleteUser(ctx context.Context, id primitive.ObjectID) error
}

// GroupUpdate holds the group fields to change; nil means unchanged.
type GroupUpdate struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	Image       *string `json:"image,omitempty"`
}

func (u GroupUpdate) Empty() bool {
	return u.Name == nil && u.Description == nil && u.Image == nil
}

// ChatroomRepository handles chatrooms. Every mutation touches a single
// document so members, admins and lastSeen always change together.
type ChatroomRepository interface {
	CreateChatroom(ctx context.Context, c *Chatroom) error
	GetChatroomByID(ctx context.Context, id primitive.ObjectID) (*Chatroom, error)
	FindDirectChatroom(ctx context.Context, a, b primitive.ObjectID) (*Chatroom, error)
	FindGroupByName(ctx context.Context, name string) (*Chatroom, error)
	ListChatroomsForUser(ctx context.Context, userID primitive.ObjectID) ([]Chatroom, error)

	// SetLastSeen writes only lastSeen.<userID>.
	SetLastSeen(ctx context.Context, chatroomID, userID primitive.ObjectID, at time.Time) error
	TouchActivity(ctx context.Context, chatroomID primitive.ObjectID, at time.Time) error

	AddMembers(ctx context.Context, chatroomID primitive.ObjectID, userIDs []primitive.ObjectID, at time.Time) error
	RemoveMember(ctx context.Context, chatroomID, userID primitive.ObjectID, at time.Time) error
	SetAdmin(ctx context.Context, chatroomID, userID primitive.ObjectID, admin bool, at time.Time) error
	UpdateGroup(ctx context.Context, chatroomID primitive.ObjectID, update GroupUpdate, at time.Time) error

	DeleteChatroom(ctx context.Context, id primitive.ObjectID) error
}

// MessageRepository handles message persistence and the read-state queries.
type MessageRepository interface {
	CreateMessage(ctx context.Context, m *Message) error
	GetMessageByID(ctx context.Context, id primitive.ObjectID) (*Message, error)
	// ListMessages returns the history ascending by createdAt.
	ListMessages(ctx context.Context, chatroomID primitive.ObjectID) ([]Message, error)
	// LastMessage returns nil, nil for an empty chatroom.
	LastMessage(ctx context.Context, chatroomID primitive.ObjectID) (*Message, error)
	// CountUnread counts messages created after since that userID did not send.
	CountUnread(ctx context.Context, chatroomID, userID primitive.ObjectID, since time.Time) (int64, error)

	// UpdateContent sets the content and editedAt and resets every edit-seen field.
	UpdateContent(ctx context.Context, id primitive.ObjectID, content string, at time.Time) (*Message, error)
	AddEditSeenBy(ctx context.Context, id, userID primitive.ObjectID) (*Message, error)
	SetEditSeenFlag(ctx context.Context, id primitive.ObjectID, owner bool) (*Message, error)

	DeleteMessage(ctx context.Context, id primitive.ObjectID) error
	DeleteMessagesByChatroom(ctx context.Context, chatroomID primitive.ObjectID) (int64, error)
}
