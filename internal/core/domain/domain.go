package domain

import (
	"sort"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	MaxGroupNameLength        = 50
	MaxGroupDescriptionLength = 200
	DefaultVolume             = 50
	DefaultLanguage           = "en"
)

// ParseID parses a hex object id, mapping any failure to ErrInvalidID.
func ParseID(hex string) (primitive.ObjectID, error) {
	id, err := primitive.ObjectIDFromHex(hex)
	if err != nil {
		return primitive.NilObjectID, ErrInvalidID
	}
	return id, nil
}

// User is an account. Accounts live in the SQL account store; chatrooms only
// keep the raw id, so a deleted account leaves "ghost" ids behind.
type User struct {
	ID           primitive.ObjectID `json:"id"`
	Email        string             `json:"email"`
	Username     string             `json:"username"`
	PasswordHash string             `json:"-"`
	Avatar       *string            `json:"avatar"`
	Verified     bool               `json:"verified"`
	Volume       int                `json:"volume"`
	Language     string             `json:"language"`
	CreatedAt    time.Time          `json:"createdAt"`
	UpdatedAt    time.Time          `json:"updatedAt"`
}

func NewUser(email, username, passwordHash string, now time.Time) *User {
	return &User{
		ID:           primitive.NewObjectID(),
		Email:        strings.ToLower(strings.TrimSpace(email)),
		Username:     strings.TrimSpace(username),
		PasswordHash: passwordHash,
		Volume:       DefaultVolume,
		Language:     DefaultLanguage,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// PublicUser is the subset of a user other members may see.
type PublicUser struct {
	ID               primitive.ObjectID `json:"id"`
	Username         string             `json:"username"`
	Avatar           *string            `json:"avatar"`
	IsDeletedAccount bool               `json:"isDeletedAccount,omitempty"`
}

func (u *User) Public() PublicUser {
	return PublicUser{ID: u.ID, Username: u.Username, Avatar: u.Avatar}
}

// DeletedUser is what readers see for an id whose account no longer resolves.
func DeletedUser(id primitive.ObjectID) PublicUser {
	return PublicUser{ID: id, IsDeletedAccount: true}
}

// Chatroom is either a direct chat (exactly two members, no group fields)
// or a group with a name, a creator and an admin set.
type Chatroom struct {
	ID           primitive.ObjectID   `bson:"_id,omitempty" json:"id"`
	Members      []primitive.ObjectID `bson:"members" json:"members"`
	IsGroup      bool                 `bson:"isGroup" json:"isGroup"`
	LastSeen     map[string]time.Time `bson:"lastSeen" json:"lastSeen"`
	LastActivity time.Time            `bson:"lastActivity" json:"lastActivity"`
	CreatedAt    time.Time            `bson:"createdAt" json:"createdAt"`

	// direct chats only
	PairKey string `bson:"pairKey,omitempty" json:"-"`

	// groups only
	Name        string               `bson:"name,omitempty" json:"name,omitempty"`
	Description string               `bson:"description,omitempty" json:"description,omitempty"`
	Image       *string              `bson:"image,omitempty" json:"image,omitempty"`
	Creator     primitive.ObjectID   `bson:"creator,omitempty" json:"creator,omitempty"`
	Admins      []primitive.ObjectID `bson:"admins,omitempty" json:"admins,omitempty"`
}

func NewDirectChatroom(a, b primitive.ObjectID, now time.Time) *Chatroom {
	epoch := time.Unix(0, 0).UTC()
	return &Chatroom{
		ID:      primitive.NewObjectID(),
		Members: []primitive.ObjectID{a, b},
		LastSeen: map[string]time.Time{
			a.Hex(): epoch,
			b.Hex(): epoch,
		},
		LastActivity: now,
		CreatedAt:    now,
		PairKey:      PairKey(a, b),
	}
}

func NewGroupChatroom(creator primitive.ObjectID, name, description string, now time.Time) *Chatroom {
	return &Chatroom{
		ID:           primitive.NewObjectID(),
		Members:      []primitive.ObjectID{creator},
		IsGroup:      true,
		LastSeen:     map[string]time.Time{creator.Hex(): now},
		LastActivity: now,
		CreatedAt:    now,
		Name:         name,
		Description:  description,
		Creator:      creator,
		Admins:       []primitive.ObjectID{creator},
	}
}

// PairKey identifies the unordered pair of a direct chat.
func PairKey(a, b primitive.ObjectID) string {
	ids := []string{a.Hex(), b.Hex()}
	sort.Strings(ids)
	return ids[0] + ":" + ids[1]
}

func (c *Chatroom) IsMember(userID primitive.ObjectID) bool {
	return containsID(c.Members, userID)
}

// LastSeenOf returns the member's last-seen mark, or the epoch when the entry
// is missing so that the whole history counts as unread.
func (c *Chatroom) LastSeenOf(userID primitive.ObjectID) time.Time {
	if t, ok := c.LastSeen[userID.Hex()]; ok {
		return t
	}
	return time.Unix(0, 0).UTC()
}

// Partner returns the other member of a direct chat.
func (c *Chatroom) Partner(userID primitive.ObjectID) (primitive.ObjectID, bool) {
	if c.IsGroup {
		return primitive.NilObjectID, false
	}
	for _, m := range c.Members {
		if m != userID {
			return m, true
		}
	}
	return primitive.NilObjectID, false
}

// MessageType classifies content. Business logic never branches on it.
type MessageType string

const (
	MessageTypeText   MessageType = "text"
	MessageTypeImage  MessageType = "image"
	MessageTypeAudio  MessageType = "audio"
	MessageTypeSystem MessageType = "system"
)

type Message struct {
	ID              primitive.ObjectID  `bson:"_id,omitempty" json:"id"`
	ChatroomID      primitive.ObjectID  `bson:"chatroomId" json:"chatroomId"`
	SenderID        *primitive.ObjectID `bson:"sender" json:"senderId"`
	Content         string              `bson:"content" json:"content"`
	Type            MessageType         `bson:"messageType" json:"messageType"`
	IsSystemMessage bool                `bson:"isSystemMessage" json:"isSystemMessage"`
	CreatedAt       time.Time           `bson:"createdAt" json:"createdAt"`
	UpdatedAt       time.Time           `bson:"updatedAt" json:"updatedAt"`
	// EditedAt changes only with the content; edit-seen acks leave it alone.
	EditedAt          *time.Time           `bson:"editedAt" json:"editedAt"`
	EditSeenBy        []primitive.ObjectID `bson:"editSeenBy" json:"editSeenBy"`
	EditSeenByOwner   bool                 `bson:"editSeenByOwner" json:"editSeenByOwner"`
	EditSeenByPartner bool                 `bson:"editSeenByPartner" json:"editSeenByPartner"`

	Sender *PublicUser `bson:"-" json:"sender,omitempty"`
}

func NewMessage(chatroomID primitive.ObjectID, sender *primitive.ObjectID, content string, kind MessageType, now time.Time) *Message {
	return &Message{
		ID:              primitive.NewObjectID(),
		ChatroomID:      chatroomID,
		SenderID:        sender,
		Content:         content,
		Type:            kind,
		IsSystemMessage: kind == MessageTypeSystem,
		CreatedAt:       now,
		UpdatedAt:       now,
		EditSeenBy:      []primitive.ObjectID{},
	}
}

func (m *Message) IsEdited() bool { return m.EditedAt != nil }

// SentBy reports whether userID authored the message. System messages have no author.
func (m *Message) SentBy(userID primitive.ObjectID) bool {
	return m.SenderID != nil && *m.SenderID == userID
}

func containsID(ids []primitive.ObjectID, id primitive.ObjectID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
