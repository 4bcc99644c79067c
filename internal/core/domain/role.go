package domain

import "go.mongodb.org/mongo-driver/bson/primitive"

// Role is a user's standing in a chatroom. Roles are ordered: every role
// holds the permissions of the ones below it.
type Role int

const (
	RoleNonMember Role = iota
	RoleMember
	RoleAdmin
	RoleOwner
)

func (r Role) String() string {
	switch r {
	case RoleOwner:
		return "owner"
	case RoleAdmin:
		return "admin"
	case RoleMember:
		return "member"
	default:
		return "non-member"
	}
}

func (r Role) AtLeast(other Role) bool { return r >= other }

// RoleOf is the single authority for roles. Direct chat members are plain members.
func RoleOf(c *Chatroom, userID primitive.ObjectID) Role {
	if c == nil || !c.IsMember(userID) {
		return RoleNonMember
	}
	if !c.IsGroup {
		return RoleMember
	}
	if c.Creator == userID {
		return RoleOwner
	}
	if containsID(c.Admins, userID) {
		return RoleAdmin
	}
	return RoleMember
}
