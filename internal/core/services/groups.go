package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Khambazarov/hello-word-sub000/internal/core/contracts"
	"github.com/Khambazarov/hello-word-sub000/internal/core/domain"
	"github.com/Khambazarov/hello-word-sub000/pkg/logging"
)

// MemberView is one row of a group's member list.
type MemberView struct {
	domain.PublicUser
	Role   string `json:"role"`
	Online bool   `json:"online"`
}

// GroupService manages group membership, roles and metadata. Every mutation
// writes one document, posts one system message and emits one event.
type GroupService struct {
	log       *slog.Logger
	users     domain.UserRepository
	chatrooms domain.ChatroomRepository
	messages  domain.MessageRepository
	sender    *MessageService
	notifier  *Notifier
	presence  contracts.PresenceStore
	now       func() time.Time
}

func NewGroupService(
	log *slog.Logger,
	users domain.UserRepository,
	chatrooms domain.ChatroomRepository,
	messages domain.MessageRepository,
	sender *MessageService,
	notifier *Notifier,
	presence contracts.PresenceStore,
) *GroupService {
	return &GroupService{
		log:       log,
		users:     users,
		chatrooms: chatrooms,
		messages:  messages,
		sender:    sender,
		notifier:  notifier,
		presence:  presence,
		now:       clock,
	}
}

func validateGroupName(name string) error {
	if name == "" {
		return domain.Validation("group name is required")
	}
	if utf8.RuneCountInString(name) > domain.MaxGroupNameLength {
		return domain.Validation(fmt.Sprintf("group name must be at most %d characters", domain.MaxGroupNameLength))
	}
	return nil
}

func validateGroupDescription(description string) error {
	if utf8.RuneCountInString(description) > domain.MaxGroupDescriptionLength {
		return domain.Validation(fmt.Sprintf("group description must be at most %d characters", domain.MaxGroupDescriptionLength))
	}
	return nil
}

// ensureNameFree rejects a name held by another group. The unique index
// catches whatever slips past this check.
func (s *GroupService) ensureNameFree(ctx context.Context, name string, self primitive.ObjectID) error {
	existing, err := s.chatrooms.FindGroupByName(ctx, name)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return nil
	case err != nil:
		return err
	case existing.ID != self:
		return domain.ErrGroupNameTaken
	default:
		return nil
	}
}

// loadGroup fetches a group and checks the acting user's role.
func (s *GroupService) loadGroup(ctx context.Context, groupID, actingUserID primitive.ObjectID, minRole domain.Role, denied string) (*domain.Chatroom, domain.Role, error) {
	room, err := s.chatrooms.GetChatroomByID(ctx, groupID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.RoleNonMember, domain.ErrGroupNotFound
	}
	if err != nil {
		return nil, domain.RoleNonMember, err
	}
	if !room.IsGroup {
		return nil, domain.RoleNonMember, domain.ErrGroupNotFound
	}
	role := domain.RoleOf(room, actingUserID)
	if role == domain.RoleNonMember {
		return nil, role, domain.ErrNotMember
	}
	if !role.AtLeast(minRole) {
		return nil, role, domain.Forbidden(denied)
	}
	return room, role, nil
}

// loadTarget resolves a username to a current member of the group.
func (s *GroupService) loadTarget(ctx context.Context, room *domain.Chatroom, username string) (*domain.User, error) {
	target, err := s.users.GetUserByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		return nil, err
	}
	if !room.IsMember(target.ID) {
		return nil, domain.NotFound("user is not a member of this group")
	}
	return target, nil
}

func (s *GroupService) CreateGroupChat(ctx context.Context, creatorID primitive.ObjectID, name, description, welcome string) (primitive.ObjectID, error) {
	ctx, span := tracer.Start(ctx, "GroupService.CreateGroupChat", trace.WithAttributes(
		attribute.String("user_id", creatorID.Hex()),
	))
	defer span.End()
	const op = "groups - create"

	name = strings.TrimSpace(name)
	description = strings.TrimSpace(description)
	if err := validateGroupName(name); err != nil {
		return primitive.NilObjectID, fail(ctx, s.log, span, op, err, logging.User(creatorID.Hex()))
	}
	if err := validateGroupDescription(description); err != nil {
		return primitive.NilObjectID, fail(ctx, s.log, span, op, err, logging.User(creatorID.Hex()))
	}
	if err := s.ensureNameFree(ctx, name, primitive.NilObjectID); err != nil {
		return primitive.NilObjectID, fail(ctx, s.log, span, op, err, logging.User(creatorID.Hex()), "name", name)
	}

	room := domain.NewGroupChatroom(creatorID, name, description, s.now())
	if err := s.chatrooms.CreateChatroom(ctx, room); err != nil {
		return primitive.NilObjectID, fail(ctx, s.log, span, op, err, logging.User(creatorID.Hex()), "name", name)
	}
	s.log.InfoContext(ctx, op+" - success", logging.Chatroom(room.ID.Hex()), logging.User(creatorID.Hex()))

	if welcome = strings.TrimSpace(welcome); welcome != "" {
		if _, err := s.sender.post(ctx, room, &creatorID, welcome, s.sender.classify(welcome)); err != nil {
			return room.ID, fail(ctx, s.log, span, op+" welcome", err, logging.Chatroom(room.ID.Hex()))
		}
	} else {
		s.notifier.NotifyListUpdate(ctx, room.ID, creatorID)
	}
	return room.ID, nil
}

// Invite adds users by username and returns the usernames actually added.
// Unknown users and existing members are skipped.
func (s *GroupService) Invite(ctx context.Context, groupID, actingUserID primitive.ObjectID, usernames []string) ([]string, error) {
	ctx, span := tracer.Start(ctx, "GroupService.Invite", trace.WithAttributes(
		attribute.String("chatroom_id", groupID.Hex()),
		attribute.String("user_id", actingUserID.Hex()),
		attribute.Int("requested", len(usernames)),
	))
	defer span.End()
	const op = "groups - invite"

	room, _, err := s.loadGroup(ctx, groupID, actingUserID, domain.RoleAdmin, "only admins can invite members")
	if err != nil {
		return nil, fail(ctx, s.log, span, op, err, logging.Chatroom(groupID.Hex()), logging.User(actingUserID.Hex()))
	}

	seen := map[string]bool{}
	var names []string
	for _, n := range usernames {
		n = strings.TrimSpace(n)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		names = append(names, n)
	}
	found, err := s.users.GetUsersByUsernames(ctx, names)
	if err != nil {
		return nil, fail(ctx, s.log, span, op, err, logging.Chatroom(groupID.Hex()))
	}
	// keep the caller's order
	byName := make(map[string]domain.User, len(found))
	for _, u := range found {
		byName[u.Username] = u
	}
	var (
		ids     []primitive.ObjectID
		added   []string
		publics []domain.PublicUser
	)
	for _, n := range names {
		u, ok := byName[n]
		if !ok || room.IsMember(u.ID) {
			continue
		}
		ids = append(ids, u.ID)
		added = append(added, u.Username)
		publics = append(publics, u.Public())
	}
	if len(ids) == 0 {
		return nil, fail(ctx, s.log, span, op, domain.Validation("no new members to invite"), logging.Chatroom(groupID.Hex()))
	}

	if err := s.chatrooms.AddMembers(ctx, room.ID, ids, s.now()); err != nil {
		return nil, fail(ctx, s.log, span, op, err, logging.Chatroom(groupID.Hex()))
	}
	room.Members = append(room.Members, ids...)

	actor, err := resolveUser(ctx, s.users, actingUserID)
	if err != nil {
		return nil, fail(ctx, s.log, span, op, err, logging.Chatroom(groupID.Hex()))
	}
	s.announce(ctx, room, fmt.Sprintf("%s invited %s", actor.Username, strings.Join(added, ", ")))
	s.notifier.EmitToChatroom(ctx, room, domain.EventGroupMemberAdded, domain.GroupMemberAddedPayload{
		GroupID:    room.ID,
		NewMembers: publics,
		InvitedBy:  actor,
	})
	s.log.InfoContext(ctx, op+" - success", logging.Chatroom(groupID.Hex()), "added", len(added))
	return added, nil
}

func (s *GroupService) Promote(ctx context.Context, groupID, actingUserID primitive.ObjectID, targetUsername string) error {
	ctx, span := tracer.Start(ctx, "GroupService.Promote", trace.WithAttributes(
		attribute.String("chatroom_id", groupID.Hex()),
		attribute.String("user_id", actingUserID.Hex()),
	))
	defer span.End()
	const op = "groups - promote"

	room, _, err := s.loadGroup(ctx, groupID, actingUserID, domain.RoleOwner, "only the group owner can promote admins")
	if err != nil {
		return fail(ctx, s.log, span, op, err, logging.Chatroom(groupID.Hex()), logging.User(actingUserID.Hex()))
	}
	target, err := s.loadTarget(ctx, room, targetUsername)
	if err != nil {
		return fail(ctx, s.log, span, op, err, logging.Chatroom(groupID.Hex()), "target", targetUsername)
	}
	if domain.RoleOf(room, target.ID).AtLeast(domain.RoleAdmin) {
		return fail(ctx, s.log, span, op, domain.Conflict("user is already an admin"), logging.Chatroom(groupID.Hex()), "target", targetUsername)
	}
	if err := s.chatrooms.SetAdmin(ctx, room.ID, target.ID, true, s.now()); err != nil {
		return fail(ctx, s.log, span, op, err, logging.Chatroom(groupID.Hex()))
	}

	actor, err := resolveUser(ctx, s.users, actingUserID)
	if err != nil {
		return fail(ctx, s.log, span, op, err, logging.Chatroom(groupID.Hex()))
	}
	s.announce(ctx, room, fmt.Sprintf("%s made %s an admin", actor.Username, target.Username))
	s.notifier.EmitToChatroom(ctx, room, domain.EventAdminPromoted, domain.AdminPromotedPayload{
		GroupID:      room.ID,
		PromotedUser: target.Public(),
		By:           actor,
	})
	return nil
}

func (s *GroupService) Demote(ctx context.Context, groupID, actingUserID primitive.ObjectID, targetUsername string) error {
	ctx, span := tracer.Start(ctx, "GroupService.Demote", trace.WithAttributes(
		attribute.String("chatroom_id", groupID.Hex()),
		attribute.String("user_id", actingUserID.Hex()),
	))
	defer span.End()
	const op = "groups - demote"

	room, _, err := s.loadGroup(ctx, groupID, actingUserID, domain.RoleOwner, "only the group owner can demote admins")
	if err != nil {
		return fail(ctx, s.log, span, op, err, logging.Chatroom(groupID.Hex()), logging.User(actingUserID.Hex()))
	}
	target, err := s.loadTarget(ctx, room, targetUsername)
	if err != nil {
		return fail(ctx, s.log, span, op, err, logging.Chatroom(groupID.Hex()), "target", targetUsername)
	}
	switch domain.RoleOf(room, target.ID) {
	case domain.RoleOwner:
		return fail(ctx, s.log, span, op, domain.Forbidden("the group owner cannot be demoted"), logging.Chatroom(groupID.Hex()))
	case domain.RoleAdmin:
	default:
		return fail(ctx, s.log, span, op, domain.Validation("user is not an admin"), logging.Chatroom(groupID.Hex()), "target", targetUsername)
	}
	if err := s.chatrooms.SetAdmin(ctx, room.ID, target.ID, false, s.now()); err != nil {
		return fail(ctx, s.log, span, op, err, logging.Chatroom(groupID.Hex()))
	}

	actor, err := resolveUser(ctx, s.users, actingUserID)
	if err != nil {
		return fail(ctx, s.log, span, op, err, logging.Chatroom(groupID.Hex()))
	}
	s.announce(ctx, room, fmt.Sprintf("%s removed %s as admin", actor.Username, target.Username))
	s.notifier.EmitToChatroom(ctx, room, domain.EventAdminDemoted, domain.AdminDemotedPayload{
		GroupID:      room.ID,
		DemotedAdmin: target.Public(),
		By:           actor,
	})
	return nil
}

func (s *GroupService) RemoveMember(ctx context.Context, groupID, actingUserID primitive.ObjectID, targetUsername string) error {
	ctx, span := tracer.Start(ctx, "GroupService.RemoveMember", trace.WithAttributes(
		attribute.String("chatroom_id", groupID.Hex()),
		attribute.String("user_id", actingUserID.Hex()),
	))
	defer span.End()
	const op = "groups - remove member"

	room, _, err := s.loadGroup(ctx, groupID, actingUserID, domain.RoleAdmin, "only admins can remove members")
	if err != nil {
		return fail(ctx, s.log, span, op, err, logging.Chatroom(groupID.Hex()), logging.User(actingUserID.Hex()))
	}
	target, err := s.loadTarget(ctx, room, targetUsername)
	if err != nil {
		return fail(ctx, s.log, span, op, err, logging.Chatroom(groupID.Hex()), "target", targetUsername)
	}
	if target.ID == actingUserID {
		return fail(ctx, s.log, span, op, domain.Validation("use leave to exit the group"), logging.Chatroom(groupID.Hex()))
	}
	if domain.RoleOf(room, target.ID) == domain.RoleOwner {
		return fail(ctx, s.log, span, op, domain.Forbidden("the group owner cannot be removed"), logging.Chatroom(groupID.Hex()))
	}
	if err := s.chatrooms.RemoveMember(ctx, room.ID, target.ID, s.now()); err != nil {
		return fail(ctx, s.log, span, op, err, logging.Chatroom(groupID.Hex()))
	}
	room.Members = without(room.Members, target.ID)

	actor, err := resolveUser(ctx, s.users, actingUserID)
	if err != nil {
		return fail(ctx, s.log, span, op, err, logging.Chatroom(groupID.Hex()))
	}
	s.announce(ctx, room, fmt.Sprintf("%s removed %s from the group", actor.Username, target.Username))
	s.notifier.EvictFromChatroom(ctx, room, domain.EventMemberRemoved, domain.MemberRemovedPayload{
		GroupID: room.ID,
		User:    target.Public(),
		By:      actor,
	}, target.ID)
	return nil
}

func (s *GroupService) Leave(ctx context.Context, groupID, actingUserID primitive.ObjectID) error {
	ctx, span := tracer.Start(ctx, "GroupService.Leave", trace.WithAttributes(
		attribute.String("chatroom_id", groupID.Hex()),
		attribute.String("user_id", actingUserID.Hex()),
	))
	defer span.End()
	const op = "groups - leave"

	room, role, err := s.loadGroup(ctx, groupID, actingUserID, domain.RoleMember, "")
	if err != nil {
		return fail(ctx, s.log, span, op, err, logging.Chatroom(groupID.Hex()), logging.User(actingUserID.Hex()))
	}
	// ownership transfer does not exist, so the owner stays
	if role == domain.RoleOwner {
		return fail(ctx, s.log, span, op, domain.Forbidden("the group owner cannot leave the group"), logging.Chatroom(groupID.Hex()))
	}
	if err := s.chatrooms.RemoveMember(ctx, room.ID, actingUserID, s.now()); err != nil {
		return fail(ctx, s.log, span, op, err, logging.Chatroom(groupID.Hex()))
	}
	room.Members = without(room.Members, actingUserID)

	actor, err := resolveUser(ctx, s.users, actingUserID)
	if err != nil {
		return fail(ctx, s.log, span, op, err, logging.Chatroom(groupID.Hex()))
	}
	s.announce(ctx, room, fmt.Sprintf("%s left the group", actor.Username))
	s.notifier.EvictFromChatroom(ctx, room, domain.EventMemberLeft, domain.MemberLeftPayload{
		GroupID: room.ID,
		User:    actor,
	}, actingUserID)
	return nil
}

// EditGroupMetadata applies the name and description fields that differ from
// the current values and returns what changed.
func (s *GroupService) EditGroupMetadata(ctx context.Context, groupID, actingUserID primitive.ObjectID, update domain.GroupUpdate) (domain.GroupUpdate, error) {
	ctx, span := tracer.Start(ctx, "GroupService.EditGroupMetadata", trace.WithAttributes(
		attribute.String("chatroom_id", groupID.Hex()),
		attribute.String("user_id", actingUserID.Hex()),
	))
	defer span.End()
	const op = "groups - edit metadata"

	room, _, err := s.loadGroup(ctx, groupID, actingUserID, domain.RoleAdmin, "only admins can edit the group")
	if err != nil {
		return domain.GroupUpdate{}, fail(ctx, s.log, span, op, err, logging.Chatroom(groupID.Hex()), logging.User(actingUserID.Hex()))
	}

	var (
		applied domain.GroupUpdate
		changes []string
	)
	if update.Name != nil {
		if name := strings.TrimSpace(*update.Name); name != room.Name {
			if err := validateGroupName(name); err != nil {
				return domain.GroupUpdate{}, fail(ctx, s.log, span, op, err, logging.Chatroom(groupID.Hex()))
			}
			if err := s.ensureNameFree(ctx, name, room.ID); err != nil {
				return domain.GroupUpdate{}, fail(ctx, s.log, span, op, err, logging.Chatroom(groupID.Hex()), "name", name)
			}
			applied.Name = &name
			changes = append(changes, fmt.Sprintf("changed the group name to %q", name))
		}
	}
	if update.Description != nil {
		if description := strings.TrimSpace(*update.Description); description != room.Description {
			if err := validateGroupDescription(description); err != nil {
				return domain.GroupUpdate{}, fail(ctx, s.log, span, op, err, logging.Chatroom(groupID.Hex()))
			}
			applied.Description = &description
			changes = append(changes, "updated the group description")
		}
	}
	if applied.Empty() {
		return domain.GroupUpdate{}, fail(ctx, s.log, span, op, domain.Validation("no changes to apply"), logging.Chatroom(groupID.Hex()))
	}
	if err := s.applyUpdate(ctx, room, actingUserID, applied, strings.Join(changes, " and ")); err != nil {
		return domain.GroupUpdate{}, fail(ctx, s.log, span, op, err, logging.Chatroom(groupID.Hex()))
	}
	return applied, nil
}

// UpdateGroupImage points the group at an already uploaded image.
func (s *GroupService) UpdateGroupImage(ctx context.Context, groupID, actingUserID primitive.ObjectID, url string) error {
	ctx, span := tracer.Start(ctx, "GroupService.UpdateGroupImage", trace.WithAttributes(
		attribute.String("chatroom_id", groupID.Hex()),
		attribute.String("user_id", actingUserID.Hex()),
	))
	defer span.End()
	const op = "groups - update image"

	room, err := s.AuthorizeAdmin(ctx, groupID, actingUserID)
	if err != nil {
		return fail(ctx, s.log, span, op, err, logging.Chatroom(groupID.Hex()), logging.User(actingUserID.Hex()))
	}
	if strings.TrimSpace(url) == "" {
		return fail(ctx, s.log, span, op, domain.Validation("image url is required"), logging.Chatroom(groupID.Hex()))
	}
	if err := s.applyUpdate(ctx, room, actingUserID, domain.GroupUpdate{Image: &url}, "updated the group image"); err != nil {
		return fail(ctx, s.log, span, op, err, logging.Chatroom(groupID.Hex()))
	}
	return nil
}

// AuthorizeAdmin returns the group when the user may change it.
func (s *GroupService) AuthorizeAdmin(ctx context.Context, groupID, actingUserID primitive.ObjectID) (*domain.Chatroom, error) {
	room, _, err := s.loadGroup(ctx, groupID, actingUserID, domain.RoleAdmin, "only admins can edit the group")
	return room, err
}

func (s *GroupService) applyUpdate(ctx context.Context, room *domain.Chatroom, actingUserID primitive.ObjectID, update domain.GroupUpdate, summary string) error {
	if err := s.chatrooms.UpdateGroup(ctx, room.ID, update, s.now()); err != nil {
		return err
	}
	actor, err := resolveUser(ctx, s.users, actingUserID)
	if err != nil {
		return err
	}
	s.announce(ctx, room, actor.Username+" "+summary)
	s.notifier.EmitToChatroom(ctx, room, domain.EventGroupUpdated, domain.GroupUpdatedPayload{
		GroupID:   room.ID,
		Updates:   update,
		UpdatedBy: actor,
	})
	return nil
}

// ListMembers lists members owner first, then admins, then everyone else.
func (s *GroupService) ListMembers(ctx context.Context, groupID, actingUserID primitive.ObjectID) ([]MemberView, error) {
	ctx, span := tracer.Start(ctx, "GroupService.ListMembers", trace.WithAttributes(
		attribute.String("chatroom_id", groupID.Hex()),
		attribute.String("user_id", actingUserID.Hex()),
	))
	defer span.End()
	const op = "groups - list members"

	room, _, err := s.loadGroup(ctx, groupID, actingUserID, domain.RoleMember, "")
	if err != nil {
		return nil, fail(ctx, s.log, span, op, err, logging.Chatroom(groupID.Hex()), logging.User(actingUserID.Hex()))
	}
	resolved, err := resolveUsers(ctx, s.users, room.Members)
	if err != nil {
		return nil, fail(ctx, s.log, span, op, err, logging.Chatroom(groupID.Hex()))
	}

	hexIDs := make([]string, len(room.Members))
	for i, id := range room.Members {
		hexIDs[i] = id.Hex()
	}
	online := map[string]bool{}
	if s.presence != nil {
		if online, err = s.presence.OnlineAmong(ctx, hexIDs); err != nil {
			// presence is best effort; everyone shows as offline
			s.log.WarnContext(ctx, op+" - presence lookup failed", logging.Chatroom(groupID.Hex()), logging.Err(err))
			online = map[string]bool{}
		}
	}

	views := make([]MemberView, 0, len(room.Members))
	for _, id := range room.Members {
		views = append(views, MemberView{
			PublicUser: resolved[id],
			Role:       domain.RoleOf(room, id).String(),
			Online:     online[id.Hex()],
		})
	}
	rank := map[string]int{domain.RoleOwner.String(): 0, domain.RoleAdmin.String(): 1, domain.RoleMember.String(): 2}
	sort.SliceStable(views, func(i, j int) bool { return rank[views[i].Role] < rank[views[j].Role] })
	return views, nil
}

func (s *GroupService) DeleteGroupChat(ctx context.Context, groupID, actingUserID primitive.ObjectID) error {
	ctx, span := tracer.Start(ctx, "GroupService.DeleteGroupChat", trace.WithAttributes(
		attribute.String("chatroom_id", groupID.Hex()),
		attribute.String("user_id", actingUserID.Hex()),
	))
	defer span.End()
	const op = "groups - delete"

	room, _, err := s.loadGroup(ctx, groupID, actingUserID, domain.RoleOwner, "only the group owner can delete the group")
	if err != nil {
		return fail(ctx, s.log, span, op, err, logging.Chatroom(groupID.Hex()), logging.User(actingUserID.Hex()))
	}
	if err := cascadeDelete(ctx, s.chatrooms, s.messages, room.ID); err != nil {
		return fail(ctx, s.log, span, op, err, logging.Chatroom(groupID.Hex()))
	}
	s.notifier.EvictFromChatroom(ctx, room, domain.EventChatroomDeleted, domain.ChatroomDeletedPayload{ChatroomID: room.ID}, room.Members...)
	s.log.InfoContext(ctx, op+" - success", logging.Chatroom(groupID.Hex()), logging.User(actingUserID.Hex()))
	return nil
}

// announce posts the system message for a change that already happened, so
// a failure here is logged and does not undo it.
func (s *GroupService) announce(ctx context.Context, room *domain.Chatroom, text string) {
	if _, err := s.sender.postSystem(ctx, room, text); err != nil {
		s.log.ErrorContext(ctx, "groups - system message - failed", logging.Chatroom(room.ID.Hex()), logging.Err(err))
	}
}

func without(ids []primitive.ObjectID, drop primitive.ObjectID) []primitive.ObjectID {
	out := make([]primitive.ObjectID, 0, len(ids))
	for _, id := range ids {
		if id != drop {
			out = append(out, id)
		}
	}
	return out
}
