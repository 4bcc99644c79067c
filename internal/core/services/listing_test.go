package services

import (
	"context"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/Khambazarov/hello-word-sub000/internal/core/domain"
)

func TestOrphanDirectChatIsDroppedOnRead(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.user(t, "anna")
	b := h.user(t, "ben")

	orphan := domain.NewDirectChatroom(a, b, h.clock.Now())
	if err := h.chatrooms.CreateChatroom(ctx, orphan); err != nil {
		t.Fatal(err)
	}
	if err := h.users.DeleteUser(ctx, b); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 2; i++ {
		list, err := h.listing.ListChatroomsForUser(ctx, a)
		if err != nil {
			t.Fatalf("list #%d: %v", i+1, err)
		}
		if len(list) != 0 {
			t.Fatalf("list #%d = %+v, want empty", i+1, list)
		}
	}
	if _, err := h.chatrooms.GetChatroomByID(ctx, orphan.ID); err == nil {
		t.Error("orphan chatroom was not deleted")
	}
}

func TestDeletedPartnerWithHistoryStays(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.user(t, "anna")
	b := h.user(t, "ben")
	room := h.direct(t, a, "ben")
	if err := h.users.DeleteUser(ctx, b); err != nil {
		t.Fatal(err)
	}

	list, err := h.listing.ListChatroomsForUser(ctx, a)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].ID != room {
		t.Fatalf("list = %+v", list)
	}
	if !list[0].IsDeletedAccount || list[0].Partner == nil || !list[0].Partner.IsDeletedAccount {
		t.Errorf("summary not flagged deleted: %+v", list[0])
	}
}

func TestListSortOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	me := h.user(t, "me")
	h.user(t, "old")
	h.user(t, "recent")
	gone := h.user(t, "gone")

	oldChat := h.direct(t, me, "old")
	goneChat := h.direct(t, me, "gone")
	emptyOlder, _ := h.groups.CreateGroupChat(ctx, me, "Quiet", "", "")
	emptyNewer, _ := h.groups.CreateGroupChat(ctx, me, "Quieter", "", "")
	recentChat := h.direct(t, me, "recent")
	if err := h.users.DeleteUser(ctx, gone); err != nil {
		t.Fatal(err)
	}

	list, err := h.listing.ListChatroomsForUser(ctx, me)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []primitive.ObjectID{recentChat, oldChat, emptyNewer, emptyOlder, goneChat}
	if len(list) != len(want) {
		t.Fatalf("list has %d entries, want %d", len(list), len(want))
	}
	for i, id := range want {
		if list[i].ID != id {
			t.Errorf("list[%d] = %s, want %s", i, list[i].ID.Hex(), id.Hex())
		}
	}
}

func TestSortSummariesIsStable(t *testing.T) {
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	direct := func() ChatroomSummary {
		return ChatroomSummary{Chatroom: &domain.Chatroom{ID: primitive.NewObjectID(), LastActivity: at}}
	}
	list := []ChatroomSummary{direct(), direct(), direct()}
	ids := []primitive.ObjectID{list[0].ID, list[1].ID, list[2].ID}

	sortSummaries(list)
	for i := range ids {
		if list[i].ID != ids[i] {
			t.Fatalf("order changed at %d", i)
		}
	}
}

func TestSortSummariesEmptyChatsByActivity(t *testing.T) {
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	summary := func(group bool, activity time.Time) ChatroomSummary {
		return ChatroomSummary{Chatroom: &domain.Chatroom{ID: primitive.NewObjectID(), IsGroup: group, LastActivity: activity}}
	}
	groupOld := summary(true, at)
	directEmpty := summary(false, at.Add(time.Hour))
	groupNew := summary(true, at.Add(2*time.Hour))

	list := []ChatroomSummary{groupOld, directEmpty, groupNew}
	sortSummaries(list)
	want := []primitive.ObjectID{groupNew.ID, directEmpty.ID, groupOld.ID}
	for i, id := range want {
		if list[i].ID != id {
			t.Fatalf("list[%d] = %s, want %s", i, list[i].ID.Hex(), id.Hex())
		}
	}
}
