package services

import (
	"context"
	"strings"
	"testing"

	"github.com/Khambazarov/hello-word-sub000/internal/core/domain"
)

func TestUploadImageAndAudio(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	url, err := h.uploads.UploadImage(ctx, strings.NewReader("png"), "cat.png")
	if err != nil {
		t.Fatalf("image: %v", err)
	}
	if url != testStorageHost+"chat-images/cat.png" {
		t.Errorf("url = %s", url)
	}
	if url, err = h.uploads.UploadAudio(ctx, strings.NewReader("ogg"), "note.ogg"); err != nil || !strings.Contains(url, "chat-audio/") {
		t.Errorf("audio url=%s err=%v", url, err)
	}

	_, err = h.uploads.UploadImage(ctx, strings.NewReader("x"), "virus.exe")
	wantClass(t, err, domain.ErrValidation)

	h.storage.err = errStore
	_, err = h.uploads.UploadAudio(ctx, strings.NewReader("x"), "note.mp3")
	if err == nil || domain.ClassOf(err) != domain.ErrInternal {
		t.Errorf("storage failure = %v, want internal", err)
	}
}

func TestUploadGroupImageChecksAdminFirst(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	owner := h.user(t, "owner")
	member := h.user(t, "member")
	group, _ := h.groups.CreateGroupChat(ctx, owner, "Team", "", "")
	if _, err := h.groups.Invite(ctx, group, owner, []string{"member"}); err != nil {
		t.Fatal(err)
	}

	_, err := h.uploads.UploadGroupImage(ctx, group, member, strings.NewReader("x"), "team.png")
	wantClass(t, err, domain.ErrForbidden)
	if len(h.storage.uploads) != 0 {
		t.Fatalf("stored %v before the permission check", h.storage.uploads)
	}

	url, err := h.uploads.UploadGroupImage(ctx, group, owner, strings.NewReader("x"), "team.png")
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	room := h.chatrooms.get(t, group)
	if room.Image == nil || *room.Image != url {
		t.Errorf("group image = %v, want %s", room.Image, url)
	}
	if got := len(h.bus.named(domain.EventGroupUpdated)); got != 1 {
		t.Errorf("group-updated events = %d, want 1", got)
	}
}

func TestUploadAvatar(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.user(t, "anna")

	url, err := h.uploads.UploadAvatar(ctx, id, strings.NewReader("x"), "me.jpg")
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	user, _ := h.users.GetUserByID(ctx, id)
	if user.Avatar == nil || *user.Avatar != url {
		t.Errorf("avatar = %v, want %s", user.Avatar, url)
	}
}
