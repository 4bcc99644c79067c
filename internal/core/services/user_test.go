package services

import (
	"context"
	"strings"
	"testing"

	"github.com/Khambazarov/hello-word-sub000/internal/core/domain"
)

func TestRegisterVerifyLogin(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	user, err := h.accounts.Register(ctx, " Ann@Example.Test ", "anna", "correct horse")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if user.Email != "ann@example.test" || user.Verified {
		t.Errorf("user = %+v", user)
	}
	if user.PasswordHash == "correct horse" {
		t.Error("password stored in clear text")
	}
	if len(h.verifier.sent) != 1 || h.verifier.sent[0] != "ann@example.test" {
		t.Errorf("verification sent to %v", h.verifier.sent)
	}

	_, err = h.accounts.Login(ctx, "ann@example.test", "correct horse")
	wantClass(t, err, domain.ErrForbidden)

	h.verifier.codes["ann@example.test"] = "123456"
	_, err = h.accounts.Verify(ctx, "ann@example.test", "000000")
	wantClass(t, err, domain.ErrValidation)

	if _, err := h.accounts.Verify(ctx, "ann@example.test", "123456"); err != nil {
		t.Fatalf("verify: %v", err)
	}

	logged, err := h.accounts.Login(ctx, "ann@example.test", "correct horse")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if logged.ID != user.ID {
		t.Errorf("logged in as %s, want %s", logged.ID.Hex(), user.ID.Hex())
	}

	_, err = h.accounts.Login(ctx, "ann@example.test", "wrong password")
	wantClass(t, err, domain.ErrUnauthenticated)
	_, err = h.accounts.Login(ctx, "nobody@example.test", "correct horse")
	wantClass(t, err, domain.ErrUnauthenticated)
}

func TestRegisterValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.accounts.Register(ctx, "ann@example.test", "anna", "correct horse"); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name, email, username, password string
		want                            error
	}{
		{"bad email", "not-an-email", "bob", "long enough", domain.ErrValidation},
		{"short username", "bob@example.test", "b", "long enough", domain.ErrValidation},
		{"username with space", "bob@example.test", "bo b", "long enough", domain.ErrValidation},
		{"short password", "bob@example.test", "bob", "short", domain.ErrValidation},
		{"email taken", "ANN@example.test", "bob", "long enough", domain.ErrConflict},
		{"username taken", "bob@example.test", "anna", "long enough", domain.ErrConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.accounts.Register(ctx, tt.email, tt.username, tt.password)
			wantClass(t, err, tt.want)
		})
	}
}

func TestRegisterAutoVerify(t *testing.T) {
	h := newHarness(t)
	h.accounts.autoVerify = true

	user, err := h.accounts.Register(context.Background(), "ann@example.test", "anna", "correct horse")
	if err != nil {
		t.Fatal(err)
	}
	if !user.Verified || len(h.verifier.sent) != 0 {
		t.Errorf("verified=%v sent=%v", user.Verified, h.verifier.sent)
	}
}

func TestUpdateSettings(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.user(t, "anna")
	h.user(t, "ben")

	volume, lang, name := 80, "de", "annie"
	user, err := h.accounts.UpdateSettings(ctx, id, SettingsUpdate{Volume: &volume, Language: &lang, Username: &name})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if user.Volume != 80 || user.Language != "de" || user.Username != "annie" {
		t.Errorf("user = %+v", user)
	}

	tooLoud := 101
	_, err = h.accounts.UpdateSettings(ctx, id, SettingsUpdate{Volume: &tooLoud})
	wantClass(t, err, domain.ErrValidation)

	taken := "ben"
	_, err = h.accounts.UpdateSettings(ctx, id, SettingsUpdate{Username: &taken})
	wantClass(t, err, domain.ErrConflict)

	stored, _ := h.users.GetUserByID(ctx, id)
	if stored.Volume != 80 || stored.Username != "annie" {
		t.Errorf("rejected update leaked into the store: %+v", stored)
	}
}

func TestDeleteAccountLeavesChatsReadable(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.user(t, "anna")
	b := h.user(t, "ben")
	room := h.direct(t, a, "ben")

	if err := h.accounts.DeleteAccount(ctx, a); err != nil {
		t.Fatalf("delete: %v", err)
	}
	_, err := h.accounts.GetProfile(ctx, a)
	wantClass(t, err, domain.ErrNotFound)

	detail, err := h.rooms.GetChatroomDetail(ctx, room, b)
	if err != nil {
		t.Fatalf("detail: %v", err)
	}
	if s := detail.Messages[0].Sender; s == nil || !s.IsDeletedAccount || strings.TrimSpace(s.Username) != "" {
		t.Errorf("sender = %+v, want deleted placeholder", s)
	}
}
