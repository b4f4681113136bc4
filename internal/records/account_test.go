package records

import (
	"context"
	"testing"

	"github.com/rekindle-chat/rekindle/internal/keymaterial"
	"github.com/rekindle-chat/rekindle/internal/overlay"
	"github.com/rekindle-chat/rekindle/pkg/models"
)

func TestAccountRecordCreateAndReopen(t *testing.T) {
	ctx := context.Background()
	api := overlay.NewMock()

	identity, err := keymaterial.Generate()
	if err != nil {
		t.Fatalf("generate identity: %v", err)
	}
	encKey, err := keymaterial.DeriveAccountKey(identity.Seed())
	if err != nil {
		t.Fatalf("derive account key: %v", err)
	}

	rec, owner, err := CreateAccountRecord(ctx, api, encKey, "alice", "busy coding", 1000)
	if err != nil {
		t.Fatalf("create account record: %v", err)
	}

	if _, err := rec.AddContact(ctx, models.ContactEntry{PublicKey: []byte{1, 2, 3}, DisplayName: "bob", AddedAt: 1001}); err != nil {
		t.Fatalf("add contact: %v", err)
	}
	if _, err := rec.AddChat(ctx, models.ChatEntry{ConversationRecordKey: "conv-1", PeerPublicKey: []byte{1, 2, 3}, LastMessageAt: 1002}); err != nil {
		t.Fatalf("add chat: %v", err)
	}

	reopened, err := OpenAccountRecord(ctx, api, rec.RecordKey(), owner, encKey)
	if err != nil {
		t.Fatalf("reopen account record: %v", err)
	}

	header, err := reopened.ReadHeader(ctx)
	if err != nil {
		t.Fatalf("read header: %v", err)
	}
	if header.DisplayName != "alice" {
		t.Fatalf("expected display name alice, got %q", header.DisplayName)
	}

	contacts, err := reopened.ReadContacts(ctx)
	if err != nil {
		t.Fatalf("read contacts: %v", err)
	}
	if len(contacts) != 1 || contacts[0].DisplayName != "bob" {
		t.Fatalf("unexpected contacts: %+v", contacts)
	}

	chats, err := reopened.ReadChats(ctx)
	if err != nil {
		t.Fatalf("read chats: %v", err)
	}
	if len(chats) != 1 || chats[0].ConversationRecordKey != "conv-1" {
		t.Fatalf("unexpected chats: %+v", chats)
	}
}

func TestAccountRecordRemoveContact(t *testing.T) {
	ctx := context.Background()
	api := overlay.NewMock()
	identity, _ := keymaterial.Generate()
	encKey, _ := keymaterial.DeriveAccountKey(identity.Seed())

	rec, _, err := CreateAccountRecord(ctx, api, encKey, "alice", "", 0)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := rec.AddContact(ctx, models.ContactEntry{PublicKey: []byte{9}}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := rec.RemoveContact(ctx, []byte{9}); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := rec.RemoveContact(ctx, []byte{9}); err != ErrContactNotFound {
		t.Fatalf("expected ErrContactNotFound, got %v", err)
	}
}

func TestAccountRecordHeaderWrongKeyFails(t *testing.T) {
	ctx := context.Background()
	api := overlay.NewMock()
	identity, _ := keymaterial.Generate()
	encKey, _ := keymaterial.DeriveAccountKey(identity.Seed())

	rec, owner, err := CreateAccountRecord(ctx, api, encKey, "alice", "", 0)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	other, _ := keymaterial.Generate()
	wrongKey, _ := keymaterial.DeriveAccountKey(other.Seed())

	if _, err := OpenAccountRecord(ctx, api, rec.RecordKey(), owner, wrongKey); err == nil {
		t.Fatal("expected decrypt failure opening account record with wrong encryption key")
	}
}
