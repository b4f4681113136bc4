package records

import (
	"context"
	"testing"

	"github.com/rekindle-chat/rekindle/internal/overlay"
)

func TestMailboxCreateAndReadRoute(t *testing.T) {
	ctx := context.Background()
	api := overlay.NewMock()
	var identityKeypair overlay.KeyPair
	identityKeypair.Public[0] = 1
	identityKeypair.Secret[0] = 2

	key, err := CreateMailbox(ctx, api, identityKeypair)
	if err != nil {
		t.Fatalf("create mailbox: %v", err)
	}
	if err := UpdateMailboxRoute(ctx, api, key, []byte("route-a")); err != nil {
		t.Fatalf("update route: %v", err)
	}

	data, ok, err := ReadPeerMailboxRoute(ctx, api, key)
	if err != nil || !ok || string(data) != "route-a" {
		t.Fatalf("read peer mailbox route: data=%s ok=%v err=%v", data, ok, err)
	}

	if err := OpenMailboxWritable(ctx, api, key, identityKeypair); err != nil {
		t.Fatalf("reopen writable: %v", err)
	}
	if err := UpdateMailboxRoute(ctx, api, key, []byte("route-b")); err != nil {
		t.Fatalf("update route again: %v", err)
	}
}

func TestProfileCreateAndRead(t *testing.T) {
	ctx := context.Background()
	api := overlay.NewMock()

	key, _, err := CreateProfile(ctx, api, "alice", "hi there", []byte("bundle"), []byte("route"))
	if err != nil {
		t.Fatalf("create profile: %v", err)
	}

	name, ok, err := ReadDisplayName(ctx, api, key)
	if err != nil || !ok || name != "alice" {
		t.Fatalf("read display name: name=%q ok=%v err=%v", name, ok, err)
	}

	status, ok, err := ReadStatus(ctx, api, key)
	if err != nil || !ok || status != ProfileStatusOnline {
		t.Fatalf("expected online status, got %d ok=%v err=%v", status, ok, err)
	}

	if err := PublishStatus(ctx, api, key, ProfileStatusAway, 123456); err != nil {
		t.Fatalf("publish status: %v", err)
	}
	status, ok, err = ReadStatus(ctx, api, key)
	if err != nil || !ok || status != ProfileStatusAway {
		t.Fatalf("expected away status, got %d ok=%v err=%v", status, ok, err)
	}

	bundle, ok, err := ReadPrekeyBundle(ctx, api, key)
	if err != nil || !ok || string(bundle) != "bundle" {
		t.Fatalf("read prekey bundle: %s ok=%v err=%v", bundle, ok, err)
	}
}

func TestFriendListAddRemoveUpdate(t *testing.T) {
	ctx := context.Background()
	api := overlay.NewMock()

	key, _, err := CreateFriendList(ctx, api)
	if err != nil {
		t.Fatalf("create friend list: %v", err)
	}

	entry := FriendEntry{PublicKey: "abc123", AddedAt: 10}
	if err := AddFriend(ctx, api, key, entry); err != nil {
		t.Fatalf("add friend: %v", err)
	}
	// Duplicate add should be a no-op.
	if err := AddFriend(ctx, api, key, entry); err != nil {
		t.Fatalf("duplicate add: %v", err)
	}

	list, err := ReadFriendList(ctx, api, key)
	if err != nil {
		t.Fatalf("read friend list: %v", err)
	}
	if len(list.Friends) != 1 {
		t.Fatalf("expected 1 friend after duplicate add, got %d", len(list.Friends))
	}

	if err := UpdateFriend(ctx, api, key, "abc123", "Bob", "Work"); err != nil {
		t.Fatalf("update friend: %v", err)
	}
	list, err = ReadFriendList(ctx, api, key)
	if err != nil {
		t.Fatalf("read after update: %v", err)
	}
	if list.Friends[0].Nickname != "Bob" || list.Friends[0].Group != "Work" {
		t.Fatalf("unexpected friend after update: %+v", list.Friends[0])
	}

	if err := RemoveFriend(ctx, api, key, "abc123"); err != nil {
		t.Fatalf("remove friend: %v", err)
	}
	list, err = ReadFriendList(ctx, api, key)
	if err != nil {
		t.Fatalf("read after remove: %v", err)
	}
	if len(list.Friends) != 0 {
		t.Fatalf("expected empty friend list, got %+v", list.Friends)
	}
}
