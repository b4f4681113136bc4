package community

import (
	"context"
	"testing"

	"github.com/rekindle-chat/rekindle/internal/overlay"
)

func testHostRequest(id string) HostRequest {
	return HostRequest{
		CommunityID:         id,
		DHTRecordKey:        "record-" + id,
		OwnerKeypairHex:     "11" + pad(62) + ":22" + pad(62),
		Name:                "Test Community",
		CreatorPseudonymKey: "creator-pseudonym",
		CreatorDisplayName:  "Creator",
	}
}

func pad(n int) string {
	out := make([]byte, n)
	for i := range out {
		out[i] = '0'
	}
	return string(out)
}

func TestHostCommunityThenListAndStatus(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	api := overlay.NewMock()
	srv := NewServer(api, db, nil)

	if err := srv.HostCommunity(ctx, testHostRequest("c1")); err != nil {
		t.Fatalf("host community: %v", err)
	}

	hosted := srv.ListHosted()
	if len(hosted) != 1 {
		t.Fatalf("expected 1 hosted community, got %d", len(hosted))
	}
	if hosted[0].CommunityID != "c1" || hosted[0].MemberCount != 1 || !hosted[0].HasRoute {
		t.Fatalf("unexpected hosted info: %+v", hosted[0])
	}

	status := srv.GetStatus()
	if status.CommunityCount != 1 {
		t.Fatalf("expected community count 1, got %d", status.CommunityCount)
	}
}

func TestHostCommunityTwiceFails(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	api := overlay.NewMock()
	srv := NewServer(api, db, nil)

	if err := srv.HostCommunity(ctx, testHostRequest("c2")); err != nil {
		t.Fatalf("host community: %v", err)
	}
	if err := srv.HostCommunity(ctx, testHostRequest("c2")); err != ErrAlreadyHosted {
		t.Fatalf("expected ErrAlreadyHosted, got %v", err)
	}
}

func TestUnhostCommunityRemovesIt(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	api := overlay.NewMock()
	srv := NewServer(api, db, nil)

	if err := srv.HostCommunity(ctx, testHostRequest("c3")); err != nil {
		t.Fatalf("host community: %v", err)
	}
	srv.UnhostCommunity(ctx, "c3")

	if len(srv.ListHosted()) != 0 {
		t.Fatal("expected no hosted communities after unhost")
	}

	// Unhosting a community that was never hosted must not panic or error.
	srv.UnhostCommunity(ctx, "never-hosted")
}

func TestRotateCommunityMEKPersistsNextGeneration(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	api := overlay.NewMock()
	srv := NewServer(api, db, nil)

	if err := srv.HostCommunity(ctx, testHostRequest("c4")); err != nil {
		t.Fatalf("host community: %v", err)
	}

	rotated, err := srv.RotateCommunityMEK(ctx, "c4")
	if err != nil {
		t.Fatalf("rotate mek: %v", err)
	}
	if rotated.Generation != 2 {
		t.Fatalf("expected generation 2, got %d", rotated.Generation)
	}

	loaded, ok, err := LoadLatestMEK(ctx, db, "c4")
	if err != nil {
		t.Fatalf("load latest mek: %v", err)
	}
	if !ok || loaded.Generation != 2 {
		t.Fatalf("expected persisted generation 2, got ok=%v gen=%d", ok, loaded.Generation)
	}
}

func TestRotateCommunityMEKUnknownCommunity(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	api := overlay.NewMock()
	srv := NewServer(api, db, nil)

	if _, err := srv.RotateCommunityMEK(ctx, "unknown"); err != ErrNotHosted {
		t.Fatalf("expected ErrNotHosted, got %v", err)
	}
}
