package records

import (
	"context"
	"fmt"

	"github.com/rekindle-chat/rekindle/internal/overlay"
)

// mailboxSubkeyRouteBlob is the single subkey a mailbox record carries.
const mailboxSubkeyRouteBlob = 0

// CreateMailbox creates a single-subkey mailbox record owned by the
// caller's identity keypair. Because the overlay derives a record's key
// deterministically from its owner keypair, the mailbox key is permanent
// for a given identity and can be published in invite links without a
// separate lookup step.
func CreateMailbox(ctx context.Context, api overlay.API, identityKeypair overlay.KeyPair) (overlay.RecordKey, error) {
	descriptor, err := api.CreateRecord(ctx, 1, &identityKeypair)
	if err != nil {
		return "", fmt.Errorf("records: create mailbox: %w", err)
	}
	return descriptor.Key, nil
}

// OpenMailboxWritable regains write access to an existing mailbox record,
// required after every login since route access does not persist across
// process restarts.
func OpenMailboxWritable(ctx context.Context, api overlay.API, key overlay.RecordKey, identityKeypair overlay.KeyPair) error {
	if err := api.OpenRecord(ctx, key, &identityKeypair); err != nil {
		return fmt.Errorf("records: open mailbox writable: %w", err)
	}
	return nil
}

// ReadPeerMailboxRoute opens a peer's mailbox read-only and returns their
// published route blob, or (nil, false) if they haven't published one yet.
func ReadPeerMailboxRoute(ctx context.Context, api overlay.API, mailboxKey overlay.RecordKey) ([]byte, bool, error) {
	if err := api.OpenRecord(ctx, mailboxKey, nil); err != nil {
		return nil, false, fmt.Errorf("records: open peer mailbox: %w", err)
	}
	data, ok, err := api.GetValue(ctx, mailboxKey, mailboxSubkeyRouteBlob, false)
	if err != nil {
		return nil, false, fmt.Errorf("records: read peer mailbox route: %w", err)
	}
	return data, ok, nil
}

// UpdateMailboxRoute republishes the caller's current route blob, called
// after every route allocation or refresh so peers can find them again
// after a reconnect.
func UpdateMailboxRoute(ctx context.Context, api overlay.API, mailboxKey overlay.RecordKey, routeBlob []byte) error {
	if err := api.SetValue(ctx, mailboxKey, mailboxSubkeyRouteBlob, routeBlob); err != nil {
		return fmt.Errorf("records: update mailbox route: %w", err)
	}
	return nil
}
