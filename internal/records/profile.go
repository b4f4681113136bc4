package records

import (
	"context"
	"fmt"

	"github.com/rekindle-chat/rekindle/internal/overlay"
)

// Profile subkey layout: a fixed, plaintext, public-by-design record —
// unlike AccountRecord and ConversationRecord it carries no encryption key
// since it's meant to be readable by anyone who discovers its key.
const (
	ProfileSubkeyDisplayName   uint32 = 0
	ProfileSubkeyStatusMessage uint32 = 1
	ProfileSubkeyStatus        uint32 = 2
	ProfileSubkeyAvatar        uint32 = 3
	ProfileSubkeyGameInfo      uint32 = 4
	ProfileSubkeyPrekeyBundle  uint32 = 5
	ProfileSubkeyRouteBlob     uint32 = 6
	ProfileSubkeyMetadata      uint32 = 7

	ProfileSubkeyCount uint32 = 8
)

const (
	ProfileStatusOnline uint8 = 0
	ProfileStatusAway   uint8 = 1
	ProfileStatusOffline uint8 = 2
)

// CreateProfile allocates a public profile record and writes its initial
// display name, status message, online status, prekey bundle, and route
// blob subkeys.
func CreateProfile(ctx context.Context, api overlay.API, displayName, statusMessage string, prekeyBundle, routeBlob []byte) (overlay.RecordKey, overlay.KeyPair, error) {
	descriptor, err := api.CreateRecord(ctx, ProfileSubkeyCount, nil)
	if err != nil {
		return "", overlay.KeyPair{}, fmt.Errorf("records: create profile: %w", err)
	}
	key := descriptor.Key

	writes := []struct {
		subkey uint32
		value  []byte
	}{
		{ProfileSubkeyDisplayName, []byte(displayName)},
		{ProfileSubkeyStatusMessage, []byte(statusMessage)},
		{ProfileSubkeyStatus, []byte{ProfileStatusOnline}},
		{ProfileSubkeyPrekeyBundle, prekeyBundle},
		{ProfileSubkeyRouteBlob, routeBlob},
	}
	for _, w := range writes {
		if err := api.SetValue(ctx, key, w.subkey, w.value); err != nil {
			return "", overlay.KeyPair{}, fmt.Errorf("records: write profile subkey %d: %w", w.subkey, err)
		}
	}
	return key, descriptor.Owner, nil
}

// UpdateProfileSubkey writes a single profile subkey.
func UpdateProfileSubkey(ctx context.Context, api overlay.API, profileKey overlay.RecordKey, subkey uint32, value []byte) error {
	if err := api.SetValue(ctx, profileKey, subkey, value); err != nil {
		return fmt.Errorf("records: update profile subkey %d: %w", subkey, err)
	}
	return nil
}

// ReadProfileSubkey reads a single profile subkey.
func ReadProfileSubkey(ctx context.Context, api overlay.API, profileKey overlay.RecordKey, subkey uint32) ([]byte, bool, error) {
	data, ok, err := api.GetValue(ctx, profileKey, subkey, false)
	if err != nil {
		return nil, false, fmt.Errorf("records: read profile subkey %d: %w", subkey, err)
	}
	return data, ok, nil
}

// ReadDisplayName reads and decodes the display-name subkey.
func ReadDisplayName(ctx context.Context, api overlay.API, profileKey overlay.RecordKey) (string, bool, error) {
	data, ok, err := ReadProfileSubkey(ctx, api, profileKey, ProfileSubkeyDisplayName)
	if err != nil || !ok {
		return "", ok, err
	}
	return string(data), true, nil
}

// ReadStatus reads and decodes the single-byte presence-status subkey.
func ReadStatus(ctx context.Context, api overlay.API, profileKey overlay.RecordKey) (uint8, bool, error) {
	data, ok, err := ReadProfileSubkey(ctx, api, profileKey, ProfileSubkeyStatus)
	if err != nil || !ok || len(data) == 0 {
		return 0, false, err
	}
	return data[0], true, nil
}

// ReadRouteBlob reads the route-blob subkey.
func ReadRouteBlob(ctx context.Context, api overlay.API, profileKey overlay.RecordKey) ([]byte, bool, error) {
	return ReadProfileSubkey(ctx, api, profileKey, ProfileSubkeyRouteBlob)
}

// ReadPrekeyBundle reads the raw prekey-bundle subkey.
func ReadPrekeyBundle(ctx context.Context, api overlay.API, profileKey overlay.RecordKey) ([]byte, bool, error) {
	return ReadProfileSubkey(ctx, api, profileKey, ProfileSubkeyPrekeyBundle)
}
