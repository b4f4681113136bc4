package records

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/rekindle-chat/rekindle/internal/overlay"
)

// presenceWatchSubkeys are the profile subkeys that change on a presence
// update: status, game info, and route blob.
var presenceWatchSubkeys = [][2]uint32{
	{ProfileSubkeyStatus, ProfileSubkeyStatus},
	{ProfileSubkeyGameInfo, ProfileSubkeyGameInfo},
	{ProfileSubkeyRouteBlob, ProfileSubkeyRouteBlob},
}

// WatchFriendPresence starts watching a friend's profile record for
// presence-relevant subkey changes.
func WatchFriendPresence(ctx context.Context, api overlay.API, profileKey overlay.RecordKey) (bool, error) {
	active, err := api.WatchRecord(ctx, profileKey, presenceWatchSubkeys)
	if err != nil {
		return false, fmt.Errorf("records: watch friend presence: %w", err)
	}
	return active, nil
}

// PublishStatus writes a 9-byte [status_byte, timestamp_ms_be(8)] payload
// to the status subkey.
func PublishStatus(ctx context.Context, api overlay.API, profileKey overlay.RecordKey, status uint8, timestampMs int64) error {
	payload := make([]byte, 9)
	payload[0] = status
	binary.BigEndian.PutUint64(payload[1:], uint64(timestampMs))
	return UpdateProfileSubkey(ctx, api, profileKey, ProfileSubkeyStatus, payload)
}

// PublishGameInfo writes (or clears, with nil) the game-info subkey.
func PublishGameInfo(ctx context.Context, api overlay.API, profileKey overlay.RecordKey, gameInfo []byte) error {
	return UpdateProfileSubkey(ctx, api, profileKey, ProfileSubkeyGameInfo, gameInfo)
}

// PublishRouteBlob writes the route-blob subkey.
func PublishRouteBlob(ctx context.Context, api overlay.API, profileKey overlay.RecordKey, routeBlob []byte) error {
	return UpdateProfileSubkey(ctx, api, profileKey, ProfileSubkeyRouteBlob, routeBlob)
}
