package records

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rekindle-chat/rekindle/internal/overlay"
)

// FriendEntry is one element of a friend list record.
type FriendEntry struct {
	PublicKey      string `json:"public_key"`
	Nickname       string `json:"nickname,omitempty"`
	Group          string `json:"group,omitempty"`
	AddedAt        int64  `json:"added_at"`
	ProfileDHTKey  string `json:"profile_dht_key,omitempty"`
}

// FriendList is the entire friend list stored in a single record subkey.
type FriendList struct {
	Friends []FriendEntry `json:"friends"`
}

// CreateFriendList allocates a new, empty friend list record.
func CreateFriendList(ctx context.Context, api overlay.API) (overlay.RecordKey, overlay.KeyPair, error) {
	descriptor, err := api.CreateRecord(ctx, 1, nil)
	if err != nil {
		return "", overlay.KeyPair{}, fmt.Errorf("records: create friend list: %w", err)
	}
	if err := writeFriendList(ctx, api, descriptor.Key, FriendList{}); err != nil {
		return "", overlay.KeyPair{}, err
	}
	return descriptor.Key, descriptor.Owner, nil
}

// ReadFriendList reads the full friend list, returning an empty list if
// the record has never been written.
func ReadFriendList(ctx context.Context, api overlay.API, key overlay.RecordKey) (FriendList, error) {
	data, ok, err := api.GetValue(ctx, key, 0, false)
	if err != nil {
		return FriendList{}, fmt.Errorf("records: read friend list: %w", err)
	}
	if !ok {
		return FriendList{}, nil
	}
	var list FriendList
	if err := json.Unmarshal(data, &list); err != nil {
		return FriendList{}, fmt.Errorf("records: parse friend list: %w", err)
	}
	return list, nil
}

// AddFriend appends a friend entry, silently no-opping if an entry with
// the same public key already exists.
func AddFriend(ctx context.Context, api overlay.API, key overlay.RecordKey, entry FriendEntry) error {
	list, err := ReadFriendList(ctx, api, key)
	if err != nil {
		return err
	}
	for _, f := range list.Friends {
		if f.PublicKey == entry.PublicKey {
			return nil
		}
	}
	list.Friends = append(list.Friends, entry)
	return writeFriendList(ctx, api, key, list)
}

// RemoveFriend deletes the entry matching publicKey, if present.
func RemoveFriend(ctx context.Context, api overlay.API, key overlay.RecordKey, publicKey string) error {
	list, err := ReadFriendList(ctx, api, key)
	if err != nil {
		return err
	}
	filtered := list.Friends[:0]
	for _, f := range list.Friends {
		if f.PublicKey != publicKey {
			filtered = append(filtered, f)
		}
	}
	list.Friends = filtered
	return writeFriendList(ctx, api, key, list)
}

// UpdateFriend overwrites the nickname and/or group of the entry matching
// publicKey. A blank string leaves the corresponding field unchanged.
func UpdateFriend(ctx context.Context, api overlay.API, key overlay.RecordKey, publicKey, nickname, group string) error {
	list, err := ReadFriendList(ctx, api, key)
	if err != nil {
		return err
	}
	for i := range list.Friends {
		if list.Friends[i].PublicKey != publicKey {
			continue
		}
		if nickname != "" {
			list.Friends[i].Nickname = nickname
		}
		if group != "" {
			list.Friends[i].Group = group
		}
		break
	}
	return writeFriendList(ctx, api, key, list)
}

func writeFriendList(ctx context.Context, api overlay.API, key overlay.RecordKey, list FriendList) error {
	data, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("records: marshal friend list: %w", err)
	}
	if err := api.SetValue(ctx, key, 0, data); err != nil {
		return fmt.Errorf("records: write friend list: %w", err)
	}
	return nil
}
