package models

// UserProfile is the small public profile snapshot a peer publishes into
// their side of a conversation record, so the other party sees display
// name/avatar updates without needing a separate profile record fetch.
type UserProfile struct {
	DisplayName string `json:"display_name"`
	StatusText  string `json:"status_text"`
	AvatarHash  []byte `json:"avatar_hash,omitempty"`
}

// ConversationHeader is the encrypted payload stored in subkey 0 of a
// ConversationRecord: one party's half of a per-contact conversation. Each
// party maintains their own ConversationRecord for a given contact; Alice's
// record carries Alice's outbound route/profile/prekeys, Bob's carries
// Bob's.
type ConversationHeader struct {
	IdentityPublicKey []byte      `json:"identity_public_key"`
	Profile           UserProfile `json:"profile"`
	MessageLogKey     string      `json:"message_log_key"`
	RouteBlob         []byte      `json:"route_blob"`
	PrekeyBundle      []byte      `json:"prekey_bundle"`
	CreatedAt         int64       `json:"created_at"`
	UpdatedAt         int64       `json:"updated_at"`
}
