package models

// AccountHeader is the encrypted payload stored in subkey 0 of an
// AccountRecord. It carries pointers (as DHT record key strings) to the
// account's child ShortArrays along with their per-child owner keypairs,
// so a full account can be reopened from the account record key alone.
type AccountHeader struct {
	ContactListKey         string `json:"contact_list_key"`
	ChatListKey            string `json:"chat_list_key"`
	InvitationListKey      string `json:"invitation_list_key"`
	DisplayName            string `json:"display_name"`
	StatusMessage          string `json:"status_message"`
	AvatarHash             []byte `json:"avatar_hash,omitempty"`
	CreatedAt              int64  `json:"created_at"`
	UpdatedAt              int64  `json:"updated_at"`
	ContactListKeypair     string `json:"contact_list_keypair,omitempty"`
	ChatListKeypair        string `json:"chat_list_keypair,omitempty"`
	InvitationListKeypair  string `json:"invitation_list_keypair,omitempty"`
}

// ContactEntry is one element of an account's contact list ShortArray.
type ContactEntry struct {
	PublicKey   []byte `json:"public_key"`
	DisplayName string `json:"display_name"`
	AddedAt     int64  `json:"added_at"`
}

// ChatEntry is one element of an account's chat list ShortArray: a
// pointer to a conversation this account participates in.
type ChatEntry struct {
	ConversationRecordKey string `json:"conversation_record_key"`
	PeerPublicKey         []byte `json:"peer_public_key"`
	LastMessageAt         int64  `json:"last_message_at"`
}
