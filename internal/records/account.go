// Package records implements the encrypted DHT record types built on top
// of dhtstore: an account's private profile and contact/chat lists, and
// the shared per-conversation record two peers use to bootstrap sessions.
package records

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rekindle-chat/rekindle/internal/dhtstore"
	"github.com/rekindle-chat/rekindle/internal/keymaterial"
	"github.com/rekindle-chat/rekindle/internal/overlay"
	"github.com/rekindle-chat/rekindle/pkg/models"
)

const childListCapacity = 255

var (
	ErrHeaderNotSet    = errors.New("records: account header not set")
	ErrChildListNotSet = errors.New("records: child list key not set")
	ErrContactNotFound = errors.New("records: contact not found in list")
)

// AccountRecord is a user's private account DHT record: an encrypted
// header in subkey 0 pointing at three child ShortArrays (contacts, chats,
// invitations), each with its own independently-generated owner keypair so
// a peer who only learns one child's key cannot derive the others.
type AccountRecord struct {
	api           overlay.API
	recordKey     overlay.RecordKey
	ownerKeypair  overlay.KeyPair
	encryptionKey keymaterial.DhtRecordKey

	contactListKey      overlay.RecordKey
	chatListKey         overlay.RecordKey
	invitationListKey   overlay.RecordKey
	contactListKeypair  overlay.KeyPair
	chatListKeypair     overlay.KeyPair
	invitationListKeypair overlay.KeyPair
}

// CreateAccountRecord allocates a new account record and its three child
// lists, writing an initial encrypted header. Returns the record and the
// owner keypair (caller must persist both to reopen the account later).
func CreateAccountRecord(ctx context.Context, api overlay.API, encryptionKey keymaterial.DhtRecordKey, displayName, statusMessage string, nowUnixMilli int64) (*AccountRecord, overlay.KeyPair, error) {
	descriptor, err := api.CreateRecord(ctx, 1, nil)
	if err != nil {
		return nil, overlay.KeyPair{}, fmt.Errorf("records: create account record: %w", err)
	}

	contacts, contactsKP, err := dhtstore.CreateShortArray(ctx, api, childListCapacity, nil)
	if err != nil {
		return nil, overlay.KeyPair{}, fmt.Errorf("records: create contact list: %w", err)
	}
	chats, chatsKP, err := dhtstore.CreateShortArray(ctx, api, childListCapacity, nil)
	if err != nil {
		return nil, overlay.KeyPair{}, fmt.Errorf("records: create chat list: %w", err)
	}
	invitations, invitationsKP, err := dhtstore.CreateShortArray(ctx, api, childListCapacity, nil)
	if err != nil {
		return nil, overlay.KeyPair{}, fmt.Errorf("records: create invitation list: %w", err)
	}

	rec := &AccountRecord{
		api:                   api,
		recordKey:             descriptor.Key,
		ownerKeypair:          descriptor.Owner,
		encryptionKey:         encryptionKey,
		contactListKey:        contacts.RecordKey(),
		chatListKey:           chats.RecordKey(),
		invitationListKey:     invitations.RecordKey(),
		contactListKeypair:    contactsKP,
		chatListKeypair:       chatsKP,
		invitationListKeypair: invitationsKP,
	}

	header := models.AccountHeader{
		ContactListKey:        string(rec.contactListKey),
		ChatListKey:           string(rec.chatListKey),
		InvitationListKey:     string(rec.invitationListKey),
		DisplayName:           displayName,
		StatusMessage:         statusMessage,
		CreatedAt:             nowUnixMilli,
		UpdatedAt:             nowUnixMilli,
		ContactListKeypair:    encodeKeypair(contactsKP),
		ChatListKeypair:       encodeKeypair(chatsKP),
		InvitationListKeypair: encodeKeypair(invitationsKP),
	}
	if err := rec.WriteHeader(ctx, header); err != nil {
		return nil, overlay.KeyPair{}, err
	}
	return rec, descriptor.Owner, nil
}

// OpenAccountRecord opens an existing account record with write access,
// reading its header to recover the child list keys and keypairs.
func OpenAccountRecord(ctx context.Context, api overlay.API, key overlay.RecordKey, owner overlay.KeyPair, encryptionKey keymaterial.DhtRecordKey) (*AccountRecord, error) {
	if err := api.OpenRecord(ctx, key, &owner); err != nil {
		return nil, fmt.Errorf("records: open account record: %w", err)
	}
	rec := &AccountRecord{api: api, recordKey: key, ownerKeypair: owner, encryptionKey: encryptionKey}

	header, err := rec.ReadHeader(ctx)
	if err != nil && !errors.Is(err, ErrHeaderNotSet) {
		return nil, err
	}
	if err == nil {
		rec.contactListKey = overlay.RecordKey(header.ContactListKey)
		rec.chatListKey = overlay.RecordKey(header.ChatListKey)
		rec.invitationListKey = overlay.RecordKey(header.InvitationListKey)
		rec.contactListKeypair = decodeKeypair(header.ContactListKeypair)
		rec.chatListKeypair = decodeKeypair(header.ChatListKeypair)
		rec.invitationListKeypair = decodeKeypair(header.InvitationListKeypair)
	}
	return rec, nil
}

// ReadHeader decrypts and returns the account header.
func (r *AccountRecord) ReadHeader(ctx context.Context) (models.AccountHeader, error) {
	data, ok, err := r.api.GetValue(ctx, r.recordKey, 0, false)
	if err != nil {
		return models.AccountHeader{}, fmt.Errorf("records: read account header: %w", err)
	}
	if !ok {
		return models.AccountHeader{}, ErrHeaderNotSet
	}
	plaintext, err := r.encryptionKey.Decrypt(data)
	if err != nil {
		return models.AccountHeader{}, fmt.Errorf("records: decrypt account header: %w", err)
	}
	var header models.AccountHeader
	if err := json.Unmarshal(plaintext, &header); err != nil {
		return models.AccountHeader{}, fmt.Errorf("records: parse account header: %w", err)
	}
	return header, nil
}

// WriteHeader encrypts and writes a new account header.
func (r *AccountRecord) WriteHeader(ctx context.Context, header models.AccountHeader) error {
	plaintext, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("records: marshal account header: %w", err)
	}
	ciphertext, err := r.encryptionKey.Encrypt(plaintext)
	if err != nil {
		return fmt.Errorf("records: encrypt account header: %w", err)
	}
	if err := r.api.SetValue(ctx, r.recordKey, 0, ciphertext); err != nil {
		return fmt.Errorf("records: write account header: %w", err)
	}
	return nil
}

// AddContact appends a contact entry to the contact list.
func (r *AccountRecord) AddContact(ctx context.Context, entry models.ContactEntry) (uint32, error) {
	arr, err := r.openContactList(ctx)
	if err != nil {
		return 0, err
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return 0, fmt.Errorf("records: marshal contact entry: %w", err)
	}
	return arr.Add(ctx, data)
}

// ReadContacts returns every contact entry.
func (r *AccountRecord) ReadContacts(ctx context.Context) ([]models.ContactEntry, error) {
	arr, err := r.openContactList(ctx)
	if err != nil {
		return nil, err
	}
	all, err := arr.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("records: read contacts: %w", err)
	}
	entries := make([]models.ContactEntry, 0, len(all))
	for _, data := range all {
		if len(data) == 0 {
			continue
		}
		var entry models.ContactEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			return nil, fmt.Errorf("records: parse contact entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// RemoveContact deletes the first contact entry matching publicKey.
func (r *AccountRecord) RemoveContact(ctx context.Context, publicKey []byte) error {
	arr, err := r.openContactList(ctx)
	if err != nil {
		return err
	}
	all, err := arr.GetAll(ctx)
	if err != nil {
		return fmt.Errorf("records: read contacts: %w", err)
	}
	for i, data := range all {
		if len(data) == 0 {
			continue
		}
		var entry models.ContactEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			continue
		}
		if bytesEqual(entry.PublicKey, publicKey) {
			return arr.Remove(ctx, uint32(i))
		}
	}
	return ErrContactNotFound
}

// AddChat appends a chat-list entry pointing at a conversation record.
func (r *AccountRecord) AddChat(ctx context.Context, entry models.ChatEntry) (uint32, error) {
	arr, err := r.openChatList(ctx)
	if err != nil {
		return 0, err
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return 0, fmt.Errorf("records: marshal chat entry: %w", err)
	}
	return arr.Add(ctx, data)
}

// ReadChats returns every chat-list entry.
func (r *AccountRecord) ReadChats(ctx context.Context) ([]models.ChatEntry, error) {
	arr, err := r.openChatList(ctx)
	if err != nil {
		return nil, err
	}
	all, err := arr.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("records: read chats: %w", err)
	}
	entries := make([]models.ChatEntry, 0, len(all))
	for _, data := range all {
		if len(data) == 0 {
			continue
		}
		var entry models.ChatEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			return nil, fmt.Errorf("records: parse chat entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// AddInvitation appends raw invitation data (an encrypted X3DH bundle
// reference, serialized by the caller) to the invitation list.
func (r *AccountRecord) AddInvitation(ctx context.Context, data []byte) (uint32, error) {
	arr, err := r.openInvitationList(ctx)
	if err != nil {
		return 0, err
	}
	return arr.Add(ctx, data)
}

// ReadInvitations returns every raw invitation-list entry.
func (r *AccountRecord) ReadInvitations(ctx context.Context) ([][]byte, error) {
	arr, err := r.openInvitationList(ctx)
	if err != nil {
		return nil, err
	}
	return arr.GetAll(ctx)
}

// Close releases the account record.
func (r *AccountRecord) Close(ctx context.Context) error {
	return r.api.CloseRecord(ctx, r.recordKey)
}

// RecordKey returns the account record's DHT key.
func (r *AccountRecord) RecordKey() overlay.RecordKey { return r.recordKey }

// OwnerKeypair returns the account record's owner keypair.
func (r *AccountRecord) OwnerKeypair() overlay.KeyPair { return r.ownerKeypair }

// AllRecordKeys returns every DHT record key owned by this account
// (the account record plus its three child lists), for bulk close.
func (r *AccountRecord) AllRecordKeys() []overlay.RecordKey {
	keys := []overlay.RecordKey{r.recordKey}
	if r.contactListKey != "" {
		keys = append(keys, r.contactListKey)
	}
	if r.chatListKey != "" {
		keys = append(keys, r.chatListKey)
	}
	if r.invitationListKey != "" {
		keys = append(keys, r.invitationListKey)
	}
	return keys
}

func (r *AccountRecord) openContactList(ctx context.Context) (*dhtstore.ShortArray, error) {
	if r.contactListKey == "" {
		return nil, fmt.Errorf("%w: contact list", ErrChildListNotSet)
	}
	return dhtstore.OpenShortArray(ctx, r.api, r.contactListKey, &r.contactListKeypair)
}

func (r *AccountRecord) openChatList(ctx context.Context) (*dhtstore.ShortArray, error) {
	if r.chatListKey == "" {
		return nil, fmt.Errorf("%w: chat list", ErrChildListNotSet)
	}
	return dhtstore.OpenShortArray(ctx, r.api, r.chatListKey, &r.chatListKeypair)
}

func (r *AccountRecord) openInvitationList(ctx context.Context) (*dhtstore.ShortArray, error) {
	if r.invitationListKey == "" {
		return nil, fmt.Errorf("%w: invitation list", ErrChildListNotSet)
	}
	return dhtstore.OpenShortArray(ctx, r.api, r.invitationListKey, &r.invitationListKeypair)
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
