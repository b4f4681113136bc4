package records

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rekindle-chat/rekindle/internal/dhtstore"
	"github.com/rekindle-chat/rekindle/internal/keymaterial"
	"github.com/rekindle-chat/rekindle/internal/overlay"
	"github.com/rekindle-chat/rekindle/internal/ratchet"
	"github.com/rekindle-chat/rekindle/pkg/models"
)

var ErrConversationHeaderNotSet = errors.New("records: conversation header not set")

// ConversationRecord is one party's half of a per-contact conversation.
// Each party creates their own record for a given contact; Alice's record
// holds Alice's profile, route blob, and outbound message log, and Bob
// reads it directly (and vice versa). Both parties can decrypt both
// records because the encryption key is derived from a shared DH secret.
type ConversationRecord struct {
	api           overlay.API
	recordKey     overlay.RecordKey
	ownerKeypair  *overlay.KeyPair
	encryptionKey keymaterial.DhtRecordKey
	messageLogKey overlay.RecordKey
}

// CreateConversationRecord allocates a new conversation record with a
// child message Log, and writes the initial header.
func CreateConversationRecord(ctx context.Context, api overlay.API, encryptionKey keymaterial.DhtRecordKey, identityPublicKey []byte, profile models.UserProfile, routeBlob []byte, bundle ratchet.PreKeyBundle, nowUnixMilli int64) (*ConversationRecord, overlay.KeyPair, error) {
	descriptor, err := api.CreateRecord(ctx, 1, nil)
	if err != nil {
		return nil, overlay.KeyPair{}, fmt.Errorf("records: create conversation record: %w", err)
	}

	log, _, err := dhtstore.CreateLog(ctx, api, dhtstore.DefaultSegmentCapacity)
	if err != nil {
		return nil, overlay.KeyPair{}, fmt.Errorf("records: create message log: %w", err)
	}

	bundleBytes, err := json.Marshal(bundle)
	if err != nil {
		return nil, overlay.KeyPair{}, fmt.Errorf("records: marshal prekey bundle: %w", err)
	}

	rec := &ConversationRecord{
		api:           api,
		recordKey:     descriptor.Key,
		ownerKeypair:  &descriptor.Owner,
		encryptionKey: encryptionKey,
		messageLogKey: log.SpineKey(),
	}

	header := models.ConversationHeader{
		IdentityPublicKey: identityPublicKey,
		Profile:           profile,
		MessageLogKey:     string(rec.messageLogKey),
		RouteBlob:         routeBlob,
		PrekeyBundle:      bundleBytes,
		CreatedAt:         nowUnixMilli,
		UpdatedAt:         nowUnixMilli,
	}
	if err := rec.WriteHeader(ctx, header); err != nil {
		return nil, overlay.KeyPair{}, err
	}
	return rec, descriptor.Owner, nil
}

// OpenConversationRecordWrite opens an existing conversation record with
// write access using the keypair returned by CreateConversationRecord.
func OpenConversationRecordWrite(ctx context.Context, api overlay.API, key overlay.RecordKey, owner overlay.KeyPair, encryptionKey keymaterial.DhtRecordKey) (*ConversationRecord, error) {
	if err := api.OpenRecord(ctx, key, &owner); err != nil {
		return nil, fmt.Errorf("records: open conversation record: %w", err)
	}
	rec := &ConversationRecord{api: api, recordKey: key, ownerKeypair: &owner, encryptionKey: encryptionKey}
	if header, err := rec.ReadHeader(ctx); err == nil {
		rec.messageLogKey = overlay.RecordKey(header.MessageLogKey)
	} else if !errors.Is(err, ErrConversationHeaderNotSet) {
		return nil, err
	}
	return rec, nil
}

// OpenConversationRecordRead opens an existing conversation record for
// reading only — used to read a contact's side of the conversation.
func OpenConversationRecordRead(ctx context.Context, api overlay.API, key overlay.RecordKey, encryptionKey keymaterial.DhtRecordKey) (*ConversationRecord, error) {
	if err := api.OpenRecord(ctx, key, nil); err != nil {
		return nil, fmt.Errorf("records: open conversation record: %w", err)
	}
	rec := &ConversationRecord{api: api, recordKey: key, encryptionKey: encryptionKey}
	if header, err := rec.ReadHeader(ctx); err == nil {
		rec.messageLogKey = overlay.RecordKey(header.MessageLogKey)
	} else if !errors.Is(err, ErrConversationHeaderNotSet) {
		return nil, err
	}
	return rec, nil
}

// ReadHeader decrypts and returns the conversation header.
func (r *ConversationRecord) ReadHeader(ctx context.Context) (models.ConversationHeader, error) {
	data, ok, err := r.api.GetValue(ctx, r.recordKey, 0, false)
	if err != nil {
		return models.ConversationHeader{}, fmt.Errorf("records: read conversation header: %w", err)
	}
	if !ok {
		return models.ConversationHeader{}, ErrConversationHeaderNotSet
	}
	plaintext, err := r.encryptionKey.Decrypt(data)
	if err != nil {
		return models.ConversationHeader{}, fmt.Errorf("records: decrypt conversation header: %w", err)
	}
	var header models.ConversationHeader
	if err := json.Unmarshal(plaintext, &header); err != nil {
		return models.ConversationHeader{}, fmt.Errorf("records: parse conversation header: %w", err)
	}
	return header, nil
}

// WriteHeader encrypts and writes a new conversation header.
func (r *ConversationRecord) WriteHeader(ctx context.Context, header models.ConversationHeader) error {
	plaintext, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("records: marshal conversation header: %w", err)
	}
	ciphertext, err := r.encryptionKey.Encrypt(plaintext)
	if err != nil {
		return fmt.Errorf("records: encrypt conversation header: %w", err)
	}
	if err := r.api.SetValue(ctx, r.recordKey, 0, ciphertext); err != nil {
		return fmt.Errorf("records: write conversation header: %w", err)
	}
	return nil
}

// UpdateRouteBlob rewrites just the route blob in the header, bumping
// UpdatedAt.
func (r *ConversationRecord) UpdateRouteBlob(ctx context.Context, routeBlob []byte, nowUnixMilli int64) error {
	header, err := r.ReadHeader(ctx)
	if err != nil {
		return err
	}
	header.RouteBlob = routeBlob
	header.UpdatedAt = nowUnixMilli
	return r.WriteHeader(ctx, header)
}

// UpdateProfile rewrites just the profile snapshot in the header, bumping
// UpdatedAt.
func (r *ConversationRecord) UpdateProfile(ctx context.Context, profile models.UserProfile, nowUnixMilli int64) error {
	header, err := r.ReadHeader(ctx)
	if err != nil {
		return err
	}
	header.Profile = profile
	header.UpdatedAt = nowUnixMilli
	return r.WriteHeader(ctx, header)
}

// MessageLog opens the child message Log for appending or reading, using
// this record's owner keypair if one is available (write access) or
// read-only otherwise.
func (r *ConversationRecord) MessageLog(ctx context.Context) (*dhtstore.Log, error) {
	if r.messageLogKey == "" {
		return nil, fmt.Errorf("%w: message log", ErrChildListNotSet)
	}
	if r.ownerKeypair != nil {
		return dhtstore.OpenLogWrite(ctx, r.api, r.messageLogKey, *r.ownerKeypair)
	}
	return dhtstore.OpenLogRead(ctx, r.api, r.messageLogKey)
}

// Watch subscribes to changes on this conversation's subkey 0 (header
// updates) and the message log's subkey 0 is watched separately via
// MessageLog(ctx).Watch.
func (r *ConversationRecord) Watch(ctx context.Context) (bool, error) {
	return r.api.WatchRecord(ctx, r.recordKey, [][2]uint32{{0, 0}})
}

// Close releases the conversation record.
func (r *ConversationRecord) Close(ctx context.Context) error {
	return r.api.CloseRecord(ctx, r.recordKey)
}

// RecordKey returns the conversation record's DHT key.
func (r *ConversationRecord) RecordKey() overlay.RecordKey { return r.recordKey }

// MessageLogKey returns the child message log's record key.
func (r *ConversationRecord) MessageLogKey() overlay.RecordKey { return r.messageLogKey }

// OwnerKeypair returns the owner keypair if opened with write access.
func (r *ConversationRecord) OwnerKeypair() *overlay.KeyPair { return r.ownerKeypair }

// AllRecordKeys returns every DHT record key owned by this conversation
// (the record itself plus its message log), for bulk close.
func (r *ConversationRecord) AllRecordKeys() []overlay.RecordKey {
	keys := []overlay.RecordKey{r.recordKey}
	if r.messageLogKey != "" {
		keys = append(keys, r.messageLogKey)
	}
	return keys
}
