package community

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rekindle-chat/rekindle/internal/overlay"
)

// MaxMessagesPerBatch bounds a single batch record so it stays well under
// the overlay's per-subkey value size limit.
const MaxMessagesPerBatch = 50

// ChannelMessage is a single message inside a MessageBatch, already
// decrypted (or ready to encrypt) at the caller's MEK layer — this package
// only manages batch storage and linkage, not confidentiality.
type ChannelMessage struct {
	SenderKey string `json:"sender_key"`
	Body      string `json:"body"`
	Timestamp uint64 `json:"timestamp"`
	Nonce     string `json:"nonce"`
	ReplyTo   string `json:"reply_to,omitempty"`
}

// MessageBatch is one DHT record's worth of channel history. Batches form
// a singly linked list via PrevRecordKey so history can be paged backward
// without loading the whole channel at once; the channel entry in the
// community record tracks only the latest batch's key.
type MessageBatch struct {
	PrevRecordKey string           `json:"prev_record_key,omitempty"`
	Messages      []ChannelMessage `json:"messages"`
}

// CreateBatch allocates a new DHT record holding an empty batch linked to
// prevKey (empty string for the first batch in a channel).
func CreateBatch(ctx context.Context, api overlay.API, prevKey string) (overlay.RecordKey, error) {
	desc, err := api.CreateRecord(ctx, 1, nil)
	if err != nil {
		return "", fmt.Errorf("community: create batch record: %w", err)
	}
	batch := MessageBatch{PrevRecordKey: prevKey, Messages: nil}
	data, err := json.Marshal(batch)
	if err != nil {
		return "", fmt.Errorf("community: marshal new batch: %w", err)
	}
	if err := api.SetValue(ctx, desc.Key, 0, data); err != nil {
		return "", fmt.Errorf("community: set batch value: %w", err)
	}
	return desc.Key, nil
}

// ReadBatch loads a batch record. A never-written record decodes as an
// empty batch with no predecessor, matching a freshly created channel.
func ReadBatch(ctx context.Context, api overlay.API, key overlay.RecordKey) (MessageBatch, error) {
	data, ok, err := api.GetValue(ctx, key, 0, false)
	if err != nil {
		return MessageBatch{}, fmt.Errorf("community: get batch value: %w", err)
	}
	if !ok {
		return MessageBatch{}, nil
	}
	var batch MessageBatch
	if err := json.Unmarshal(data, &batch); err != nil {
		return MessageBatch{}, fmt.Errorf("community: unmarshal batch: %w", err)
	}
	return batch, nil
}

// AppendMessage appends message to the batch at batchKey. If the batch is
// already full, it instead creates a new batch linked to batchKey and
// returns that new record's key so the caller can update the channel's
// latest-batch pointer; an empty returned key means the append happened
// in place and no pointer update is needed.
func AppendMessage(ctx context.Context, api overlay.API, batchKey overlay.RecordKey, message ChannelMessage) (overlay.RecordKey, error) {
	batch, err := ReadBatch(ctx, api, batchKey)
	if err != nil {
		return "", err
	}

	if len(batch.Messages) >= MaxMessagesPerBatch {
		newKey, err := CreateBatch(ctx, api, string(batchKey))
		if err != nil {
			return "", err
		}
		newBatch := MessageBatch{PrevRecordKey: string(batchKey), Messages: []ChannelMessage{message}}
		data, err := json.Marshal(newBatch)
		if err != nil {
			return "", fmt.Errorf("community: marshal overflow batch: %w", err)
		}
		if err := api.SetValue(ctx, newKey, 0, data); err != nil {
			return "", fmt.Errorf("community: set overflow batch value: %w", err)
		}
		return newKey, nil
	}

	batch.Messages = append(batch.Messages, message)
	data, err := json.Marshal(batch)
	if err != nil {
		return "", fmt.Errorf("community: marshal appended batch: %w", err)
	}
	if err := api.SetValue(ctx, batchKey, 0, data); err != nil {
		return "", fmt.Errorf("community: set appended batch value: %w", err)
	}
	return "", nil
}

// ReadHistory walks the batch chain backward from latestBatchKey,
// returning up to limit messages newest-first.
func ReadHistory(ctx context.Context, api overlay.API, latestBatchKey overlay.RecordKey, limit int) ([]ChannelMessage, error) {
	var all []ChannelMessage
	currentKey := latestBatchKey

	for currentKey != "" {
		if len(all) >= limit {
			break
		}
		batch, err := ReadBatch(ctx, api, currentKey)
		if err != nil {
			return nil, err
		}
		for i := len(batch.Messages) - 1; i >= 0; i-- {
			all = append(all, batch.Messages[i])
			if len(all) >= limit {
				break
			}
		}
		currentKey = overlay.RecordKey(batch.PrevRecordKey)
	}

	return all, nil
}
