// Package dhtstore implements two collection structures layered on
// top of an overlay DHT record: ShortArray (a capacity-bounded ordered list
// supporting O(1) removal) and Log (a segmented append-only log built from
// a chain of ShortArrays).
package dhtstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rekindle-chat/rekindle/internal/overlay"
)

var (
	ErrFull          = errors.New("dhtstore: short array is full")
	ErrIndexOutOfBounds = errors.New("dhtstore: index out of bounds")
	ErrHeadNotSet    = errors.New("dhtstore: head subkey not set")
)

// shortArrayHead is the metadata stored in subkey 0: the logical ordering
// of elements, mapping each logical index (position in Slots) to a physical
// slot. The DHT subkey for a slot is slot+1; subkey 0 is reserved for the
// head itself.
type shortArrayHead struct {
	Stride uint32   `json:"stride"`
	Slots  []uint32 `json:"slots"`
}

// ShortArray is an ordered collection stored across DHT subkeys. Elements
// are addressed by logical index; the head record maps logical indices to
// physical subkey slots so removal never requires shifting DHT data.
type ShortArray struct {
	api       overlay.API
	recordKey overlay.RecordKey
	owner     *overlay.KeyPair
	stride    uint32
}

// CreateShortArray allocates a new ShortArray record with the given
// capacity. If owner is nil a random keypair is generated — callers must
// persist the returned keypair to retain write access across restarts.
func CreateShortArray(ctx context.Context, api overlay.API, capacity uint32, owner *overlay.KeyPair) (*ShortArray, overlay.KeyPair, error) {
	totalSubkeys := capacity + 1
	descriptor, err := api.CreateRecord(ctx, totalSubkeys, owner)
	if err != nil {
		return nil, overlay.KeyPair{}, fmt.Errorf("dhtstore: create short array record: %w", err)
	}

	sa := &ShortArray{api: api, recordKey: descriptor.Key, owner: &descriptor.Owner, stride: capacity}
	head := shortArrayHead{Stride: capacity, Slots: nil}
	if err := sa.writeHead(ctx, head); err != nil {
		return nil, overlay.KeyPair{}, err
	}
	return sa, descriptor.Owner, nil
}

// OpenShortArray opens an existing ShortArray. Pass a nil writer for
// read-only access.
func OpenShortArray(ctx context.Context, api overlay.API, key overlay.RecordKey, writer *overlay.KeyPair) (*ShortArray, error) {
	if err := api.OpenRecord(ctx, key, writer); err != nil {
		return nil, fmt.Errorf("dhtstore: open short array: %w", err)
	}
	sa := &ShortArray{api: api, recordKey: key, owner: writer}
	head, err := sa.readHead(ctx)
	if err != nil {
		return nil, err
	}
	sa.stride = head.Stride
	return sa, nil
}

// Add appends data to the end of the array, returning its logical index.
func (sa *ShortArray) Add(ctx context.Context, data []byte) (uint32, error) {
	head, err := sa.readHead(ctx)
	if err != nil {
		return 0, err
	}
	if uint32(len(head.Slots)) >= sa.stride {
		return 0, ErrFull
	}

	slot := findFreeSlot(sa.stride, head)
	subkey := slot + 1
	if err := sa.api.SetValue(ctx, sa.recordKey, subkey, data); err != nil {
		return 0, fmt.Errorf("dhtstore: write slot %d: %w", slot, err)
	}

	index := uint32(len(head.Slots))
	head.Slots = append(head.Slots, slot)
	if err := sa.writeHead(ctx, head); err != nil {
		return 0, err
	}
	return index, nil
}

// Get returns the element at the given logical index, or (nil, false) if
// the index is out of bounds.
func (sa *ShortArray) Get(ctx context.Context, index uint32) ([]byte, bool, error) {
	head, err := sa.readHead(ctx)
	if err != nil {
		return nil, false, err
	}
	if index >= uint32(len(head.Slots)) {
		return nil, false, nil
	}
	subkey := head.Slots[index] + 1
	data, ok, err := sa.api.GetValue(ctx, sa.recordKey, subkey, false)
	if err != nil {
		return nil, false, fmt.Errorf("dhtstore: read slot: %w", err)
	}
	return data, ok, nil
}

// Remove deletes the element at the given logical index. Subsequent
// elements shift down by one logical index; their physical slots do not
// move, only the head's index map changes.
func (sa *ShortArray) Remove(ctx context.Context, index uint32) error {
	head, err := sa.readHead(ctx)
	if err != nil {
		return err
	}
	if index >= uint32(len(head.Slots)) {
		return fmt.Errorf("%w: index %d (len=%d)", ErrIndexOutOfBounds, index, len(head.Slots))
	}
	slot := head.Slots[index]
	subkey := slot + 1
	if err := sa.api.SetValue(ctx, sa.recordKey, subkey, nil); err != nil {
		return fmt.Errorf("dhtstore: clear slot %d: %w", slot, err)
	}
	head.Slots = append(head.Slots[:index], head.Slots[index+1:]...)
	return sa.writeHead(ctx, head)
}

// Len returns the number of elements currently stored.
func (sa *ShortArray) Len(ctx context.Context) (uint32, error) {
	head, err := sa.readHead(ctx)
	if err != nil {
		return 0, err
	}
	return uint32(len(head.Slots)), nil
}

// IsEmpty reports whether the array has no elements.
func (sa *ShortArray) IsEmpty(ctx context.Context) (bool, error) {
	n, err := sa.Len(ctx)
	return n == 0, err
}

// Clear removes all elements, clearing every occupied data slot.
func (sa *ShortArray) Clear(ctx context.Context) error {
	head, err := sa.readHead(ctx)
	if err != nil {
		return err
	}
	for _, slot := range head.Slots {
		if err := sa.api.SetValue(ctx, sa.recordKey, slot+1, nil); err != nil {
			return fmt.Errorf("dhtstore: clear slot %d: %w", slot, err)
		}
	}
	return sa.writeHead(ctx, shortArrayHead{Stride: sa.stride})
}

// GetAll returns every element in logical order.
func (sa *ShortArray) GetAll(ctx context.Context) ([][]byte, error) {
	head, err := sa.readHead(ctx)
	if err != nil {
		return nil, err
	}
	results := make([][]byte, 0, len(head.Slots))
	for _, slot := range head.Slots {
		data, ok, err := sa.api.GetValue(ctx, sa.recordKey, slot+1, false)
		if err != nil {
			return nil, fmt.Errorf("dhtstore: read slot: %w", err)
		}
		if !ok {
			data = nil
		}
		results = append(results, data)
	}
	return results, nil
}

// Close releases the underlying DHT record.
func (sa *ShortArray) Close(ctx context.Context) error {
	return sa.api.CloseRecord(ctx, sa.recordKey)
}

// RecordKey returns the underlying DHT record key.
func (sa *ShortArray) RecordKey() overlay.RecordKey { return sa.recordKey }

// Capacity returns the maximum number of elements this array can hold.
func (sa *ShortArray) Capacity() uint32 { return sa.stride }

// OwnerKeyPair returns the keypair this array was opened with for write
// access, or nil if it was opened read-only.
func (sa *ShortArray) OwnerKeyPair() *overlay.KeyPair { return sa.owner }

func (sa *ShortArray) readHead(ctx context.Context) (shortArrayHead, error) {
	data, ok, err := sa.api.GetValue(ctx, sa.recordKey, 0, false)
	if err != nil {
		return shortArrayHead{}, fmt.Errorf("dhtstore: read head: %w", err)
	}
	if !ok {
		return shortArrayHead{}, ErrHeadNotSet
	}
	var head shortArrayHead
	if err := json.Unmarshal(data, &head); err != nil {
		return shortArrayHead{}, fmt.Errorf("dhtstore: head parse: %w", err)
	}
	return head, nil
}

func (sa *ShortArray) writeHead(ctx context.Context, head shortArrayHead) error {
	data, err := json.Marshal(head)
	if err != nil {
		return fmt.Errorf("dhtstore: marshal head: %w", err)
	}
	if err := sa.api.SetValue(ctx, sa.recordKey, 0, data); err != nil {
		return fmt.Errorf("dhtstore: write head: %w", err)
	}
	return nil
}

// findFreeSlot returns the lowest unused slot index. Callers must check
// capacity before calling this.
func findFreeSlot(stride uint32, head shortArrayHead) uint32 {
	occupied := make(map[uint32]bool, len(head.Slots))
	for _, s := range head.Slots {
		occupied[s] = true
	}
	for slot := uint32(0); slot < stride; slot++ {
		if !occupied[slot] {
			return slot
		}
	}
	return stride
}
