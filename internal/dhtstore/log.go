package dhtstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rekindle-chat/rekindle/internal/overlay"
)

// DefaultSegmentCapacity is the number of entries per segment ShortArray
// when a Log is created without an explicit capacity.
const DefaultSegmentCapacity uint32 = 255

var ErrReadOnlyLog = errors.New("dhtstore: cannot append to a read-only log")

// logSpine is the metadata stored in subkey 0 of the spine record.
type logSpine struct {
	TotalCount      uint64   `json:"total_count"`
	SegmentCapacity uint32   `json:"segment_capacity"`
	Segments        []string `json:"segments"`
}

// Log is an append-only log built from a spine record referencing a chain
// of segment ShortArrays. Each segment holds up to SegmentCapacity entries;
// a new segment is allocated automatically when the current one fills.
type Log struct {
	api      overlay.API
	spineKey overlay.RecordKey
	owner    *overlay.KeyPair
}

// CreateLog allocates a new empty Log with the given per-segment capacity.
func CreateLog(ctx context.Context, api overlay.API, segmentCapacity uint32) (*Log, overlay.KeyPair, error) {
	if segmentCapacity == 0 {
		segmentCapacity = DefaultSegmentCapacity
	}
	descriptor, err := api.CreateRecord(ctx, 1, nil)
	if err != nil {
		return nil, overlay.KeyPair{}, fmt.Errorf("dhtstore: create log spine: %w", err)
	}

	l := &Log{api: api, spineKey: descriptor.Key, owner: &descriptor.Owner}
	spine := logSpine{SegmentCapacity: segmentCapacity}
	if err := l.writeSpine(ctx, spine); err != nil {
		return nil, overlay.KeyPair{}, err
	}
	return l, descriptor.Owner, nil
}

// OpenLogWrite opens an existing Log with write access using the keypair
// returned by CreateLog.
func OpenLogWrite(ctx context.Context, api overlay.API, key overlay.RecordKey, writer overlay.KeyPair) (*Log, error) {
	if err := api.OpenRecord(ctx, key, &writer); err != nil {
		return nil, fmt.Errorf("dhtstore: open log spine: %w", err)
	}
	return &Log{api: api, spineKey: key, owner: &writer}, nil
}

// OpenLogRead opens an existing Log for read-only access.
func OpenLogRead(ctx context.Context, api overlay.API, key overlay.RecordKey) (*Log, error) {
	if err := api.OpenRecord(ctx, key, nil); err != nil {
		return nil, fmt.Errorf("dhtstore: open log spine: %w", err)
	}
	return &Log{api: api, spineKey: key}, nil
}

// Append adds an entry to the log, allocating a new segment if the latest
// one is full, and returns the entry's absolute position.
func (l *Log) Append(ctx context.Context, data []byte) (uint64, error) {
	if l.owner == nil {
		return 0, ErrReadOnlyLog
	}

	spine, err := l.readSpine(ctx)
	if err != nil {
		return 0, err
	}
	cap := spine.SegmentCapacity

	needsNewSegment := len(spine.Segments) == 0 ||
		(spine.TotalCount > 0 && spine.TotalCount%uint64(cap) == 0)

	if needsNewSegment {
		// A nil owner gives each segment its own record key; the overlay
		// derives the key from the owner keypair, so l.owner would yield the
		// spine's key and overwrite it.
		segment, _, err := CreateShortArray(ctx, l.api, cap, nil)
		if err != nil {
			return 0, fmt.Errorf("dhtstore: allocate segment: %w", err)
		}
		spine.Segments = append(spine.Segments, string(segment.RecordKey()))
		if _, err := segment.Add(ctx, data); err != nil {
			return 0, fmt.Errorf("dhtstore: write to new segment: %w", err)
		}
	} else {
		latestKey := overlay.RecordKey(spine.Segments[len(spine.Segments)-1])
		segment, err := OpenShortArray(ctx, l.api, latestKey, l.owner)
		if err != nil {
			return 0, fmt.Errorf("dhtstore: open latest segment: %w", err)
		}
		if _, err := segment.Add(ctx, data); err != nil {
			return 0, fmt.Errorf("dhtstore: append to segment: %w", err)
		}
	}

	position := spine.TotalCount
	spine.TotalCount++
	if err := l.writeSpine(ctx, spine); err != nil {
		return 0, err
	}
	return position, nil
}

// Get reads the entry at the given absolute position, returning (nil,
// false) if pos is beyond the current length.
func (l *Log) Get(ctx context.Context, pos uint64) ([]byte, bool, error) {
	spine, err := l.readSpine(ctx)
	if err != nil {
		return nil, false, err
	}
	if pos >= spine.TotalCount {
		return nil, false, nil
	}

	cap := uint64(spine.SegmentCapacity)
	segmentIdx := int(pos / cap)
	offset := uint32(pos % cap)
	if segmentIdx >= len(spine.Segments) {
		return nil, false, nil
	}

	segment, err := OpenShortArray(ctx, l.api, overlay.RecordKey(spine.Segments[segmentIdx]), l.owner)
	if err != nil {
		return nil, false, fmt.Errorf("dhtstore: open segment %d: %w", segmentIdx, err)
	}
	return segment.Get(ctx, offset)
}

// Len returns the total number of entries ever appended.
func (l *Log) Len(ctx context.Context) (uint64, error) {
	spine, err := l.readSpine(ctx)
	if err != nil {
		return 0, err
	}
	return spine.TotalCount, nil
}

// IsEmpty reports whether the log has no entries.
func (l *Log) IsEmpty(ctx context.Context) (bool, error) {
	n, err := l.Len(ctx)
	return n == 0, err
}

// Tail returns the last count entries, oldest first, grouping reads by
// segment to avoid reopening a segment record for every entry.
func (l *Log) Tail(ctx context.Context, count uint32) ([][]byte, error) {
	spine, err := l.readSpine(ctx)
	if err != nil {
		return nil, err
	}
	total := spine.TotalCount
	if total == 0 || count == 0 {
		return nil, nil
	}

	start := total - uint64(count)
	if uint64(count) > total {
		start = 0
	}
	cap := uint64(spine.SegmentCapacity)

	results := make([][]byte, 0, total-start)
	var currentSegmentIdx = -1
	var currentSegment *ShortArray

	for pos := start; pos < total; pos++ {
		segIdx := int(pos / cap)
		offset := uint32(pos % cap)

		if currentSegment == nil || segIdx != currentSegmentIdx {
			currentSegmentIdx = segIdx
			if segIdx < len(spine.Segments) {
				seg, err := OpenShortArray(ctx, l.api, overlay.RecordKey(spine.Segments[segIdx]), l.owner)
				if err != nil {
					return nil, fmt.Errorf("dhtstore: open segment %d: %w", segIdx, err)
				}
				currentSegment = seg
			} else {
				break
			}
		}

		data, ok, err := currentSegment.Get(ctx, offset)
		if err != nil {
			return nil, fmt.Errorf("dhtstore: read tail entry: %w", err)
		}
		if ok {
			results = append(results, data)
		}
	}
	return results, nil
}

// Watch subscribes to changes on the spine record (new appends change
// total_count in subkey 0).
func (l *Log) Watch(ctx context.Context) (bool, error) {
	return l.api.WatchRecord(ctx, l.spineKey, [][2]uint32{{0, 0}})
}

// Close releases the spine record.
func (l *Log) Close(ctx context.Context) error {
	return l.api.CloseRecord(ctx, l.spineKey)
}

// SpineKey returns the underlying spine record key.
func (l *Log) SpineKey() overlay.RecordKey { return l.spineKey }

func (l *Log) readSpine(ctx context.Context) (logSpine, error) {
	data, ok, err := l.api.GetValue(ctx, l.spineKey, 0, false)
	if err != nil {
		return logSpine{}, fmt.Errorf("dhtstore: read spine: %w", err)
	}
	if !ok {
		return logSpine{}, ErrHeadNotSet
	}
	var spine logSpine
	if err := json.Unmarshal(data, &spine); err != nil {
		return logSpine{}, fmt.Errorf("dhtstore: spine parse: %w", err)
	}
	return spine, nil
}

func (l *Log) writeSpine(ctx context.Context, spine logSpine) error {
	data, err := json.Marshal(spine)
	if err != nil {
		return fmt.Errorf("dhtstore: marshal spine: %w", err)
	}
	if err := l.api.SetValue(ctx, l.spineKey, 0, data); err != nil {
		return fmt.Errorf("dhtstore: write spine: %w", err)
	}
	return nil
}
