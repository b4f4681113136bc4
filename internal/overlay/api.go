// Package overlay defines the contract this system needs from its
// underlying DHT + onion-routing substrate (create/open/read/write/watch
// DHT records, allocate and use private routes, and an update stream for
// asynchronous events) without committing to a specific transport. Tests
// and most of the record/ratchet logic run against the in-memory Mock
// implementation; WakuBackend adapts the teacher's go-waku node to the same
// contract for a real deployment.
package overlay

import (
	"context"
	"errors"
)

var (
	ErrRecordNotFound  = errors.New("overlay: record not found")
	ErrSubkeyNotSet    = errors.New("overlay: subkey not set")
	ErrNotWritable     = errors.New("overlay: record not opened for writing")
	ErrRouteNotFound   = errors.New("overlay: route not found")
	ErrWriterMismatch  = errors.New("overlay: owner keypair does not match record")
)

// KeyPair is a record owner's signing keypair (Ed25519), used to
// authenticate writes to a DHT record.
type KeyPair struct {
	Public [32]byte
	Secret [32]byte
}

// RecordKey identifies a DHT record.
type RecordKey string

// Descriptor is returned by CreateRecord: the new record's key and the
// owner keypair generated for it (None means "generate a random keypair").
type Descriptor struct {
	Key   RecordKey
	Owner KeyPair
}

// UpdateKind discriminates the asynchronous events the overlay can report.
type UpdateKind int

const (
	UpdateAppMessage UpdateKind = iota
	UpdateAppCall
	UpdateRouteChange
	UpdateValueChange
	UpdateAttachment
)

// Update is a single asynchronous event delivered on the API's update
// channel: an incoming message, an RPC-style call awaiting a reply, a
// private route reported dead, or a watched DHT subkey range changing.
type Update struct {
	Kind         UpdateKind
	FromRouteID  string
	Payload      []byte
	CallID       uint64
	RecordKey    RecordKey
	SubkeyRange  [2]uint32
	DeadRouteIDs []string
}

// API is the contract the rest of this system programs against. It mirrors
// Veilid's RoutingContext + private-route + app-message surface.
type API interface {
	// CreateRecord allocates a new DHT record with subkeyCount subkeys. If
	// owner is nil, a random owner keypair is generated (used for child
	// records such as ShortArray segments whose record key must differ
	// from siblings created with the same logical owner).
	CreateRecord(ctx context.Context, subkeyCount uint32, owner *KeyPair) (Descriptor, error)
	// OpenRecord opens an existing record. A nil writer opens it read-only.
	OpenRecord(ctx context.Context, key RecordKey, writer *KeyPair) error
	CloseRecord(ctx context.Context, key RecordKey) error

	GetValue(ctx context.Context, key RecordKey, subkey uint32, forceRefresh bool) ([]byte, bool, error)
	SetValue(ctx context.Context, key RecordKey, subkey uint32, data []byte) error
	WatchRecord(ctx context.Context, key RecordKey, subkeys [][2]uint32) (bool, error)

	NewPrivateRoute(ctx context.Context) (routeID string, blob []byte, err error)
	ImportRemoteRoute(ctx context.Context, blob []byte) (routeID string, err error)
	ReleaseRoute(ctx context.Context, routeID string) error

	AppMessage(ctx context.Context, routeID string, payload []byte) error
	AppCall(ctx context.Context, routeID string, payload []byte) ([]byte, error)
	AppCallReply(ctx context.Context, callID uint64, payload []byte) error

	Updates() <-chan Update
}
