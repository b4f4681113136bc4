package community

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/rekindle-chat/rekindle/internal/groupkey"
	"github.com/rekindle-chat/rekindle/internal/overlay"
)

var (
	ErrAlreadyHosted = errors.New("community: already hosting this community")
	ErrNotHosted     = errors.New("community: community is not hosted here")
	ErrBadKeypairHex = errors.New("community: malformed owner keypair hex")
)

// Member is the server's in-memory view of one community member, backed by
// the server_members table.
type Member struct {
	PseudonymKeyHex string
	DisplayName     string
	JoinedAt        int64
	RouteBlob       []byte
}

// Channel is one text channel's linked-list history pointer.
type Channel struct {
	ID             string
	Name           string
	LatestBatchKey overlay.RecordKey
	SortOrder      int32
}

// Hosted is the full in-memory state for one community this process hosts.
type Hosted struct {
	CommunityID         string
	DHTRecordKey        overlay.RecordKey
	OwnerKeypair        overlay.KeyPair
	Name                string
	CreatorPseudonymHex string

	RouteID   string
	RouteBlob []byte

	MEK groupkey.MEK

	mu       sync.RWMutex
	members  map[string]*Member
	channels map[string]*Channel
}

// HostRequest carries the parameters needed to start hosting a community.
type HostRequest struct {
	CommunityID         string
	DHTRecordKey        string
	OwnerKeypairHex      string
	Name                string
	CreatorPseudonymKey string
	CreatorDisplayName  string
}

// Server is the community-hosting daemon's root object: a database handle,
// an overlay handle, and the set of communities currently hosted in this
// process.
type Server struct {
	db        *sql.DB
	api       overlay.API
	log       *slog.Logger
	startedAt time.Time

	mu     sync.RWMutex
	hosted map[string]*Hosted
}

// NewServer wires a Server to its overlay handle and database.
func NewServer(api overlay.API, db *sql.DB, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		db:        db,
		api:       api,
		log:       log,
		startedAt: time.Now(),
		hosted:    make(map[string]*Hosted),
	}
}

// HostCommunity starts hosting a community: it allocates a private route
// for community broadcasts, loads or mints the community's MEK, registers
// the creator as the first member, and persists the hosting record.
func (s *Server) HostCommunity(ctx context.Context, req HostRequest) error {
	s.mu.Lock()
	if _, exists := s.hosted[req.CommunityID]; exists {
		s.mu.Unlock()
		return ErrAlreadyHosted
	}
	s.mu.Unlock()

	owner, err := decodeKeypairHex(req.OwnerKeypairHex)
	if err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO hosted_communities (id, dht_record_key, owner_keypair_hex, name, creator_pseudonym_hex, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		req.CommunityID, req.DHTRecordKey, req.OwnerKeypairHex, req.Name, req.CreatorPseudonymKey, time.Now().Unix(),
	); err != nil {
		return fmt.Errorf("community: persist hosted community: %w", err)
	}

	mek, ok, err := LoadLatestMEK(ctx, s.db, req.CommunityID)
	if err != nil {
		return err
	}
	if !ok {
		mek, err = CreateInitialMEK(ctx, s.db, s.log, req.CommunityID)
		if err != nil {
			return err
		}
	}

	routeID, routeBlob, err := s.api.NewPrivateRoute(ctx)
	if err != nil {
		return fmt.Errorf("community: allocate route: %w", err)
	}

	h := &Hosted{
		CommunityID:         req.CommunityID,
		DHTRecordKey:        overlay.RecordKey(req.DHTRecordKey),
		OwnerKeypair:        owner,
		Name:                req.Name,
		CreatorPseudonymHex: req.CreatorPseudonymKey,
		RouteID:             routeID,
		RouteBlob:           routeBlob,
		MEK:                 mek,
		members:             make(map[string]*Member),
		channels:             make(map[string]*Channel),
	}
	h.members[req.CreatorPseudonymKey] = &Member{
		PseudonymKeyHex: req.CreatorPseudonymKey,
		DisplayName:     req.CreatorDisplayName,
		JoinedAt:        time.Now().UnixMilli(),
	}

	if _, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO server_members (community_id, pseudonym_key_hex, display_name, joined_at) VALUES (?, ?, ?, ?)`,
		req.CommunityID, req.CreatorPseudonymKey, req.CreatorDisplayName, time.Now().UnixMilli(),
	); err != nil {
		return fmt.Errorf("community: persist creator member: %w", err)
	}

	s.mu.Lock()
	s.hosted[req.CommunityID] = h
	s.mu.Unlock()

	s.log.InfoContext(ctx, "community: hosting started", "community_id", req.CommunityID)
	return nil
}

// UnhostCommunity stops hosting a community and releases its route. It is
// not an error to unhost a community that was never hosted here.
func (s *Server) UnhostCommunity(ctx context.Context, communityID string) {
	s.mu.Lock()
	h, ok := s.hosted[communityID]
	delete(s.hosted, communityID)
	s.mu.Unlock()
	if !ok {
		return
	}
	if err := s.api.ReleaseRoute(ctx, h.RouteID); err != nil {
		s.log.WarnContext(ctx, "community: release route on unhost failed", "error", err, "community_id", communityID)
	}
	s.log.InfoContext(ctx, "community: hosting stopped", "community_id", communityID)
}

// HostedInfo is the summary returned to IPC clients listing hosted communities.
type HostedInfo struct {
	CommunityID  string
	DHTRecordKey string
	MemberCount  int
	HasRoute     bool
}

// ListHosted returns a summary of every community currently hosted.
func (s *Server) ListHosted() []HostedInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]HostedInfo, 0, len(s.hosted))
	for _, h := range s.hosted {
		h.mu.RLock()
		memberCount := len(h.members)
		h.mu.RUnlock()
		out = append(out, HostedInfo{
			CommunityID:  h.CommunityID,
			DHTRecordKey: string(h.DHTRecordKey),
			MemberCount:  memberCount,
			HasRoute:     h.RouteID != "",
		})
	}
	return out
}

// Status is the server's point-in-time health summary.
type Status struct {
	UptimeSeconds  int64
	CommunityCount int
}

// GetStatus reports process uptime and hosted-community count.
func (s *Server) GetStatus() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Status{
		UptimeSeconds:  int64(time.Since(s.startedAt).Seconds()),
		CommunityCount: len(s.hosted),
	}
}

// RotateCommunityMEK mints and persists the next-generation MEK for a
// hosted community, called whenever membership changes (a removed member
// must not read future messages with the old key).
func (s *Server) RotateCommunityMEK(ctx context.Context, communityID string) (groupkey.MEK, error) {
	s.mu.RLock()
	h, ok := s.hosted[communityID]
	s.mu.RUnlock()
	if !ok {
		return groupkey.MEK{}, ErrNotHosted
	}
	mek, err := RotateMEK(ctx, s.db, s.log, communityID, h.MEK.Generation+1)
	if err != nil {
		return groupkey.MEK{}, err
	}
	h.mu.Lock()
	h.MEK = mek
	h.mu.Unlock()
	return mek, nil
}

func decodeKeypairHex(s string) (overlay.KeyPair, error) {
	var kp overlay.KeyPair
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return kp, ErrBadKeypairHex
	}
	pub, err := hex.DecodeString(parts[0])
	if err != nil || len(pub) != 32 {
		return kp, ErrBadKeypairHex
	}
	sec, err := hex.DecodeString(parts[1])
	if err != nil || len(sec) != 32 {
		return kp, ErrBadKeypairHex
	}
	copy(kp.Public[:], pub)
	copy(kp.Secret[:], sec)
	return kp, nil
}
