package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rekindle-chat/rekindle/internal/overlay"
	"github.com/rekindle-chat/rekindle/internal/platform/ratelimiter"
	"github.com/rekindle-chat/rekindle/internal/routecache"
)

// PayloadKind tags the first byte of an envelope's decrypted payload so
// the receive dispatch loop can demultiplex it without first decoding the
// full payload.
type PayloadKind byte

const (
	PayloadDirectMessage      PayloadKind = 'M'
	PayloadTypingIndicator    PayloadKind = 'T'
	PayloadCommunityBroadcast PayloadKind = 'C'
	PayloadVoicePacket        PayloadKind = 'V'
)

// Handlers groups the callbacks the dispatch loop invokes for each kind of
// inbound event. Any field left nil silently drops events of that kind.
type Handlers struct {
	// OnMessage is called for a verified AppMessage envelope's payload.
	OnMessage func(ctx context.Context, fromRouteID string, kind PayloadKind, body []byte)
	// OnCall is called for a verified AppCall envelope; the returned bytes
	// are sent back as the reply. Every AppCall must be replied to — an
	// unanswered call leaves the caller hanging until its local timeout.
	OnCall func(ctx context.Context, fromRouteID string, kind PayloadKind, body []byte) []byte
	// OnValueChange is called when a watched DHT subkey range changes.
	OnValueChange func(ctx context.Context, key overlay.RecordKey, subkeys [2]uint32)
	// OnRouteReallocateNeeded is called when our own private route was
	// reported dead and must be reallocated before further sends.
	OnRouteReallocateNeeded func(ctx context.Context)
}

// Pipeline drives the send/receive surface for one overlay session: it
// signs and verifies envelopes, reuses cached routes for sends, and runs
// the single dispatch loop that demultiplexes the overlay's update stream.
type Pipeline struct {
	api       overlay.API
	routes    *routecache.RouteCache
	ownRoutes *routecache.RouteManager
	log       *slog.Logger

	inboundLimiter *ratelimiter.RouteLimiter
}

// NewPipeline wires a Pipeline to an overlay handle and the route state it
// should keep in sync on route-change events.
func NewPipeline(api overlay.API, routes *routecache.RouteCache, ownRoutes *routecache.RouteManager, log *slog.Logger) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{api: api, routes: routes, ownRoutes: ownRoutes, log: log}
}

// SetInboundRateLimit bounds how many app_message/app_call updates a single
// FromRouteID can push through the dispatch loop per second, so one noisy
// or hostile peer can't starve the loop for everyone else. No limit applies
// until this is called, and a non-positive rps or burst removes it.
func (p *Pipeline) SetInboundRateLimit(rps float64, burst int) {
	p.inboundLimiter = ratelimiter.New(rps, burst, 10*time.Minute)
}

// SendMessage fire-and-forgets an envelope-wrapped, kind-tagged payload to
// routeID.
func (p *Pipeline) SendMessage(ctx context.Context, routeID string, kind PayloadKind, envelope Envelope) error {
	wire := append([]byte{byte(kind)}, envelope.Encode()...)
	if err := p.api.AppMessage(ctx, routeID, wire); err != nil {
		return fmt.Errorf("pipeline: app_message: %w", err)
	}
	return nil
}

// SendCall issues an envelope-wrapped, kind-tagged app_call and returns
// the raw reply payload. SendCall sets no deadline of its own: the Mock
// overlay waits for a reply until ctx is done, and WakuBackend gives up
// after 8s. A deadline on ctx bounds the call on either backend.
func (p *Pipeline) SendCall(ctx context.Context, routeID string, kind PayloadKind, envelope Envelope) ([]byte, error) {
	wire := append([]byte{byte(kind)}, envelope.Encode()...)
	reply, err := p.api.AppCall(ctx, routeID, wire)
	if err != nil {
		return nil, fmt.Errorf("pipeline: app_call: %w", err)
	}
	return reply, nil
}

// Run consumes the overlay's update channel until ctx is cancelled,
// dispatching each event to the matching handler. This is the single
// demultiplexing loop the whole receive path goes through.
func (p *Pipeline) Run(ctx context.Context, h Handlers) {
	updates := p.api.Updates()
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			p.dispatch(ctx, update, h)
		}
	}
}

func (p *Pipeline) dispatch(ctx context.Context, update overlay.Update, h Handlers) {
	switch update.Kind {
	case overlay.UpdateAppMessage:
		if !p.inboundLimiter.Allow(update.FromRouteID, time.Now()) {
			p.log.WarnContext(ctx, "pipeline: dropping app_message, route over rate limit", "from_route_id", update.FromRouteID)
			return
		}
		p.handleInbound(ctx, update.Payload, func(kind PayloadKind, body []byte) {
			if h.OnMessage != nil {
				h.OnMessage(ctx, update.FromRouteID, kind, body)
			}
		})
	case overlay.UpdateAppCall:
		if !p.inboundLimiter.Allow(update.FromRouteID, time.Now()) {
			p.log.WarnContext(ctx, "pipeline: dropping app_call, route over rate limit", "from_route_id", update.FromRouteID)
			_ = p.api.AppCallReply(ctx, update.CallID, nil)
			return
		}
		p.handleInboundCall(ctx, update, h)
	case overlay.UpdateRouteChange:
		if p.routes != nil {
			p.routes.InvalidateDeadRoutes(ctx, update.DeadRouteIDs)
		}
		if p.ownRoutes != nil && p.ownRoutes.RouteID() != "" {
			for _, dead := range update.DeadRouteIDs {
				if dead == p.ownRoutes.RouteID() {
					p.ownRoutes.Forget()
					if h.OnRouteReallocateNeeded != nil {
						h.OnRouteReallocateNeeded(ctx)
					}
					break
				}
			}
		}
	case overlay.UpdateValueChange:
		if h.OnValueChange != nil {
			h.OnValueChange(ctx, update.RecordKey, update.SubkeyRange)
		}
	default:
		p.log.DebugContext(ctx, "pipeline: unhandled update kind", "kind", update.Kind)
	}
}

func (p *Pipeline) handleInbound(ctx context.Context, wire []byte, deliver func(kind PayloadKind, body []byte)) {
	kind, envelope, ok := p.decodeAndVerify(ctx, wire)
	if !ok {
		return
	}
	deliver(kind, envelope.Payload)
}

func (p *Pipeline) handleInboundCall(ctx context.Context, update overlay.Update, h Handlers) {
	kind, envelope, ok := p.decodeAndVerify(ctx, update.Payload)
	if !ok {
		// Malformed or unverifiable calls are still replied to with an
		// empty payload — an unanswered call leaves the caller hanging.
		_ = p.api.AppCallReply(ctx, update.CallID, nil)
		return
	}

	var reply []byte
	if h.OnCall != nil {
		reply = h.OnCall(ctx, update.FromRouteID, kind, envelope.Payload)
	}
	if err := p.api.AppCallReply(ctx, update.CallID, reply); err != nil {
		p.log.ErrorContext(ctx, "pipeline: app_call_reply failed", "error", err, "call_id", update.CallID)
	}
}

func (p *Pipeline) decodeAndVerify(ctx context.Context, wire []byte) (PayloadKind, Envelope, bool) {
	if len(wire) < 1 {
		p.log.WarnContext(ctx, "pipeline: empty inbound payload")
		return 0, Envelope{}, false
	}
	kind := PayloadKind(wire[0])
	envelope, err := DecodeEnvelope(wire[1:])
	if err != nil {
		p.log.WarnContext(ctx, "pipeline: envelope decode failed", "error", err)
		return 0, Envelope{}, false
	}
	if err := envelope.Verify(); err != nil {
		p.log.WarnContext(ctx, "pipeline: envelope verification failed", "error", err, "signature", envelope.Signature)
		return 0, Envelope{}, false
	}
	return kind, envelope, true
}
