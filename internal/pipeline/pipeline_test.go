package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rekindle-chat/rekindle/internal/keymaterial"
	"github.com/rekindle-chat/rekindle/internal/overlay"
	"github.com/rekindle-chat/rekindle/internal/routecache"
)

func TestPipelineMessageRoundTrip(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	alice := overlay.NewMock()
	bob := overlay.NewMock()
	bobRouteID, bobBlob, err := bob.NewPrivateRoute(ctx)
	if err != nil {
		t.Fatalf("bob new private route: %v", err)
	}
	_ = bobRouteID

	aliceIdentity, _ := keymaterial.Generate()
	aliceRoutes := routecache.NewRouteCache(alice)
	bobPipeline := NewPipeline(bob, nil, nil, nil)

	var mu sync.Mutex
	var received []byte
	done := make(chan struct{})
	go bobPipeline.Run(ctx, Handlers{
		OnMessage: func(ctx context.Context, fromRouteID string, kind PayloadKind, body []byte) {
			mu.Lock()
			received = append([]byte(nil), body...)
			mu.Unlock()
			close(done)
		},
	})

	bobRouteIDForAlice, err := aliceRoutes.GetOrImport(ctx, bobBlob)
	if err != nil {
		t.Fatalf("get or import: %v", err)
	}

	alicePipeline := NewPipeline(alice, aliceRoutes, nil, nil)
	envelope := BuildEnvelope(aliceIdentity, 1, []byte("nonce123"), []byte("hello bob"))
	if err := alicePipeline.SendMessage(ctx, bobRouteIDForAlice, PayloadDirectMessage, envelope); err != nil {
		t.Fatalf("send message: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message delivery")
	}

	mu.Lock()
	defer mu.Unlock()
	if string(received) != "hello bob" {
		t.Fatalf("expected 'hello bob', got %q", received)
	}
}

func TestPipelineCallAlwaysReplies(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	alice := overlay.NewMock()
	bob := overlay.NewMock()
	_, bobBlob, err := bob.NewPrivateRoute(ctx)
	if err != nil {
		t.Fatalf("bob new private route: %v", err)
	}

	aliceIdentity, _ := keymaterial.Generate()
	aliceRoutes := routecache.NewRouteCache(alice)
	bobPipeline := NewPipeline(bob, nil, nil, nil)

	go bobPipeline.Run(ctx, Handlers{
		OnCall: func(ctx context.Context, fromRouteID string, kind PayloadKind, body []byte) []byte {
			return []byte("pong:" + string(body))
		},
	})

	bobRouteIDForAlice, err := aliceRoutes.GetOrImport(ctx, bobBlob)
	if err != nil {
		t.Fatalf("get or import: %v", err)
	}

	alicePipeline := NewPipeline(alice, aliceRoutes, nil, nil)
	envelope := BuildEnvelope(aliceIdentity, 1, []byte("n"), []byte("ping"))

	callCtx, callCancel := context.WithTimeout(ctx, 2*time.Second)
	defer callCancel()
	reply, err := alicePipeline.SendCall(callCtx, bobRouteIDForAlice, PayloadDirectMessage, envelope)
	if err != nil {
		t.Fatalf("send call: %v", err)
	}
	if string(reply) != "pong:ping" {
		t.Fatalf("expected pong:ping, got %q", reply)
	}
}

func TestPipelineDropsMessagesOverRateLimit(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	alice := overlay.NewMock()
	bob := overlay.NewMock()
	_, bobBlob, err := bob.NewPrivateRoute(ctx)
	if err != nil {
		t.Fatalf("bob new private route: %v", err)
	}

	aliceIdentity, _ := keymaterial.Generate()
	aliceRoutes := routecache.NewRouteCache(alice)
	bobPipeline := NewPipeline(bob, nil, nil, nil)
	bobPipeline.SetInboundRateLimit(1, 1)

	var mu sync.Mutex
	var count int
	go bobPipeline.Run(ctx, Handlers{
		OnMessage: func(ctx context.Context, fromRouteID string, kind PayloadKind, body []byte) {
			mu.Lock()
			count++
			mu.Unlock()
		},
	})

	bobRouteIDForAlice, err := aliceRoutes.GetOrImport(ctx, bobBlob)
	if err != nil {
		t.Fatalf("get or import: %v", err)
	}
	alicePipeline := NewPipeline(alice, aliceRoutes, nil, nil)

	for i := 0; i < 5; i++ {
		envelope := BuildEnvelope(aliceIdentity, uint64(i+1), []byte("nonceeach"), []byte("flood"))
		if err := alicePipeline.SendMessage(ctx, bobRouteIDForAlice, PayloadDirectMessage, envelope); err != nil {
			t.Fatalf("send message %d: %v", i, err)
		}
	}

	time.Sleep(200 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if count >= 5 {
		t.Fatalf("expected the rate limiter to drop some of 5 rapid messages, delivered %d", count)
	}
}
