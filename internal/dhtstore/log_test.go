package dhtstore

import (
	"context"
	"fmt"
	"testing"

	"github.com/rekindle-chat/rekindle/internal/overlay"
)

func TestLogAppendAndGet(t *testing.T) {
	ctx := context.Background()
	api := overlay.NewMock()

	log, _, err := CreateLog(ctx, api, 4)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	for i := 0; i < 10; i++ {
		pos, err := log.Append(ctx, []byte(fmt.Sprintf("entry-%d", i)))
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		if pos != uint64(i) {
			t.Fatalf("expected position %d, got %d", i, pos)
		}
	}

	n, err := log.Len(ctx)
	if err != nil || n != 10 {
		t.Fatalf("expected len 10, got %d err=%v", n, err)
	}

	for i := 0; i < 10; i++ {
		val, ok, err := log.Get(ctx, uint64(i))
		if err != nil || !ok {
			t.Fatalf("get %d: ok=%v err=%v", i, ok, err)
		}
		want := fmt.Sprintf("entry-%d", i)
		if string(val) != want {
			t.Fatalf("entry %d: expected %q got %q", i, want, val)
		}
	}

	_, ok, err := log.Get(ctx, 10)
	if err != nil || ok {
		t.Fatalf("expected no entry at position 10, got ok=%v err=%v", ok, err)
	}
}

func TestLogSpansMultipleSegments(t *testing.T) {
	ctx := context.Background()
	api := overlay.NewMock()
	log, _, err := CreateLog(ctx, api, 3)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	for i := 0; i < 7; i++ {
		if _, err := log.Append(ctx, []byte(fmt.Sprintf("v%d", i))); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	val, ok, err := log.Get(ctx, 6)
	if err != nil || !ok || string(val) != "v6" {
		t.Fatalf("get 6: val=%s ok=%v err=%v", val, ok, err)
	}
}

func TestLogTailGroupsBySegment(t *testing.T) {
	ctx := context.Background()
	api := overlay.NewMock()
	log, _, err := CreateLog(ctx, api, 3)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	for i := 0; i < 8; i++ {
		if _, err := log.Append(ctx, []byte(fmt.Sprintf("v%d", i))); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	tail, err := log.Tail(ctx, 3)
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	want := []string{"v5", "v6", "v7"}
	if len(tail) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(tail))
	}
	for i, w := range want {
		if string(tail[i]) != w {
			t.Fatalf("tail[%d]: expected %q got %q", i, w, tail[i])
		}
	}
}

func TestLogTailMoreThanAvailable(t *testing.T) {
	ctx := context.Background()
	api := overlay.NewMock()
	log, _, err := CreateLog(ctx, api, 4)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := log.Append(ctx, []byte("only")); err != nil {
		t.Fatalf("append: %v", err)
	}
	tail, err := log.Tail(ctx, 10)
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	if len(tail) != 1 || string(tail[0]) != "only" {
		t.Fatalf("unexpected tail: %v", tail)
	}
}

func TestLogReadOnlyRejectsAppend(t *testing.T) {
	ctx := context.Background()
	api := overlay.NewMock()
	log, owner, err := CreateLog(ctx, api, 4)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := log.Append(ctx, []byte("x")); err != nil {
		t.Fatalf("append: %v", err)
	}

	reader, err := OpenLogRead(ctx, api, log.SpineKey())
	if err != nil {
		t.Fatalf("open read: %v", err)
	}
	if _, err := reader.Append(ctx, []byte("y")); err != ErrReadOnlyLog {
		t.Fatalf("expected ErrReadOnlyLog, got %v", err)
	}

	writer, err := OpenLogWrite(ctx, api, log.SpineKey(), owner)
	if err != nil {
		t.Fatalf("open write: %v", err)
	}
	if _, err := writer.Append(ctx, []byte("y")); err != nil {
		t.Fatalf("append via reopened writer: %v", err)
	}
	n, err := writer.Len(ctx)
	if err != nil || n != 2 {
		t.Fatalf("expected len 2, got %d err=%v", n, err)
	}
}
