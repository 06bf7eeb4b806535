package zmqtip

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bardlex/gomint/pkg/log"
)

func TestHandleMessageWakesWaiters(t *testing.T) {
	n := newNotifier("tcp://127.0.0.1:0", log.Discard())

	woke := make(chan error, 1)
	go func() { woke <- n.Next(context.Background()) }()

	// give the waiter time to park on the current channel
	time.Sleep(10 * time.Millisecond)
	if err := n.HandleMessage(TopicBlock, bytes.Repeat([]byte{0xab}, 32)); err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}

	select {
	case err := <-woke:
		if err != nil {
			t.Errorf("Next() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter was not woken")
	}
}

func TestHandleMessageRejectsBadHash(t *testing.T) {
	n := newNotifier("tcp://127.0.0.1:0", log.Discard())
	if err := n.HandleMessage(TopicBlock, []byte{1, 2, 3}); err == nil {
		t.Error("expected error for short hash")
	}
	if err := n.HandleMessage("rawtx", nil); err != nil {
		t.Errorf("unknown topics should be ignored, got %v", err)
	}
}

func TestDuplicateAnnouncementDoesNotWake(t *testing.T) {
	n := newNotifier("tcp://127.0.0.1:0", log.Discard())
	hash := bytes.Repeat([]byte{0x01}, 32)
	_ = n.HandleMessage(TopicBlock, hash)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = n.HandleMessage(TopicBlock, hash)
	}()
	if err := n.Next(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Next() = %v, want deadline exceeded", err)
	}
}
