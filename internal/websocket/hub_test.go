// AbuseGuard - Request Abuse Detection and Mitigation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/abuseguard

package websocket

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/tomtom215/abuseguard/internal/detection"
	"github.com/tomtom215/abuseguard/internal/logging"
)

//nolint:gochecknoinits // init ensures consistent logging for tests
func init() {
	logging.Init(logging.Config{
		Level:  "disabled",
		Format: "json",
		Output: io.Discard,
	})
}

var _ detection.MitigationBroadcaster = (*Hub)(nil)

// runHub starts hub and returns a function that stops it and waits.
func runHub(t *testing.T, hub *Hub) (stop func() error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- hub.RunWithContext(ctx)
	}()
	return func() error {
		cancel()
		select {
		case err := <-errCh:
			return err
		case <-time.After(2 * time.Second):
			t.Fatal("RunWithContext did not return after cancellation")
			return nil
		}
	}
}

// createTestClient creates a client without a connection; tests read its
// send channel directly.
func createTestClient(hub *Hub) *Client {
	return &Client{id: clientIDCounter.Add(1), hub: hub, send: make(chan Message, sendBuffer)}
}

func TestNewHub(t *testing.T) {
	hub := NewHub()

	if hub.clients == nil || hub.broadcast == nil || hub.Register == nil || hub.Unregister == nil {
		t.Fatal("hub channels not initialized")
	}
	if cap(hub.broadcast) != broadcastBuffer {
		t.Errorf("broadcast capacity = %d, want %d", cap(hub.broadcast), broadcastBuffer)
	}
	if hub.GetClientCount() != 0 {
		t.Errorf("GetClientCount() = %d, want 0", hub.GetClientCount())
	}
	if hub.String() != "websocket-hub" {
		t.Errorf("String() = %q", hub.String())
	}
}

func TestHub_RegisterAndBroadcast(t *testing.T) {
	hub := NewHub()
	stop := runHub(t, hub)
	defer stop()

	clients := []*Client{createTestClient(hub), createTestClient(hub)}
	for _, c := range clients {
		if !hub.RegisterClient(c) {
			t.Fatal("RegisterClient() = false on a running hub")
		}
	}

	ev := detection.MitigationEvent{Kind: "blocked", Key: "198.51.100.4", Reason: "rate_per_second"}
	hub.BroadcastJSON(MessageTypeMitigation, ev)

	for i, c := range clients {
		select {
		case msg := <-c.send:
			if msg.Type != MessageTypeMitigation {
				t.Errorf("client %d: type = %q", i, msg.Type)
			}
			got, ok := msg.Data.(detection.MitigationEvent)
			if !ok || got.Key != ev.Key {
				t.Errorf("client %d: data = %#v", i, msg.Data)
			}
		case <-time.After(time.Second):
			t.Fatalf("client %d did not receive the broadcast", i)
		}
	}
}

func TestHub_Unregister(t *testing.T) {
	hub := NewHub()
	stop := runHub(t, hub)
	defer stop()

	client := createTestClient(hub)
	hub.RegisterClient(client)
	hub.Unregister <- client

	select {
	case _, ok := <-client.send:
		if ok {
			t.Error("send channel delivered a message, want closed")
		}
	case <-time.After(time.Second):
		t.Fatal("send channel not closed after unregister")
	}

	// Unregistering twice must not close the channel again.
	hub.Unregister <- client
	if n := hub.GetClientCount(); n != 0 {
		t.Errorf("GetClientCount() = %d, want 0", n)
	}
}

func TestHub_SlowClientDisconnected(t *testing.T) {
	hub := NewHub()
	stop := runHub(t, hub)
	defer stop()

	slow := &Client{id: clientIDCounter.Add(1), hub: hub, send: make(chan Message)}
	fast := createTestClient(hub)
	hub.RegisterClient(slow)
	hub.RegisterClient(fast)

	hub.BroadcastJSON("test", nil)

	select {
	case <-fast.send:
	case <-time.After(time.Second):
		t.Fatal("fast client did not receive the broadcast")
	}

	deadline := time.Now().Add(time.Second)
	for hub.GetClientCount() != 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if n := hub.GetClientCount(); n != 1 {
		t.Errorf("GetClientCount() = %d, want 1 after dropping the slow client", n)
	}
	if _, ok := <-slow.send; ok {
		t.Error("slow client's channel should be closed")
	}
}

func TestHub_BroadcastNeverBlocks(t *testing.T) {
	hub := NewHub()

	done := make(chan struct{})
	go func() {
		for i := 0; i < broadcastBuffer+10; i++ {
			hub.BroadcastJSON("test", i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("BroadcastJSON blocked with no hub loop running")
	}
	if len(hub.broadcast) != broadcastBuffer {
		t.Errorf("queued = %d, want %d", len(hub.broadcast), broadcastBuffer)
	}
}

func TestHub_BroadcastStatsUpdate(t *testing.T) {
	hub := NewHub()
	hub.BroadcastStatsUpdate(detection.Statistics{BlockedCount: 2, TotalConnections: 5})

	msg := <-hub.broadcast
	if msg.Type != MessageTypeStatsUpdate {
		t.Fatalf("type = %q", msg.Type)
	}
	data, ok := msg.Data.(StatsUpdateData)
	if !ok {
		t.Fatalf("data = %T", msg.Data)
	}
	if data.Stats.BlockedCount != 2 || data.Stats.TotalConnections != 5 {
		t.Errorf("stats = %+v", data.Stats)
	}
	if _, err := time.Parse(time.RFC3339, data.Timestamp); err != nil {
		t.Errorf("timestamp %q: %v", data.Timestamp, err)
	}
}

func TestHub_RunWithContext(t *testing.T) {
	t.Run("returns context error on cancel", func(t *testing.T) {
		hub := NewHub()
		stop := runHub(t, hub)
		if err := stop(); !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	})

	t.Run("returns deadline error", func(t *testing.T) {
		hub := NewHub()
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		if err := hub.RunWithContext(ctx); !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("err = %v, want context.DeadlineExceeded", err)
		}
	})

	t.Run("closes clients and refuses new ones after shutdown", func(t *testing.T) {
		hub := NewHub()
		stop := runHub(t, hub)

		clients := []*Client{createTestClient(hub), createTestClient(hub), createTestClient(hub)}
		for _, c := range clients {
			hub.RegisterClient(c)
		}
		_ = stop()

		if n := hub.GetClientCount(); n != 0 {
			t.Errorf("GetClientCount() = %d, want 0", n)
		}
		for i, c := range clients {
			if _, ok := <-c.send; ok {
				t.Errorf("client %d channel not closed", i)
			}
		}

		late := createTestClient(hub)
		if hub.RegisterClient(late) {
			t.Error("RegisterClient() = true after shutdown")
		}
		// Unregister from a pump after shutdown must not hang.
		hub.unregister(late)
	})
}

func TestGetShutdownReason(t *testing.T) {
	canceled, cancel := context.WithCancel(context.Background())
	cancel()
	expired, cancel2 := context.WithTimeout(context.Background(), -time.Second)
	defer cancel2()

	if got := getShutdownReason(canceled); got != ShutdownReasonContextCanceled {
		t.Errorf("canceled: got %q", got)
	}
	if got := getShutdownReason(expired); got != ShutdownReasonContextDeadline {
		t.Errorf("deadline: got %q", got)
	}
}

func TestMarshalMessage(t *testing.T) {
	b, err := MarshalMessage(Message{Type: MessageTypePong})
	if err != nil {
		t.Fatalf("MarshalMessage: %v", err)
	}
	if got := string(b); !strings.Contains(got, `"type":"pong"`) || !strings.Contains(got, `"data":null`) {
		t.Errorf("MarshalMessage = %s", got)
	}
}

func BenchmarkHub_BroadcastJSON(b *testing.B) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = hub.RunWithContext(ctx) }()

	for i := 0; i < 10; i++ {
		c := createTestClient(hub)
		hub.RegisterClient(c)
		go func() {
			for range c.send {
			}
		}()
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		hub.BroadcastJSON(MessageTypeMitigation, i)
	}
}
