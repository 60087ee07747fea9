package notify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestRedisPublisherEnvelope(t *testing.T) {
	srv := miniredis.RunT(t)
	pub, err := NewRedisPublisher(srv.Addr(), "", "test")
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}
	t.Cleanup(func() { _ = pub.Close() })

	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	ctx := context.Background()
	sub := client.Subscribe(ctx, "test:bob")
	t.Cleanup(func() { _ = sub.Close() })
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	payload := map[string]any{"sender": "alice", "type": "text", "message": "c2VjcmV0"}
	if err := pub.Publish(ctx, "bob", "alice", payload); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case msg := <-sub.Channel():
		var env struct {
			Event string         `json:"event"`
			Data  map[string]any `json:"data"`
		}
		if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if env.Event != "alice" || env.Data["sender"] != "alice" || env.Data["message"] != "c2VjcmV0" {
			t.Fatalf("unexpected envelope: %+v", env)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no message received")
	}
}

func TestRedisPublisherRequiresAddr(t *testing.T) {
	if _, err := NewRedisPublisher(" ", "", ""); err == nil {
		t.Fatalf("expected error for empty addr")
	}
}
