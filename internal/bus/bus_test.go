package bus

import (
	"context"
	"testing"
	"time"
)

func TestPublishConsumeInbound(t *testing.T) {
	b := New(DefaultConfig())
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := b.PublishInbound(ctx, Envelope{Fabric: "cli", Conversation: "X", Content: "hi"}); err != nil {
		t.Fatalf("publish inbound: %v", err)
	}

	select {
	case env := <-b.ConsumeInbound():
		if env.Content != "hi" || env.SessionKey() != "cli:X" {
			t.Fatalf("unexpected envelope: %+v", env)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for inbound envelope")
	}
}

func TestOutboundFanOutFiltersByFabric(t *testing.T) {
	b := New(DefaultConfig())
	defer b.Close()

	cliSub, err := b.SubscribeOutbound("cli")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	discordSub, err := b.SubscribeOutbound("discord")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := b.PublishOutbound(ctx, Envelope{Fabric: "cli", Conversation: "X", Content: "reply"}); err != nil {
		t.Fatalf("publish outbound: %v", err)
	}

	select {
	case env := <-cliSub:
		if env.Content != "reply" {
			t.Fatalf("unexpected content: %q", env.Content)
		}
	case <-time.After(time.Second):
		t.Fatal("cli subscriber never received envelope")
	}

	select {
	case env, ok := <-discordSub:
		if ok {
			t.Fatalf("discord subscriber should not have received cli traffic, got %+v", env)
		}
	default:
	}
}

func TestPublishOutboundWithNoSubscriberIsNoop(t *testing.T) {
	b := New(DefaultConfig())
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := b.PublishOutbound(ctx, Envelope{Fabric: "unregistered"}); err != nil {
		t.Fatalf("expected no error for unregistered fabric, got %v", err)
	}
}

func TestPublishTimeout(t *testing.T) {
	cfg := Config{InboundBuffer: 1, OutboundBuffer: 1, PublishTimeout: 10 * time.Millisecond}
	b := New(cfg)
	defer b.Close()

	ctx := context.Background()
	if err := b.PublishInbound(ctx, Envelope{Fabric: "cli", Conversation: "X"}); err != nil {
		t.Fatalf("first publish: %v", err)
	}

	// Queue is now full (buffer=1, nothing consumed yet); the second publish
	// must time out rather than block forever or silently drop.
	err := b.PublishInbound(ctx, Envelope{Fabric: "cli", Conversation: "X"})
	if err == nil {
		t.Fatal("expected publish timeout error")
	}
}

func TestParseSystemConversation(t *testing.T) {
	fabric, conv, err := ParseSystemConversation("telegram:12345")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if fabric != "telegram" || conv != "12345" {
		t.Fatalf("got fabric=%q conv=%q", fabric, conv)
	}

	if _, _, err := ParseSystemConversation("malformed"); err == nil {
		t.Fatal("expected error for malformed system conversation")
	}
}

func TestCloseStopsFurtherPublish(t *testing.T) {
	b := New(DefaultConfig())
	b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := b.PublishOutbound(ctx, Envelope{Fabric: "cli"}); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
