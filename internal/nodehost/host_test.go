package nodehost

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var testUpgrader = websocket.Upgrader{}

// fakeGateway accepts one node connection, acks the CONNECT, and answers any
// INVOKE with a canned system.which-style result before exiting.
func fakeGateway(t *testing.T, paired bool) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var connectMsg Message
		if err := conn.ReadJSON(&connectMsg); err != nil {
			return
		}
		if connectMsg.Type != MsgConnect {
			return
		}
		if err := conn.WriteJSON(NewConnectAckMessage(connectMsg.NodeID, paired)); err != nil {
			return
		}

		for {
			var msg Message
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			if msg.Type == MsgInvoke {
				inv, _ := msg.DecodeInvoke()
				result := InvokeResult{InvokeID: inv.ID, Success: true}
				_ = conn.WriteJSON(NewInvokeResultMessage(connectMsg.NodeID, result))
			}
		}
	}))
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

func TestHostConnectAndPair(t *testing.T) {
	srv := fakeGateway(t, true)
	defer srv.Close()

	h, err := New(Config{
		GatewayURL:  wsURL(srv.URL),
		DisplayName: "test-node",
	}, nil)
	if err != nil {
		t.Fatalf("new host: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := h.connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if !h.IsConnected() {
		t.Fatal("expected host to report connected")
	}
	if !h.IsPaired() {
		t.Fatal("expected host to report paired")
	}
	h.disconnect()
}

func TestHostConnectRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var connectMsg Message
		if err := conn.ReadJSON(&connectMsg); err != nil {
			return
		}
		_ = conn.WriteJSON(NewConnectRejectMessage(connectMsg.NodeID, "unknown token"))
	}))
	defer srv.Close()

	h, err := New(Config{GatewayURL: wsURL(srv.URL)}, nil)
	if err != nil {
		t.Fatalf("new host: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := h.connect(ctx); err == nil {
		t.Fatal("expected connect to fail on rejection")
	}
}

func TestHandleInvokeSystemWhichFindsKnownBinary(t *testing.T) {
	h, err := New(Config{GatewayURL: "ws://unused"}, nil)
	if err != nil {
		t.Fatalf("new host: %v", err)
	}
	result := h.handleInvoke(context.Background(), Invoke{
		ID:      "inv-1",
		Command: "system.which",
		Params:  map[string]any{"command": "sh"},
	})
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
}

func TestHandleInvokeSystemRunDeniedByDefault(t *testing.T) {
	h, err := New(Config{GatewayURL: "ws://unused"}, nil)
	if err != nil {
		t.Fatalf("new host: %v", err)
	}
	result := h.handleInvoke(context.Background(), Invoke{
		ID:      "inv-2",
		Command: "system.run",
		Params:  map[string]any{"command": "curl https://example.com"},
	})
	if result.Success {
		t.Fatalf("expected unapproved command to be denied, got %+v", result)
	}
	if result.ErrorCode != ErrCodeExecDenied {
		t.Fatalf("expected EXEC_DENIED error code, got %q", result.ErrorCode)
	}
}

func TestHandleInvokeSystemRunAllowsSafeCommand(t *testing.T) {
	h, err := New(Config{GatewayURL: "ws://unused"}, nil)
	if err != nil {
		t.Fatalf("new host: %v", err)
	}
	result := h.handleInvoke(context.Background(), Invoke{
		ID:      "inv-3",
		Command: "system.run",
		Params:  map[string]any{"command": "pwd"},
	})
	if !result.Success {
		t.Fatalf("expected default-safe command to succeed, got %+v", result)
	}
}

func TestHandleInvokeUnknownCommand(t *testing.T) {
	h, err := New(Config{GatewayURL: "ws://unused"}, nil)
	if err != nil {
		t.Fatalf("new host: %v", err)
	}
	result := h.handleInvoke(context.Background(), Invoke{ID: "inv-4", Command: "unknown.op"})
	if result.Success || result.ErrorCode != ErrCodeCapabilityUnsupported {
		t.Fatalf("expected capability_not_supported error, got %+v", result)
	}
}
