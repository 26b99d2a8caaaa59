package nodehost

import "testing"

func TestConnectMessageRoundTrip(t *testing.T) {
	caps := []Capability{CapabilitySystemRun, CapabilitySystemWhich}
	msg := NewConnectMessage("node-1", "laptop", caps, "linux", "my-host", "secret-token")

	displayName, platform, hostname, token, decodedCaps, err := msg.DecodeConnect()
	if err != nil {
		t.Fatalf("decode connect: %v", err)
	}
	if displayName != "laptop" || platform != "linux" || hostname != "my-host" || token != "secret-token" {
		t.Fatalf("unexpected decoded fields: %q %q %q %q", displayName, platform, hostname, token)
	}
	if len(decodedCaps) != 2 || decodedCaps[0].Name != "system.run" {
		t.Fatalf("unexpected capabilities: %+v", decodedCaps)
	}
}

func TestConnectAckRoundTrip(t *testing.T) {
	msg := NewConnectAckMessage("node-1", true)
	paired, err := msg.DecodeConnectAck()
	if err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	if !paired {
		t.Fatal("expected paired=true")
	}
}

func TestInvokeRoundTrip(t *testing.T) {
	inv := Invoke{ID: "abc", Command: "system.run", Params: map[string]any{"command": "echo hi"}, TimeoutMS: 5000}
	msg := NewInvokeMessage("node-1", inv)

	decoded, err := msg.DecodeInvoke()
	if err != nil {
		t.Fatalf("decode invoke: %v", err)
	}
	if decoded.ID != "abc" || decoded.Command != "system.run" || decoded.TimeoutMS != 5000 {
		t.Fatalf("unexpected decoded invoke: %+v", decoded)
	}
}

func TestInvokeDecodeAssignsDefaults(t *testing.T) {
	msg := Message{Type: MsgInvoke, Payload: []byte(`{"command":"system.which","params":{"command":"go"}}`)}
	decoded, err := msg.DecodeInvoke()
	if err != nil {
		t.Fatalf("decode invoke: %v", err)
	}
	if decoded.ID == "" {
		t.Fatal("expected a generated ID when none provided")
	}
	if decoded.TimeoutMS != 30000 {
		t.Fatalf("expected default timeout of 30000ms, got %d", decoded.TimeoutMS)
	}
}
