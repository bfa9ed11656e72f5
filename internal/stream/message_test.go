package stream

import (
	"encoding/json"
	"testing"
)

func TestChannelFor(t *testing.T) {
	got := ChannelFor("flux.stream", "01HXZ")
	if got != "flux.stream.01HXZ" {
		t.Errorf("ChannelFor = %q", got)
	}
}

func TestTerminal(t *testing.T) {
	tests := []struct {
		msg  Message
		want bool
	}{
		{NewStart("r"), false},
		{NewToken("r", "a", 1), false},
		{NewComplete("r", 1, Metrics{}), true},
		{NewError("r", "boom"), true},
	}
	for _, tt := range tests {
		if got := tt.msg.Terminal(); got != tt.want {
			t.Errorf("Terminal(%s) = %v, want %v", tt.msg.Type, got, tt.want)
		}
	}
}

func TestTokenWireFormat(t *testing.T) {
	data, err := json.Marshal(NewToken("req-1", "H", 1))
	if err != nil {
		t.Fatal(err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}

	if decoded["type"] != "token" || decoded["content"] != "H" || decoded["request_id"] != "req-1" {
		t.Errorf("unexpected wire form: %s", data)
	}
	if decoded["token_index"] != float64(1) {
		t.Errorf("token_index = %v, want 1", decoded["token_index"])
	}
	if _, ok := decoded["timestamp"]; !ok {
		t.Error("timestamp missing from wire form")
	}
	// Fields of other kinds must stay off the wire.
	for _, absent := range []string{"token_count", "metrics", "error"} {
		if _, ok := decoded[absent]; ok {
			t.Errorf("field %q should be omitted on token messages", absent)
		}
	}
}
