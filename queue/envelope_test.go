package queue_test

import (
	"encoding/json"
	"reflect"
	"testing"

	"github.com/xraph/loom/queue"
)

func TestCodecRoundTrip(t *testing.T) {
	env := &queue.Envelope{
		MessageID: "msg_01h2xcejqtf2nbrexx3vqjhp41",
		QueueName: "wf.orders",
		Message:   json.RawMessage(`{"order":"ord_42","items":[1,2,3]}`),
		Metadata: queue.Metadata{
			DeploymentID:   "dep_1",
			IdempotencyKey: "order-42",
			Attempt:        3,
			OwnerID:        "owner_123",
			ProjectID:      "proj_456",
			Environment:    "staging",
		},
	}

	for _, codec := range []queue.Codec{&queue.JSONCodec{}, &queue.MsgpackCodec{}} {
		t.Run(codec.Name(), func(t *testing.T) {
			data, err := codec.Encode(env)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}

			got, err := codec.Decode(data)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if !reflect.DeepEqual(got, env) {
				t.Errorf("round trip changed the envelope:\n got %+v\nwant %+v", got, env)
			}
		})
	}
}

func TestCodecDecodeGarbage(t *testing.T) {
	for _, codec := range []queue.Codec{&queue.JSONCodec{}, &queue.MsgpackCodec{}} {
		if _, err := codec.Decode([]byte("\x00not an envelope")); err == nil {
			t.Errorf("%s: decoding garbage succeeded", codec.Name())
		}
	}
}

func TestGetCodec(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{queue.CodecNameJSON, "json"},
		{queue.CodecNameMsgpack, "msgpack"},
		{"", "json"},
		{"protobuf", "json"},
	}

	for _, tt := range tests {
		if got := queue.GetCodec(tt.name).Name(); got != tt.want {
			t.Errorf("GetCodec(%q).Name() = %q, want %q", tt.name, got, tt.want)
		}
	}
}
