package bliss

import (
	"bytes"
	"errors"
	"testing"
)

func TestEncodeFrameAppendsRecordSeparator(t *testing.T) {
	frame, err := encodeFrame(handshakeRequest{Protocol: "json", Version: 1})
	if err != nil {
		t.Fatalf("encodeFrame() error: %v", err)
	}
	if frame[len(frame)-1] != recordSeparator {
		t.Fatalf("frame does not end with record separator: %q", frame)
	}
	if !bytes.Equal(frame[:len(frame)-1], []byte(`{"protocol":"json","version":1}`)) {
		t.Fatalf("frame body = %q", frame[:len(frame)-1])
	}
}

func TestDecodeFramesSplitsMultipleMessages(t *testing.T) {
	payload := []byte("{}\x1e{\"type\":6}\x1e")
	messages, err := decodeFrames(payload)
	if err != nil {
		t.Fatalf("decodeFrames() error: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("decodeFrames() returned %d messages, want 2", len(messages))
	}
	if !messages[0].isAck() {
		t.Fatalf("first message is not an ack: %+v", messages[0])
	}
	if messages[1].Type != messageTypePing {
		t.Fatalf("second message type = %d, want %d", messages[1].Type, messageTypePing)
	}
}

func TestDecodeFramesRejectsMalformedFrame(t *testing.T) {
	_, err := decodeFrames([]byte("{}\x1enot-json\x1e"))
	if !errors.Is(err, ErrUnexpectedPayload) {
		t.Fatalf("decodeFrames() error = %v, want ErrUnexpectedPayload", err)
	}
}

func TestDecodeFramesIgnoresEmptyChunks(t *testing.T) {
	messages, err := decodeFrames([]byte("\x1e\x1e{}\x1e"))
	if err != nil {
		t.Fatalf("decodeFrames() error: %v", err)
	}
	if len(messages) != 1 {
		t.Fatalf("decodeFrames() returned %d messages, want 1", len(messages))
	}
}

func TestSyncMessageDetection(t *testing.T) {
	payload := []byte(`{"type":1,"target":"SyncResponse","arguments":[{"clientId":"x","clientOperationId":"y","clientSyncVersion":0,"serverSyncVersion":42,"stamp":"s","status":"SYNC","clientPayload":null,"serverPayload":"{\"devices\":[]}"}]}` + "\x1e")
	messages, err := decodeFrames(payload)
	if err != nil {
		t.Fatalf("decodeFrames() error: %v", err)
	}
	msg := messages[0]
	if !msg.isSync() {
		t.Fatalf("message not recognized as sync: %+v", msg)
	}
	arg := msg.Arguments[0]
	if arg.ServerSyncVersion == nil || *arg.ServerSyncVersion != 42 {
		t.Fatalf("serverSyncVersion = %v, want 42", arg.ServerSyncVersion)
	}
	if arg.ServerPayload == nil || *arg.ServerPayload != `{"devices":[]}` {
		t.Fatalf("serverPayload = %v", arg.ServerPayload)
	}
}
