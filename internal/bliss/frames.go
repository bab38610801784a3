package bliss

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// The sync endpoint speaks SignalR JSON framing: every message is one JSON
// document terminated by an ASCII record separator. A single websocket
// message may carry several frames.
const recordSeparator byte = 0x1e

const (
	messageTypeInvocation = 1
	messageTypePing       = 6

	targetSyncRequest  = "SyncRequest"
	targetSyncResponse = "SyncResponse"
	targetInitRequest  = "InitRequest"

	statusSync    = "SYNC"
	statusActive  = "ACTIVE"
	statusPending = "PENDING"

	operationKeyAll = "ALL"
	zeroUUID        = "00000000-0000-0000-0000-000000000000"
)

type handshakeRequest struct {
	Protocol string `json:"protocol"`
	Version  int    `json:"version"`
}

// initArgument is the single argument of the InitRequest invocation. The
// client impersonates the Android app build the protocol was captured from.
type initArgument struct {
	ClientID       string `json:"clientId"`
	Stamp          string `json:"stamp"`
	ClientPlatform string `json:"clientPlatform"`
	ClientModel    string `json:"clientModel"`
	ClientBuild    string `json:"clientBuild"`
}

// syncArgument is the single argument of a SyncRequest in either direction.
// Passive reads use status SYNC with zeroed identifiers; setters use status
// ACTIVE with a fresh operation id and the last observed server version.
type syncArgument struct {
	ClientID           string  `json:"clientId"`
	ClientOperationID  string  `json:"clientOperationId"`
	ClientOperationKey string  `json:"clientOperationKey,omitempty"`
	ClientSyncVersion  int64   `json:"clientSyncVersion"`
	ServerSyncVersion  *int64  `json:"serverSyncVersion"`
	Stamp              string  `json:"stamp"`
	Status             string  `json:"status"`
	ClientPayload      *string `json:"clientPayload"`
	ServerPayload      *string `json:"serverPayload"`
	UserID             string  `json:"userId,omitempty"`
}

type invocation struct {
	Type      int    `json:"type"`
	Target    string `json:"target"`
	Arguments []any  `json:"arguments"`
}

// serverMessage is the decoded form of one incoming frame. The handshake ack
// and init ack arrive as empty objects, keepalives as {"type":6}.
type serverMessage struct {
	Type      int            `json:"type"`
	Target    string         `json:"target"`
	Arguments []syncArgument `json:"arguments"`
	Error     string         `json:"error"`
}

func (m serverMessage) isAck() bool {
	return m.Type == 0 && m.Target == "" && len(m.Arguments) == 0 && m.Error == ""
}

func (m serverMessage) isSync() bool {
	return m.Target == targetSyncRequest || m.Target == targetSyncResponse
}

func encodeFrame(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return append(data, recordSeparator), nil
}

// decodeFrames splits one websocket message into its record-separated JSON
// frames. Malformed frames abort the whole message: guessing at a partially
// readable sync stream would break the sync version tracking.
func decodeFrames(data []byte) ([]serverMessage, error) {
	var messages []serverMessage
	for _, chunk := range bytes.Split(data, []byte{recordSeparator}) {
		chunk = bytes.TrimSpace(chunk)
		if len(chunk) == 0 {
			continue
		}
		var msg serverMessage
		if err := json.Unmarshal(chunk, &msg); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnexpectedPayload, err)
		}
		messages = append(messages, msg)
	}
	return messages, nil
}
