package commsutil

import (
	"encoding/json"

	comms "github.com/nats-io/nats.go"
)

// EncodePayload serializes a value to JSON bytes.
func EncodePayload(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

// DecodePayload deserializes JSON bytes into the given target.
func DecodePayload(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

// NewRequestMsg builds an outbound request envelope. The reply channel and
// correlation id ride in headers so the payload stays opaque to the
// transport.
func NewRequestMsg(subject, replyChannel, correlationID string, data []byte) *comms.Msg {
	return &comms.Msg{
		Subject: subject,
		Data:    data,
		Header: comms.Header{
			HeaderReplyChannel:  []string{replyChannel},
			HeaderCorrelationID: []string{correlationID},
		},
	}
}

// NewReplyMsg builds a reply envelope addressed to a request's reply
// channel, carrying back its correlation id.
func NewReplyMsg(replyChannel, correlationID string, data []byte) *comms.Msg {
	return &comms.Msg{
		Subject: replyChannel,
		Data:    data,
		Header: comms.Header{
			HeaderCorrelationID: []string{correlationID},
		},
	}
}
