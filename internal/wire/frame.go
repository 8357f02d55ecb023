package wire

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/rickgao/marketsync/internal/model"
)

// Op is a control operation.
type Op string

const (
	OpSubscribe   Op = "subscribe"
	OpUnsubscribe Op = "unsubscribe"
)

// Frame is one decoded inbound message. The set of implementations is closed:
// *DataFrame, *HeartbeatFrame, *ErrorFrame and *AckFrame.
type Frame interface {
	Type() string
	frame()
}

// DataFrame carries a payload for one topic.
type DataFrame struct {
	Topic     model.Topic
	Payload   json.RawMessage
	Timestamp int64 // Exchange timestamp (ms since epoch), 0 if absent
}

// HeartbeatFrame is a liveness request or reply.
type HeartbeatFrame struct{}

// ErrorFrame is an upstream error report. Topic is zero when the error is not
// tied to a topic.
type ErrorFrame struct {
	Code    string
	Message string
	Topic   model.Topic
}

// AckFrame acknowledges a control command.
type AckFrame struct {
	Op     Op
	Topics []model.Topic
}

func (*DataFrame) Type() string      { return typeData }
func (*HeartbeatFrame) Type() string { return typeHeartbeat }
func (*ErrorFrame) Type() string     { return typeError }
func (a *AckFrame) Type() string {
	if a.Op == OpUnsubscribe {
		return typeUnsubscribed
	}
	return typeSubscribed
}

func (*DataFrame) frame()      {}
func (*HeartbeatFrame) frame() {}
func (*ErrorFrame) frame()     {}
func (*AckFrame) frame()       {}

// HasTopic reports whether the error frame names a topic.
func (e *ErrorFrame) HasTopic() bool {
	return e.Topic != (model.Topic{})
}

// Decode parses one inbound frame.
func Decode(data []byte) (Frame, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, &ValidationError{Reason: "empty frame"}
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &ValidationError{Reason: "malformed json", Raw: data, Err: err}
	}

	switch env.Type {
	case typeData:
		return decodeData(data)
	case typeHeartbeat:
		return &HeartbeatFrame{}, nil
	case typeError:
		return decodeError(data)
	case typeSubscribed, typeUnsubscribed:
		return decodeAck(env.Type, data)
	case "":
		return nil, &ValidationError{Reason: "missing type", Raw: data}
	default:
		return nil, &ValidationError{Reason: fmt.Sprintf("unknown frame type %q", env.Type), Raw: data}
	}
}

func decodeData(data []byte) (Frame, error) {
	var wire dataWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, &ValidationError{Reason: "malformed data frame", Raw: data, Err: err}
	}
	if wire.Topic == "" {
		return nil, &ValidationError{Reason: "data frame missing topic", Raw: data}
	}
	topic, err := model.ParseTopic(wire.Topic)
	if err != nil {
		return nil, &ValidationError{Reason: "data frame topic", Raw: data, Err: err}
	}
	payload := bytes.TrimSpace(wire.Payload)
	if len(payload) == 0 || payload[0] != '{' {
		return nil, &ValidationError{Reason: "data frame payload must be an object", Raw: data}
	}
	return &DataFrame{
		Topic:     topic,
		Payload:   payload,
		Timestamp: wire.Timestamp,
	}, nil
}

func decodeError(data []byte) (Frame, error) {
	var wire errorWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, &ValidationError{Reason: "malformed error frame", Raw: data, Err: err}
	}
	f := &ErrorFrame{Code: wire.Code, Message: wire.Message}
	if wire.Topic != "" {
		// A bad topic on an error frame is not worth dropping the error for.
		if topic, err := model.ParseTopic(wire.Topic); err == nil {
			f.Topic = topic
		}
	}
	return f, nil
}

func decodeAck(typ string, data []byte) (Frame, error) {
	var wire ackWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, &ValidationError{Reason: "malformed ack frame", Raw: data, Err: err}
	}
	op := OpSubscribe
	if typ == typeUnsubscribed {
		op = OpUnsubscribe
	}
	topics, err := parseTopics(wire.Topics)
	if err != nil {
		return nil, &ValidationError{Reason: "ack frame topic", Raw: data, Err: err}
	}
	return &AckFrame{Op: op, Topics: topics}, nil
}

func parseTopics(raw []string) ([]model.Topic, error) {
	topics := make([]model.Topic, 0, len(raw))
	for _, s := range raw {
		t, err := model.ParseTopic(s)
		if err != nil {
			return nil, err
		}
		topics = append(topics, t)
	}
	return topics, nil
}

// EncodeCommand builds a subscribe/unsubscribe control frame.
func EncodeCommand(op Op, topics []model.Topic) ([]byte, error) {
	if op != OpSubscribe && op != OpUnsubscribe {
		return nil, fmt.Errorf("unknown op %q", op)
	}
	if len(topics) == 0 {
		return nil, fmt.Errorf("%s: no topics", op)
	}
	names := make([]string, len(topics))
	for i, t := range topics {
		names[i] = t.String()
	}
	return json.Marshal(commandWire{Type: string(op), Topics: names})
}

// DecodeCommand parses a control frame. It is used by test servers and the
// stream tooling.
func DecodeCommand(data []byte) (Op, []model.Topic, error) {
	var wire commandWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return "", nil, &ValidationError{Reason: "malformed command", Raw: data, Err: err}
	}
	op := Op(wire.Type)
	if op != OpSubscribe && op != OpUnsubscribe {
		return "", nil, &ValidationError{Reason: fmt.Sprintf("not a command: %q", wire.Type), Raw: data}
	}
	topics, err := parseTopics(wire.Topics)
	if err != nil {
		return "", nil, &ValidationError{Reason: "command topic", Raw: data, Err: err}
	}
	return op, topics, nil
}

// heartbeat is immutable; callers must not modify the returned slice.
var heartbeat = []byte(`{"type":"heartbeat"}`)

// EncodeHeartbeat returns the heartbeat frame.
func EncodeHeartbeat() []byte {
	return heartbeat
}

// EncodeData builds a data frame.
func EncodeData(f *DataFrame) ([]byte, error) {
	return json.Marshal(dataWire{
		Type:      typeData,
		Topic:     f.Topic.String(),
		Payload:   f.Payload,
		Timestamp: f.Timestamp,
	})
}

// EncodeAck builds a subscribed/unsubscribed acknowledgement.
func EncodeAck(op Op, topics []model.Topic) ([]byte, error) {
	typ := typeSubscribed
	if op == OpUnsubscribe {
		typ = typeUnsubscribed
	}
	names := make([]string, len(topics))
	for i, t := range topics {
		names[i] = t.String()
	}
	return json.Marshal(ackWire{Type: typ, Topics: names})
}
