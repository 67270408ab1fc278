package serialization

import (
	"encoding/json"
	"fmt"
)

// MessageType OCPP-J 帧类型
type MessageType int

const (
	MessageTypeCall       MessageType = 2
	MessageTypeCallResult MessageType = 3
	MessageTypeCallError  MessageType = 4
)

// String 返回帧类型名称
func (t MessageType) String() string {
	switch t {
	case MessageTypeCall:
		return "Call"
	case MessageTypeCallResult:
		return "CallResult"
	case MessageTypeCallError:
		return "CallError"
	default:
		return fmt.Sprintf("Unknown(%d)", int(t))
	}
}

// Frame 解码后的OCPP-J帧
type Frame struct {
	Type             MessageType     `json:"type"`
	MessageID        string          `json:"messageId"`
	Action           string          `json:"action,omitempty"`
	Payload          json.RawMessage `json:"payload,omitempty"`
	ErrorCode        string          `json:"errorCode,omitempty"`
	ErrorDescription string          `json:"errorDescription,omitempty"`
	ErrorDetails     json.RawMessage `json:"errorDetails,omitempty"`
}

// Serializer OCPP-J 帧编解码器
type Serializer struct{}

// SerializationError 序列化错误
type SerializationError struct {
	Operation string
	Message   string
	Cause     error
	// MessageID 解码失败时已识别出的消息ID，可用于回复CallError
	MessageID string
}

// Error 实现error接口
func (e SerializationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s failed: %s (caused by: %v)", e.Operation, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s failed: %s", e.Operation, e.Message)
}

// Unwrap 返回底层错误
func (e SerializationError) Unwrap() error {
	return e.Cause
}

// NewSerializer 创建新的序列化器
func NewSerializer() *Serializer {
	return &Serializer{}
}

// EncodeCall 编码Call帧
func (s *Serializer) EncodeCall(messageID, action string, payload interface{}) ([]byte, error) {
	if payload == nil {
		payload = struct{}{}
	}
	return s.marshal("EncodeCall", []interface{}{MessageTypeCall, messageID, action, payload})
}

// EncodeCallResult 编码CallResult帧
func (s *Serializer) EncodeCallResult(messageID string, payload interface{}) ([]byte, error) {
	if payload == nil {
		payload = struct{}{}
	}
	return s.marshal("EncodeCallResult", []interface{}{MessageTypeCallResult, messageID, payload})
}

// EncodeCallError 编码CallError帧
func (s *Serializer) EncodeCallError(messageID, errorCode, description string, details interface{}) ([]byte, error) {
	if details == nil {
		details = struct{}{}
	}
	return s.marshal("EncodeCallError", []interface{}{MessageTypeCallError, messageID, errorCode, description, details})
}

func (s *Serializer) marshal(operation string, message []interface{}) ([]byte, error) {
	data, err := json.Marshal(message)
	if err != nil {
		return nil, SerializationError{
			Operation: operation,
			Message:   "Failed to marshal JSON",
			Cause:     err,
		}
	}
	return data, nil
}

// Decode 解码OCPP-J帧
func (s *Serializer) Decode(data []byte) (*Frame, error) {
	var message []json.RawMessage
	if err := json.Unmarshal(data, &message); err != nil {
		return nil, SerializationError{
			Operation: "Decode",
			Message:   "Failed to unmarshal JSON array",
			Cause:     err,
		}
	}

	if len(message) < 3 {
		return nil, SerializationError{
			Operation: "Decode",
			Message:   "Message array too short",
		}
	}

	var msgType int
	if err := json.Unmarshal(message[0], &msgType); err != nil {
		return nil, SerializationError{
			Operation: "Decode",
			Message:   "Failed to parse message type",
			Cause:     err,
		}
	}

	frame := &Frame{Type: MessageType(msgType)}
	if err := json.Unmarshal(message[1], &frame.MessageID); err != nil {
		return nil, SerializationError{
			Operation: "Decode",
			Message:   "Failed to parse message ID",
			Cause:     err,
		}
	}

	switch frame.Type {
	case MessageTypeCall:
		if len(message) != 4 {
			return frame, s.frameError("Call frame must have 4 elements", frame.MessageID, nil)
		}
		if err := json.Unmarshal(message[2], &frame.Action); err != nil {
			return frame, s.frameError("Failed to parse action", frame.MessageID, err)
		}
		frame.Payload = message[3]
	case MessageTypeCallResult:
		if len(message) != 3 {
			return frame, s.frameError("CallResult frame must have 3 elements", frame.MessageID, nil)
		}
		frame.Payload = message[2]
	case MessageTypeCallError:
		if len(message) < 4 {
			return frame, s.frameError("CallError frame must have 5 elements", frame.MessageID, nil)
		}
		if err := json.Unmarshal(message[2], &frame.ErrorCode); err != nil {
			return frame, s.frameError("Failed to parse error code", frame.MessageID, err)
		}
		if err := json.Unmarshal(message[3], &frame.ErrorDescription); err != nil {
			return frame, s.frameError("Failed to parse error description", frame.MessageID, err)
		}
		if len(message) > 4 {
			frame.ErrorDetails = message[4]
		}
	default:
		return frame, s.frameError(fmt.Sprintf("Invalid message type: %d", msgType), frame.MessageID, nil)
	}

	return frame, nil
}

// DecodePayload 将负载解码为目标结构
func (s *Serializer) DecodePayload(payload json.RawMessage, v interface{}) error {
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return SerializationError{
			Operation: "DecodePayload",
			Message:   fmt.Sprintf("Failed to unmarshal payload into %T", v),
			Cause:     err,
		}
	}
	return nil
}

func (s *Serializer) frameError(msg, messageID string, cause error) error {
	return SerializationError{
		Operation: "Decode",
		Message:   msg,
		Cause:     cause,
		MessageID: messageID,
	}
}
