package ocpp201

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/charging-platform/charging-station-controller/internal/domain/serialization"
	"github.com/charging-platform/charging-station-controller/internal/domain/validation"
)

// ErrorKind 错误分类
type ErrorKind string

const (
	ErrKindFormation      ErrorKind = "Formation"
	ErrKindOccurrence     ErrorKind = "Occurrence"
	ErrKindNotImplemented ErrorKind = "NotImplemented"
	ErrKindNotSupported   ErrorKind = "NotSupported"
	ErrKindSecurity       ErrorKind = "Security"
	ErrKindInternal       ErrorKind = "Internal"
	ErrKindStorage        ErrorKind = "Storage"
	ErrKindTimeout        ErrorKind = "Timeout"
	ErrKindOffline        ErrorKind = "Offline"
	ErrKindConfiguration  ErrorKind = "Configuration"
)

// CallError 错误码
const (
	CallErrorNotImplemented                = "NotImplemented"
	CallErrorNotSupported                  = "NotSupported"
	CallErrorFormationViolation            = "FormationViolation"
	CallErrorOccurrenceConstraintViolation = "OccurrenceConstraintViolation"
	CallErrorPropertyConstraintViolation   = "PropertyConstraintViolation"
	CallErrorSecurityError                 = "SecurityError"
	CallErrorInternalError                 = "InternalError"
	CallErrorGenericError                  = "GenericError"
)

// ProtocolError 带分类的协议层错误
type ProtocolError struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *ProtocolError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *ProtocolError) Unwrap() error {
	return e.Cause
}

// NewError 创建协议错误
func NewError(kind ErrorKind, format string, args ...interface{}) *ProtocolError {
	return &ProtocolError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError 包装底层错误
func WrapError(kind ErrorKind, cause error, message string) *ProtocolError {
	return &ProtocolError{Kind: kind, Message: message, Cause: cause}
}

// KindOf 返回错误分类，未分类的错误视为内部错误
func KindOf(err error) ErrorKind {
	var perr *ProtocolError
	if errors.As(err, &perr) {
		return perr.Kind
	}
	var verrs validation.ValidationErrors
	if errors.As(err, &verrs) {
		if verrs.HasOccurrenceViolation() {
			return ErrKindOccurrence
		}
		return ErrKindFormation
	}
	var verr validation.ValidationError
	if errors.As(err, &verr) {
		if verr.Tag == "required" {
			return ErrKindOccurrence
		}
		return ErrKindFormation
	}
	var serr serialization.SerializationError
	if errors.As(err, &serr) {
		return ErrKindFormation
	}
	return ErrKindInternal
}

// ToCallError 将错误映射为 CallError 的错误码与描述
func ToCallError(err error) (code string, description string) {
	if err == nil {
		return CallErrorGenericError, ""
	}

	switch KindOf(err) {
	case ErrKindFormation:
		code = CallErrorFormationViolation
	case ErrKindOccurrence:
		code = CallErrorOccurrenceConstraintViolation
	case ErrKindNotImplemented:
		code = CallErrorNotImplemented
	case ErrKindNotSupported:
		code = CallErrorNotSupported
	case ErrKindSecurity:
		code = CallErrorSecurityError
	default:
		code = CallErrorInternalError
	}

	return code, truncateDescription(err.Error())
}

// maxDescriptionBytes CallError 描述的字节上限
const maxDescriptionBytes = 255

// truncateDescription 按字节上限截断，且不拆开多字节字符
func truncateDescription(description string) string {
	if len(description) <= maxDescriptionBytes {
		return description
	}
	n := maxDescriptionBytes
	for n > 0 && !utf8.RuneStart(description[n]) {
		n--
	}
	return description[:n]
}
