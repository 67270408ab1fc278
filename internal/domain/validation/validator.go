package validation

import (
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"github.com/charging-platform/charging-station-controller/internal/domain/ocpp201"
	"github.com/go-playground/validator/v10"
)

// Validator OCPP消息验证器
type Validator struct {
	validate *validator.Validate
}

// ValidationError 验证错误
type ValidationError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Value   string `json:"value"`
	Message string `json:"message"`
}

// Error 实现error接口
func (e ValidationError) Error() string {
	return e.Message
}

// ValidationErrors 验证错误集合
type ValidationErrors []ValidationError

// Error 实现error接口
func (e ValidationErrors) Error() string {
	var messages []string
	for _, err := range e {
		messages = append(messages, err.Message)
	}
	return strings.Join(messages, "; ")
}

// HasOccurrenceViolation 是否包含必填字段缺失
func (e ValidationErrors) HasOccurrenceViolation() bool {
	for _, err := range e {
		if err.Tag == "required" {
			return true
		}
	}
	return false
}

var identifierPattern = regexp.MustCompile(`^[a-zA-Z0-9*\-_=:+|@.]*$`)

// NewValidator 创建新的验证器
func NewValidator() *Validator {
	validate := validator.New()

	// 使用json标签作为字段名，便于在CallError中回显
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})

	registerCustomValidations(validate)

	return &Validator{
		validate: validate,
	}
}

// ValidateStruct 验证结构体
func (v *Validator) ValidateStruct(s interface{}) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var validationErrors ValidationErrors

	if validatorErrors, ok := err.(validator.ValidationErrors); ok {
		for _, validatorError := range validatorErrors {
			validationErrors = append(validationErrors, ValidationError{
				Field:   validatorError.Namespace(),
				Tag:     validatorError.Tag(),
				Value:   fmt.Sprintf("%v", validatorError.Value()),
				Message: getErrorMessage(validatorError),
			})
		}
		return validationErrors
	}

	return ValidationError{
		Field:   "payload",
		Tag:     "invalid",
		Message: err.Error(),
	}
}

// ValidateJSON 验证JSON格式
func (v *Validator) ValidateJSON(data []byte) error {
	var temp interface{}
	return json.Unmarshal(data, &temp)
}

// ValidateFrame 验证OCPP-J帧头
func (v *Validator) ValidateFrame(messageType int, messageID string, action string) error {
	if messageType < 2 || messageType > 4 {
		return ValidationError{
			Field:   "messageType",
			Tag:     "range",
			Value:   strconv.Itoa(messageType),
			Message: "Message type must be 2 (Call), 3 (CallResult), or 4 (CallError)",
		}
	}

	if messageID == "" {
		return ValidationError{
			Field:   "messageId",
			Tag:     "required",
			Message: "Message ID is required",
		}
	}

	if len(messageID) > 36 {
		return ValidationError{
			Field:   "messageId",
			Tag:     "max",
			Value:   messageID,
			Message: "Message ID must not exceed 36 characters",
		}
	}

	if messageType == 2 && action == "" {
		return ValidationError{
			Field:   "action",
			Tag:     "required",
			Message: "Action is required for Call messages",
		}
	}

	return nil
}

// IsKnownAction 检查是否为已知的OCPP 2.0.1动作
func (v *Validator) IsKnownAction(action string) bool {
	_, ok := knownActions[ocpp201.Action(action)]
	return ok
}

// ValidateMessageSize 验证消息大小
func (v *Validator) ValidateMessageSize(data []byte, maxSize int) error {
	if maxSize > 0 && len(data) > maxSize {
		return ValidationError{
			Field:   "message",
			Tag:     "max_size",
			Value:   fmt.Sprintf("%d bytes", len(data)),
			Message: fmt.Sprintf("Message size %d bytes exceeds maximum allowed size %d bytes", len(data), maxSize),
		}
	}
	return nil
}

// ValidateStationID 验证充电站标识
func (v *Validator) ValidateStationID(stationID string) error {
	if stationID == "" {
		return ValidationError{
			Field:   "stationId",
			Tag:     "required",
			Message: "Station ID is required",
		}
	}
	if len(stationID) > 48 {
		return ValidationError{
			Field:   "stationId",
			Tag:     "max",
			Value:   stationID,
			Message: "Station ID must not exceed 48 characters",
		}
	}
	if !identifierPattern.MatchString(stationID) {
		return ValidationError{
			Field:   "stationId",
			Tag:     "format",
			Value:   stationID,
			Message: "Station ID contains characters outside the OCPP identifier set",
		}
	}
	return nil
}

// registerCustomValidations 注册自定义验证规则
func registerCustomValidations(validate *validator.Validate) {
	validate.RegisterValidation("ocpp_identifier", validateOCPPIdentifier)
}

// validateOCPPIdentifier 验证OCPP identifierString 字符集
func validateOCPPIdentifier(fl validator.FieldLevel) bool {
	return identifierPattern.MatchString(fl.Field().String())
}

var knownActions = map[ocpp201.Action]struct{}{
	ocpp201.ActionAuthorize:                 {},
	ocpp201.ActionBootNotification:          {},
	ocpp201.ActionCertificateSigned:         {},
	ocpp201.ActionChangeAvailability:        {},
	ocpp201.ActionClearCache:                {},
	ocpp201.ActionClearChargingProfile:      {},
	ocpp201.ActionClearVariableMonitoring:   {},
	ocpp201.ActionCustomerInformation:       {},
	ocpp201.ActionDataTransfer:              {},
	ocpp201.ActionGetBaseReport:             {},
	ocpp201.ActionGetCompositeSchedule:      {},
	ocpp201.ActionGetLocalListVersion:       {},
	ocpp201.ActionGetReport:                 {},
	ocpp201.ActionGetVariables:              {},
	ocpp201.ActionHeartbeat:                 {},
	ocpp201.ActionMeterValues:               {},
	ocpp201.ActionNotifyReport:              {},
	ocpp201.ActionRequestStartTransaction:   {},
	ocpp201.ActionRequestStopTransaction:    {},
	ocpp201.ActionReset:                     {},
	ocpp201.ActionSecurityEventNotification: {},
	ocpp201.ActionSendLocalList:             {},
	ocpp201.ActionSetChargingProfile:        {},
	ocpp201.ActionSetVariableMonitoring:     {},
	ocpp201.ActionSetVariables:              {},
	ocpp201.ActionSignCertificate:           {},
	ocpp201.ActionStatusNotification:        {},
	ocpp201.ActionTransactionEvent:          {},
	ocpp201.ActionTriggerMessage:            {},
}

// getErrorMessage 获取友好的错误消息
func getErrorMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("Field '%s' is required", fe.Field())
	case "min":
		return fmt.Sprintf("Field '%s' must be at least %s", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("Field '%s' must not exceed %s", fe.Field(), fe.Param())
	case "gte", "gt":
		return fmt.Sprintf("Field '%s' must be %s %s", fe.Field(), fe.Tag(), fe.Param())
	case "oneof":
		return fmt.Sprintf("Field '%s' must be one of [%s]", fe.Field(), fe.Param())
	case "ocpp_identifier":
		return fmt.Sprintf("Field '%s' must be a valid OCPP identifier string", fe.Field())
	default:
		return fmt.Sprintf("Field '%s' failed validation for tag '%s'", fe.Field(), fe.Tag())
	}
}
