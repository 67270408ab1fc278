package ocpp201

import (
	"github.com/charging-platform/charging-station-controller/internal/domain/ocpp201"
)

// Decision 发送策略
type Decision int

const (
	SendNow Decision = iota
	SendWhenRegistered
	Discard
)

// String 返回策略名称
func (d Decision) String() string {
	switch d {
	case SendNow:
		return "SendNow"
	case SendWhenRegistered:
		return "SendWhenRegistered"
	case Discard:
		return "Discard"
	default:
		return "Unknown"
	}
}

// Classify 决定一条请求立即发送、注册后发送还是丢弃
//
// 优先级依次为：引导消息或触发消息、已注册、交易消息、全部排队、丢弃。
// 交易消息永远不会被丢弃。
func Classify(isRegistration, initiatedByTrigger bool, state ocpp201.RegistrationStatus, isTransaction, queueAll bool) Decision {
	switch {
	case isRegistration || initiatedByTrigger:
		return SendNow
	case state == ocpp201.RegistrationStatusAccepted:
		return SendNow
	case isTransaction:
		return SendWhenRegistered
	case queueAll:
		return SendWhenRegistered
	default:
		return Discard
	}
}
