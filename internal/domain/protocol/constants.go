package protocol

import "strings"

// OCPP协议版本常量
const (
	OCPP_VERSION_2_0_1 = "ocpp2.0.1"

	// 默认版本
	DEFAULT_VERSION = OCPP_VERSION_2_0_1
)

// 支持的协议版本列表，按优先级排列
var SupportedVersions = []string{
	OCPP_VERSION_2_0_1,
}

// 版本映射表，处理CSMS返回的各种写法
var VersionMapping = map[string]string{
	"2.0.1":     OCPP_VERSION_2_0_1,
	"ocpp2.0.1": OCPP_VERSION_2_0_1,
}

// NormalizeVersion 规范化协议版本，未知版本返回空串
func NormalizeVersion(version string) string {
	if normalized, exists := VersionMapping[strings.ToLower(strings.TrimSpace(version))]; exists {
		return normalized
	}
	return ""
}

// IsVersionSupported 检查版本是否支持
func IsVersionSupported(version string) bool {
	normalized := NormalizeVersion(version)
	for _, supported := range SupportedVersions {
		if normalized == supported {
			return true
		}
	}
	return false
}

// GetSupportedVersions 获取握手时提供的子协议列表
func GetSupportedVersions() []string {
	result := make([]string, len(SupportedVersions))
	copy(result, SupportedVersions)
	return result
}
