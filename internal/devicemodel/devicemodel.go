package devicemodel

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charging-platform/charging-station-controller/internal/cache"
	"github.com/charging-platform/charging-station-controller/internal/config"
	"github.com/charging-platform/charging-station-controller/internal/domain/ocpp201"
	"github.com/charging-platform/charging-station-controller/internal/logger"
	"github.com/charging-platform/charging-station-controller/internal/storage"
)

const storeTimeout = 2 * time.Second

// ChangeListener 变量变更回调
type ChangeListener func(key Key, value string)

// DeviceModel 设备模型：带读缓存的变量存取
type DeviceModel struct {
	store      storage.VariableStore
	cache      *cache.LRUCache
	defs       map[Key]Definition
	components map[string]struct{}
	logger     *logger.Logger

	mu        sync.RWMutex
	listeners []ChangeListener
}

// New 创建设备模型，store 不可为空
func New(store storage.VariableStore, log *logger.Logger) (*DeviceModel, error) {
	if store == nil {
		return nil, fmt.Errorf("device model requires a variable store")
	}
	if log == nil {
		log = logger.Nop()
	}

	dm := &DeviceModel{
		store:      store,
		cache:      cache.NewLRUCache(&cache.Config{MaxItems: 256, ShardCount: 4}),
		defs:       make(map[Key]Definition, len(definitions)),
		components: make(map[string]struct{}),
		logger:     log.WithComponent("device-model"),
	}
	for _, def := range definitions {
		dm.defs[def.Key] = def
		dm.components[def.Component] = struct{}{}
	}
	return dm, nil
}

// Apply 写入配置文件中的初始值，忽略可写性
func (d *DeviceModel) Apply(settings []config.VariableSetting) error {
	for _, s := range settings {
		key := Key{Component: s.Component, Variable: s.Variable}
		if err := d.SetInternal(key, s.Value); err != nil {
			return fmt.Errorf("device_model %s: %w", key, err)
		}
	}
	return nil
}

// OnChange 注册变更监听
func (d *DeviceModel) OnChange(listener ChangeListener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners = append(d.listeners, listener)
}

// Get 读取变量当前值，依次查询缓存、存储与默认值
func (d *DeviceModel) Get(key Key) (string, bool) {
	if value, ok := d.cache.Get(key.String()); ok {
		return value.(string), true
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	value, ok, err := d.store.GetVariable(ctx, key.String())
	if err != nil {
		d.logger.Warnf("Failed to read %s from store, using default: %v", key, err)
	}
	if !ok {
		def, known := d.defs[key]
		if !known {
			return "", false
		}
		value = def.Default
	}
	d.cache.Set(key.String(), value, 0)
	return value, true
}

// GetBool 读取布尔变量，无法解析时为false
func (d *DeviceModel) GetBool(key Key) bool {
	value, _ := d.Get(key)
	b, err := strconv.ParseBool(value)
	return err == nil && b
}

// GetInt 读取整数变量，未设置或无法解析时返回 false
func (d *DeviceModel) GetInt(key Key) (int, bool) {
	value, ok := d.Get(key)
	if !ok || value == "" {
		return 0, false
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, false
	}
	return n, true
}

// GetIntOr 读取整数变量，缺省时返回 fallback
func (d *DeviceModel) GetIntOr(key Key, fallback int) int {
	if n, ok := d.GetInt(key); ok {
		return n
	}
	return fallback
}

// GetString 读取字符串变量
func (d *DeviceModel) GetString(key Key) string {
	value, _ := d.Get(key)
	return value
}

// GetList 读取逗号分隔的列表变量
func (d *DeviceModel) GetList(key Key) []string {
	value, _ := d.Get(key)
	if value == "" {
		return nil
	}
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

// SetInternal 由充电站自身写入变量，不检查可写性
func (d *DeviceModel) SetInternal(key Key, value string) error {
	def, known := d.defs[key]
	if !known {
		return fmt.Errorf("unknown variable %s", key)
	}
	if err := checkKind(def.Kind, value); err != nil {
		return err
	}
	return d.write(key, value)
}

func (d *DeviceModel) write(key Key, value string) error {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	if err := d.store.SetVariable(ctx, key.String(), value); err != nil {
		return err
	}
	d.cache.Set(key.String(), value, 0)

	d.mu.RLock()
	listeners := append([]ChangeListener(nil), d.listeners...)
	d.mu.RUnlock()
	for _, listener := range listeners {
		listener(key, value)
	}
	return nil
}

// GetVariable 处理CSMS读变量
func (d *DeviceModel) GetVariable(data ocpp201.GetVariableData) ocpp201.GetVariableResult {
	result := ocpp201.GetVariableResult{
		AttributeType: data.AttributeType,
		Component:     data.Component,
		Variable:      data.Variable,
	}

	def, status := d.lookup(data.Component.Name, data.Variable.Name, data.AttributeType)
	if status != "" {
		result.AttributeStatus = ocpp201.GetVariableStatus(status)
		return result
	}
	if def.Mutability == ocpp201.MutabilityWriteOnly {
		result.AttributeStatus = ocpp201.GetVariableStatusRejected
		return result
	}

	value, _ := d.Get(def.Key)
	result.AttributeStatus = ocpp201.GetVariableStatusAccepted
	result.AttributeValue = &value
	return result
}

// SetVariable 处理CSMS写变量
func (d *DeviceModel) SetVariable(data ocpp201.SetVariableData) ocpp201.SetVariableResult {
	result := ocpp201.SetVariableResult{
		AttributeType: data.AttributeType,
		Component:     data.Component,
		Variable:      data.Variable,
	}

	def, status := d.lookup(data.Component.Name, data.Variable.Name, data.AttributeType)
	if status != "" {
		result.AttributeStatus = ocpp201.SetVariableStatus(status)
		return result
	}
	if def.Mutability == ocpp201.MutabilityReadOnly {
		result.AttributeStatus = ocpp201.SetVariableStatusRejected
		return result
	}
	if err := checkKind(def.Kind, data.AttributeValue); err != nil {
		result.AttributeStatus = ocpp201.SetVariableStatusRejected
		result.StatusInfo = &ocpp201.StatusInfo{ReasonCode: "InvalidValue"}
		return result
	}
	if err := d.write(def.Key, data.AttributeValue); err != nil {
		d.logger.Errorf("Failed to persist %s: %v", def.Key, err)
		result.AttributeStatus = ocpp201.SetVariableStatusRejected
		result.StatusInfo = &ocpp201.StatusInfo{ReasonCode: "InternalError"}
		return result
	}

	if def.RebootRequired {
		result.AttributeStatus = ocpp201.SetVariableStatusRebootRequired
	} else {
		result.AttributeStatus = ocpp201.SetVariableStatusAccepted
	}
	return result
}

// lookup 返回变量定义，或非空的失败状态
func (d *DeviceModel) lookup(component, variable string, attr *ocpp201.AttributeType) (Definition, string) {
	def, known := d.defs[Key{Component: component, Variable: variable}]
	if !known {
		if _, ok := d.components[component]; !ok {
			return Definition{}, "UnknownComponent"
		}
		return Definition{}, "UnknownVariable"
	}
	if attr != nil && *attr != ocpp201.AttributeActual {
		return Definition{}, "NotSupportedAttributeType"
	}
	return def, ""
}

// Report 生成基础报告数据
func (d *DeviceModel) Report(base ocpp201.ReportBase) []ocpp201.ReportData {
	var report []ocpp201.ReportData
	actual := ocpp201.AttributeActual
	for _, def := range definitions {
		if base == ocpp201.ReportBaseConfigurationInventory && def.Mutability == ocpp201.MutabilityReadOnly {
			continue
		}
		mutability := def.Mutability
		attr := ocpp201.VariableAttribute{Type: &actual, Mutability: &mutability, Persistent: true}
		if def.Mutability != ocpp201.MutabilityWriteOnly {
			value, _ := d.Get(def.Key)
			attr.Value = &value
		}
		report = append(report, ocpp201.ReportData{
			Component:         ocpp201.Component{Name: def.Component},
			Variable:          ocpp201.Variable{Name: def.Variable},
			VariableAttribute: []ocpp201.VariableAttribute{attr},
		})
	}
	return report
}

func checkKind(kind Kind, value string) error {
	switch kind {
	case KindBool:
		if _, err := strconv.ParseBool(value); err != nil {
			return fmt.Errorf("value %q is not a boolean", value)
		}
	case KindInteger:
		if _, err := strconv.Atoi(value); err != nil {
			return fmt.Errorf("value %q is not an integer", value)
		}
	}
	return nil
}
