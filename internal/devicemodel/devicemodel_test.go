package devicemodel

import (
	"context"
	"testing"

	"github.com/charging-platform/charging-station-controller/internal/config"
	"github.com/charging-platform/charging-station-controller/internal/domain/ocpp201"
	"github.com/charging-platform/charging-station-controller/internal/logger"
	"github.com/charging-platform/charging-station-controller/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestModel(t *testing.T) (*DeviceModel, *storage.MemoryStorage) {
	t.Helper()
	store := storage.NewMemoryStorage()
	dm, err := New(store, logger.Nop())
	require.NoError(t, err)
	return dm, store
}

func TestNew_RequiresStore(t *testing.T) {
	dm, err := New(nil, nil)
	assert.Error(t, err)
	assert.Nil(t, dm)
}

func TestDeviceModel_Defaults(t *testing.T) {
	dm, _ := newTestModel(t)

	assert.True(t, dm.GetBool(AuthCtrlrEnabled))
	assert.False(t, dm.GetBool(LocalPreAuthorize))
	assert.Equal(t, 300, dm.GetIntOr(HeartbeatInterval, 0))
	assert.Equal(t, []string{"Energy.Active.Import.Register", "Power.Active.Import"}, dm.GetList(SampledDataTxUpdatedMeasurands))

	_, ok := dm.GetInt(MaxEnergyOnInvalidId)
	assert.False(t, ok)

	_, ok = dm.Get(Key{Component: "Nope", Variable: "Nothing"})
	assert.False(t, ok)
}

func TestDeviceModel_StoreValueWins(t *testing.T) {
	dm, store := newTestModel(t)
	require.NoError(t, store.SetVariable(context.Background(), HeartbeatInterval.String(), "60"))

	assert.Equal(t, 60, dm.GetIntOr(HeartbeatInterval, 0))
}

func TestDeviceModel_Apply(t *testing.T) {
	dm, store := newTestModel(t)

	err := dm.Apply([]config.VariableSetting{
		{Component: "InternalCtrlr", Variable: "ChargeBoxSerialNumber", Value: "SN-42"},
		{Component: "AuthCtrlr", Variable: "LocalPreAuthorize", Value: "true"},
	})
	require.NoError(t, err)

	assert.Equal(t, "SN-42", dm.GetString(ChargeBoxSerialNumber))
	assert.True(t, dm.GetBool(LocalPreAuthorize))

	stored, ok, err := store.GetVariable(context.Background(), "AuthCtrlr/LocalPreAuthorize")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "true", stored)

	err = dm.Apply([]config.VariableSetting{{Component: "AuthCtrlr", Variable: "Enabled", Value: "maybe"}})
	assert.Error(t, err)

	err = dm.Apply([]config.VariableSetting{{Component: "Foo", Variable: "Bar", Value: "1"}})
	assert.Error(t, err)
}

func TestDeviceModel_SetVariable(t *testing.T) {
	dm, _ := newTestModel(t)
	target := ocpp201.AttributeTarget

	var changed []Key
	dm.OnChange(func(key Key, _ string) { changed = append(changed, key) })

	tests := []struct {
		name   string
		data   ocpp201.SetVariableData
		status ocpp201.SetVariableStatus
	}{
		{
			name:   "read write integer",
			data:   setData("OCPPCommCtrlr", "HeartbeatInterval", "120"),
			status: ocpp201.SetVariableStatusAccepted,
		},
		{
			name:   "reboot required",
			data:   setData("SecurityCtrlr", "SecurityProfile", "2"),
			status: ocpp201.SetVariableStatusRebootRequired,
		},
		{
			name:   "read only",
			data:   setData("AuthCacheCtrlr", "Storage", "5"),
			status: ocpp201.SetVariableStatusRejected,
		},
		{
			name:   "wrong kind",
			data:   setData("AuthCtrlr", "LocalPreAuthorize", "yes please"),
			status: ocpp201.SetVariableStatusRejected,
		},
		{
			name:   "unknown component",
			data:   setData("ClockCtrlr", "TimeSource", "NTP"),
			status: ocpp201.SetVariableStatusUnknownComponent,
		},
		{
			name:   "unknown variable",
			data:   setData("AuthCtrlr", "Colour", "red"),
			status: ocpp201.SetVariableStatusUnknownVariable,
		},
		{
			name: "unsupported attribute",
			data: ocpp201.SetVariableData{
				AttributeType:  &target,
				AttributeValue: "10",
				Component:      ocpp201.Component{Name: "OCPPCommCtrlr"},
				Variable:       ocpp201.Variable{Name: "HeartbeatInterval"},
			},
			status: ocpp201.SetVariableStatusNotSupportedAttributeType,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := dm.SetVariable(tt.data)
			assert.Equal(t, tt.status, result.AttributeStatus)
			assert.Equal(t, tt.data.Component, result.Component)
		})
	}

	assert.Equal(t, 120, dm.GetIntOr(HeartbeatInterval, 0))
	assert.Equal(t, 2, dm.GetIntOr(SecurityProfile, 0))
	assert.Equal(t, []Key{HeartbeatInterval, SecurityProfile}, changed)
}

func TestDeviceModel_GetVariable(t *testing.T) {
	dm, _ := newTestModel(t)

	result := dm.GetVariable(ocpp201.GetVariableData{
		Component: ocpp201.Component{Name: "OCPPCommCtrlr"},
		Variable:  ocpp201.Variable{Name: "MessageTimeout"},
	})
	assert.Equal(t, ocpp201.GetVariableStatusAccepted, result.AttributeStatus)
	require.NotNil(t, result.AttributeValue)
	assert.Equal(t, "60", *result.AttributeValue)

	result = dm.GetVariable(ocpp201.GetVariableData{
		Component: ocpp201.Component{Name: "Unknown"},
		Variable:  ocpp201.Variable{Name: "MessageTimeout"},
	})
	assert.Equal(t, ocpp201.GetVariableStatusUnknownComponent, result.AttributeStatus)
	assert.Nil(t, result.AttributeValue)
}

func TestDeviceModel_Report(t *testing.T) {
	dm, _ := newTestModel(t)

	full := dm.Report(ocpp201.ReportBaseFullInventory)
	inventory := dm.Report(ocpp201.ReportBaseConfigurationInventory)

	assert.Len(t, full, len(definitions))
	assert.Less(t, len(inventory), len(full))
	for _, item := range inventory {
		require.Len(t, item.VariableAttribute, 1)
		assert.NotEqual(t, ocpp201.MutabilityReadOnly, *item.VariableAttribute[0].Mutability)
	}
}

func setData(component, variable, value string) ocpp201.SetVariableData {
	return ocpp201.SetVariableData{
		AttributeValue: value,
		Component:      ocpp201.Component{Name: component},
		Variable:       ocpp201.Variable{Name: variable},
	}
}
