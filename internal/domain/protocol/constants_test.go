package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeVersion(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"ocpp2.0.1", OCPP_VERSION_2_0_1},
		{"OCPP2.0.1", OCPP_VERSION_2_0_1},
		{" 2.0.1 ", OCPP_VERSION_2_0_1},
		{"ocpp1.6", ""},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeVersion(tt.input))
			assert.Equal(t, tt.expected != "", IsVersionSupported(tt.input))
		})
	}
}

func TestGetSupportedVersions_ReturnsCopy(t *testing.T) {
	versions := GetSupportedVersions()
	versions[0] = "mutated"
	assert.Equal(t, []string{OCPP_VERSION_2_0_1}, GetSupportedVersions())
}
