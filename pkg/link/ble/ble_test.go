package ble

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/godice/pkg/message"
)

func TestConfigParse(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
		service string
	}{
		{name: "defaults", cfg: Config{}, service: DefaultService},
		{
			name:    "custom service",
			cfg:     Config{Service: "923BFB18-A711-4923-82A8-988AD38AF7C1"},
			service: "923BFB18-A711-4923-82A8-988AD38AF7C1",
		},
		{name: "bad rx", cfg: Config{RX: "not-a-uuid"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := tt.cfg.parse()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, strings.EqualFold(tt.service, u.service.String()), u.service.String())
		})
	}
}

func TestCheckMTU(t *testing.T) {
	tests := []struct {
		mtu uint16
		ok  bool
	}{
		{23, false},
		{message.MaxSize + 2, false},
		{message.MaxSize + 3, true},
		{247, true},
	}
	for _, tt := range tests {
		err := checkMTU(tt.mtu)
		if tt.ok {
			assert.NoError(t, err, "mtu %d", tt.mtu)
		} else {
			assert.ErrorIs(t, err, ErrMTU, "mtu %d", tt.mtu)
		}
	}
}
