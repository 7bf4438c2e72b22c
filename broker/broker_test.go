package broker

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseMode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"live", ModeLive, false},
		{" SIM ", ModeSim, false},
		{"Debug", ModeDebug, false},
		{"paper", "", true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, err := ParseMode(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDetectMode(t *testing.T) {
	t.Parallel()

	assert.Equal(t, ModeSim, DetectMode("Sim1", ModeLive))
	assert.Equal(t, ModeSim, DetectMode("SIM-002", ModeLive))
	assert.Equal(t, ModeLive, DetectMode("120005", ModeLive))
	assert.Equal(t, ModeDebug, DetectMode("", ModeDebug))
}

func TestSideFromDTC(t *testing.T) {
	t.Parallel()

	s, ok := SideFromDTC(1)
	assert.True(t, ok)
	assert.Equal(t, Buy, s)

	s, ok = SideFromDTC(2)
	assert.True(t, ok)
	assert.Equal(t, Sell, s)

	_, ok = SideFromDTC(0)
	assert.False(t, ok)
}

func TestScopeString(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "SIM/Sim1", Scope{Mode: ModeSim, Account: "Sim1"}.String())
}
