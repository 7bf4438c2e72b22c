package dtc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeKnownKinds(t *testing.T) {
	t.Parallel()

	m, err := Decode([]byte(`{"Type":301,"ServerOrderID":"S1","Symbol":"ESZ5","BuySell":1,"OrderStatus":4,"OrderQuantity":2}`))
	require.NoError(t, err)
	ou, ok := m.(*OrderUpdate)
	require.True(t, ok)
	assert.Equal(t, "S1", ou.ServerOrderID)
	assert.Equal(t, 4, ou.OrderStatus)
	assert.Equal(t, 2.0, ou.OrderQuantity)

	m, err = Decode([]byte(`{"Type":602,"CashBalance":1000.5,"TradeAccount":"Sim1"}`))
	require.NoError(t, err)
	bu, ok := m.(*AccountBalanceUpdate)
	require.True(t, ok)
	assert.Equal(t, KindAccountBalanceUpdateAlt, bu.Kind())
	assert.Equal(t, 1000.5, bu.CashBalance)
}

func TestDecodeUnknownKindFallsBack(t *testing.T) {
	t.Parallel()

	raw := []byte(`{"Type":104,"SymbolID":1,"BidPrice":4500.25}`)
	m, err := Decode(raw)
	require.NoError(t, err)

	u, ok := m.(*Unknown)
	require.True(t, ok)
	assert.Equal(t, Kind(104), u.Kind())
	assert.False(t, u.Kind().Known())
	assert.Equal(t, "KIND_104", u.Kind().String())
	assert.Equal(t, raw, u.Raw)
}

func TestDecodeMalformed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		frame string
	}{
		{"not json", "hello"},
		{"empty", "   "},
		{"truncated object", `{"Type":3`},
		{"bad field type", `{"Type":306,"Quantity":"ten"}`},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Decode([]byte(tt.frame))
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestEncodeStampsTypeAndTerminates(t *testing.T) {
	t.Parallel()

	b, err := Encode(&AccountBalanceRequest{RequestID: 3, TradeAccount: "Sim1"})
	require.NoError(t, err)
	require.Equal(t, byte(0), b[len(b)-1])
	assert.JSONEq(t, `{"Type":601,"RequestID":3,"TradeAccount":"Sim1"}`, string(b[:len(b)-1]))
}

func TestPositionUpdateLastInBatch(t *testing.T) {
	t.Parallel()

	assert.True(t, PositionUpdate{NoPositions: 1}.LastInBatch())
	assert.True(t, PositionUpdate{TotalNumberMessages: 2, MessageNumber: 2}.LastInBatch())
	assert.False(t, PositionUpdate{TotalNumberMessages: 2, MessageNumber: 1}.LastInBatch())
	assert.False(t, PositionUpdate{}.LastInBatch())
}
