package dtc

import (
	"bytes"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, sc interface {
	Scan() bool
	Text() string
	Err() error
}) ([]string, error) {
	t.Helper()
	var out []string
	for sc.Scan() {
		out = append(out, sc.Text())
	}
	return out, sc.Err()
}

func TestScanFramesManyPerRead(t *testing.T) {
	t.Parallel()

	stream := "{\"Type\":3}\x00{\"Type\":3}\x00{\"Type\":600,\"CashBalance\":5}\x00"
	got, err := collect(t, NewScanner(strings.NewReader(stream)))
	require.NoError(t, err)
	assert.Equal(t, []string{`{"Type":3}`, `{"Type":3}`, `{"Type":600,"CashBalance":5}`}, got)
}

func TestScanFramesSplitAcrossReads(t *testing.T) {
	t.Parallel()

	stream := "{\"Type\":2,\"Result\":1}\x00{\"Type\":3}\x00"
	got, err := collect(t, NewScanner(iotest.OneByteReader(strings.NewReader(stream))))
	require.NoError(t, err)
	assert.Equal(t, []string{`{"Type":2,"Result":1}`, `{"Type":3}`}, got)
}

func TestScanFramesSkipsEmpty(t *testing.T) {
	t.Parallel()

	got, err := collect(t, NewScanner(strings.NewReader("\x00\x00{\"Type\":3}\x00\x00")))
	require.NoError(t, err)
	assert.Equal(t, []string{`{"Type":3}`}, got)
}

func TestScanFramesTruncated(t *testing.T) {
	t.Parallel()

	got, err := collect(t, NewScanner(strings.NewReader("{\"Type\":3}\x00{\"Type\":30")))
	assert.ErrorIs(t, err, ErrTruncated)
	assert.Equal(t, []string{`{"Type":3}`}, got)
}

func TestEncodedFramesScanBack(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	for _, m := range []Message{
		&LogonRequest{ProtocolVersion: ProtocolVersion, ClientName: "dtcterm", HeartbeatIntervalInSeconds: 5},
		&CurrentPositionsRequest{RequestID: 7, TradeAccount: "Sim1"},
	} {
		b, err := Encode(m)
		require.NoError(t, err)
		buf.Write(b)
	}

	sc := NewScanner(&buf)
	var kinds []Kind
	for sc.Scan() {
		m, err := Decode(sc.Bytes())
		require.NoError(t, err)
		kinds = append(kinds, m.Kind())
	}
	require.NoError(t, sc.Err())
	assert.Equal(t, []Kind{KindLogonRequest, KindCurrentPositionsRequest}, kinds)
}
