package decode

import (
	"crypto/md5"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

// buildAggregatedRecord hand-encodes a minimal AggregatedRecord message
// carrying the given record payloads, mirroring the wire format
// parseAggregatedRecord/parseRecord expect.
func buildAggregatedRecord(t *testing.T, payloads ...[]byte) []byte {
	t.Helper()

	var body []byte
	for _, p := range payloads {
		var rec []byte
		rec = protowire.AppendTag(rec, 3, protowire.BytesType)
		rec = protowire.AppendBytes(rec, p)
		body = protowire.AppendTag(body, 3, protowire.BytesType)
		body = protowire.AppendBytes(body, rec)
	}

	sum := md5.Sum(body)
	out := append([]byte(nil), kplMagic...)
	out = append(out, body...)
	out = append(out, sum[:]...)
	return out
}

func TestKPLAggregateDecoder_Decode(t *testing.T) {
	raw := buildAggregatedRecord(t, []byte("one"), []byte("two"), []byte("three"))

	payloads, err := KPLAggregateDecoder{}.Decode(raw)
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("one"), []byte("two"), []byte("three")}, payloads)
}

func TestKPLAggregateDecoder_NonAggregatedPassthrough(t *testing.T) {
	raw := []byte("just a plain record, no magic header")

	payloads, err := KPLAggregateDecoder{}.Decode(raw)
	require.NoError(t, err)
	require.Equal(t, [][]byte{raw}, payloads)
}

func TestKPLAggregateDecoder_BadChecksumFallsBack(t *testing.T) {
	raw := buildAggregatedRecord(t, []byte("one"))
	raw[len(raw)-1] ^= 0xFF // corrupt the trailing checksum

	payloads, err := KPLAggregateDecoder{}.Decode(raw)
	require.NoError(t, err)
	require.Equal(t, [][]byte{raw}, payloads)
}

func TestResolve(t *testing.T) {
	d, err := Resolve(false, nil)
	require.NoError(t, err)
	require.IsType(t, Identity{}, d)

	d, err = Resolve(true, KPLAggregateDecoder{})
	require.NoError(t, err)
	require.IsType(t, KPLAggregateDecoder{}, d)

	_, err = Resolve(true, nil)
	require.ErrorIs(t, err, ErrConfigurationUnavailable)
}
