package resultcache

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/specialistvlad/privacyflow/internal/record"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelope_NumbersNormalized(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	data, err := Encode(&NodeResult{
		Rows:        []record.Row{{"id": 42, "ratio": 0.25, "big": uint32(7), "name": "Ann"}},
		CompletedAt: at,
	})
	require.NoError(t, err)

	res, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, []record.Row{{"id": int64(42), "ratio": 0.25, "big": int64(7), "name": "Ann"}}, res.Rows)
	assert.True(t, at.Equal(res.CompletedAt))
}

func TestEnvelope_Corruption(t *testing.T) {
	data, err := Encode(&NodeResult{Affected: 3})
	require.NoError(t, err)

	testCases := []struct {
		name string
		data []byte
	}{
		{"not json", []byte("garbage")},
		{"wrong version", []byte(`{"version":99,"checksum":"","payload":{}}`)},
		{"tampered payload", bytes.Replace(data, []byte(`"affected":3`), []byte(`"affected":4`), 1)},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode(tc.data)
			assert.True(t, errors.Is(err, ErrCorrupt), "got %v", err)
		})
	}
}
