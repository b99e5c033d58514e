// internal/nodeid/parser_test.go
package nodeid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	testCases := []struct {
		name         string
		rawID        string
		expectErr    bool
		expectedAddr Address
	}{
		{
			name:         "simple address",
			rawID:        "app:users",
			expectedAddr: Address{Dataset: "app", Collection: "users"},
		},
		{
			name:         "underscores and digits",
			rawID:        "db_2:order_items",
			expectedAddr: Address{Dataset: "db_2", Collection: "order_items"},
		},
		{
			name:      "error - empty string",
			rawID:     "",
			expectErr: true,
		},
		{
			name:      "error - missing separator",
			rawID:     "app.users",
			expectErr: true,
		},
		{
			name:      "error - two separators",
			rawID:     "app:users:extra",
			expectErr: true,
		},
		{
			name:      "error - empty dataset",
			rawID:     ":users",
			expectErr: true,
		},
		{
			name:      "error - empty collection",
			rawID:     "app:",
			expectErr: true,
		},
		{
			name:      "error - leading hyphen",
			rawID:     "app:-users",
			expectErr: true,
		},
		{
			name:      "error - sentinel name",
			rawID:     "__terminator__:x",
			expectErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			addr, err := Parse(tc.rawID)
			if tc.expectErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expectedAddr, addr)
		})
	}
}

func TestMustParse_Panics(t *testing.T) {
	assert.Panics(t, func() { MustParse("nope") })
	assert.NotPanics(t, func() { MustParse("app:users") })
}
