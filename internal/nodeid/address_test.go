// internal/nodeid/address_test.go
package nodeid

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddress_String(t *testing.T) {
	testCases := []struct {
		name        string
		addr        Address
		expectedStr string
	}{
		{
			name:        "simple address",
			addr:        New("app", "users"),
			expectedStr: "app:users",
		},
		{
			name:        "dotted collection",
			addr:        New("warehouse", "orders.v2"),
			expectedStr: "warehouse:orders.v2",
		},
		{
			name:        "zero address",
			addr:        Address{},
			expectedStr: "",
		},
		{
			name:        "root sentinel",
			addr:        Root,
			expectedStr: "__root__:__root__",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expectedStr, tc.addr.String())
		})
	}
}

func TestAddress_RoundTrip(t *testing.T) {
	testIDs := []string{
		"app:users",
		"mongo_ds:customer-profiles",
		"crm:contacts.archived",
	}

	for _, id := range testIDs {
		t.Run(id, func(t *testing.T) {
			addr, err := Parse(id)
			require.NoError(t, err)
			assert.Equal(t, id, addr.String())

			again, err := Parse(addr.String())
			require.NoError(t, err)
			assert.True(t, addr.Equal(again))
		})
	}
}

func TestAddress_Sentinels(t *testing.T) {
	assert.True(t, Root.IsSentinel())
	assert.True(t, Terminator.IsSentinel())
	assert.False(t, New("app", "users").IsSentinel())

	_, err := Parse(Root.String())
	assert.Error(t, err, "sentinels must not be parseable")
}

func TestAddress_Compare(t *testing.T) {
	addrs := []Address{
		Terminator,
		New("b", "a"),
		New("a", "z"),
		Root,
		New("a", "b"),
	}
	slices.SortFunc(addrs, Address.Compare)

	assert.Equal(t, []Address{Root, New("a", "b"), New("a", "z"), New("b", "a"), Terminator}, addrs)
}
