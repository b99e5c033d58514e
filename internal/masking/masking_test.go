package masking

import (
	"errors"
	"testing"

	"github.com/specialistvlad/privacyflow/internal/privacyerr"
	"github.com/specialistvlad/privacyflow/internal/record"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStrategies(t *testing.T) {
	row := record.Row{"id": int64(1), "email": "a@x.com", "age": int64(40), "nick": nil}
	fields := []string{"email", "age", "nick"}

	testCases := []struct {
		name     string
		strategy Strategy
		check    func(t *testing.T, out map[string]any)
	}{
		{
			name:     "null_rewrite",
			strategy: NullRewrite{},
			check: func(t *testing.T, out map[string]any) {
				assert.Equal(t, map[string]any{"email": nil, "age": nil, "nick": nil}, out)
			},
		},
		{
			name:     "string_rewrite",
			strategy: StringRewrite{Value: "MASKED"},
			check: func(t *testing.T, out map[string]any) {
				assert.Equal(t, map[string]any{"email": "MASKED", "age": nil, "nick": nil}, out)
			},
		},
		{
			name:     "hash",
			strategy: Hash{Salt: "pepper"},
			check: func(t *testing.T, out map[string]any) {
				assert.Len(t, out["email"], 64)
				assert.NotEqual(t, out["email"], out["age"])
				assert.Nil(t, out["nick"])
				again, _ := Hash{Salt: "pepper"}.Mask(row, fields)
				assert.Equal(t, out, again, "hashing is deterministic")
			},
		},
		{
			name:     "random_string",
			strategy: RandomString{Length: 10},
			check: func(t *testing.T, out map[string]any) {
				for _, f := range fields {
					assert.Len(t, out[f], 10)
				}
			},
		},
		{
			name:     "delete",
			strategy: Delete{},
			check: func(t *testing.T, out map[string]any) {
				assert.Nil(t, out)
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.name, tc.strategy.Name())
			out, err := tc.strategy.Mask(row, fields)
			require.NoError(t, err)
			tc.check(t, out)
		})
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry("salt")

	s, err := r.Get("")
	require.NoError(t, err)
	assert.Equal(t, "null_rewrite", s.Name())

	s, err = r.Get("delete")
	require.NoError(t, err)
	assert.Equal(t, Delete{}, s)

	_, err = r.Get("shred")
	var ve *privacyerr.ValidationError
	assert.True(t, errors.As(err, &ve))
	assert.Contains(t, err.Error(), "string_rewrite")
}
