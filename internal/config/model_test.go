package config

import (
	"errors"
	"testing"

	"github.com/specialistvlad/privacyflow/internal/nodeid"
	"github.com/specialistvlad/privacyflow/internal/privacyerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleModel() *Model {
	m := NewModel()
	m.Connections["app_db"] = &Connection{Name: "app_db", Kind: "sqlite"}
	m.Datasets = []*Dataset{{
		Name:       "app",
		Connection: "app_db",
		Collections: []*Collection{
			{
				Name: "users",
				Fields: []*Field{
					{Name: "id", PrimaryKey: true, Categories: []string{"user.unique_id"}},
					{Name: "email", Identity: "email", Categories: []string{"user.contact.email"}},
				},
			},
			{
				Name: "orders",
				Fields: []*Field{
					{Name: "user_id", References: []Reference{{Dataset: "app", Collection: "users", Field: "id", Direction: DirectionFrom}}},
				},
			},
		},
	}}
	m.Policies["default"] = &Policy{Name: "default", AccessCategories: []string{"user"}}
	return m
}

func TestModel_Lookup(t *testing.T) {
	m := sampleModel()

	ds, c, ok := m.Collection(nodeid.New("app", "users"))
	require.True(t, ok)
	assert.Equal(t, "app", ds.Name)
	assert.Equal(t, []string{"id", "email"}, c.FieldNames())
	assert.Equal(t, []string{"id"}, c.PrimaryKeys())

	_, _, ok = m.Collection(nodeid.New("app", "missing"))
	assert.False(t, ok)
}

func TestModel_Validate(t *testing.T) {
	testCases := []struct {
		name    string
		mutate  func(m *Model)
		wantErr bool
	}{
		{name: "valid", mutate: func(m *Model) {}},
		{
			name:    "duplicate collection",
			mutate:  func(m *Model) { m.Datasets[0].Collections = append(m.Datasets[0].Collections, &Collection{Name: "users"}) },
			wantErr: true,
		},
		{
			name:    "unknown connection",
			mutate:  func(m *Model) { m.Datasets[0].Connection = "nope" },
			wantErr: true,
		},
		{
			name: "bad direction",
			mutate: func(m *Model) {
				m.Datasets[0].Collections[1].Fields[0].References[0].Direction = "sideways"
			},
			wantErr: true,
		},
		{
			name:    "empty policy",
			mutate:  func(m *Model) { m.Policies["empty"] = &Policy{Name: "empty"} },
			wantErr: true,
		},
		{
			name:    "connection without kind",
			mutate:  func(m *Model) { m.Connections["app_db"].Kind = "" },
			wantErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			m := sampleModel()
			tc.mutate(m)
			err := m.Validate()
			if !tc.wantErr {
				require.NoError(t, err)
				return
			}
			var ve *privacyerr.ValidationError
			require.True(t, errors.As(err, &ve), "expected a ValidationError, got %v", err)
		})
	}
}

func TestPolicy_Categories(t *testing.T) {
	p := &Policy{AccessCategories: []string{"user.contact"}, ErasureCategories: []string{"user"}}

	email := &Field{Name: "email", Categories: []string{"user.contact.email"}}
	name := &Field{Name: "name", Categories: []string{"user.name"}}
	pk := &Field{Name: "id", PrimaryKey: true, Categories: []string{"user.unique_id"}}

	assert.True(t, p.AuthorizesAccess(email))
	assert.False(t, p.AuthorizesAccess(name))
	assert.True(t, p.AuthorizesErasure(name))
	assert.False(t, p.AuthorizesErasure(pk), "primary keys are never erasure targets")

	assert.True(t, CategoryMatches("user", "user"))
	assert.False(t, CategoryMatches("user", "username"))
}
