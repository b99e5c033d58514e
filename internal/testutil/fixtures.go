package testutil

import (
	"github.com/specialistvlad/privacyflow/internal/config"
	"github.com/specialistvlad/privacyflow/internal/nodeid"
)

// FakeKind is the connector kind served by FakeModule.
const FakeKind = "fake"

var (
	// Users and Orders are the addresses of the UsersOrdersModel collections.
	Users  = nodeid.New("app", "users")
	Orders = nodeid.New("app", "orders")
)

// UsersOrdersModel returns the graph ROOT -> users -> orders -> TERMINATOR:
// users is looked up by email, orders by the user's id.
func UsersOrdersModel() *config.Model {
	m := config.NewModel()
	m.Connections["app_db"] = &config.Connection{Name: "app_db", Kind: FakeKind}
	m.Datasets = []*config.Dataset{{
		Name:       "app",
		Connection: "app_db",
		Collections: []*config.Collection{
			{
				Name: "users",
				Fields: []*config.Field{
					{Name: "user_id", DataType: "integer", PrimaryKey: true, Categories: []string{"user.unique_id"}},
					{Name: "email", DataType: "string", Identity: "email", Categories: []string{"user.contact.email"}},
					{Name: "name", DataType: "string", Categories: []string{"user.name"}},
				},
			},
			{
				Name: "orders",
				Fields: []*config.Field{
					{Name: "order_id", DataType: "integer", PrimaryKey: true, Categories: []string{"system.operations"}},
					{
						Name:       "user_id",
						DataType:   "integer",
						Categories: []string{"user.unique_id"},
						References: []config.Reference{{Dataset: "app", Collection: "users", Field: "user_id", Direction: config.DirectionFrom}},
					},
					{Name: "shipping_address", DataType: "string", Categories: []string{"user.contact.address"}},
				},
			},
		},
	}}
	m.Policies["default"] = &config.Policy{
		Name:              "default",
		AccessCategories:  []string{"user"},
		ErasureCategories: []string{"user.contact", "user.name"},
		Masking:           "null_rewrite",
	}
	return m
}

// ChainModel returns ROOT -> a -> b -> c -> TERMINATOR in dataset "chain";
// a is looked up by email and each later collection by its predecessor's id.
func ChainModel() *config.Model {
	m := config.NewModel()
	m.Connections["chain_db"] = &config.Connection{Name: "chain_db", Kind: FakeKind}
	link := func(name, from string) *config.Collection {
		c := &config.Collection{Name: name, Fields: []*config.Field{
			{Name: "id", PrimaryKey: true, Categories: []string{"user.unique_id"}},
			{Name: "note", Categories: []string{"user.notes"}},
		}}
		if from == "" {
			c.Fields = append(c.Fields, &config.Field{Name: "email", Identity: "email", Categories: []string{"user.contact.email"}})
			return c
		}
		c.Fields = append(c.Fields, &config.Field{
			Name:       "parent_id",
			Categories: []string{"user.unique_id"},
			References: []config.Reference{{Dataset: "chain", Collection: from, Field: "id", Direction: config.DirectionFrom}},
		})
		return c
	}
	m.Datasets = []*config.Dataset{{
		Name:        "chain",
		Connection:  "chain_db",
		Collections: []*config.Collection{link("a", ""), link("b", "a"), link("c", "b")},
	}}
	m.Policies["default"] = &config.Policy{Name: "default", AccessCategories: []string{"user"}, ErasureCategories: []string{"user.notes"}, Masking: "null_rewrite"}
	return m
}
