package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/specialistvlad/privacyflow/internal/config"
	"github.com/specialistvlad/privacyflow/internal/engine"
	"github.com/specialistvlad/privacyflow/internal/inmemorycache"
	"github.com/specialistvlad/privacyflow/internal/localexecutor"
	"github.com/specialistvlad/privacyflow/internal/localsession"
	"github.com/specialistvlad/privacyflow/internal/masking"
	"github.com/specialistvlad/privacyflow/internal/metrics"
	"github.com/specialistvlad/privacyflow/internal/nodeid"
	"github.com/specialistvlad/privacyflow/internal/planner"
	"github.com/specialistvlad/privacyflow/internal/ratelimit"
	"github.com/specialistvlad/privacyflow/internal/record"
	"github.com/specialistvlad/privacyflow/internal/registry"
	"github.com/specialistvlad/privacyflow/internal/request"
	"github.com/specialistvlad/privacyflow/internal/resultcache"
	"github.com/specialistvlad/privacyflow/internal/scheduler"
	"github.com/specialistvlad/privacyflow/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type harness struct {
	model   *config.Model
	fake    *testutil.Fake
	cache   resultcache.Cache
	engine  *engine.Engine
	planner *planner.Planner
}

func newHarness(t *testing.T, model *config.Model, retries int) *harness {
	t.Helper()
	mod := testutil.NewFakeModule()
	reg := registry.New()
	mod.Register(reg)
	pool := registry.NewPool(reg, model)
	t.Cleanup(func() { _ = pool.Close() })

	cache := inmemorycache.New(time.Hour)
	factory := &localsession.SessionFactory{
		Deps: localexecutor.Deps{
			Connectors: pool,
			Limits:     ratelimit.NewRegistry(model.Connections, ratelimit.DefaultMaxWait),
			Cache:      cache,
			Metrics:    metrics.New(),
		},
		Executor:  localexecutor.Config{Workers: 4},
		Scheduler: scheduler.Options{Retries: retries, NewBackOff: func() backoff.BackOff { return &backoff.ZeroBackOff{} }},
	}
	p := planner.New(planner.Options{})
	return &harness{
		model:   model,
		fake:    mod.Fake,
		cache:   cache,
		planner: p,
		engine:  engine.New(factory, p, masking.NewRegistry("pepper"), cache, metrics.New()),
	}
}

func (h *harness) run(ctx context.Context, t *testing.T, req *request.Request) (*engine.MergedResult, error) {
	t.Helper()
	plan, err := h.planner.Plan(ctx, h.model, h.model.Policies[req.Policy], req.Identity, req.Mode)
	require.NoError(t, err)
	return h.engine.Run(ctx, plan, req)
}

func newRequest(mode request.Mode) *request.Request {
	return &request.Request{ID: "req-1", Identity: map[string]string{"email": "a@x.com"}, Mode: mode, Policy: "default"}
}

func seedUsersOrders(f *testutil.Fake) {
	f.Seed(testutil.Users,
		record.Row{"user_id": int64(1), "email": "a@x.com", "name": "Ann"},
		record.Row{"user_id": int64(2), "email": "b@x.com", "name": "Bob"},
	)
	f.Seed(testutil.Orders,
		record.Row{"order_id": int64(10), "user_id": int64(1), "shipping_address": "1 Main St"},
		record.Row{"order_id": int64(11), "user_id": int64(1), "shipping_address": "9 Dock Rd"},
		record.Row{"order_id": int64(12), "user_id": int64(2), "shipping_address": "2 Side St"},
	)
}

func TestRun_UsersOrdersHappyPath(t *testing.T) {
	ctx := testutil.Context(t)
	h := newHarness(t, testutil.UsersOrdersModel(), 3)
	seedUsersOrders(h.fake)

	res, err := h.run(ctx, t, newRequest(request.ModeAccess))
	require.NoError(t, err)

	assert.Equal(t, request.StatusComplete, res.Status)
	assert.Equal(t, "req-1", res.RequestID)
	assert.Equal(t, []record.Row{{"user_id": int64(1), "email": "a@x.com", "name": "Ann"}}, res.Access["app:users"])
	assert.Equal(t, []record.Row{
		{"user_id": int64(1), "shipping_address": "1 Main St"},
		{"user_id": int64(1), "shipping_address": "9 Dock Rd"},
	}, res.Access["app:orders"], "order_id is not returned by the policy")
	assert.Empty(t, res.Failed)
	assert.Empty(t, res.Skipped)
	assert.Equal(t, 3, res.RowCount())
}

func TestRun_RetryBudget(t *testing.T) {
	testCases := []struct {
		name        string
		failures    int
		wantStatus  request.Status
		wantQueries int
	}{
		{name: "two transient failures then success", failures: 2, wantStatus: request.StatusComplete, wantQueries: 3},
		{name: "budget exhausted", failures: 100, wantStatus: request.StatusError, wantQueries: 4},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := testutil.Context(t)
			h := newHarness(t, testutil.UsersOrdersModel(), 3)
			seedUsersOrders(h.fake)
			h.fake.FailFirst(testutil.Orders, tc.failures)

			res, err := h.run(ctx, t, newRequest(request.ModeAccess))

			require.NotNil(t, res)
			assert.Equal(t, tc.wantStatus, res.Status)
			assert.Equal(t, tc.wantQueries, h.fake.Queries(testutil.Orders))
			assert.Len(t, res.Access["app:users"], 1, "users rows survive a downstream failure")
			if tc.wantStatus == request.StatusComplete {
				require.NoError(t, err)
				assert.Len(t, res.Access["app:orders"], 2)
				return
			}
			var execErr *engine.ExecutionError
			require.ErrorAs(t, err, &execErr)
			assert.Equal(t, request.StatusError, execErr.Status)
			assert.ErrorIs(t, err, testutil.ErrTransient)
			assert.Contains(t, res.Failed["app:orders"], "transient backend failure")
			assert.NotContains(t, res.Access, "app:orders")
		})
	}
}

func TestRun_ZeroRowsSkipsDownstreamAndCompletes(t *testing.T) {
	ctx := testutil.Context(t)
	h := newHarness(t, testutil.UsersOrdersModel(), 3)

	res, err := h.run(ctx, t, newRequest(request.ModeAccess))
	require.NoError(t, err)

	assert.Equal(t, request.StatusComplete, res.Status)
	assert.Empty(t, res.Access["app:users"])
	assert.Equal(t, map[string]string{"app:orders": "no input from app:users"}, res.Skipped)
	assert.Zero(t, h.fake.Queries(testutil.Orders))
}

func TestRun_FatalErrorSkipsOnlyDependents(t *testing.T) {
	ctx := testutil.Context(t)
	model := testutil.UsersOrdersModel()
	model.Datasets[0].Collections = append(model.Datasets[0].Collections, &config.Collection{
		Name: "newsletter",
		Fields: []*config.Field{
			{Name: "email", Identity: "email", PrimaryKey: true, Categories: []string{"user.contact.email"}},
		},
	})
	h := newHarness(t, model, 3)
	h.fake.Seed(nodeid.New("app", "newsletter"), record.Row{"email": "a@x.com"})
	h.fake.FailWith(testutil.Users, errors.New("access denied"))

	res, err := h.run(ctx, t, newRequest(request.ModeAccess))

	require.Error(t, err)
	assert.Equal(t, request.StatusError, res.Status)
	assert.Equal(t, 1, h.fake.Queries(testutil.Users), "non-retryable errors are not retried")
	assert.Contains(t, res.Skipped["app:orders"], "upstream failure of app:users")
	assert.Equal(t, []record.Row{{"email": "a@x.com"}}, res.Access["app:newsletter"])
}

func TestRun_ResumeDispatchesOnlyUncachedNodes(t *testing.T) {
	ctx := testutil.Context(t)
	h := newHarness(t, testutil.ChainModel(), 3)
	a, b, c := nodeid.New("chain", "a"), nodeid.New("chain", "b"), nodeid.New("chain", "c")
	require.NoError(t, h.cache.Put(ctx, "req-1", a, &resultcache.NodeResult{Rows: []record.Row{{"id": int64(1), "email": "a@x.com"}}}))
	require.NoError(t, h.cache.Put(ctx, "req-1", b, &resultcache.NodeResult{Rows: []record.Row{{"id": int64(2), "parent_id": int64(1)}}}))
	h.fake.Seed(c, record.Row{"id": int64(3), "parent_id": int64(2), "note": "hello"})

	res, err := h.run(ctx, t, newRequest(request.ModeAccess))
	require.NoError(t, err)

	assert.Zero(t, h.fake.Queries(a))
	assert.Zero(t, h.fake.Queries(b))
	assert.Equal(t, 1, h.fake.Queries(c))
	assert.Equal(t, []record.Input{{Fields: []string{"parent_id"}, Tuples: [][]any{{int64(2)}}}}, h.fake.Inputs(c))
	assert.Len(t, res.Access["chain:a"], 1)
	assert.Len(t, res.Access["chain:b"], 1)
	assert.Equal(t, []record.Row{{"id": int64(3), "parent_id": int64(2), "note": "hello"}}, res.Access["chain:c"])
}

func TestRun_ErasureRunsAfterAccessInEraseAfterOrder(t *testing.T) {
	ctx := testutil.Context(t)
	model := testutil.UsersOrdersModel()
	// users may only be erased once their orders are
	model.Datasets[0].Collections[0].EraseAfter = []nodeid.Address{testutil.Orders}
	h := newHarness(t, model, 3)
	seedUsersOrders(h.fake)

	res, err := h.run(ctx, t, newRequest(request.ModeErasure))
	require.NoError(t, err)

	assert.Equal(t, request.StatusComplete, res.Status)
	assert.Equal(t, map[string]int{"app:users": 1, "app:orders": 2}, res.Erasure)
	assert.Equal(t, []string{"query app:users", "query app:orders", "mask app:orders", "mask app:users"}, h.fake.Events())

	for _, row := range h.fake.Rows(testutil.Users) {
		if row["user_id"] == int64(1) {
			assert.Nil(t, row["email"])
			assert.Nil(t, row["name"])
		} else {
			assert.Equal(t, "b@x.com", row["email"])
		}
	}
}

func TestRun_ErasureSkippedWhenAccessFails(t *testing.T) {
	ctx := testutil.Context(t)
	h := newHarness(t, testutil.UsersOrdersModel(), 0)
	seedUsersOrders(h.fake)
	h.fake.FailFirst(testutil.Orders, 1)

	res, err := h.run(ctx, t, newRequest(request.ModeErasure))

	require.Error(t, err)
	assert.Equal(t, request.StatusError, res.Status)
	assert.Empty(t, res.Erasure)
	assert.Zero(t, h.fake.Erasures(testutil.Users), "nothing is written after an incomplete access pass")
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(testutil.Context(t))
	defer cancel()
	h := newHarness(t, testutil.UsersOrdersModel(), 3)
	seedUsersOrders(h.fake)
	h.fake.OnQuery = func(context.Context, nodeid.Address) error {
		cancel()
		return nil
	}

	res, err := h.run(ctx, t, newRequest(request.ModeAccess))

	var execErr *engine.ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, request.StatusCancelled, res.Status)
	assert.Equal(t, scheduler.ReasonCancelled, res.Skipped["app:orders"])
}

func TestRun_RequestTimeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(testutil.Context(t), 50*time.Millisecond)
	defer cancel()
	h := newHarness(t, testutil.UsersOrdersModel(), 3)
	seedUsersOrders(h.fake)
	h.fake.OnQuery = func(callCtx context.Context, _ nodeid.Address) error {
		<-callCtx.Done()
		return callCtx.Err()
	}

	res, err := h.run(ctx, t, newRequest(request.ModeAccess))

	require.Error(t, err)
	assert.Equal(t, request.StatusError, res.Status)
	assert.Contains(t, res.Failed["app:users"], "request timeout")
	assert.Contains(t, res.Failed["app:orders"], "request timeout")
}
