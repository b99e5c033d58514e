package service_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/specialistvlad/privacyflow/internal/engine"
	"github.com/specialistvlad/privacyflow/internal/inmemorycache"
	"github.com/specialistvlad/privacyflow/internal/localexecutor"
	"github.com/specialistvlad/privacyflow/internal/localsession"
	"github.com/specialistvlad/privacyflow/internal/masking"
	"github.com/specialistvlad/privacyflow/internal/metrics"
	"github.com/specialistvlad/privacyflow/internal/nodeid"
	"github.com/specialistvlad/privacyflow/internal/planner"
	"github.com/specialistvlad/privacyflow/internal/privacyerr"
	"github.com/specialistvlad/privacyflow/internal/ratelimit"
	"github.com/specialistvlad/privacyflow/internal/record"
	"github.com/specialistvlad/privacyflow/internal/registry"
	"github.com/specialistvlad/privacyflow/internal/request"
	"github.com/specialistvlad/privacyflow/internal/requeststore"
	"github.com/specialistvlad/privacyflow/internal/scheduler"
	"github.com/specialistvlad/privacyflow/internal/service"
	"github.com/specialistvlad/privacyflow/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	svc   *service.Service
	fake  *testutil.Fake
	store *requeststore.Store
}

type stubExporter struct {
	mu       sync.Mutex
	exported []string
	err      error
}

func (e *stubExporter) Export(_ context.Context, res *engine.MergedResult) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return "", e.err
	}
	e.exported = append(e.exported, res.RequestID)
	return "mem://" + res.RequestID, nil
}

func newFixture(t *testing.T, opts service.Options) *fixture {
	t.Helper()
	model := testutil.UsersOrdersModel()
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
		Executor:  localexecutor.Config{Workers: 2},
		Scheduler: scheduler.Options{Retries: 1, NewBackOff: func() backoff.BackOff { return &backoff.ZeroBackOff{} }},
	}
	p := planner.New(planner.Options{})
	eng := engine.New(factory, p, masking.NewRegistry("pepper"), cache, metrics.New())

	store, err := requeststore.Open(filepath.Join(t.TempDir(), "requests.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	svc := service.New(model, p, eng, store, opts)
	t.Cleanup(func() { _ = svc.Close() })

	mod.Fake.Seed(testutil.Users, record.Row{"user_id": int64(1), "email": "a@x.com", "name": "Ann"})
	mod.Fake.Seed(testutil.Orders, record.Row{"order_id": int64(10), "user_id": int64(1), "shipping_address": "1 Main St"})
	return &fixture{svc: svc, fake: mod.Fake, store: store}
}

func accessRequest(id string) *request.Request {
	return &request.Request{ID: id, Identity: map[string]string{"email": "a@x.com"}, Mode: request.ModeAccess, Policy: "default"}
}

func TestSubmit_RunsToCompletion(t *testing.T) {
	ctx := testutil.Context(t)
	exp := &stubExporter{}
	f := newFixture(t, service.Options{Exporter: exp})

	id, err := f.svc.Submit(ctx, accessRequest(""))
	require.NoError(t, err)
	require.NotEmpty(t, id, "an id is generated")

	res, err := f.svc.Wait(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, request.StatusComplete, res.Status)
	assert.Len(t, res.Access["app:users"], 1)
	assert.Len(t, res.Access["app:orders"], 1)

	status, err := f.svc.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, request.StatusComplete, status)

	stored, err := f.svc.Result(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, res.Access, stored.Access)
	assert.Equal(t, []string{id}, exp.exported)
}

func TestSubmit_Rejections(t *testing.T) {
	testCases := []struct {
		name    string
		req     *request.Request
		wantErr any
	}{
		{
			name:    "missing identity",
			req:     &request.Request{ID: "r1", Mode: request.ModeAccess, Policy: "default"},
			wantErr: new(*privacyerr.ValidationError),
		},
		{
			name:    "unknown policy",
			req:     &request.Request{ID: "r2", Identity: map[string]string{"email": "a@x.com"}, Mode: request.ModeAccess, Policy: "nope"},
			wantErr: new(*privacyerr.ValidationError),
		},
		{
			name:    "unknown mode",
			req:     &request.Request{ID: "r3", Identity: map[string]string{"email": "a@x.com"}, Mode: "export", Policy: "default"},
			wantErr: new(*privacyerr.ValidationError),
		},
		{
			name:    "id nested under another request's scope",
			req:     &request.Request{ID: "r1/app:users", Identity: map[string]string{"email": "a@x.com"}, Mode: request.ModeAccess, Policy: "default"},
			wantErr: new(*privacyerr.ValidationError),
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := testutil.Context(t)
			f := newFixture(t, service.Options{})

			_, err := f.svc.Submit(ctx, tc.req)

			require.Error(t, err)
			assert.ErrorAs(t, err, tc.wantErr)
			_, err = f.store.Get(ctx, tc.req.ID)
			assert.ErrorIs(t, err, requeststore.ErrNotFound, "rejected requests are not stored")
		})
	}
}

func TestCancel_RunningRequest(t *testing.T) {
	ctx := testutil.Context(t)
	f := newFixture(t, service.Options{})
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	f.fake.OnQuery = func(_ context.Context, addr nodeid.Address) error {
		if addr == testutil.Users {
			once.Do(func() { close(entered) })
			<-release
		}
		return nil
	}

	id, err := f.svc.Submit(ctx, accessRequest("req-cancel"))
	require.NoError(t, err)
	<-entered

	status, err := f.svc.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, request.StatusRunning, status)

	require.NoError(t, f.svc.Cancel(ctx, id))
	close(release)

	res, err := f.svc.Wait(ctx, id)
	require.Error(t, err)
	assert.Equal(t, request.StatusCancelled, res.Status)
	assert.Len(t, res.Access["app:users"], 1, "the running node finishes")
	assert.Zero(t, f.fake.Queries(testutil.Orders))

	rec, err := f.store.Get(ctx, id)
	require.NoError(t, err)
	assert.Contains(t, rec.Error, context.Canceled.Error())
}

func TestCancel_FinishedRequestIsNoop(t *testing.T) {
	ctx := testutil.Context(t)
	f := newFixture(t, service.Options{})
	id, err := f.svc.Submit(ctx, accessRequest("req-done"))
	require.NoError(t, err)
	_, err = f.svc.Wait(ctx, id)
	require.NoError(t, err)

	require.NoError(t, f.svc.Cancel(ctx, id))

	status, err := f.svc.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, request.StatusComplete, status)
}

func TestCancel_OrphanedPendingRequest(t *testing.T) {
	ctx := testutil.Context(t)
	f := newFixture(t, service.Options{})
	_, err := f.store.Create(ctx, accessRequest("req-orphan"))
	require.NoError(t, err)

	require.NoError(t, f.svc.Cancel(ctx, "req-orphan"))

	status, err := f.svc.Status(ctx, "req-orphan")
	require.NoError(t, err)
	assert.Equal(t, request.StatusCancelled, status)
}

func TestResume_SkipsCheckpointedNodes(t *testing.T) {
	ctx := testutil.Context(t)
	f := newFixture(t, service.Options{})
	f.fake.FailWith(testutil.Orders, errors.New("permission denied"))

	id, err := f.svc.Submit(ctx, accessRequest("req-resume"))
	require.NoError(t, err)
	res, err := f.svc.Wait(ctx, id)
	require.Error(t, err)
	assert.Equal(t, request.StatusError, res.Status)
	require.Equal(t, 1, f.fake.Queries(testutil.Users))

	f.fake.Heal(testutil.Orders)
	require.NoError(t, f.svc.Resume(ctx, id))
	res, err = f.svc.Wait(ctx, id)
	require.NoError(t, err)

	assert.Equal(t, request.StatusComplete, res.Status)
	assert.Equal(t, 1, f.fake.Queries(testutil.Users), "users is served from the checkpoint")
	assert.Len(t, res.Access["app:orders"], 1)
}

func TestResume_CompleteRequestIsRejected(t *testing.T) {
	ctx := testutil.Context(t)
	f := newFixture(t, service.Options{})
	id, err := f.svc.Submit(ctx, accessRequest("req-complete"))
	require.NoError(t, err)
	_, err = f.svc.Wait(ctx, id)
	require.NoError(t, err)

	assert.ErrorIs(t, f.svc.Resume(ctx, id), service.ErrNotResumable)
}

func TestResult_NotFinished(t *testing.T) {
	ctx := testutil.Context(t)
	f := newFixture(t, service.Options{})
	_, err := f.store.Create(ctx, accessRequest("req-pending"))
	require.NoError(t, err)

	_, err = f.svc.Result(ctx, "req-pending")
	assert.ErrorIs(t, err, service.ErrNotFinished)

	_, err = f.svc.Result(ctx, "missing")
	assert.ErrorIs(t, err, requeststore.ErrNotFound)
}

func TestExportFailureFailsRequest(t *testing.T) {
	ctx := testutil.Context(t)
	f := newFixture(t, service.Options{Exporter: &stubExporter{err: errors.New("bucket gone")}})

	id, err := f.svc.Submit(ctx, accessRequest("req-export"))
	require.NoError(t, err)
	res, err := f.svc.Wait(ctx, id)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket gone")
	assert.Equal(t, request.StatusError, res.Status)
}

func TestInterrupted(t *testing.T) {
	ctx := testutil.Context(t)
	f := newFixture(t, service.Options{})
	_, err := f.store.Create(ctx, accessRequest("req-left"))
	require.NoError(t, err)

	recs, err := f.svc.Interrupted(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "req-left", recs[0].ID)

	require.NoError(t, f.svc.Resume(ctx, "req-left"))
	res, err := f.svc.Wait(ctx, "req-left")
	require.NoError(t, err)
	assert.Equal(t, request.StatusComplete, res.Status)
}

func TestSubmit_Erasure(t *testing.T) {
	ctx := testutil.Context(t)
	f := newFixture(t, service.Options{})
	req := accessRequest("req-erase")
	req.Mode = request.ModeErasure

	id, err := f.svc.Submit(ctx, req)
	require.NoError(t, err)
	res, err := f.svc.Wait(ctx, id)
	require.NoError(t, err)

	assert.Equal(t, request.StatusComplete, res.Status)
	assert.Equal(t, 1, res.Erasure["app:users"])
}
