package executor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/securactl/securactl/pkg/remote"
	"github.com/securactl/securactl/pkg/remote/httpapi"
	"github.com/securactl/securactl/pkg/remote/remotetest"
	"github.com/securactl/securactl/pkg/securable"
	"github.com/securactl/securactl/pkg/telemetry"
)

const testEnv = securable.Environment("dev")

func newTestExecutor(t *testing.T, fake *remotetest.Fake, adapter ResourceAdapter, opts Options) *Executor {
	t.Helper()
	opts.Logger = zerolog.Nop()
	e := New(fake, adapter, opts)
	e.Retryer().WithSleeper(func(time.Duration) {})
	return e
}

func TestCreateOrUpdateIsIdempotent(t *testing.T) {
	fake := remotetest.New()
	e := newTestExecutor(t, fake, CatalogAdapter{}, Options{})
	cat := securable.NewCatalog("sales")
	cat.Comment = "sales data"

	first := e.CreateOrUpdate(context.Background(), cat, testEnv)
	require.True(t, first.Success)
	assert.Equal(t, OpCreate, first.Operation)
	assert.Equal(t, "sales_DEV", first.ResourceName)

	fake.Reset()
	second := e.CreateOrUpdate(context.Background(), cat, testEnv)
	require.True(t, second.Success)
	assert.Equal(t, OpNoop, second.Operation)
	assert.Zero(t, fake.MutationCalls())
}

func TestUpdateChangeSetContainsOnlyChangedFields(t *testing.T) {
	fake := remotetest.New()
	fake.SeedResource("catalog", "sales_DEV", remote.Fields{
		FieldComment: "old comment",
		FieldTags:    map[string]string{"team": "x"},
	})
	e := newTestExecutor(t, fake, CatalogAdapter{}, Options{})

	cat := securable.NewCatalog("sales")
	cat.Comment = "new comment"
	cat.Tags().Append("team", "x")

	res := e.Update(context.Background(), cat, testEnv)
	require.True(t, res.Success)
	assert.Equal(t, OpUpdate, res.Operation)
	assert.Equal(t, []string{FieldComment}, res.Changes.Fields())
	assert.Equal(t, "old comment", res.Changes[FieldComment].Current)
	assert.Equal(t, "new comment", res.Changes[FieldComment].Desired)

	updates := fake.CallsTo("catalog.update")
	require.Len(t, updates, 1)
	assert.Equal(t, remote.Fields{FieldComment: "new comment"}, updates[0].Fields)
}

func TestUpdateTreatsDecodedTagShapesAsEqual(t *testing.T) {
	fake := remotetest.New()
	// Tags come back as map[string]any once they have been through a
	// JSON decoder, not as the map[string]string they were sent as.
	fake.SeedResource("catalog", "sales_DEV", remote.Fields{
		FieldComment: "sales data",
		FieldTags:    map[string]any{"team": "x"},
	})
	e := newTestExecutor(t, fake, CatalogAdapter{}, Options{})

	cat := securable.NewCatalog("sales")
	cat.Comment = "sales data"
	cat.Tags().Append("team", "x")

	res := e.Update(context.Background(), cat, testEnv)
	require.True(t, res.Success)
	assert.Equal(t, OpNoop, res.Operation)
	assert.Zero(t, fake.MutationCalls())
}

func TestCreateOrUpdateConvergedOverHTTPIsNoop(t *testing.T) {
	var mutations int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			mutations++
			w.WriteHeader(http.StatusNoContent)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"name": "sales_DEV",
			"fields": map[string]any{
				FieldComment: "sales data",
				FieldTags:    map[string]string{"team": "x"},
				FieldOwner:   "alice_DEV",
			},
		})
	}))
	t.Cleanup(srv.Close)
	client, err := httpapi.New(srv.URL, "", zerolog.Nop())
	require.NoError(t, err)

	e := New(client, CatalogAdapter{}, Options{Logger: zerolog.Nop()})
	cat := securable.NewCatalog("sales")
	cat.Comment = "sales data"
	cat.Tags().Append("team", "x")
	cat.SetOwner(securable.Principal{Kind: securable.PrincipalUser, Name: "alice"})

	res := e.CreateOrUpdate(context.Background(), cat, testEnv)
	require.True(t, res.Success)
	assert.Equal(t, OpNoop, res.Operation, "decoded response fields must compare equal to locally built ones")
	assert.Zero(t, mutations)
}

func TestUpdateImmutableDriftWarnsWithoutRemoteCall(t *testing.T) {
	fake := remotetest.New()
	fake.SeedResource("volume", "raw_DEV", remote.Fields{
		FieldComment:       "",
		FieldTags:          map[string]string{},
		FieldStoragePath:   "s3://old-bucket/raw",
		FieldIsolationMode: "open",
	})
	e := newTestExecutor(t, fake, VolumeAdapter{}, Options{})

	vol, err := securable.NewVolume("raw", "s3://new-bucket/raw", securable.IsolationOpen, nil)
	require.NoError(t, err)

	res := e.Update(context.Background(), vol, testEnv)
	require.True(t, res.Success)
	assert.Equal(t, OpNoop, res.Operation)
	assert.Empty(t, fake.CallsTo("volume.update"))
}

func TestCreateAlreadyExistsRaceFallsThroughToUpdate(t *testing.T) {
	fake := remotetest.New()
	fake.SeedResource("catalog", "sales_DEV", remote.Fields{
		FieldComment: "",
		FieldTags:    map[string]string{},
	})
	fake.FailNext("catalog.create", "sales_DEV",
		remote.NewError(remote.CodeAlreadyExists, "catalog exists"))
	e := newTestExecutor(t, fake, CatalogAdapter{}, Options{})

	cat := securable.NewCatalog("sales")
	cat.Comment = "fresh"

	res := e.Create(context.Background(), cat, testEnv)
	require.True(t, res.Success)
	assert.Equal(t, OpUpdate, res.Operation)
	assert.Equal(t, "fresh", fake.ResourceFields("catalog", "sales_DEV")[FieldComment])
}

func TestCreateAlreadyExistsRaceClosesSpanWithOutcome(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tracer := telemetry.NewTracerWithProvider(
		sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)), "test")

	fake := remotetest.New()
	fake.SeedResource("catalog", "sales_DEV", remote.Fields{
		FieldComment: "",
		FieldTags:    map[string]string{},
	})
	fake.FailNext("catalog.create", "sales_DEV",
		remote.NewError(remote.CodeAlreadyExists, "catalog exists"))
	e := newTestExecutor(t, fake, CatalogAdapter{}, Options{Tracer: tracer})

	cat := securable.NewCatalog("sales")
	cat.Comment = "fresh"

	res := e.Create(context.Background(), cat, testEnv)
	require.True(t, res.Success)
	assert.Greater(t, res.Duration, time.Duration(0))

	var createSpan sdktrace.ReadOnlySpan
	for _, s := range rec.Ended() {
		if s.Name() == "reconcile.create" {
			createSpan = s
		}
	}
	require.NotNil(t, createSpan, "create span must be recorded")
	assert.Equal(t, codes.Ok, createSpan.Status().Code,
		"a create converged through the race fallback is still a success")

	var events []string
	for _, ev := range createSpan.Events() {
		events = append(events, ev.Name)
	}
	assert.Contains(t, events, "create raced with concurrent creator, converging via update")
}

func TestExistsPermissionDeniedPropagates(t *testing.T) {
	fake := remotetest.New()
	fake.FailNext("catalog.get", "sales_DEV",
		remote.NewError(remote.CodePermissionDenied, "no USAGE on catalog"))
	e := newTestExecutor(t, fake, CatalogAdapter{}, Options{})

	_, err := e.Exists(context.Background(), securable.NewCatalog("sales"), testEnv)
	require.Error(t, err)
	assert.True(t, remote.IsPermissionDenied(err))
}

func TestCreateOrUpdateSurfacesExistenceFailureAsResult(t *testing.T) {
	fake := remotetest.New()
	fake.FailNext("catalog.get", "sales_DEV",
		remote.NewError(remote.CodePermissionDenied, "no USAGE on catalog"))
	e := newTestExecutor(t, fake, CatalogAdapter{}, Options{})

	res := e.CreateOrUpdate(context.Background(), securable.NewCatalog("sales"), testEnv)
	require.False(t, res.Success)
	assert.Equal(t, OpSkipped, res.Operation)
	assert.True(t, remote.IsPermissionDenied(res.Err))
	assert.Zero(t, fake.MutationCalls())
}

func TestDeleteAbsentResourceIsNoop(t *testing.T) {
	fake := remotetest.New()
	e := newTestExecutor(t, fake, CatalogAdapter{}, Options{})

	res := e.Delete(context.Background(), securable.NewCatalog("sales"), testEnv)
	require.True(t, res.Success)
	assert.Equal(t, OpNoop, res.Operation)
	assert.Zero(t, fake.MutationCalls(), "absence is detected by the read, never by a delete call")
}

func TestDryRunNeverMutates(t *testing.T) {
	fake := remotetest.New()
	e := newTestExecutor(t, fake, CatalogAdapter{}, Options{DryRun: true})
	cat := securable.NewCatalog("sales")

	res := e.CreateOrUpdate(context.Background(), cat, testEnv)
	require.True(t, res.Success)
	assert.Equal(t, OpCreate, res.Operation)
	assert.Contains(t, res.Message, "[dry-run]")
	assert.Zero(t, fake.MutationCalls())

	// A dry-run against an existing identical resource simulates NO_OP.
	fake.SeedResource("catalog", "sales_DEV", remote.Fields{
		FieldComment: "",
		FieldTags:    map[string]string{},
	})
	res = e.CreateOrUpdate(context.Background(), cat, testEnv)
	require.True(t, res.Success)
	assert.Equal(t, OpNoop, res.Operation)
	assert.Zero(t, fake.MutationCalls())
}

func TestRollbackRunsInReverseCreationOrder(t *testing.T) {
	fake := remotetest.New()
	e := newTestExecutor(t, fake, CatalogAdapter{}, Options{})

	for _, name := range []string{"a", "b", "c"} {
		res := e.Create(context.Background(), securable.NewCatalog(name), testEnv)
		require.True(t, res.Success)
	}
	require.Equal(t, 3, e.RollbackStack().Len())

	fake.Reset()
	require.NoError(t, e.Rollback(context.Background()))

	deletes := fake.CallsTo("catalog.delete")
	require.Len(t, deletes, 3)
	assert.Equal(t, "c_DEV", deletes[0].Target)
	assert.Equal(t, "b_DEV", deletes[1].Target)
	assert.Equal(t, "a_DEV", deletes[2].Target)
	assert.Zero(t, e.RollbackStack().Len())
}

func TestRollbackStopsOnFailureAndRetainsRemainder(t *testing.T) {
	fake := remotetest.New()
	e := newTestExecutor(t, fake, CatalogAdapter{}, Options{})

	for _, name := range []string{"a", "b", "c"} {
		res := e.Create(context.Background(), securable.NewCatalog(name), testEnv)
		require.True(t, res.Success)
	}

	fake.FailNext("catalog.delete", "b_DEV",
		remote.NewError(remote.CodePermissionDenied, "cannot drop"))

	err := e.Rollback(context.Background())
	require.Error(t, err)
	// c was compensated, b failed and stays along with a.
	assert.Equal(t, 2, e.RollbackStack().Len())

	// A second rollback picks up where the first stopped.
	require.NoError(t, e.Rollback(context.Background()))
	assert.Zero(t, e.RollbackStack().Len())
}
