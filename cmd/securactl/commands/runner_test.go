package commands

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/securactl/securactl/pkg/binding"
	"github.com/securactl/securactl/pkg/executor"
	"github.com/securactl/securactl/pkg/grants"
	"github.com/securactl/securactl/pkg/remote"
	"github.com/securactl/securactl/pkg/remote/remotetest"
	"github.com/securactl/securactl/pkg/securable"
)

func newTestStack(t *testing.T, fake *remotetest.Fake, dryRun bool) *stack {
	t.Helper()
	opts := executor.Options{MaxRetries: 1, DryRun: dryRun, Logger: zerolog.Nop()}
	volumes := executor.New(fake, executor.VolumeAdapter{}, opts)
	return &stack{
		catalogs: executor.New(fake, executor.CatalogAdapter{}, opts),
		schemas:  executor.New(fake, executor.SchemaAdapter{}, opts),
		volumes:  volumes,
		protocol: binding.NewProtocol(volumes, fake, zerolog.Nop()).
			WithVerifyWait(0, func(time.Duration) {}),
		grants: grants.NewReconciler(fake, grants.Options{
			DryRun: dryRun, MaxRetries: 1, Logger: zerolog.Nop(),
		}),
	}
}

func testCatalogs(t *testing.T) []*securable.Catalog {
	t.Helper()
	cat := securable.NewCatalog("sales")
	cat.Grants = []securable.Grant{{
		Principal: securable.Principal{Kind: securable.PrincipalGroup, Name: "analysts"},
		Privilege: securable.PrivilegeRead,
	}}
	sch := securable.NewSchema("orders")
	vol, err := securable.NewVolume("raw", "s3://bucket/raw", securable.IsolationRestricted, []string{"ap-1"})
	require.NoError(t, err)
	sch.AddVolume(vol)
	cat.AddSchema(sch)
	return []*securable.Catalog{cat}
}

func callIndex(t *testing.T, calls []remotetest.Call, method, target string) int {
	t.Helper()
	for i, c := range calls {
		if c.Method == method && c.Target == target {
			return i
		}
	}
	t.Fatalf("no call %s on %s", method, target)
	return -1
}

func TestApplyCreatesTopDownThenGrants(t *testing.T) {
	fake := remotetest.New()
	fake.AddGroup("analysts_DEV")

	results, err := newTestStack(t, fake, false).apply(context.Background(), testCatalogs(t), "dev")
	require.NoError(t, err)
	require.Len(t, results, 4)
	for _, res := range results {
		assert.True(t, res.Success, res.Message)
	}

	calls := fake.Calls()
	catIdx := callIndex(t, calls, "catalog.create", "sales_DEV")
	schIdx := callIndex(t, calls, "schema.create", "orders_DEV")
	volIdx := callIndex(t, calls, "volume.create", "raw_DEV")
	assert.Less(t, catIdx, schIdx)
	assert.Less(t, schIdx, volIdx)

	assert.Equal(t, []string{"ap-1"}, fake.BindingsAt("raw_DEV"))
	granted := fake.GrantsAt("sales_DEV")
	assert.Equal(t, []string{"READ"}, granted["analysts_DEV"])
}

func TestApplyExistingRestrictedVolumeReconcilesBindings(t *testing.T) {
	fake := remotetest.New()
	fake.AddGroup("analysts_DEV")
	fake.SeedResource("catalog", "sales_DEV", remote.Fields{})
	fake.SeedResource("schema", "orders_DEV", remote.Fields{})
	fake.SeedResource("volume", "raw_DEV", remote.Fields{
		executor.FieldStoragePath:   "s3://bucket/raw",
		executor.FieldIsolationMode: "restricted",
	})
	fake.SeedBindings("raw_DEV", []string{"ap-1", "ap-stale"})

	results, err := newTestStack(t, fake, false).apply(context.Background(), testCatalogs(t), "dev")
	require.NoError(t, err)

	// The extra result is the binding reconciliation pass.
	require.Len(t, results, 5)
	assert.Equal(t, []string{"ap-1"}, fake.BindingsAt("raw_DEV"))

	updates := fake.CallsTo("bindings.update")
	require.Len(t, updates, 1)
	assert.Empty(t, updates[0].Assign)
	assert.Equal(t, []string{"ap-stale"}, updates[0].Unassign)
}

func TestApplyFailureRollsBackCreatedResources(t *testing.T) {
	fake := remotetest.New()
	fake.FailNext("schema.create", "orders_DEV",
		remote.NewError(remote.CodePermissionDenied, "not allowed"))

	_, err := newTestStack(t, fake, false).apply(context.Background(), testCatalogs(t), "dev")
	require.Error(t, err)

	// The created catalog is compensated by a delete.
	deletes := fake.CallsTo("catalog.delete")
	require.Len(t, deletes, 1)
	assert.Equal(t, "sales_DEV", deletes[0].Target)
	assert.Empty(t, fake.CallsTo("volume.create"))
	assert.Empty(t, fake.CallsTo("grants.update"))
}

func TestDestroyDeletesBottomUpAndUnbindsFirst(t *testing.T) {
	fake := remotetest.New()
	fake.SeedResource("catalog", "sales_DEV", remote.Fields{})
	fake.SeedResource("schema", "orders_DEV", remote.Fields{})
	fake.SeedResource("volume", "raw_DEV", remote.Fields{
		executor.FieldStoragePath:   "s3://bucket/raw",
		executor.FieldIsolationMode: "restricted",
	})
	fake.SeedBindings("raw_DEV", []string{"ap-1"})

	results, err := newTestStack(t, fake, false).destroy(context.Background(), testCatalogs(t), "dev")
	require.NoError(t, err)
	for _, res := range results {
		assert.True(t, res.Success, res.Message)
	}

	calls := fake.Calls()
	unbindIdx := callIndex(t, calls, "bindings.update", "raw_DEV")
	volIdx := callIndex(t, calls, "volume.delete", "raw_DEV")
	schIdx := callIndex(t, calls, "schema.delete", "orders_DEV")
	catIdx := callIndex(t, calls, "catalog.delete", "sales_DEV")
	assert.Less(t, unbindIdx, volIdx)
	assert.Less(t, volIdx, schIdx)
	assert.Less(t, schIdx, catIdx)
}

func TestDestroyAbsentTreeIsNoOp(t *testing.T) {
	fake := remotetest.New()

	results, err := newTestStack(t, fake, false).destroy(context.Background(), testCatalogs(t), "dev")
	require.NoError(t, err)
	for _, res := range results {
		assert.True(t, res.Success, res.Message)
		assert.Equal(t, executor.OpNoop, res.Operation)
	}
	assert.Zero(t, fake.MutationCalls())
}

func TestDryRunApplyLeavesRemoteUntouched(t *testing.T) {
	fake := remotetest.New()
	fake.AddGroup("analysts_DEV")

	results, err := newTestStack(t, fake, true).apply(context.Background(), testCatalogs(t), "dev")
	require.NoError(t, err)
	require.NotEmpty(t, results)
	for _, res := range results {
		assert.True(t, res.Success, res.Message)
	}
	assert.Zero(t, fake.MutationCalls())
}

func TestAssignmentsCollectsOnlyGrantedSecurables(t *testing.T) {
	catalogs := testCatalogs(t)
	out := assignments(catalogs)
	require.Len(t, out, 1)
	assert.Equal(t, "sales", out[0].Target.String())
	require.Len(t, out[0].Grants, 1)
	assert.Equal(t, securable.PrivilegeRead, out[0].Grants[0].Privilege)
}
