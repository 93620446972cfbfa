package binding

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/securactl/securactl/pkg/executor"
	"github.com/securactl/securactl/pkg/remote"
	"github.com/securactl/securactl/pkg/remote/remotetest"
	"github.com/securactl/securactl/pkg/securable"
)

const testEnv = securable.Environment("dev")

func newTestProtocol(t *testing.T, fake *remotetest.Fake, opts executor.Options) *Protocol {
	t.Helper()
	opts.Logger = zerolog.Nop()
	e := executor.New(fake, executor.VolumeAdapter{}, opts)
	e.Retryer().WithSleeper(func(time.Duration) {})
	return NewProtocol(e, fake, zerolog.Nop()).WithVerifyWait(0, func(time.Duration) {})
}

func restrictedVolume(t *testing.T, bindings ...string) *securable.Volume {
	t.Helper()
	v, err := securable.NewVolume("raw", "s3://bucket/raw", securable.IsolationRestricted, bindings)
	require.NoError(t, err)
	return v
}

func callIndex(t *testing.T, calls []remotetest.Call, method string) int {
	t.Helper()
	for i, c := range calls {
		if c.Method == method {
			return i
		}
	}
	t.Fatalf("no call to %s in %v", method, calls)
	return -1
}

func TestRestrictedCreateBindsBeforeSealing(t *testing.T) {
	fake := remotetest.New()
	p := newTestProtocol(t, fake, executor.Options{})
	v := restrictedVolume(t, "ap-a", "ap-b")

	res := p.Create(context.Background(), v, testEnv)
	require.True(t, res.Success)
	assert.Equal(t, executor.OpCreate, res.Operation)

	calls := fake.Calls()
	create := callIndex(t, calls, "volume.create")
	bind := callIndex(t, calls, "bindings.update")
	seal := callIndex(t, calls, "volume.update")
	verify := callIndex(t, calls, "bindings.getcurrent")
	assert.Less(t, create, bind, "volume must exist before it is bound")
	assert.Less(t, bind, seal, "bindings must be assigned before the seal")
	assert.Less(t, seal, verify, "verification reads back after sealing")

	// Created open, sealed afterwards.
	assert.Equal(t, "open", calls[create].Fields[executor.FieldIsolationMode])
	assert.Equal(t, "restricted", calls[seal].Fields[executor.FieldIsolationMode])
	assert.Equal(t, []string{"ap-a", "ap-b"}, fake.BindingsAt("raw_DEV"))
}

func TestRestrictedCreateWithoutBindingsStillSeals(t *testing.T) {
	fake := remotetest.New()
	p := newTestProtocol(t, fake, executor.Options{})
	v := restrictedVolume(t)

	res := p.Create(context.Background(), v, testEnv)
	require.True(t, res.Success)
	assert.Empty(t, fake.CallsTo("bindings.update"))
	require.Len(t, fake.CallsTo("volume.update"), 1)
}

func TestOpenVolumeFlippedToRestrictedBindsBeforeSealing(t *testing.T) {
	fake := remotetest.New()
	fake.SeedResource("volume", "raw_DEV", remote.Fields{
		executor.FieldStoragePath:   "s3://bucket/raw",
		executor.FieldIsolationMode: "open",
	})
	fake.SeedBindings("raw_DEV", []string{"ap-stale"})
	p := newTestProtocol(t, fake, executor.Options{})
	v := restrictedVolume(t, "ap-a")

	res := p.Create(context.Background(), v, testEnv)
	require.True(t, res.Success)
	assert.Equal(t, executor.OpUpdate, res.Operation)

	calls := fake.Calls()
	bind := callIndex(t, calls, "bindings.update")
	seal := callIndex(t, calls, "volume.update")
	assert.Less(t, bind, seal, "an open volume must be bound before its mode flips")
	assert.Equal(t, []string{"ap-a"}, calls[bind].Assign)
	assert.Equal(t, []string{"ap-stale"}, calls[bind].Unassign)
	assert.Equal(t, remote.Fields{executor.FieldIsolationMode: "restricted"}, calls[seal].Fields)
	assert.Equal(t, []string{"ap-a"}, fake.BindingsAt("raw_DEV"))
	assert.Equal(t, "restricted", fake.ResourceFields("volume", "raw_DEV")[executor.FieldIsolationMode])
}

func TestCreateLeavesSealedVolumeAlone(t *testing.T) {
	fake := remotetest.New()
	fake.SeedResource("volume", "raw_DEV", remote.Fields{
		executor.FieldStoragePath:   "s3://bucket/raw",
		executor.FieldIsolationMode: "restricted",
	})
	fake.SeedBindings("raw_DEV", []string{"ap-a"})
	p := newTestProtocol(t, fake, executor.Options{})
	v := restrictedVolume(t, "ap-a")

	res := p.Create(context.Background(), v, testEnv)
	require.True(t, res.Success)
	assert.Equal(t, executor.OpNoop, res.Operation)
	assert.Zero(t, fake.MutationCalls(), "an already-sealed volume is left to the reconcile path")
}

func TestReconcileIssuesSingleCombinedUpdate(t *testing.T) {
	fake := remotetest.New()
	fake.SeedResource("volume", "raw_DEV", remote.Fields{
		executor.FieldStoragePath:   "s3://bucket/raw",
		executor.FieldIsolationMode: "restricted",
	})
	fake.SeedBindings("raw_DEV", []string{"ap-1", "ap-2", "ap-3"})
	p := newTestProtocol(t, fake, executor.Options{})
	v := restrictedVolume(t, "ap-2", "ap-3", "ap-4")

	res := p.Reconcile(context.Background(), v, testEnv)
	require.True(t, res.Success)
	assert.Equal(t, executor.OpUpdate, res.Operation)

	updates := fake.CallsTo("bindings.update")
	require.Len(t, updates, 1)
	assert.Equal(t, []string{"ap-4"}, updates[0].Assign)
	assert.Equal(t, []string{"ap-1"}, updates[0].Unassign)
	assert.Equal(t, []string{"ap-2", "ap-3", "ap-4"}, fake.BindingsAt("raw_DEV"))
}

func TestReconcileConvergedIsNoop(t *testing.T) {
	fake := remotetest.New()
	fake.SeedBindings("raw_DEV", []string{"ap-a"})
	p := newTestProtocol(t, fake, executor.Options{})
	v := restrictedVolume(t, "ap-a")

	res := p.Reconcile(context.Background(), v, testEnv)
	require.True(t, res.Success)
	assert.Equal(t, executor.OpNoop, res.Operation)
	assert.Zero(t, fake.MutationCalls())
}

func TestBindingOpsRejectOpenVolumes(t *testing.T) {
	fake := remotetest.New()
	p := newTestProtocol(t, fake, executor.Options{})
	v, err := securable.NewVolume("raw", "s3://bucket/raw", securable.IsolationOpen, nil)
	require.NoError(t, err)

	res := p.Reconcile(context.Background(), v, testEnv)
	require.False(t, res.Success)
	assert.Equal(t, executor.OpSkipped, res.Operation)
	assert.ErrorIs(t, res.Err, ErrNotRestricted)
	assert.Empty(t, fake.Calls(), "precondition failure must not reach the remote")

	res = p.RemoveAllBindings(context.Background(), v, testEnv)
	require.False(t, res.Success)
	assert.ErrorIs(t, res.Err, ErrNotRestricted)
	assert.Empty(t, fake.Calls())
}

func TestBindPermissionDeniedAbortsCreate(t *testing.T) {
	fake := remotetest.New()
	fake.FailNext("bindings.update", "raw_DEV",
		remote.NewError(remote.CodePermissionDenied, "caller may not manage bindings"))
	p := newTestProtocol(t, fake, executor.Options{})
	v := restrictedVolume(t, "ap-a")

	res := p.Create(context.Background(), v, testEnv)
	require.False(t, res.Success)
	assert.True(t, remote.IsPermissionDenied(res.Err))
	assert.Empty(t, fake.CallsTo("volume.update"), "aborted create must not seal")
}

func TestBindInvalidParameterSkipsStepAndSeals(t *testing.T) {
	fake := remotetest.New()
	fake.FailNext("bindings.update", "raw_DEV",
		remote.NewError(remote.CodeInvalidParameter, "unknown access point"))
	p := newTestProtocol(t, fake, executor.Options{})
	v := restrictedVolume(t, "ap-bogus")

	res := p.Create(context.Background(), v, testEnv)
	require.True(t, res.Success, "invalid binding parameter skips the step, not the create")
	require.Len(t, fake.CallsTo("volume.update"), 1)
}

func TestVerificationFailureDoesNotFailCreate(t *testing.T) {
	fake := remotetest.New()
	fake.FailNext("bindings.getcurrent", "raw_DEV",
		remote.NewError(remote.CodeUnavailable, "control plane busy"))
	p := newTestProtocol(t, fake, executor.Options{})
	v := restrictedVolume(t, "ap-a")

	res := p.Create(context.Background(), v, testEnv)
	require.True(t, res.Success)
}

func TestRemoveAllBindingsSingleCall(t *testing.T) {
	fake := remotetest.New()
	fake.SeedBindings("raw_DEV", []string{"ap-a", "ap-b"})
	p := newTestProtocol(t, fake, executor.Options{})
	v := restrictedVolume(t, "ap-a", "ap-b")

	res := p.RemoveAllBindings(context.Background(), v, testEnv)
	require.True(t, res.Success)

	updates := fake.CallsTo("bindings.update")
	require.Len(t, updates, 1)
	assert.Empty(t, updates[0].Assign)
	assert.Equal(t, []string{"ap-a", "ap-b"}, updates[0].Unassign)
	assert.Empty(t, fake.BindingsAt("raw_DEV"))
}

func TestDryRunCreateSkipsProtocolCalls(t *testing.T) {
	fake := remotetest.New()
	p := newTestProtocol(t, fake, executor.Options{DryRun: true})
	v := restrictedVolume(t, "ap-a")

	res := p.Create(context.Background(), v, testEnv)
	require.True(t, res.Success)
	assert.Zero(t, fake.MutationCalls())
	assert.Empty(t, fake.CallsTo("bindings.update"))
}
