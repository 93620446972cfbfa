package securable

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveName(t *testing.T) {
	assert.Equal(t, "sales_DEV", ResolveName("sales", "dev"))
	assert.Equal(t, "sales_PRD", ResolveName("sales", "prd"))
	assert.Equal(t, "sales", ResolveName("sales", ""))
}

func TestPrincipalResolve(t *testing.T) {
	tests := []struct {
		name      string
		principal Principal
		env       Environment
		want      string
	}{
		{
			name:      "user takes environment suffix",
			principal: Principal{Kind: PrincipalUser, Name: "alice"},
			env:       "dev",
			want:      "alice_DEV",
		},
		{
			name:      "group takes environment suffix",
			principal: Principal{Kind: PrincipalGroup, Name: "engineers"},
			env:       "prd",
			want:      "engineers_PRD",
		},
		{
			name:      "service principal resolves to application id",
			principal: Principal{Kind: PrincipalService, Name: "etl-job", ApplicationID: "app-1234"},
			env:       "dev",
			want:      "app-1234",
		},
		{
			name:      "service principal without app id keeps bare name",
			principal: Principal{Kind: PrincipalService, Name: "etl-job"},
			env:       "dev",
			want:      "etl-job",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.principal.Resolve(tt.env))
		})
	}
}

func TestTagListAppendNeverOverwrites(t *testing.T) {
	l := NewTagList(Tag{Key: "managed_by", Value: "other"})

	added := l.Append("team", "x")
	assert.True(t, added)

	added = l.Append("managed_by", "securactl")
	assert.False(t, added)

	v, ok := l.Get("managed_by")
	require.True(t, ok)
	assert.Equal(t, "other", v)
	assert.Equal(t, []Tag{{Key: "managed_by", Value: "other"}, {Key: "team", Value: "x"}}, l.All())
}

func TestVolumeConstructionInvariant(t *testing.T) {
	_, err := NewVolume("raw", "s3://bucket/raw", IsolationOpen, []string{"ap-1"})
	require.Error(t, err)

	v, err := NewVolume("raw", "s3://bucket/raw", IsolationRestricted, []string{"ap-1", "ap-2"})
	require.NoError(t, err)
	assert.Equal(t, []string{"ap-1", "ap-2"}, v.AccessBindings())

	open, err := NewVolume("raw", "s3://bucket/raw", "", nil)
	require.NoError(t, err)
	assert.Equal(t, IsolationOpen, open.IsolationMode())
}

func TestAttachAssignsQualifiedAddress(t *testing.T) {
	cat := NewCatalog("sales")
	sch := NewSchema("orders")
	vol, err := NewVolume("raw", "s3://bucket/raw", IsolationOpen, nil)
	require.NoError(t, err)

	sch.AddVolume(vol)
	assert.True(t, vol.Address().IsZero())

	cat.AddSchema(sch)
	assert.Equal(t, "sales.orders", sch.Address().String())
	assert.Equal(t, "sales.orders.raw", vol.Address().String())
	assert.Equal(t, "sales_DEV.orders_DEV.raw_DEV", vol.Address().Resolve("dev"))
}

func TestAttachHookRunsForLateChildren(t *testing.T) {
	cat := NewCatalog("sales")
	var seen []string
	cat.AddAttachHook(func(child Securable) {
		seen = append(seen, child.BaseName())
	})

	sch := NewSchema("orders")
	cat.AddSchema(sch)

	vol, err := NewVolume("raw", "s3://bucket/raw", IsolationOpen, nil)
	require.NoError(t, err)
	sch.AddVolume(vol)

	assert.Equal(t, []string{"orders", "raw"}, seen)
}

func TestAttachHooksAccumulateInRegistrationOrder(t *testing.T) {
	cat := NewCatalog("sales")
	var seen []string
	cat.AddAttachHook(func(child Securable) {
		seen = append(seen, "first:"+child.BaseName())
	})
	cat.AddAttachHook(func(child Securable) {
		seen = append(seen, "second:"+child.BaseName())
	})

	cat.AddSchema(NewSchema("orders"))
	assert.Equal(t, []string{"first:orders", "second:orders"}, seen)
}
