// Package remotetest provides an in-memory control plane for tests. It
// records every call it receives and can be scripted to fail specific
// calls with classified errors.
package remotetest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/securactl/securactl/pkg/remote"
)

// Call is one recorded API invocation.
type Call struct {
	// Method is the invocation name, e.g. "catalog.create" or
	// "bindings.update".
	Method string

	// Target is the resource name or securable address.
	Target string

	// Fields holds the payload of resource create/update calls.
	Fields remote.Fields

	// Assign and Unassign hold binding update payloads.
	Assign   []string
	Unassign []string

	// Add and Remove hold grant update payloads.
	Add    remote.GrantSet
	Remove remote.GrantSet
}

// Fake is an in-memory remote.Client.
type Fake struct {
	mu sync.Mutex

	resources map[string]map[string]remote.Fields
	grants    map[string]remote.GrantSet
	bindings  map[string][]string

	users             map[string]bool
	groups            map[string]bool
	servicePrincipals map[string]remote.Identity

	calls    []Call
	failures map[string][]error
}

// New creates an empty fake control plane.
func New() *Fake {
	return &Fake{
		resources:         make(map[string]map[string]remote.Fields),
		grants:            make(map[string]remote.GrantSet),
		bindings:          make(map[string][]string),
		users:             make(map[string]bool),
		groups:            make(map[string]bool),
		servicePrincipals: make(map[string]remote.Identity),
		failures:          make(map[string][]error),
	}
}

// SeedResource installs a resource with the given current fields.
func (f *Fake) SeedResource(kind, name string, fields remote.Fields) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.resources[kind] == nil {
		f.resources[kind] = make(map[string]remote.Fields)
	}
	f.resources[kind][name] = cloneFields(fields)
}

// ResourceFields returns the stored fields for a resource, or nil.
func (f *Fake) ResourceFields(kind, name string) remote.Fields {
	f.mu.Lock()
	defer f.mu.Unlock()
	return cloneFields(f.resources[kind][name])
}

// SeedGrants installs the current grant set for an address.
func (f *Fake) SeedGrants(address string, grants remote.GrantSet) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.grants[address] = cloneGrants(grants)
}

// GrantsAt returns the stored grant set for an address.
func (f *Fake) GrantsAt(address string) remote.GrantSet {
	f.mu.Lock()
	defer f.mu.Unlock()
	return cloneGrants(f.grants[address])
}

// SeedBindings installs the current binding set for a resource.
func (f *Fake) SeedBindings(resource string, accessPoints []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bindings[resource] = append([]string(nil), accessPoints...)
}

// BindingsAt returns the stored binding set for a resource.
func (f *Fake) BindingsAt(resource string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]string(nil), f.bindings[resource]...)
	sort.Strings(out)
	return out
}

// AddUser registers a user identity.
func (f *Fake) AddUser(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[name] = true
}

// AddGroup registers a group identity.
func (f *Fake) AddGroup(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.groups[name] = true
}

// AddServicePrincipal registers a service identity reachable by display
// name or application id.
func (f *Fake) AddServicePrincipal(name, appID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := remote.Identity{Name: name, ApplicationID: appID}
	f.servicePrincipals[name] = id
	if appID != "" {
		f.servicePrincipals[appID] = id
	}
}

// FailNext scripts the next call matching method and target to return err.
// Multiple scripted failures for the same key are consumed in order.
func (f *Fake) FailNext(method, target string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := method + "/" + target
	f.failures[key] = append(f.failures[key], err)
}

// FailNextN scripts n consecutive failures for the call.
func (f *Fake) FailNextN(method, target string, n int, err error) {
	for i := 0; i < n; i++ {
		f.FailNext(method, target, err)
	}
}

// Calls returns all recorded calls in order.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// CallsTo returns the recorded calls for one method.
func (f *Fake) CallsTo(method string) []Call {
	var out []Call
	for _, c := range f.Calls() {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

// MutationCalls counts recorded create/update/delete calls across all
// sub-APIs. Reads (get, list, getcurrent) are excluded.
func (f *Fake) MutationCalls() int {
	n := 0
	for _, c := range f.Calls() {
		switch {
		case strings.HasSuffix(c.Method, ".create"),
			strings.HasSuffix(c.Method, ".update"),
			strings.HasSuffix(c.Method, ".delete"):
			n++
		}
	}
	return n
}

// Reset clears the call log but keeps seeded state.
func (f *Fake) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

// securableExists reports whether any stored resource matches the leaf
// component of a dotted securable address. Callers hold f.mu.
func (f *Fake) securableExists(address string) bool {
	leaf := address
	if i := strings.LastIndex(address, "."); i >= 0 {
		leaf = address[i+1:]
	}
	for _, byName := range f.resources {
		if _, ok := byName[leaf]; ok {
			return true
		}
	}
	return false
}

func (f *Fake) record(c Call) error {
	f.calls = append(f.calls, c)
	key := c.Method + "/" + c.Target
	if queue := f.failures[key]; len(queue) > 0 {
		err := queue[0]
		f.failures[key] = queue[1:]
		return err
	}
	return nil
}

// Resources implements remote.Client.
func (f *Fake) Resources(kind string) remote.ResourceClient {
	return &fakeResources{fake: f, kind: kind}
}

// Grants implements remote.Client.
func (f *Fake) Grants() remote.GrantClient {
	return &fakeGrants{fake: f}
}

// Bindings implements remote.Client.
func (f *Fake) Bindings() remote.BindingClient {
	return &fakeBindings{fake: f}
}

// Identities implements remote.Client.
func (f *Fake) Identities() remote.IdentityClient {
	return &fakeIdentities{fake: f}
}

type fakeResources struct {
	fake *Fake
	kind string
}

func (r *fakeResources) Get(ctx context.Context, name string) (*remote.ResourceState, error) {
	f := r.fake
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(Call{Method: r.kind + ".get", Target: name}); err != nil {
		return nil, err
	}
	fields, ok := f.resources[r.kind][name]
	if !ok {
		return nil, remote.NewError(remote.CodeNotFound, fmt.Sprintf("%s %q does not exist", r.kind, name)).WithResource(name)
	}
	return &remote.ResourceState{Name: name, Fields: cloneFields(fields)}, nil
}

func (r *fakeResources) Create(ctx context.Context, name string, fields remote.Fields) error {
	f := r.fake
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(Call{Method: r.kind + ".create", Target: name, Fields: cloneFields(fields)}); err != nil {
		return err
	}
	if _, ok := f.resources[r.kind][name]; ok {
		return remote.NewError(remote.CodeAlreadyExists, fmt.Sprintf("%s %q already exists", r.kind, name)).WithResource(name)
	}
	if f.resources[r.kind] == nil {
		f.resources[r.kind] = make(map[string]remote.Fields)
	}
	f.resources[r.kind][name] = cloneFields(fields)
	return nil
}

func (r *fakeResources) Update(ctx context.Context, name string, fields remote.Fields) error {
	f := r.fake
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(Call{Method: r.kind + ".update", Target: name, Fields: cloneFields(fields)}); err != nil {
		return err
	}
	current, ok := f.resources[r.kind][name]
	if !ok {
		return remote.NewError(remote.CodeNotFound, fmt.Sprintf("%s %q does not exist", r.kind, name)).WithResource(name)
	}
	for k, v := range fields {
		current[k] = v
	}
	return nil
}

func (r *fakeResources) Delete(ctx context.Context, name string) error {
	f := r.fake
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(Call{Method: r.kind + ".delete", Target: name}); err != nil {
		return err
	}
	if _, ok := f.resources[r.kind][name]; !ok {
		return remote.NewError(remote.CodeNotFound, fmt.Sprintf("%s %q does not exist", r.kind, name)).WithResource(name)
	}
	delete(f.resources[r.kind], name)
	return nil
}

func (r *fakeResources) List(ctx context.Context) ([]remote.ResourceState, error) {
	f := r.fake
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(Call{Method: r.kind + ".list"}); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(f.resources[r.kind]))
	for name := range f.resources[r.kind] {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]remote.ResourceState, 0, len(names))
	for _, name := range names {
		out = append(out, remote.ResourceState{Name: name, Fields: cloneFields(f.resources[r.kind][name])})
	}
	return out, nil
}

type fakeGrants struct {
	fake *Fake
}

func (g *fakeGrants) GetCurrent(ctx context.Context, address string) (remote.GrantSet, error) {
	f := g.fake
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(Call{Method: "grants.getcurrent", Target: address}); err != nil {
		return nil, err
	}
	current, ok := f.grants[address]
	if !ok {
		// A securable that exists but was never granted on has an empty
		// set, the same answer the control plane gives.
		if f.securableExists(address) {
			return remote.GrantSet{}, nil
		}
		return nil, remote.NewError(remote.CodeNotFound, fmt.Sprintf("securable %q does not exist", address))
	}
	return cloneGrants(current), nil
}

func (g *fakeGrants) Update(ctx context.Context, address string, add, remove remote.GrantSet) error {
	f := g.fake
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(Call{Method: "grants.update", Target: address, Add: cloneGrants(add), Remove: cloneGrants(remove)}); err != nil {
		return err
	}
	current, ok := f.grants[address]
	if !ok {
		if !f.securableExists(address) {
			return remote.NewError(remote.CodeNotFound, fmt.Sprintf("securable %q does not exist", address))
		}
		current = make(remote.GrantSet)
		f.grants[address] = current
	}
	for principal, privileges := range add {
		current[principal] = unionSorted(current[principal], privileges)
	}
	for principal, privileges := range remove {
		current[principal] = subtractSorted(current[principal], privileges)
		if len(current[principal]) == 0 {
			delete(current, principal)
		}
	}
	return nil
}

type fakeBindings struct {
	fake *Fake
}

func (b *fakeBindings) GetCurrent(ctx context.Context, resource string) ([]string, error) {
	f := b.fake
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(Call{Method: "bindings.getcurrent", Target: resource}); err != nil {
		return nil, err
	}
	out := append([]string(nil), f.bindings[resource]...)
	sort.Strings(out)
	return out, nil
}

func (b *fakeBindings) Update(ctx context.Context, resource string, assign, unassign []string) error {
	f := b.fake
	f.mu.Lock()
	defer f.mu.Unlock()
	call := Call{
		Method:   "bindings.update",
		Target:   resource,
		Assign:   append([]string(nil), assign...),
		Unassign: append([]string(nil), unassign...),
	}
	if err := f.record(call); err != nil {
		return err
	}
	f.bindings[resource] = subtractSorted(unionSorted(f.bindings[resource], assign), unassign)
	return nil
}

type fakeIdentities struct {
	fake *Fake
}

func (i *fakeIdentities) GetUser(ctx context.Context, name string) (*remote.Identity, error) {
	f := i.fake
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(Call{Method: "identities.getuser", Target: name}); err != nil {
		return nil, err
	}
	if !f.users[name] {
		return nil, remote.NewError(remote.CodeNotFound, fmt.Sprintf("user %q does not exist", name))
	}
	return &remote.Identity{Name: name}, nil
}

func (i *fakeIdentities) GetGroup(ctx context.Context, name string) (*remote.Identity, error) {
	f := i.fake
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(Call{Method: "identities.getgroup", Target: name}); err != nil {
		return nil, err
	}
	if !f.groups[name] {
		return nil, remote.NewError(remote.CodeNotFound, fmt.Sprintf("group %q does not exist", name))
	}
	return &remote.Identity{Name: name}, nil
}

func (i *fakeIdentities) FindServicePrincipal(ctx context.Context, nameOrAppID string) (*remote.Identity, error) {
	f := i.fake
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(Call{Method: "identities.findsp", Target: nameOrAppID}); err != nil {
		return nil, err
	}
	id, ok := f.servicePrincipals[nameOrAppID]
	if !ok {
		return nil, remote.NewError(remote.CodeNotFound, fmt.Sprintf("service principal %q does not exist", nameOrAppID))
	}
	return &id, nil
}

func cloneFields(fields remote.Fields) remote.Fields {
	if fields == nil {
		return nil
	}
	out := make(remote.Fields, len(fields))
	for k, v := range fields {
		if s, ok := v.([]string); ok {
			out[k] = append([]string(nil), s...)
			continue
		}
		out[k] = v
	}
	return out
}

func cloneGrants(grants remote.GrantSet) remote.GrantSet {
	if grants == nil {
		return nil
	}
	out := make(remote.GrantSet, len(grants))
	for principal, privileges := range grants {
		out[principal] = append([]string(nil), privileges...)
	}
	return out
}

func unionSorted(base, extra []string) []string {
	seen := make(map[string]bool, len(base)+len(extra))
	for _, v := range base {
		seen[v] = true
	}
	for _, v := range extra {
		seen[v] = true
	}
	out := make([]string, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func subtractSorted(base, gone []string) []string {
	drop := make(map[string]bool, len(gone))
	for _, v := range gone {
		drop[v] = true
	}
	var out []string
	for _, v := range base {
		if !drop[v] {
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}
