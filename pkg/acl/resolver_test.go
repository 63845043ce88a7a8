package acl

import (
	"context"
	"net/url"
	"testing"
)

func newTestAPI(t *testing.T) (*SQLAPI, *SQLiteStore) {
	t.Helper()
	store, err := OpenSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("OpenSQLiteStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return NewSQLAPI(store), store
}

func mustUser(t *testing.T, api *SQLAPI, name string) *User {
	t.Helper()
	u, err := api.CreateUser(context.Background(), name, name+"@example.test")
	if err != nil {
		t.Fatalf("CreateUser(%s): %v", name, err)
	}
	return u
}

// TestAdminBypass covers spec §8 scenario 2: an admin-marked principal
// is allowed regardless of any permission entries or their absence.
func TestAdminBypass(t *testing.T) {
	api, _ := newTestAPI(t)
	ctx := context.Background()

	if _, err := api.CreateService(ctx, "svc1", "api", ""); err != nil {
		t.Fatalf("CreateService: %v", err)
	}

	principals := PrincipalSet{UserID: "root", GroupIDs: []string{GroupAnonymous}, IsAdmin: true}
	decision, err := api.ResolveAccess(ctx, principals, "svc1", IncomingRequest{Method: "GET", Path: "/anything"})
	if err != nil {
		t.Fatalf("ResolveAccess: %v", err)
	}
	if !decision.Allow || decision.ReasonCode != ReasonAdminBypass {
		t.Errorf("got %+v, want admin bypass allow", decision)
	}
}

// TestWPSGetCapabilitiesIgnoresIdentifier covers spec §8 scenario 3.
func TestWPSGetCapabilitiesIgnoresIdentifier(t *testing.T) {
	api, _ := newTestAPI(t)
	ctx := context.Background()

	svc, err := api.CreateService(ctx, "wps1", "wps", "")
	if err != nil {
		t.Fatalf("CreateService: %v", err)
	}
	proc, err := api.CreateResource(ctx, svc.ID, "proc1", ResourceProcess)
	if err != nil {
		t.Fatalf("CreateResource(proc1): %v", err)
	}
	if _, err := api.CreateResource(ctx, svc.ID, "proc2", ResourceProcess); err != nil {
		t.Fatalf("CreateResource(proc2): %v", err)
	}

	u := mustUser(t, api, "alice")
	if err := api.SetPermission(ctx, PrincipalUser, u.ID, svc.ID, "get_capabilities", Allow, ScopeRecursive); err != nil {
		t.Fatalf("SetPermission(get_capabilities): %v", err)
	}
	if err := api.SetPermission(ctx, PrincipalUser, u.ID, proc.ID, "execute", Deny, ScopeMatch); err != nil {
		t.Fatalf("SetPermission(execute deny): %v", err)
	}

	principals := PrincipalSet{UserID: u.ID, GroupIDs: []string{GroupAnonymous}}

	q := url.Values{"request": {"GetCapabilities"}, "identifier": {"proc1"}}
	decision, err := api.ResolveAccess(ctx, principals, "wps1", IncomingRequest{Method: "GET", Query: q})
	if err != nil {
		t.Fatalf("ResolveAccess(GetCapabilities): %v", err)
	}
	if !decision.Allow {
		t.Errorf("GetCapabilities should target the service root and be allowed, got %+v", decision)
	}

	q = url.Values{"request": {"Execute"}, "identifier": {"proc1"}}
	decision, err = api.ResolveAccess(ctx, principals, "wps1", IncomingRequest{Method: "GET", Query: q})
	if err != nil {
		t.Fatalf("ResolveAccess(Execute): %v", err)
	}
	if decision.Allow {
		t.Errorf("Execute on proc1 should be denied by the direct entry, got %+v", decision)
	}
}

// TestThreddsPathParsing covers spec §8 scenario 4: the fileServer
// marker selects the tail path as the target, independent of the
// service-relative prefix before it.
func TestThreddsPathParsing(t *testing.T) {
	api, _ := newTestAPI(t)
	ctx := context.Background()

	svc, err := api.CreateService(ctx, "thredds1", "thredds", "")
	if err != nil {
		t.Fatalf("CreateService: %v", err)
	}
	dir, err := api.CreateResource(ctx, svc.ID, "data", ResourceDirectory)
	if err != nil {
		t.Fatalf("CreateResource(data): %v", err)
	}
	file, err := api.CreateResource(ctx, dir.ID, "obs.nc", ResourceFile)
	if err != nil {
		t.Fatalf("CreateResource(obs.nc): %v", err)
	}

	u := mustUser(t, api, "bob")
	if err := api.SetPermission(ctx, PrincipalUser, u.ID, file.ID, "read", Allow, ScopeMatch); err != nil {
		t.Fatalf("SetPermission: %v", err)
	}

	principals := PrincipalSet{UserID: u.ID, GroupIDs: []string{GroupAnonymous}}
	decision, err := api.ResolveAccess(ctx, principals, "thredds1",
		IncomingRequest{Method: "GET", Path: "/thredds/fileServer/data/obs.nc"})
	if err != nil {
		t.Fatalf("ResolveAccess: %v", err)
	}
	if !decision.Allow {
		t.Errorf("expected allow for the directly-permitted file, got %+v", decision)
	}
}

// TestOwnershipBypass covers spec §8 scenario 5: an owner is allowed
// on their resource with no permission entries at all.
func TestOwnershipBypass(t *testing.T) {
	api, store := newTestAPI(t)
	ctx := context.Background()

	svc, err := api.CreateService(ctx, "svc1", "api", "")
	if err != nil {
		t.Fatalf("CreateService: %v", err)
	}
	owner := mustUser(t, api, "carol")

	resource, err := api.CreateResource(ctx, svc.ID, "mine", ResourceRoute)
	if err != nil {
		t.Fatalf("CreateResource: %v", err)
	}
	if _, err := store.db.Exec(`UPDATE resources SET owner_user_id = ? WHERE id = ?`, owner.ID, resource.ID); err != nil {
		t.Fatalf("seed ownership: %v", err)
	}

	principals := PrincipalSet{UserID: owner.ID, GroupIDs: []string{GroupAnonymous}}
	decision, err := api.resolver.Resolve(ctx, principals, "svc1", ParsedRequest{PathFromRoot: []string{"mine"}, Permission: "read"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !decision.Allow || decision.ReasonCode != ReasonOwnership {
		t.Errorf("got %+v, want ownership-bypass allow", decision)
	}

	other := mustUser(t, api, "dave")
	principals = PrincipalSet{UserID: other.ID, GroupIDs: []string{GroupAnonymous}}
	decision, err = api.resolver.Resolve(ctx, principals, "svc1", ParsedRequest{PathFromRoot: []string{"mine"}, Permission: "read"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if decision.Allow {
		t.Errorf("a non-owner with no grant should be denied, got %+v", decision)
	}
}

// TestDefaultDenyUnknownService covers the "missing service -> deny" edge case.
func TestDefaultDenyUnknownService(t *testing.T) {
	api, _ := newTestAPI(t)
	ctx := context.Background()
	principals := PrincipalSet{UserID: "nobody", GroupIDs: []string{GroupAnonymous}}

	decision, err := api.ResolveAccess(ctx, principals, "does-not-exist", IncomingRequest{Method: "GET", Path: "/x"})
	if err != nil {
		t.Fatalf("ResolveAccess: %v", err)
	}
	if decision.Allow || decision.ReasonCode != ReasonUnknownService {
		t.Errorf("got %+v, want deny/unknown_service", decision)
	}
}

// TestDisallowedChildType enforces the per-service-type tree shape.
func TestDisallowedChildType(t *testing.T) {
	api, _ := newTestAPI(t)
	ctx := context.Background()

	svc, err := api.CreateService(ctx, "wps1", "wps", "")
	if err != nil {
		t.Fatalf("CreateService: %v", err)
	}
	_, err = api.CreateResource(ctx, svc.ID, "subdir", ResourceDirectory)
	if !IsKind(err, KindPolicyViolation) {
		t.Errorf("expected a policy violation for a directory under a wps service, got %v", err)
	}
}

// TestSetPermissionIdempotent verifies SetPermission upserts rather
// than duplicating.
func TestSetPermissionIdempotent(t *testing.T) {
	api, _ := newTestAPI(t)
	ctx := context.Background()

	svc, err := api.CreateService(ctx, "svc1", "api", "")
	if err != nil {
		t.Fatalf("CreateService: %v", err)
	}
	u := mustUser(t, api, "dana")

	if err := api.SetPermission(ctx, PrincipalUser, u.ID, svc.ID, "read", Allow, ScopeMatch); err != nil {
		t.Fatalf("SetPermission (1st): %v", err)
	}
	if err := api.SetPermission(ctx, PrincipalUser, u.ID, svc.ID, "read", Deny, ScopeMatch); err != nil {
		t.Fatalf("SetPermission (2nd): %v", err)
	}

	entries, err := api.ListPermissions(ctx, u.ID, svc.ID)
	if err != nil {
		t.Fatalf("ListPermissions: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want exactly 1 after upsert", len(entries))
	}
	if entries[0].Access != Deny {
		t.Errorf("got access %v, want the latest write (deny)", entries[0].Access)
	}
}

// TestDeleteUserBlockedByOwnership covers the Open Question decision:
// deletion is blocked unless Force is set, and Force clears ownership
// rather than cascading.
func TestDeleteUserBlockedByOwnership(t *testing.T) {
	api, store := newTestAPI(t)
	ctx := context.Background()

	svc, err := api.CreateService(ctx, "svc1", "api", "")
	if err != nil {
		t.Fatalf("CreateService: %v", err)
	}
	u := mustUser(t, api, "erin")
	resource, err := api.CreateResource(ctx, svc.ID, "owned", ResourceRoute)
	if err != nil {
		t.Fatalf("CreateResource: %v", err)
	}
	if _, err := store.db.Exec(`UPDATE resources SET owner_user_id = ? WHERE id = ?`, u.ID, resource.ID); err != nil {
		t.Fatalf("seed ownership: %v", err)
	}

	if err := api.DeleteUser(ctx, u.UserName, false); !IsKind(err, KindPolicyViolation) {
		t.Fatalf("expected a policy violation blocking deletion, got %v", err)
	}

	if err := api.DeleteUser(ctx, u.UserName, true); err != nil {
		t.Fatalf("forced DeleteUser: %v", err)
	}

	after, err := store.GetResource(ctx, resource.ID)
	if err != nil {
		t.Fatalf("GetResource after forced delete: %v", err)
	}
	if after.OwnerUserID != nil {
		t.Errorf("forced delete should clear ownership, got %v", *after.OwnerUserID)
	}
}

// TestWMSWorkspaceFromLayerName covers the WMS workspace-prefix parser path.
func TestWMSWorkspaceFromLayerName(t *testing.T) {
	api, _ := newTestAPI(t)
	ctx := context.Background()

	svc, err := api.CreateService(ctx, "geo1", "wms", "")
	if err != nil {
		t.Fatalf("CreateService: %v", err)
	}
	ws, err := api.CreateResource(ctx, svc.ID, "topp", ResourceWorkspace)
	if err != nil {
		t.Fatalf("CreateResource(topp): %v", err)
	}
	u := mustUser(t, api, "frank")
	if err := api.SetPermission(ctx, PrincipalUser, u.ID, ws.ID, "get_map", Allow, ScopeMatch); err != nil {
		t.Fatalf("SetPermission: %v", err)
	}

	principals := PrincipalSet{UserID: u.ID, GroupIDs: []string{GroupAnonymous}}
	q := url.Values{"request": {"GetMap"}, "layers": {"topp:states"}}
	decision, err := api.ResolveAccess(ctx, principals, "geo1", IncomingRequest{Method: "GET", Query: q})
	if err != nil {
		t.Fatalf("ResolveAccess: %v", err)
	}
	if !decision.Allow {
		t.Errorf("expected allow for topp workspace GetMap, got %+v", decision)
	}
}
