package acl

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

// API is the Admin API Contract of spec §4.7: a typed interface the
// external HTTP layer drives, not an HTTP routing table. Each store
// call commits on its own; a method that makes several (CreateUser
// adding the anonymous membership, DeleteUser reassigning ownership
// first) does not run them in one transaction, so a failure part-way
// leaves the earlier calls applied. Read methods read the current
// store state.
type API interface {
	CreateService(ctx context.Context, name, serviceType, url string) (*Resource, error)
	DeleteService(ctx context.Context, name string) error
	ListServices(ctx context.Context, serviceType string) ([]Resource, error)

	CreateResource(ctx context.Context, parentID int64, name string, resourceType ResourceType) (*Resource, error)
	DeleteResource(ctx context.Context, id int64) error
	GetResourceTree(ctx context.Context, serviceID int64) (*ResourceTree, error)

	CreateUser(ctx context.Context, userName, email string) (*User, error)
	DeleteUser(ctx context.Context, userName string, force bool) error

	CreateGroup(ctx context.Context, name string) (*Group, error)
	DeleteGroup(ctx context.Context, name string) error
	AddMember(ctx context.Context, userName, groupName string) error
	RemoveMember(ctx context.Context, userName, groupName string) error
	ListGroupMembers(ctx context.Context, groupName string) ([]User, error)
	ListUserGroups(ctx context.Context, userName string) ([]Group, error)

	SetPermission(ctx context.Context, kind PrincipalKind, principalID string, resourceID int64, name string, access Access, scope Scope) error
	ClearPermission(ctx context.Context, kind PrincipalKind, principalID string, resourceID int64, name string) error
	ListPermissions(ctx context.Context, principalID string, resourceID int64) ([]PermissionEntry, error)

	ResolveAccess(ctx context.Context, principals PrincipalSet, serviceName string, req IncomingRequest) (Decision, error)
}

// ResourceTree is a resource together with its descendants, returned
// by GetResourceTree for the admin console and for debugging resolver
// decisions.
type ResourceTree struct {
	Resource Resource
	Children []ResourceTree
}

// SQLAPI implements API directly over a Store and the Resolver/
// Registry, with no additional caching layer (SPEC_FULL.md keeps the
// core cache-free; caching belongs to the HTTP gateway).
type SQLAPI struct {
	store    Store
	resolver *Resolver
}

// NewSQLAPI builds the admin API surface over store.
func NewSQLAPI(store Store) *SQLAPI {
	return &SQLAPI{store: store, resolver: NewResolver(store)}
}

func (a *SQLAPI) CreateService(ctx context.Context, name, serviceType, url string) (*Resource, error) {
	if strings.TrimSpace(name) == "" {
		return nil, InputValidation("CreateService", "name must not be empty", nil)
	}
	if Lookup(serviceType) == nil {
		return nil, PolicyViolation("CreateService", "unknown service type", ErrUnknownServiceType)
	}
	r := &Resource{
		Name:        name,
		Type:        ResourceService,
		ServiceType: serviceType,
		URL:         url,
	}
	if err := a.store.CreateResource(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

func (a *SQLAPI) DeleteService(ctx context.Context, name string) error {
	svc, err := a.store.GetServiceByName(ctx, name)
	if err != nil {
		return err
	}
	return a.store.DeleteResource(ctx, svc.ID)
}

func (a *SQLAPI) ListServices(ctx context.Context, serviceType string) ([]Resource, error) {
	all, err := a.store.ListServices(ctx)
	if err != nil {
		return nil, err
	}
	if serviceType == "" {
		return all, nil
	}
	out := make([]Resource, 0, len(all))
	for _, r := range all {
		if r.ServiceType == serviceType {
			out = append(out, r)
		}
	}
	return out, nil
}

func (a *SQLAPI) CreateResource(ctx context.Context, parentID int64, name string, resourceType ResourceType) (*Resource, error) {
	if strings.TrimSpace(name) == "" {
		return nil, InputValidation("CreateResource", "name must not be empty", nil)
	}
	parent, err := a.store.GetResource(ctx, parentID)
	if err != nil {
		return nil, err
	}

	root, err := a.ancestorService(ctx, parent)
	if err != nil {
		return nil, err
	}
	def := Lookup(root.ServiceType)
	if def == nil {
		return nil, PolicyViolation("CreateResource", "unknown service type", ErrUnknownServiceType)
	}
	if !def.AllowsChild(parent.Type, resourceType) {
		return nil, PolicyViolation("CreateResource", "child resource type not permitted under this parent", ErrDisallowedChildType)
	}

	r := &Resource{Name: name, Type: resourceType, ParentID: &parentID}
	if err := a.store.CreateResource(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// ancestorService walks parent pointers to find the owning service
// root, used to look up the applicable ServiceTypeDef when creating a
// resource deeper in the tree.
func (a *SQLAPI) ancestorService(ctx context.Context, r *Resource) (*Resource, error) {
	current := r
	for !current.IsService() {
		if current.ParentID == nil {
			return nil, Internal("ancestorService", "non-service resource has no parent", nil)
		}
		next, err := a.store.GetResource(ctx, *current.ParentID)
		if err != nil {
			return nil, err
		}
		current = next
	}
	return current, nil
}

func (a *SQLAPI) DeleteResource(ctx context.Context, id int64) error {
	return a.store.DeleteResource(ctx, id)
}

func (a *SQLAPI) GetResourceTree(ctx context.Context, serviceID int64) (*ResourceTree, error) {
	root, err := a.store.GetResource(ctx, serviceID)
	if err != nil {
		return nil, err
	}
	return a.buildTree(ctx, *root)
}

func (a *SQLAPI) buildTree(ctx context.Context, r Resource) (*ResourceTree, error) {
	children, err := a.store.ListChildren(ctx, r.ID)
	if err != nil {
		return nil, err
	}
	tree := &ResourceTree{Resource: r}
	for _, c := range children {
		childTree, err := a.buildTree(ctx, c)
		if err != nil {
			return nil, err
		}
		tree.Children = append(tree.Children, *childTree)
	}
	return tree, nil
}

func (a *SQLAPI) CreateUser(ctx context.Context, userName, email string) (*User, error) {
	if strings.TrimSpace(userName) == "" {
		return nil, InputValidation("CreateUser", "user_name must not be empty", nil)
	}
	now := time.Now()
	u := &User{
		ID:        uuid.NewString(),
		UserName:  userName,
		Email:     email,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := a.store.CreateUser(ctx, u); err != nil {
		return nil, err
	}
	if err := a.store.AddMember(ctx, GroupAnonymous, u.ID); err != nil {
		return nil, err
	}
	return u, nil
}

// DeleteUser enforces spec §9's Open Question resolution: a user
// still owning resources blocks deletion unless force is set, in
// which case ownership reverts to NULL rather than cascading.
func (a *SQLAPI) DeleteUser(ctx context.Context, userName string, force bool) error {
	u, err := a.store.GetUserByName(ctx, userName)
	if err != nil {
		return err
	}
	n, err := a.store.CountOwnedBy(ctx, u.ID)
	if err != nil {
		return err
	}
	if n > 0 {
		if !force {
			return PolicyViolation("DeleteUser", "user still owns resources", ErrUserOwnsResources)
		}
		if err := a.store.ReassignOwnership(ctx, u.ID); err != nil {
			return err
		}
	}
	return a.store.DeleteUser(ctx, u.ID)
}

func (a *SQLAPI) CreateGroup(ctx context.Context, name string) (*Group, error) {
	if strings.TrimSpace(name) == "" {
		return nil, InputValidation("CreateGroup", "name must not be empty", nil)
	}
	g := &Group{ID: uuid.NewString(), GroupName: name, CreatedAt: time.Now()}
	if err := a.store.CreateGroup(ctx, g); err != nil {
		return nil, err
	}
	return g, nil
}

func (a *SQLAPI) DeleteGroup(ctx context.Context, name string) error {
	g, err := a.store.GetGroupByName(ctx, name)
	if err != nil {
		return err
	}
	return a.store.DeleteGroup(ctx, g.ID)
}

func (a *SQLAPI) AddMember(ctx context.Context, userName, groupName string) error {
	u, err := a.store.GetUserByName(ctx, userName)
	if err != nil {
		return err
	}
	g, err := a.store.GetGroupByName(ctx, groupName)
	if err != nil {
		return err
	}
	return a.store.AddMember(ctx, g.ID, u.ID)
}

func (a *SQLAPI) RemoveMember(ctx context.Context, userName, groupName string) error {
	u, err := a.store.GetUserByName(ctx, userName)
	if err != nil {
		return err
	}
	g, err := a.store.GetGroupByName(ctx, groupName)
	if err != nil {
		return err
	}
	return a.store.RemoveMember(ctx, g.ID, u.ID)
}

func (a *SQLAPI) ListGroupMembers(ctx context.Context, groupName string) ([]User, error) {
	g, err := a.store.GetGroupByName(ctx, groupName)
	if err != nil {
		return nil, err
	}
	return a.store.ListGroupMembers(ctx, g.ID)
}

func (a *SQLAPI) ListUserGroups(ctx context.Context, userName string) ([]Group, error) {
	u, err := a.store.GetUserByName(ctx, userName)
	if err != nil {
		return nil, err
	}
	ids, err := a.store.ListUserGroups(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	out := make([]Group, 0, len(ids))
	for _, id := range ids {
		g, err := a.store.GetGroup(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, *g)
	}
	return out, nil
}

func (a *SQLAPI) SetPermission(ctx context.Context, kind PrincipalKind, principalID string, resourceID int64, name string, access Access, scope Scope) error {
	resource, err := a.store.GetResource(ctx, resourceID)
	if err != nil {
		return err
	}
	root, err := a.ancestorService(ctx, resource)
	if err != nil {
		return err
	}
	def := Lookup(root.ServiceType)
	if def == nil || !def.Allows(name) {
		return PolicyViolation("SetPermission", "permission name not recognized by this service type", ErrUnknownServiceType)
	}

	e := &PermissionEntry{
		ID:          uuid.NewString(),
		Kind:        kind,
		PrincipalID: principalID,
		ResourceID:  resourceID,
		Name:        name,
		Access:      access,
		Scope:       scope,
	}
	return a.store.SetPermission(ctx, e)
}

func (a *SQLAPI) ClearPermission(ctx context.Context, kind PrincipalKind, principalID string, resourceID int64, name string) error {
	return a.store.ClearPermission(ctx, kind, principalID, resourceID, name)
}

func (a *SQLAPI) ListPermissions(ctx context.Context, principalID string, resourceID int64) ([]PermissionEntry, error) {
	entries, err := a.store.ListForResource(ctx, resourceID)
	if err != nil {
		return nil, err
	}
	if principalID == "" {
		return entries, nil
	}
	out := make([]PermissionEntry, 0, len(entries))
	for _, e := range entries {
		if e.PrincipalID == principalID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (a *SQLAPI) ResolveAccess(ctx context.Context, principals PrincipalSet, serviceName string, req IncomingRequest) (Decision, error) {
	svc, err := a.store.GetServiceByName(ctx, serviceName)
	if err != nil {
		if IsKind(err, KindNotFound) {
			return Decision{Allow: false, ReasonCode: ReasonUnknownService}, nil
		}
		return Decision{}, err
	}
	def := Lookup(svc.ServiceType)
	if def == nil {
		return Decision{Allow: false, ReasonCode: ReasonUnknownService}, nil
	}
	parsed := def.Parse(req)
	return a.resolver.Resolve(ctx, principals, serviceName, parsed)
}
