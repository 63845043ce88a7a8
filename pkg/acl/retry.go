package acl

import (
	"context"
	"time"
)

// retryBackoff is the delay before the single retry attempt a
// KindTransientStore failure gets, per spec's "retried at most once
// with backoff; otherwise surfaced as Internal" rule.
const retryBackoff = 25 * time.Millisecond

// retryOnce runs fn, and if it fails with a transient-store error,
// waits retryBackoff and runs it exactly one more time. A transient
// failure that persists through the retry is rewrapped as Internal;
// every other outcome (success, or a non-transient Fault) is returned
// as-is on the first attempt.
func retryOnce[T any](ctx context.Context, op string, fn func() (T, error)) (T, error) {
	v, err := fn()
	if err == nil || !IsKind(err, KindTransientStore) {
		return v, err
	}

	select {
	case <-time.After(retryBackoff):
	case <-ctx.Done():
		var zero T
		return zero, TransientStore(op, "context cancelled before retry", ctx.Err())
	}

	v, err = fn()
	if err != nil && IsKind(err, KindTransientStore) {
		return v, Internal(op, "transient store failure persisted after one retry", err)
	}
	return v, err
}

// retryOnceErr is retryOnce for the error-only methods (no value to
// carry back on success).
func retryOnceErr(ctx context.Context, op string, fn func() error) error {
	_, err := retryOnce(ctx, op, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// WithRetry wraps store so that every method retries a transient
// failure once, with backoff, before surfacing it as Internal. It is
// the single retry point spec.md:168 requires; both SQLAPI and
// pkg/auth wrap their Store at construction time rather than retrying
// at each call site.
func WithRetry(store Store) Store {
	return &retryingStore{store: store}
}

type retryingStore struct {
	store Store
}

func (s *retryingStore) GetResource(ctx context.Context, id int64) (*Resource, error) {
	return retryOnce(ctx, "GetResource", func() (*Resource, error) { return s.store.GetResource(ctx, id) })
}

func (s *retryingStore) GetServiceByName(ctx context.Context, name string) (*Resource, error) {
	return retryOnce(ctx, "GetServiceByName", func() (*Resource, error) { return s.store.GetServiceByName(ctx, name) })
}

func (s *retryingStore) GetChildByName(ctx context.Context, parentID int64, name string) (*Resource, error) {
	return retryOnce(ctx, "GetChildByName", func() (*Resource, error) { return s.store.GetChildByName(ctx, parentID, name) })
}

func (s *retryingStore) ListServices(ctx context.Context) ([]Resource, error) {
	return retryOnce(ctx, "ListServices", func() ([]Resource, error) { return s.store.ListServices(ctx) })
}

func (s *retryingStore) ListChildren(ctx context.Context, parentID int64) ([]Resource, error) {
	return retryOnce(ctx, "ListChildren", func() ([]Resource, error) { return s.store.ListChildren(ctx, parentID) })
}

func (s *retryingStore) AncestorChain(ctx context.Context, id int64) ([]Resource, error) {
	return retryOnce(ctx, "AncestorChain", func() ([]Resource, error) { return s.store.AncestorChain(ctx, id) })
}

func (s *retryingStore) CreateResource(ctx context.Context, r *Resource) error {
	return retryOnceErr(ctx, "CreateResource", func() error { return s.store.CreateResource(ctx, r) })
}

func (s *retryingStore) DeleteResource(ctx context.Context, id int64) error {
	return retryOnceErr(ctx, "DeleteResource", func() error { return s.store.DeleteResource(ctx, id) })
}

func (s *retryingStore) CountOwnedBy(ctx context.Context, userID string) (int, error) {
	return retryOnce(ctx, "CountOwnedBy", func() (int, error) { return s.store.CountOwnedBy(ctx, userID) })
}

func (s *retryingStore) ReassignOwnership(ctx context.Context, userID string) error {
	return retryOnceErr(ctx, "ReassignOwnership", func() error { return s.store.ReassignOwnership(ctx, userID) })
}

func (s *retryingStore) GetUser(ctx context.Context, id string) (*User, error) {
	return retryOnce(ctx, "GetUser", func() (*User, error) { return s.store.GetUser(ctx, id) })
}

func (s *retryingStore) GetUserByName(ctx context.Context, userName string) (*User, error) {
	return retryOnce(ctx, "GetUserByName", func() (*User, error) { return s.store.GetUserByName(ctx, userName) })
}

func (s *retryingStore) ListUsers(ctx context.Context) ([]User, error) {
	return retryOnce(ctx, "ListUsers", func() ([]User, error) { return s.store.ListUsers(ctx) })
}

func (s *retryingStore) CreateUser(ctx context.Context, u *User) error {
	return retryOnceErr(ctx, "CreateUser", func() error { return s.store.CreateUser(ctx, u) })
}

func (s *retryingStore) UpdateUser(ctx context.Context, u *User) error {
	return retryOnceErr(ctx, "UpdateUser", func() error { return s.store.UpdateUser(ctx, u) })
}

func (s *retryingStore) DeleteUser(ctx context.Context, id string) error {
	return retryOnceErr(ctx, "DeleteUser", func() error { return s.store.DeleteUser(ctx, id) })
}

func (s *retryingStore) GetGroup(ctx context.Context, id string) (*Group, error) {
	return retryOnce(ctx, "GetGroup", func() (*Group, error) { return s.store.GetGroup(ctx, id) })
}

func (s *retryingStore) GetGroupByName(ctx context.Context, name string) (*Group, error) {
	return retryOnce(ctx, "GetGroupByName", func() (*Group, error) { return s.store.GetGroupByName(ctx, name) })
}

func (s *retryingStore) ListGroups(ctx context.Context) ([]Group, error) {
	return retryOnce(ctx, "ListGroups", func() ([]Group, error) { return s.store.ListGroups(ctx) })
}

func (s *retryingStore) CreateGroup(ctx context.Context, g *Group) error {
	return retryOnceErr(ctx, "CreateGroup", func() error { return s.store.CreateGroup(ctx, g) })
}

func (s *retryingStore) DeleteGroup(ctx context.Context, id string) error {
	return retryOnceErr(ctx, "DeleteGroup", func() error { return s.store.DeleteGroup(ctx, id) })
}

func (s *retryingStore) AddMember(ctx context.Context, groupID, userID string) error {
	return retryOnceErr(ctx, "AddMember", func() error { return s.store.AddMember(ctx, groupID, userID) })
}

func (s *retryingStore) RemoveMember(ctx context.Context, groupID, userID string) error {
	return retryOnceErr(ctx, "RemoveMember", func() error { return s.store.RemoveMember(ctx, groupID, userID) })
}

func (s *retryingStore) ListGroupMembers(ctx context.Context, groupID string) ([]User, error) {
	return retryOnce(ctx, "ListGroupMembers", func() ([]User, error) { return s.store.ListGroupMembers(ctx, groupID) })
}

func (s *retryingStore) ListUserGroups(ctx context.Context, userID string) ([]string, error) {
	return retryOnce(ctx, "ListUserGroups", func() ([]string, error) { return s.store.ListUserGroups(ctx, userID) })
}

func (s *retryingStore) LinkExternalIdentity(ctx context.Context, ident *ExternalIdentity) error {
	return retryOnceErr(ctx, "LinkExternalIdentity", func() error { return s.store.LinkExternalIdentity(ctx, ident) })
}

func (s *retryingStore) GetExternalIdentity(ctx context.Context, providerName, externalID string) (*ExternalIdentity, error) {
	return retryOnce(ctx, "GetExternalIdentity", func() (*ExternalIdentity, error) {
		return s.store.GetExternalIdentity(ctx, providerName, externalID)
	})
}

func (s *retryingStore) SetPermission(ctx context.Context, e *PermissionEntry) error {
	return retryOnceErr(ctx, "SetPermission", func() error { return s.store.SetPermission(ctx, e) })
}

func (s *retryingStore) ClearPermission(ctx context.Context, kind PrincipalKind, principalID string, resourceID int64, name string) error {
	return retryOnceErr(ctx, "ClearPermission", func() error {
		return s.store.ClearPermission(ctx, kind, principalID, resourceID, name)
	})
}

func (s *retryingStore) ListForResource(ctx context.Context, resourceID int64) ([]PermissionEntry, error) {
	return retryOnce(ctx, "ListForResource", func() ([]PermissionEntry, error) { return s.store.ListForResource(ctx, resourceID) })
}

func (s *retryingStore) ListForChain(ctx context.Context, resourceIDs []int64, name string, principals PrincipalSet) ([]PermissionEntry, error) {
	return retryOnce(ctx, "ListForChain", func() ([]PermissionEntry, error) {
		return s.store.ListForChain(ctx, resourceIDs, name, principals)
	})
}
