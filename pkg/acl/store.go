package acl

import (
	"context"
	"database/sql"
	"strings"

	_ "github.com/lib/pq"
)

// ResourceStore persists the resource forest: services and the nodes
// beneath them.
type ResourceStore interface {
	GetResource(ctx context.Context, id int64) (*Resource, error)
	GetServiceByName(ctx context.Context, name string) (*Resource, error)
	GetChildByName(ctx context.Context, parentID int64, name string) (*Resource, error)
	ListServices(ctx context.Context) ([]Resource, error)
	ListChildren(ctx context.Context, parentID int64) ([]Resource, error)

	// AncestorChain returns the resource and every ancestor up to and
	// including its owning service, ordered root-first (service at
	// index 0, the resource itself last).
	AncestorChain(ctx context.Context, id int64) ([]Resource, error)

	CreateResource(ctx context.Context, r *Resource) error
	DeleteResource(ctx context.Context, id int64) error

	// CountOwnedBy returns how many resources carry userID as owner,
	// used by DeleteUser to enforce spec §4.7's ownership guard.
	CountOwnedBy(ctx context.Context, userID string) (int, error)

	// ReassignOwnership clears owner_user_id on every resource owned by
	// userID, used by a forced DeleteUser.
	ReassignOwnership(ctx context.Context, userID string) error
}

// PrincipalStore persists users, groups, and group membership.
type PrincipalStore interface {
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByName(ctx context.Context, userName string) (*User, error)
	ListUsers(ctx context.Context) ([]User, error)
	CreateUser(ctx context.Context, u *User) error
	UpdateUser(ctx context.Context, u *User) error
	DeleteUser(ctx context.Context, id string) error

	GetGroup(ctx context.Context, id string) (*Group, error)
	GetGroupByName(ctx context.Context, name string) (*Group, error)
	ListGroups(ctx context.Context) ([]Group, error)
	CreateGroup(ctx context.Context, g *Group) error
	DeleteGroup(ctx context.Context, id string) error

	AddMember(ctx context.Context, groupID, userID string) error
	RemoveMember(ctx context.Context, groupID, userID string) error
	ListGroupMembers(ctx context.Context, groupID string) ([]User, error)

	// ListUserGroups returns the group ids of userID's stored memberships,
	// including the anonymous group row that user creation adds.
	ListUserGroups(ctx context.Context, userID string) ([]string, error)

	// LinkExternalIdentity records an SSO/OAuth account against a local
	// user (SPEC_FULL.md's ambient external-identity linking).
	LinkExternalIdentity(ctx context.Context, ident *ExternalIdentity) error
	GetExternalIdentity(ctx context.Context, providerName, externalID string) (*ExternalIdentity, error)
}

// PermissionStore persists permission entries.
type PermissionStore interface {
	// SetPermission upserts the single entry for (kind, principalID,
	// resourceID, name).
	SetPermission(ctx context.Context, e *PermissionEntry) error

	// ClearPermission removes the entry for (kind, principalID,
	// resourceID, name) if present; absence is not an error.
	ClearPermission(ctx context.Context, kind PrincipalKind, principalID string, resourceID int64, name string) error

	ListForResource(ctx context.Context, resourceID int64) ([]PermissionEntry, error)

	// ListForChain returns every entry attached to any of resourceIDs
	// for the given permission name, scoped to the supplied principal
	// set (the user id and its group ids). The resolver groups the
	// result by resource id and principal kind itself.
	ListForChain(ctx context.Context, resourceIDs []int64, name string, principals PrincipalSet) ([]PermissionEntry, error)
}

// Store is the full persistence surface the core depends on.
type Store interface {
	ResourceStore
	PrincipalStore
	PermissionStore
}

// PostgresStore implements Store over database/sql with lib/pq,
// following the teacher's query style: plain SQL text, $N
// placeholders, sql.ErrNoRows mapped to a package sentinel.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an already-open *sql.DB. The caller owns the
// connection's lifecycle; run the migrations in migrations.go first.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) GetResource(ctx context.Context, id int64) (*Resource, error) {
	return scanResource(s.db.QueryRowContext(ctx, `
		SELECT id, resource_name, resource_type, parent_id, owner_user_id, owner_group_id, service_type, url
		FROM resources WHERE id = $1`, id))
}

func (s *PostgresStore) GetServiceByName(ctx context.Context, name string) (*Resource, error) {
	return scanResource(s.db.QueryRowContext(ctx, `
		SELECT id, resource_name, resource_type, parent_id, owner_user_id, owner_group_id, service_type, url
		FROM resources WHERE resource_type = 'service' AND resource_name = $1`, name))
}

func (s *PostgresStore) GetChildByName(ctx context.Context, parentID int64, name string) (*Resource, error) {
	return scanResource(s.db.QueryRowContext(ctx, `
		SELECT id, resource_name, resource_type, parent_id, owner_user_id, owner_group_id, service_type, url
		FROM resources WHERE parent_id = $1 AND resource_name = $2`, parentID, name))
}

func (s *PostgresStore) ListServices(ctx context.Context) ([]Resource, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, resource_name, resource_type, parent_id, owner_user_id, owner_group_id, service_type, url
		FROM resources WHERE resource_type = 'service' ORDER BY resource_name`)
	if err != nil {
		return nil, TransientStore("ListServices", "query failed", err)
	}
	return scanResources(rows)
}

func (s *PostgresStore) ListChildren(ctx context.Context, parentID int64) ([]Resource, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, resource_name, resource_type, parent_id, owner_user_id, owner_group_id, service_type, url
		FROM resources WHERE parent_id = $1 ORDER BY resource_name`, parentID)
	if err != nil {
		return nil, TransientStore("ListChildren", "query failed", err)
	}
	return scanResources(rows)
}

// AncestorChain walks parent_id pointers in Go rather than a
// recursive CTE, matching the teacher's preference for plain queries
// over database-specific SQL extensions.
func (s *PostgresStore) AncestorChain(ctx context.Context, id int64) ([]Resource, error) {
	var chain []Resource
	cur := id
	for {
		r, err := s.GetResource(ctx, cur)
		if err != nil {
			return nil, err
		}
		chain = append(chain, *r)
		if r.ParentID == nil {
			break
		}
		cur = *r.ParentID
	}
	reverse(chain)
	return chain, nil
}

func reverse(chain []Resource) {
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
}

func (s *PostgresStore) CreateResource(ctx context.Context, r *Resource) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO resources (resource_name, resource_type, parent_id, owner_user_id, owner_group_id, service_type, url)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		r.Name, r.Type, r.ParentID, r.OwnerUserID, r.OwnerGroupID, nullIfEmpty(r.ServiceType), nullIfEmpty(r.URL),
	).Scan(&r.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return Conflict("CreateResource", "name already in use among siblings", ErrDuplicateName)
		}
		return TransientStore("CreateResource", "insert failed", err)
	}
	return nil
}

func (s *PostgresStore) DeleteResource(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM resources WHERE id = $1`, id)
	if err != nil {
		return TransientStore("DeleteResource", "delete failed", err)
	}
	return nil
}

func (s *PostgresStore) CountOwnedBy(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM resources WHERE owner_user_id = $1`, userID).Scan(&n)
	if err != nil {
		return 0, TransientStore("CountOwnedBy", "query failed", err)
	}
	return n, nil
}

func (s *PostgresStore) ReassignOwnership(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE resources SET owner_user_id = NULL WHERE owner_user_id = $1`, userID)
	if err != nil {
		return TransientStore("ReassignOwnership", "update failed", err)
	}
	return nil
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `
		SELECT id, user_name, email, active, created_at, updated_at FROM users WHERE id = $1`, id))
}

func (s *PostgresStore) GetUserByName(ctx context.Context, userName string) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `
		SELECT id, user_name, email, active, created_at, updated_at FROM users WHERE user_name = $1`, userName))
}

func (s *PostgresStore) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_name, email, active, created_at, updated_at FROM users ORDER BY user_name`)
	if err != nil {
		return nil, TransientStore("ListUsers", "query failed", err)
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.UserName, &u.Email, &u.Active, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, TransientStore("ListUsers", "scan failed", err)
		}
		out = append(out, u)
	}
	return out, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, u *User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, user_name, email, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		u.ID, u.UserName, u.Email, u.Active, u.CreatedAt, u.UpdatedAt)
	if isUniqueViolation(err) {
		return Conflict("CreateUser", "user_name already registered", ErrDuplicateName)
	}
	if err != nil {
		return TransientStore("CreateUser", "insert failed", err)
	}
	return nil
}

func (s *PostgresStore) UpdateUser(ctx context.Context, u *User) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET email = $2, active = $3, updated_at = $4 WHERE id = $1`,
		u.ID, u.Email, u.Active, u.UpdatedAt)
	if err != nil {
		return TransientStore("UpdateUser", "update failed", err)
	}
	return nil
}

func (s *PostgresStore) DeleteUser(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return TransientStore("DeleteUser", "delete failed", err)
	}
	return nil
}

func (s *PostgresStore) GetGroup(ctx context.Context, id string) (*Group, error) {
	return scanGroup(s.db.QueryRowContext(ctx, `
		SELECT id, group_name, created_at FROM groups WHERE id = $1`, id))
}

func (s *PostgresStore) GetGroupByName(ctx context.Context, name string) (*Group, error) {
	return scanGroup(s.db.QueryRowContext(ctx, `
		SELECT id, group_name, created_at FROM groups WHERE group_name = $1`, name))
}

func (s *PostgresStore) ListGroups(ctx context.Context) ([]Group, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, group_name, created_at FROM groups ORDER BY group_name`)
	if err != nil {
		return nil, TransientStore("ListGroups", "query failed", err)
	}
	defer rows.Close()

	var out []Group
	for rows.Next() {
		var g Group
		if err := rows.Scan(&g.ID, &g.GroupName, &g.CreatedAt); err != nil {
			return nil, TransientStore("ListGroups", "scan failed", err)
		}
		out = append(out, g)
	}
	return out, nil
}

func (s *PostgresStore) CreateGroup(ctx context.Context, g *Group) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO groups (id, group_name, created_at) VALUES ($1, $2, $3)`,
		g.ID, g.GroupName, g.CreatedAt)
	if isUniqueViolation(err) {
		return Conflict("CreateGroup", "group_name already in use", ErrDuplicateName)
	}
	if err != nil {
		return TransientStore("CreateGroup", "insert failed", err)
	}
	return nil
}

func (s *PostgresStore) DeleteGroup(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM groups WHERE id = $1`, id)
	if err != nil {
		return TransientStore("DeleteGroup", "delete failed", err)
	}
	return nil
}

func (s *PostgresStore) AddMember(ctx context.Context, groupID, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_groups (group_id, user_id) VALUES ($1, $2)
		ON CONFLICT (group_id, user_id) DO NOTHING`, groupID, userID)
	if err != nil {
		return TransientStore("AddMember", "insert failed", err)
	}
	return nil
}

func (s *PostgresStore) RemoveMember(ctx context.Context, groupID, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM user_groups WHERE group_id = $1 AND user_id = $2`, groupID, userID)
	if err != nil {
		return TransientStore("RemoveMember", "delete failed", err)
	}
	return nil
}

func (s *PostgresStore) ListGroupMembers(ctx context.Context, groupID string) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT u.id, u.user_name, u.email, u.active, u.created_at, u.updated_at
		FROM users u JOIN user_groups ug ON u.id = ug.user_id
		WHERE ug.group_id = $1 ORDER BY u.user_name`, groupID)
	if err != nil {
		return nil, TransientStore("ListGroupMembers", "query failed", err)
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.UserName, &u.Email, &u.Active, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, TransientStore("ListGroupMembers", "scan failed", err)
		}
		out = append(out, u)
	}
	return out, nil
}

func (s *PostgresStore) ListUserGroups(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT group_id FROM user_groups WHERE user_id = $1`, userID)
	if err != nil {
		return nil, TransientStore("ListUserGroups", "query failed", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, TransientStore("ListUserGroups", "scan failed", err)
		}
		out = append(out, id)
	}
	return out, nil
}

func (s *PostgresStore) LinkExternalIdentity(ctx context.Context, ident *ExternalIdentity) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO external_identities (id, provider_name, external_id, local_user_id)
		VALUES ($1, $2, $3, $4)`,
		ident.ID, ident.ProviderName, ident.ExternalID, ident.LocalUserID)
	if isUniqueViolation(err) {
		return Conflict("LinkExternalIdentity", "identity already linked", ErrDuplicateName)
	}
	if err != nil {
		return TransientStore("LinkExternalIdentity", "insert failed", err)
	}
	return nil
}

func (s *PostgresStore) GetExternalIdentity(ctx context.Context, providerName, externalID string) (*ExternalIdentity, error) {
	var ident ExternalIdentity
	err := s.db.QueryRowContext(ctx, `
		SELECT id, provider_name, external_id, local_user_id FROM external_identities
		WHERE provider_name = $1 AND external_id = $2`, providerName, externalID,
	).Scan(&ident.ID, &ident.ProviderName, &ident.ExternalID, &ident.LocalUserID)
	if err == sql.ErrNoRows {
		return nil, NotFound("GetExternalIdentity", "no linked identity", nil)
	}
	if err != nil {
		return nil, TransientStore("GetExternalIdentity", "query failed", err)
	}
	return &ident, nil
}

func (s *PostgresStore) SetPermission(ctx context.Context, e *PermissionEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO permissions (id, kind, principal_id, resource_id, name, access, scope)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (kind, principal_id, resource_id, name)
		DO UPDATE SET access = EXCLUDED.access, scope = EXCLUDED.scope`,
		e.ID, e.Kind, e.PrincipalID, e.ResourceID, e.Name, e.Access, e.Scope)
	if err != nil {
		return TransientStore("SetPermission", "upsert failed", err)
	}
	return nil
}

func (s *PostgresStore) ClearPermission(ctx context.Context, kind PrincipalKind, principalID string, resourceID int64, name string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM permissions WHERE kind = $1 AND principal_id = $2 AND resource_id = $3 AND name = $4`,
		kind, principalID, resourceID, name)
	if err != nil {
		return TransientStore("ClearPermission", "delete failed", err)
	}
	return nil
}

func (s *PostgresStore) ListForResource(ctx context.Context, resourceID int64) ([]PermissionEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, principal_id, resource_id, name, access, scope
		FROM permissions WHERE resource_id = $1 ORDER BY name, kind, principal_id`, resourceID)
	if err != nil {
		return nil, TransientStore("ListForResource", "query failed", err)
	}
	return scanPermissionEntries(rows)
}

func (s *PostgresStore) ListForChain(ctx context.Context, resourceIDs []int64, name string, principals PrincipalSet) ([]PermissionEntry, error) {
	if len(resourceIDs) == 0 {
		return nil, nil
	}

	principalIDs := append([]string{principals.UserID}, principals.GroupIDs...)

	placeholders := make([]string, len(resourceIDs))
	args := make([]any, 0, len(resourceIDs)+len(principalIDs)+1)
	args = append(args, name)
	for i, id := range resourceIDs {
		placeholders[i] = placeholder(i + 2)
		args = append(args, id)
	}
	principalPlaceholders := make([]string, len(principalIDs))
	for i, id := range principalIDs {
		principalPlaceholders[i] = placeholder(i + 2 + len(resourceIDs))
		args = append(args, id)
	}

	query := `
		SELECT id, kind, principal_id, resource_id, name, access, scope
		FROM permissions
		WHERE name = $1
		AND resource_id IN (` + strings.Join(placeholders, ",") + `)
		AND principal_id IN (` + strings.Join(principalPlaceholders, ",") + `)`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, TransientStore("ListForChain", "query failed", err)
	}
	return scanPermissionEntries(rows)
}

func placeholder(n int) string {
	return "$" + itoa(n)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := make([]byte, 0, 4)
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

func scanResource(row *sql.Row) (*Resource, error) {
	var r Resource
	var parentID sql.NullInt64
	var ownerUser, ownerGroup, serviceType, url sql.NullString
	err := row.Scan(&r.ID, &r.Name, &r.Type, &parentID, &ownerUser, &ownerGroup, &serviceType, &url)
	if err == sql.ErrNoRows {
		return nil, NotFound("GetResource", "no such resource", ErrResourceNotFound)
	}
	if err != nil {
		return nil, TransientStore("GetResource", "scan failed", err)
	}
	if parentID.Valid {
		r.ParentID = &parentID.Int64
	}
	if ownerUser.Valid {
		r.OwnerUserID = &ownerUser.String
	}
	if ownerGroup.Valid {
		r.OwnerGroupID = &ownerGroup.String
	}
	r.ServiceType = serviceType.String
	r.URL = url.String
	return &r, nil
}

func scanResources(rows *sql.Rows) ([]Resource, error) {
	defer rows.Close()
	var out []Resource
	for rows.Next() {
		var r Resource
		var parentID sql.NullInt64
		var ownerUser, ownerGroup, serviceType, url sql.NullString
		if err := rows.Scan(&r.ID, &r.Name, &r.Type, &parentID, &ownerUser, &ownerGroup, &serviceType, &url); err != nil {
			return nil, TransientStore("ListResources", "scan failed", err)
		}
		if parentID.Valid {
			r.ParentID = &parentID.Int64
		}
		if ownerUser.Valid {
			r.OwnerUserID = &ownerUser.String
		}
		if ownerGroup.Valid {
			r.OwnerGroupID = &ownerGroup.String
		}
		r.ServiceType = serviceType.String
		r.URL = url.String
		out = append(out, r)
	}
	return out, nil
}

func scanUser(row *sql.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.UserName, &u.Email, &u.Active, &u.CreatedAt, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, NotFound("GetUser", "no such user", ErrUserNotFound)
	}
	if err != nil {
		return nil, TransientStore("GetUser", "scan failed", err)
	}
	return &u, nil
}

func scanGroup(row *sql.Row) (*Group, error) {
	var g Group
	err := row.Scan(&g.ID, &g.GroupName, &g.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, NotFound("GetGroup", "no such group", ErrGroupNotFound)
	}
	if err != nil {
		return nil, TransientStore("GetGroup", "scan failed", err)
	}
	return &g, nil
}

func scanPermissionEntries(rows *sql.Rows) ([]PermissionEntry, error) {
	defer rows.Close()
	var out []PermissionEntry
	for rows.Next() {
		var e PermissionEntry
		if err := rows.Scan(&e.ID, &e.Kind, &e.PrincipalID, &e.ResourceID, &e.Name, &e.Access, &e.Scope); err != nil {
			return nil, TransientStore("ListPermissions", "scan failed", err)
		}
		out = append(out, e)
	}
	return out, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// isUniqueViolation recognizes a Postgres unique_violation (SQLSTATE
// 23505) without importing pq's error type directly, so the same
// helper also covers the sqlite backend's distinct error shape.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "23505") || strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "UNIQUE constraint")
}
