package acl

import (
	"context"
	"database/sql"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore implements Store over database/sql with
// github.com/mattn/go-sqlite3, for local development and the test
// suite: the same Store surface as PostgresStore without a running
// database server. It uses "?" placeholders and SQLite's own
// autoincrement/upsert syntax in place of Postgres's $N and RETURNING.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (or creates) a SQLite database file at path
// and runs the core schema against it. Pass ":memory:" for an
// ephemeral database scoped to one *sql.DB handle.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on")
	if err != nil {
		return nil, TransientStore("OpenSQLiteStore", "open failed", err)
	}
	// go-sqlite3 serializes writers internally; a single connection
	// avoids "database is locked" errors under concurrent access.
	db.SetMaxOpenConns(1)
	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(sqliteSchema)
	if err != nil {
		return Internal("migrate", "schema setup failed", err)
	}
	return nil
}

// Close releases the underlying connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) GetResource(ctx context.Context, id int64) (*Resource, error) {
	return scanResource(s.db.QueryRowContext(ctx, `
		SELECT id, resource_name, resource_type, parent_id, owner_user_id, owner_group_id, service_type, url
		FROM resources WHERE id = ?`, id))
}

func (s *SQLiteStore) GetServiceByName(ctx context.Context, name string) (*Resource, error) {
	return scanResource(s.db.QueryRowContext(ctx, `
		SELECT id, resource_name, resource_type, parent_id, owner_user_id, owner_group_id, service_type, url
		FROM resources WHERE resource_type = 'service' AND resource_name = ?`, name))
}

func (s *SQLiteStore) GetChildByName(ctx context.Context, parentID int64, name string) (*Resource, error) {
	return scanResource(s.db.QueryRowContext(ctx, `
		SELECT id, resource_name, resource_type, parent_id, owner_user_id, owner_group_id, service_type, url
		FROM resources WHERE parent_id = ? AND resource_name = ?`, parentID, name))
}

func (s *SQLiteStore) ListServices(ctx context.Context) ([]Resource, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, resource_name, resource_type, parent_id, owner_user_id, owner_group_id, service_type, url
		FROM resources WHERE resource_type = 'service' ORDER BY resource_name`)
	if err != nil {
		return nil, TransientStore("ListServices", "query failed", err)
	}
	return scanResources(rows)
}

func (s *SQLiteStore) ListChildren(ctx context.Context, parentID int64) ([]Resource, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, resource_name, resource_type, parent_id, owner_user_id, owner_group_id, service_type, url
		FROM resources WHERE parent_id = ? ORDER BY resource_name`, parentID)
	if err != nil {
		return nil, TransientStore("ListChildren", "query failed", err)
	}
	return scanResources(rows)
}

func (s *SQLiteStore) AncestorChain(ctx context.Context, id int64) ([]Resource, error) {
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

func (s *SQLiteStore) CreateResource(ctx context.Context, r *Resource) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO resources (resource_name, resource_type, parent_id, owner_user_id, owner_group_id, service_type, url)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.Name, r.Type, r.ParentID, r.OwnerUserID, r.OwnerGroupID, nullIfEmpty(r.ServiceType), nullIfEmpty(r.URL))
	if isUniqueViolation(err) {
		return Conflict("CreateResource", "name already in use among siblings", ErrDuplicateName)
	}
	if err != nil {
		return TransientStore("CreateResource", "insert failed", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return TransientStore("CreateResource", "read last insert id failed", err)
	}
	r.ID = id
	return nil
}

func (s *SQLiteStore) DeleteResource(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM resources WHERE id = ?`, id)
	if err != nil {
		return TransientStore("DeleteResource", "delete failed", err)
	}
	return nil
}

func (s *SQLiteStore) CountOwnedBy(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM resources WHERE owner_user_id = ?`, userID).Scan(&n)
	if err != nil {
		return 0, TransientStore("CountOwnedBy", "query failed", err)
	}
	return n, nil
}

func (s *SQLiteStore) ReassignOwnership(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE resources SET owner_user_id = NULL WHERE owner_user_id = ?`, userID)
	if err != nil {
		return TransientStore("ReassignOwnership", "update failed", err)
	}
	return nil
}

func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `
		SELECT id, user_name, email, active, created_at, updated_at FROM users WHERE id = ?`, id))
}

func (s *SQLiteStore) GetUserByName(ctx context.Context, userName string) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `
		SELECT id, user_name, email, active, created_at, updated_at FROM users WHERE user_name = ?`, userName))
}

func (s *SQLiteStore) ListUsers(ctx context.Context) ([]User, error) {
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

func (s *SQLiteStore) CreateUser(ctx context.Context, u *User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, user_name, email, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		u.ID, u.UserName, u.Email, u.Active, u.CreatedAt, u.UpdatedAt)
	if isUniqueViolation(err) {
		return Conflict("CreateUser", "user_name already registered", ErrDuplicateName)
	}
	if err != nil {
		return TransientStore("CreateUser", "insert failed", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateUser(ctx context.Context, u *User) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET email = ?, active = ?, updated_at = ? WHERE id = ?`,
		u.Email, u.Active, u.UpdatedAt, u.ID)
	if err != nil {
		return TransientStore("UpdateUser", "update failed", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteUser(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return TransientStore("DeleteUser", "delete failed", err)
	}
	return nil
}

func (s *SQLiteStore) GetGroup(ctx context.Context, id string) (*Group, error) {
	return scanGroup(s.db.QueryRowContext(ctx, `SELECT id, group_name, created_at FROM groups WHERE id = ?`, id))
}

func (s *SQLiteStore) GetGroupByName(ctx context.Context, name string) (*Group, error) {
	return scanGroup(s.db.QueryRowContext(ctx, `SELECT id, group_name, created_at FROM groups WHERE group_name = ?`, name))
}

func (s *SQLiteStore) ListGroups(ctx context.Context) ([]Group, error) {
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

func (s *SQLiteStore) CreateGroup(ctx context.Context, g *Group) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO groups (id, group_name, created_at) VALUES (?, ?, ?)`,
		g.ID, g.GroupName, g.CreatedAt)
	if isUniqueViolation(err) {
		return Conflict("CreateGroup", "group_name already in use", ErrDuplicateName)
	}
	if err != nil {
		return TransientStore("CreateGroup", "insert failed", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteGroup(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM groups WHERE id = ?`, id)
	if err != nil {
		return TransientStore("DeleteGroup", "delete failed", err)
	}
	return nil
}

func (s *SQLiteStore) AddMember(ctx context.Context, groupID, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO user_groups (group_id, user_id) VALUES (?, ?)`, groupID, userID)
	if err != nil {
		return TransientStore("AddMember", "insert failed", err)
	}
	return nil
}

func (s *SQLiteStore) RemoveMember(ctx context.Context, groupID, userID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM user_groups WHERE group_id = ? AND user_id = ?`, groupID, userID)
	if err != nil {
		return TransientStore("RemoveMember", "delete failed", err)
	}
	return nil
}

func (s *SQLiteStore) ListGroupMembers(ctx context.Context, groupID string) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT u.id, u.user_name, u.email, u.active, u.created_at, u.updated_at
		FROM users u JOIN user_groups ug ON u.id = ug.user_id
		WHERE ug.group_id = ? ORDER BY u.user_name`, groupID)
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

func (s *SQLiteStore) ListUserGroups(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT group_id FROM user_groups WHERE user_id = ?`, userID)
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

func (s *SQLiteStore) LinkExternalIdentity(ctx context.Context, ident *ExternalIdentity) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO external_identities (id, provider_name, external_id, local_user_id)
		VALUES (?, ?, ?, ?)`,
		ident.ID, ident.ProviderName, ident.ExternalID, ident.LocalUserID)
	if isUniqueViolation(err) {
		return Conflict("LinkExternalIdentity", "identity already linked", ErrDuplicateName)
	}
	if err != nil {
		return TransientStore("LinkExternalIdentity", "insert failed", err)
	}
	return nil
}

func (s *SQLiteStore) GetExternalIdentity(ctx context.Context, providerName, externalID string) (*ExternalIdentity, error) {
	var ident ExternalIdentity
	err := s.db.QueryRowContext(ctx, `
		SELECT id, provider_name, external_id, local_user_id FROM external_identities
		WHERE provider_name = ? AND external_id = ?`, providerName, externalID,
	).Scan(&ident.ID, &ident.ProviderName, &ident.ExternalID, &ident.LocalUserID)
	if err == sql.ErrNoRows {
		return nil, NotFound("GetExternalIdentity", "no linked identity", nil)
	}
	if err != nil {
		return nil, TransientStore("GetExternalIdentity", "query failed", err)
	}
	return &ident, nil
}

func (s *SQLiteStore) SetPermission(ctx context.Context, e *PermissionEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO permissions (id, kind, principal_id, resource_id, name, access, scope)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (kind, principal_id, resource_id, name)
		DO UPDATE SET access = excluded.access, scope = excluded.scope`,
		e.ID, e.Kind, e.PrincipalID, e.ResourceID, e.Name, e.Access, e.Scope)
	if err != nil {
		return TransientStore("SetPermission", "upsert failed", err)
	}
	return nil
}

func (s *SQLiteStore) ClearPermission(ctx context.Context, kind PrincipalKind, principalID string, resourceID int64, name string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM permissions WHERE kind = ? AND principal_id = ? AND resource_id = ? AND name = ?`,
		kind, principalID, resourceID, name)
	if err != nil {
		return TransientStore("ClearPermission", "delete failed", err)
	}
	return nil
}

func (s *SQLiteStore) ListForResource(ctx context.Context, resourceID int64) ([]PermissionEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, principal_id, resource_id, name, access, scope
		FROM permissions WHERE resource_id = ? ORDER BY name, kind, principal_id`, resourceID)
	if err != nil {
		return nil, TransientStore("ListForResource", "query failed", err)
	}
	return scanPermissionEntries(rows)
}

func (s *SQLiteStore) ListForChain(ctx context.Context, resourceIDs []int64, name string, principals PrincipalSet) ([]PermissionEntry, error) {
	if len(resourceIDs) == 0 {
		return nil, nil
	}
	principalIDs := append([]string{principals.UserID}, principals.GroupIDs...)

	args := make([]any, 0, len(resourceIDs)+len(principalIDs)+1)
	args = append(args, name)
	resPlaceholders := make([]string, len(resourceIDs))
	for i, id := range resourceIDs {
		resPlaceholders[i] = "?"
		args = append(args, id)
	}
	principalPlaceholders := make([]string, len(principalIDs))
	for i, id := range principalIDs {
		principalPlaceholders[i] = "?"
		args = append(args, id)
	}

	query := `
		SELECT id, kind, principal_id, resource_id, name, access, scope
		FROM permissions
		WHERE name = ?
		AND resource_id IN (` + strings.Join(resPlaceholders, ",") + `)
		AND principal_id IN (` + strings.Join(principalPlaceholders, ",") + `)`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, TransientStore("ListForChain", "query failed", err)
	}
	return scanPermissionEntries(rows)
}
