// Package acl implements the access-control core for the gateway: the
// resource tree, users/groups/principals, permission entries, the
// permission algebra, the per-service-type request parsers, and the
// effective-access resolver. Transport, persistence driver selection,
// and credential issuance are external collaborators that consume this
// package through the Store and API interfaces.
package acl

import (
	"time"
)

// ResourceType is the closed set of node types in a resource tree.
type ResourceType string

const (
	ResourceService   ResourceType = "service"
	ResourceDirectory ResourceType = "directory"
	ResourceFile      ResourceType = "file"
	ResourceWorkspace ResourceType = "workspace"
	ResourceRoute     ResourceType = "route"
	ResourceProcess   ResourceType = "process"
)

// Resource is a node in a per-service tree.
//
// Invariants: a resource whose Type is ResourceService has no ParentID;
// every non-service resource has a parent whose type permits it as a
// child (see ServiceTypeDef.ChildTypes); (ParentID, Name) is unique
// among siblings.
type Resource struct {
	ID          int64        `json:"id" db:"id"`
	Name        string       `json:"resource_name" db:"resource_name"`
	Type        ResourceType `json:"resource_type" db:"resource_type"`
	ParentID    *int64       `json:"parent_id" db:"parent_id"`
	OwnerUserID *string      `json:"owner_user_id" db:"owner_user_id"`
	OwnerGroupID *string     `json:"owner_group_id" db:"owner_group_id"`

	// Service-only columns; populated only when Type == ResourceService.
	ServiceType string `json:"service_type,omitempty" db:"service_type"`
	URL         string `json:"url,omitempty" db:"url"`
}

// IsService reports whether the resource is a service root.
func (r *Resource) IsService() bool {
	return r.Type == ResourceService
}

// User is a principal with a unique user name.
type User struct {
	ID        string    `json:"id" db:"id"`
	UserName  string    `json:"user_name" db:"user_name"`
	Email     string    `json:"email" db:"email"`
	Active    bool      `json:"active" db:"active"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Group is a named collection of users.
type Group struct {
	ID        string    `json:"id" db:"id"`
	GroupName string    `json:"group_name" db:"group_name"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Well-known group names, process-wide constants.
const (
	GroupAnonymous      = "anonymous"
	GroupAdministrators = "administrators"
)

// ExternalIdentity links an external auth provider's account to a local user.
type ExternalIdentity struct {
	ID           string `json:"id" db:"id"`
	ProviderName string `json:"provider_name" db:"provider_name"`
	ExternalID   string `json:"external_id" db:"external_id"`
	LocalUserID  string `json:"local_user_id" db:"local_user_id"`
}

// Access is the decision carried by a PermissionEntry.
type Access string

const (
	Allow Access = "allow"
	Deny  Access = "deny"
)

// Scope controls whether an entry applies only to its resource or also
// to its descendants.
type Scope string

const (
	ScopeMatch     Scope = "match"
	ScopeRecursive Scope = "recursive"
)

// PrincipalKind distinguishes a user-attached entry from a group-attached one.
type PrincipalKind string

const (
	PrincipalUser  PrincipalKind = "user"
	PrincipalGroup PrincipalKind = "group"
)

// PermissionEntry grants or denies a named operation to a user or a
// group on one resource. At most one entry exists per
// (principal, resource, name) triple.
type PermissionEntry struct {
	ID         string        `json:"id" db:"id"`
	Kind       PrincipalKind `json:"kind" db:"kind"`
	PrincipalID string       `json:"principal_id" db:"principal_id"`
	ResourceID int64         `json:"resource_id" db:"resource_id"`
	Name       string        `json:"name" db:"name"`
	Access     Access        `json:"access" db:"access"`
	Scope      Scope         `json:"scope" db:"scope"`
}

// PrincipalSet is the resolved identity of a request: a user id, the
// group ids it belongs to (including the implicit anonymous
// membership), and whether it carries the administrators bypass.
type PrincipalSet struct {
	UserID   string
	GroupIDs []string
	IsAdmin  bool
}

// HasGroup reports whether the principal set includes the given group id.
func (p PrincipalSet) HasGroup(groupID string) bool {
	for _, g := range p.GroupIDs {
		if g == groupID {
			return true
		}
	}
	return false
}

// Decision is the outcome of resolving a request.
type Decision struct {
	Allow      bool   `json:"allow"`
	ReasonCode string `json:"reason_code"`
}

// Well-known reason codes surfaced on the gateway call-in, for observability.
const (
	ReasonAdminBypass     = "admin_bypass"
	ReasonOwnership       = "ownership"
	ReasonPermissionEntry = "permission_entry"
	ReasonDefaultDeny     = "default_deny"
	ReasonUnknownService  = "unknown_service"
	ReasonUnknownPermission = "unknown_permission"
	ReasonInternalError   = "internal_error"
)

// ParsedRequest is the output of a service-type's request parser: the
// chain of resource names from the service root to the effective
// target, and the permission name being requested.
type ParsedRequest struct {
	PathFromRoot []string
	Permission   string
}

// UnknownPermission is the sentinel permission name a parser returns
// when the incoming request doesn't match its expected shape.
const UnknownPermission = "unknown"

// IncomingRequest is the gateway's wire-agnostic view of an inbound call.
type IncomingRequest struct {
	Method string
	Path   string // path segments after the service's mount point
	Query  map[string][]string
	Body   []byte // only consulted by parsers that read a body (WPS Execute)
}
