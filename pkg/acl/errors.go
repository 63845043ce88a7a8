package acl

import "fmt"

// Kind classifies a Fault into the taxonomy of §7: it lets the resolver
// collapse any non-nil outcome to deny while letting the admin API
// still render the right HTTP status.
type Kind string

const (
	KindInputValidation Kind = "input_validation"
	KindConflict        Kind = "conflict"
	KindNotFound        Kind = "not_found"
	KindPolicyViolation Kind = "policy_violation"
	KindTransientStore  Kind = "transient_store"
	KindInternal        Kind = "internal"
)

// Fault is the core's structured error: every store and resolver
// operation that can fail returns one so callers can tell Reported
// failures (surface to the caller) from Internal ones (log, fail closed).
type Fault struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (f *Fault) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %s: %v", f.Op, f.Message, f.Err)
	}
	return fmt.Sprintf("%s: %s", f.Op, f.Message)
}

func (f *Fault) Unwrap() error { return f.Err }

func newFault(kind Kind, op, message string, err error) *Fault {
	return &Fault{Kind: kind, Op: op, Message: message, Err: err}
}

// NotFound builds a Fault for a missing principal/resource reference.
func NotFound(op, message string, err error) *Fault {
	return newFault(KindNotFound, op, message, err)
}

// Conflict builds a Fault for a duplicate unique key on create.
func Conflict(op, message string, err error) *Fault {
	return newFault(KindConflict, op, message, err)
}

// InputValidation builds a Fault for malformed identifiers/lengths/enums.
func InputValidation(op, message string, err error) *Fault {
	return newFault(KindInputValidation, op, message, err)
}

// PolicyViolation builds a Fault for a disallowed child type or an
// unknown permission name for a service-type.
func PolicyViolation(op, message string, err error) *Fault {
	return newFault(KindPolicyViolation, op, message, err)
}

// TransientStore builds a Fault for a database outage or deadlock.
func TransientStore(op, message string, err error) *Fault {
	return newFault(KindTransientStore, op, message, err)
}

// Internal builds a Fault for an invariant breach.
func Internal(op, message string, err error) *Fault {
	return newFault(KindInternal, op, message, err)
}

// IsKind reports whether err is a *Fault of the given kind.
func IsKind(err error, kind Kind) bool {
	f, ok := err.(*Fault)
	return ok && f.Kind == kind
}

// Common sentinel errors for straightforward not-found/conflict cases,
// in the style of the teacher's package-level error variables.
var (
	ErrUserNotFound        = fmt.Errorf("user not found")
	ErrGroupNotFound       = fmt.Errorf("group not found")
	ErrResourceNotFound    = fmt.Errorf("resource not found")
	ErrServiceNotFound     = fmt.Errorf("service not found")
	ErrPermissionNotFound  = fmt.Errorf("permission entry not found")
	ErrDuplicateName       = fmt.Errorf("name already in use among siblings")
	ErrUnknownServiceType  = fmt.Errorf("unknown service type")
	ErrDisallowedChildType = fmt.Errorf("child resource type not permitted under this parent")
	ErrUserOwnsResources   = fmt.Errorf("user still owns resources; pass Force to reassign ownership")
)
