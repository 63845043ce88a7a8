package acl

import (
	"context"
)

// Resolver is the Effective Resolver of spec §4.6: given a principal
// set, a service name, and an already-parsed request, it walks the
// root-to-target chain and returns the final Allow/Deny.
//
// A Resolver holds no mutable state beyond its Store handle; it is
// safe for concurrent use across goroutines, matching the core's
// stateless-per-request model. Callers are expected to have already
// added the implicit anonymous group membership to PrincipalSet.GroupIDs.
type Resolver struct {
	store Store
}

// NewResolver builds a Resolver over store.
func NewResolver(store Store) *Resolver {
	return &Resolver{store: store}
}

// Resolve implements the five-step procedure of spec §4.6.
func (r *Resolver) Resolve(ctx context.Context, principals PrincipalSet, serviceName string, parsed ParsedRequest) (Decision, error) {
	if principals.IsAdmin {
		return Decision{Allow: true, ReasonCode: ReasonAdminBypass}, nil
	}

	service, err := r.store.GetServiceByName(ctx, serviceName)
	if err != nil {
		if IsKind(err, KindNotFound) {
			return Decision{Allow: false, ReasonCode: ReasonUnknownService}, nil
		}
		return Decision{}, err
	}

	def := Lookup(service.ServiceType)
	if def == nil {
		return Decision{Allow: false, ReasonCode: ReasonUnknownService}, nil
	}

	if parsed.Permission == UnknownPermission || !def.Allows(parsed.Permission) {
		return Decision{Allow: false, ReasonCode: ReasonUnknownPermission}, nil
	}

	chain, err := r.resolveChain(ctx, service, parsed.PathFromRoot)
	if err != nil {
		return Decision{}, err
	}
	target := chain[len(chain)-1]

	if ownsResource(target, principals) {
		return Decision{Allow: true, ReasonCode: ReasonOwnership}, nil
	}

	ids := make([]int64, len(chain))
	for i, res := range chain {
		ids[i] = res.ID
	}
	entries, err := r.store.ListForChain(ctx, ids, parsed.Permission, principals)
	if err != nil {
		return Decision{}, err
	}

	nodes := buildChainNodes(chain, target.ID, entries, principals)
	access, ok := combine(nodes)
	if !ok {
		return Decision{Allow: false, ReasonCode: ReasonDefaultDeny}, nil
	}
	return Decision{Allow: access == Allow, ReasonCode: ReasonPermissionEntry}, nil
}

// resolveChain walks the tree from the service root following path,
// stopping at the longest matching prefix (spec §4.6 step 2): a path
// segment with no matching child resource simply ends the walk early,
// the deepest resource found becoming the effective target.
func (r *Resolver) resolveChain(ctx context.Context, service *Resource, path []string) ([]Resource, error) {
	chain := []Resource{*service}
	current := service
	for _, name := range path {
		child, err := r.store.GetChildByName(ctx, current.ID, name)
		if err != nil {
			if IsKind(err, KindNotFound) {
				break
			}
			return nil, err
		}
		chain = append(chain, *child)
		current = child
	}
	return chain, nil
}

func ownsResource(target Resource, principals PrincipalSet) bool {
	if target.OwnerUserID != nil && *target.OwnerUserID == principals.UserID {
		return true
	}
	if target.OwnerGroupID != nil && principals.HasGroup(*target.OwnerGroupID) {
		return true
	}
	return false
}

func buildChainNodes(chain []Resource, targetID int64, entries []PermissionEntry, principals PrincipalSet) []chainNode {
	byResource := make(map[int64][]PermissionEntry, len(chain))
	for _, e := range entries {
		byResource[e.ResourceID] = append(byResource[e.ResourceID], e)
	}

	nodes := make([]chainNode, len(chain))
	for i, res := range chain {
		node := chainNode{
			ResourceID:   res.ID,
			IsTarget:     res.ID == targetID,
			GroupEntries: make(map[string][]PermissionEntry),
		}
		for _, e := range byResource[res.ID] {
			switch e.Kind {
			case PrincipalUser:
				if e.PrincipalID == principals.UserID {
					node.UserEntries = append(node.UserEntries, e)
				}
			case PrincipalGroup:
				if principals.HasGroup(e.PrincipalID) {
					node.GroupEntries[e.PrincipalID] = append(node.GroupEntries[e.PrincipalID], e)
				}
			}
		}
		nodes[i] = node
	}
	return nodes
}
