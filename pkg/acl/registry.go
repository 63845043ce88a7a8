package acl

// ServiceTypeDef is the static, process-wide declaration for one
// service_type: the permission names it recognizes, the child-type
// rules enforced under its tree, and the parser that maps an incoming
// request onto a target resource path and a permission name.
//
// The registry is a read-only singleton built once at process start
// (Registry below); it carries no mutable state.
type ServiceTypeDef struct {
	Name string

	// PermissionNames is the closed set of permission names valid for
	// this service-type. A PermissionEntry whose Name is outside this
	// set violates the invariant in spec §3.
	PermissionNames map[string]struct{}

	// ChildTypes maps a parent resource type to the set of child
	// types permitted beneath it in this service-type's tree.
	ChildTypes map[ResourceType]map[ResourceType]struct{}

	// Parse maps an IncomingRequest to a ParsedRequest.
	Parse func(req IncomingRequest) ParsedRequest
}

// Allows reports whether name is a permission recognized by this service-type.
func (d *ServiceTypeDef) Allows(name string) bool {
	_, ok := d.PermissionNames[name]
	return ok
}

// AllowsChild reports whether childType may be created under a parent
// of type parentType in this service-type's tree.
func (d *ServiceTypeDef) AllowsChild(parentType, childType ResourceType) bool {
	children, ok := d.ChildTypes[parentType]
	if !ok {
		return false
	}
	_, ok = children[childType]
	return ok
}

func nameSet(names ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(names))
	for _, n := range names {
		m[n] = struct{}{}
	}
	return m
}

func childSet(types ...ResourceType) map[ResourceType]struct{} {
	m := make(map[ResourceType]struct{}, len(types))
	for _, t := range types {
		m[t] = struct{}{}
	}
	return m
}

// Registry is the immutable, process-wide table of known service types,
// keyed by service_type tag. It is populated once at init() and never
// mutated afterward; callers treat a nil lookup result as "unknown
// service type" (spec §4.5, §6).
var Registry = map[string]*ServiceTypeDef{}

func register(def *ServiceTypeDef) {
	Registry[def.Name] = def
}

// Lookup returns the ServiceTypeDef for a service_type tag, or nil if
// the tag is not recognized.
func Lookup(serviceType string) *ServiceTypeDef {
	return Registry[serviceType]
}

func init() {
	register(&ServiceTypeDef{
		Name:            "api",
		PermissionNames: nameSet("read", "write"),
		ChildTypes: map[ResourceType]map[ResourceType]struct{}{
			ResourceService: childSet(ResourceRoute),
			ResourceRoute:   childSet(ResourceRoute),
		},
		Parse: parseGenericAPI,
	})

	register(&ServiceTypeDef{
		Name: "geoserver-api",
		// A thin api-style wrapper reusing the generic parser; see
		// SPEC_FULL.md §4 on why this needs no new algebra.
		PermissionNames: nameSet("read", "write"),
		ChildTypes: map[ResourceType]map[ResourceType]struct{}{
			ResourceService: childSet(ResourceRoute),
			ResourceRoute:   childSet(ResourceRoute),
		},
		Parse: parseGenericAPI,
	})

	register(&ServiceTypeDef{
		Name:            "wps",
		PermissionNames: nameSet("get_capabilities", "describe_process", "execute"),
		ChildTypes: map[ResourceType]map[ResourceType]struct{}{
			ResourceService: childSet(ResourceProcess),
		},
		Parse: parseWPS,
	})

	register(&ServiceTypeDef{
		Name: "wms",
		PermissionNames: nameSet("get_capabilities", "get_map", "get_feature_info",
			"get_legend_graphic", "get_metadata"),
		ChildTypes: map[ResourceType]map[ResourceType]struct{}{
			ResourceService: childSet(ResourceWorkspace),
		},
		Parse: parseWMS,
	})

	register(&ServiceTypeDef{
		Name: "wfs",
		PermissionNames: nameSet("get_capabilities", "describe_feature_type", "get_feature",
			"lock_feature", "transaction"),
		ChildTypes: map[ResourceType]map[ResourceType]struct{}{
			ResourceService: childSet(ResourceWorkspace),
		},
		Parse: parseWFS,
	})

	register(&ServiceTypeDef{
		Name:            "thredds",
		PermissionNames: nameSet("read", "write"),
		ChildTypes: map[ResourceType]map[ResourceType]struct{}{
			ResourceService:   childSet(ResourceDirectory),
			ResourceDirectory: childSet(ResourceDirectory, ResourceFile),
		},
		Parse: parseThredds,
	})
}
