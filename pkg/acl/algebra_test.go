package acl

import "testing"

// chainFor builds the chain for one of scenario 1's requests: depth
// resources (ids 1..depth), filtered to permission name, with the
// fixture's full entry set above.
func chainFor(t *testing.T, depth int, name string) []chainNode {
	t.Helper()
	userAt := map[int64][]PermissionEntry{
		1: {{Kind: PrincipalUser, PrincipalID: "u", ResourceID: 1, Name: "write", Access: Deny, Scope: ScopeMatch}},
		2: {{Kind: PrincipalUser, PrincipalID: "u", ResourceID: 2, Name: "read", Access: Allow, Scope: ScopeRecursive}},
		4: {{Kind: PrincipalUser, PrincipalID: "u", ResourceID: 4, Name: "write", Access: Allow, Scope: ScopeRecursive}},
	}
	groupAt := map[int64][]PermissionEntry{
		1: {{Kind: PrincipalGroup, PrincipalID: "g", ResourceID: 1, Name: "write", Access: Allow, Scope: ScopeRecursive}},
		3: {{Kind: PrincipalGroup, PrincipalID: "g", ResourceID: 3, Name: "read", Access: Deny, Scope: ScopeRecursive}},
		4: {{Kind: PrincipalGroup, PrincipalID: "g", ResourceID: 4, Name: "write", Access: Deny, Scope: ScopeMatch}},
		5: {{Kind: PrincipalGroup, PrincipalID: "g", ResourceID: 5, Name: "write", Access: Deny, Scope: ScopeMatch}},
	}

	nodes := make([]chainNode, depth)
	for i := 0; i < depth; i++ {
		id := int64(i + 1)
		node := chainNode{ResourceID: id, IsTarget: i == depth-1, GroupEntries: make(map[string][]PermissionEntry)}
		for _, e := range userAt[id] {
			if e.Name == name {
				node.UserEntries = append(node.UserEntries, e)
			}
		}
		for _, e := range groupAt[id] {
			if e.Name == name {
				node.GroupEntries[e.PrincipalID] = append(node.GroupEntries[e.PrincipalID], e)
			}
		}
		nodes[i] = node
	}
	return nodes
}

func TestCombineScenario1(t *testing.T) {
	cases := []struct {
		name      string
		depth     int
		permName  string
		wantAllow bool
	}{
		{"GET /svc1", 1, "read", false},
		{"GET /svc1/R1", 2, "read", true},
		{"POST /svc1/R1", 2, "write", true},
		{"GET /svc1/R1/R2", 3, "read", false},
		{"POST /svc1/R1/R2", 3, "write", true},
		{"POST /svc1/R1/R2/R3", 4, "write", true},
		{"POST /svc1/R1/R2/R3/R4", 5, "write", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			nodes := chainFor(t, tc.depth, tc.permName)
			access, ok := combine(nodes)
			allow := ok && access == Allow
			if allow != tc.wantAllow {
				t.Errorf("combine() = (access=%v, ok=%v), want allow=%v", access, ok, tc.wantAllow)
			}
		})
	}
}

func TestCombineGroupDenyBeatsGroupAllow(t *testing.T) {
	nodes := []chainNode{
		{
			ResourceID: 1,
			IsTarget:   true,
			GroupEntries: map[string][]PermissionEntry{
				"A": {{Kind: PrincipalGroup, PrincipalID: "A", ResourceID: 1, Name: "read", Access: Allow, Scope: ScopeMatch}},
				"B": {{Kind: PrincipalGroup, PrincipalID: "B", ResourceID: 1, Name: "read", Access: Deny, Scope: ScopeMatch}},
			},
		},
	}
	access, ok := combine(nodes)
	if !ok || access != Deny {
		t.Fatalf("combine() = (%v, %v), want (deny, true)", access, ok)
	}
}

func TestCombineDefaultDeny(t *testing.T) {
	nodes := []chainNode{
		{ResourceID: 1, IsTarget: true, GroupEntries: map[string][]PermissionEntry{}},
	}
	_, ok := combine(nodes)
	if ok {
		t.Fatal("combine() on a chain with no entries should report no decision, so the caller defaults to deny")
	}
}

func TestRank(t *testing.T) {
	if rank(Deny, ScopeMatch) <= rank(Allow, ScopeMatch) {
		t.Error("deny+match must outrank allow+match")
	}
	if rank(Allow, ScopeMatch) <= rank(Deny, ScopeRecursive) {
		t.Error("allow+match must outrank deny+recursive")
	}
	if rank(Deny, ScopeRecursive) <= rank(Allow, ScopeRecursive) {
		t.Error("deny+recursive must outrank allow+recursive")
	}
}

func TestApplicableAt(t *testing.T) {
	if !applicableAt(ScopeMatch, true) {
		t.Error("match scope must apply at the target itself")
	}
	if applicableAt(ScopeMatch, false) {
		t.Error("match scope must not apply at an ancestor")
	}
	if !applicableAt(ScopeRecursive, false) {
		t.Error("recursive scope must apply at an ancestor")
	}
	if !applicableAt(ScopeRecursive, true) {
		t.Error("recursive scope must also apply at the target")
	}
}
