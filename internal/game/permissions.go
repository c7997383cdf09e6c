package game

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

// PermissionFile is the on-disk permissions layout.
//
//	default:
//	  - shield.use
//	ops:
//	  - Notch
//	groups:
//	  staff:
//	    - shield.*
//	users:
//	  Steve:
//	    groups: [staff]
//	    permissions: ["-shield.exempt"]
type PermissionFile struct {
	Default []string             `yaml:"default"`
	Ops     []string             `yaml:"ops"`
	Groups  map[string][]string  `yaml:"groups"`
	Users   map[string]UserEntry `yaml:"users"`
}

// UserEntry lists a user's groups and own nodes.
type UserEntry struct {
	Groups      []string `yaml:"groups"`
	Permissions []string `yaml:"permissions"`
}

// ParsePermissions decodes a permissions file.
func ParsePermissions(data []byte) (PermissionFile, error) {
	var f PermissionFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return PermissionFile{}, fmt.Errorf("parse permissions: %w", err)
	}
	return f, nil
}

// LoadPermissionFile reads and decodes the file at path.
func LoadPermissionFile(path string) (PermissionFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return PermissionFile{}, fmt.Errorf("read permissions %s: %w", path, err)
	}
	return ParsePermissions(data)
}

// ruleSet is an immutable, normalized PermissionFile.
type ruleSet struct {
	defaults []string
	ops      map[string]bool
	groups   map[string][]string
	users    map[string]UserEntry
}

func newRuleSet(f PermissionFile) *ruleSet {
	rs := &ruleSet{
		defaults: normalizeNodes(f.Default),
		ops:      make(map[string]bool, len(f.Ops)),
		groups:   make(map[string][]string, len(f.Groups)),
		users:    make(map[string]UserEntry, len(f.Users)),
	}
	for _, name := range f.Ops {
		rs.ops[strings.ToLower(name)] = true
	}
	for name, nodes := range f.Groups {
		rs.groups[strings.ToLower(name)] = normalizeNodes(nodes)
	}
	for name, u := range f.Users {
		groups := make([]string, len(u.Groups))
		for i, g := range u.Groups {
			groups[i] = strings.ToLower(g)
		}
		rs.users[strings.ToLower(name)] = UserEntry{
			Groups:      groups,
			Permissions: normalizeNodes(u.Permissions),
		}
	}
	return rs
}

func normalizeNodes(nodes []string) []string {
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		n = strings.ToLower(strings.TrimSpace(n))
		if n != "" && n != "-" {
			out = append(out, n)
		}
	}
	return out
}

// toFile converts back for copy-on-write edits.
func (rs *ruleSet) toFile() PermissionFile {
	f := PermissionFile{
		Default: append([]string(nil), rs.defaults...),
		Groups:  make(map[string][]string, len(rs.groups)),
		Users:   make(map[string]UserEntry, len(rs.users)),
	}
	for name := range rs.ops {
		f.Ops = append(f.Ops, name)
	}
	for name, nodes := range rs.groups {
		f.Groups[name] = append([]string(nil), nodes...)
	}
	for name, u := range rs.users {
		f.Users[name] = UserEntry{
			Groups:      append([]string(nil), u.Groups...),
			Permissions: append([]string(nil), u.Permissions...),
		}
	}
	return f
}

// matches reports whether pattern grants node: exact, "prefix.*" or "*".
func matches(pattern, node string) bool {
	if pattern == "*" || pattern == node {
		return true
	}
	if prefix, ok := strings.CutSuffix(pattern, ".*"); ok {
		return strings.HasPrefix(node, prefix+".")
	}
	return false
}

// evaluate checks one level of nodes. A matching negation beats a grant.
func evaluate(nodes []string, node string) (allowed, decided bool) {
	granted := false
	for _, p := range nodes {
		if neg, ok := strings.CutPrefix(p, "-"); ok {
			if matches(neg, node) {
				return false, true
			}
			continue
		}
		if matches(p, node) {
			granted = true
		}
	}
	return granted, granted
}

func (rs *ruleSet) has(user, node string) bool {
	user = strings.ToLower(user)
	node = strings.ToLower(node)

	entry, known := rs.users[user]
	if known {
		if allowed, decided := evaluate(entry.Permissions, node); decided {
			return allowed
		}
		var groupNodes []string
		for _, g := range entry.Groups {
			groupNodes = append(groupNodes, rs.groups[g]...)
		}
		if allowed, decided := evaluate(groupNodes, node); decided {
			return allowed
		}
	}
	if rs.ops[user] {
		return true
	}
	allowed, _ := evaluate(rs.defaults, node)
	return allowed
}

// PermissionManager answers permission checks. Rules are swapped atomically,
// so checks never block and a reload is visible to the next check.
type PermissionManager struct {
	rules atomic.Pointer[ruleSet]
	mu    sync.Mutex // serializes edits
}

// NewPermissionManager creates a manager with the given rules.
func NewPermissionManager(f PermissionFile) *PermissionManager {
	pm := &PermissionManager{}
	pm.rules.Store(newRuleSet(f))
	return pm
}

// Has reports whether user holds node.
func (pm *PermissionManager) Has(user, node string) bool {
	return pm.rules.Load().has(user, node)
}

// IsOp reports whether user is listed as an operator.
func (pm *PermissionManager) IsOp(user string) bool {
	return pm.rules.Load().ops[strings.ToLower(user)]
}

// Replace swaps the whole rule set.
func (pm *PermissionManager) Replace(f PermissionFile) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.rules.Store(newRuleSet(f))
}

// Grant adds nodes to user's own permissions. Prefix a node with "-" to
// deny it explicitly.
func (pm *PermissionManager) Grant(user string, nodes ...string) {
	pm.edit(user, func(u *UserEntry) {
		u.Permissions = append(u.Permissions, nodes...)
	})
}

// Revoke removes nodes (exact entries) from user's own permissions.
func (pm *PermissionManager) Revoke(user string, nodes ...string) {
	drop := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		drop[strings.ToLower(n)] = true
	}
	pm.edit(user, func(u *UserEntry) {
		kept := u.Permissions[:0]
		for _, p := range u.Permissions {
			if !drop[p] {
				kept = append(kept, p)
			}
		}
		u.Permissions = kept
	})
}

// AddToGroup puts user in group.
func (pm *PermissionManager) AddToGroup(user, group string) {
	pm.edit(user, func(u *UserEntry) {
		u.Groups = append(u.Groups, group)
	})
}

func (pm *PermissionManager) edit(user string, fn func(*UserEntry)) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	f := pm.rules.Load().toFile()
	key := strings.ToLower(user)
	entry := f.Users[key]
	fn(&entry)
	f.Users[key] = entry
	pm.rules.Store(newRuleSet(f))
}
