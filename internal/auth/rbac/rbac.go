package rbac

import "sync"

// Policy is a minimal in-memory permission store.
// Subjects are either "user:<email>" or "role:<name>"; permissions are
// "resource:action" strings, with "*" granting everything.
type Policy struct {
	mu     sync.RWMutex
	grants map[string]map[string]bool
}

func NewPolicy() *Policy { return &Policy{grants: map[string]map[string]bool{}} }

func (p *Policy) Grant(subject, perm string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.grants[subject]
	if !ok {
		m = map[string]bool{}
		p.grants[subject] = m
	}
	m[perm] = true
}

func (p *Policy) Can(subject, perm string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	m, ok := p.grants[subject]
	if !ok {
		return false
	}
	return m[perm] || m["*"]
}

// Authorizer is the permission check used by the HTTP layer.
type Authorizer interface {
	Can(subject, perm string) bool
}
