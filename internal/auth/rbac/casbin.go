package rbac

import (
	"fmt"

	"github.com/casbin/casbin/v2"
)

// CasbinPolicy adapts a casbin enforcer to the Authorizer interface.
// Policy rows use the same subject format as Policy: "user:<email>" /
// "role:<name>", object is the permission string ("requests:approve").
type CasbinPolicy struct {
	enforcer *casbin.Enforcer
}

func NewCasbinPolicy(modelPath, policyPath string) (*CasbinPolicy, error) {
	e, err := casbin.NewEnforcer(modelPath, policyPath)
	if err != nil {
		return nil, fmt.Errorf("casbin init: %w", err)
	}
	return &CasbinPolicy{enforcer: e}, nil
}

func (c *CasbinPolicy) Can(subject, perm string) bool {
	ok, err := c.enforcer.Enforce(subject, perm)
	if err != nil {
		return false
	}
	if ok {
		return true
	}
	ok, err = c.enforcer.Enforce(subject, "*")
	return err == nil && ok
}

func (c *CasbinPolicy) AddPolicy(subject, perm string) error {
	_, err := c.enforcer.AddPolicy(subject, perm)
	return err
}

func (c *CasbinPolicy) LoadPolicy() error { return c.enforcer.LoadPolicy() }
func (c *CasbinPolicy) SavePolicy() error { return c.enforcer.SavePolicy() }
