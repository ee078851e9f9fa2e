package resilience

import "github.com/sasasavic82/failsafe-go/registry"

// Pattern is any resilience component with a registry identity.
type Pattern interface {
	Kind() registry.Kind
	Name() string
}

// Register adds patterns to the registry under their (kind, name)
// identities. The first duplicate aborts the batch.
func Register(r *registry.Registry, patterns ...Pattern) error {
	for _, p := range patterns {
		if err := r.Register(p.Kind(), p.Name(), p); err != nil {
			return err
		}
	}
	return nil
}
