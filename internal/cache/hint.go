package cache

import "risk-view-engine/internal/domain"

// CacheSelectHint decides whether a value goes to the node-local (private)
// store or the cluster-wide (shared) store. It is either a blanket choice or
// an explicit list of specifications with the opposite placement as default.
type CacheSelectHint struct {
	listPrivate bool
	specs       map[string]struct{}
}

// AllPrivate places every value in the private store.
func AllPrivate() CacheSelectHint {
	return CacheSelectHint{listPrivate: false}
}

// AllShared places every value in the shared store.
func AllShared() CacheSelectHint {
	return CacheSelectHint{listPrivate: true}
}

// PrivateValues places the listed values in the private store and everything
// else in the shared store.
func PrivateValues(specs ...domain.ValueSpecification) CacheSelectHint {
	return CacheSelectHint{listPrivate: true, specs: keySet(specs)}
}

// SharedValues places the listed values in the shared store and everything
// else in the private store.
func SharedValues(specs ...domain.ValueSpecification) CacheSelectHint {
	return CacheSelectHint{listPrivate: false, specs: keySet(specs)}
}

// IsPrivate reports whether spec belongs in the private store.
func (h CacheSelectHint) IsPrivate(spec domain.ValueSpecification) bool {
	_, listed := h.specs[spec.Key()]
	if h.listPrivate {
		return listed
	}
	return !listed
}

func keySet(specs []domain.ValueSpecification) map[string]struct{} {
	set := make(map[string]struct{}, len(specs))
	for _, s := range specs {
		set[s.Key()] = struct{}{}
	}
	return set
}
