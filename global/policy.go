package global

import (
	"sync/atomic"

	"github.com/arcflow/ratelimitd/policy"
)

func defaultPolicySet() *atomic.Value {
	v := &atomic.Value{}
	empty, err := policy.Build(policy.Policy{Pattern: "*", Kind: policy.Exact, MaxTokens: 0, Window: 1, Priority: 0}, nil)
	if err != nil {
		panic("failed to build default empty global policy set: " + err.Error())
	}
	v.Store(empty)
	return v
}

var globalPolicySet = defaultPolicySet()

// SetPolicySet atomically swaps the process-wide policy set. Readers observe
// either the old or the new set, never a torn one.
func SetPolicySet(s *policy.Set) {
	globalPolicySet.Store(s)
}

// GetPolicySet returns the current process-wide policy set.
func GetPolicySet() *policy.Set {
	return globalPolicySet.Load().(*policy.Set)
}
