package global

import "github.com/arcflow/ratelimitd/policy"

// PolicySource resolves against whatever policy set is currently stored in
// the process-wide atomic pointer, so a reload (SetPolicySet) takes effect
// for every Engine holding one of these without reconstruction.
type PolicySource struct{}

// Resolve satisfies ratelimit.PolicySource.
func (PolicySource) Resolve(resource string) policy.Policy {
	return GetPolicySet().Resolve(resource)
}
