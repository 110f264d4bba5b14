package operations

// CachePolicy selects how ExecuteQuery/WatchQuery balance cache reads
// against network round-trips.
type CachePolicy string

const (
	// CacheFirst reads the cache and only goes to the network on a miss.
	CacheFirst CachePolicy = "cache-first"
	// CacheOnly never touches the network; a miss is CacheOnlyMiss.
	CacheOnly CachePolicy = "cache-only"
	// NetworkOnly always fetches, except during the SSR hydration window
	// where it behaves like CacheFirst to avoid an immediate re-fetch.
	NetworkOnly CachePolicy = "network-only"
	// CacheAndNetwork emits the cached value first (if any), then the
	// network result, suppressing the second emission when identical.
	CacheAndNetwork CachePolicy = "cache-and-network"
)

// Valid reports whether p is one of the four enumerated policies.
func (p CachePolicy) Valid() bool {
	switch p {
	case CacheFirst, CacheOnly, NetworkOnly, CacheAndNetwork:
		return true
	default:
		return false
	}
}

// normalizePolicy applies spec §7's dev/prod fallback for an unrecognized
// policy: development builds treat it as an invariant failure (panic);
// production builds log and fall back to the safest behavior, network-only.
func (c *Client) normalizePolicy(p CachePolicy) CachePolicy {
	if p.Valid() {
		return p
	}
	if c.isDevelopment() {
		panic(&Error{Kind: ErrPolicy, Message: "unknown cache policy: " + string(p)})
	}
	c.log.Warn("operations: unknown cache policy, falling back to network-only", "policy", string(p))
	return NetworkOnly
}
