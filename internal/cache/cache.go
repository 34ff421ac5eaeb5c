package cache

import "context"

// EventCache deduplicates inbound webhook deliveries. The provider redelivers
// events it thinks were lost, so the normalizer asks before persisting.
type EventCache interface {
	// FirstDelivery returns true exactly once per provider message id
	// within the cache TTL.
	FirstDelivery(ctx context.Context, providerMessageID string) (bool, error)
}
