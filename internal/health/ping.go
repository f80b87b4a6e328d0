package health

import "context"

// HealthPinger is implemented by dependencies that can answer a cheap liveness probe
// (store, summary cache, notification producer). HealthPing returns nil when healthy.
type HealthPinger interface {
	HealthPing(ctx context.Context) error
}
