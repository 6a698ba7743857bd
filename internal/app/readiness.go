// Package app wires application components and startup helpers.
//
// It provides dependency injection and application initialization.
// The package coordinates between different layers and provides
// a clean application bootstrap process.
package app

import (
	"context"
	"fmt"

	"github.com/supplychainopt/decision-pipeline/internal/config"
)

// Pinger is the minimal interface for a database pool capable of Ping.
type Pinger interface {
	Ping(ctx context.Context) error
}

// BuildReadinessChecks returns the two readiness checks mounted on
// /readyz: the Postgres pool and the Kafka/Redpanda broker.
func BuildReadinessChecks(_ config.Config, pool Pinger, queue Pinger) (
	func(ctx context.Context) error,
	func(ctx context.Context) error,
) {
	dbCheck := func(ctx context.Context) error {
		if pool == nil {
			return fmt.Errorf("db not configured")
		}
		return pool.Ping(ctx)
	}
	queueCheck := func(ctx context.Context) error {
		if queue == nil {
			return fmt.Errorf("queue not configured")
		}
		return queue.Ping(ctx)
	}
	return dbCheck, queueCheck
}
