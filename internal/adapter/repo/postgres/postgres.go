//go:build ignore

// Package postgres provides PostgreSQL database adapters.
//
// It implements repository interfaces for data persistence.
// The package provides type-safe database operations with
// connection pooling and transaction support.
package postgres

// Legacy stub file intentionally ignored by the Go build.
// Real implementations live in: conn.go, pool.go, products_repo.go, locations_repo.go,
// suppliers_repo.go, offers_repo.go, demand_repo.go, runs_repo.go, cleanup.go
