package config

import "strings"

// Environment identifies the runtime environment where wgg operates.
type Environment string

const (
	// EnvDev marks the development environment.
	EnvDev Environment = "dev"
	// EnvStaging marks the staging environment.
	EnvStaging Environment = "staging"
	// EnvProd marks the production environment.
	EnvProd Environment = "prod"
)

// Adapter selects the transport used to reach a vendor.
type Adapter string

const (
	// AdapterREST talks to a vendor gateway serving normalized JSON.
	AdapterREST Adapter = "rest"
	// AdapterFake serves a deterministic in-memory catalog.
	AdapterFake Adapter = "fake"
)

// SnapshotBackend selects where warm-start snapshots are persisted.
type SnapshotBackend string

const (
	// BackendNone disables snapshots.
	BackendNone SnapshotBackend = "none"
	// BackendFile writes snapshots to a local file.
	BackendFile SnapshotBackend = "file"
	// BackendPostgres stores snapshots as a JSONB document.
	BackendPostgres SnapshotBackend = "postgres"
	// BackendRedis stores snapshots under a single key.
	BackendRedis SnapshotBackend = "redis"
)

// Codec selects the encoding used by the file snapshot backend.
type Codec string

const (
	CodecJSON    Codec = "json"
	CodecMsgpack Codec = "msgpack"
	CodecCBOR    Codec = "cbor"
)

func normalizeKeyword(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}
