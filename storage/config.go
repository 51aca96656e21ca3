package storage

// Config selects which storage adapter to use at runtime.
type Config struct {
	// Backend: "sqlite" (default) or "memory".
	Backend string `json:"backend" yaml:"backend"`

	// DSN for the storage backend. For sqlite this is a file path or
	// ":memory:"; the default keeps everything in-process.
	DSN string `json:"dsn" yaml:"dsn"`
}
