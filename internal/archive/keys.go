package archive

import (
	"path"
	"strings"
)

// KeyConfig controls how archive object keys are sharded.
type KeyConfig struct {
	// Prefix is prepended verbatim to every key.
	Prefix string

	// ShardLevels is the number of hash-derived path segments.
	// Default: 2 (e.g., ab/cd/<name>)
	ShardLevels int

	// ShardWidth is the number of hash characters per segment.
	ShardWidth int
}

// DefaultKeyConfig returns two levels of two characters under prefix.
func DefaultKeyConfig(prefix string) KeyConfig {
	return KeyConfig{
		Prefix:      prefix,
		ShardLevels: 2,
		ShardWidth:  2,
	}
}

// ShardDirs returns the shard segments for a content hash, or nil when the
// hash is too short to shard.
//
//	hash: "abcdef..."
//	result: ["ab", "cd"]
func ShardDirs(cfg KeyConfig, contentHash string) []string {
	if cfg.ShardLevels <= 0 || cfg.ShardWidth <= 0 || len(contentHash) < cfg.ShardLevels*cfg.ShardWidth {
		return nil
	}

	dirs := make([]string, cfg.ShardLevels)
	offset := 0
	for i := range dirs {
		dirs[i] = contentHash[offset : offset+cfg.ShardWidth]
		offset += cfg.ShardWidth
	}
	return dirs
}

// ComputeKey places name under the shard directories of contentHash.
// Identical uploads stored as separate blobs land side by side.
//
//	prefix: "swept/", hash: "abcdef...", name: "<id>.webp"
//	result: "swept/ab/cd/<id>.webp"
func ComputeKey(cfg KeyConfig, contentHash, name string) string {
	parts := append(ShardDirs(cfg, contentHash), name)
	return cfg.Prefix + path.Join(parts...)
}

// extension derives a file extension from an image mimetype.
func extension(mimetype string) string {
	ext := strings.TrimPrefix(mimetype, "image/")
	if ext == "" || ext == mimetype || strings.Contains(ext, "/") {
		return "bin"
	}
	return ext
}
