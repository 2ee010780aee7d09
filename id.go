package pernai

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// SourceNamespace derives the deterministic namespace id for a source
// filename: the md5 hex digest of the lower-cased name. Re-ingesting the
// same filename always reproduces the same namespace, which is what makes
// delete-then-insert replacement idempotent. Two distinct filenames whose
// digests collide would corrupt each other's chunk sets; that is an
// accepted risk of hashing the name alone.
func SourceNamespace(filename string) string {
	sum := md5.Sum([]byte(strings.ToLower(filename)))
	return hex.EncodeToString(sum[:])
}

// ChunkID builds the id for the chunk at ordinal within a namespace.
func ChunkID(namespace string, ordinal int) string {
	return fmt.Sprintf("%s-%d", namespace, ordinal)
}

// NewRequestID generates a time-ordered unique id for request tracking.
func NewRequestID() string {
	return uuid.Must(uuid.NewV7()).String()
}
