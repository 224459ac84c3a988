// Package contenthash provides the deterministic digests and ids that make
// embedding regeneration idempotent.
package contenthash

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// namespace scopes chunk ids generated by this package.
var namespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("hondana:chapter-chunk"))

// Of returns the lowercase hex SHA-256 of text. Same text always yields the same hash.
func Of(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// OfParts hashes parts joined by a unit separator, so ("ab","c") and ("a","bc") differ.
func OfParts(parts ...string) string {
	return Of(strings.Join(parts, "\x1f"))
}

// Matches reports whether stored is the hash of text.
func Matches(stored, text string) bool {
	return stored != "" && stored == Of(text)
}

// ChunkID returns a stable id for the chunk at index of a chapter with the given chunk hash.
func ChunkID(chapterID string, index int, chunkHash string) string {
	name := chapterID + "/" + strconv.Itoa(index) + "/" + chunkHash
	return uuid.NewSHA1(namespace, []byte(name)).String()
}
