// Package fileid derives deterministic document ids for files ingested from disk.
package fileid

import (
	"path/filepath"
	"strconv"

	"github.com/google/uuid"
)

// namespace scopes every id minted here so they never collide with random upload ids.
var namespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("pagerag:file"))

// PathID returns a stable id for an absolute path. The same path always yields the same id.
func PathID(absolutePath string) string {
	return uuid.NewSHA1(namespace, []byte(filepath.Clean(absolutePath))).String()
}

// RevisionID identifies one version of a file: the same path with a different
// modification time or size yields a new id. Vectors are append-only, so a
// changed file is ingested as a new document and the old revision retired.
func RevisionID(absolutePath string, modTimeUnixNano, size int64) string {
	name := filepath.Clean(absolutePath) + "\x00" +
		strconv.FormatInt(modTimeUnixNano, 10) + "\x00" +
		strconv.FormatInt(size, 10)
	return uuid.NewSHA1(namespace, []byte(name)).String()
}

// ScopedRevisionID is the document id of the n-th ingest of a file revision
// into scope. Ids are unique across scopes, and a revision that was deleted
// and ingested again moves to the next generation so it never reuses the id
// its retired registry row holds.
func ScopedRevisionID(scope, absolutePath string, modTimeUnixNano, size int64, generation int) string {
	name := scope + "\x00" + RevisionID(absolutePath, modTimeUnixNano, size) + "\x00" + strconv.Itoa(generation)
	return uuid.NewSHA1(namespace, []byte(name)).String()
}
