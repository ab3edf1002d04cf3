package port

import "context"

// ObjectStorage is the blob-store collaborator for attachment binaries.
// Put must complete before any metadata referencing the blob is committed;
// deletion and signed-URL renewal are out of scope.
type ObjectStorage interface {
	// Put writes data at path and returns a retrievable URL for it.
	// path uses forward slashes, e.g. "{conversationID}/{messageID}/{fileName}".
	Put(ctx context.Context, path string, data []byte, contentType string) (string, error)
}
