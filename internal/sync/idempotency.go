package sync

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/voxlane/crm-connector/internal/domain"
)

// idempotencyDigest computes the dedup key for one remote write.  Two calls
// carrying the same addressing and the same canonicalized payload produce the
// same digest, so a retried write collapses onto the stored result.  Map keys
// are serialized in sorted order by encoding/json, which is what makes the
// payload canonical.
func idempotencyDigest(workspace domain.WorkspaceID, provider domain.Provider, objectType domain.ObjectType, operation string, localID domain.LocalID, fields map[string]interface{}) (string, error) {

	canonical, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("unable to canonicalize payload: %w", err)
	}

	hash := sha256.New()
	fmt.Fprintf(hash, "%s|%s|%s|%s|%s|", workspace, provider, objectType, operation, localID)
	hash.Write(canonical)

	return hex.EncodeToString(hash.Sum(nil)), nil
}
