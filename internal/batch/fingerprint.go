package batch

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/spherical-ai/catalog-engine/internal/catalog"
)

// Fingerprint hashes a vehicle's reconcile input. Equal fingerprints mean a
// rerun would produce the same catalog entry.
func Fingerprint(sections []catalog.RawSection, entry catalog.CatalogEntry) (string, error) {
	data, err := json.Marshal(struct {
		Sections []catalog.RawSection `json:"sections"`
		Entry    catalog.CatalogEntry `json:"entry"`
	}{sections, entry})
	if err != nil {
		return "", fmt.Errorf("fingerprint: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
