package tenant

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// SourceKind is the type of data stored in a collection. Conversations use
// a collection distinct from memory logs and mental notes.
type SourceKind string

const (
	// KindMemory stores memory log embeddings.
	KindMemory SourceKind = "memory"

	// KindMentalNote stores mental note embeddings.
	KindMentalNote SourceKind = "mental_note"

	// KindConversation stores conversation embeddings.
	KindConversation SourceKind = "conversation"
)

// NamingVersion identifies the collection naming scheme. Collections record
// it in metadata; mixing versions in one deployment fails startup validation.
const NamingVersion = "v1"

// hashLength is the number of hex characters kept from the tenant hash.
const hashLength = 16

// Valid reports whether k is a known source kind.
func (k SourceKind) Valid() bool {
	switch k {
	case KindMemory, KindMentalNote, KindConversation:
		return true
	}
	return false
}

// CollectionName returns the vector store collection for a tenant and kind.
//
// Format: semantix_{kind}_{hex16} where hex16 is the first 16 hex characters
// of sha256("v1|" + user_id + "|" + project_id + "|" + kind). The function is
// pure: the same inputs always produce the same name across restarts.
func CollectionName(key Key, kind SourceKind) (string, error) {
	if err := key.Validate(); err != nil {
		return "", err
	}
	if !kind.Valid() {
		return "", fmt.Errorf("unknown source kind: %q", kind)
	}

	sum := sha256.Sum256([]byte(NamingVersion + "|" + key.UserID + "|" + key.ProjectID + "|" + string(kind)))
	return fmt.Sprintf("semantix_%s_%s", kind, hex.EncodeToString(sum[:])[:hashLength]), nil
}

// AllCollectionNames returns the collection names for every source kind.
func AllCollectionNames(key Key) ([]string, error) {
	kinds := []SourceKind{KindMemory, KindMentalNote, KindConversation}
	names := make([]string, 0, len(kinds))
	for _, kind := range kinds {
		name, err := CollectionName(key, kind)
		if err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, nil
}
