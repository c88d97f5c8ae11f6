package vdir

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/mesh-intelligence/addrbook/pkg/types"
)

// prefixLengths are the candidate stem lengths, shortest first.
var prefixLengths = []int{12, 16, 20, 24, 28, 32}

// IdentifierHex returns the 32-digit hex form that names the file for uid.
// UIDs that are not UUIDs (with or without the urn:uuid: prefix) map to a
// name-based UUID so the UID itself never has to change.
func IdentifierHex(uid string) string {
	id, err := uuid.Parse(strings.TrimSpace(uid))
	if err != nil {
		id = uuid.NewSHA1(uuid.NameSpaceURL, []byte(uid))
	}
	return hex.EncodeToString(id[:])
}

// CanonicalStem picks the file stem for a record whose identifier hex is
// hexID. A current stem that is already one of the candidates is kept;
// otherwise the shortest candidate not reported by taken wins.
func CanonicalStem(hexID, current string, taken func(string) bool) (string, error) {
	current = strings.ToLower(current)
	for _, n := range prefixLengths {
		if hexID[:n] == current {
			return current, nil
		}
	}
	for _, n := range prefixLengths {
		if c := hexID[:n]; !taken(c) {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: every stem for %s is taken", types.ErrFilenameCollision, hexID)
}

// NewUID returns a fresh random identifier.
func NewUID() string {
	return uuid.NewString()
}
