package optimistic

import (
	"strings"

	"github.com/google/uuid"
)

// TempIDPrefix marks entities that exist only locally until the remote
// confirms them.
const TempIDPrefix = "tmp_"

// NewTempID returns a unique temporary id.
func NewTempID() string {
	return TempIDPrefix + uuid.NewString()
}

// IsTemp reports whether id was issued by NewTempID.
func IsTemp(id string) bool {
	return strings.HasPrefix(id, TempIDPrefix)
}
