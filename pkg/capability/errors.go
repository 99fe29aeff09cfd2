package capability

import "github.com/pkg/errors"

// ErrProtected marks a write rejected because the target region or
// tweak is protection-locked. The dispatcher maps it to the distinct
// "protection violation" result code, separate from
// a generic per-command failure.
var ErrProtected = errors.New("capability: protected")

// IsProtected reports whether err (or any error it wraps) is ErrProtected.
func IsProtected(err error) bool {
	return errors.Is(err, ErrProtected)
}
