package membership

import (
	"crypto/subtle"

	"libcirc/internal/domain"
)

// verifyPassword reports whether supplied equals the stored plaintext password of a staff
// account. Members and accounts without a password never verify.
func verifyPassword(user domain.User, supplied string) bool {
	if !user.Role.IsStaff() || user.Password == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(user.Password), []byte(supplied)) == 1
}
