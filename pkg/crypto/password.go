package crypto

import "golang.org/x/crypto/bcrypt"

// HashPassword derives a bcrypt hash of plain at the default cost.
func HashPassword(plain string) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
}

// ComparePassword checks plain against a stored bcrypt hash. A non-nil error
// means the password does not match.
func ComparePassword(hash []byte, plain string) error {
	return bcrypt.CompareHashAndPassword(hash, []byte(plain))
}
