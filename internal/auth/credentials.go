// ABOUTME: Static credential set loaded from a TOML file
// ABOUTME: Passwords are stored as bcrypt hashes, verified in constant-time fashion

package auth

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"golang.org/x/crypto/bcrypt"
)

// BcryptCost is the work factor for newly hashed passwords.
const BcryptCost = 12

// dummyHash keeps verification cost uniform for unknown usernames so a
// missing user is not distinguishable from a wrong password by timing.
var dummyHash = []byte("$2a$12$C6UzMDM.H6dfI/f/IKcEeO5RxKGyZ0pmXnLwyzzW0mvEDpQq7mJ2y")

// Credentials maps usernames to bcrypt password hashes.
type Credentials map[string]string

// credentialsFile is the on-disk TOML shape:
//
//	[users]
//	addyya = "$2a$12$..."
type credentialsFile struct {
	Users map[string]string `toml:"users"`
}

// LoadCredentials reads the credential set from a TOML file.
func LoadCredentials(path string) (Credentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading credentials file: %w", err)
	}

	var f credentialsFile
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing credentials file: %w", err)
	}
	if len(f.Users) == 0 {
		return nil, fmt.Errorf("credentials file %s defines no users", path)
	}

	return Credentials(f.Users), nil
}

// Verify reports whether password matches the stored hash for username.
// Unknown usernames still pay the bcrypt comparison cost.
func (c Credentials) Verify(username, password string) bool {
	hash, ok := c[username]
	if !ok {
		bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// HashPassword produces a bcrypt hash suitable for the credentials file.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("password must not be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), BcryptCost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	return string(hash), nil
}
