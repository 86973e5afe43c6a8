package crypto

import (
	"regexp"

	"github.com/google/uuid"
)

// Canonical random (version 4, RFC 4122 variant) UUID in lowercase.
var idPattern = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)

func GenerateID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

func ValidID(id string) bool {
	return idPattern.MatchString(id)
}
