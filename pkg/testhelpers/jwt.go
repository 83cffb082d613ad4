// Package testhelpers provides utilities for testing zoku-engine components.
package testhelpers

import (
	"encoding/base64"
	"fmt"
)

// GenerateTestJWT creates an unsigned test JWT (alg: none) for use when
// verification is disabled. tier may be empty to omit the claim.
func GenerateTestJWT(sub, tier string) string {
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none","typ":"JWT"}`))

	payload := fmt.Sprintf(`{"sub":"%s","aud":"zoku-engine"`, sub)
	if tier != "" {
		payload += fmt.Sprintf(`,"tier":"%s"`, tier)
	}
	payload += "}"

	encodedPayload := base64.RawURLEncoding.EncodeToString([]byte(payload))
	return fmt.Sprintf("%s.%s.", header, encodedPayload)
}

// GenerateTestJWTWithBearer returns token with "Bearer " prefix for Authorization header.
func GenerateTestJWTWithBearer(sub, tier string) string {
	return "Bearer " + GenerateTestJWT(sub, tier)
}
