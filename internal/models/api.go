package models

type CreateRequest struct {
	Secret           string           `json:"secret"`
	Passphrase       *string          `json:"passphrase,omitempty"`
	ExpirationMethod ExpirationMethod `json:"expiration_method"`
	TTLSeconds       *int             `json:"ttl_seconds,omitempty"`
}

type CreateResponse struct {
	ID               string           `json:"id"`
	ExpiresIn        int              `json:"expires_in"`
	ExpirationMethod ExpirationMethod `json:"expiration_method"`
}

type Metadata struct {
	Exists             bool             `json:"exists"`
	RequiresPassphrase bool             `json:"requires_passphrase"`
	ExpirationMethod   ExpirationMethod `json:"expiration_method"`
}

type UnlockRequest struct {
	Passphrase *string `json:"passphrase,omitempty"`
}

type UnlockResponse struct {
	Secret string `json:"secret"`
}

type GeneratorResponse struct {
	Password string `json:"password"`
}
