package models

// AuthStatusResponse represents the authentication status of a user and whether
// the server can serve AI features at all.
type AuthStatusResponse struct {
	IsAuthenticated     bool     `json:"isAuthenticated"`
	UserID              string   `json:"userId"`
	IsSetupComplete     bool     `json:"isSetupComplete"`
	ConfiguredProviders []string `json:"configuredProviders"`
}

// ErrorResponse is the JSON body of a failed API call.
type ErrorResponse struct {
	Error string `json:"error"`
}
