package model

// TokenType distinguishes the three session token flavors.
type TokenType string

const (
	// TokenBootstrap is the short-lived key-management token issued for the
	// configured bootstrap key. Only it carries the keys:manage scope.
	TokenBootstrap TokenType = "bootstrap"
	// TokenAccess is the short-lived request token.
	TokenAccess TokenType = "access"
	// TokenRefresh is the long-lived token exchanged for new access tokens.
	TokenRefresh TokenType = "refresh"
)

// TokenResponse is the wire form returned by the session endpoints.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
	// ExpiresIn is the access token lifetime in seconds.
	ExpiresIn int `json:"expires_in"`
}

// AuthContext is the verified identity produced by successful credential
// verification: the owning subject plus the scope set it was issued with.
// KeyID is the backing api_keys row (-1 for the bootstrap identity).
type AuthContext struct {
	Owner  string
	KeyID  int64
	Scopes Scopes
}
