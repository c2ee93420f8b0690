package model

// User 由身份服务维护，本地不持久化
type User struct {
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Sub       string `json:"sub,omitempty"`
}

// AuthTokens 登录成功后身份服务返回的令牌
type AuthTokens struct {
	AccessToken  string `json:"accessToken"`
	IDToken      string `json:"idToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"`
	TokenType    string `json:"tokenType"`
}

type AuthResult struct {
	Tokens AuthTokens `json:"tokens"`
	User   User       `json:"user"`
}
