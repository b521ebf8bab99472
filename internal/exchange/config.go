package exchange

// Retention selects which reauth material is kept after a successful login.
type Retention uint8

const (
	// RetainCookies keeps provider cookies and never keeps the password.
	RetainCookies Retention = iota
	// RetainPassword keeps a sealed password when the login did not need MFA.
	RetainPassword
)

func (r Retention) String() string {
	if r == RetainPassword {
		return "password"
	}
	return "cookies"
}

// Endpoints locate the provider's protocol steps.
type Endpoints struct {
	AuthURL         string
	AuthorizeURL    string
	UserInfoURL     string
	EntitlementsURL string
	RegionURL       string

	ClientID    string
	RedirectURI string
	UserAgent   string

	// LoginPathPrefix marks a reauth redirect that rejects the cookies.
	LoginPathPrefix string
}

// DefaultEndpoints returns the production provider endpoints.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		AuthURL:         "https://auth.riotgames.com/api/v1/authorization",
		AuthorizeURL:    "https://auth.riotgames.com/authorize?redirect_uri=https%3A%2F%2Fplayvalorant.com%2Fopt_in&client_id=play-valorant-web-prod&response_type=token%20id_token&nonce=1&scope=account%20openid",
		UserInfoURL:     "https://auth.riotgames.com/userinfo",
		EntitlementsURL: "https://entitlements.auth.riotgames.com/api/token/v1",
		RegionURL:       "https://riot-geo.pas.si.riotgames.com/pas/v1/product/valorant",
		ClientID:        "play-valorant-web-prod",
		RedirectURI:     "https://playvalorant.com/opt_in",
		UserAgent:       "RiotClient/63.0.9.4909983.4789131 rso-auth (Windows;10;;Professional, x64)",
		LoginPathPrefix: "/login",
	}
}

// Config configures an [Exchanger].
type Config struct {
	Endpoints Endpoints
	Retention Retention
}
