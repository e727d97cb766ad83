package api

import (
	"errors"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"
)

var (
	errMissingAuthorization = errors.New("missing authorization header")
	errBadAuthorization     = errors.New("bad auth header")
)

// AuthConfig carries everything token validation needs. Exactly one of JWKS
// or TestSecret must be set; TestSecret switches the validator to HS256 for
// local development and tests.
type AuthConfig struct {
	JWKS       *keyfunc.JWKS
	Audience   string
	Issuer     string
	TestSecret []byte
}

// Auth validates incoming JWT tokens.
type Auth struct {
	cfg    AuthConfig
	parser *jwt.Parser
}

// NewAuth creates a new Auth instance from explicit configuration.
func NewAuth(cfg AuthConfig) *Auth {
	method := "RS256"
	if len(cfg.TestSecret) > 0 {
		method = "HS256"
	}
	return &Auth{
		cfg:    cfg,
		parser: jwt.NewParser(jwt.WithValidMethods([]string{method}), jwt.WithoutClaimsValidation()),
	}
}

// UserIDFromAuthHeader extracts the user identifier from the Authorization header.
func (a *Auth) UserIDFromAuthHeader(h string) (string, error) {
	token, err := bearerToken(h)
	if err != nil {
		return "", err
	}
	return a.userIDFromToken(token)
}

func bearerToken(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errMissingAuthorization
	}
	parts := strings.SplitN(raw, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errBadAuthorization
	}
	token := strings.TrimSpace(parts[1])
	if strings.Count(token, ".") != 2 {
		return "", errBadAuthorization
	}
	return token, nil
}

func (a *Auth) userIDFromToken(tokenStr string) (string, error) {
	var token *jwt.Token
	var err error
	if len(a.cfg.TestSecret) > 0 {
		token, err = a.parser.Parse(tokenStr, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.New("invalid signing method")
			}
			return a.cfg.TestSecret, nil
		})
	} else {
		if a.cfg.JWKS == nil {
			return "", errors.New("jwks not configured")
		}
		token, err = a.parser.Parse(tokenStr, a.cfg.JWKS.Keyfunc)
	}
	if err != nil {
		return "", err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", errors.New("invalid claims")
	}

	// Allow a minute of clock skew.
	now := time.Now().Add(time.Minute).Unix()
	if !claims.VerifyExpiresAt(now, true) {
		return "", errors.New("token expired")
	}
	if !claims.VerifyNotBefore(now, false) {
		return "", errors.New("token not valid yet")
	}
	if a.cfg.Audience != "" && !claims.VerifyAudience(a.cfg.Audience, false) {
		return "", errors.New("invalid audience")
	}
	if a.cfg.Issuer != "" && !claims.VerifyIssuer(a.cfg.Issuer, false) {
		return "", errors.New("invalid issuer")
	}
	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", errors.New("missing sub")
	}

	return sub, nil
}
