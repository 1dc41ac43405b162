package identity

import (
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
)

// Config holds identity configuration. An empty secret disables token
// verification.
type Config struct {
	JWTSecret string `yaml:"-"`
	SecretRef string `yaml:"jwt_secret_ref"`
	Issuer    string `yaml:"issuer"`
}

// Resolver extracts the caller's user id from a verified bearer token.
// It never rejects a request.
type Resolver struct {
	secret []byte
	issuer string
	logger *logrus.Logger
}

// NewResolver creates a resolver
func NewResolver(config Config, logger *logrus.Logger) *Resolver {
	return &Resolver{
		secret: []byte(config.JWTSecret),
		issuer: config.Issuer,
		logger: logger,
	}
}

// Enabled reports whether tokens are verified
func (r *Resolver) Enabled() bool {
	return r != nil && len(r.secret) > 0
}

// UserID returns the verified subject, or "" when there is no usable token
func (r *Resolver) UserID(req *http.Request) string {
	if !r.Enabled() {
		return ""
	}

	token := extractToken(req)
	if token == "" {
		return ""
	}

	subject, err := r.Verify(token)
	if err != nil {
		r.logger.WithError(err).Debug("Ignoring unverifiable bearer token")
		return ""
	}
	return subject
}

// Verify validates an HS256 token and returns its subject
func (r *Resolver) Verify(tokenString string) (string, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if r.issuer != "" {
		opts = append(opts, jwt.WithIssuer(r.issuer))
	}

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return r.secret, nil
	}, opts...)
	if err != nil {
		return "", err
	}
	if !token.Valid {
		return "", errors.New("invalid JWT token")
	}
	if claims.Subject == "" {
		return "", errors.New("token has no subject")
	}
	return claims.Subject, nil
}

func extractToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	}
	return ""
}
