package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/clinicore/clinicsync/internal/ierr"
	"github.com/golang-jwt/jwt/v5"
)

// Identity is the verified result of a handshake credential. It is attached
// to a connection for its whole lifetime and never re-verified per message.
type Identity struct {
	UserID   string
	Username string
	Role     string
}

type Claims struct {
	jwt.RegisteredClaims
	Username string `json:"username,omitempty"`
	Role     string `json:"role,omitempty"`
}

type Verifier struct {
	secret    []byte
	apiKeys   []string
	jwtParser *jwt.Parser
}

func NewVerifier(secret string, apiKeys []string) *Verifier {
	jwtParser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(30*time.Second),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	)

	return &Verifier{
		secret:    []byte(secret),
		apiKeys:   apiKeys,
		jwtParser: jwtParser,
	}
}

func (v *Verifier) keyFunc(token *jwt.Token) (any, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, ierr.New(ierr.ErrorCodeUnauthenticated, errors.New("unexpected signing method"))
	}
	return v.secret, nil
}

// Verify validates a bearer token and resolves the identity it carries.
func (v *Verifier) Verify(tokenString string) (Identity, error) {
	if tokenString == "" {
		return Identity{}, ierr.New(ierr.ErrorCodeUnauthenticated, errors.New("missing credential"))
	}

	claims := Claims{}

	_, err := v.jwtParser.ParseWithClaims(tokenString, &claims, v.keyFunc)
	if err != nil {
		return Identity{}, ierr.New(ierr.ErrorCodeUnauthenticated, err)
	}

	subject, err := claims.GetSubject()
	if err != nil || subject == "" {
		return Identity{}, ierr.New(ierr.ErrorCodeInvalidArgument, errors.New("invalid subject claim"))
	}

	return Identity{
		UserID:   subject,
		Username: claims.Username,
		Role:     claims.Role,
	}, nil
}

// VerifyAPIKey guards the server-to-server REST surface.
func (v *Verifier) VerifyAPIKey(apiKey string) error {
	for _, key := range v.apiKeys {
		if subtle.ConstantTimeCompare([]byte(apiKey), []byte(key)) == 1 {
			return nil
		}
	}

	return ierr.New(ierr.ErrorCodeUnauthenticated, errors.New("invalid api key"))
}

// TokenFromRequest extracts the bearer credential from the Authorization
// header or, for websocket handshakes where custom headers are awkward for
// browser clients, from the token query parameter.
func TokenFromRequest(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(header, "Bearer "); ok {
		return token
	}

	return r.URL.Query().Get("token")
}
