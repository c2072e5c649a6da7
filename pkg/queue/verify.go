package queue

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"google.golang.org/api/idtoken"

	apperrors "github.com/creatorscout/searchjobs/pkg/errors"
)

// Verifier checks that an inbound delivery really came from the queue.
type Verifier interface {
	Verify(ctx context.Context, header http.Header, body []byte) error
}

// NoopVerifier accepts everything. Local transport only.
type NoopVerifier struct{}

func (NoopVerifier) Verify(context.Context, http.Header, []byte) error { return nil }

// SignatureHeader carries the QStash signing JWT.
const SignatureHeader = "Upstash-Signature"

// QStashVerifier validates the HS256 JWT the HTTP queue signs each delivery
// with. Either the current or the next signing key may have been used.
type QStashVerifier struct {
	currentKey []byte
	nextKey    []byte
	// URL is the expected subject claim; empty skips the check.
	URL    string
	Leeway time.Duration
}

func NewQStashVerifier(currentKey, nextKey, url string) *QStashVerifier {
	return &QStashVerifier{
		currentKey: []byte(currentKey),
		nextKey:    []byte(nextKey),
		URL:        url,
		Leeway:     time.Minute,
	}
}

type qstashClaims struct {
	Body string `json:"body"`
	jwt.RegisteredClaims
}

func (v *QStashVerifier) Verify(ctx context.Context, header http.Header, body []byte) error {
	token := header.Get(SignatureHeader)
	if token == "" {
		return apperrors.New(apperrors.ErrSignatureMissing, "missing "+SignatureHeader+" header")
	}

	var lastErr error
	for _, key := range [][]byte{v.currentKey, v.nextKey} {
		if len(key) == 0 {
			continue
		}
		if err := v.verifyWithKey(token, key, body); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	if lastErr == nil {
		lastErr = apperrors.New(apperrors.ErrSignatureInvalid, "no signing key configured")
	}
	return lastErr
}

func (v *QStashVerifier) verifyWithKey(token string, key, body []byte) error {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer("Upstash"),
		jwt.WithLeeway(v.Leeway),
		jwt.WithExpirationRequired(),
	}
	if v.URL != "" {
		opts = append(opts, jwt.WithSubject(v.URL))
	}

	var claims qstashClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) { return key, nil }, opts...)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrSignatureInvalid, "signature rejected")
	}

	sum := sha256.Sum256(body)
	want := base64.RawURLEncoding.EncodeToString(sum[:])
	if strings.TrimRight(claims.Body, "=") != want {
		return apperrors.New(apperrors.ErrSignatureInvalid, "body hash mismatch")
	}
	return nil
}

// ValidateFunc validates a Google-signed ID token.
type ValidateFunc func(ctx context.Context, token, audience string) (*idtoken.Payload, error)

// PubSubVerifier validates the OIDC token Pub/Sub attaches to push requests.
type PubSubVerifier struct {
	Audience string
	// ServiceAccount, when set, must match the token's email claim.
	ServiceAccount string
	validate       ValidateFunc
}

func NewPubSubVerifier(audience, serviceAccount string) *PubSubVerifier {
	return &PubSubVerifier{Audience: audience, ServiceAccount: serviceAccount, validate: idtoken.Validate}
}

// WithValidator swaps the token validator.
func (v *PubSubVerifier) WithValidator(fn ValidateFunc) *PubSubVerifier {
	v.validate = fn
	return v
}

func (v *PubSubVerifier) Verify(ctx context.Context, header http.Header, body []byte) error {
	auth := header.Get("Authorization")
	token, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok || token == "" {
		return apperrors.New(apperrors.ErrSignatureMissing, "missing bearer token")
	}

	payload, err := v.validate(ctx, token, v.Audience)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrSignatureInvalid, "push token rejected")
	}
	if v.ServiceAccount != "" {
		email, _ := payload.Claims["email"].(string)
		if email != v.ServiceAccount {
			return apperrors.Newf(apperrors.ErrSignatureInvalid, "push token issued to %q", email)
		}
	}
	return nil
}
