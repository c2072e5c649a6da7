package queue

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/idtoken"

	apperrors "github.com/creatorscout/searchjobs/pkg/errors"
	"github.com/creatorscout/searchjobs/pkg/scheduler"
	"github.com/creatorscout/searchjobs/pkg/types"
)

const callbackURL = "https://search.example.com/tasks/search"

func sign(t *testing.T, key string, body []byte, mutate func(*qstashClaims)) string {
	t.Helper()
	sum := sha256.Sum256(body)
	claims := qstashClaims{
		Body: base64.URLEncoding.EncodeToString(sum[:]),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "Upstash",
			Subject:   callbackURL,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(5 * time.Minute)),
		},
	}
	if mutate != nil {
		mutate(&claims)
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	require.NoError(t, err)
	return token
}

func TestQStashVerifier(t *testing.T) {
	body := []byte(`{"jobId":"` + jobID + `","runCount":1}`)
	v := NewQStashVerifier("current-key", "next-key", callbackURL)

	tests := []struct {
		name   string
		header func() http.Header
		code   string
	}{
		{"current key", func() http.Header {
			return http.Header{SignatureHeader: {sign(t, "current-key", body, nil)}}
		}, ""},
		{"next key", func() http.Header {
			return http.Header{SignatureHeader: {sign(t, "next-key", body, nil)}}
		}, ""},
		{"missing header", func() http.Header { return http.Header{} }, apperrors.ErrSignatureMissing},
		{"wrong key", func() http.Header {
			return http.Header{SignatureHeader: {sign(t, "other", body, nil)}}
		}, apperrors.ErrSignatureInvalid},
		{"tampered body", func() http.Header {
			return http.Header{SignatureHeader: {sign(t, "current-key", []byte(`{}`), nil)}}
		}, apperrors.ErrSignatureInvalid},
		{"wrong subject", func() http.Header {
			return http.Header{SignatureHeader: {sign(t, "current-key", body, func(c *qstashClaims) { c.Subject = "https://evil.example.com" })}}
		}, apperrors.ErrSignatureInvalid},
		{"expired", func() http.Header {
			return http.Header{SignatureHeader: {sign(t, "current-key", body, func(c *qstashClaims) {
				c.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))
			})}}
		}, apperrors.ErrSignatureInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Verify(context.Background(), tt.header(), body)
			if tt.code == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.code, apperrors.CodeOf(err))
		})
	}
}

func TestPubSubVerifier(t *testing.T) {
	v := NewPubSubVerifier("https://search.example.com", "pusher@p.iam.gserviceaccount.com").
		WithValidator(func(ctx context.Context, token, audience string) (*idtoken.Payload, error) {
			assert.Equal(t, "https://search.example.com", audience)
			if token != "good" {
				return nil, assert.AnError
			}
			return &idtoken.Payload{Claims: map[string]any{"email": "pusher@p.iam.gserviceaccount.com"}}, nil
		})

	assert.NoError(t, v.Verify(context.Background(), http.Header{"Authorization": {"Bearer good"}}, nil))
	assert.Equal(t, apperrors.ErrSignatureMissing, apperrors.CodeOf(v.Verify(context.Background(), http.Header{}, nil)))
	assert.Equal(t, apperrors.ErrSignatureInvalid, apperrors.CodeOf(v.Verify(context.Background(), http.Header{"Authorization": {"Bearer bad"}}, nil)))

	v.ServiceAccount = "someone-else@p.iam.gserviceaccount.com"
	assert.Equal(t, apperrors.ErrSignatureInvalid, apperrors.CodeOf(v.Verify(context.Background(), http.Header{"Authorization": {"Bearer good"}}, nil)))
}

func TestQStashPublisher(t *testing.T) {
	var (
		gotPath   string
		gotHeader http.Header
		gotBody   Body
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotHeader = r.Header.Clone()
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"messageId":"msg_1"}`))
	}))
	defer srv.Close()

	p := NewQStashPublisher(QStashConfig{BaseURL: srv.URL, Token: "qs-token", Callback: callbackURL}, srv.Client())
	err := p.Publish(context.Background(), scheduler.Continuation{JobID: jobID, RunCount: 3, Delay: 11 * time.Second})
	require.NoError(t, err)

	assert.Equal(t, "/v2/publish/"+callbackURL, gotPath)
	assert.Equal(t, "Bearer qs-token", gotHeader.Get("Authorization"))
	assert.Equal(t, "11s", gotHeader.Get("Upstash-Delay"))
	assert.Equal(t, jobID+"-3", gotHeader.Get("Upstash-Deduplication-Id"))
	assert.Equal(t, jobID, gotBody.JobID)
	require.NotNil(t, gotBody.RunCount)
	assert.Equal(t, 3, *gotBody.RunCount)
	assert.Nil(t, gotBody.NotBefore)
}

func TestDeduplicationIDSeparatesRekicks(t *testing.T) {
	now := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	job := &types.Job{ID: jobID, RunCount: 3}

	lost := scheduler.Continuation{JobID: jobID, RunCount: 3, Delay: 11 * time.Second}
	first := *scheduler.Rekick(job, now)
	second := *scheduler.Rekick(job, now.Add(5*time.Minute))

	assert.Equal(t, jobID+"-3", DeduplicationID(lost))
	assert.NotEqual(t, DeduplicationID(lost), DeduplicationID(first))
	assert.NotEqual(t, DeduplicationID(first), DeduplicationID(second))
	assert.Equal(t, DeduplicationID(first), DeduplicationID(*scheduler.Rekick(job, now)))
}

func TestQStashPublisherDoesNotRetryClientErrors(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "bad destination", http.StatusBadRequest)
	}))
	defer srv.Close()

	p := NewQStashPublisher(QStashConfig{BaseURL: srv.URL, Token: "t", Callback: callbackURL}, srv.Client()).WithRetry(fastRetry)
	err := p.Publish(context.Background(), scheduler.Continuation{JobID: jobID})
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrQueuePublish))
	assert.Equal(t, 1, calls)
}
