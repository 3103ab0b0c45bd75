package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "test-secret"

func TestVerifier(t *testing.T) {
	v := NewVerifier(secret)

	token, err := IssueToken(secret, Identity{UserID: "u-1", Role: RoleStaff, Active: true}, time.Hour)
	require.NoError(t, err)

	id, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "u-1", id.UserID)
	assert.True(t, id.IsStaff())
	assert.True(t, id.Active)

	_, err = v.Verify("")
	assert.ErrorIs(t, err, ErrTokenMissing)

	other, err := IssueToken("other-secret", Identity{UserID: "u-1"}, time.Hour)
	require.NoError(t, err)
	_, err = v.Verify(other)
	assert.ErrorIs(t, err, ErrTokenInvalid)

	expired, err := IssueToken(secret, Identity{UserID: "u-1"}, -time.Minute)
	require.NoError(t, err)
	_, err = v.Verify(expired)
	assert.ErrorIs(t, err, ErrTokenExpired)
	assert.Equal(t, CodeTokenExpired, ErrorCode(err))
}

func TestBearerToken(t *testing.T) {
	assert.Equal(t, "abc", BearerToken("Bearer abc"))
	assert.Equal(t, "abc", BearerToken("bearer  abc "))
	assert.Equal(t, "", BearerToken("Basic abc"))
	assert.Equal(t, "", BearerToken(""))
}

func TestMiddleware(t *testing.T) {
	v := NewVerifier(secret)
	var got Identity
	var cred string
	h := Middleware(v, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = FromContext(r.Context())
		cred = CredentialFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	active, _ := IssueToken(secret, Identity{UserID: "p-1", Role: RolePlayer, Active: true}, time.Hour)
	inactive, _ := IssueToken(secret, Identity{UserID: "p-2", Role: RolePlayer, Active: false}, time.Hour)

	tests := []struct {
		name   string
		header string
		status int
		code   string
	}{
		{name: "missing token", header: "", status: http.StatusUnauthorized, code: CodeTokenMissing},
		{name: "garbage token", header: "Bearer nope", status: http.StatusUnauthorized, code: CodeTokenInvalid},
		{name: "inactive user", header: "Bearer " + inactive, status: http.StatusForbidden, code: CodeUserDeactivated},
		{name: "active user", header: "Bearer " + active, status: http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code)
			if tt.code != "" {
				assert.Contains(t, rec.Body.String(), `"code":"`+tt.code+`"`)
			}
		})
	}
	assert.Equal(t, "p-1", got.UserID)
	assert.Equal(t, active, cred)
}
