package http

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	jwt "github.com/dgrijalva/jwt-go"
)

func TestCheckAuth(t *testing.T) {
	testfn := http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		sub := req.Context().Value(keyReqSub).(string)
		respbody := map[string]string{
			"sub": sub,
		}

		buf, _ := json.Marshal(respbody)
		rw.Write(buf)
	})

	jwtsecret := []byte("valid")
	srv := &Server{
		jwtsecret: jwtsecret,
	}

	handler := srv.checkAuth(testfn)

	// RETURNING UNAUTHORIZED
	// request with no authorization header
	reqNoHeader := httptest.NewRequest("", "http://test", nil)

	// request with invalid format "$VALIDTOKEN"
	reqNoBearer := httptest.NewRequest("", "http://test", nil)
	token := gentoken(time.Now().Add(15*time.Minute), jwtsecret, jwt.SigningMethodHS256)
	reqNoBearer.Header.Set("Authorization", token)

	// request with format "Bearer $INVALID_TOKEN"
	reqInvalidBearer := httptest.NewRequest("", "http://test", nil)
	reqInvalidBearer.Header.Set("Authorization", "Bearer INVALID")

	// request with different signature
	reqBadSignature := httptest.NewRequest("", "http://test", nil)
	token = gentoken(time.Now().Add(15*time.Minute), []byte("bad"), jwt.SigningMethodHS256)
	reqBadSignature.Header.Set("Authorization", "Bearer "+token)

	// request with expired token
	reqExpiredToken := httptest.NewRequest("", "http://test", nil)
	token = gentoken(time.Now().Add(-1*time.Minute), jwtsecret, jwt.SigningMethodHS256)
	reqExpiredToken.Header.Set("Authorization", "Bearer "+token)

	// RETURNING AUTHORIZED
	// request with valid token
	reqValidToken := httptest.NewRequest("", "http://test", nil)
	token = gentoken(time.Now().Add(15*time.Minute), jwtsecret, jwt.SigningMethodHS256)
	reqValidToken.Header.Set("Authorization", "Bearer "+token)

	type result struct {
		status int
		body   map[string]string
	}

	tests := []struct {
		label    string
		req      *http.Request
		expected result
	}{
		{
			label: "no header",
			req:   reqNoHeader,
			expected: result{
				status: http.StatusUnauthorized,
				body: map[string]string{
					"error": "missing bearer token",
				},
			},
		},
		{
			label: "no bearer",
			req:   reqNoBearer,
			expected: result{
				status: http.StatusUnauthorized,
				body: map[string]string{
					"error": "missing bearer token",
				},
			},
		},
		{
			label: "invalid bearer",
			req:   reqInvalidBearer,
			expected: result{
				status: http.StatusUnauthorized,
				body: map[string]string{
					"error": "token contains an invalid number of segments",
				},
			},
		},
		{
			label: "bad signature",
			req:   reqBadSignature,
			expected: result{
				status: http.StatusUnauthorized,
				body: map[string]string{
					"error": "signature is invalid",
				},
			},
		},
		{
			label: "expired token",
			req:   reqExpiredToken,
			expected: result{
				status: http.StatusUnauthorized,
				body: map[string]string{
					"error": "token is expired by",
				},
			},
		},
		{
			label: "valid token",
			req:   reqValidToken,
			expected: result{
				status: http.StatusOK,
				body: map[string]string{
					"sub": "user@test",
				},
			},
		},
	}

	for _, test := range tests {
		t.Run(test.label, func(t *testing.T) {
			rw := httptest.NewRecorder()

			handler(rw, test.req)
			resp := rw.Result()

			var actual result
			actual.status = resp.StatusCode
			body, err := io.ReadAll(resp.Body)
			if err != nil {
				t.Fatalf("got error reading response body: %v", err)
			}

			err = json.Unmarshal(body, &actual.body)
			if err != nil {
				t.Fatalf("got error unmarshaling response body: %v", err)
			}

			if test.expected.status != actual.status {
				t.Fatalf("expected status %v, got %v",
					test.expected.status,
					actual.status,
				)
			}

			if len(test.expected.body) != len(actual.body) {
				t.Fatalf("expected body: %+v\n\ngot: %+v\n\n",
					test.expected.body,
					actual.body,
				)
			}

			// Expiry messages carry the elapsed time, so values are
			// compared as prefixes.
			for k, v := range test.expected.body {
				got, ok := actual.body[k]
				if !ok || !strings.HasPrefix(got, v) {
					t.Fatalf("expected body: %+v\n\ngot: %+v\n\n",
						test.expected.body,
						actual.body,
					)
				}
			}
		})
	}
}

func TestHandleAuth(t *testing.T) {
	srv := NewServer(":9001", make(chan []byte), newMemStore(t), testSecret)

	tests := []struct {
		label  string
		body   map[string]string
		status int
	}{
		{
			label:  "valid credentials",
			body:   map[string]string{"email": "user@test", "password": "pass"},
			status: http.StatusOK,
		},
		{
			label:  "wrong password",
			body:   map[string]string{"email": "user@test", "password": "nope"},
			status: http.StatusUnauthorized,
		},
		{
			label:  "missing password",
			body:   map[string]string{"email": "user@test"},
			status: http.StatusBadRequest,
		},
	}

	for _, test := range tests {
		t.Run(test.label, func(t *testing.T) {
			resp := do(t, srv, http.MethodPost, "/auth", test.body, "")
			if resp.StatusCode != test.status {
				t.Fatalf("expected status %v, got %v", test.status, resp.StatusCode)
			}
		})
	}
}

func TestIssuedTokenIsAccepted(t *testing.T) {
	srv := NewServer(":9001", make(chan []byte), newMemStore(t), testSecret)

	resp := do(t, srv, http.MethodPost, "/auth", map[string]string{
		"email":    "user@test",
		"password": "pass",
	}, "")

	var body map[string]string
	decode(t, resp, &body)

	token := body["token"]
	if token == "" {
		t.Fatalf("expected a token, got %+v", body)
	}

	claims := &jwt.StandardClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return []byte(testSecret), nil
	})
	if err != nil {
		t.Fatalf("expected nil error parsing token, got %v", err)
	}

	if claims.Subject != "user@test" {
		t.Fatalf("expected subject user@test, got %v", claims.Subject)
	}

	ttl := time.Until(time.Unix(claims.ExpiresAt, 0))
	if ttl < 23*time.Hour || ttl > 24*time.Hour {
		t.Fatalf("expected token to expire in a day, got %v", ttl)
	}

	resp = do(t, srv, http.MethodGet, "/pipelines", nil, token)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status %v, got %v", http.StatusOK, resp.StatusCode)
	}
}
