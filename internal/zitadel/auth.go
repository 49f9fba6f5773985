package zitadel

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/smol-labs/homelab-bootstrap/internal/errors"
)

const assertionLifetime = time.Hour

// ParseServiceAccountKey decodes the machine-key JSON from the
// zitadel-admin-sa Secret.
func ParseServiceAccountKey(data []byte) (*ServiceAccountKey, error) {
	var key ServiceAccountKey
	if err := json.Unmarshal(data, &key); err != nil {
		return nil, errors.NewParsingError("cannot parse service account key", err, nil)
	}
	if key.UserID == "" || key.Key == "" {
		return nil, errors.NewValidationError("service account key is missing userId or key", nil)
	}
	return &key, nil
}

// signAssertion builds the RS256 JWT assertion the token endpoint expects:
// issuer and subject are the service account's user id, audience is the
// API origin.
func signAssertion(key *ServiceAccountKey, audience string, now time.Time) (string, error) {
	privateKey, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(key.Key))
	if err != nil {
		return "", errors.NewParsingError("cannot parse service account private key", err, nil)
	}

	claims := jwt.RegisteredClaims{
		Issuer:    key.UserID,
		Subject:   key.UserID,
		Audience:  jwt.ClaimStrings{audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(assertionLifetime)),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = key.KeyID

	signed, err := token.SignedString(privateKey)
	if err != nil {
		return "", errors.NewInternalError("cannot sign assertion", err)
	}
	return signed, nil
}

// exchangeToken trades the signed assertion for a management API bearer token
// at /oauth/v2/token.
func exchangeToken(ctx context.Context, httpClient *http.Client, baseURL string, key *ServiceAccountKey) (string, error) {
	assertion, err := signAssertion(key, baseURL, time.Now())
	if err != nil {
		return "", err
	}

	form := url.Values{}
	form.Set("grant_type", "urn:ietf:params:oauth:grant-type:jwt-bearer")
	form.Set("scope", "openid urn:zitadel:iam:org:project:id:zitadel:aud")
	form.Set("assertion", assertion)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/oauth/v2/token",
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", errors.NewInternalError("cannot create token request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := httpClient.Do(req)
	if err != nil {
		return "", errors.NewCLIError("token exchange failed", err, map[string]interface{}{
			"url": baseURL + "/oauth/v2/token",
		})
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errors.NewInternalError("cannot read token response", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", errors.NewAuthenticationError("token exchange rejected",
			errors.NewCLIError("unexpected status", nil, map[string]interface{}{
				"status": resp.StatusCode,
				"body":   string(body),
			}))
	}

	var token tokenResponse
	if err := json.Unmarshal(body, &token); err != nil {
		return "", errors.NewParsingError("cannot parse token response", err, nil)
	}
	if token.AccessToken == "" {
		return "", errors.NewAuthenticationError("token response contained no access token", nil)
	}
	return token.AccessToken, nil
}
