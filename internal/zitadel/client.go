package zitadel

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/smol-labs/homelab-bootstrap/internal/errors"
	"github.com/smol-labs/homelab-bootstrap/internal/logging"
)

// groupsClaimScript is installed as a complement-token action so group
// memberships show up as a "groups" claim in tokens Argo CD receives.
const groupsClaimScript = `function groupsClaim(ctx, api) {
  if (ctx.v1.user.grants === undefined || ctx.v1.user.grants.count == 0) {
    return;
  }
  let grants = [];
  ctx.v1.user.grants.grants.forEach((claim) => {
    claim.roles.forEach((role) => {
      grants.push(role);
    });
  });
  api.v1.claims.setClaim("groups", grants);
}`

// Client talks to the Zitadel management API with a service-account bearer
// token obtained via JWT profile auth.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	logger     *logrus.Logger
}

// NewClient authenticates against the Zitadel instance at baseURL (scheme
// included) using the given machine key and returns a ready client.
func NewClient(ctx context.Context, baseURL string, key *ServiceAccountKey, tlsVerify bool) (*Client, error) {
	httpClient := &http.Client{
		Timeout: 30 * time.Second,
	}
	if !tlsVerify {
		httpClient.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}

	token, err := exchangeToken(ctx, httpClient, baseURL, key)
	if err != nil {
		return nil, err
	}

	return &Client{
		httpClient: httpClient,
		baseURL:    baseURL,
		token:      token,
		logger:     logging.GetLogger(),
	}, nil
}

// doRequest performs an authenticated HTTP request against the management API
func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}) ([]byte, error) {
	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, errors.NewInternalError("failed to marshal request body", err)
		}
		reqBody = bytes.NewBuffer(jsonBody)
	}

	requestURL := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, requestURL, reqBody)
	if err != nil {
		return nil, errors.NewInternalError("failed to create request", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	c.logger.WithFields(map[string]interface{}{
		"method": method,
		"url":    requestURL,
	}).Debug("Making Zitadel API request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.NewCLIError("failed to execute request", err, map[string]interface{}{
			"method": method,
			"url":    requestURL,
		})
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.NewInternalError("failed to read response body", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.WithFields(map[string]interface{}{
			"status": resp.StatusCode,
			"body":   string(responseBody),
		}).Error("Zitadel API request failed")

		switch resp.StatusCode {
		case http.StatusUnauthorized:
			return nil, errors.NewAuthenticationError("authentication failed", fmt.Errorf("status code: %d", resp.StatusCode))
		case http.StatusNotFound:
			return nil, errors.NewNotFoundError("resource not found", map[string]interface{}{
				"path":   path,
				"status": resp.StatusCode,
			})
		case http.StatusConflict:
			return nil, errors.NewConflictError("resource already exists", map[string]interface{}{
				"path":   path,
				"status": resp.StatusCode,
			})
		default:
			return nil, errors.NewCLIError("API request failed", fmt.Errorf("status code: %d", resp.StatusCode), map[string]interface{}{
				"status": resp.StatusCode,
				"body":   string(responseBody),
				"path":   path,
			})
		}
	}

	return responseBody, nil
}

// CreateProject registers a management project and returns its id.
func (c *Client) CreateProject(ctx context.Context, name string) (string, error) {
	req := createProjectRequest{
		Name:                   name,
		ProjectRoleAssertion:   true,
		PrivateLabelingSetting: "PRIVATE_LABELING_SETTING_UNSPECIFIED",
	}
	body, err := c.doRequest(ctx, http.MethodPost, "/management/v1/projects", req)
	if err != nil {
		return "", err
	}

	var resp createProjectResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", errors.NewParsingError("failed to parse project response", err, nil)
	}
	return resp.ID, nil
}

// GetProjectByName searches projects by exact name.
func (c *Client) GetProjectByName(ctx context.Context, name string) (*Project, error) {
	req := projectSearchRequest{
		Queries: []projectQuery{{
			NameQuery: nameQuery{Name: name, Method: "TEXT_QUERY_METHOD_EQUALS"},
		}},
	}
	body, err := c.doRequest(ctx, http.MethodPost, "/management/v1/projects/_search", req)
	if err != nil {
		return nil, err
	}

	var resp projectSearchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, errors.NewParsingError("failed to parse project search response", err, nil)
	}
	if len(resp.Result) == 0 {
		return nil, errors.NewNotFoundError("project not found", map[string]interface{}{
			"project": name,
		})
	}
	return &resp.Result[0], nil
}

// CreateOIDCApp registers a web OIDC application in the project. The returned
// client secret exists only in this response, the caller must store it.
func (c *Client) CreateOIDCApp(ctx context.Context, projectID, name string, redirectURIs, logoutURIs []string) (*OIDCApp, error) {
	req := createOIDCAppRequest{
		Name:                     name,
		RedirectURIs:             redirectURIs,
		PostLogoutRedirectURIs:   logoutURIs,
		ResponseTypes:            []string{"OIDC_RESPONSE_TYPE_CODE"},
		GrantTypes:               []string{"OIDC_GRANT_TYPE_AUTHORIZATION_CODE"},
		AppType:                  "OIDC_APP_TYPE_WEB",
		AuthMethodType:           "OIDC_AUTH_METHOD_TYPE_BASIC",
		AccessTokenType:          "OIDC_TOKEN_TYPE_BEARER",
		AccessTokenRoleAssertion: true,
		IDTokenRoleAssertion:     true,
		IDTokenUserinfoAssertion: true,
	}
	path := fmt.Sprintf("/management/v1/projects/%s/apps/oidc", projectID)
	body, err := c.doRequest(ctx, http.MethodPost, path, req)
	if err != nil {
		return nil, err
	}

	var app OIDCApp
	if err := json.Unmarshal(body, &app); err != nil {
		return nil, errors.NewParsingError("failed to parse OIDC app response", err, nil)
	}
	return &app, nil
}

// CreateRole adds a role to the project. Existing roles surface as conflict
// errors the caller may treat as success.
func (c *Client) CreateRole(ctx context.Context, projectID, roleKey, displayName, group string) error {
	req := createRoleRequest{
		RoleKey:     roleKey,
		DisplayName: displayName,
		Group:       group,
	}
	path := fmt.Sprintf("/management/v1/projects/%s/roles", projectID)
	_, err := c.doRequest(ctx, http.MethodPost, path, req)
	return err
}

// CreateGroupsClaimAction installs the groups-claim action and wires it into
// the pre-token-creation trigger so role grants flow into the groups claim.
func (c *Client) CreateGroupsClaimAction(ctx context.Context) error {
	req := createActionRequest{
		Name:          "groupsClaim",
		Script:        groupsClaimScript,
		Timeout:       "10s",
		AllowedToFail: false,
	}
	body, err := c.doRequest(ctx, http.MethodPost, "/management/v1/actions", req)
	if err != nil {
		return err
	}

	var resp createActionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return errors.NewParsingError("failed to parse action response", err, nil)
	}

	trigger := setTriggerActionsRequest{ActionIDs: []string{resp.ID}}
	// flow 2 = complement token, trigger 2 = pre access token creation
	_, err = c.doRequest(ctx, http.MethodPost, "/management/v1/flows/2/trigger/2", trigger)
	return err
}

// CreateUser imports a human user with a verified email and returns its id.
func (c *Client) CreateUser(ctx context.Context, params UserParams) (string, error) {
	req := importUserRequest{
		UserName: params.Username,
		Profile: userProfile{
			FirstName:   params.FirstName,
			LastName:    params.LastName,
			DisplayName: params.FirstName + " " + params.LastName,
			Gender:      params.Gender,
		},
		Email: userEmail{
			Email:           params.Email,
			IsEmailVerified: true,
		},
		Password:               params.Password,
		PasswordChangeRequired: true,
	}
	body, err := c.doRequest(ctx, http.MethodPost, "/management/v1/users/human/_import", req)
	if err != nil {
		return "", err
	}

	var resp importUserResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", errors.NewParsingError("failed to parse user response", err, nil)
	}
	return resp.UserID, nil
}

// GetUserByLoginName resolves a user id from a login name.
func (c *Client) GetUserByLoginName(ctx context.Context, loginName string) (*User, error) {
	path := "/management/v1/global/users/_by_login_name?loginName=" + url.QueryEscape(loginName)
	body, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var resp getUserResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, errors.NewParsingError("failed to parse user response", err, nil)
	}
	return &resp.User, nil
}

// CreateUserGrant grants project roles to a user and returns the grant id.
func (c *Client) CreateUserGrant(ctx context.Context, userID, projectID string, roleKeys []string) (string, error) {
	req := createUserGrantRequest{
		ProjectID: projectID,
		RoleKeys:  roleKeys,
	}
	path := fmt.Sprintf("/management/v1/users/%s/grants", userID)
	body, err := c.doRequest(ctx, http.MethodPost, path, req)
	if err != nil {
		return "", err
	}

	var resp createUserGrantResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", errors.NewParsingError("failed to parse user grant response", err, nil)
	}
	return resp.UserGrantID, nil
}

// UpdateUserGrant replaces the role keys on an existing grant.
func (c *Client) UpdateUserGrant(ctx context.Context, userID, grantID string, roleKeys []string) error {
	req := updateUserGrantRequest{RoleKeys: roleKeys}
	path := fmt.Sprintf("/management/v1/users/%s/grants/%s", userID, grantID)
	_, err := c.doRequest(ctx, http.MethodPut, path, req)
	return err
}

// CreateIAMMembership grants an instance-level role such as IAM_OWNER.
func (c *Client) CreateIAMMembership(ctx context.Context, userID, role string) error {
	req := createIAMMemberRequest{
		UserID: userID,
		Roles:  []string{role},
	}
	_, err := c.doRequest(ctx, http.MethodPost, "/admin/v1/members", req)
	return err
}
