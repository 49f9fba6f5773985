package zitadel

// ServiceAccountKey is the machine-key JSON Zitadel writes into the
// zitadel-admin-sa Secret at first boot.
type ServiceAccountKey struct {
	Type   string `json:"type"`
	KeyID  string `json:"keyId"`
	Key    string `json:"key"`
	UserID string `json:"userId"`
}

// Project is a Zitadel management project.
type Project struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// OIDCApp is the result of registering an OIDC application. ClientSecret is
// only returned once, at creation time.
type OIDCApp struct {
	AppID        string `json:"appId"`
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
}

// User is a Zitadel human user.
type User struct {
	ID        string `json:"id"`
	LoginName string `json:"preferredLoginName"`
}

// UserParams describes the initial admin user to create.
type UserParams struct {
	Username  string
	Email     string
	FirstName string
	LastName  string
	Gender    string
	Password  string
}

type createProjectRequest struct {
	Name                   string `json:"name"`
	ProjectRoleAssertion   bool   `json:"projectRoleAssertion"`
	ProjectRoleCheck       bool   `json:"projectRoleCheck"`
	HasProjectCheck        bool   `json:"hasProjectCheck"`
	PrivateLabelingSetting string `json:"privateLabelingSetting"`
}

type createProjectResponse struct {
	ID string `json:"id"`
}

type projectSearchRequest struct {
	Queries []projectQuery `json:"queries"`
}

type projectQuery struct {
	NameQuery nameQuery `json:"nameQuery"`
}

type nameQuery struct {
	Name   string `json:"name"`
	Method string `json:"method"`
}

type projectSearchResponse struct {
	Result []Project `json:"result"`
}

type createOIDCAppRequest struct {
	Name                     string   `json:"name"`
	RedirectURIs             []string `json:"redirectUris"`
	PostLogoutRedirectURIs   []string `json:"postLogoutRedirectUris"`
	ResponseTypes            []string `json:"responseTypes"`
	GrantTypes               []string `json:"grantTypes"`
	AppType                  string   `json:"appType"`
	AuthMethodType           string   `json:"authMethodType"`
	AccessTokenType          string   `json:"accessTokenType"`
	AccessTokenRoleAssertion bool     `json:"accessTokenRoleAssertion"`
	IDTokenRoleAssertion     bool     `json:"idTokenRoleAssertion"`
	IDTokenUserinfoAssertion bool     `json:"idTokenUserinfoAssertion"`
	DevMode                  bool     `json:"devMode"`
}

type createRoleRequest struct {
	RoleKey     string `json:"roleKey"`
	DisplayName string `json:"displayName"`
	Group       string `json:"group"`
}

type createActionRequest struct {
	Name          string `json:"name"`
	Script        string `json:"script"`
	Timeout       string `json:"timeout"`
	AllowedToFail bool   `json:"allowedToFail"`
}

type createActionResponse struct {
	ID string `json:"id"`
}

type setTriggerActionsRequest struct {
	ActionIDs []string `json:"actionIds"`
}

type importUserRequest struct {
	UserName               string      `json:"userName"`
	Profile                userProfile `json:"profile"`
	Email                  userEmail   `json:"email"`
	Password               string      `json:"password,omitempty"`
	PasswordChangeRequired bool        `json:"passwordChangeRequired"`
}

type userProfile struct {
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	DisplayName string `json:"displayName"`
	Gender      string `json:"gender"`
}

type userEmail struct {
	Email           string `json:"email"`
	IsEmailVerified bool   `json:"isEmailVerified"`
}

type importUserResponse struct {
	UserID string `json:"userId"`
}

type getUserResponse struct {
	User User `json:"user"`
}

type createUserGrantRequest struct {
	ProjectID string   `json:"projectId"`
	RoleKeys  []string `json:"roleKeys"`
}

type createUserGrantResponse struct {
	UserGrantID string `json:"userGrantId"`
}

type updateUserGrantRequest struct {
	RoleKeys []string `json:"roleKeys"`
}

type createIAMMemberRequest struct {
	UserID string   `json:"userId"`
	Roles  []string `json:"roles"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}
