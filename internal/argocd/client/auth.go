package client

import (
	"context"

	"google.golang.org/grpc/credentials"
)

// jwtCredentials injects the Argo CD account token (from the config's
// auth_token value) as a bearer header on every RPC. Transport security is
// handled by the dial options, so plaintext dev connections still carry the
// token.
type jwtCredentials struct {
	token string
}

func newJWTCredentials(token string) credentials.PerRPCCredentials {
	return &jwtCredentials{token: token}
}

func (c *jwtCredentials) GetRequestMetadata(ctx context.Context, uri ...string) (map[string]string, error) {
	return map[string]string{
		"authorization": "Bearer " + c.token,
	}, nil
}

func (c *jwtCredentials) RequireTransportSecurity() bool {
	return false
}
