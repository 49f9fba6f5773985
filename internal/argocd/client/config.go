package client

import (
	"time"
)

// Config holds connection parameters for the Argo CD gRPC API.
type Config struct {
	ServerAddr        string
	AuthToken         string
	PlainText         bool
	Insecure          bool
	ClientCertFile    string
	ClientCertKeyFile string
	UserAgent         string
	Timeout           time.Duration
}

// Validate checks that required configuration parameters are present
func (c *Config) Validate() error {
	if c.ServerAddr == "" {
		return ErrServerAddrRequired
	}
	if c.AuthToken == "" {
		return ErrAuthTokenRequired
	}
	return nil
}
