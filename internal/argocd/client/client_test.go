package client

import (
	"context"
	"errors"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{
			name: "valid config",
			config: Config{
				ServerAddr: "localhost:60080",
				AuthToken:  "test-token",
			},
			wantErr: false,
		},
		{
			name: "missing server address",
			config: Config{
				AuthToken: "test-token",
			},
			wantErr: true,
		},
		{
			name: "missing auth token",
			config: Config{
				ServerAddr: "localhost:60080",
			},
			wantErr: true,
		},
		{
			name:    "empty config",
			config:  Config{},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Config.Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestJWTCredentials_GetRequestMetadata(t *testing.T) {
	creds := newJWTCredentials("test-token")

	metadata, err := creds.GetRequestMetadata(context.Background())
	if err != nil {
		t.Fatalf("GetRequestMetadata() error = %v", err)
	}

	expected := "Bearer test-token"
	if metadata["authorization"] != expected {
		t.Errorf("GetRequestMetadata() = %v, want %v", metadata["authorization"], expected)
	}
}

func TestJWTCredentials_RequireTransportSecurity(t *testing.T) {
	creds := newJWTCredentials("test-token")

	if creds.RequireTransportSecurity() {
		t.Error("RequireTransportSecurity() = true, want false")
	}
}

func TestIsNotFound(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "grpc not found",
			err:  status.Error(codes.NotFound, "applications.argoproj.io \"zitadel\" not found"),
			want: true,
		},
		{
			name: "grpc permission denied",
			err:  status.Error(codes.PermissionDenied, "permission denied"),
			want: false,
		},
		{
			name: "grpc unavailable",
			err:  status.Error(codes.Unavailable, "connection refused"),
			want: false,
		},
		{
			name: "plain error",
			err:  errors.New("not found"),
			want: false,
		},
		{
			name: "nil error",
			err:  nil,
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsNotFound(tt.err); got != tt.want {
				t.Errorf("IsNotFound() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	_, err := New(&Config{})
	if err == nil {
		t.Fatal("New() with empty config: expected error, got nil")
	}
	if !errors.Is(err, ErrServerAddrRequired) {
		t.Errorf("New() error = %v, want %v", err, ErrServerAddrRequired)
	}
}
