// Package client is the Go client of the internal AuthService.
package client

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/magabrotheeeer/plugin-licensing/internal/grpc/authpb"
)

// TokenInfo is the decoded ValidateToken answer.
type TokenInfo struct {
	Valid  bool
	UserID string
	Email  string
	Role   string
}

// LicenseInfo is the decoded CheckLicense answer.
type LicenseInfo struct {
	Valid     bool
	Reason    string
	Activated bool
}

// AuthClient calls the AuthService over conn.
type AuthClient struct {
	conn *grpc.ClientConn
}

// NewAuthClient connects to addr without transport security. Extra options
// are appended, tests use them to dial a bufconn listener.
func NewAuthClient(addr string, opts ...grpc.DialOption) (*AuthClient, error) {
	const op = "grpc.client.NewAuthClient"
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &AuthClient{conn: conn}, nil
}

// Close releases the connection.
func (a *AuthClient) Close() error {
	return a.conn.Close()
}

// ValidateToken introspects an access token.
func (a *AuthClient) ValidateToken(ctx context.Context, token string) (*TokenInfo, error) {
	const op = "grpc.client.ValidateToken"
	out := new(structpb.Struct)
	if err := a.conn.Invoke(ctx, authpb.ValidateTokenMethod, wrapperspb.String(token), out); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	f := out.GetFields()
	return &TokenInfo{
		Valid:  f["valid"].GetBoolValue(),
		UserID: f["user_id"].GetStringValue(),
		Email:  f["email"].GetStringValue(),
		Role:   f["role"].GetStringValue(),
	}, nil
}

// CheckLicense asks whether key is valid and activated on domain.
func (a *AuthClient) CheckLicense(ctx context.Context, key, domain string) (*LicenseInfo, error) {
	const op = "grpc.client.CheckLicense"
	in, err := structpb.NewStruct(map[string]any{"license_key": key, "domain": domain})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	out := new(structpb.Struct)
	if err := a.conn.Invoke(ctx, authpb.CheckLicenseMethod, in, out); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	f := out.GetFields()
	return &LicenseInfo{
		Valid:     f["valid"].GetBoolValue(),
		Reason:    f["reason"].GetStringValue(),
		Activated: f["activated"].GetBoolValue(),
	}, nil
}
