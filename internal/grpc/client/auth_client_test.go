package client

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/magabrotheeeer/plugin-licensing/internal/grpc/authpb"
)

type fakeServer struct{}

func (fakeServer) ValidateToken(_ context.Context, in *wrapperspb.StringValue) (*structpb.Struct, error) {
	if in.GetValue() != "good" {
		return structpb.NewStruct(map[string]any{"valid": false})
	}
	return structpb.NewStruct(map[string]any{
		"valid": true, "user_id": "u-1", "email": "jane@example.com", "role": "admin",
	})
}

func (fakeServer) CheckLicense(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	f := in.GetFields()
	activated := f["license_key"].GetStringValue() == "ABCD-EFGH-JKLM-NPQR" && f["domain"].GetStringValue() == "shop.example.com"
	reason := ""
	if !activated {
		reason = "domain_not_activated"
	}
	return structpb.NewStruct(map[string]any{"valid": true, "reason": reason, "activated": activated})
}

func newBufClient(t *testing.T) *AuthClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	authpb.RegisterAuthServiceServer(srv, fakeServer{})
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	c, err := NewAuthClient("passthrough:///bufnet", grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestAuthClient_ValidateToken(t *testing.T) {
	c := newBufClient(t)

	info, err := c.ValidateToken(context.Background(), "good")
	require.NoError(t, err)
	assert.Equal(t, &TokenInfo{Valid: true, UserID: "u-1", Email: "jane@example.com", Role: "admin"}, info)

	info, err = c.ValidateToken(context.Background(), "expired")
	require.NoError(t, err)
	assert.False(t, info.Valid)
	assert.Empty(t, info.UserID)
}

func TestAuthClient_CheckLicense(t *testing.T) {
	c := newBufClient(t)

	info, err := c.CheckLicense(context.Background(), "ABCD-EFGH-JKLM-NPQR", "shop.example.com")
	require.NoError(t, err)
	assert.Equal(t, &LicenseInfo{Valid: true, Activated: true}, info)

	info, err = c.CheckLicense(context.Background(), "ABCD-EFGH-JKLM-NPQR", "other.example.com")
	require.NoError(t, err)
	assert.False(t, info.Activated)
	assert.Equal(t, "domain_not_activated", info.Reason)
}

func TestAuthClient_UnknownService(t *testing.T) {
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	go func() { _ = srv.Serve(lis) }()
	defer srv.Stop()

	c, err := NewAuthClient("passthrough:///bufnet", grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}))
	require.NoError(t, err)
	defer c.Close()

	_, err = c.ValidateToken(context.Background(), "good")
	assert.Error(t, err)
}
