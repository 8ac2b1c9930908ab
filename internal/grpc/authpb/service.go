// Package authpb describes the internal licensing.internal.v1.AuthService.
//
// Messages are protobuf well-known types, so there is no generated code:
// ValidateToken takes a StringValue holding the access token and
// CheckLicense takes a Struct with license_key and domain. Both answer with
// a Struct.
package authpb

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	ServiceName = "licensing.internal.v1.AuthService"

	ValidateTokenMethod = "/" + ServiceName + "/ValidateToken"
	CheckLicenseMethod  = "/" + ServiceName + "/CheckLicense"
)

// AuthServiceServer is implemented by the introspection server.
type AuthServiceServer interface {
	ValidateToken(ctx context.Context, in *wrapperspb.StringValue) (*structpb.Struct, error)
	CheckLicense(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

// RegisterAuthServiceServer attaches srv to s.
func RegisterAuthServiceServer(s grpc.ServiceRegistrar, srv AuthServiceServer) {
	s.RegisterService(&AuthServiceDesc, srv)
}

// AuthServiceDesc is the grpc.ServiceDesc of the service.
var AuthServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AuthServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ValidateToken", Handler: validateTokenHandler},
		{MethodName: "CheckLicense", Handler: checkLicenseHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "licensing/internal/v1/auth.proto",
}

func validateTokenHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AuthServiceServer).ValidateToken(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ValidateTokenMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AuthServiceServer).ValidateToken(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func checkLicenseHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AuthServiceServer).CheckLicense(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: CheckLicenseMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AuthServiceServer).CheckLicense(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}
