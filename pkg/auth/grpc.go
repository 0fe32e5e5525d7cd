package auth

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	sserr "github.com/StricklySoft/stricklysoft-authz/pkg/errors"
)

// metadataAuthorization is the gRPC metadata key for the bearer token.
// Metadata keys are lower-case.
const metadataAuthorization = "authorization"

// MethodRequirements maps full gRPC method names
// ("/package.Service/Method") to their access requirement. Methods not in
// the map require an authenticated principal.
type MethodRequirements map[string]AccessRequirement

// For returns the requirement of fullMethod.
func (m MethodRequirements) For(fullMethod string) AccessRequirement {
	if req, ok := m[fullMethod]; ok {
		return req
	}
	return Authenticated()
}

// UnaryServerInterceptor returns a unary interceptor that admits calls
// meeting their method's requirement and stores the identity in the handler
// context.
func UnaryServerInterceptor(gate *Gatekeeper, reqs MethodRequirements) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		ctx, err := admitGRPC(ctx, gate, reqs.For(info.FullMethod))
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamServerInterceptor is the streaming counterpart of
// [UnaryServerInterceptor].
func StreamServerInterceptor(gate *Gatekeeper, reqs MethodRequirements) grpc.StreamServerInterceptor {
	return func(
		srv any,
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		ctx, err := admitGRPC(ss.Context(), gate, reqs.For(info.FullMethod))
		if err != nil {
			return err
		}
		return handler(srv, &wrappedServerStream{ServerStream: ss, ctx: ctx})
	}
}

func admitGRPC(ctx context.Context, gate *Gatekeeper, req AccessRequirement) (context.Context, error) {
	var token string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if values := md.Get(metadataAuthorization); len(values) > 0 {
			token = ExtractBearerToken(values[0])
		}
	}

	identity, err := gate.AuthenticateAndAuthorize(ctx, token, req)
	if err != nil {
		return ctx, GRPCStatus(err)
	}
	if identity != nil {
		ctx = ContextWithIdentity(ctx, identity)
	}
	return ctx, nil
}

// GRPCStatus converts err to a gRPC status error: authentication failures
// become Unauthenticated, denials and provisioning failures
// PermissionDenied, unavailable dependencies Unavailable, and everything
// else Internal.
func GRPCStatus(err error) error {
	e := sserr.FromError(err)
	var code codes.Code
	switch {
	case sserr.IsAuthentication(e):
		code = codes.Unauthenticated
	case sserr.IsAuthorization(e), sserr.IsProvisioning(e):
		code = codes.PermissionDenied
	case sserr.IsUnavailable(e):
		code = codes.Unavailable
	default:
		return status.Error(codes.Internal, "internal error")
	}
	return status.Error(code, e.Code.String()+": "+e.Message)
}

// wrappedServerStream overrides Context so stream handlers see the
// identity added by the interceptor.
type wrappedServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (w *wrappedServerStream) Context() context.Context {
	return w.ctx
}
