package grpcserver

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"ncpwheels/internal/app/identity"
	domainchat "ncpwheels/internal/domain/chat"
)

// TokenVerifier resolves a bearer token to the caller.
type TokenVerifier interface {
	Verify(token string) (identity.Actor, error)
}

// Authenticator reads the authorization metadata. Calls without one are in-cluster
// service calls and run without an actor; a present but invalid token is rejected.
type Authenticator struct {
	Verifier TokenVerifier
	Logger   *slog.Logger
}

func (a Authenticator) Unary() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx, err := a.authenticate(ctx)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

func (a Authenticator) Stream() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx, err := a.authenticate(ss.Context())
		if err != nil {
			return err
		}
		return handler(srv, &actorStream{ServerStream: ss, ctx: ctx})
	}
}

func (a Authenticator) authenticate(ctx context.Context) (context.Context, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	values := md.Get("authorization")
	if len(values) == 0 || a.Verifier == nil {
		return ctx, nil
	}
	raw := strings.TrimSpace(values[0])
	if len(raw) < 7 || !strings.EqualFold(raw[:7], "bearer ") {
		return nil, status.Error(codes.Unauthenticated, "bearer token required")
	}
	actor, err := a.Verifier.Verify(strings.TrimSpace(raw[7:]))
	if err != nil {
		if a.Logger != nil {
			a.Logger.Debug("grpc token rejected", "error", err)
		}
		return nil, status.Error(codes.Unauthenticated, "invalid token")
	}
	return identity.WithActor(ctx, actor), nil
}

type actorStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *actorStream) Context() context.Context { return s.ctx }

// Logging reports failed calls. Client errors log at debug, the rest at error.
func Logging(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		if err != nil && logger != nil {
			code := status.Code(err)
			level := slog.LevelDebug
			if code == codes.Internal || code == codes.Unavailable || code == codes.Unknown {
				level = slog.LevelError
			}
			logger.Log(ctx, level, "grpc call failed",
				"method", info.FullMethod,
				"code", code.String(),
				"duration", time.Since(start),
				"error", err,
			)
		}
		return resp, err
	}
}

// NewServer builds a grpc.Server with MessagingService registered.
func NewServer(srv MessagingServer, auth Authenticator, logger *slog.Logger, opts ...grpc.ServerOption) *grpc.Server {
	opts = append([]grpc.ServerOption{
		grpc.ChainUnaryInterceptor(auth.Unary(), Logging(logger)),
		grpc.ChainStreamInterceptor(auth.Stream()),
	}, opts...)
	s := grpc.NewServer(opts...)
	Register(s, srv)
	return s
}

// toStatus maps the chat error taxonomy onto gRPC codes.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, domainchat.ErrUnauthorized):
		return status.Error(codes.Unauthenticated, "not allowed to act for this user")
	case errors.Is(err, domainchat.ErrPermissionDenied):
		return status.Error(codes.PermissionDenied, err.Error())
	case errors.Is(err, domainchat.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, domainchat.ErrValidation):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, domainchat.ErrTransientStore):
		return status.Error(codes.Unavailable, "messaging store unavailable")
	default:
		return status.Errorf(codes.Internal, "internal error: %v", err)
	}
}
