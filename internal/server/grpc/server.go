// Package grpcserver exposes the todo-keeper Backend gRPC API handlers.
package grpcserver

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/and161185/todo-keeper/internal/api"
	"github.com/and161185/todo-keeper/internal/convert"
	"github.com/and161185/todo-keeper/internal/errs"
	"github.com/and161185/todo-keeper/internal/service"
)

// Server wires services into gRPC handlers.
type Server struct {
	auth    service.AuthService
	records service.RecordService
}

var _ api.BackendServer = (*Server)(nil)

// New constructs a gRPC server with injected services.
func New(auth service.AuthService, records service.RecordService) *Server {
	return &Server{auth: auth, records: records}
}

// NewGRPCServer builds a *grpc.Server with recover, logging and auth interceptors
// and the Backend service registered.
func NewGRPCServer(log *zap.Logger, auth service.AuthService, records service.RecordService, opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts,
		grpc.ChainUnaryInterceptor(
			RecoverUnary(log),
			LoggingUnary(log),
			AuthUnary(auth),
		),
		grpc.ChainStreamInterceptor(
			RecoverStream(log),
			LoggingStream(log),
			AuthStream(auth),
		),
	)
	gs := grpc.NewServer(opts...)
	api.RegisterBackendServer(gs, New(auth, records))
	return gs
}

// --- Auth ---

// SignUp creates an account and returns a session for it.
func (s *Server) SignUp(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	email, password, err := convert.FromCredentials(req)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "bad request: %v", err)
	}
	tok, u, err := s.auth.SignUp(ctx, email, password)
	if err != nil {
		return nil, toStatus("sign up", err)
	}
	return convert.ToProtoAuth(tok, u.Principal()), nil
}

func remoteIP(ctx context.Context) string {
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		return p.Addr.String()
	}
	return ""
}

// SignIn authenticates a user and returns a session token.
func (s *Server) SignIn(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	email, password, err := convert.FromCredentials(req)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "bad request: %v", err)
	}
	tok, u, err := s.auth.SignIn(ctx, email, password, remoteIP(ctx))
	if err != nil {
		return nil, toStatus("sign in", err)
	}
	return convert.ToProtoAuth(tok, u.Principal()), nil
}

// SignOut revokes the caller's session.
func (s *Server) SignOut(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	id, ok := IdentityFromCtx(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "no auth")
	}
	if err := s.auth.SignOut(ctx, id.SessionID); err != nil {
		return nil, toStatus("sign out", err)
	}
	return &emptypb.Empty{}, nil
}

// Me returns the caller's identity.
func (s *Server) Me(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	id, ok := IdentityFromCtx(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "no auth")
	}
	u, err := s.auth.Me(ctx, id.UserID)
	if err != nil {
		return nil, toStatus("me", err)
	}
	return convert.ToProtoPrincipal(u.Principal()), nil
}

// UpdateProfile sets the caller's display name.
func (s *Server) UpdateProfile(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, ok := IdentityFromCtx(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "no auth")
	}
	name, err := convert.FromProfile(req)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "bad request: %v", err)
	}
	u, err := s.auth.UpdateProfile(ctx, id.UserID, name)
	if err != nil {
		return nil, toStatus("update profile", err)
	}
	return convert.ToProtoPrincipal(u.Principal()), nil
}

// --- Records ---

// Set replaces a task record.
func (s *Server) Set(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	id, ok := IdentityFromCtx(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "no auth")
	}
	path, task, err := convert.FromSetRequest(req)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "bad request: %v", err)
	}
	if err := s.records.Set(ctx, id.UserID, path, task); err != nil {
		return nil, toStatus("set", err)
	}
	return &emptypb.Empty{}, nil
}

// Update merges fields into a task record.
func (s *Server) Update(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	id, ok := IdentityFromCtx(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "no auth")
	}
	path, patch, err := convert.FromUpdateRequest(req)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "bad request: %v", err)
	}
	if err := s.records.Update(ctx, id.UserID, path, patch); err != nil {
		return nil, toStatus("update", err)
	}
	return &emptypb.Empty{}, nil
}

// Remove deletes a task record.
func (s *Server) Remove(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	id, ok := IdentityFromCtx(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "no auth")
	}
	path, err := convert.FromPathRequest(req)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "bad request: %v", err)
	}
	if err := s.records.Remove(ctx, id.UserID, path); err != nil {
		return nil, toStatus("remove", err)
	}
	return &emptypb.Empty{}, nil
}

// Watch sends the current snapshot, then a fresh one after every change,
// until the client goes away.
func (s *Server) Watch(req *structpb.Struct, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	ctx := stream.Context()
	id, ok := IdentityFromCtx(ctx)
	if !ok {
		return status.Error(codes.Unauthenticated, "no auth")
	}
	path, err := convert.FromPathRequest(req)
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "bad request: %v", err)
	}
	changed, cancel, err := s.records.Watch(ctx, id.UserID, path)
	if err != nil {
		return toStatus("watch", err)
	}
	defer cancel()

	for {
		snap, err := s.records.Snapshot(ctx, id.UserID, path)
		if err != nil {
			return toStatus("watch", err)
		}
		if err := stream.Send(convert.ToProtoSnapshot(snap)); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return status.FromContextError(ctx.Err()).Err()
		case _, open := <-changed:
			if !open {
				return status.Error(codes.Unavailable, "watch closed")
			}
		}
	}
}

// toStatus maps service errors onto gRPC codes. Unknown errors are not leaked.
func toStatus(op string, err error) error {
	var ve *errs.ValidationError
	switch {
	case errors.As(err, &ve):
		return status.Error(codes.InvalidArgument, ve.Error())
	case errors.Is(err, errs.ErrWeakPassword):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, errs.ErrInvalidPath):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, errs.ErrUnauthorized):
		return status.Error(codes.Unauthenticated, "invalid credentials")
	case errors.Is(err, errs.ErrRateLimited):
		return status.Error(codes.ResourceExhausted, "too many attempts, try later")
	case errors.Is(err, errs.ErrAlreadyExists):
		return status.Error(codes.AlreadyExists, "email already in use")
	case errors.Is(err, errs.ErrPermissionDenied):
		return status.Error(codes.PermissionDenied, "permission denied")
	case errors.Is(err, errs.ErrNotFound):
		return status.Error(codes.NotFound, "not found")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	default:
		return status.Errorf(codes.Internal, "%s: internal error", op)
	}
}
