// Package api declares the todokeeper.v1.Backend gRPC service. Messages are
// protobuf well-known types; their field layout lives in package convert.
package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "todokeeper.v1.Backend"

// Full method names.
const (
	SignUpMethod        = "/" + ServiceName + "/SignUp"
	SignInMethod        = "/" + ServiceName + "/SignIn"
	SignOutMethod       = "/" + ServiceName + "/SignOut"
	MeMethod            = "/" + ServiceName + "/Me"
	UpdateProfileMethod = "/" + ServiceName + "/UpdateProfile"
	SetMethod           = "/" + ServiceName + "/Set"
	UpdateMethod        = "/" + ServiceName + "/Update"
	RemoveMethod        = "/" + ServiceName + "/Remove"
	WatchMethod         = "/" + ServiceName + "/Watch"
)

// PublicMethods do not require a bearer token.
var PublicMethods = map[string]bool{
	SignUpMethod: true,
	SignInMethod: true,
}

// BackendServer is the server API.
type BackendServer interface {
	SignUp(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SignIn(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SignOut(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
	Me(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	UpdateProfile(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Set(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	Update(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	Remove(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	// Watch streams full snapshots of a collection: one immediately, then one per change.
	Watch(*structpb.Struct, grpc.ServerStreamingServer[structpb.Struct]) error
}

// RegisterBackendServer registers srv on s.
func RegisterBackendServer(s grpc.ServiceRegistrar, srv BackendServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func unary[Req proto.Message, Res proto.Message](name string, newReq func() Req, call func(BackendServer, context.Context, Req) (Res, error)) grpc.MethodDesc {
	full := "/" + ServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := newReq()
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(BackendServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: full}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(BackendServer), ctx, req.(Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

func newStruct() *structpb.Struct { return new(structpb.Struct) }
func newEmpty() *emptypb.Empty    { return new(emptypb.Empty) }

func watchHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(BackendServer).Watch(in, &grpc.GenericServerStream[structpb.Struct, structpb.Struct]{ServerStream: stream})
}

// ServiceDesc is the grpc.ServiceDesc for the Backend service.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*BackendServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("SignUp", newStruct, BackendServer.SignUp),
		unary("SignIn", newStruct, BackendServer.SignIn),
		unary("SignOut", newEmpty, BackendServer.SignOut),
		unary("Me", newEmpty, BackendServer.Me),
		unary("UpdateProfile", newStruct, BackendServer.UpdateProfile),
		unary("Set", newStruct, BackendServer.Set),
		unary("Update", newStruct, BackendServer.Update),
		unary("Remove", newStruct, BackendServer.Remove),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Watch",
			Handler:       watchHandler,
			ServerStreams: true,
		},
	},
	Metadata: "todokeeper/v1/backend.proto",
}

// BackendClient is the client API.
type BackendClient struct {
	cc grpc.ClientConnInterface
}

// NewBackendClient wraps a connection.
func NewBackendClient(cc grpc.ClientConnInterface) *BackendClient {
	return &BackendClient{cc: cc}
}

func invoke[Res any, PRes interface {
	*Res
	proto.Message
}](ctx context.Context, cc grpc.ClientConnInterface, method string, in proto.Message, opts []grpc.CallOption) (PRes, error) {
	out := PRes(new(Res))
	if err := cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *BackendClient) SignUp(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return invoke[structpb.Struct](ctx, c.cc, SignUpMethod, in, opts)
}

func (c *BackendClient) SignIn(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return invoke[structpb.Struct](ctx, c.cc, SignInMethod, in, opts)
}

func (c *BackendClient) SignOut(ctx context.Context, opts ...grpc.CallOption) error {
	_, err := invoke[emptypb.Empty](ctx, c.cc, SignOutMethod, &emptypb.Empty{}, opts)
	return err
}

func (c *BackendClient) Me(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return invoke[structpb.Struct](ctx, c.cc, MeMethod, &emptypb.Empty{}, opts)
}

func (c *BackendClient) UpdateProfile(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return invoke[structpb.Struct](ctx, c.cc, UpdateProfileMethod, in, opts)
}

func (c *BackendClient) Set(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) error {
	_, err := invoke[emptypb.Empty](ctx, c.cc, SetMethod, in, opts)
	return err
}

func (c *BackendClient) Update(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) error {
	_, err := invoke[emptypb.Empty](ctx, c.cc, UpdateMethod, in, opts)
	return err
}

func (c *BackendClient) Remove(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) error {
	_, err := invoke[emptypb.Empty](ctx, c.cc, RemoveMethod, in, opts)
	return err
}

// Watch opens the snapshot stream for the collection named in in.
func (c *BackendClient) Watch(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (grpc.ServerStreamingClient[structpb.Struct], error) {
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], WatchMethod, opts...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[structpb.Struct, structpb.Struct]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}
