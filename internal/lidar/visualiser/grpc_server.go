package visualiser

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// FrameStreamService is the fully qualified gRPC service name.
const FrameStreamService = "voxelodom.v1.FrameStream"

const subscribeMethod = "/" + FrameStreamService + "/Subscribe"

// FrameStreamServer is the server API of the frame stream. A subscription
// request is a Struct with optional boolean fields include_voxels and
// include_paths (both default true).
type FrameStreamServer interface {
	Subscribe(*structpb.Struct, FrameStream_SubscribeServer) error
}

// FrameStream_SubscribeServer is the server side of one subscription.
type FrameStream_SubscribeServer interface {
	Send(*structpb.Struct) error
	grpc.ServerStream
}

type subscribeServer struct {
	grpc.ServerStream
}

func (x *subscribeServer) Send(m *structpb.Struct) error {
	return x.ServerStream.SendMsg(m)
}

func subscribeHandler(srv interface{}, stream grpc.ServerStream) error {
	m := new(structpb.Struct)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(FrameStreamServer).Subscribe(m, &subscribeServer{stream})
}

var frameStreamDesc = grpc.ServiceDesc{
	ServiceName: FrameStreamService,
	HandlerType: (*FrameStreamServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Subscribe",
			Handler:       subscribeHandler,
			ServerStreams: true,
		},
	},
	Metadata: "voxelodom/v1/frames.proto",
}

// RegisterService registers the frame stream with a gRPC server.
func RegisterService(s grpc.ServiceRegistrar, srv FrameStreamServer) {
	s.RegisterService(&frameStreamDesc, srv)
}

// FrameStream_SubscribeClient is the client side of one subscription.
type FrameStream_SubscribeClient interface {
	Recv() (*structpb.Struct, error)
	grpc.ClientStream
}

type subscribeClient struct {
	grpc.ClientStream
}

func (x *subscribeClient) Recv() (*structpb.Struct, error) {
	m := new(structpb.Struct)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// Subscribe opens a frame subscription on cc.
func Subscribe(ctx context.Context, cc grpc.ClientConnInterface, opts StreamOptions, callOpts ...grpc.CallOption) (FrameStream_SubscribeClient, error) {
	stream, err := cc.NewStream(ctx, &frameStreamDesc.Streams[0], subscribeMethod, callOpts...)
	if err != nil {
		return nil, err
	}
	req, err := structpb.NewStruct(map[string]interface{}{
		"include_voxels": opts.IncludeVoxels,
		"include_paths":  opts.IncludePaths,
	})
	if err != nil {
		return nil, err
	}
	x := &subscribeClient{stream}
	if err := x.ClientStream.SendMsg(req); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

// Server implements FrameStreamServer on top of a Publisher.
type Server struct {
	publisher *Publisher
}

var _ FrameStreamServer = (*Server)(nil)

// NewServer creates a frame stream server.
func NewServer(publisher *Publisher) *Server {
	return &Server{publisher: publisher}
}

// Subscribe streams frames until the client goes away or the publisher
// stops.
func (s *Server) Subscribe(req *structpb.Struct, stream FrameStream_SubscribeServer) error {
	opts := optionsFromStruct(req)
	client, err := s.publisher.addClient("grpc", opts)
	if err != nil {
		return status.Error(codes.ResourceExhausted, err.Error())
	}
	defer s.publisher.removeClient(client.id)

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.publisher.stopCh:
			return nil
		case frame := <-client.frameCh:
			msg, err := frame.Filter(opts).ToStruct()
			if err != nil {
				return status.Errorf(codes.Internal, "encode frame %d: %v", frame.FrameID, err)
			}
			if err := stream.Send(msg); err != nil {
				logf("gRPC send to %s failed: %v", client.id, err)
				return err
			}
		}
	}
}

func optionsFromStruct(req *structpb.Struct) StreamOptions {
	opts := DefaultStreamOptions()
	if req == nil {
		return opts
	}
	fields := req.GetFields()
	if v, ok := fields["include_voxels"]; ok {
		opts.IncludeVoxels = v.GetBoolValue()
	}
	if v, ok := fields["include_paths"]; ok {
		opts.IncludePaths = v.GetBoolValue()
	}
	return opts
}
