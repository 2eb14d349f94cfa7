package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	PerclosServiceName     = "perclos.v1.PerclosService"
	PerclosIngestMethod    = "/perclos.v1.PerclosService/Ingest"
	PerclosLatestMethod    = "/perclos.v1.PerclosService/Latest"
	LandmarkDetectorName   = "landmarks.v1.LandmarkDetector"
	LandmarkDetectorMethod = "/landmarks.v1.LandmarkDetector/Detect"
)

type (
	IngestClient = grpc.BidiStreamingClient[LandmarkFrame, ResultMessage]
	IngestServer = grpc.BidiStreamingServer[LandmarkFrame, ResultMessage]
	DetectClient = grpc.BidiStreamingClient[ImageFrame, LandmarkFrame]
	DetectServer = grpc.BidiStreamingServer[ImageFrame, LandmarkFrame]
)

// --- perclos.v1.PerclosService ---

// PerclosServiceClient pushes detector output and reads results.
type PerclosServiceClient interface {
	// Ingest streams landmark frames in and results out. One stream is one session.
	Ingest(ctx context.Context, opts ...grpc.CallOption) (IngestClient, error)
	// Latest returns the most recent result of a live session.
	Latest(ctx context.Context, in *LatestRequest, opts ...grpc.CallOption) (*ResultMessage, error)
}

type perclosServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewPerclosServiceClient(cc grpc.ClientConnInterface) PerclosServiceClient {
	return &perclosServiceClient{cc: cc}
}

func (c *perclosServiceClient) Ingest(ctx context.Context, opts ...grpc.CallOption) (IngestClient, error) {
	opts = append([]grpc.CallOption{CallOption()}, opts...)
	stream, err := c.cc.NewStream(ctx, &PerclosServiceDesc.Streams[0], PerclosIngestMethod, opts...)
	if err != nil {
		return nil, err
	}
	return &grpc.GenericClientStream[LandmarkFrame, ResultMessage]{ClientStream: stream}, nil
}

func (c *perclosServiceClient) Latest(ctx context.Context, in *LatestRequest, opts ...grpc.CallOption) (*ResultMessage, error) {
	opts = append([]grpc.CallOption{CallOption()}, opts...)
	out := new(ResultMessage)
	if err := c.cc.Invoke(ctx, PerclosLatestMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

type PerclosServiceServer interface {
	Ingest(IngestServer) error
	Latest(context.Context, *LatestRequest) (*ResultMessage, error)
}

// UnimplementedPerclosServiceServer can be embedded for forward compatibility.
type UnimplementedPerclosServiceServer struct{}

func (UnimplementedPerclosServiceServer) Ingest(IngestServer) error {
	return status.Error(codes.Unimplemented, "method Ingest not implemented")
}

func (UnimplementedPerclosServiceServer) Latest(context.Context, *LatestRequest) (*ResultMessage, error) {
	return nil, status.Error(codes.Unimplemented, "method Latest not implemented")
}

func RegisterPerclosServiceServer(s grpc.ServiceRegistrar, srv PerclosServiceServer) {
	s.RegisterService(&PerclosServiceDesc, srv)
}

func perclosIngestHandler(srv any, stream grpc.ServerStream) error {
	return srv.(PerclosServiceServer).Ingest(&grpc.GenericServerStream[LandmarkFrame, ResultMessage]{ServerStream: stream})
}

func perclosLatestHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(LatestRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PerclosServiceServer).Latest(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: PerclosLatestMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(PerclosServiceServer).Latest(ctx, req.(*LatestRequest))
	}
	return interceptor(ctx, in, info, handler)
}

var PerclosServiceDesc = grpc.ServiceDesc{
	ServiceName: PerclosServiceName,
	HandlerType: (*PerclosServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Latest", Handler: perclosLatestHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Ingest", Handler: perclosIngestHandler, ServerStreams: true, ClientStreams: true},
	},
	Metadata: "pkg/rpc/service.go",
}

// --- landmarks.v1.LandmarkDetector ---

// LandmarkDetectorClient talks to the external face landmark detector.
// Each ImageFrame sent yields exactly one LandmarkFrame with the same Seq.
type LandmarkDetectorClient interface {
	Detect(ctx context.Context, opts ...grpc.CallOption) (DetectClient, error)
}

type landmarkDetectorClient struct {
	cc grpc.ClientConnInterface
}

func NewLandmarkDetectorClient(cc grpc.ClientConnInterface) LandmarkDetectorClient {
	return &landmarkDetectorClient{cc: cc}
}

func (c *landmarkDetectorClient) Detect(ctx context.Context, opts ...grpc.CallOption) (DetectClient, error) {
	opts = append([]grpc.CallOption{CallOption()}, opts...)
	stream, err := c.cc.NewStream(ctx, &LandmarkDetectorDesc.Streams[0], LandmarkDetectorMethod, opts...)
	if err != nil {
		return nil, err
	}
	return &grpc.GenericClientStream[ImageFrame, LandmarkFrame]{ClientStream: stream}, nil
}

// LandmarkDetectorServer is implemented by detector sidecars (and test fakes).
type LandmarkDetectorServer interface {
	Detect(DetectServer) error
}

func RegisterLandmarkDetectorServer(s grpc.ServiceRegistrar, srv LandmarkDetectorServer) {
	s.RegisterService(&LandmarkDetectorDesc, srv)
}

func landmarkDetectHandler(srv any, stream grpc.ServerStream) error {
	return srv.(LandmarkDetectorServer).Detect(&grpc.GenericServerStream[ImageFrame, LandmarkFrame]{ServerStream: stream})
}

var LandmarkDetectorDesc = grpc.ServiceDesc{
	ServiceName: LandmarkDetectorName,
	HandlerType: (*LandmarkDetectorServer)(nil),
	Streams: []grpc.StreamDesc{
		{StreamName: "Detect", Handler: landmarkDetectHandler, ServerStreams: true, ClientStreams: true},
	},
	Metadata: "pkg/rpc/service.go",
}
