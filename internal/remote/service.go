// Package remote talks to an external plate inference service over gRPC.
//
// The service exposes two unary methods that exchange
// google.protobuf.Struct messages, so no generated stubs are needed:
//
//	/plate.v1.Inference/Detect     {seq, timestamp, image_b64}
//	                            -> {detections: [{bbox: [x1,y1,x2,y2], confidence}]}
//	/plate.v1.Inference/Recognize  {seq, image_b64, bbox: [x1,y1,x2,y2]}
//	                            -> {text}
package remote

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	ServiceName     = "plate.v1.Inference"
	DetectMethod    = "/" + ServiceName + "/Detect"
	RecognizeMethod = "/" + ServiceName + "/Recognize"
)

// InferenceServer is the server side of the inference service. It is
// used by in-process fakes and test servers.
type InferenceServer interface {
	Detect(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Recognize(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// RegisterInferenceServer registers srv on s.
func RegisterInferenceServer(s grpc.ServiceRegistrar, srv InferenceServer) {
	s.RegisterService(&serviceDesc, srv)
}

func unaryHandler(method string, call func(InferenceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodHandler {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(InferenceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(InferenceServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*InferenceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Detect",
			Handler: unaryHandler(DetectMethod, func(s InferenceServer, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
				return s.Detect(ctx, in)
			}),
		},
		{
			MethodName: "Recognize",
			Handler: unaryHandler(RecognizeMethod, func(s InferenceServer, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
				return s.Recognize(ctx, in)
			}),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "plate/v1/inference.proto",
}
