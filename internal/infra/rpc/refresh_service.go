// Package rpc carries target refresh calls over gRPC.
//
// The service has a single unary method built on well-known protobuf types:
//
//	service Target {
//	  rpc Refresh(google.protobuf.Timestamp) returns (google.protobuf.Empty);
//	}
//
// The request carries the time of the dispatch round.
package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/timestamppb"
)

const (
	ServiceName         = "upkeep.v1.Target"
	RefreshFullMethod   = "/" + ServiceName + "/Refresh"
	refreshMethodName   = "Refresh"
	serviceMetadataFile = "upkeep/v1/target.proto"
)

// RefreshServer is implemented by refreshable targets.
type RefreshServer interface {
	Refresh(ctx context.Context, roundTime *timestamppb.Timestamp) (*emptypb.Empty, error)
}

// RefreshServiceDesc describes the Target service for grpc.Server.
var RefreshServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*RefreshServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: refreshMethodName,
			Handler:    refreshHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: serviceMetadataFile,
}

// RegisterRefreshServer registers srv on s.
func RegisterRefreshServer(s grpc.ServiceRegistrar, srv RefreshServer) {
	s.RegisterService(&RefreshServiceDesc, srv)
}

func refreshHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(timestamppb.Timestamp)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RefreshServer).Refresh(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: RefreshFullMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(RefreshServer).Refresh(ctx, req.(*timestamppb.Timestamp))
	}
	return interceptor(ctx, in, info, handler)
}

// RefreshClient calls Refresh on a single connection.
type RefreshClient struct {
	cc grpc.ClientConnInterface
}

func NewRefreshClient(cc grpc.ClientConnInterface) *RefreshClient {
	return &RefreshClient{cc: cc}
}

func (c *RefreshClient) Refresh(ctx context.Context, roundTime *timestamppb.Timestamp, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	out := new(emptypb.Empty)
	if err := c.cc.Invoke(ctx, RefreshFullMethod, roundTime, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
