package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const serviceName = "depthbridge.MarketDataService"

const (
	methodGetMarketDepth       = "GetMarketDepth"
	methodSubscribeMarketDepth = "SubscribeMarketDepth"
	methodSwitchSymbol         = "SwitchSymbol"
	methodSetThreshold         = "SetThreshold"
	methodUnsubscribe          = "Unsubscribe"
	methodGetStatus            = "GetStatus"
	methodGetOrderBookSnapshot = "GetOrderBookSnapshot"
)

func fullMethod(method string) string {
	return "/" + serviceName + "/" + method
}

// MarketDataServiceServer is the server side of depthbridge.MarketDataService.
// Requests and responses are google.protobuf.Struct messages.
type MarketDataServiceServer interface {
	GetMarketDepth(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SubscribeMarketDepth(*structpb.Struct, DepthStreamServer) error
	SwitchSymbol(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SetThreshold(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Unsubscribe(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetStatus(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetOrderBookSnapshot(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type DepthStreamServer interface {
	Send(*structpb.Struct) error
	grpc.ServerStream
}

type depthStreamServer struct {
	grpc.ServerStream
}

func (x *depthStreamServer) Send(m *structpb.Struct) error {
	return x.ServerStream.SendMsg(m)
}

type unaryCall func(MarketDataServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

type methodHandler = func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error)

func unaryHandler(method string, call unaryCall) methodHandler {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(MarketDataServiceServer), ctx, in)
		}

		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(method)}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(MarketDataServiceServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func subscribeMarketDepthHandler(srv interface{}, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(MarketDataServiceServer).SubscribeMarketDepth(in, &depthStreamServer{stream})
}

var MarketDataServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*MarketDataServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: methodGetMarketDepth, Handler: unaryHandler(methodGetMarketDepth, MarketDataServiceServer.GetMarketDepth)},
		{MethodName: methodSwitchSymbol, Handler: unaryHandler(methodSwitchSymbol, MarketDataServiceServer.SwitchSymbol)},
		{MethodName: methodSetThreshold, Handler: unaryHandler(methodSetThreshold, MarketDataServiceServer.SetThreshold)},
		{MethodName: methodUnsubscribe, Handler: unaryHandler(methodUnsubscribe, MarketDataServiceServer.Unsubscribe)},
		{MethodName: methodGetStatus, Handler: unaryHandler(methodGetStatus, MarketDataServiceServer.GetStatus)},
		{MethodName: methodGetOrderBookSnapshot, Handler: unaryHandler(methodGetOrderBookSnapshot, MarketDataServiceServer.GetOrderBookSnapshot)},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    methodSubscribeMarketDepth,
			Handler:       subscribeMarketDepthHandler,
			ServerStreams: true,
		},
	},
}

func RegisterMarketDataServiceServer(s grpc.ServiceRegistrar, srv MarketDataServiceServer) {
	s.RegisterService(&MarketDataServiceDesc, srv)
}

// MarketDataServiceClient calls depthbridge.MarketDataService over cc.
type MarketDataServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewMarketDataServiceClient(cc grpc.ClientConnInterface) *MarketDataServiceClient {
	return &MarketDataServiceClient{cc: cc}
}

func (c *MarketDataServiceClient) invoke(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, fullMethod(method), in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *MarketDataServiceClient) GetMarketDepth(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, methodGetMarketDepth, in, opts...)
}

func (c *MarketDataServiceClient) SwitchSymbol(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, methodSwitchSymbol, in, opts...)
}

func (c *MarketDataServiceClient) SetThreshold(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, methodSetThreshold, in, opts...)
}

func (c *MarketDataServiceClient) Unsubscribe(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, methodUnsubscribe, in, opts...)
}

func (c *MarketDataServiceClient) GetStatus(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, methodGetStatus, in, opts...)
}

func (c *MarketDataServiceClient) GetOrderBookSnapshot(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, methodGetOrderBookSnapshot, in, opts...)
}

type DepthStreamClient interface {
	Recv() (*structpb.Struct, error)
	grpc.ClientStream
}

type depthStreamClient struct {
	grpc.ClientStream
}

func (x *depthStreamClient) Recv() (*structpb.Struct, error) {
	m := new(structpb.Struct)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (c *MarketDataServiceClient) SubscribeMarketDepth(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (DepthStreamClient, error) {
	stream, err := c.cc.NewStream(ctx, &MarketDataServiceDesc.Streams[0], fullMethod(methodSubscribeMarketDepth), opts...)
	if err != nil {
		return nil, err
	}

	x := &depthStreamClient{stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}
