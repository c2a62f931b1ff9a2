package backorderv1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

const ServiceName = "backorder.v1.BackorderService"

const (
	BackorderService_CreateRecord_FullMethodName         = "/backorder.v1.BackorderService/CreateRecord"
	BackorderService_ProcessDelivery_FullMethodName      = "/backorder.v1.BackorderService/ProcessDelivery"
	BackorderService_ProcessReturn_FullMethodName        = "/backorder.v1.BackorderService/ProcessReturn"
	BackorderService_ProcessDeliveryBatch_FullMethodName = "/backorder.v1.BackorderService/ProcessDeliveryBatch"
	BackorderService_ProcessReturnBatch_FullMethodName   = "/backorder.v1.BackorderService/ProcessReturnBatch"
	BackorderService_GetRecord_FullMethodName            = "/backorder.v1.BackorderService/GetRecord"
	BackorderService_QueryRecords_FullMethodName         = "/backorder.v1.BackorderService/QueryRecords"
	BackorderService_CountRecords_FullMethodName         = "/backorder.v1.BackorderService/CountRecords"
	BackorderService_CountByStatus_FullMethodName        = "/backorder.v1.BackorderService/CountByStatus"
	BackorderService_ListCustomers_FullMethodName        = "/backorder.v1.BackorderService/ListCustomers"
	BackorderService_ListProducts_FullMethodName         = "/backorder.v1.BackorderService/ListProducts"
)

// BackorderServiceClient: клиент API. Вызовы используют JSON-кодек.
type BackorderServiceClient interface {
	CreateRecord(ctx context.Context, in *CreateRecordRequest, opts ...grpc.CallOption) (*RecordResponse, error)
	ProcessDelivery(ctx context.Context, in *QuantityRequest, opts ...grpc.CallOption) (*RecordResponse, error)
	ProcessReturn(ctx context.Context, in *QuantityRequest, opts ...grpc.CallOption) (*RecordResponse, error)
	ProcessDeliveryBatch(ctx context.Context, in *BatchRequest, opts ...grpc.CallOption) (*BatchResponse, error)
	ProcessReturnBatch(ctx context.Context, in *BatchRequest, opts ...grpc.CallOption) (*BatchResponse, error)
	GetRecord(ctx context.Context, in *GetRecordRequest, opts ...grpc.CallOption) (*GetRecordResponse, error)
	QueryRecords(ctx context.Context, in *QueryRecordsRequest, opts ...grpc.CallOption) (*QueryRecordsResponse, error)
	CountRecords(ctx context.Context, in *CountRecordsRequest, opts ...grpc.CallOption) (*CountRecordsResponse, error)
	CountByStatus(ctx context.Context, in *CountByStatusRequest, opts ...grpc.CallOption) (*CountByStatusResponse, error)
	ListCustomers(ctx context.Context, in *ListCustomersRequest, opts ...grpc.CallOption) (*ListCustomersResponse, error)
	ListProducts(ctx context.Context, in *ListProductsRequest, opts ...grpc.CallOption) (*ListProductsResponse, error)
}

type backorderServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewBackorderServiceClient создаёт клиента поверх соединения.
func NewBackorderServiceClient(cc grpc.ClientConnInterface) BackorderServiceClient {
	return &backorderServiceClient{cc}
}

// Dial открывает соединение без TLS с JSON-кодеком по умолчанию.
func Dial(target string, opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	base := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)),
	}
	return grpc.NewClient(target, append(base, opts...)...)
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *backorderServiceClient) CreateRecord(ctx context.Context, in *CreateRecordRequest, opts ...grpc.CallOption) (*RecordResponse, error) {
	return invoke[RecordResponse](ctx, c.cc, BackorderService_CreateRecord_FullMethodName, in, opts)
}

func (c *backorderServiceClient) ProcessDelivery(ctx context.Context, in *QuantityRequest, opts ...grpc.CallOption) (*RecordResponse, error) {
	return invoke[RecordResponse](ctx, c.cc, BackorderService_ProcessDelivery_FullMethodName, in, opts)
}

func (c *backorderServiceClient) ProcessReturn(ctx context.Context, in *QuantityRequest, opts ...grpc.CallOption) (*RecordResponse, error) {
	return invoke[RecordResponse](ctx, c.cc, BackorderService_ProcessReturn_FullMethodName, in, opts)
}

func (c *backorderServiceClient) ProcessDeliveryBatch(ctx context.Context, in *BatchRequest, opts ...grpc.CallOption) (*BatchResponse, error) {
	return invoke[BatchResponse](ctx, c.cc, BackorderService_ProcessDeliveryBatch_FullMethodName, in, opts)
}

func (c *backorderServiceClient) ProcessReturnBatch(ctx context.Context, in *BatchRequest, opts ...grpc.CallOption) (*BatchResponse, error) {
	return invoke[BatchResponse](ctx, c.cc, BackorderService_ProcessReturnBatch_FullMethodName, in, opts)
}

func (c *backorderServiceClient) GetRecord(ctx context.Context, in *GetRecordRequest, opts ...grpc.CallOption) (*GetRecordResponse, error) {
	return invoke[GetRecordResponse](ctx, c.cc, BackorderService_GetRecord_FullMethodName, in, opts)
}

func (c *backorderServiceClient) QueryRecords(ctx context.Context, in *QueryRecordsRequest, opts ...grpc.CallOption) (*QueryRecordsResponse, error) {
	return invoke[QueryRecordsResponse](ctx, c.cc, BackorderService_QueryRecords_FullMethodName, in, opts)
}

func (c *backorderServiceClient) CountRecords(ctx context.Context, in *CountRecordsRequest, opts ...grpc.CallOption) (*CountRecordsResponse, error) {
	return invoke[CountRecordsResponse](ctx, c.cc, BackorderService_CountRecords_FullMethodName, in, opts)
}

func (c *backorderServiceClient) CountByStatus(ctx context.Context, in *CountByStatusRequest, opts ...grpc.CallOption) (*CountByStatusResponse, error) {
	return invoke[CountByStatusResponse](ctx, c.cc, BackorderService_CountByStatus_FullMethodName, in, opts)
}

func (c *backorderServiceClient) ListCustomers(ctx context.Context, in *ListCustomersRequest, opts ...grpc.CallOption) (*ListCustomersResponse, error) {
	return invoke[ListCustomersResponse](ctx, c.cc, BackorderService_ListCustomers_FullMethodName, in, opts)
}

func (c *backorderServiceClient) ListProducts(ctx context.Context, in *ListProductsRequest, opts ...grpc.CallOption) (*ListProductsResponse, error) {
	return invoke[ListProductsResponse](ctx, c.cc, BackorderService_ListProducts_FullMethodName, in, opts)
}

// BackorderServiceServer: серверная часть API.
type BackorderServiceServer interface {
	CreateRecord(context.Context, *CreateRecordRequest) (*RecordResponse, error)
	ProcessDelivery(context.Context, *QuantityRequest) (*RecordResponse, error)
	ProcessReturn(context.Context, *QuantityRequest) (*RecordResponse, error)
	ProcessDeliveryBatch(context.Context, *BatchRequest) (*BatchResponse, error)
	ProcessReturnBatch(context.Context, *BatchRequest) (*BatchResponse, error)
	GetRecord(context.Context, *GetRecordRequest) (*GetRecordResponse, error)
	QueryRecords(context.Context, *QueryRecordsRequest) (*QueryRecordsResponse, error)
	CountRecords(context.Context, *CountRecordsRequest) (*CountRecordsResponse, error)
	CountByStatus(context.Context, *CountByStatusRequest) (*CountByStatusResponse, error)
	ListCustomers(context.Context, *ListCustomersRequest) (*ListCustomersResponse, error)
	ListProducts(context.Context, *ListProductsRequest) (*ListProductsResponse, error)
}

// UnimplementedBackorderServiceServer отвечает Unimplemented на все методы.
type UnimplementedBackorderServiceServer struct{}

func (UnimplementedBackorderServiceServer) CreateRecord(context.Context, *CreateRecordRequest) (*RecordResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method CreateRecord not implemented")
}
func (UnimplementedBackorderServiceServer) ProcessDelivery(context.Context, *QuantityRequest) (*RecordResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method ProcessDelivery not implemented")
}
func (UnimplementedBackorderServiceServer) ProcessReturn(context.Context, *QuantityRequest) (*RecordResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method ProcessReturn not implemented")
}
func (UnimplementedBackorderServiceServer) ProcessDeliveryBatch(context.Context, *BatchRequest) (*BatchResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method ProcessDeliveryBatch not implemented")
}
func (UnimplementedBackorderServiceServer) ProcessReturnBatch(context.Context, *BatchRequest) (*BatchResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method ProcessReturnBatch not implemented")
}
func (UnimplementedBackorderServiceServer) GetRecord(context.Context, *GetRecordRequest) (*GetRecordResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method GetRecord not implemented")
}
func (UnimplementedBackorderServiceServer) QueryRecords(context.Context, *QueryRecordsRequest) (*QueryRecordsResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method QueryRecords not implemented")
}
func (UnimplementedBackorderServiceServer) CountRecords(context.Context, *CountRecordsRequest) (*CountRecordsResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method CountRecords not implemented")
}
func (UnimplementedBackorderServiceServer) CountByStatus(context.Context, *CountByStatusRequest) (*CountByStatusResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method CountByStatus not implemented")
}
func (UnimplementedBackorderServiceServer) ListCustomers(context.Context, *ListCustomersRequest) (*ListCustomersResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method ListCustomers not implemented")
}
func (UnimplementedBackorderServiceServer) ListProducts(context.Context, *ListProductsRequest) (*ListProductsResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method ListProducts not implemented")
}

// RegisterBackorderServiceServer регистрирует реализацию на сервере.
func RegisterBackorderServiceServer(s grpc.ServiceRegistrar, srv BackorderServiceServer) {
	s.RegisterService(&BackorderService_ServiceDesc, srv)
}

// unaryHandler строит обработчик метода: декодирует запрос и пропускает его через interceptor.
func unaryHandler[Req any, Resp any](fullMethod string, call func(BackorderServiceServer, context.Context, *Req) (*Resp, error)) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(BackorderServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(BackorderServiceServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// BackorderService_ServiceDesc: описание сервиса для grpc.Server.
var BackorderService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*BackorderServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CreateRecord", Handler: unaryHandler(BackorderService_CreateRecord_FullMethodName, BackorderServiceServer.CreateRecord)},
		{MethodName: "ProcessDelivery", Handler: unaryHandler(BackorderService_ProcessDelivery_FullMethodName, BackorderServiceServer.ProcessDelivery)},
		{MethodName: "ProcessReturn", Handler: unaryHandler(BackorderService_ProcessReturn_FullMethodName, BackorderServiceServer.ProcessReturn)},
		{MethodName: "ProcessDeliveryBatch", Handler: unaryHandler(BackorderService_ProcessDeliveryBatch_FullMethodName, BackorderServiceServer.ProcessDeliveryBatch)},
		{MethodName: "ProcessReturnBatch", Handler: unaryHandler(BackorderService_ProcessReturnBatch_FullMethodName, BackorderServiceServer.ProcessReturnBatch)},
		{MethodName: "GetRecord", Handler: unaryHandler(BackorderService_GetRecord_FullMethodName, BackorderServiceServer.GetRecord)},
		{MethodName: "QueryRecords", Handler: unaryHandler(BackorderService_QueryRecords_FullMethodName, BackorderServiceServer.QueryRecords)},
		{MethodName: "CountRecords", Handler: unaryHandler(BackorderService_CountRecords_FullMethodName, BackorderServiceServer.CountRecords)},
		{MethodName: "CountByStatus", Handler: unaryHandler(BackorderService_CountByStatus_FullMethodName, BackorderServiceServer.CountByStatus)},
		{MethodName: "ListCustomers", Handler: unaryHandler(BackorderService_ListCustomers_FullMethodName, BackorderServiceServer.ListCustomers)},
		{MethodName: "ListProducts", Handler: unaryHandler(BackorderService_ListProducts_FullMethodName, BackorderServiceServer.ListProducts)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "backorder/v1/backorder_service.proto",
}
