// Package rpcapi serves the cut operations over gRPC.
//
// Messages are google.protobuf.Struct so that no generated code is needed:
//
//	request:  {"type", "image" (base64), "filename", "size", "padding", "color", "strokeWidth", "blurRadius", "withMask"}
//	response: {"image" (base64 PNG)} or, for Squares, {"ids": [...], "names": [...], "windows": [[x0,y0,x1,y1], ...]}
package rpcapi

import (
	"context"
	"encoding/base64"
	"errors"
	"time"

	"AniObjCut/backend"
	"AniObjCut/detect"
	"AniObjCut/logger"
	"AniObjCut/service"
	"AniObjCut/store"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

const ServiceName = "aniobjcut.CutService"

// CutServer is the handler type of CutService.
type CutServer interface {
	Avatar(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Square(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Squares(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Mask(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Highlight(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Take(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Ping(ctx context.Context, req *emptypb.Empty) (*structpb.Struct, error)
}

type Server struct {
	svc *service.Service
}

// NewServer builds a gRPC server carrying CutService and, when det is non-nil, a DetectService
// that proxies det.
func NewServer(svc *service.Service, det detect.Backend, tempDir string, opts ...grpc.ServerOption) *grpc.Server {
	opts = append([]grpc.ServerOption{grpc.ChainUnaryInterceptor(logCalls)}, opts...)
	s := grpc.NewServer(opts...)
	RegisterCutServer(s, &Server{svc: svc})
	if det != nil {
		backend.RegisterDetectServer(s, det, tempDir)
	}
	return s
}

func RegisterCutServer(s grpc.ServiceRegistrar, srv CutServer) {
	s.RegisterService(&cutServiceDesc, srv)
}

func (s *Server) Avatar(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.image(ctx, in, s.svc.Avatar)
}

func (s *Server) Square(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.image(ctx, in, s.svc.Square)
}

func (s *Server) Mask(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.image(ctx, in, s.svc.Mask)
}

func (s *Server) Highlight(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.image(ctx, in, s.svc.Highlight)
}

func (s *Server) Squares(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := requestFrom(in)
	if err != nil {
		return nil, err
	}
	outs, err := s.svc.Squares(ctx, req)
	if err != nil {
		return nil, toStatus(err)
	}
	ids := make([]any, 0, len(outs))
	names := make([]any, 0, len(outs))
	windows := make([]any, 0, len(outs))
	for _, o := range outs {
		ids = append(ids, o.ID)
		names = append(names, o.Name)
		w := o.Window
		windows = append(windows, []any{w.Min.X, w.Min.Y, w.Max.X, w.Max.Y})
	}
	return structpb.NewStruct(map[string]any{"ids": ids, "names": names, "windows": windows})
}

func (s *Server) Take(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	data, err := s.svc.Take(in.GetFields()["id"].GetStringValue())
	if err != nil {
		return nil, toStatus(err)
	}
	return imageResponse(data), nil
}

func (s *Server) Ping(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{"message": "pong"})
}

func (s *Server) image(ctx context.Context, in *structpb.Struct, op func(context.Context, service.Request) ([]byte, error)) (*structpb.Struct, error) {
	req, err := requestFrom(in)
	if err != nil {
		return nil, err
	}
	data, err := op(ctx, req)
	if err != nil {
		return nil, toStatus(err)
	}
	return imageResponse(data), nil
}

func imageResponse(data []byte) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"image": structpb.NewStringValue(base64.StdEncoding.EncodeToString(data)),
	}}
}

// requestFrom reads a service.Request. Absent fields keep the HTTP form defaults.
func requestFrom(in *structpb.Struct) (service.Request, error) {
	f := in.GetFields()
	data, err := base64.StdEncoding.DecodeString(f["image"].GetStringValue())
	if err != nil {
		return service.Request{}, status.Errorf(codes.InvalidArgument, "image is not base64: %v", err)
	}
	req := service.NewRequest(f["type"].GetStringValue(), data)
	req.Filename = f["filename"].GetStringValue()
	if v, ok := f["size"]; ok {
		req.Size = int(v.GetNumberValue())
	}
	if v, ok := f["padding"]; ok {
		req.Padding = v.GetNumberValue()
	}
	if v, ok := f["color"]; ok {
		req.Color = v.GetStringValue()
	}
	if v, ok := f["strokeWidth"]; ok {
		req.StrokeWidth = int(v.GetNumberValue())
	}
	if v, ok := f["blurRadius"]; ok {
		req.BlurRadius = v.GetNumberValue()
	}
	req.WithMask = f["withMask"].GetBoolValue()
	return req, nil
}

func toStatus(err error) error {
	if errors.Is(err, store.ErrMissing) {
		return status.Error(codes.NotFound, err.Error())
	}
	switch detect.ErrorClass(err) {
	case detect.ClassConfiguration, detect.ClassInput:
		return status.Error(codes.InvalidArgument, err.Error())
	case detect.ClassNotFound:
		return status.Error(codes.NotFound, "nothing detected")
	case detect.ClassCanceled:
		return status.FromContextError(err).Err()
	default:
		return status.Error(codes.Internal, "image processing error")
	}
}

func logCalls(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	logger.Log().Info("rpc call",
		zap.String("method", info.FullMethod),
		zap.String("code", status.Code(err).String()),
		zap.Duration("latency", time.Since(start)))
	return resp, err
}

func structMethod(name string, call func(CutServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodDesc {
	full := "/" + ServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(CutServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: full}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(CutServer), ctx, req.(*structpb.Struct))
			})
		},
	}
}

var cutServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*CutServer)(nil),
	Methods: []grpc.MethodDesc{
		structMethod("Avatar", CutServer.Avatar),
		structMethod("Square", CutServer.Square),
		structMethod("Squares", CutServer.Squares),
		structMethod("Mask", CutServer.Mask),
		structMethod("Highlight", CutServer.Highlight),
		structMethod("Take", CutServer.Take),
		{
			MethodName: "Ping",
			Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
				in := new(emptypb.Empty)
				if err := dec(in); err != nil {
					return nil, err
				}
				if interceptor == nil {
					return srv.(CutServer).Ping(ctx, in)
				}
				info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/Ping"}
				return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
					return srv.(CutServer).Ping(ctx, req.(*emptypb.Empty))
				})
			},
		},
	},
	Streams: []grpc.StreamDesc{},
}
