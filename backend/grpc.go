package backend

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"

	"AniObjCut/detect"
	"AniObjCut/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	DetectServiceName = "aniobjcut.DetectService"
	DetectMethod      = "/" + DetectServiceName + "/Detect"
)

// GRPCBackend calls a remote DetectService. Requests are {"kind","image"(base64)} and responses
// {"detections":[...]} as structpb.Struct.
type GRPCBackend struct {
	conn *grpc.ClientConn
}

func DialGRPC(addr string, opts ...grpc.DialOption) (*GRPCBackend, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial detector %s: %w", addr, err)
	}
	return &GRPCBackend{conn: conn}, nil
}

func (b *GRPCBackend) Close() error {
	return b.conn.Close()
}

func (b *GRPCBackend) Detect(ctx context.Context, kind detect.Kind, imagePath string) ([]detect.Detection, error) {
	data, err := os.ReadFile(imagePath)
	if err != nil {
		return nil, err
	}
	req := &structpb.Struct{Fields: map[string]*structpb.Value{
		"kind":  structpb.NewStringValue(string(kind)),
		"image": structpb.NewStringValue(base64.StdEncoding.EncodeToString(data)),
	}}
	resp := new(structpb.Struct)
	if err := b.conn.Invoke(ctx, DetectMethod, req, resp); err != nil {
		return nil, fmt.Errorf("invoke %s detector: %w", kind, err)
	}
	return DetectionsFromValue(resp.GetFields()["detections"])
}

// DetectServer exposes a detect.Backend as DetectService.
type DetectServer interface {
	Detect(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

type detectServer struct {
	backend detect.Backend
	tempDir string
}

// RegisterDetectServer serves b on s. Uploaded images are spooled to tempDir for the backend.
func RegisterDetectServer(s grpc.ServiceRegistrar, b detect.Backend, tempDir string) {
	s.RegisterService(&detectServiceDesc, &detectServer{backend: b, tempDir: tempDir})
}

func (d *detectServer) Detect(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	kind := detect.Kind(req.GetFields()["kind"].GetStringValue())
	data, err := base64.StdEncoding.DecodeString(req.GetFields()["image"].GetStringValue())
	if err != nil || len(data) == 0 {
		return nil, status.Error(codes.InvalidArgument, "image must be non-empty base64")
	}
	path := filepath.Join(d.tempDir, "aniobjcut_rpc_"+uuid.NewString())
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return nil, status.Errorf(codes.Internal, "spool image: %v", err)
	}
	defer func() {
		if err := os.Remove(path); err != nil {
			logger.Log().Error("remove spooled image", zap.String("path", path), zap.Error(err))
		}
	}()
	dets, err := d.backend.Detect(ctx, kind, path)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "%s detector: %v", kind, err)
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{"detections": DetectionsToValue(dets)}}, nil
}

var detectServiceDesc = grpc.ServiceDesc{
	ServiceName: DetectServiceName,
	HandlerType: (*DetectServer)(nil),
	Methods: []grpc.MethodDesc{{
		MethodName: "Detect",
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return srv.(DetectServer).Detect(ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: DetectMethod}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return srv.(DetectServer).Detect(ctx, req.(*structpb.Struct))
			})
		},
	}},
	Streams: []grpc.StreamDesc{},
}
