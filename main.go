package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"sync"
	"syscall"
	"time"

	"AniObjCut/adhoc"
	"AniObjCut/backend"
	"AniObjCut/config"
	"AniObjCut/detect"
	"AniObjCut/httpapi"
	"AniObjCut/logger"
	"AniObjCut/monitor"
	"AniObjCut/rpcapi"
	"AniObjCut/service"
	"AniObjCut/store"
	"AniObjCut/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc"
)

func newBackend(cfg config.BackendConfig) (detect.Backend, func(), error) {
	switch cfg.Kind {
	case config.BackendGRPC:
		b, err := backend.DialGRPC(cfg.Address)
		if err != nil {
			return nil, nil, err
		}
		return b, func() { _ = b.Close() }, nil
	default:
		return backend.NewHTTP(cfg.Address, cfg.Timeout()), func() {}, nil
	}
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to the yaml config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Println("Failed to load config:", err)
		os.Exit(1)
	}
	if err := logger.Init(cfg.LogLevel); err != nil {
		fmt.Println("Failed to init logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()
	if !logger.Level().Enabled(zapcore.DebugLevel) {
		gin.SetMode(gin.ReleaseMode)
	}

	fmt.Println(strings.Repeat("#", 64))
	fmt.Printf("CPU Cores: %d\n", runtime.NumCPU())
	fmt.Println(" HTTP Addr:", cfg.Addr())
	fmt.Println(" gRPC Port:", cfg.RPCPort)
	fmt.Println(" Detector :", cfg.Backend.Kind, cfg.Backend.Address)
	fmt.Println("Workers Num:", cfg.WorkersNum)
	fmt.Println(strings.Repeat("#", 64))
	if cfg.WorkersNum > runtime.NumCPU() {
		fmt.Println("Please note that workersNum exceeds CPU cores, which may lead to performance degradation.")
	}

	det, closeBackend, err := newBackend(cfg.Backend)
	if err != nil {
		logger.Log().Fatal("detector backend", zap.Error(err))
	}
	defer closeBackend()

	st := store.New(cfg.OutputDir)
	if err := st.Ensure(); err != nil {
		logger.Log().Fatal("output dir", zap.Error(err))
	}
	logger.Log().Info("artifact store ready", zap.String("dir", st.Dir()))
	pool := worker.NewPool(cfg.WorkersNum, cfg.QueueLen)
	svc := service.New(det, st, pool, cfg.TempDir)
	svc.SetLimits(service.Limits{MaxSize: cfg.MaxSize, MaxPixels: cfg.MaxPixels})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	var wg sync.WaitGroup

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           httpapi.NewRouter(svc, httpapi.Options{APIKey: cfg.APIKey, MaxUploadMB: cfg.MaxUploadMB}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Log().Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log().Error("http server", zap.Error(err))
			stop()
		}
	}()

	var rpc *grpc.Server
	if cfg.RPCPort > 0 {
		lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.RPCPort))
		if err != nil {
			logger.Log().Fatal("grpc listen", zap.Int("port", cfg.RPCPort), zap.Error(err))
		}
		rpc = rpcapi.NewServer(svc, det, cfg.TempDir)
		go func() {
			logger.Log().Info("grpc server listening", zap.Int("port", cfg.RPCPort))
			if err := rpc.Serve(lis); err != nil {
				logger.Log().Error("grpc server", zap.Error(err))
			}
		}()
	}

	if cfg.MonitorPort > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			monitor.StartMon(ctx, cfg.MonitorPort)
		}()
	}

	if cfg.UseRegServer {
		ip := adhoc.OutboundIP()
		fmt.Println("Outbound IP:", ip)
		types := make([]string, 0, len(detect.Types))
		for _, t := range detect.Types {
			types = append(types, t.String())
		}
		a := adhoc.NewAnnouncer(cfg.RegServerHost, cfg.RegServerPort, ip, cfg.HTTPPort, types)
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.Run(ctx)
		}()
	} else {
		fmt.Println("UseRegServer is set to false, skipping registration")
	}

	<-ctx.Done()
	logger.Log().Warn("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Log().Error("http shutdown", zap.Error(err))
	}
	if rpc != nil {
		rpc.GracefulStop()
	}
	pool.Close()
	wg.Wait()
	fmt.Println("Safely exited")
}
