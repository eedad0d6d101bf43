// internal/pkg/bootstrap/app.go
package bootstrap

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"eshop-ordering/internal/pkg/logger"
	"eshop-ordering/internal/pkg/metrics"
	"eshop-ordering/internal/pkg/nacos"
)

// AppInfo 包含了启动一个服务所需的特定信息
type AppInfo struct {
	ServiceName string
	Port        int
	Nacos       NacosConfig
	// RegisterHandlers 允许服务注册自己的 HTTP 路由
	RegisterHandlers func(mux *http.ServeMux)
	// Ready 供 /healthz 调用，nil 表示总是健康
	Ready func(ctx context.Context) error
}

// NewMux 创建带 /healthz 和 /metrics 的路由
func NewMux(info AppInfo) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if info.Ready != nil {
			if err := info.Ready(r.Context()); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if info.RegisterHandlers != nil {
		info.RegisterHandlers(mux)
	}
	return mux
}

// Serve 启动 HTTP 服务并（可选）注册到 Nacos，阻塞到 ctx 结束后优雅关停
func Serve(ctx context.Context, info AppInfo) error {
	server := &http.Server{
		Addr:              ":" + strconv.Itoa(info.Port),
		Handler:           NewMux(info),
		ReadHeaderTimeout: 5 * time.Second,
	}

	deregister, err := registerNacos(info)
	if err != nil {
		return err
	}
	defer deregister()

	errCh := make(chan error, 1)
	go func() {
		logger.L().Info().Msgf("%s listening on :%d", info.ServiceName, info.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- errors.Wrapf(err, "listen on %s", server.Addr)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.L().Info().Msgf("Shutting down service %s...", info.ServiceName)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "shutdown http server")
	}
	logger.L().Info().Msg("HTTP server shut down.")
	return nil
}

func registerNacos(info AppInfo) (func(), error) {
	if info.Nacos.ServerAddrs == "" {
		logger.L().Info().Msg("Nacos is not configured, skipping service registration")
		return func() {}, nil
	}
	client, err := nacos.NewNacosClient(info.Nacos.ServerAddrs, info.Nacos.Namespace, info.Nacos.Group)
	if err != nil {
		return nil, err
	}
	ip, err := GetOutboundIP()
	if err != nil {
		client.Close()
		return nil, err
	}
	if err := client.RegisterServiceInstance(info.ServiceName, ip, info.Port); err != nil {
		client.Close()
		return nil, err
	}
	return func() {
		if err := client.DeregisterServiceInstance(info.ServiceName, ip, info.Port); err != nil {
			logger.L().Error().Err(err).Msg("Error deregistering from Nacos")
		}
		client.Close()
	}, nil
}

// GetOutboundIP 返回本机对外通信使用的地址，UDP 拨号不会真正发包
func GetOutboundIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", errors.Wrap(err, "detect outbound ip")
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String(), nil
}
