package web

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"sync"
	"time"

	"proxychecker/internal/shared/logger"
	"proxychecker/internal/shared/settings"
	"proxychecker/internal/shared/types"
)

//go:embed all:static
var staticFiles embed.FS

// logConnState 在 debug 级别记录新连接
func logConnState(conn net.Conn, state http.ConnState) {
	if state == http.StateNew {
		logger.Debug().Str("remote", conn.RemoteAddr().String()).Msg("[WebServer] Connection accepted.")
	}
}

// basicAuthMiddleware 检查 web_user 和 web_password 是否已配置。
// 如果配置了，它将强制执行 HTTP Basic Authentication。
func basicAuthMiddleware(next http.Handler, user, pass string) http.Handler {
	// 如果用户名或密码未设置，则不启用认证，直接返回原始处理器
	if user == "" || pass == "" {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || u != user || p != pass {
			w.Header().Set("WWW-Authenticate", `Basic realm="Restricted"`)
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte("Unauthorized.\n"))
			return
		}
		// 认证成功，继续处理请求
		next.ServeHTTP(w, r)
	})
}

// NewRouter 组装全部路由。除 /ws 和 /api/status 外都需要认证。
func NewRouter(handler *Handler, hub *Hub, webUser, webPassword string) (http.Handler, error) {
	mux := http.NewServeMux()
	protect := func(fn http.HandlerFunc) http.Handler {
		return basicAuthMiddleware(fn, webUser, webPassword)
	}

	// --- 认证保护的 API ---
	mux.Handle("/api/run", protect(handler.HandleRun))
	mux.Handle("/api/stop", protect(handler.HandleStop))
	mux.Handle("/api/results", protect(handler.HandleResults))
	mux.Handle("/api/export", protect(handler.HandleExport))

	// 统一配置管理 API
	mux.Handle("/api/settings", protect(handler.HandleGetSettings))
	mux.Handle("/api/settings/", protect(handler.HandleUpdateSettings)) // 捕获 /api/settings/{module}

	// --- WebSocket Endpoint (公开，无需认证) ---
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		ServeWs(hub, w, r)
	})

	// 公开的状态 API
	mux.HandleFunc("/api/status", handler.HandleStatus)

	// --- 静态文件和主页 ---
	staticFS, err := fs.Sub(staticFiles, "static")
	if err != nil {
		return nil, fmt.Errorf("failed to create sub filesystem for static assets: %w", err)
	}
	fileServer := http.FileServer(http.FS(staticFS))
	mux.Handle("/static/", http.StripPrefix("/static/", fileServer))

	// 主页需要认证
	rootHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		index, err := staticFiles.ReadFile("static/index.html")
		if err != nil {
			http.Error(w, "Could not load index.html", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write(index)
	})
	mux.Handle("/", basicAuthMiddleware(rootHandler, webUser, webPassword))

	return mux, nil
}

// StartServer 启动 Web 控制台, ctx 结束时优雅关闭。web_port 必须为正数。
func StartServer(
	ctx context.Context,
	wg *sync.WaitGroup,
	cfg *types.Config,
	settingsManager *settings.SettingsManager,
	controller CheckerController,
	hub *Hub,
) error {
	if cfg.WebConf.WebPort <= 0 {
		return fmt.Errorf("web UI needs a positive web_port, got %d", cfg.WebConf.WebPort)
	}

	handler := NewHandler(settingsManager, controller, hub)
	router, err := NewRouter(handler, hub, cfg.WebConf.WebUser, cfg.WebConf.WebPassword)
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("0.0.0.0:%d", cfg.WebConf.WebPort)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to start Web UI on %s: %w", addr, err)
	}

	logger.Info().Msgf("SUCCESS: Web UI is listening on http://%s", addr)

	srv := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ConnState:         logConnState,
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("Web server error")
		}
		logger.Info().Msg("Web server stopped.")
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	return nil
}
