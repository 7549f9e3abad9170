package main

import (
	"context"
	"embed"
	"errors"
	"flag"
	"html/template"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/cleanova/cleanova/src/internal/adapters/apiclient"
	"github.com/cleanova/cleanova/src/internal/config"
	"github.com/cleanova/cleanova/src/internal/logging"
)

//go:embed templates/*.html
var templateFS embed.FS

var pages = template.Must(template.ParseFS(templateFS, "templates/*.html"))

func main() {
	configPath := flag.String("config", "", "Configuration file path (YAML or JSON)")
	flag.Parse()

	base := logging.Base()
	if err := config.LoadDotEnv(); err != nil {
		base.Fatal().Err(err).Msg("failed to load .env")
	}
	cfg, err := config.LoadWebFrontend(*configPath)
	if err != nil {
		base.Fatal().Err(err).Msg("failed to load config")
	}
	logging.Configure(logging.Config{Level: cfg.Log.Level, Service: "web-frontend"})
	log := logging.WithComponent("web-frontend")
	log.Info().Msg("starting Web Frontend")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	authSvc := NewAuthService(ctx, cfg, logging.WithComponent("auth"))
	handler, err := newHandler(cfg.ControlPlaneURL, authSvc, NewGate(apiclient.New(cfg.ControlPlaneURL), log), log)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid CONTROL_PLANE_URL")
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", "http://0.0.0.0:"+cfg.Port).Str("control_plane", cfg.ControlPlaneURL).Msg("Web Frontend listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("server failed")
	}
}

func newHandler(controlPlaneURL string, authSvc *AuthService, gate *Gate, log zerolog.Logger) (http.Handler, error) {
	target, err := url.Parse(controlPlaneURL)
	if err != nil {
		return nil, err
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, errors.New("control plane URL must be absolute")
	}
	proxy := httputil.NewSingleHostReverseProxy(target)
	originalDirector := proxy.Director
	proxy.Director = func(req *http.Request) {
		originalDirector(req)
		req.Host = target.Host
	}
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		log.Warn().Err(err).Str("path", r.URL.Path).Msg("proxy to Control Plane failed")
		http.Error(w, "Control Plane unavailable", http.StatusBadGateway)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /login", authSvc.HandleLogin)
	mux.HandleFunc("GET /auth/callback", authSvc.HandleCallback)
	mux.HandleFunc("GET /logout", authSvc.HandleLogout)
	mux.HandleFunc("GET /subscribe-info", func(w http.ResponseWriter, r *http.Request) {
		render(w, log, "subscribe.html", nil)
	})

	mux.Handle("/api/", authSvc.TokenMiddleware(proxy))
	mux.Handle("/media/", proxy)

	mux.Handle("GET /{$}", gate.Require(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		acct := accountFrom(r.Context())
		render(w, log, "index.html", map[string]any{
			"Email": acct.Email,
			"Time":  time.Now().Format(time.RFC3339),
		})
	})))
	return mux, nil
}

func render(w http.ResponseWriter, log zerolog.Logger, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := pages.ExecuteTemplate(w, name, data); err != nil {
		log.Error().Err(err).Str("template", name).Msg("error executing template")
	}
}
