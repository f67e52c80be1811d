// ABOUTME: Gateway orchestrator that coordinates the gRPC and HTTP servers
// ABOUTME: Wires config, history store, node, server API, auth, and health endpoints

package gateway

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/relay-gateway/internal/api"
	"github.com/2389/relay-gateway/internal/auth"
	"github.com/2389/relay-gateway/internal/config"
	"github.com/2389/relay-gateway/internal/node"
	"github.com/2389/relay-gateway/internal/store"
)

// Version is reported by the Info call. It is set by the main package.
var Version = "dev"

// DBPathEnv overrides database.path when set.
const DBPathEnv = "RELAY_DB_PATH"

// tailscaleGRPCPort is the tailnet port for the server API.
const tailscaleGRPCPort = ":10000"

// Gateway orchestrates the relay-gateway server components.
// It owns the history store, the node, and the gRPC and HTTP servers.
type Gateway struct {
	config      *config.Config
	store       store.HistoryStore
	node        *node.Node
	executor    *api.Executor
	authz       *auth.APIKeyAuthorizer
	grpcServer  *grpc.Server
	health      *health.Server
	httpServer  *http.Server
	tsnetServer *tsnet.Server
	logger      *slog.Logger

	// publicURL is the base URL clients use to reach the HTTP API
	publicURL string
}

// expandHome replaces a leading "~/" with the user's home directory.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(homeDir, path[2:])
}

// initStore creates the history store from config and environment.
func initStore(cfg *config.Config) (*store.SQLiteStore, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv(DBPathEnv); envPath != "" {
		dbPath = envPath
	}

	s, err := store.NewSQLiteStore(expandHome(dbPath))
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// nodeConfig translates gateway configuration into node options.
func nodeConfig(cfg *config.Config, name string) node.Config {
	namespaces := make(map[string]node.ChannelOptions, len(cfg.Namespaces))
	for _, ns := range cfg.Namespaces {
		namespaces[ns.Name] = node.ChannelOptions{
			HistorySize: ns.HistorySize,
			HistoryTTL:  ns.HistoryTTL,
			Presence:    ns.Presence,
		}
	}
	return node.Config{
		Name:    name,
		Version: Version,
		Default: node.ChannelOptions{
			HistorySize: cfg.History.Size,
			HistoryTTL:  cfg.History.TTL,
		},
		Namespaces:    namespaces,
		DedupeTTL:     cfg.Dedupe.TTL,
		DedupeMaxSize: cfg.Dedupe.MaxSize,
	}
}

// createGRPCServer creates a gRPC server with keepalive settings and the API
// key interceptors. With no key configured the interceptors allow every call.
func createGRPCServer(authz *auth.APIKeyAuthorizer, logger *slog.Logger) *grpc.Server {
	authLogger := logger.With("component", "auth")
	server := grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    15 * time.Second,
			Timeout: 5 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
		grpc.ChainUnaryInterceptor(auth.UnaryInterceptor(authz, authLogger)),
		grpc.ChainStreamInterceptor(auth.StreamInterceptor(authz, authLogger)),
	)
	if authz.Enabled() {
		logger.Info("server API key authorization enabled")
	} else {
		logger.Warn("server API authorization disabled - no grpc_api.key configured")
	}
	return server
}

// registerGRPCServices registers the server API and the standard health service.
func (g *Gateway) registerGRPCServices() {
	api.RegisterServerAPIServer(g.grpcServer, api.NewServer(g.executor, g.logger.With("component", "grpc")))

	g.health = health.NewServer()
	g.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	g.health.SetServingStatus(api.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(g.grpcServer, g.health)
}

// registerHTTPAPIRoutes registers the HTTP server API behind the API key middleware.
func (g *Gateway) registerHTTPAPIRoutes(mux *http.ServeMux) {
	authMiddleware := auth.HTTPMiddleware(g.authz, g.logger.With("component", "auth"))
	mux.Handle("GET /api/subscribe", authMiddleware(http.HandlerFunc(g.handleSubscribe)))
	mux.Handle("POST /api/{method}", authMiddleware(http.HandlerFunc(g.handleAPICall)))
	g.logger.Info("HTTP server API enabled", "auth", g.authz.Enabled())
}

// resolveNodeName picks a human-readable node name for Info.
func resolveNodeName(cfg *config.Config) string {
	if cfg.Tailscale.Enabled {
		return cfg.Tailscale.Hostname
	}
	if hostname, err := os.Hostname(); err == nil && hostname != "" {
		return hostname
	}
	return "relay"
}

// determinePublicURL resolves the base URL of the HTTP API from config.
func determinePublicURL(cfg *config.Config) string {
	if !cfg.Tailscale.Enabled {
		return "http://" + cfg.Server.HTTPAddr
	}
	if cfg.Tailscale.HTTPS || cfg.Tailscale.Funnel {
		return "https://" + cfg.Tailscale.Hostname
	}
	return "http://" + cfg.Tailscale.Hostname
}

// New creates a new Gateway instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}
	return newWithStore(cfg, s, logger), nil
}

func newWithStore(cfg *config.Config, s store.HistoryStore, logger *slog.Logger) *Gateway {
	n := node.New(nodeConfig(cfg, resolveNodeName(cfg)), s, logger.With("component", "node"))
	authz := auth.NewAPIKeyAuthorizer(cfg.APIKey())

	gw := &Gateway{
		config:    cfg,
		store:     s,
		node:      n,
		executor:  api.NewExecutor(n, logger.With("component", "api")),
		authz:     authz,
		logger:    logger.With("component", "gateway"),
		publicURL: determinePublicURL(cfg),
	}

	if cfg.GRPCAPI.Enabled {
		gw.grpcServer = createGRPCServer(authz, logger)
		gw.registerGRPCServices()
	}

	// Create HTTP server for health checks and API
	mux := http.NewServeMux()

	// Health endpoints - no auth required
	mux.HandleFunc("/health", gw.handleHealth)
	mux.HandleFunc("/health/ready", gw.handleReady)

	if cfg.HTTPAPI.Enabled {
		gw.registerHTTPAPIRoutes(mux)
	}

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw
}

// Handler returns the HTTP handler serving health checks and the HTTP API.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// Executor returns the server API executor shared by both transports.
func (g *Gateway) Executor() *api.Executor {
	return g.executor
}

// setupTCPListeners creates standard TCP listeners for gRPC and HTTP.
// grpcLn is nil when the gRPC API is disabled.
func (g *Gateway) setupTCPListeners() (grpcLn, httpLn net.Listener, err error) {
	g.logger.Info("starting gateway",
		"node_id", g.node.ID(),
		"grpc_addr", g.config.Server.GRPCAddr,
		"http_addr", g.config.Server.HTTPAddr,
	)

	if g.grpcServer != nil {
		grpcLn, err = net.Listen("tcp", g.config.Server.GRPCAddr)
		if err != nil {
			return nil, nil, fmt.Errorf("listening on gRPC address: %w", err)
		}
	}

	httpLn, err = net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		if grpcLn != nil {
			_ = grpcLn.Close()
		}
		return nil, nil, fmt.Errorf("listening on HTTP address: %w", err)
	}

	return grpcLn, httpLn, nil
}

// warnIgnoredAddresses logs a warning if server addresses are configured but Tailscale is enabled.
func (g *Gateway) warnIgnoredAddresses() {
	if g.config.Server.GRPCAddr != "" || g.config.Server.HTTPAddr != "" {
		g.logger.Warn("server.grpc_addr and server.http_addr are ignored when tailscale is enabled",
			"grpc_addr", g.config.Server.GRPCAddr,
			"http_addr", g.config.Server.HTTPAddr,
		)
	}
}

// setupListeners creates listeners based on configuration (Tailscale or TCP).
func (g *Gateway) setupListeners(ctx context.Context) (grpcLn, httpLn net.Listener, err error) {
	if g.config.Tailscale.Enabled {
		g.warnIgnoredAddresses()
		return g.setupTailscaleListeners(ctx)
	}
	return g.setupTCPListeners()
}

// startServers starts gRPC and HTTP servers in goroutines, returning error channel.
func (g *Gateway) startServers(grpcLn, httpLn net.Listener) chan error {
	errCh := make(chan error, 2)

	if grpcLn != nil {
		go func() {
			g.logger.Info("gRPC server listening", "addr", grpcLn.Addr().String())
			if err := g.grpcServer.Serve(grpcLn); err != nil {
				errCh <- fmt.Errorf("gRPC server: %w", err)
			}
		}()
	}

	go func() {
		g.logger.Info("HTTP server listening", "addr", httpLn.Addr().String(), "public_url", g.publicURL)
		if err := g.httpServer.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	return errCh
}

// waitForShutdownSignal waits for context cancellation or server error.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		g.drainErrors(errCh)
		return err
	}
}

// drainErrors drains any remaining errors from the channel.
func (g *Gateway) drainErrors(errCh chan error) {
	select {
	case additionalErr := <-errCh:
		g.logger.Error("additional server error", "error", additionalErr)
	default:
	}
}

// Run starts the gateway servers and blocks until the context is canceled.
// Returns nil on graceful shutdown (context canceled), or an error if a server fails.
func (g *Gateway) Run(ctx context.Context) error {
	grpcListener, httpListener, err := g.setupListeners(ctx)
	if err != nil {
		return err
	}

	errCh := g.startServers(grpcListener, httpListener)
	serverErr := g.waitForShutdownSignal(ctx, errCh)

	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// The run context is already canceled at this point.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// resolveTailscaleStateDir returns the state directory, using default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return expandHome(configured), nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "relay", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable")
	}
	return authKey, nil
}

// setupTailscaleListeners creates a tsnet server and returns listeners for gRPC and HTTP.
func (g *Gateway) setupTailscaleListeners(ctx context.Context) (grpcLn, httpLn net.Listener, err error) {
	tsCfg := g.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, nil, err
	}

	g.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	g.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := g.tsnetServer.Up(ctx)
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, nil, fmt.Errorf("starting tailscale: %w", err)
	}

	g.logTailscaleStatus(tsCfg.Hostname, status)
	g.updatePublicURLFromStatus(status)

	if g.grpcServer != nil {
		grpcLn, err = g.tsnetServer.Listen("tcp", tailscaleGRPCPort)
		if err != nil {
			_ = g.tsnetServer.Close()
			return nil, nil, fmt.Errorf("listening on tailscale gRPC port: %w", err)
		}
	}

	httpLn, err = g.createTailscaleHTTPListener(tsCfg, grpcLn)
	if err != nil {
		return nil, nil, err
	}
	return grpcLn, httpLn, nil
}

// logTailscaleStatus logs info about the tailscale node status.
func (g *Gateway) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		g.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	g.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}

// updatePublicURLFromStatus switches the public URL to the full tailnet DNS name.
func (g *Gateway) updatePublicURLFromStatus(status *ipnstate.Status) {
	if status.Self == nil || status.Self.DNSName == "" {
		return
	}
	scheme := "http://"
	if g.config.Tailscale.HTTPS || g.config.Tailscale.Funnel {
		scheme = "https://"
	}
	newURL := scheme + strings.TrimSuffix(status.Self.DNSName, ".")
	if newURL != g.publicURL {
		g.logger.Info("updated public URL to use Tailscale DNS name", "old", g.publicURL, "new", newURL)
		g.publicURL = newURL
	}
}

// closeOnListenError releases the tailnet resources acquired so far.
func (g *Gateway) closeOnListenError(grpcLn net.Listener) {
	if grpcLn != nil {
		_ = grpcLn.Close()
	}
	_ = g.tsnetServer.Close()
}

// createTailscaleHTTPListener creates the appropriate HTTP listener based on config.
func (g *Gateway) createTailscaleHTTPListener(tsCfg config.TailscaleConfig, grpcLn net.Listener) (net.Listener, error) {
	switch {
	case tsCfg.Funnel:
		g.logger.Info("enabling tailscale funnel (public HTTPS) on :443")
		ln, err := g.tsnetServer.ListenFunnel("tcp", ":443")
		if err != nil {
			g.closeOnListenError(grpcLn)
			return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
		}
		return ln, nil
	case tsCfg.HTTPS:
		return g.createTailscaleTLSListener(grpcLn)
	default:
		ln, err := g.tsnetServer.Listen("tcp", ":80")
		if err != nil {
			g.closeOnListenError(grpcLn)
			return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
		}
		return ln, nil
	}
}

// createTailscaleTLSListener creates a TLS listener using Tailscale's auto-provisioned certs.
func (g *Gateway) createTailscaleTLSListener(grpcLn net.Listener) (net.Listener, error) {
	g.logger.Info("enabling HTTPS with Tailscale certs on :443")
	ln, err := g.tsnetServer.Listen("tcp", ":443")
	if err != nil {
		g.closeOnListenError(grpcLn)
		return nil, fmt.Errorf("listening on tailscale HTTPS port: %w", err)
	}
	lc, err := g.tsnetServer.LocalClient()
	if err != nil {
		_ = ln.Close()
		g.closeOnListenError(grpcLn)
		return nil, fmt.Errorf("getting tailscale local client: %w", err)
	}
	return tls.NewListener(ln, &tls.Config{
		GetCertificate: lc.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}), nil
}

// shutdownGRPCServer gracefully stops the gRPC server or force-stops on context cancel.
func (g *Gateway) shutdownGRPCServer(ctx context.Context) {
	if g.grpcServer == nil {
		return
	}
	if g.health != nil {
		g.health.Shutdown()
	}

	stopped := make(chan struct{})
	go func() {
		g.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		g.grpcServer.Stop()
	}
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown gracefully stops all gateway servers and releases resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	// Closing the node first ends every live subscription, so streaming
	// handlers on both servers return and the drains below can finish.
	g.node.Close()

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))
	g.shutdownGRPCServer(ctx)

	if g.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
	}
	errs = appendCloseError(errs, "store close", g.store.Close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK once the node can read its history store.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	info, err := g.node.Info(r.Context())
	if err != nil {
		g.logger.Error("readiness check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("history store unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d channels, %d subscribers)", info.NumChannels, info.NumSubs)
}
