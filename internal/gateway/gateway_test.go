// ABOUTME: Tests for the Gateway orchestrator over real listeners
// ABOUTME: Covers lifecycle, health endpoints, gRPC health, and API key enforcement end to end

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/2389/relay-gateway/internal/api"
	"github.com/2389/relay-gateway/internal/config"
)

// testConfig creates a minimal config for testing with available ports.
func testConfig(t *testing.T) *config.Config {
	t.Helper()

	// Find available ports
	grpcListener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to find available gRPC port: %v", err)
	}
	grpcAddr := grpcListener.Addr().String()
	grpcListener.Close()

	httpListener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to find available HTTP port: %v", err)
	}
	httpAddr := httpListener.Addr().String()
	httpListener.Close()

	return &config.Config{
		Server: config.ServerConfig{
			GRPCAddr: grpcAddr,
			HTTPAddr: httpAddr,
		},
		GRPCAPI: config.GRPCAPIConfig{Enabled: true, Key: "xxx"},
		HTTPAPI: config.HTTPAPIConfig{Enabled: true},
		Database: config.DatabaseConfig{
			Path: ":memory:",
		},
		History: config.HistoryConfig{Size: 10},
		Namespaces: []config.NamespaceConfig{
			{Name: "chat", HistorySize: 10, Presence: true},
		},
		Dedupe: config.DedupeConfig{TTL: time.Minute, MaxSize: 100},
	}
}

// testLogger creates a silent logger for tests.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startGateway runs a gateway until the test ends and waits for it to accept
// HTTP connections.
func startGateway(t *testing.T, cfg *config.Config) *Gateway {
	t.Helper()

	gw, err := New(cfg, testLogger())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = gw.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.Dial("tcp", cfg.Server.HTTPAddr)
		if err == nil {
			conn.Close()
			return gw
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("gateway did not start listening")
	return nil
}

func dialGRPC(t *testing.T, addr string) *grpc.ClientConn {
	t.Helper()
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestGatewayNew(t *testing.T) {
	cfg := testConfig(t)

	gw, err := New(cfg, testLogger())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer gw.Shutdown(context.Background())

	if gw.config != cfg {
		t.Error("gateway config mismatch")
	}
	if gw.node == nil {
		t.Error("node should not be nil")
	}
	if gw.grpcServer == nil {
		t.Error("grpcServer should not be nil when grpc_api is enabled")
	}
	if gw.Executor() == nil {
		t.Error("executor should not be nil")
	}
	if !gw.authz.Enabled() {
		t.Error("authorizer should be enabled when a key is configured")
	}
}

func TestGatewayNew_GRPCDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.GRPCAPI.Enabled = false

	gw, err := New(cfg, testLogger())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer gw.Shutdown(context.Background())

	if gw.grpcServer != nil {
		t.Error("grpcServer should be nil when grpc_api is disabled")
	}
}

func TestGatewayLogsNodeID(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	gw, err := New(testConfig(t), logger)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer gw.Shutdown(context.Background())

	grpcLn, httpLn, err := gw.setupTCPListeners()
	if err != nil {
		t.Fatalf("setupTCPListeners() failed: %v", err)
	}
	grpcLn.Close()
	httpLn.Close()

	want := `"node_id":"` + gw.node.ID() + `"`
	if !bytes.Contains(buf.Bytes(), []byte(want)) {
		t.Errorf("startup log missing %s:\n%s", want, buf.String())
	}
}

func TestGatewayRunAndShutdown(t *testing.T) {
	cfg := testConfig(t)

	gw, err := New(cfg, testLogger())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	// Run gateway in background
	errCh := make(chan error, 1)
	go func() {
		errCh <- gw.Run(ctx)
	}()

	// Give it time to start
	time.Sleep(100 * time.Millisecond)

	// Shutdown via context cancel
	cancel()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("Run() returned unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Error("gateway did not shutdown in time")
	}
}

func TestGatewayShutdownEndsSubscribeStreams(t *testing.T) {
	cfg := testConfig(t)
	gw, err := New(cfg, testLogger())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- gw.Run(ctx) }()
	time.Sleep(100 * time.Millisecond)

	client := api.NewClient(dialGRPC(t, cfg.Server.GRPCAddr))
	stream, err := client.Subscribe(withKey(context.Background(), "xxx"), &api.SubscribeRequest{Channel: "chat:room"})
	if err != nil {
		t.Fatalf("Subscribe() failed: %v", err)
	}

	// Wait for the subscription to register.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		channels, _ := gw.node.Channels("")
		if channels["chat:room"] == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	start := time.Now()
	cancel()

	select {
	case <-errCh:
	case <-time.After(5 * time.Second):
		t.Fatal("gateway did not shutdown in time")
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("shutdown took %v, open streams should not block it", elapsed)
	}

	if _, err := stream.Recv(); err == nil {
		t.Error("expected stream to end after shutdown")
	}
}

func TestHealthEndpoint(t *testing.T) {
	cfg := testConfig(t)
	startGateway(t, cfg)

	resp, err := http.Get("http://" + cfg.Server.HTTPAddr + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
}

func TestReadyEndpoint(t *testing.T) {
	cfg := testConfig(t)
	startGateway(t, cfg)

	resp, err := http.Get("http://" + cfg.Server.HTTPAddr + "/health/ready")
	if err != nil {
		t.Fatalf("ready request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("ready status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
}

func TestGRPCHealthNeedsNoKey(t *testing.T) {
	cfg := testConfig(t)
	startGateway(t, cfg)

	hc := healthpb.NewHealthClient(dialGRPC(t, cfg.Server.GRPCAddr))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, err := hc.Check(ctx, &healthpb.HealthCheckRequest{Service: api.ServiceName})
	if err != nil {
		t.Fatalf("health check failed: %v", err)
	}
	if resp.Status != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("health status = %v, want SERVING", resp.Status)
	}
}

func TestServerAPIKeyOverTCP(t *testing.T) {
	cfg := testConfig(t)
	startGateway(t, cfg)

	client := api.NewClient(dialGRPC(t, cfg.Server.GRPCAddr))

	tests := []struct {
		name     string
		ctx      context.Context
		wantCode codes.Code
	}{
		{"correct key", withKey(context.Background(), "xxx"), codes.OK},
		{"wrong key", withKey(context.Background(), "yyy"), codes.PermissionDenied},
		{"no key", context.Background(), codes.PermissionDenied},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(tt.ctx, 2*time.Second)
			defer cancel()

			_, err := client.Info(ctx, &api.InfoRequest{})
			if got := status.Code(err); got != tt.wantCode {
				t.Errorf("Info() code = %v, want %v (err: %v)", got, tt.wantCode, err)
			}
		})
	}
}

func TestServerAPIViaDial(t *testing.T) {
	cfg := testConfig(t)
	startGateway(t, cfg)

	conn, err := api.Dial(cfg.Server.GRPCAddr, api.DialOptions{APIKey: "xxx"})
	if err != nil {
		t.Fatalf("Dial() failed: %v", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	reply, err := api.NewClient(conn).Publish(ctx, &api.PublishRequest{
		Channel: "chat:room",
		Data:    json.RawMessage(`{"text":"hi"}`),
	})
	if err != nil {
		t.Fatalf("Publish() failed: %v", err)
	}
	if reply.Error != nil {
		t.Fatalf("Publish() application error: %v", reply.Error)
	}
	if reply.Result.Offset != 1 {
		t.Errorf("offset = %d, want 1", reply.Result.Offset)
	}
}

func TestNodeConfigFromGatewayConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.History.TTL = time.Hour

	nc := nodeConfig(cfg, "relay-test")
	if nc.Name != "relay-test" {
		t.Errorf("name = %q, want relay-test", nc.Name)
	}
	if nc.Default.HistorySize != 10 || nc.Default.HistoryTTL != time.Hour {
		t.Errorf("default options = %+v", nc.Default)
	}
	chat, ok := nc.Namespaces["chat"]
	if !ok {
		t.Fatal("chat namespace missing")
	}
	if !chat.Presence || chat.HistorySize != 10 {
		t.Errorf("chat options = %+v", chat)
	}
}

func TestExpandHome(t *testing.T) {
	t.Setenv("HOME", "/home/relay")

	if got := expandHome("~/data/relay.db"); got != "/home/relay/data/relay.db" {
		t.Errorf("expandHome() = %q", got)
	}
	if got := expandHome("/var/lib/relay.db"); got != "/var/lib/relay.db" {
		t.Errorf("expandHome() changed absolute path: %q", got)
	}
	if got := expandHome(":memory:"); got != ":memory:" {
		t.Errorf("expandHome() changed :memory:: %q", got)
	}
}

func TestResolveTailscaleAuthKey(t *testing.T) {
	t.Setenv("TS_AUTHKEY", "")

	if _, err := resolveTailscaleAuthKey(""); err == nil {
		t.Error("expected error without auth key")
	}

	key, err := resolveTailscaleAuthKey("tskey-config")
	if err != nil || key != "tskey-config" {
		t.Errorf("resolveTailscaleAuthKey() = %q, %v", key, err)
	}

	t.Setenv("TS_AUTHKEY", "tskey-env")
	key, err = resolveTailscaleAuthKey("")
	if err != nil || key != "tskey-env" {
		t.Errorf("resolveTailscaleAuthKey() = %q, %v", key, err)
	}
}

func TestDeterminePublicURL(t *testing.T) {
	cfg := testConfig(t)
	if got := determinePublicURL(cfg); got != "http://"+cfg.Server.HTTPAddr {
		t.Errorf("determinePublicURL() = %q", got)
	}

	cfg.Tailscale = config.TailscaleConfig{Enabled: true, Hostname: "relay"}
	if got := determinePublicURL(cfg); got != "http://relay" {
		t.Errorf("determinePublicURL() = %q", got)
	}

	cfg.Tailscale.HTTPS = true
	if got := determinePublicURL(cfg); got != "https://relay" {
		t.Errorf("determinePublicURL() = %q", got)
	}
}
