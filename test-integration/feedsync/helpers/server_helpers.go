package helpers

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/onsi/gomega"

	v1 "github.com/stacklok/feedsync/internal/api/v1"
	feedsyncapp "github.com/stacklok/feedsync/internal/app"
	"github.com/stacklok/feedsync/internal/config"
)

// ServerTestHelper manages the feedsync server lifecycle for testing
type ServerTestHelper struct {
	ctx        context.Context
	configPath string
	dataDir    string
	baseURL    string
	address    string
	httpClient *http.Client
	app        *feedsyncapp.FeedsyncApp
}

// NewServerTestHelper creates a helper listening on a free loopback port
func NewServerTestHelper(ctx context.Context, configPath, dataDir string) (*ServerTestHelper, error) {
	port, err := freePort()
	if err != nil {
		return nil, err
	}
	address := fmt.Sprintf("127.0.0.1:%d", port)

	return &ServerTestHelper{
		ctx:        ctx,
		configPath: configPath,
		dataDir:    dataDir,
		address:    address,
		baseURL:    "http://" + address,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func freePort() (int, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("failed to find a free port: %w", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port, nil
}

// StartServer builds the application from the config file and starts it in the background
func (s *ServerTestHelper) StartServer() error {
	cfg, err := config.LoadConfig(config.WithConfigPath(s.configPath))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	app, err := feedsyncapp.NewFeedsyncApp(s.ctx,
		feedsyncapp.WithConfig(cfg),
		feedsyncapp.WithAddress(s.address),
		feedsyncapp.WithDataDirectory(s.dataDir),
	)
	if err != nil {
		return fmt.Errorf("failed to build app: %w", err)
	}
	s.app = app

	go func() {
		if err := app.Start(); err != nil {
			// The test fails when it cannot connect
			fmt.Fprintf(os.Stderr, "Server start failed: %v\n", err)
		}
	}()

	return nil
}

// StopServer gracefully stops the server
func (s *ServerTestHelper) StopServer() error {
	if s.app != nil {
		return s.app.Stop(10 * time.Second)
	}
	return nil
}

// WaitForServerReady waits for the server to be ready to accept requests
func (s *ServerTestHelper) WaitForServerReady(timeout time.Duration) {
	gomega.Eventually(func() error {
		resp, err := s.httpClient.Get(s.baseURL + "/readiness")
		if err != nil {
			return err
		}
		defer func() {
			_ = resp.Body.Close()
		}()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("server returned status %d", resp.StatusCode)
		}
		return nil
	}, timeout, 100*time.Millisecond).Should(gomega.Succeed(), "Server should be ready")
}

// RequestFetch posts an on-demand request and decodes the answer
func (s *ServerTestHelper) RequestFetch(source string) (int, *v1.FetchResponse, error) {
	req, err := http.NewRequestWithContext(s.ctx, http.MethodPost,
		fmt.Sprintf("%s/v1/sources/%s/fetch", s.baseURL, source), nil)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set(v1.RequesterHeader, "integration")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return resp.StatusCode, nil, nil
	}

	var body v1.FetchResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to decode fetch response: %w", err)
	}
	return resp.StatusCode, &body, nil
}

// GetStatus reads GET /v1/status
func (s *ServerTestHelper) GetStatus() (*v1.StatusResponse, error) {
	resp, err := s.httpClient.Get(s.baseURL + "/v1/status")
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status returned %d", resp.StatusCode)
	}

	var body v1.StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode status response: %w", err)
	}
	return &body, nil
}
