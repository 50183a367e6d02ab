package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/spotter/internal/auth"
	"github.com/MarcoPoloResearchLab/spotter/internal/database"
	"github.com/MarcoPoloResearchLab/spotter/internal/images"
	"github.com/MarcoPoloResearchLab/spotter/internal/leaderboard"
	"github.com/MarcoPoloResearchLab/spotter/internal/metrics"
	"github.com/MarcoPoloResearchLab/spotter/internal/pins"
	"github.com/MarcoPoloResearchLab/spotter/internal/ratelimit"
	"github.com/MarcoPoloResearchLab/spotter/internal/realtime"
	"github.com/MarcoPoloResearchLab/spotter/internal/users"
	"github.com/gin-gonic/gin"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

const (
	testSigningSecret = "test-signing-secret"
	testIssuer        = "spotter-test"
)

// pngHeader is the smallest prefix mimetype recognises as image/png.
var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'}

func init() {
	gin.SetMode(gin.TestMode)
}

type testStack struct {
	server   *httptest.Server
	issuer   *auth.TokenIssuer
	hub      *realtime.Hub
	users    *users.Service
	recorder *metrics.Recorder
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()
	logger := zap.NewNop()

	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "spotter.db"), logger)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	directory, err := users.NewService(users.ServiceConfig{Database: db, Logger: logger})
	if err != nil {
		t.Fatalf("failed to construct directory: %v", err)
	}
	store, err := pins.NewStore(pins.StoreConfig{Database: db, Directory: directory, Logger: logger})
	if err != nil {
		t.Fatalf("failed to construct pin store: %v", err)
	}
	imageStore, err := images.NewDiskStore(images.DiskStoreConfig{
		Fs:        afero.NewMemMapFs(),
		Directory: "uploads",
		URLPrefix: "/uploads",
		Logger:    logger,
	})
	if err != nil {
		t.Fatalf("failed to construct image store: %v", err)
	}
	recorder := metrics.NewRecorder()

	hub := realtime.NewHub(realtime.HubConfig{Directory: directory, Metrics: recorder, Logger: logger})
	hubContext, cancelHub := context.WithCancel(context.Background())
	hubStopped := make(chan struct{})
	go func() {
		defer close(hubStopped)
		_ = hub.Run(hubContext)
	}()

	ingestor, err := pins.NewIngestor(pins.IngestorConfig{
		Store:     store,
		Limiter:   ratelimit.NewMemoryLimiter(ratelimit.Policy{Capacity: 5, Window: 30 * time.Minute}),
		Images:    imageStore,
		Publisher: hub,
		Metrics:   recorder,
		Logger:    logger,
	})
	if err != nil {
		t.Fatalf("failed to construct ingestor: %v", err)
	}
	ranking, err := leaderboard.NewService(leaderboard.Config{Source: store, Directory: directory, Metrics: recorder, Logger: logger})
	if err != nil {
		t.Fatalf("failed to construct leaderboard: %v", err)
	}
	validator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{SigningSecret: []byte(testSigningSecret), Issuer: testIssuer})
	if err != nil {
		t.Fatalf("failed to construct validator: %v", err)
	}
	liveFeed, err := realtime.NewHandler(realtime.HandlerConfig{Hub: hub, Tokens: validator, Logger: logger})
	if err != nil {
		t.Fatalf("failed to construct live feed handler: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		TokenValidator: validator,
		Principals:     directory,
		Ingestor:       ingestor,
		Pins:           store,
		Leaderboard:    ranking,
		Directory:      directory,
		LiveFeed:       liveFeed,
		Metrics:        recorder.Handler(),
		Uploads:        imageStore.FileSystem(),
		UploadsPrefix:  imageStore.URLPrefix(),
		AllowedOrigins: []string{"https://app.example.com"},
		Logger:         logger,
	})
	if err != nil {
		t.Fatalf("failed to construct router: %v", err)
	}

	server := httptest.NewServer(handler)
	t.Cleanup(func() {
		server.Close()
		cancelHub()
		<-hubStopped
	})

	return &testStack{
		server:   server,
		issuer:   auth.NewTokenIssuer(auth.TokenIssuerConfig{SigningSecret: []byte(testSigningSecret), Issuer: testIssuer}),
		hub:      hub,
		users:    directory,
		recorder: recorder,
	}
}

func (s *testStack) token(t *testing.T, userID int64, username string) string {
	t.Helper()
	token, _, err := s.issuer.Issue(userID, username)
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	return token
}

func (s *testStack) do(t *testing.T, method, path, token, contentType string, body io.Reader) *http.Response {
	t.Helper()
	if body == nil {
		body = http.NoBody
	}
	request, err := http.NewRequest(method, s.server.URL+path, body)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	if contentType != "" {
		request.Header.Set("Content-Type", contentType)
	}
	response, err := s.server.Client().Do(request)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	t.Cleanup(func() { _ = response.Body.Close() })
	return response
}

func (s *testStack) postJSON(t *testing.T, token string, payload any) *http.Response {
	t.Helper()
	encoded, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("failed to encode payload: %v", err)
	}
	return s.do(t, http.MethodPost, "/api/pins", token, "application/json", bytes.NewReader(encoded))
}

func decodeBody[T any](t *testing.T, response *http.Response) T {
	t.Helper()
	var value T
	if err := json.NewDecoder(response.Body).Decode(&value); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return value
}

func expectStatus(t *testing.T, response *http.Response, want int) {
	t.Helper()
	if response.StatusCode != want {
		body, _ := io.ReadAll(response.Body)
		t.Fatalf("expected status %d, got %d: %s", want, response.StatusCode, body)
	}
}

func pinPayload(lat, lng float64, description string) map[string]any {
	return map[string]any{"lat": lat, "lng": lng, "description": description}
}
