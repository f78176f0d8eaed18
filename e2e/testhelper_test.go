package e2e

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/stationquest/render-api/internal/auth"
	"github.com/stationquest/render-api/internal/client"
	"github.com/stationquest/render-api/internal/handler"
	"github.com/stationquest/render-api/internal/middleware"
	"github.com/stationquest/render-api/internal/model"
	"github.com/stationquest/render-api/internal/service"
	"github.com/stationquest/render-api/internal/store"
)

const testJWTSecret = "test-secret-for-e2e"

// testApp holds the components the API tests drive directly.
type testApp struct {
	app       *fiber.App
	jobs      *store.MemoryStore
	templates *store.MemoryTemplates
	storage   client.StorageClient
}

// setupApp creates a Fiber app with the same routes as main.go, backed by
// in-memory stores and local disk storage so no Redis or R2 is needed. Rate
// limiting is left out: it needs Redis and has its own unit coverage.
func setupApp(t *testing.T) *testApp {
	t.Helper()

	jobs := store.NewMemoryStore()
	templates := store.NewMemoryTemplates(testTemplate())

	storage, err := client.NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("failed to init local storage: %v", err)
	}

	validate := validator.New()
	renderService := service.NewRenderService(jobs, templates, storage, 3, time.Hour)
	renderHandler := handler.NewRenderHandler(renderService, validate)
	authMiddleware := middleware.NewAuthMiddleware(testJWTSecret)

	app := fiber.New()

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api", authMiddleware.Authenticate())

	render := api.Group("/render")
	render.Post("/", renderHandler.Start)
	render.Get("/:jobId", renderHandler.Status)
	render.Get("/:jobId/output", renderHandler.Output)
	render.Post("/:jobId/cancel", renderHandler.Cancel)

	api.Get("/events/:eventId/renders", renderHandler.ListForEvent)

	return &testApp{app: app, jobs: jobs, templates: templates, storage: storage}
}

func testTemplate() *model.VideoTemplate {
	s, e := int64(0), int64(3000)
	return &model.VideoTemplate{
		ID:         "tpl-e2e",
		Name:       "Highlight Reel",
		StorageKey: "templates/tpl-e2e.mp4",
		Width:      1280,
		Height:     720,
		Scenes: []model.Scene{
			{Index: 0, Kind: model.SceneIntro, StartMS: &s, EndMS: &e},
			{Index: 1, Kind: model.SceneUserClip},
			{Index: 2, Kind: model.SceneOutro, StartMS: &s, EndMS: &e},
		},
	}
}

// generateToken creates an HMAC JWT token for test requests.
func generateToken(t *testing.T) string {
	t.Helper()
	claims := auth.Claims{
		UserID: "test-user-123",
		OrgID:  "test-org-456",
		Email:  "organizer@example.com",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer: "stationquest-api",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("failed to generate test token: %v", err)
	}
	return signed
}

// doRequest is a helper to perform HTTP requests against the test app.
func doRequest(app *fiber.App, method, path string, body string, headers map[string]string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, path, bodyReader)
	if err != nil {
		return nil, err
	}

	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return app.Test(req, -1)
}

// doAuthRequest performs an authenticated request.
func doAuthRequest(t *testing.T, app *fiber.App, method, path, body string) (*http.Response, error) {
	t.Helper()
	token := generateToken(t)
	return doRequest(app, method, path, body, map[string]string{
		"Authorization": "Bearer " + token,
	})
}

// readBody reads and returns the response body as a string.
func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	return string(b)
}

// parseJSON parses response body into a map.
func parseJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	body := readBody(t, resp)
	var result map[string]interface{}
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		t.Fatalf("failed to parse JSON: %v\nbody: %s", err, body)
	}
	return result
}

// assertStatus checks the HTTP status code.
func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}
