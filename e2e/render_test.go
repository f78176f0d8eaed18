package e2e

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func validRenderBody() string {
	return fmt.Sprintf(`{
		"eventId": "%s",
		"teamId": "%s",
		"templateId": "tpl-e2e",
		"clips": [
			{"id": "clip-1", "storageKey": "clips/clip-1.mp4", "durationMs": 8000, "stationId": "station-a"}
		]
	}`, uuid.New().String(), uuid.New().String())
}

func startRender(t *testing.T, ta *testApp, body string) string {
	t.Helper()
	resp, err := doAuthRequest(t, ta.app, http.MethodPost, "/api/render/", body)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusAccepted)
	result := parseJSON(t, resp)
	jobID, _ := result["jobId"].(string)
	if jobID == "" {
		t.Fatal("expected 'jobId' in response")
	}
	return jobID
}

func TestRenderStart_Success(t *testing.T) {
	ta := setupApp(t)

	resp, err := doAuthRequest(t, ta.app, http.MethodPost, "/api/render/", validRenderBody())
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusAccepted)

	result := parseJSON(t, resp)
	if result["jobId"] == nil || result["jobId"] == "" {
		t.Error("expected 'jobId' in response")
	}
	if result["status"] != "pending" {
		t.Errorf("expected status 'pending', got %v", result["status"])
	}
}

func TestRenderStart_NoAuth(t *testing.T) {
	ta := setupApp(t)

	resp, err := doRequest(ta.app, http.MethodPost, "/api/render/", validRenderBody(), nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusUnauthorized)
}

func TestRenderStart_InvalidBody(t *testing.T) {
	ta := setupApp(t)

	// Missing teamId and templateId
	body := `{"eventId": "evt-1"}`

	resp, err := doAuthRequest(t, ta.app, http.MethodPost, "/api/render/", body)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusBadRequest)

	result := parseJSON(t, resp)
	errObj, _ := result["error"].(map[string]interface{})
	if errObj == nil || errObj["code"] != "VALIDATION_ERROR" {
		t.Errorf("expected VALIDATION_ERROR, got %v", result)
	}
}

func TestRenderStart_UnknownTemplate(t *testing.T) {
	ta := setupApp(t)

	body := strings.Replace(validRenderBody(), "tpl-e2e", "tpl-missing", 1)

	resp, err := doAuthRequest(t, ta.app, http.MethodPost, "/api/render/", body)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusNotFound)
}

func TestRenderStatus_Success(t *testing.T) {
	ta := setupApp(t)
	jobID := startRender(t, ta, validRenderBody())

	resp, err := doAuthRequest(t, ta.app, http.MethodGet, "/api/render/"+jobID, "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusOK)

	result := parseJSON(t, resp)
	if result["jobId"] != jobID {
		t.Errorf("expected jobId %s, got %v", jobID, result["jobId"])
	}
	if result["status"] != "pending" {
		t.Errorf("expected status 'pending', got %v", result["status"])
	}
	if result["progress"] != float64(0) {
		t.Errorf("expected progress 0, got %v", result["progress"])
	}
}

func TestRenderStatus_NotFound(t *testing.T) {
	ta := setupApp(t)

	resp, err := doAuthRequest(t, ta.app, http.MethodGet, "/api/render/"+uuid.New().String(), "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusNotFound)
}

func TestRenderCancel_Pending(t *testing.T) {
	ta := setupApp(t)
	jobID := startRender(t, ta, validRenderBody())

	resp, err := doAuthRequest(t, ta.app, http.MethodPost, "/api/render/"+jobID+"/cancel", "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusOK)

	result := parseJSON(t, resp)
	if result["status"] != "cancelled" {
		t.Errorf("expected status 'cancelled', got %v", result["status"])
	}

	// Cancelling again conflicts: the job is already terminal.
	resp, err = doAuthRequest(t, ta.app, http.MethodPost, "/api/render/"+jobID+"/cancel", "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusConflict)
}

func TestRenderCancel_AlreadyClaimed(t *testing.T) {
	ta := setupApp(t)
	jobID := startRender(t, ta, validRenderBody())

	claimed, err := ta.jobs.Claim(context.Background(), jobID)
	if err != nil || !claimed {
		t.Fatalf("claim: ok=%v err=%v", claimed, err)
	}

	resp, err := doAuthRequest(t, ta.app, http.MethodPost, "/api/render/"+jobID+"/cancel", "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusConflict)

	result := parseJSON(t, resp)
	errObj, _ := result["error"].(map[string]interface{})
	if errObj == nil || errObj["code"] != "INVALID_STATE" {
		t.Errorf("expected INVALID_STATE, got %v", result)
	}
}

func TestRenderOutput_NotCompleted(t *testing.T) {
	ta := setupApp(t)
	jobID := startRender(t, ta, validRenderBody())

	resp, err := doAuthRequest(t, ta.app, http.MethodGet, "/api/render/"+jobID+"/output", "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusConflict)
}

func TestRenderOutput_Completed(t *testing.T) {
	ta := setupApp(t)
	jobID := startRender(t, ta, validRenderBody())

	// Drive the job to completed the way the worker would.
	ctx := context.Background()
	outputKey := "renders/" + jobID + "/final.mp4"
	if _, err := ta.storage.Upload(ctx, outputKey, strings.NewReader("video bytes"), "video/mp4"); err != nil {
		t.Fatalf("seed output: %v", err)
	}
	if claimed, err := ta.jobs.Claim(ctx, jobID); err != nil || !claimed {
		t.Fatalf("claim: ok=%v err=%v", claimed, err)
	}
	if err := ta.jobs.Complete(ctx, jobID, outputKey); err != nil {
		t.Fatalf("complete: %v", err)
	}

	resp, err := doAuthRequest(t, ta.app, http.MethodGet, "/api/render/"+jobID+"/output", "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusOK)

	result := parseJSON(t, resp)
	url, _ := result["url"].(string)
	if url == "" || !strings.Contains(url, outputKey) {
		t.Errorf("expected signed url for %s, got %q", outputKey, url)
	}
}

func TestRenderList_NewestFirst(t *testing.T) {
	ta := setupApp(t)
	eventID := uuid.New().String()

	var jobIDs []string
	for i := 0; i < 3; i++ {
		body := fmt.Sprintf(`{
			"eventId": "%s",
			"teamId": "team-%d",
			"templateId": "tpl-e2e"
		}`, eventID, i)
		jobIDs = append(jobIDs, startRender(t, ta, body))
	}

	resp, err := doAuthRequest(t, ta.app, http.MethodGet, "/api/events/"+eventID+"/renders", "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusOK)

	result := parseJSON(t, resp)
	jobs, _ := result["jobs"].([]interface{})
	if len(jobs) != 3 {
		t.Fatalf("expected 3 jobs, got %d", len(jobs))
	}
	first, _ := jobs[0].(map[string]interface{})
	if first["jobId"] != jobIDs[2] {
		t.Errorf("expected newest job first, got %v", first["jobId"])
	}
}

func TestRenderList_EmptyEvent(t *testing.T) {
	ta := setupApp(t)

	resp, err := doAuthRequest(t, ta.app, http.MethodGet, "/api/events/"+uuid.New().String()+"/renders", "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusOK)

	result := parseJSON(t, resp)
	jobs, ok := result["jobs"].([]interface{})
	if !ok {
		t.Fatalf("expected jobs array, got %v", result["jobs"])
	}
	if len(jobs) != 0 {
		t.Errorf("expected empty list, got %d jobs", len(jobs))
	}
}
