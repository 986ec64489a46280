package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/bloxon/controlplane/internal/agent"
	"github.com/bloxon/controlplane/internal/agentclient"
	"github.com/bloxon/controlplane/internal/cloud"
	"github.com/bloxon/controlplane/internal/coreerr"
	"github.com/bloxon/controlplane/internal/matchmaker"
	"github.com/bloxon/controlplane/internal/playerdata"
	"github.com/bloxon/controlplane/internal/registry"
	"github.com/bloxon/controlplane/internal/savebarrier"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeTokenStore resolves one fixed token to a fixed user id, standing in
// for the external session-token store.
type fakeTokenStore struct {
	validToken string
	userID     string
}

func (f *fakeTokenStore) ValidateToken(ctx context.Context, token string) (string, error) {
	if token != f.validToken {
		return "", coreerr.New(coreerr.KindInvalidToken, "unknown token")
	}
	return f.userID, nil
}

func newTestRequestHandler(t *testing.T) (*RequestHandler, *registry.Registry) {
	t.Helper()
	reg := registry.New()
	master := registry.NewHost("master", "10.0.0.1", true)
	master.Status = registry.HostActive
	master.LastHeartbeat = time.Now()
	reg.RegisterHost(master)

	store := playerdata.NewMemoryStore()
	barrier := savebarrier.New(30 * time.Second)
	cloudP := cloud.NewNoopProvider()
	localPM := agent.NewProcessManager("/usr/bin/true", "http://master:8080", 9000, 6)
	remote := agentclient.New()

	mm := matchmaker.New(reg, store, barrier, cloudP, localPM, remote, matchmaker.Config{
		MasterHostID:       "master",
		MasterAddress:      "10.0.0.1",
		ControlPlaneURL:    "http://master:8080",
		MaxServersPerHost:  6,
		MaxServersInMaster: 4,
		BasePort:           9000,
	})

	tokens := &fakeTokenStore{validToken: "good-token", userID: "user-1"}
	return NewRequestHandler(mm, tokens), reg
}

func doRequestServer(h *RequestHandler, token string) *httptest.ResponseRecorder {
	body, _ := json.Marshal(requestServerBody{Token: token})
	req := httptest.NewRequest(http.MethodPost, "/request_server", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	c, _ := gin.CreateTestContext(w)
	c.Request = req
	h.RequestServer(c)
	return w
}

func TestRequestServerHandlerSuccess(t *testing.T) {
	h, _ := newTestRequestHandler(t)

	w := doRequestServer(h, "good-token")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var result matchmaker.Result
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if result.HostID != "master" || result.Private {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestRequestServerHandlerInvalidToken(t *testing.T) {
	h, _ := newTestRequestHandler(t)

	w := doRequestServer(h, "wrong-token")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for an invalid token, got %d: %s", w.Code, w.Body.String())
	}

	var body map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &body)
	errBody, _ := body["error"].(map[string]interface{})
	if errBody["code"] != "invalid_token" {
		t.Fatalf("expected error code invalid_token, got %v", body)
	}
}

func TestRequestServerHandlerMissingToken(t *testing.T) {
	h, _ := newTestRequestHandler(t)

	w := doRequestServer(h, "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a missing token, got %d: %s", w.Code, w.Body.String())
	}
}

func TestRequestServerHandlerMalformedJSON(t *testing.T) {
	h, _ := newTestRequestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/request_server", bytes.NewReader([]byte("{not json")))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = req

	h.RequestServer(c)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed JSON, got %d", w.Code)
	}
}
