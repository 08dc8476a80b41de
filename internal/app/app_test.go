package app

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/jun/gophvault/internal/blob"
	blobmemory "github.com/jun/gophvault/internal/blob/memory"
	"github.com/jun/gophvault/internal/config"
	docmemory "github.com/jun/gophvault/internal/docstore/memory"
	"github.com/jun/gophvault/internal/metrics"
	"github.com/jun/gophvault/internal/model"
	"github.com/jun/gophvault/internal/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func testApp(t *testing.T) (*App, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := metrics.NewMetricsWithRegistry(reg, reg)
	app := New(Deps{
		Store:      docmemory.NewStore(),
		Blobs:      blob.InstrumentedProvider{Next: blobmemory.NewProvider(blobmemory.NewStore()), Kind: blob.KindMemory, Metrics: m},
		Locker:     session.NewMockLocker(),
		HolderID:   "test",
		Metrics:    m,
		JWTSecret:  "test-secret",
		SessionTTL: time.Hour,
		Transfer:   config.TransferConfig{ChunkSize: 1024, MaxParallel: 2},
	})
	t.Cleanup(func() { app.Close() })
	return app, reg
}

func call(t *testing.T, app *App, method, path, token, body string) events.APIGatewayProxyResponse {
	t.Helper()
	req := events.APIGatewayProxyRequest{
		HTTPMethod: method,
		Path:       path,
		Body:       body,
		Headers:    map[string]string{},
	}
	if token != "" {
		req.Headers["Authorization"] = "Bearer " + token
	}
	resp, err := app.HandleRequest(context.Background(), req)
	if err != nil {
		t.Fatalf("HandleRequest returned error: %v", err)
	}
	return resp
}

func TestHandleRequest_Flow(t *testing.T) {
	app, reg := testApp(t)

	resp := call(t, app, "POST", "/api/auth/register", "", `{"userId":"alice","password":"pw"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register: expected 201, got %d: %s", resp.StatusCode, resp.Body)
	}
	var out struct {
		Token string `json:"token"`
	}
	json.Unmarshal([]byte(resp.Body), &out)

	resp = call(t, app, "POST", "/folders", out.Token, `{"name":"Inbox"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create folder: expected 201, got %d: %s", resp.StatusCode, resp.Body)
	}
	var folder model.Folder
	json.Unmarshal([]byte(resp.Body), &folder)

	resp = call(t, app, "PATCH", "/folders/"+folder.ID, out.Token, `{"name":"Archive"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("rename: expected 200, got %d: %s", resp.StatusCode, resp.Body)
	}

	resp = call(t, app, "POST", "/files", out.Token, `{"name":"a.txt","folderId":"`+folder.ID+`","content":"aGVsbG8="}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create file: expected 201, got %d: %s", resp.StatusCode, resp.Body)
	}

	resp = call(t, app, "GET", "/folders", out.Token, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", resp.StatusCode)
	}
	var list struct {
		Folders []model.Folder `json:"folders"`
	}
	json.Unmarshal([]byte(resp.Body), &list)
	if len(list.Folders) != 1 || list.Folders[0].Metadata.Name != "Archive" {
		t.Errorf("unexpected listing: %s", resp.Body)
	}

	resp = call(t, app, "DELETE", "/folders/"+folder.ID, out.Token, "")
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete: expected 204, got %d: %s", resp.StatusCode, resp.Body)
	}

	series, err := testutil.GatherAndCount(reg, "vault_blob_operations_total")
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if series == 0 {
		t.Error("expected instrumented blob operations")
	}
}

func TestHandleRequest_NotFound(t *testing.T) {
	app, _ := testApp(t)

	for _, tc := range []struct{ method, path string }{
		{"GET", "/notes"},
		{"PUT", "/folders"},
		{"GET", "/auth/register"},
		{"POST", "/files/x/copy"},
	} {
		resp := call(t, app, tc.method, tc.path, "", "")
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("%s %s: expected 404, got %d", tc.method, tc.path, resp.StatusCode)
		}
	}
}

func TestHandleRequest_RequiresSession(t *testing.T) {
	app, _ := testApp(t)

	resp := call(t, app, "GET", "/files/abc", "", "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", resp.StatusCode)
	}
}
