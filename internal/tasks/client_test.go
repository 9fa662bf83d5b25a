package tasks

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/taskbridge/internal/model"
	"github.com/hitoshi/taskbridge/internal/security"
)

// --- モック定義 ---

type mockTokenProvider struct {
	getFn        func(ctx context.Context, userID string) (string, error)
	forceFn      func(ctx context.Context, userID string) (string, error)
	getCalls     int
	refreshCalls int
}

func (m *mockTokenProvider) GetAccessToken(ctx context.Context, userID string) (string, error) {
	m.getCalls++
	if m.getFn != nil {
		return m.getFn(ctx, userID)
	}
	return "valid-token", nil
}

func (m *mockTokenProvider) ForceRefresh(ctx context.Context, userID string) (string, error) {
	m.refreshCalls++
	if m.forceFn != nil {
		return m.forceFn(ctx, userID)
	}
	return "refreshed-token", nil
}

var _ TokenProvider = (*mockTokenProvider)(nil)

func newTestClient(serverURL string, tokens TokenProvider) *Client {
	c := NewClient(Config{
		Timeout: 5 * time.Second,
		Rate:    1000,
		Burst:   1000,
	}, tokens, security.NewNoteSanitizer(), nil)
	c.baseURL = serverURL
	return c
}

// --- テスト ---

// Insertはサニタイズ済みノートとBearerトークン付きでPOSTする
func TestInsert_SendsSanitizedTaskWithBearer(t *testing.T) {
	var gotAuth, gotPath string
	var gotBody map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(model.RemoteTask{ID: "remote-1", Title: "買い物"})
	}))
	defer ts.Close()

	client := newTestClient(ts.URL, &mockTokenProvider{})

	created, err := client.Insert(context.Background(), "u1", &model.RemoteTask{
		Title: "買い物",
		Notes: "<script>alert(1)</script>牛乳を買う",
	})
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if created.ID != "remote-1" {
		t.Errorf("created.ID = %q, want remote-1", created.ID)
	}
	if gotAuth != "Bearer valid-token" {
		t.Errorf("Authorization = %q, want Bearer valid-token", gotAuth)
	}
	if gotPath != "/lists/@default/tasks" {
		t.Errorf("path = %q, want /lists/@default/tasks", gotPath)
	}
	if gotBody["notes"] != "牛乳を買う" {
		t.Errorf("notes = %q, want sanitized text", gotBody["notes"])
	}
	if _, exists := gotBody["id"]; exists {
		t.Error("request body should not carry a remote-assigned id")
	}
}

// 401応答時はリフレッシュ後に1回だけ再試行する
func TestDo_Unauthorized_RetriesOnceAfterRefresh(t *testing.T) {
	var authHeaders []string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeaders = append(authHeaders, r.Header.Get("Authorization"))
		if r.Header.Get("Authorization") == "Bearer stale-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(model.RemoteTask{ID: "remote-1"})
	}))
	defer ts.Close()

	tokens := &mockTokenProvider{
		getFn: func(_ context.Context, _ string) (string, error) {
			return "stale-token", nil
		},
	}
	client := newTestClient(ts.URL, tokens)

	created, err := client.Insert(context.Background(), "u1", &model.RemoteTask{Title: "t"})
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if created.ID != "remote-1" {
		t.Errorf("created.ID = %q, want remote-1", created.ID)
	}
	if tokens.refreshCalls != 1 {
		t.Errorf("ForceRefresh calls = %d, want 1", tokens.refreshCalls)
	}
	if len(authHeaders) != 2 || authHeaders[1] != "Bearer refreshed-token" {
		t.Errorf("auth headers = %v, want retry with refreshed token", authHeaders)
	}
}

// リフレッシュ後も401なら認証エラーを返し、それ以上再試行しない
func TestDo_UnauthorizedTwice_ReturnsAuthError(t *testing.T) {
	requests := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer ts.Close()

	client := newTestClient(ts.URL, &mockTokenProvider{})

	_, err := client.Insert(context.Background(), "u1", &model.RemoteTask{Title: "t"})
	if err == nil {
		t.Fatal("expected error for persistent 401")
	}
	if !model.IsAuthError(err) {
		t.Errorf("expected auth error, got %v", err)
	}
	if requests != 2 {
		t.Errorf("requests = %d, want exactly 2 (original + one retry)", requests)
	}
}

// 5xx応答はステータス付きのリモートAPIエラーになる
func TestDo_ServerError_ReturnsRemoteAPIError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "backend unavailable", http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	client := newTestClient(ts.URL, &mockTokenProvider{})

	_, err := client.Insert(context.Background(), "u1", &model.RemoteTask{Title: "t"})
	if err == nil {
		t.Fatal("expected error for 503")
	}
	apiErr := model.AsAPIError(err)
	if apiErr == nil || apiErr.Category != model.CategoryRemote {
		t.Fatalf("expected remote error, got %v", err)
	}
	if apiErr.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("StatusCode = %d, want 503", apiErr.StatusCode)
	}
}

// PatchはremoteIDをパスに含めてPATCHする
func TestPatch_TargetsRemoteID(t *testing.T) {
	var gotMethod, gotPath string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		json.NewEncoder(w).Encode(model.RemoteTask{ID: "remote-1", Title: "更新後"})
	}))
	defer ts.Close()

	client := newTestClient(ts.URL, &mockTokenProvider{})

	updated, err := client.Patch(context.Background(), "u1", "remote-1", &model.RemoteTask{Title: "更新後"})
	if err != nil {
		t.Fatalf("Patch failed: %v", err)
	}
	if gotMethod != http.MethodPatch {
		t.Errorf("method = %q, want PATCH", gotMethod)
	}
	if gotPath != "/lists/@default/tasks/remote-1" {
		t.Errorf("path = %q", gotPath)
	}
	if updated.Title != "更新後" {
		t.Errorf("updated.Title = %q", updated.Title)
	}
}

// Deleteはリモート側404を削除済みとみなしエラーにしない
func TestDelete_NotFound_TreatedAsAlreadyDeleted(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	client := newTestClient(ts.URL, &mockTokenProvider{})

	if err := client.Delete(context.Background(), "u1", "gone"); err != nil {
		t.Errorf("Delete returned error for 404: %v", err)
	}
}

// Listはページングを辿って全件を返す
func TestList_FollowsPagination(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("pageToken") == "" {
			json.NewEncoder(w).Encode(map[string]any{
				"items":         []model.RemoteTask{{ID: "a"}, {ID: "b"}},
				"nextPageToken": "page-2",
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"items": []model.RemoteTask{{ID: "c"}},
		})
	}))
	defer ts.Close()

	client := newTestClient(ts.URL, &mockTokenProvider{})

	items, err := client.List(context.Background(), "u1")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("items = %d, want 3", len(items))
	}
	if items[0].ID != "a" || items[2].ID != "c" {
		t.Errorf("items = %v, want [a b c]", items)
	}
}

// トークン解決失敗時はネットワーク呼び出しを行わない
func TestDo_TokenResolutionFails_NoNetworkCall(t *testing.T) {
	requests := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
	}))
	defer ts.Close()

	tokens := &mockTokenProvider{
		getFn: func(_ context.Context, userID string) (string, error) {
			return "", model.NewMissingCredentialError(userID)
		},
	}
	client := newTestClient(ts.URL, tokens)

	_, err := client.Insert(context.Background(), "u1", &model.RemoteTask{Title: "t"})
	if err == nil {
		t.Fatal("expected error when token resolution fails")
	}
	if !model.IsAuthError(err) {
		t.Errorf("expected auth error, got %v", err)
	}
	if requests != 0 {
		t.Errorf("requests = %d, want 0", requests)
	}
}
