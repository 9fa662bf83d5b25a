// Package tasks はGoogle Tasks APIのクライアントを提供する。
// タスクの作成・更新・削除と、プル照合用のフル一覧取得を含む。
package tasks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/taskbridge/internal/model"
	"github.com/hitoshi/taskbridge/internal/security"
)

// defaultBaseURL はGoogle Tasks APIのベースURL。
const defaultBaseURL = "https://tasks.googleapis.com/tasks/v1"

// TokenProvider は呼び出しごとの有効なアクセストークン解決インターフェース。
type TokenProvider interface {
	// GetAccessToken は現在有効なアクセストークンを返す。
	// 必要に応じて透過的にリフレッシュされる。
	GetAccessToken(ctx context.Context, userID string) (string, error)

	// ForceRefresh は有効期限に関わらずリフレッシュし、新しいトークンを返す。
	ForceRefresh(ctx context.Context, userID string) (string, error)
}

// APIMetrics はリモートAPI呼び出しの計測インターフェース。
type APIMetrics interface {
	RecordRemoteAPIStatus(statusCode int)
	RecordRemoteAPILatency(duration time.Duration)
}

// Client はGoogle Tasks APIのクライアント。
// 送信前にx/time/rateのトークンバケットで呼び出しペースを調整し、
// クォータ超過を未然に防ぐ。401応答時はリフレッシュ後に1回だけ再試行する。
type Client struct {
	httpClient *http.Client
	tokens     TokenProvider
	sanitizer  security.NoteSanitizer
	pacer      *rate.Limiter
	metrics    APIMetrics
	tasklist   string
	baseURL    string // テスト用にエンドポイントを差し替え可能
}

// Config はClientの設定。
type Config struct {
	// Timeout はHTTPリクエストのタイムアウト。
	Timeout time.Duration
	// Rate は1秒あたりのリクエスト数上限。
	Rate float64
	// Burst はバースト許容量。
	Burst int
	// Tasklist は操作対象のタスクリストID。空なら"@default"。
	Tasklist string
}

// NewClient はClientの新しいインスタンスを生成する。metricsはnil可。
func NewClient(cfg Config, tokens TokenProvider, sanitizer security.NoteSanitizer, metrics APIMetrics) *Client {
	tasklist := cfg.Tasklist
	if tasklist == "" {
		tasklist = "@default"
	}
	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		tokens:     tokens,
		sanitizer:  sanitizer,
		pacer:      rate.NewLimiter(rate.Limit(cfg.Rate), cfg.Burst),
		metrics:    metrics,
		tasklist:   tasklist,
		baseURL:    defaultBaseURL,
	}
}

// Insert はタスクを作成し、リモートが採番したタスクを返す。
// ノートはサニタイズしてから送信する。
func (c *Client) Insert(ctx context.Context, userID string, task *model.RemoteTask) (*model.RemoteTask, error) {
	body, err := json.Marshal(c.outbound(task))
	if err != nil {
		return nil, fmt.Errorf("failed to encode task: %w", err)
	}

	respBody, err := c.do(ctx, userID, http.MethodPost, c.tasksURL(""), body)
	if err != nil {
		return nil, err
	}

	return decodeTask(respBody)
}

// Patch はタスクを部分更新し、更新後のタスクを返す。
func (c *Client) Patch(ctx context.Context, userID, remoteID string, task *model.RemoteTask) (*model.RemoteTask, error) {
	if remoteID == "" {
		return nil, model.NewValidationError("remoteID is required")
	}

	body, err := json.Marshal(c.outbound(task))
	if err != nil {
		return nil, fmt.Errorf("failed to encode task: %w", err)
	}

	respBody, err := c.do(ctx, userID, http.MethodPatch, c.tasksURL(remoteID), body)
	if err != nil {
		return nil, err
	}

	return decodeTask(respBody)
}

// Delete はタスクを削除する。リモート側で既に存在しない場合（404）は
// 削除済みとみなしエラーにしない（冪等）。
func (c *Client) Delete(ctx context.Context, userID, remoteID string) error {
	if remoteID == "" {
		return model.NewValidationError("remoteID is required")
	}

	_, err := c.do(ctx, userID, http.MethodDelete, c.tasksURL(remoteID), nil)
	if err != nil {
		apiErr := model.AsAPIError(err)
		if apiErr != nil && apiErr.Category == model.CategoryRemote && apiErr.StatusCode == http.StatusNotFound {
			slog.Debug("remote task already gone", slog.String("remote_id", remoteID))
			return nil
		}
		return err
	}
	return nil
}

// List はタスクリストのフル一覧を返す（デルタではない）。
// ページングを辿ってすべてのアイテムを集める。
func (c *Client) List(ctx context.Context, userID string) ([]model.RemoteTask, error) {
	var all []model.RemoteTask
	pageToken := ""

	for {
		listURL := c.tasksURL("")
		if pageToken != "" {
			q := url.Values{}
			q.Set("pageToken", pageToken)
			listURL += "?" + q.Encode()
		}

		respBody, err := c.do(ctx, userID, http.MethodGet, listURL, nil)
		if err != nil {
			return nil, err
		}

		var page struct {
			Items         []model.RemoteTask `json:"items"`
			NextPageToken string             `json:"nextPageToken"`
		}
		if err := json.Unmarshal(respBody, &page); err != nil {
			return nil, fmt.Errorf("failed to decode task list: %w", err)
		}

		all = append(all, page.Items...)
		if page.NextPageToken == "" {
			return all, nil
		}
		pageToken = page.NextPageToken
	}
}

// do はペース調整・認可付きでHTTPリクエストを実行し、レスポンスボディを返す。
// 401応答はリフレッシュ後に1回だけ再試行し、それでも401なら認証エラーを返す。
func (c *Client) do(ctx context.Context, userID, method, reqURL string, body []byte) ([]byte, error) {
	if err := c.pacer.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate pacing interrupted: %w", err)
	}

	token, err := c.tokens.GetAccessToken(ctx, userID)
	if err != nil {
		return nil, err
	}

	respBody, status, err := c.send(ctx, method, reqURL, body, token)
	if err != nil {
		return nil, err
	}

	if status == http.StatusUnauthorized {
		slog.Info("access token rejected, retrying once after refresh",
			slog.String("user_id", userID),
		)
		token, err = c.tokens.ForceRefresh(ctx, userID)
		if err != nil {
			return nil, err
		}
		respBody, status, err = c.send(ctx, method, reqURL, body, token)
		if err != nil {
			return nil, err
		}
		if status == http.StatusUnauthorized {
			return nil, model.NewUnauthorizedError()
		}
	}

	if status < 200 || status >= 300 {
		return nil, model.NewRemoteAPIError(status, string(respBody))
	}

	return respBody, nil
}

// send はHTTPリクエストを1回実行する。レスポンスボディとステータスを返す。
func (c *Client) send(ctx context.Context, method, reqURL string, body []byte, token string) ([]byte, int, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, model.NewRemoteAPIError(0, err.Error())
	}
	defer resp.Body.Close()

	if c.metrics != nil {
		c.metrics.RecordRemoteAPIStatus(resp.StatusCode)
		c.metrics.RecordRemoteAPILatency(time.Since(start))
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read response body: %w", err)
	}

	return respBody, resp.StatusCode, nil
}

// outbound は送信用にタスクを複製し、ノートをサニタイズする。
func (c *Client) outbound(task *model.RemoteTask) *model.RemoteTask {
	out := *task
	if c.sanitizer != nil && out.Notes != "" {
		out.Notes = c.sanitizer.Sanitize(out.Notes)
	}
	// リモート採番のフィールドは送らない
	out.ID = ""
	out.Updated = ""
	return &out
}

func (c *Client) tasksURL(remoteID string) string {
	base := fmt.Sprintf("%s/lists/%s/tasks", c.baseURL, url.PathEscape(c.tasklist))
	if remoteID == "" {
		return base
	}
	return base + "/" + url.PathEscape(remoteID)
}

func decodeTask(body []byte) (*model.RemoteTask, error) {
	var task model.RemoteTask
	if err := json.Unmarshal(body, &task); err != nil {
		return nil, fmt.Errorf("failed to decode task: %w", err)
	}
	return &task, nil
}
