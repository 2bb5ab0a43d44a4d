package httputil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// maxErrorBody 错误响应体保留的最大字节数
const maxErrorBody = 512

// Client JSON over HTTP 客户端，每个请求只发送一次
type Client struct {
	httpClient *http.Client
	headers    map[string]string
}

// ClientOption 客户端配置选项
type ClientOption func(*Client)

// WithTimeout 设置请求超时时间
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithBearerToken 设置 Authorization: Bearer 请求头
func WithBearerToken(token string) ClientOption {
	return func(c *Client) {
		if token != "" {
			c.headers["Authorization"] = "Bearer " + token
		}
	}
}

// NewClient 创建HTTP客户端，默认超时 30 秒
func NewClient(opts ...ClientOption) *Client {
	client := &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		headers:    map[string]string{"User-Agent": "ragchat/1.0"},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// StatusError 非预期的 HTTP 状态码
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("HTTP请求返回错误状态: %d", e.StatusCode)
	}
	return fmt.Sprintf("HTTP请求返回错误状态: %d: %s", e.StatusCode, e.Body)
}

// PostJSON 发送POST请求（JSON格式）并解析JSON响应
// 非 200/201 状态返回 *StatusError，result 为 nil 时不解析响应体
func (c *Client) PostJSON(ctx context.Context, url string, body interface{}, result interface{}) error {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("序列化请求体失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("创建POST请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("POST请求失败: %w", err)
	}
	defer resp.Body.Close()
	return decodeResponse(resp, result)
}

func decodeResponse(resp *http.Response, result interface{}) error {
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(snippet))}
	}

	if result == nil {
		return nil
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("读取响应失败: %w", err)
	}
	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("解析JSON响应失败: %w", err)
	}
	return nil
}
