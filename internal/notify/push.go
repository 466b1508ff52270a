package notify

import (
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// PushRequest 推送网关请求体
type PushRequest struct {
	Title    string `json:"title"`
	Body     string `json:"body"`
	Category string `json:"category"`
}

// PushResponse 推送网关响应
type PushResponse struct {
	Status int    `json:"status"`
	Msg    string `json:"msg"`
}

// PushDispatcher 通过推送网关 HTTP API 投递通知。
// 投递是 fire-and-forget：失败只记日志，唤醒的兜底在本地失效保护。
type PushDispatcher struct {
	httpClient *resty.Client
	logger     *zap.Logger
}

// NewPushDispatcher 创建推送分发器
func NewPushDispatcher(baseURL, token string, logger *zap.Logger) *PushDispatcher {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10*time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500*time.Millisecond).
		SetRetryMaxWaitTime(2*time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	if token != "" {
		client.SetAuthToken(token)
	}

	return &PushDispatcher{
		httpClient: client,
		logger:     logger,
	}
}

func (d *PushDispatcher) Notify(title, body, category string) {
	var response PushResponse
	resp, err := d.httpClient.R().
		SetBody(PushRequest{Title: title, Body: body, Category: category}).
		SetResult(&response).
		Post("/push/send")

	if err != nil {
		d.logger.Error("Push gateway call failed",
			zap.String("category", category),
			zap.Error(err),
		)
		return
	}

	if resp.StatusCode() >= 300 || response.Status != 0 {
		d.logger.Error("Push gateway returned error",
			zap.Int("status_code", resp.StatusCode()),
			zap.Int("status", response.Status),
			zap.String("msg", response.Msg),
		)
		return
	}

	d.logger.Info("Notification pushed",
		zap.String("title", title),
		zap.String("category", category),
	)
}
