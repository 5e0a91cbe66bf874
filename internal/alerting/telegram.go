package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"fxreport/internal/logging"
	"fxreport/internal/report"
)

const channelTelegram = "telegram"

// TelegramNotifier 通过 Telegram Bot API 发送报表文件。
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier 构造 Telegram 投递器。
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logging.Component(logger, "alert_telegram"),
	}
}

// Send 调用 sendDocument API 上传报表并附带说明文字。
func (n *TelegramNotifier) Send(ctx context.Context, artifact report.Artifact, caption string) error {
	body, contentType, err := documentForm(n.chatID, caption, artifact)
	if err != nil {
		return &DeliveryError{Channel: channelTelegram, Err: err}
	}

	url := fmt.Sprintf("%s/bot%s/sendDocument", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return &DeliveryError{Channel: channelTelegram, Err: fmt.Errorf("create telegram request: %w", err)}
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := n.client.Do(req)
	if err != nil {
		return &DeliveryError{Channel: channelTelegram, Err: fmt.Errorf("send telegram request: %w", err)}
	}
	defer resp.Body.Close()

	var result struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	decodeErr := json.NewDecoder(resp.Body).Decode(&result)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := fmt.Sprintf("telegram 响应码异常: %d", resp.StatusCode)
		if result.Description != "" {
			msg += ": " + result.Description
		}
		return &DeliveryError{Channel: channelTelegram, Status: resp.StatusCode, Err: errors.New(msg)}
	}
	if decodeErr == nil && !result.OK {
		return &DeliveryError{Channel: channelTelegram, Status: resp.StatusCode, Err: fmt.Errorf("telegram 返回 ok=false: %s", result.Description)}
	}

	n.logger.Info().
		Str("artifact", artifact.Name).
		Int("bytes", len(artifact.Data)).
		Msg("报表已发送 (Telegram)")
	return nil
}

func documentForm(chatID, caption string, artifact report.Artifact) (*bytes.Buffer, string, error) {
	buf := &bytes.Buffer{}
	form := multipart.NewWriter(buf)

	if err := form.WriteField("chat_id", chatID); err != nil {
		return nil, "", err
	}
	if caption != "" {
		if err := form.WriteField("caption", caption); err != nil {
			return nil, "", err
		}
	}
	part, err := form.CreateFormFile("document", artifact.Name)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(artifact.Data); err != nil {
		return nil, "", err
	}
	if err := form.Close(); err != nil {
		return nil, "", err
	}
	return buf, form.FormDataContentType(), nil
}

var _ Notifier = (*TelegramNotifier)(nil)
