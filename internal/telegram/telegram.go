package telegram

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"propertysearch/server/internal/httpclient"
)

const DefaultBaseURL = "https://api.telegram.org"

type Config struct {
	BaseURL  string
	BotToken string
	ChatID   string
}

type Service struct {
	logger  *logrus.Logger
	client  *httpclient.Client
	baseURL string
	token   string
	chatID  string
}

func NewService(client *httpclient.Client, cfg Config, logger *logrus.Logger) *Service {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Service{
		logger:  logger,
		client:  client,
		baseURL: baseURL,
		token:   cfg.BotToken,
		chatID:  cfg.ChatID,
	}
}

// SendMessage sends an HTML message to the configured chat
func (s *Service) SendMessage(ctx context.Context, message string) error {
	if s.token == "" {
		return errors.New("telegram bot token is not configured")
	}
	if s.chatID == "" {
		return errors.New("telegram chat ID is not configured")
	}

	form := url.Values{}
	form.Set("chat_id", s.chatID)
	form.Set("text", message)
	form.Set("parse_mode", "HTML")

	resp, err := s.client.PostWithForm(ctx, fmt.Sprintf("%s/bot%s/sendMessage", s.baseURL, s.token), form)
	if err != nil {
		return fmt.Errorf("failed to send message to Telegram API: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusUnauthorized:
		return errors.New("invalid bot token - please check your token from @BotFather")
	case http.StatusBadRequest:
		return fmt.Errorf("invalid chat ID or message format: %s", string(resp.Body))
	case http.StatusForbidden:
		return errors.New("bot was blocked by the user or chat")
	case http.StatusNotFound:
		return errors.New("bot not found - please check your token from @BotFather")
	default:
		return fmt.Errorf("telegram API error (status %d): %s", resp.StatusCode, string(resp.Body))
	}
}

// NotifyRun reports the outcome of a batch task run
func (s *Service) NotifyRun(ctx context.Context, task string, elapsed time.Duration, runErr error) error {
	var b strings.Builder
	if runErr != nil {
		fmt.Fprintf(&b, "<b>Task failed: %s</b>\n", html.EscapeString(task))
	} else {
		fmt.Fprintf(&b, "<b>Task completed: %s</b>\n", html.EscapeString(task))
	}
	fmt.Fprintf(&b, "Duration: %s", elapsed.Round(time.Second))
	if runErr != nil {
		fmt.Fprintf(&b, "\nError: <code>%s</code>", html.EscapeString(runErr.Error()))
	}

	if err := s.SendMessage(ctx, b.String()); err != nil {
		return err
	}
	s.logger.WithField("task", task).Debug("Sent run notification")
	return nil
}
