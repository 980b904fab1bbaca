package bot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultAPIBase = "https://api.telegram.org"

// pollTimeout is the long-poll window requested from getUpdates.
const pollTimeout = 30 * time.Second

// Client is a lightweight Telegram Bot API client using stdlib only.
type Client struct {
	token      string
	apiBase    string
	httpClient *http.Client
}

// ClientOption configures the client.
type ClientOption func(*Client)

// WithAPIBase overrides the Telegram API endpoint, for tests.
func WithAPIBase(base string) ClientOption {
	return func(c *Client) { c.apiBase = base }
}

// NewClient creates a Telegram Bot API client for the given token.
func NewClient(token string, opts ...ClientOption) *Client {
	c := &Client{
		token:   token,
		apiBase: defaultAPIBase,
		// Must outlast the long-poll window.
		httpClient: &http.Client{Timeout: pollTimeout + 15*time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Update is one incoming event from getUpdates.
type Update struct {
	UpdateID int64          `json:"update_id"`
	Message  *Message       `json:"message"`
	Callback *CallbackQuery `json:"callback_query"`
}

type Message struct {
	MessageID int64     `json:"message_id"`
	From      *User     `json:"from"`
	Chat      Chat      `json:"chat"`
	Text      string    `json:"text"`
	Document  *Document `json:"document"`
}

type User struct {
	ID int64 `json:"id"`
}

type Chat struct {
	ID int64 `json:"id"`
}

type Document struct {
	FileID   string `json:"file_id"`
	FileName string `json:"file_name"`
	FileSize int64  `json:"file_size"`
}

type CallbackQuery struct {
	ID      string   `json:"id"`
	From    User     `json:"from"`
	Data    string   `json:"data"`
	Message *Message `json:"message"`
}

// replyKeyboard renders choices as a one-time reply keyboard, one per row.
type replyKeyboard struct {
	Keyboard        [][]keyboardButton `json:"keyboard"`
	ResizeKeyboard  bool               `json:"resize_keyboard"`
	OneTimeKeyboard bool               `json:"one_time_keyboard"`
}

type keyboardButton struct {
	Text string `json:"text"`
}

type keyboardRemove struct {
	RemoveKeyboard bool `json:"remove_keyboard"`
}

func (c *Client) call(ctx context.Context, method string, body interface{}, result interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/%s", c.apiBase, c.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	var wrapper struct {
		OK          bool            `json:"ok"`
		Description string          `json:"description"`
		Result      json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(respBody, &wrapper); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	if !wrapper.OK {
		return fmt.Errorf("telegram %s: %s", method, wrapper.Description)
	}
	if result != nil {
		if err := json.Unmarshal(wrapper.Result, result); err != nil {
			return fmt.Errorf("parsing result: %w", err)
		}
	}
	return nil
}

// GetUpdates long-polls for updates after offset.
func (c *Client) GetUpdates(ctx context.Context, offset int64) ([]Update, error) {
	var updates []Update
	err := c.call(ctx, "getUpdates", map[string]interface{}{
		"offset":          offset,
		"timeout":         int(pollTimeout.Seconds()),
		"allowed_updates": []string{"message", "callback_query"},
	}, &updates)
	if err != nil {
		return nil, err
	}
	return updates, nil
}

// SendMessage sends text to chatID. Non-empty choices become a one-time
// reply keyboard; clearKeyboard removes any previous one.
func (c *Client) SendMessage(ctx context.Context, chatID interface{}, text string, choices []string, clearKeyboard bool) error {
	body := map[string]interface{}{
		"chat_id": chatID,
		"text":    text,
	}
	if len(choices) > 0 {
		kb := replyKeyboard{ResizeKeyboard: true, OneTimeKeyboard: true}
		for _, choice := range choices {
			kb.Keyboard = append(kb.Keyboard, []keyboardButton{{Text: choice}})
		}
		body["reply_markup"] = kb
	} else if clearKeyboard {
		body["reply_markup"] = keyboardRemove{RemoveKeyboard: true}
	}
	return c.call(ctx, "sendMessage", body, nil)
}

// AnswerCallback acknowledges an inline-button press so the client stops
// showing a spinner.
func (c *Client) AnswerCallback(ctx context.Context, callbackID string) error {
	return c.call(ctx, "answerCallbackQuery", map[string]string{"callback_query_id": callbackID}, nil)
}

// FileURL resolves a file_id to a direct download URL via getFile.
func (c *Client) FileURL(ctx context.Context, fileID string) (string, error) {
	var file struct {
		FilePath string `json:"file_path"`
	}
	err := c.call(ctx, "getFile", map[string]string{"file_id": fileID}, &file)
	if err != nil {
		return "", err
	}
	if file.FilePath == "" {
		return "", fmt.Errorf("getFile returned no path")
	}
	return fmt.Sprintf("%s/file/bot%s/%s", c.apiBase, c.token, file.FilePath), nil
}
