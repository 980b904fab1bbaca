// Package bot is the Telegram transport: it long-polls for operator input,
// routes commands and uploads into the wizard engine, and delivers
// notifications.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/egorin/apkhub/internal/catalog"
	"github.com/egorin/apkhub/internal/config"
	"github.com/egorin/apkhub/internal/history"
	"github.com/egorin/apkhub/internal/hostinfo"
	"github.com/egorin/apkhub/internal/scheduler"
	"github.com/egorin/apkhub/internal/wizard"
)

// maxUploadSize is the largest document accepted from the chat.
const maxUploadSize = 50 << 20

const serviceUnit = "apkhub"

// Sweeper triggers one catalog sweep.
type Sweeper interface {
	Sweep(ctx context.Context) (scheduler.Summary, error)
}

// Bot dispatches Telegram updates.
type Bot struct {
	client  *Client
	cfg     *config.Config
	store   *catalog.Store
	engine  *wizard.Engine
	sweeper Sweeper
	hist    *history.Store
}

// SetHistory attaches the publish-history store so /status can report the
// last sweep. Optional.
func (b *Bot) SetHistory(h *history.Store) {
	b.hist = h
}

// New creates a Bot for the configured token.
func New(cfg *config.Config, store *catalog.Store, engine *wizard.Engine, sweeper Sweeper, opts ...ClientOption) *Bot {
	return &Bot{
		client:  NewClient(cfg.Bot.Token, opts...),
		cfg:     cfg,
		store:   store,
		engine:  engine,
		sweeper: sweeper,
	}
}

// Run long-polls for updates until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	log.Printf("[bot] polling for updates")
	var offset int64
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		updates, err := b.client.GetUpdates(ctx, offset)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Printf("[bot] getUpdates: %v", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(5 * time.Second):
			}
			continue
		}
		b.engine.ReapIdle()
		for _, u := range updates {
			if u.UpdateID >= offset {
				offset = u.UpdateID + 1
			}
			b.dispatch(ctx, u)
		}
	}
}

// Notify implements the notification sink. Skipped silently when no
// notification chat is configured; delivery problems are logged and dropped.
func (b *Bot) Notify(ctx context.Context, text string) {
	target := b.cfg.Bot.NotifyChatID
	if target == "" || b.cfg.Bot.Token == "" {
		return
	}
	var chat interface{} = target
	if id, err := strconv.ParseInt(target, 10, 64); err == nil {
		chat = id
	}
	if err := b.client.SendMessage(ctx, chat, text, nil, false); err != nil {
		log.Printf("[bot] notify: %v", err)
	}
}

func (b *Bot) dispatch(ctx context.Context, u Update) {
	switch {
	case u.Callback != nil:
		if err := b.client.AnswerCallback(ctx, u.Callback.ID); err != nil {
			log.Printf("[bot] answerCallback: %v", err)
		}
		if u.Callback.Message == nil {
			return
		}
		if p, ok := b.engine.HandleText(ctx, u.Callback.From.ID, u.Callback.Data); ok {
			b.reply(ctx, u.Callback.Message.Chat.ID, p)
		}
	case u.Message != nil:
		b.handleMessage(ctx, u.Message)
	}
}

func (b *Bot) handleMessage(ctx context.Context, m *Message) {
	if m.From == nil {
		return
	}
	op := m.From.ID
	chat := m.Chat.ID

	if m.Document != nil {
		b.handleDocument(ctx, op, chat, m.Document)
		return
	}

	text := strings.TrimSpace(m.Text)
	if !strings.HasPrefix(text, "/") {
		if p, ok := b.engine.HandleText(ctx, op, text); ok {
			b.reply(ctx, chat, p)
		}
		return
	}

	cmd, _, _ := strings.Cut(text, " ")
	cmd, _, _ = strings.Cut(cmd, "@")
	switch cmd {
	case "/start":
		b.send(ctx, chat, "APK Hub bot.\n\n"+
			"/apps — list the catalog\n"+
			"/status — host and service status\n"+
			"/updateall — sweep all update sources\n"+
			"/addapp — add an app\n"+
			"/removeapp — remove an app\n"+
			"/updateapp — push a new build\n"+
			"/cancel — abort the current operation\n\n"+
			"Sending an .apk file directly starts an update.")
	case "/apps":
		b.replyApps(ctx, chat)
	case "/status":
		b.replyStatus(ctx, chat)
	case "/updateall":
		b.replyUpdateAll(ctx, op, chat)
	case "/addapp":
		b.reply(ctx, chat, b.engine.StartAdd(op))
	case "/removeapp":
		b.reply(ctx, chat, b.engine.StartRemove(op))
	case "/updateapp":
		b.reply(ctx, chat, b.engine.StartUpdate(op))
	case "/cancel":
		b.reply(ctx, chat, b.engine.Cancel(op))
	default:
		// Wizard steps can legitimately start with '/', pass them through.
		if p, ok := b.engine.HandleText(ctx, op, text); ok {
			b.reply(ctx, chat, p)
			return
		}
		b.send(ctx, chat, "Unknown command. Try /start.")
	}
}

func (b *Bot) handleDocument(ctx context.Context, op, chat int64, doc *Document) {
	if doc.FileSize > maxUploadSize {
		b.send(ctx, chat, fmt.Sprintf("File is too large (max %d MB).", maxUploadSize>>20))
		return
	}
	url, err := b.client.FileURL(ctx, doc.FileID)
	if err != nil {
		log.Printf("[bot] getFile: %v", err)
		b.send(ctx, chat, "❌ Could not fetch the file from Telegram.")
		return
	}
	b.reply(ctx, chat, b.engine.HandleUpload(ctx, op, doc.FileName, url))
}

func (b *Bot) replyApps(ctx context.Context, chat int64) {
	c, err := b.store.Load()
	if err != nil {
		b.send(ctx, chat, "❌ Could not load the catalog.")
		return
	}
	if len(c.Apps) == 0 {
		b.send(ctx, chat, "The catalog is empty.")
		return
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "📱 Apps (%d):\n", len(c.Apps))
	for _, cat := range c.Categories() {
		fmt.Fprintf(&sb, "\n%s:\n", cat)
		for _, a := range c.Apps {
			if a.Category != cat && !(a.Category == "" && cat == "Uncategorized") {
				continue
			}
			ver := a.Version
			if ver == "" {
				ver = "unknown"
			}
			fmt.Fprintf(&sb, "  • %s — %s\n", a.Title, ver)
		}
	}
	b.send(ctx, chat, sb.String())
}

func (b *Bot) replyStatus(ctx context.Context, chat int64) {
	snap, err := hostinfo.Collect(ctx, b.cfg.DataDir, time.Second)
	if err != nil {
		log.Printf("[bot] hostinfo: %v", err)
		b.send(ctx, chat, "❌ Could not read host status.")
		return
	}
	state := "inactive"
	if hostinfo.ServiceActive(ctx, serviceUnit) {
		state = "active"
	}
	text := fmt.Sprintf(
		"🖥 Host status\nCPU: %.1f%%\nRAM: %d / %d MB\nDisk: %.1f / %.1f GB free\nService: %s",
		snap.CPUPercent, snap.MemUsedMB, snap.MemTotalMB, snap.DiskFreeGB, snap.DiskTotalGB, state)
	if b.hist != nil {
		if sweep, err := b.hist.LastSweep(); err == nil && sweep != nil {
			text += fmt.Sprintf("\nLast sweep: %s (%d checked, %d updated, %d failed)",
				sweep.FinishedAt.Format("2006-01-02 15:04"), sweep.Checked, sweep.Updated, sweep.Failed)
		}
	}
	b.send(ctx, chat, text)
}

func (b *Bot) replyUpdateAll(ctx context.Context, op, chat int64) {
	if op != b.cfg.Bot.AdminID {
		b.send(ctx, chat, "⛔ You are not authorized to manage the catalog.")
		return
	}
	go func() {
		sum, err := b.sweeper.Sweep(context.Background())
		if errors.Is(err, scheduler.ErrSweepInProgress) {
			b.send(context.Background(), chat, "A sweep is already running.")
			return
		}
		if err != nil {
			b.send(context.Background(), chat, fmt.Sprintf("❌ Sweep failed: %v", err))
			return
		}
		b.send(context.Background(), chat,
			fmt.Sprintf("Sweep done: %d checked, %d updated, %d failed.", sum.Checked, sum.Updated, sum.Failed))
	}()
	b.send(ctx, chat, "🔄 Sweep started.")
}

func (b *Bot) reply(ctx context.Context, chat int64, p wizard.Prompt) {
	if p.Text == "" {
		return
	}
	if err := b.client.SendMessage(ctx, chat, p.Text, p.Choices, p.Done); err != nil {
		log.Printf("[bot] sendMessage: %v", err)
	}
}

func (b *Bot) send(ctx context.Context, chat int64, text string) {
	if err := b.client.SendMessage(ctx, chat, text, nil, false); err != nil {
		log.Printf("[bot] sendMessage: %v", err)
	}
}
