package notification

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	internalerrors "github.com/olegiv/gerrit-repo-stats/internal/errors"
	"github.com/olegiv/gerrit-repo-stats/internal/report"
)

const (
	maxMessageLength = 4096
	// minMessageInterval is the minimum time between messages to the same channel
	// to avoid Telegram rate limits
	minMessageInterval = 1 * time.Second
	// maxRetries is the maximum number of attempts for sending a message
	maxRetries = 3
	// baseRetryDelay is the initial delay between retries (doubles each attempt)
	baseRetryDelay = 2 * time.Second
	// maxListedRemovals caps how many removed repositories are named
	maxListedRemovals = 20
)

// sender is the part of the bot API used for delivery.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramClient posts run summaries to a Telegram channel
type TelegramClient struct {
	bot             sender
	channel         int64
	hostname        string
	retryDelay      time.Duration
	lastMessageTime time.Time
}

// NewTelegramClient creates a new Telegram client
func NewTelegramClient(botToken string, channel int64) (*TelegramClient, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		// The bot token is part of the API URL
		return nil, internalerrors.Wrapf(err, "failed to create Telegram bot")
	}

	return newClient(bot, channel), nil
}

func newClient(bot sender, channel int64) *TelegramClient {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	return &TelegramClient{
		bot:        bot,
		channel:    channel,
		hostname:   hostname,
		retryDelay: baseRetryDelay,
	}
}

// SendRunSummary posts the outcome of a report run
func (t *TelegramClient) SendRunSummary(ctx context.Context, summary report.Summary, reportPath string) error {
	message := t.formatMessage(summary, reportPath)
	if err := t.sendToChannel(ctx, t.channel, message); err != nil {
		return fmt.Errorf("failed to send run summary: %w", err)
	}
	return nil
}

// formatMessage renders a summary as a MarkdownV2 message
func (t *TelegramClient) formatMessage(s report.Summary, reportPath string) string {
	var msg strings.Builder

	status := "✅"
	if s.Issues > 0 || s.FileErrors > 0 {
		status = "⚠️"
	}

	// Header
	msg.WriteString(fmt.Sprintf("%s *Gerrit Repository Report*\n", status))
	msg.WriteString(fmt.Sprintf("🖥 Host\\: %s\n", escapeMarkdown(t.hostname)))
	msg.WriteString(fmt.Sprintf("📅 Date\\: %s\n", escapeMarkdown(s.FinishedAt.Format("2006-01-02 15:04:05"))))
	if reportPath != "" {
		msg.WriteString(fmt.Sprintf("📄 Report\\: `%s`\n", escapeMarkdown(reportPath)))
	}
	msg.WriteString("\n")

	// Repositories
	msg.WriteString("📊 *Repositories*\n")
	msg.WriteString(fmt.Sprintf("• Total\\: %s\n", escapeMarkdown(humanize.Comma(int64(s.Repositories)))))
	msg.WriteString(fmt.Sprintf("• Read in logs\\: %s\n", escapeMarkdown(humanize.Comma(int64(s.Read)))))
	msg.WriteString(fmt.Sprintf("• Never read\\: %s\n", escapeMarkdown(humanize.Comma(int64(s.NeverRead)))))
	if s.CreationUnknown > 0 {
		msg.WriteString(fmt.Sprintf("• Creation date unknown\\: %d\n", s.CreationUnknown))
	}
	if s.Issues > 0 {
		msg.WriteString(fmt.Sprintf("• Source issues\\: %d\n", s.Issues))
	}
	msg.WriteString("\n")

	// Scan
	msg.WriteString("📋 *Access Log Scan*\n")
	msg.WriteString(fmt.Sprintf("• Files\\: %d", s.Scan.Files))
	if s.Scan.FilesSkipped > 0 {
		msg.WriteString(fmt.Sprintf(" \\(%d skipped\\)", s.Scan.FilesSkipped))
	}
	msg.WriteString("\n")
	msg.WriteString(fmt.Sprintf("• Size\\: %s\n", escapeMarkdown(humanize.Bytes(uint64(max(s.Scan.Bytes, 0))))))
	msg.WriteString(fmt.Sprintf("• Lines\\: %s\n", escapeMarkdown(humanize.Comma(s.Scan.Lines))))
	msg.WriteString(fmt.Sprintf("• Unclassified paths\\: %s\n", escapeMarkdown(humanize.Comma(int64(s.Unclassified)))))
	msg.WriteString(fmt.Sprintf("• Duration\\: %s\n", escapeMarkdown(s.Duration().Round(time.Millisecond).String())))

	// Removed repositories
	if len(s.Removed) > 0 {
		msg.WriteString(fmt.Sprintf("\n🗑 *Removed* \\(%d\\)\n", len(s.Removed)))
		for i, name := range s.Removed {
			if i == maxListedRemovals {
				msg.WriteString(fmt.Sprintf("… and %d more\n", len(s.Removed)-maxListedRemovals))
				break
			}
			msg.WriteString(fmt.Sprintf("• %s\n", escapeMarkdown(name)))
		}
	}

	return msg.String()
}

// sendToChannel sends a message to a Telegram channel with rate limiting
func (t *TelegramClient) sendToChannel(ctx context.Context, channelID int64, message string) error {
	for _, msg := range t.splitMessage(message) {
		if err := t.waitForRateLimit(ctx); err != nil {
			return err
		}

		msgConfig := tgbotapi.NewMessage(channelID, msg)
		msgConfig.ParseMode = "MarkdownV2"

		if err := t.sendWithRetry(ctx, msgConfig); err != nil {
			return err
		}

		t.lastMessageTime = time.Now()
	}

	return nil
}

// waitForRateLimit ensures minimum interval between messages
func (t *TelegramClient) waitForRateLimit(ctx context.Context) error {
	if t.lastMessageTime.IsZero() {
		return nil
	}

	elapsed := time.Since(t.lastMessageTime)
	if elapsed < minMessageInterval {
		return sleepCtx(ctx, minMessageInterval-elapsed)
	}
	return nil
}

// sendWithRetry sends a message with exponential backoff retry
func (t *TelegramClient) sendWithRetry(ctx context.Context, msgConfig tgbotapi.MessageConfig) error {
	var lastErr error

	for attempt := 1; attempt <= maxRetries; attempt++ {
		_, err := t.bot.Send(msgConfig)
		if err == nil {
			return nil
		}

		lastErr = err
		if attempt == maxRetries {
			break
		}

		delay := t.retryDelay * time.Duration(1<<(attempt-1)) // 2s, 4s, 8s...
		if isRateLimitError(err) {
			delay = time.Duration(extractRetryAfter(err)) * time.Second
		}
		if err := sleepCtx(ctx, delay); err != nil {
			return err
		}
	}

	// The bot token can appear in transport errors
	return internalerrors.Wrapf(lastErr, "failed to send message after %d attempts", maxRetries)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// isRateLimitError checks if the error is a Telegram rate limit error (429)
func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "429") || strings.Contains(errStr, "Too Many Requests")
}

// extractRetryAfter extracts the retry_after value from a rate limit error
func extractRetryAfter(err error) int {
	if err == nil {
		return 0
	}

	// Example: "Too Many Requests: retry after 30"
	errStr := err.Error()
	if idx := strings.Index(strings.ToLower(errStr), "retry after "); idx != -1 {
		remaining := errStr[idx+len("retry after "):]
		var seconds int
		if _, err := fmt.Sscanf(remaining, "%d", &seconds); err == nil {
			return seconds
		}
	}

	// Conservative default when the value is missing
	return 30
}

// splitMessage splits a long message into multiple messages
func (t *TelegramClient) splitMessage(message string) []string {
	if len(message) <= maxMessageLength {
		return []string{message}
	}

	var messages []string
	var currentMsg strings.Builder

	for _, line := range strings.Split(message, "\n") {
		if currentMsg.Len()+len(line)+1 > maxMessageLength {
			if currentMsg.Len() > 0 {
				messages = append(messages, currentMsg.String())
				currentMsg.Reset()
			}

			// A single line longer than the limit is cut into chunks
			if len(line) > maxMessageLength {
				for i := 0; i < len(line); i += maxMessageLength {
					end := min(i+maxMessageLength, len(line))
					messages = append(messages, line[i:end])
				}
				continue
			}
		}

		currentMsg.WriteString(line)
		currentMsg.WriteString("\n")
	}

	if currentMsg.Len() > 0 {
		messages = append(messages, currentMsg.String())
	}

	return messages
}

// escapeMarkdown escapes special characters for Telegram MarkdownV2
func escapeMarkdown(text string) string {
	// See: https://core.telegram.org/bots/api#markdownv2-style
	specialChars := []string{
		"\\", "_", "*", "[", "]", "(", ")", "~", "`", ">", "#", "+", "-", "=", "|", "{", "}", ".", "!", ":",
	}

	result := text
	for _, char := range specialChars {
		result = strings.ReplaceAll(result, char, "\\"+char)
	}

	return result
}

// Close releases the Telegram client
func (t *TelegramClient) Close() error {
	if bot, ok := t.bot.(*tgbotapi.BotAPI); ok {
		bot.StopReceivingUpdates()
	}
	return nil
}
