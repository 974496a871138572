package alerting

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

const (
	envBotToken = "BOT_TOKEN"
	envChatID   = "CHAT_ID"
)

// TelegramCredentials are the bot token and target chat.
type TelegramCredentials struct {
	BotToken string
	ChatID   string
}

func (c TelegramCredentials) complete() bool {
	return c.BotToken != "" && c.ChatID != ""
}

// CredentialSource resolves telegram credentials on demand.
type CredentialSource func() (TelegramCredentials, error)

// StaticCredentials returns fixed credentials; empty values surface as ErrMissingCredentials.
func StaticCredentials(botToken, chatID string) CredentialSource {
	return func() (TelegramCredentials, error) {
		creds := TelegramCredentials{BotToken: strings.TrimSpace(botToken), ChatID: strings.TrimSpace(chatID)}
		if !creds.complete() {
			return creds, fmt.Errorf("%w: bot token and chat id are required", ErrMissingCredentials)
		}
		return creds, nil
	}
}

// LayeredCredentials looks up each value in the configured value, then the
// process environment, then the dotenv file.
func LayeredCredentials(botToken, chatID, envFile string) CredentialSource {
	return func() (TelegramCredentials, error) {
		creds := TelegramCredentials{
			BotToken: firstNonEmpty(botToken, os.Getenv(envBotToken)),
			ChatID:   firstNonEmpty(chatID, os.Getenv(envChatID)),
		}
		if creds.complete() || envFile == "" {
			return checkCredentials(creds, envFile)
		}

		values, err := godotenv.Read(envFile)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return creds, fmt.Errorf("%w: read %s: %w", ErrMissingCredentials, envFile, err)
		}
		creds.BotToken = firstNonEmpty(creds.BotToken, values[envBotToken])
		creds.ChatID = firstNonEmpty(creds.ChatID, values[envChatID])
		return checkCredentials(creds, envFile)
	}
}

func checkCredentials(creds TelegramCredentials, envFile string) (TelegramCredentials, error) {
	var missing []string
	if creds.BotToken == "" {
		missing = append(missing, envBotToken)
	}
	if creds.ChatID == "" {
		missing = append(missing, envChatID)
	}
	if len(missing) > 0 {
		return creds, fmt.Errorf("%w: %s not set in config, environment or %q", ErrMissingCredentials, strings.Join(missing, ", "), envFile)
	}
	return creds, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
