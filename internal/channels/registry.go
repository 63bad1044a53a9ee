package channels

import (
	"fmt"
	"sort"
	"strings"

	"github.com/restflow/restflow/internal/models"
)

// ChatChannelOrder defines the preferred channel ordering for UI display.
var ChatChannelOrder = []models.ChannelType{
	models.ChannelTelegram,
	models.ChannelDiscord,
	models.ChannelSlack,
	models.ChannelTerminal,
}

// DefaultChatChannel is the default channel for new configurations.
const DefaultChatChannel = models.ChannelTelegram

// ChannelMeta contains display metadata for a channel.
type ChannelMeta struct {
	ID             models.ChannelType
	Label          string
	SelectionLabel string
	DetailLabel    string
	Blurb          string
	Aliases        []string
}

var chatChannelMeta = map[models.ChannelType]*ChannelMeta{
	models.ChannelTelegram: {
		ID:             models.ChannelTelegram,
		Label:          "Telegram",
		SelectionLabel: "Telegram (Bot API)",
		DetailLabel:    "Telegram Bot",
		Blurb:          "simplest way to get started — register a bot with @BotFather",
		Aliases:        []string{"tg"},
	},
	models.ChannelDiscord: {
		ID:             models.ChannelDiscord,
		Label:          "Discord",
		SelectionLabel: "Discord (Bot API)",
		DetailLabel:    "Discord Bot",
		Blurb:          "Gateway bot with slash-command-free text relay",
	},
	models.ChannelSlack: {
		ID:             models.ChannelSlack,
		Label:          "Slack",
		SelectionLabel: "Slack (Socket Mode)",
		DetailLabel:    "Slack App",
		Blurb:          "Socket Mode, no public endpoint required",
	},
	models.ChannelTerminal: {
		ID:             models.ChannelTerminal,
		Label:          "Terminal",
		SelectionLabel: "Terminal (stdin/stdout)",
		DetailLabel:    "Local Terminal",
		Blurb:          "process-local channel for daemon-less interactive use",
		Aliases:        []string{"cli", "stdio"},
	},
}

var chatChannelAliases = func() map[string]models.ChannelType {
	out := make(map[string]models.ChannelType)
	for id, meta := range chatChannelMeta {
		for _, alias := range meta.Aliases {
			out[alias] = id
		}
	}
	return out
}()

// ChannelCapabilities defines feature support for a channel, used for
// chunking and typing-indicator decisions.
type ChannelCapabilities struct {
	SupportsTyping   bool
	SupportsThreads  bool
	SupportsRichText bool
	MaxMessageLength int
}

var channelCapabilities = map[models.ChannelType]*ChannelCapabilities{
	models.ChannelTelegram: {SupportsTyping: true, SupportsThreads: true, SupportsRichText: true, MaxMessageLength: 4096},
	models.ChannelDiscord:  {SupportsTyping: true, SupportsThreads: true, SupportsRichText: true, MaxMessageLength: 2000},
	models.ChannelSlack:    {SupportsTyping: true, SupportsThreads: true, SupportsRichText: true, MaxMessageLength: 39000},
	models.ChannelTerminal: {SupportsTyping: false, SupportsThreads: false, SupportsRichText: false, MaxMessageLength: 0},
}

// ListChatChannels returns all channels in preferred order.
func ListChatChannels() []*ChannelMeta {
	result := make([]*ChannelMeta, 0, len(ChatChannelOrder))
	for _, id := range ChatChannelOrder {
		if meta, ok := chatChannelMeta[id]; ok {
			result = append(result, meta)
		}
	}
	return result
}

// ListChatChannelAliases returns all registered aliases sorted alphabetically.
func ListChatChannelAliases() []string {
	aliases := make([]string, 0, len(chatChannelAliases))
	for alias := range chatChannelAliases {
		aliases = append(aliases, alias)
	}
	sort.Strings(aliases)
	return aliases
}

// GetChatChannelMeta returns metadata for a channel, or nil if unknown.
func GetChatChannelMeta(id models.ChannelType) *ChannelMeta {
	return chatChannelMeta[id]
}

// NormalizeChatChannelID normalizes a channel id string, resolving aliases
// and case, or returns "" if it names no known channel.
func NormalizeChatChannelID(raw string) models.ChannelType {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	if normalized == "" {
		return ""
	}
	id := models.ChannelType(normalized)
	if _, ok := chatChannelMeta[id]; ok {
		return id
	}
	if canonical, ok := chatChannelAliases[normalized]; ok {
		return canonical
	}
	return ""
}

// IsValidChannelID reports whether id names a registered channel.
func IsValidChannelID(id models.ChannelType) bool {
	_, ok := chatChannelMeta[id]
	return ok
}

// FormatChannelPrimerLine formats a channel for display in a primer/overview.
func FormatChannelPrimerLine(meta *ChannelMeta) string {
	if meta == nil {
		return ""
	}
	if meta.Blurb == "" {
		return meta.Label
	}
	return fmt.Sprintf("%s — %s", meta.Label, meta.Blurb)
}

// GetChannelCapabilities returns capabilities for a channel, or nil if
// unknown.
func GetChannelCapabilities(id models.ChannelType) *ChannelCapabilities {
	return channelCapabilities[id]
}
