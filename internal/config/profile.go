package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ashureev/chatwidget/internal/domain"
)

// Profile holds the visitor-facing texts and the static suggestion list.
type Profile struct {
	Greeting          string         `yaml:"greeting" json:"greeting"`
	FallbackReply     string         `yaml:"fallback_reply" json:"fallback_reply"`
	ErrorBanner       string         `yaml:"error_banner" json:"error_banner"`
	InactivityNotice  string         `yaml:"inactivity_notice" json:"inactivity_notice"`
	TypingPlaceholder string         `yaml:"typing_placeholder" json:"typing_placeholder"`
	SpeechUnsupported string         `yaml:"speech_unsupported" json:"speech_unsupported"`
	SpeechErrorPrefix string         `yaml:"speech_error_prefix" json:"speech_error_prefix"`
	SpeechLocale      string         `yaml:"speech_locale" json:"speech_locale"`
	InputPlaceholder  string         `yaml:"input_placeholder" json:"input_placeholder"`
	PromoBanner       string         `yaml:"promo_banner" json:"promo_banner"`
	HeaderTitle       string         `yaml:"header_title" json:"header_title"`
	Footer            string         `yaml:"footer" json:"footer"`
	Suggestions       []string       `yaml:"suggestions" json:"suggestions"`
	Models            []domain.Model `yaml:"models" json:"models"`
}

// DefaultProfile returns the built-in texts. The model list is filled from
// the chat configuration when the profile does not name any.
func DefaultProfile(chat ChatConfig) Profile {
	return Profile{
		Greeting:          "Hello, how can I help you? 😊",
		FallbackReply:     "Sorry, I'm having trouble connecting. Please try again later.",
		ErrorBanner:       "Bot is currently unavailable. Please try again.",
		InactivityNotice:  "Chat history was cleared due to inactivity.",
		TypingPlaceholder: "Typing...",
		SpeechUnsupported: "Your browser does not support speech recognition.",
		SpeechErrorPrefix: "Speech recognition error: ",
		SpeechLocale:      "en-US",
		InputPlaceholder:  "Enter your message...",
		PromoBanner:       "Message us 👋",
		HeaderTitle:       "Hello 👋",
		Footer:            "Powered by watatek.com",
		Suggestions: []string{
			"What is generative AI?",
			"How does retrieval-augmented generation work?",
			"What can you help me with?",
		},
		Models: []domain.Model{{Name: chat.ModelLabel, Value: chat.Model}},
	}
}

// LoadProfile reads a YAML profile and overlays it on the defaults. An empty
// path returns the defaults.
func LoadProfile(path string, chat ChatConfig) (Profile, error) {
	profile := DefaultProfile(chat)
	if path == "" {
		return profile, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, fmt.Errorf("read profile %s: %w", path, err)
	}

	var overlay Profile
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return Profile{}, fmt.Errorf("parse profile %s: %w", path, err)
	}
	profile.merge(overlay)

	if err := profile.Validate(); err != nil {
		return Profile{}, fmt.Errorf("invalid profile %s: %w", path, err)
	}
	return profile, nil
}

// Validate checks that the profile can drive a widget.
func (p Profile) Validate() error {
	if strings.TrimSpace(p.Greeting) == "" {
		return fmt.Errorf("greeting cannot be empty")
	}
	if strings.TrimSpace(p.FallbackReply) == "" {
		return fmt.Errorf("fallback_reply cannot be empty")
	}
	if len(p.Models) == 0 {
		return fmt.Errorf("at least one model is required")
	}
	for i, m := range p.Models {
		if m.Value == "" {
			return fmt.Errorf("models[%d].value cannot be empty", i)
		}
	}
	return nil
}

func (p *Profile) merge(o Profile) {
	setIf := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	setIf(&p.Greeting, o.Greeting)
	setIf(&p.FallbackReply, o.FallbackReply)
	setIf(&p.ErrorBanner, o.ErrorBanner)
	setIf(&p.InactivityNotice, o.InactivityNotice)
	setIf(&p.TypingPlaceholder, o.TypingPlaceholder)
	setIf(&p.SpeechUnsupported, o.SpeechUnsupported)
	setIf(&p.SpeechErrorPrefix, o.SpeechErrorPrefix)
	setIf(&p.SpeechLocale, o.SpeechLocale)
	setIf(&p.InputPlaceholder, o.InputPlaceholder)
	setIf(&p.PromoBanner, o.PromoBanner)
	setIf(&p.HeaderTitle, o.HeaderTitle)
	setIf(&p.Footer, o.Footer)
	if o.Suggestions != nil {
		p.Suggestions = o.Suggestions
	}
	if len(o.Models) > 0 {
		p.Models = o.Models
	}
}
