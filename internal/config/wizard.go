package config

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Wizard provides an interactive configuration wizard
type Wizard struct {
	reader *bufio.Reader
	out    io.Writer
}

// NewWizard creates a wizard reading answers from in and writing prompts to out.
func NewWizard(in io.Reader, out io.Writer) *Wizard {
	return &Wizard{
		reader: bufio.NewReader(in),
		out:    out,
	}
}

// Run asks for the settings a first start needs and returns them over the defaults.
func (w *Wizard) Run() (*Config, error) {
	fmt.Fprintln(w.out, "=== groupbot configuration ===")
	fmt.Fprintln(w.out)

	cfg := DefaultConfig()
	validator := NewValidator()

	for {
		token, err := w.ask("Telegram bot token: ")
		if err != nil {
			return nil, err
		}
		if err := validator.ValidateTelegramToken(token); err != nil {
			fmt.Fprintf(w.out, "Error: %v\n", err)
			continue
		}
		cfg.Telegram.BotToken = token
		break
	}

	fmt.Fprintln(w.out)
	var provider string
	for {
		answer, err := w.ask("AI provider (openai/anthropic/gemini) [openai]: ")
		if err != nil {
			return nil, err
		}
		if answer == "" {
			answer = "openai"
		}
		if !isSupportedProvider(answer) {
			fmt.Fprintf(w.out, "Error: unsupported provider %s\n", answer)
			continue
		}
		provider = answer
		break
	}

	for {
		key, err := w.ask(fmt.Sprintf("%s API key: ", provider))
		if err != nil {
			return nil, err
		}
		if err := validator.ValidateAPIKey(key, provider); err != nil {
			fmt.Fprintf(w.out, "Error: %v\n", err)
			continue
		}
		cfg.AI.Profiles = []AIProfile{{ID: provider, Provider: provider, APIKey: key, Priority: 1}}
		break
	}

	model, err := w.ask(fmt.Sprintf("Model [%s]: ", cfg.Agent.Model))
	if err != nil {
		return nil, err
	}
	if model != "" {
		cfg.Agent.Model = model
	}

	fmt.Fprintln(w.out)
	answer, err := w.ask(fmt.Sprintf("Chance to reply to unmentioned group messages (0-1) [%.1f]: ", cfg.Bot.ResponseProbability))
	if err != nil {
		return nil, err
	}
	if answer != "" {
		p, perr := strconv.ParseFloat(answer, 64)
		if perr != nil || p < 0 || p > 1 {
			fmt.Fprintf(w.out, "Warning: invalid probability %q, using default (%.1f)\n", answer, cfg.Bot.ResponseProbability)
		} else {
			cfg.Bot.ResponseProbability = p
		}
	}

	level, err := w.ask("Log level (debug/info/warn/error) [info]: ")
	if err != nil {
		return nil, err
	}
	if level != "" {
		if err := validator.ValidateLogLevel(level); err != nil {
			fmt.Fprintf(w.out, "Warning: %v, using default (info)\n", err)
		} else {
			cfg.Logging.Level = level
		}
	}

	fmt.Fprintln(w.out)
	fmt.Fprintln(w.out, "Configuration complete!")

	return cfg, nil
}

func (w *Wizard) ask(prompt string) (string, error) {
	fmt.Fprint(w.out, prompt)
	line, err := w.reader.ReadString('\n')
	if err != nil && !(err == io.EOF && line != "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
