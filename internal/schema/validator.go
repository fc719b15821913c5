// Package schema parses and validates inbound text frames of the streaming
// protocol.
package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	"speech-analytics-service/internal/observability/logging"
)

// Command names accepted on text frames.
const (
	CommandStartRecording = "start_recording"
	CommandStopRecording  = "stop_recording"
	CommandProcessFinal   = "process_final"
	CommandReset          = "reset"
	CommandSetLanguage    = "set_language"
)

// legacyLanguagePrefix is the plain-text form "language:<code>".
const legacyLanguagePrefix = "language:"

// ErrInvalid is returned for frames that do not form a valid command.
var ErrInvalid = errors.New("invalid command")

var languagePattern = regexp.MustCompile(`^[A-Za-z]{2,3}([-_][A-Za-z0-9]{2,8})*$`)

// Command is one decoded text frame.
type Command struct {
	Name     string `json:"command"`
	Language string `json:"language,omitempty"`
	Legacy   bool   `json:"-"`
}

// Validator decodes text frames into commands.
type Validator struct {
	logger zerolog.Logger
}

func New() *Validator {
	return &Validator{logger: logging.WithComponent("schema")}
}

// Parse decodes a text frame. JSON objects carry the command name in
// "command"; the legacy "language:<code>" form maps to set_language.
func (v *Validator) Parse(data []byte) (Command, error) {
	text := strings.TrimSpace(string(data))
	if strings.HasPrefix(text, legacyLanguagePrefix) {
		cmd := Command{
			Name:     CommandSetLanguage,
			Language: strings.TrimSpace(strings.TrimPrefix(text, legacyLanguagePrefix)),
			Legacy:   true,
		}
		return cmd, v.Validate(cmd)
	}

	var cmd Command
	if err := json.Unmarshal([]byte(text), &cmd); err != nil {
		return Command{}, fmt.Errorf("%w: malformed json: %v", ErrInvalid, err)
	}
	cmd.Name = strings.TrimSpace(cmd.Name)
	cmd.Language = strings.TrimSpace(cmd.Language)
	return cmd, v.Validate(cmd)
}

// Validate checks the command name and its required fields.
func (v *Validator) Validate(cmd Command) error {
	switch cmd.Name {
	case CommandStartRecording, CommandStopRecording, CommandProcessFinal, CommandReset:
	case CommandSetLanguage:
		if cmd.Language == "" {
			return fmt.Errorf("%w: %s requires language", ErrInvalid, cmd.Name)
		}
		if !languagePattern.MatchString(cmd.Language) {
			return fmt.Errorf("%w: bad language tag %q", ErrInvalid, cmd.Language)
		}
	case "":
		return fmt.Errorf("%w: missing command", ErrInvalid)
	default:
		return fmt.Errorf("%w: unknown command %q", ErrInvalid, cmd.Name)
	}
	v.logger.Debug().Str("command", cmd.Name).Bool("legacy", cmd.Legacy).Msg("Command validated")
	return nil
}
