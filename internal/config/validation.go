package config

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// ValidateConfig performs comprehensive validation of the configuration.
func ValidateConfig(c *Config) error {
	var errs ValidationErrors

	if c.Version < 1 || c.Version > Version {
		errs = append(errs, ValidationError{
			Field:   "version",
			Message: fmt.Sprintf("unsupported version %d (current: %d)", c.Version, Version),
		})
	}

	errs = append(errs, validateHelper(&c.Helper)...)
	errs = append(errs, validateHandshake(&c.Handshake)...)
	errs = append(errs, validateWebSocket(&c.WebSocket)...)
	errs = append(errs, validateRegistry(&c.Registry)...)
	errs = append(errs, validateKeyboard(&c.Keyboard)...)
	errs = append(errs, validateLogging(&c.Logging)...)

	if c.Container.PluginPath == "" {
		errs = append(errs, ValidationError{Field: "container.plugin_path", Message: "must not be empty"})
	}
	if c.Host.BusName == "" || !strings.HasPrefix(c.Host.ObjectPath, "/") {
		errs = append(errs, ValidationError{Field: "host", Message: "bus_name and an absolute object_path are required"})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateHelper(h *HelperConfig) ValidationErrors {
	var errs ValidationErrors
	for field, id := range map[string]string{
		"helper.keyboard_id":         h.KeyboardID,
		"helper.default_keyboard_id": h.DefaultKeyboardID,
	} {
		if _, err := uuid.Parse(id); err != nil {
			errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf("not a UUID: %q", id)})
		}
	}
	return errs
}

func validateHandshake(h *HandshakeConfig) ValidationErrors {
	var errs ValidationErrors
	if h.MagicKeyLength < 8 || h.MagicKeyLength > 128 {
		errs = append(errs, ValidationError{Field: "handshake.magic_key_length", Message: "must be between 8 and 128"})
	}
	if len(h.MagicKeyAlphabet) < 2 || len(h.MagicKeyAlphabet) > 256 {
		errs = append(errs, ValidationError{Field: "handshake.magic_key_alphabet", Message: "must be between 2 and 256 characters"})
	}
	for _, r := range h.MagicKeyAlphabet {
		if !isAlnum(r) {
			errs = append(errs, ValidationError{Field: "handshake.magic_key_alphabet", Message: fmt.Sprintf("non-alphanumeric character %q", r)})
			break
		}
	}
	if h.VersionDelimiter == "" {
		errs = append(errs, ValidationError{Field: "handshake.version_delimiter", Message: "must not be empty"})
	}
	if h.VersionTokens < 1 {
		errs = append(errs, ValidationError{Field: "handshake.version_tokens", Message: "must be positive"})
	}
	if h.PrepareCommand == "" || h.ActivateCommand == "" {
		errs = append(errs, ValidationError{Field: "handshake", Message: "prepare_command and activate_command are required"})
	}
	if h.DirectMajor < 0 || h.DirectMajor == 1 {
		errs = append(errs, ValidationError{Field: "handshake.direct_major", Message: "must be 0 or a major version other than 1"})
	}
	if h.MaxCommandLength < len(h.PrepareCommand)+h.MagicKeyLength+5 {
		errs = append(errs, ValidationError{Field: "handshake.max_command_length", Message: "too short to carry the prepare command"})
	}
	return errs
}

func isAlnum(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z')
}

func validateWebSocket(w *WebSocketConfig) ValidationErrors {
	var errs ValidationErrors
	if w.ListenAddr == "" {
		errs = append(errs, ValidationError{Field: "websocket.listen_addr", Message: "must not be empty"})
	}
	if w.KeyEventTimeoutMs <= 0 || w.KeyEventTimeoutMs > 5000 {
		errs = append(errs, ValidationError{Field: "websocket.key_event_timeout_ms", Message: "must be between 1 and 5000"})
	}
	if w.ReplyTimeoutMs <= 0 {
		errs = append(errs, ValidationError{Field: "websocket.reply_timeout_ms", Message: "must be positive"})
	}
	if w.WriteTimeoutMs <= 0 {
		errs = append(errs, ValidationError{Field: "websocket.write_timeout_ms", Message: "must be positive"})
	}
	return errs
}

func validateRegistry(r *RegistryConfig) ValidationErrors {
	var errs ValidationErrors
	if r.PackagesDir == "" {
		errs = append(errs, ValidationError{Field: "registry.packages_dir", Message: "must not be empty"})
	}
	if r.DatabasePath == "" {
		errs = append(errs, ValidationError{Field: "registry.database_path", Message: "must not be empty"})
	}
	if r.DebounceMs < 0 {
		errs = append(errs, ValidationError{Field: "registry.debounce_ms", Message: "must not be negative"})
	}
	return errs
}

func validateKeyboard(k *KeyboardConfig) ValidationErrors {
	if k.PortraitWidth < 0 || k.PortraitHeight < 0 || k.LandscapeWidth < 0 || k.LandscapeHeight < 0 {
		return ValidationErrors{{Field: "keyboard", Message: "sizes must not be negative"}}
	}
	return nil
}

func validateLogging(l *LoggingConfig) ValidationErrors {
	var errs ValidationErrors
	switch strings.ToLower(l.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, ValidationError{Field: "logging.level", Message: fmt.Sprintf("unknown level %q", l.Level)})
	}
	switch strings.ToLower(l.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, ValidationError{Field: "logging.format", Message: fmt.Sprintf("unknown format %q", l.Format)})
	}
	switch l.Output {
	case "stdout", "stderr":
	case "file", "both":
		if l.FilePath == "" {
			errs = append(errs, ValidationError{Field: "logging.file_path", Message: "required for file output"})
		}
	default:
		errs = append(errs, ValidationError{Field: "logging.output", Message: fmt.Sprintf("unknown output %q", l.Output)})
	}
	return errs
}
