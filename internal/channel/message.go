package channel

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// MessageType is the first word of every frame.
type MessageType string

const (
	TypePlain MessageType = "plain"
	TypeQuery MessageType = "query"
	TypeReply MessageType = "reply"
)

// Host to content commands.
const (
	CmdInit                  = "init"
	CmdExit                  = "exit"
	CmdFocusIn               = "focus_in"
	CmdFocusOut              = "focus_out"
	CmdShow                  = "show"
	CmdHide                  = "hide"
	CmdSetRotation           = "set_rotation"
	CmdUpdateCursorPosition  = "update_cursor_position"
	CmdUpdateSurroundingText = "update_surrounding_text"
	CmdUpdateSelection       = "update_selection"
	CmdSetLanguage           = "set_language"
	CmdSetIMData             = "set_imdata"
	CmdGetIMData             = "get_imdata"
	CmdSetReturnKeyType      = "set_return_key_type"
	CmdGetReturnKeyType      = "get_return_key_type"
	CmdSetReturnKeyDisable   = "set_return_key_disable"
	CmdGetReturnKeyDisable   = "get_return_key_disable"
	CmdSetLayout             = "set_layout"
	CmdGetLayout             = "get_layout"
	CmdResetInputContext     = "reset_input_context"
	CmdProcessKeyEvent       = "process_key_event"
)

// Content to host commands.
const (
	CmdLog                   = "log"
	CmdCommitString          = "commit_string"
	CmdUpdatePreeditString   = "update_preedit_string"
	CmdSendKeyEvent          = "send_key_event"
	CmdForwardKeyEvent       = "forward_key_event"
	CmdSetKeyboardSizes      = "set_keyboard_sizes"
	CmdSetSelection          = "set_selection"
	CmdGetSelection          = "get_selection"
	CmdGetSurroundingText    = "get_surrounding_text"
	CmdDeleteSurroundingText = "delete_surrounding_text"
	CmdLogin                 = "login"
)

// ErrMalformed is returned for frames without a type and command.
var ErrMalformed = errors.New("malformed message")

// Message is one protocol frame: "<type> <command> <payload>".
type Message struct {
	Type    MessageType
	Command string
	Payload string
}

// NewMessage builds a message whose payload is args joined by spaces.
func NewMessage(t MessageType, cmd string, args ...any) Message {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = fmt.Sprint(a)
	}
	return Message{Type: t, Command: cmd, Payload: strings.Join(parts, " ")}
}

// Encode renders the frame text.
func (m Message) Encode() string {
	if m.Payload == "" {
		return string(m.Type) + " " + m.Command
	}
	return string(m.Type) + " " + m.Command + " " + m.Payload
}

// Args splits the payload on whitespace.
func (m Message) Args() []string {
	return strings.Fields(m.Payload)
}

// IntArgs parses the first n payload fields as integers.
func (m Message) IntArgs(n int) ([]int, error) {
	fields := m.Args()
	if len(fields) < n {
		return nil, fmt.Errorf("%s: want %d arguments, got %d", m.Command, n, len(fields))
	}
	out := make([]int, n)
	for i := 0; i < n; i++ {
		v, err := strconv.Atoi(fields[i])
		if err != nil {
			return nil, fmt.Errorf("%s: argument %d: %w", m.Command, i, err)
		}
		out[i] = v
	}
	return out, nil
}

// ParseMessage decodes a frame. The payload keeps its inner spacing so free
// text such as committed strings survives intact.
func ParseMessage(s string) (Message, error) {
	typ, rest, ok := strings.Cut(s, " ")
	if !ok || rest == "" {
		return Message{}, fmt.Errorf("%w: %q", ErrMalformed, s)
	}
	switch MessageType(typ) {
	case TypePlain, TypeQuery, TypeReply:
	default:
		return Message{}, fmt.Errorf("%w: unknown type %q", ErrMalformed, typ)
	}
	cmd, payload, _ := strings.Cut(rest, " ")
	if cmd == "" {
		return Message{}, fmt.Errorf("%w: %q", ErrMalformed, s)
	}
	return Message{Type: MessageType(typ), Command: cmd, Payload: payload}, nil
}
