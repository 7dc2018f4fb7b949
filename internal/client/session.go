package client

import (
	"strings"

	"github.com/pkg/errors"
)

var ErrNoConversation = errors.New("no conversation selected, use /join <id>")

// Sender is the part of WSClient a Session drives.
type Sender interface {
	Join(conversationID string) error
	Leave(conversationID string) error
	SendMessage(conversationID string, message any) error
	Typing(conversationID string, isTyping bool) error
	MarkRead(conversationID string, messageIDs []string) error
}

// Session turns lines typed at a terminal into events. Plain lines are sent
// as messages to the current conversation; lines starting with / are
// commands:
//
//	/join <id>        join and make current
//	/leave [id]       leave (default current)
//	/typing on|off
//	/read id1,id2
type Session struct {
	sender  Sender
	current string
}

func NewSession(sender Sender, current string) *Session {
	return &Session{sender: sender, current: current}
}

func (s *Session) Current() string {
	return s.current
}

func (s *Session) HandleLine(line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}

	if !strings.HasPrefix(line, "/") {
		if s.current == "" {
			return ErrNoConversation
		}
		return s.sender.SendMessage(s.current, map[string]string{"text": line})
	}

	command, arg, _ := strings.Cut(line[1:], " ")
	arg = strings.TrimSpace(arg)

	switch command {
	case "join":
		if arg == "" {
			return errors.New("usage: /join <conversation>")
		}
		if err := s.sender.Join(arg); err != nil {
			return err
		}
		s.current = arg
		return nil

	case "leave":
		target := arg
		if target == "" {
			target = s.current
		}
		if target == "" {
			return ErrNoConversation
		}
		if err := s.sender.Leave(target); err != nil {
			return err
		}
		if target == s.current {
			s.current = ""
		}
		return nil

	case "typing":
		if s.current == "" {
			return ErrNoConversation
		}
		switch arg {
		case "on":
			return s.sender.Typing(s.current, true)
		case "off":
			return s.sender.Typing(s.current, false)
		default:
			return errors.New("usage: /typing on|off")
		}

	case "read":
		if s.current == "" {
			return ErrNoConversation
		}
		var ids []string
		for _, id := range strings.Split(arg, ",") {
			if id = strings.TrimSpace(id); id != "" {
				ids = append(ids, id)
			}
		}
		if len(ids) == 0 {
			return errors.New("usage: /read id1,id2")
		}
		return s.sender.MarkRead(s.current, ids)

	default:
		return errors.Errorf("unknown command /%s", command)
	}
}
