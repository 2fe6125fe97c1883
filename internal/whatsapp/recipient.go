package whatsapp

import (
	"strings"

	"github.com/pkg/errors"
	"go.mau.fi/whatsmeow/types"
)

var ErrInvalidRecipient = errors.New("invalid recipient")

// legacyUserServer is the suffix older web clients used for user chats.
const legacyUserServer = "c.us"

// ParseRecipient accepts a full JID or a phone number and returns the chat
// JID to send to. Phone numbers may carry a leading '+' and common
// separators, which are stripped.
func ParseRecipient(to string) (types.JID, error) {
	to = strings.TrimSpace(to)
	if to == "" {
		return types.EmptyJID, errors.Wrap(ErrInvalidRecipient, "empty")
	}

	if user, server, ok := strings.Cut(to, "@"); ok {
		if server == legacyUserServer {
			to = user + "@" + types.DefaultUserServer
		}
		jid, err := types.ParseJID(to)
		if err != nil {
			return types.EmptyJID, errors.Wrapf(ErrInvalidRecipient, "%q: %v", to, err)
		}
		if jid.User == "" {
			return types.EmptyJID, errors.Wrapf(ErrInvalidRecipient, "%q has no user part", to)
		}
		return jid, nil
	}

	digits := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '(', ')', '.':
			return -1
		}
		return r
	}, strings.TrimPrefix(to, "+"))
	if len(digits) < 5 || len(digits) > 20 {
		return types.EmptyJID, errors.Wrapf(ErrInvalidRecipient, "%q", to)
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return types.EmptyJID, errors.Wrapf(ErrInvalidRecipient, "%q", to)
		}
	}
	return types.NewJID(digits, types.DefaultUserServer), nil
}
