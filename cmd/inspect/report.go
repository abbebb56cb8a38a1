package main

import (
	"chat-relay/contract"
	"chat-relay/domain/chat"
	"time"

	"github.com/samber/lo"
)

const timeLayout = "2006-01-02 15:04:05"

type accountRow struct {
	Username    string `yaml:"username"`
	LastLogin   string `yaml:"last_login,omitempty"`
	Undelivered int    `yaml:"undelivered"`
}

type messageRow struct {
	Seq       uint64 `yaml:"seq"`
	At        string `yaml:"at"`
	Sender    string `yaml:"sender"`
	Receiver  string `yaml:"receiver"`
	Delivered bool   `yaml:"delivered"`
	Text      string `yaml:"text"`
}

func loadAccounts(gateway contract.PersistenceGateway) ([]accountRow, error) {
	usernames, err := gateway.ListUsernames()
	if err != nil {
		return nil, err
	}
	rows := make([]accountRow, 0, len(usernames))
	for _, username := range usernames {
		account, err := gateway.GetAccount(username)
		if err != nil {
			return nil, err
		}
		undelivered, err := gateway.GetUndelivered(username)
		if err != nil {
			return nil, err
		}
		rows = append(rows, accountRow{
			Username:    username,
			LastLogin:   formatTime(account.LastLoginAt),
			Undelivered: len(undelivered),
		})
	}
	return rows, nil
}

func loadConversation(gateway contract.PersistenceGateway, user, peer string) ([]messageRow, error) {
	messages, err := gateway.GetConversation(user, peer)
	if err != nil {
		return nil, err
	}
	return lo.Map(messages, func(msg chat.ChatMessage, _ int) messageRow {
		return messageRow{
			Seq:       msg.Seq,
			At:        formatTime(msg.Timestamp),
			Sender:    msg.Sender,
			Receiver:  msg.Receiver,
			Delivered: msg.Delivered,
			Text:      msg.Text,
		}
	}), nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}
