// Package sqlstore is the relational PersistenceGateway, backed by gorm.
// It serves sqlite for single-node deployments and mysql when the accounts
// already live in a shared database.
package sqlstore

import (
	"chat-relay/domain/chat"
	"chat-relay/errors"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	DriverSqlite = "sqlite"
	DriverMysql  = "mysql"

	// sqlitePragmas make a writer wait for the lock instead of failing at once.
	sqlitePragmas = "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
)

type accountRow struct {
	Username       string `gorm:"primaryKey;size:32"`
	CredentialHash string `gorm:"not null"`
	CreatedAt      time.Time
	LastLoginAt    time.Time
}

func (accountRow) TableName() string { return "accounts" }

type messageRow struct {
	Seq       uint64    `gorm:"primaryKey;autoIncrement"`
	ID        string    `gorm:"uniqueIndex;size:36;not null"`
	Sender    string    `gorm:"index;size:32;not null"`
	Receiver  string    `gorm:"index:idx_receiver_delivered;size:32;not null"`
	Delivered bool      `gorm:"index:idx_receiver_delivered;not null;default:false"`
	Text      string    `gorm:"type:text"`
	Timestamp time.Time `gorm:"not null"`
	Kind      string    `gorm:"size:32;not null"`
}

func (messageRow) TableName() string { return "messages" }

type Gateway struct {
	db  *gorm.DB
	log *slog.Logger
	// cascade keeps a message insert from interleaving with the cascade delete
	// of one of its participants.
	cascade sync.RWMutex
}

// Open connects to the database described by driver and dsn and migrates the schema.
func Open(driver, dsn string, log *slog.Logger) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case DriverSqlite:
		dialector = sqlite.Open(sqliteDSN(dsn))
	case DriverMysql:
		dialector = mysql.Open(dsn)
	default:
		return nil, fmt.Errorf("%w: %s", errors.ErrUnknownDriver, driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger: logger.New(gormWriter{log: log}, logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, err
	}
	if driver == DriverSqlite {
		// sqlite has a single writer, one connection turns lock contention into queueing.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	if err := db.AutoMigrate(&accountRow{}, &messageRow{}); err != nil {
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	return db, nil
}

// sqliteDSN appends the connection pragmas to dsn, defaulting to a shared in-memory database.
func sqliteDSN(dsn string) string {
	if dsn == "" {
		dsn = "file::memory:?cache=shared"
	}
	if strings.Contains(dsn, "?") {
		return dsn + "&" + sqlitePragmas
	}
	return dsn + "?" + sqlitePragmas
}

func NewGateway(db *gorm.DB, log *slog.Logger) *Gateway {
	return &Gateway{db: db, log: log}
}

func (g *Gateway) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (g *Gateway) CreateAccount(username, credentialHash string) error {
	now := time.Now().UTC()
	return g.db.Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&accountRow{}).Where("username = ?", username).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return errors.ErrUserAlreadyExists
		}
		err := tx.Create(&accountRow{
			Username:       username,
			CredentialHash: credentialHash,
			CreatedAt:      now,
			LastLoginAt:    now,
		}).Error
		if stderrors.Is(err, gorm.ErrDuplicatedKey) || isUniqueViolation(err) {
			return errors.ErrUserAlreadyExists
		}
		return err
	})
}

func (g *Gateway) GetAccount(username string) (chat.Account, error) {
	var row accountRow
	err := g.db.Where("username = ?", username).First(&row).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return chat.Account{}, fmt.Errorf("%w: %s", errors.ErrAccountNotFound, username)
	}
	if err != nil {
		return chat.Account{}, err
	}
	return chat.Account{
		Username:       row.Username,
		CredentialHash: row.CredentialHash,
		LastLoginAt:    row.LastLoginAt,
	}, nil
}

func (g *Gateway) AccountExists(username string) (bool, error) {
	var count int64
	err := g.db.Model(&accountRow{}).Where("username = ?", username).Count(&count).Error
	return count > 0, err
}

func (g *Gateway) TouchLastLogin(username string, at time.Time) error {
	result := g.db.Model(&accountRow{}).
		Where("username = ?", username).
		Update("last_login_at", at.UTC())
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", errors.ErrAccountNotFound, username)
	}
	return nil
}

func (g *Gateway) ListUsernames() ([]string, error) {
	usernames := make([]string, 0)
	err := g.db.Model(&accountRow{}).Order("username").Pluck("username", &usernames).Error
	return usernames, err
}

// DeleteAccount removes the account and its messages in one transaction.
func (g *Gateway) DeleteAccount(username string) error {
	g.cascade.Lock()
	defer g.cascade.Unlock()

	return g.db.Transaction(func(tx *gorm.DB) error {
		if err := deleteMessagesOf(tx, username); err != nil {
			return err
		}
		result := tx.Where("username = ?", username).Delete(&accountRow{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: %s", errors.ErrAccountNotFound, username)
		}
		return nil
	})
}

func (g *Gateway) DeleteMessagesByUser(username string) error {
	g.cascade.Lock()
	defer g.cascade.Unlock()
	return deleteMessagesOf(g.db, username)
}

func deleteMessagesOf(tx *gorm.DB, username string) error {
	return tx.Where("sender = ? OR receiver = ?", username, username).Delete(&messageRow{}).Error
}

// StoreMessage inserts msg as undelivered; the autoincrement key is its storage sequence.
func (g *Gateway) StoreMessage(msg chat.ChatMessage) (chat.ChatMessage, error) {
	if msg.Receiver == "" {
		return msg, errors.ErrMissingReceiver
	}
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	msg.Delivered = false

	g.cascade.RLock()
	defer g.cascade.RUnlock()

	row := fromChatMessage(msg)
	err := g.db.Transaction(func(tx *gorm.DB) error {
		var count int64
		participants := lo.Uniq([]string{msg.Sender, msg.Receiver})
		if err := tx.Model(&accountRow{}).Where("username IN ?", participants).Count(&count).Error; err != nil {
			return err
		}
		if int(count) != len(participants) {
			return fmt.Errorf("%w: %s", errors.ErrAccountNotFound, msg.Receiver)
		}
		return tx.Create(&row).Error
	})
	if err != nil {
		return msg, err
	}
	msg.Seq = row.Seq
	return msg, nil
}

func (g *Gateway) GetUndelivered(receiver string) ([]chat.ChatMessage, error) {
	var rows []messageRow
	err := g.db.Where("receiver = ? AND delivered = ?", receiver, false).Order("seq").Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return toChatMessages(rows)
}

func (g *Gateway) MarkDelivered(messages []chat.ChatMessage) error {
	if len(messages) == 0 {
		return nil
	}
	seqs := lo.Map(messages, func(m chat.ChatMessage, _ int) uint64 { return m.Seq })
	return g.db.Transaction(func(tx *gorm.DB) error {
		return tx.Model(&messageRow{}).Where("seq IN ?", seqs).Update("delivered", true).Error
	})
}

func (g *Gateway) GetConversation(a, b string) ([]chat.ChatMessage, error) {
	var rows []messageRow
	err := g.db.
		Where("(sender = ? AND receiver = ?) OR (sender = ? AND receiver = ?)", a, b, b, a).
		Order("seq").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return toChatMessages(rows)
}

func fromChatMessage(msg chat.ChatMessage) messageRow {
	return messageRow{
		ID:        msg.ID.String(),
		Sender:    msg.Sender,
		Receiver:  msg.Receiver,
		Delivered: msg.Delivered,
		Text:      msg.Text,
		Timestamp: msg.Timestamp.UTC(),
		Kind:      string(msg.Kind),
	}
}

func toChatMessages(rows []messageRow) ([]chat.ChatMessage, error) {
	messages := make([]chat.ChatMessage, 0, len(rows))
	for _, row := range rows {
		id, err := uuid.Parse(row.ID)
		if err != nil {
			return nil, fmt.Errorf("message %d: %w", row.Seq, err)
		}
		messages = append(messages, chat.ChatMessage{
			ID:        id,
			Seq:       row.Seq,
			Sender:    row.Sender,
			Receiver:  row.Receiver,
			Text:      row.Text,
			Timestamp: row.Timestamp,
			Kind:      chat.MessageKind(row.Kind),
			Delivered: row.Delivered,
		})
	}
	return messages, nil
}

// isUniqueViolation catches drivers that do not translate constraint errors.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate entry")
}

// gormWriter sends gorm's own log lines to slog.
type gormWriter struct {
	log *slog.Logger
}

func (w gormWriter) Printf(format string, args ...any) {
	w.log.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)), "component", "gorm")
}
