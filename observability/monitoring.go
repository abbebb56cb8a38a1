package observability

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const recentEventsLimit = 20

// ConnectionEvent is one entry of the connection log shown by telemetry.
type ConnectionEvent struct {
	Kind     string `json:"kind" yaml:"kind"`
	Username string `json:"username" yaml:"username"`
	At       string `json:"at" yaml:"at"`
}

const (
	EventLogin      = "login"
	EventRejected   = "rejected"
	EventRegister   = "register"
	EventDisconnect = "disconnect"
	EventDeleted    = "deleted"
)

// RelayStats is a point in time copy of the counters.
type RelayStats struct {
	Logins           uint64            `json:"logins" yaml:"logins"`
	RejectedLogins   uint64            `json:"rejected_logins" yaml:"rejected_logins"`
	Registrations    uint64            `json:"registrations" yaml:"registrations"`
	MessagesStored   uint64            `json:"messages_stored" yaml:"messages_stored"`
	MessagesRouted   uint64            `json:"messages_routed" yaml:"messages_routed"`
	BacklogDelivered uint64            `json:"backlog_delivered" yaml:"backlog_delivered"`
	AccountsDeleted  uint64            `json:"accounts_deleted" yaml:"accounts_deleted"`
	Disconnects      uint64            `json:"disconnects" yaml:"disconnects"`
	CensoredWords    uint64            `json:"censored_words" yaml:"censored_words"`
	Errors           uint64            `json:"errors" yaml:"errors"`
	RecentEvents     []ConnectionEvent `json:"recent_events" yaml:"recent_events"`
}

// MonitoringManager counts what the relay does. Every method is safe for concurrent use,
// and a nil manager ignores every call so tests can leave it out.
type MonitoringManager struct {
	log *slog.Logger

	logins           atomic.Uint64
	rejectedLogins   atomic.Uint64
	registrations    atomic.Uint64
	messagesStored   atomic.Uint64
	messagesRouted   atomic.Uint64
	backlogDelivered atomic.Uint64
	accountsDeleted  atomic.Uint64
	disconnects      atomic.Uint64
	censoredWords    atomic.Uint64
	errors           atomic.Uint64

	mu     sync.Mutex
	recent []ConnectionEvent // newest first
}

func NewMonitoringManager(log *slog.Logger) *MonitoringManager {
	return &MonitoringManager{log: log, recent: make([]ConnectionEvent, 0, recentEventsLimit)}
}

func (mm *MonitoringManager) IncrLogin(username string) {
	if mm == nil {
		return
	}
	mm.logins.Add(1)
	mm.record(EventLogin, username)
}

func (mm *MonitoringManager) IncrRejectedLogin(username string) {
	if mm == nil {
		return
	}
	mm.rejectedLogins.Add(1)
	mm.record(EventRejected, username)
}

func (mm *MonitoringManager) IncrRegistration(username string) {
	if mm == nil {
		return
	}
	mm.registrations.Add(1)
	mm.record(EventRegister, username)
}

func (mm *MonitoringManager) IncrDisconnect(username string) {
	if mm == nil {
		return
	}
	mm.disconnects.Add(1)
	mm.record(EventDisconnect, username)
}

func (mm *MonitoringManager) IncrAccountDeleted(username string) {
	if mm == nil {
		return
	}
	mm.accountsDeleted.Add(1)
	mm.record(EventDeleted, username)
}

func (mm *MonitoringManager) IncrMessageStored() {
	if mm == nil {
		return
	}
	mm.messagesStored.Add(1)
}

func (mm *MonitoringManager) IncrMessageRouted() {
	if mm == nil {
		return
	}
	mm.messagesRouted.Add(1)
}

func (mm *MonitoringManager) AddBacklogDelivered(n int) {
	if mm == nil || n <= 0 {
		return
	}
	mm.backlogDelivered.Add(uint64(n))
}

func (mm *MonitoringManager) AddCensoredWords(n int) {
	if mm == nil || n <= 0 {
		return
	}
	mm.censoredWords.Add(uint64(n))
}

func (mm *MonitoringManager) IncrErrorCount() {
	if mm == nil {
		return
	}
	mm.errors.Add(1)
}

func (mm *MonitoringManager) record(kind, username string) {
	event := ConnectionEvent{Kind: kind, Username: username, At: time.Now().UTC().Format(time.TimeOnly)}

	mm.mu.Lock()
	defer mm.mu.Unlock()
	mm.recent = append([]ConnectionEvent{event}, mm.recent...)
	if len(mm.recent) > recentEventsLimit {
		mm.recent = mm.recent[:recentEventsLimit]
	}
}

// GetLatest returns a copy of every counter and of the recent connection events.
func (mm *MonitoringManager) GetLatest() RelayStats {
	if mm == nil {
		return RelayStats{}
	}
	mm.mu.Lock()
	recent := append([]ConnectionEvent(nil), mm.recent...)
	mm.mu.Unlock()

	return RelayStats{
		Logins:           mm.logins.Load(),
		RejectedLogins:   mm.rejectedLogins.Load(),
		Registrations:    mm.registrations.Load(),
		MessagesStored:   mm.messagesStored.Load(),
		MessagesRouted:   mm.messagesRouted.Load(),
		BacklogDelivered: mm.backlogDelivered.Load(),
		AccountsDeleted:  mm.accountsDeleted.Load(),
		Disconnects:      mm.disconnects.Load(),
		CensoredWords:    mm.censoredWords.Load(),
		Errors:           mm.errors.Load(),
		RecentEvents:     recent,
	}
}
