package events

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tunneld/tunneld/internal/appconfig"
	"github.com/tunneld/tunneld/internal/model"
)

// Lifecycle event types emitted by the supervision core.
const (
	TypeStarted          = "started"
	TypeDegraded         = "degraded"
	TypeFailed           = "failed"
	TypeRestartScheduled = "restart-scheduled"
	TypeRestarted        = "restarted"
	TypeRestartFailed    = "restart-failed"
	TypeRecovered        = "recovered"
	TypeStopped          = "stopped"
)

// Event is one tunnel lifecycle record persisted to events.jsonl.
type Event struct {
	Timestamp   time.Time          `json:"timestamp"`
	TunnelIndex int                `json:"tunnel_index"`
	Forward     string             `json:"forward,omitempty"`
	EventType   string             `json:"event_type"`
	Status      model.TunnelStatus `json:"status,omitempty"`
	Message     string             `json:"message,omitempty"`
	PID         int                `json:"pid,omitempty"`
}

// Recorder receives lifecycle events from the supervision core. Journal
// failures must never disturb supervision, so Record has no error return;
// implementations log and move on.
type Recorder interface {
	Record(evt Event)
}

// Nop is a Recorder that discards everything.
type Nop struct{}

func (Nop) Record(Event) {}

// Query controls event filtering and bounded reads.
type Query struct {
	TunnelIndex int // -1 matches all tunnels
	EventType   string
	Since       time.Time
	Limit       int
}

// Store provides append/read access to the local event journal.
type Store struct{}

func NewStore() *Store {
	return &Store{}
}

// Record implements Recorder; append failures are logged, not returned.
func (s *Store) Record(evt Event) {
	if err := s.Append(evt); err != nil {
		slog.Warn("failed to append tunnel event", "type", evt.EventType, "error", err)
	}
}

// Append writes a single event as one JSON line.
func (s *Store) Append(evt Event) error {
	path, err := appconfig.EventsFilePath()
	if err != nil {
		return err
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()

	b, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	if _, err := f.Write(append(b, '\n')); err != nil {
		return err
	}
	return nil
}

// Read returns events in append order, filtered by query, with optional limit
// keeping the most recent entries.
func (s *Store) Read(q Query) ([]Event, error) {
	path, err := appconfig.EventsFilePath()
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var out []Event
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var evt Event
		if err := json.Unmarshal([]byte(line), &evt); err != nil {
			continue
		}
		if !matches(evt, q) {
			continue
		}
		out = append(out, evt)
		if q.Limit > 0 && len(out) > q.Limit {
			out = out[len(out)-q.Limit:]
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan events: %w", err)
	}
	return out, nil
}

func matches(evt Event, q Query) bool {
	if q.TunnelIndex >= 0 && evt.TunnelIndex != q.TunnelIndex {
		return false
	}
	if strings.TrimSpace(q.EventType) != "" && evt.EventType != q.EventType {
		return false
	}
	if !q.Since.IsZero() && evt.Timestamp.Before(q.Since) {
		return false
	}
	return true
}
