// Package tasklog keeps a bounded in-memory record of the log lines emitted
// during one task run, so the run can attach them to its execution record.
package tasklog

import (
	"sync"
	"time"
)

// Levels.
const (
	LevelDebug    = "DEBUG"
	LevelInfo     = "INFO"
	LevelWarning  = "WARNING"
	LevelError    = "ERROR"
	LevelCritical = "CRITICAL"
)

// DefaultMaxRecords bounds a collector created with a non-positive size.
const DefaultMaxRecords = 1000

// Record is one collected log line.
type Record struct {
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Timestamp time.Time              `json:"timestamp"`
	Exception string                 `json:"exception,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// Summary counts collected records.
type Summary struct {
	Total   int            `json:"total"`
	ByLevel map[string]int `json:"by_level"`
}

// Collector stores up to max records, evicting the oldest when full.
// It is safe for concurrent use.
type Collector struct {
	mu      sync.Mutex
	records []Record
	max     int
	now     func() time.Time
}

// NewCollector creates a collector holding at most maxRecords.
func NewCollector(maxRecords int) *Collector {
	if maxRecords <= 0 {
		maxRecords = DefaultMaxRecords
	}
	return &Collector{max: maxRecords, now: time.Now}
}

func (c *Collector) add(r Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r.Timestamp.IsZero() {
		r.Timestamp = c.now()
	}
	if len(c.records) >= c.max {
		copy(c.records, c.records[1:])
		c.records = c.records[:len(c.records)-1]
	}
	c.records = append(c.records, r)
}

func (c *Collector) Debug(msg string) { c.add(Record{Level: LevelDebug, Message: msg}) }
func (c *Collector) Info(msg string)  { c.add(Record{Level: LevelInfo, Message: msg}) }
func (c *Collector) Warning(msg string) {
	c.add(Record{Level: LevelWarning, Message: msg})
}

// Error records an ERROR line with optional exception text.
func (c *Collector) Error(msg, exception string) {
	c.add(Record{Level: LevelError, Message: msg, Exception: exception})
}

// Logs returns a copy of every record, oldest first.
func (c *Collector) Logs() []Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Record, len(c.records))
	copy(out, c.records)
	return out
}

// WarningsAndErrors returns WARNING, ERROR and CRITICAL records.
func (c *Collector) WarningsAndErrors() []Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Record
	for _, r := range c.records {
		switch r.Level {
		case LevelWarning, LevelError, LevelCritical:
			out = append(out, r)
		}
	}
	return out
}

// Summary counts records per level.
func (c *Collector) Summary() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Summary{Total: len(c.records), ByLevel: map[string]int{}}
	for _, r := range c.records {
		s.ByLevel[r.Level]++
	}
	return s
}

// Clear drops every record.
func (c *Collector) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = nil
}
