// Package ipc serves a small JSON protocol over a unix socket so a running
// instance can be queried or stopped from another shell. Each connection
// carries one newline-terminated request and one response.
package ipc

import (
	"encoding/json"
	"time"
)

// Commands understood by the server.
const (
	CmdPing   = "ping"
	CmdStatus = "status"
	CmdStop   = "stop"
)

// Request is a JSON message sent from client to server.
type Request struct {
	Command string            `json:"command"`
	Args    map[string]string `json:"args,omitempty"`
}

// Response is a JSON message sent from server to client.
type Response struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
}

// StatusData is returned by the "status" command.
type StatusData struct {
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
	Uptime    string    `json:"uptime"`

	Root      string   `json:"root"`
	Command   []string `json:"command"`
	Events    []string `json:"events"`
	Recursive bool     `json:"recursive"`
	Delay     float64  `json:"delay_seconds"`

	Batches       uint64 `json:"batches"`
	Executed      uint64 `json:"executed"`
	Skipped       uint64 `json:"skipped"`
	Failed        uint64 `json:"failed"`
	WatchRestarts uint64 `json:"watch_restarts"`

	LastBatchID  string     `json:"last_batch_id,omitempty"`
	LastStatus   string     `json:"last_status,omitempty"`
	LastExitCode int        `json:"last_exit_code"`
	LastRun      *time.Time `json:"last_run,omitempty"`

	HistoryPath string `json:"history_path,omitempty"`
	HistoryRuns int64  `json:"history_runs"`
	DBSizeBytes int64  `json:"db_size_bytes"`
}
