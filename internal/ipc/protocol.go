// Package ipc provides the daemon control protocol over Unix sockets
// (named pipes on Windows).
package ipc

import (
	"encoding/json"
	"fmt"
)

// Request kinds. These are wire values; the payload shape depends on the kind.
const (
	KindGetVersion   = "GetVersion"
	KindStartCore    = "StartCore"
	KindStopCore     = "StopCore"
	KindRestartCore  = "RestartCore"
	KindReloadConfig = "ReloadConfig"
	KindGetStatus    = "GetStatus"
	KindGetLogs      = "GetLogs"
	KindClearLogs    = "ClearLogs"
	KindIsRunning    = "IsRunning"
	KindPing         = "Ping"
	KindShutdown     = "Shutdown"
)

// Response codes. Nonzero codes carry an error in Message.
const (
	CodeOK       = 0
	CodeError    = 1
	CodeProtocol = 400
)

// Log levels carried in LogEntry.Level.
const (
	LevelDebug = "DEBUG"
	LevelInfo  = "INFO"
	LevelWarn  = "WARN"
	LevelError = "ERROR"
)

// CoreConfig describes how to launch the core process.
type CoreConfig struct {
	ConfigPath string `json:"config_path"`
	CorePath   string `json:"core_path"`
	ConfigDir  string `json:"config_dir"`
}

// CoreStatus is a point-in-time snapshot of the supervised core.
type CoreStatus struct {
	Running    bool    `json:"running"`
	PID        *uint32 `json:"pid,omitempty"`
	UptimeSecs *uint64 `json:"uptime_secs,omitempty"`
	ConfigPath *string `json:"config_path,omitempty"`
	LastError  *string `json:"last_error,omitempty"`
}

// LogEntry is one captured core log line.
type LogEntry struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Message   string `json:"message"`
}

// Request is a control request. Kinds that carry arguments put them in
// Payload; the rest omit it.
type Request struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// reloadPayload carries the argument of a ReloadConfig request.
type reloadPayload struct {
	ConfigPath string `json:"config_path"`
}

// logsPayload carries the argument of a GetLogs request.
type logsPayload struct {
	Limit *int `json:"limit"`
}

// NewRequest builds a payload-less request.
func NewRequest(kind string) Request {
	return Request{Type: kind}
}

// NewStartCore builds a StartCore request.
func NewStartCore(cfg CoreConfig) (Request, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return Request{}, fmt.Errorf("marshal core config: %w", err)
	}
	return Request{Type: KindStartCore, Payload: data}, nil
}

// NewReloadConfig builds a ReloadConfig request.
func NewReloadConfig(path string) (Request, error) {
	data, err := json.Marshal(reloadPayload{ConfigPath: path})
	if err != nil {
		return Request{}, fmt.Errorf("marshal reload payload: %w", err)
	}
	return Request{Type: KindReloadConfig, Payload: data}, nil
}

// NewGetLogs builds a GetLogs request. A limit <= 0 requests all entries.
func NewGetLogs(limit int) (Request, error) {
	p := logsPayload{}
	if limit > 0 {
		p.Limit = &limit
	}
	data, err := json.Marshal(p)
	if err != nil {
		return Request{}, fmt.Errorf("marshal logs payload: %w", err)
	}
	return Request{Type: KindGetLogs, Payload: data}, nil
}

// StartCoreConfig decodes the payload of a StartCore request.
func (r *Request) StartCoreConfig() (CoreConfig, error) {
	var cfg CoreConfig
	if len(r.Payload) == 0 {
		return cfg, fmt.Errorf("missing payload")
	}
	if err := json.Unmarshal(r.Payload, &cfg); err != nil {
		return cfg, fmt.Errorf("invalid payload: %w", err)
	}
	if cfg.ConfigPath == "" || cfg.CorePath == "" {
		return cfg, fmt.Errorf("config_path and core_path are required")
	}
	return cfg, nil
}

// ReloadPath decodes the payload of a ReloadConfig request.
func (r *Request) ReloadPath() (string, error) {
	if len(r.Payload) == 0 {
		return "", fmt.Errorf("missing payload")
	}
	var p reloadPayload
	if err := json.Unmarshal(r.Payload, &p); err != nil {
		return "", fmt.Errorf("invalid payload: %w", err)
	}
	if p.ConfigPath == "" {
		return "", fmt.Errorf("config_path is required")
	}
	return p.ConfigPath, nil
}

// LogsLimit decodes the payload of a GetLogs request. An absent payload or
// null limit means all entries.
func (r *Request) LogsLimit() (int, error) {
	if len(r.Payload) == 0 {
		return 0, nil
	}
	var p logsPayload
	if err := json.Unmarshal(r.Payload, &p); err != nil {
		return 0, fmt.Errorf("invalid payload: %w", err)
	}
	if p.Limit == nil {
		return 0, nil
	}
	return *p.Limit, nil
}

// Response is a control response. Code 0 is success; Data holds the
// kind-specific result when present.
type Response struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Success builds a bare success response.
func Success(message string) Response {
	return Response{Code: CodeOK, Message: message}
}

// Errorf builds an error response.
func Errorf(code int, format string, args ...any) Response {
	return Response{Code: code, Message: fmt.Sprintf(format, args...)}
}

func successData(message string, v any) Response {
	data, err := json.Marshal(v)
	if err != nil {
		return Errorf(CodeError, "marshal response data: %v", err)
	}
	return Response{Code: CodeOK, Message: message, Data: data}
}

// SuccessWithVersion builds a success response carrying a version string.
func SuccessWithVersion(version string) Response {
	return successData("OK", version)
}

// SuccessWithStatus builds a success response carrying a status snapshot.
func SuccessWithStatus(status CoreStatus) Response {
	return successData("OK", status)
}

// SuccessWithLogs builds a success response carrying log entries.
func SuccessWithLogs(entries []LogEntry) Response {
	if entries == nil {
		entries = []LogEntry{}
	}
	return successData("OK", entries)
}

// SuccessWithBool builds a success response carrying a boolean.
func SuccessWithBool(v bool) Response {
	return successData("OK", v)
}

// VersionData decodes the response data as a version string.
func (r *Response) VersionData() (string, error) {
	var v string
	if err := json.Unmarshal(r.Data, &v); err != nil {
		return "", fmt.Errorf("%w: unexpected version data: %v", ErrProtocol, err)
	}
	return v, nil
}

// StatusData decodes the response data as a status snapshot.
func (r *Response) StatusData() (*CoreStatus, error) {
	var s CoreStatus
	if err := json.Unmarshal(r.Data, &s); err != nil {
		return nil, fmt.Errorf("%w: unexpected status data: %v", ErrProtocol, err)
	}
	return &s, nil
}

// LogsData decodes the response data as log entries.
func (r *Response) LogsData() ([]LogEntry, error) {
	var entries []LogEntry
	if err := json.Unmarshal(r.Data, &entries); err != nil {
		return nil, fmt.Errorf("%w: unexpected logs data: %v", ErrProtocol, err)
	}
	return entries, nil
}

// BoolData decodes the response data as a boolean.
func (r *Response) BoolData() (bool, error) {
	var v bool
	if err := json.Unmarshal(r.Data, &v); err != nil {
		return false, fmt.Errorf("%w: unexpected bool data: %v", ErrProtocol, err)
	}
	return v, nil
}
