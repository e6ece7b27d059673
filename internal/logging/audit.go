// Audit logging for evolution runs. Audit logs are structured JSON-line
// events written alongside the category logs, one file per day, so a run
// can be reconstructed after the fact without the full debug logs.
package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// AuditEventType defines the type of audit event
type AuditEventType string

const (
	// Run lifecycle events
	AuditRunStart    AuditEventType = "run_start"
	AuditRunComplete AuditEventType = "run_complete"
	AuditRunError    AuditEventType = "run_error"

	// Tier events
	AuditTierStart    AuditEventType = "tier_start"
	AuditTierComplete AuditEventType = "tier_complete"

	// LLM API events
	AuditLLMRequest  AuditEventType = "llm_request"
	AuditLLMResponse AuditEventType = "llm_response"
	AuditLLMError    AuditEventType = "llm_error"

	// Subprocess execution events
	AuditExecStart    AuditEventType = "exec_start"
	AuditExecComplete AuditEventType = "exec_complete"
	AuditExecTimeout  AuditEventType = "exec_timeout"

	// Archival store events
	AuditArchiveWrite    AuditEventType = "archive_write"
	AuditArchiveRetrieve AuditEventType = "archive_retrieve"
	AuditArchiveError    AuditEventType = "archive_error"

	// Fusion events
	AuditFusionComplete AuditEventType = "fusion_complete"
)

// AuditEvent represents a structured audit log entry
type AuditEvent struct {
	Timestamp  int64                  `json:"ts"`    // Unix milliseconds
	EventType  AuditEventType         `json:"event"` // What happened
	RunID      string                 `json:"run"`   // Run correlation
	Target     string                 `json:"target"`
	Success    bool                   `json:"success"`
	DurationMs int64                  `json:"dur_ms"`
	Error      string                 `json:"error,omitempty"`
	Message    string                 `json:"msg"`
	Fields     map[string]interface{} `json:"fields,omitempty"`
}

var (
	auditFile   *os.File
	auditMu     sync.Mutex
	auditLogger *AuditLogger
)

// AuditLogger handles structured audit logging, optionally scoped to a run
type AuditLogger struct {
	runID string
}

// InitAudit initializes the audit logging system
func InitAudit() error {
	if !IsDebugMode() {
		return nil
	}

	auditMu.Lock()
	defer auditMu.Unlock()

	if auditFile != nil {
		return nil // Already initialized
	}

	date := time.Now().Format("2006-01-02")
	auditPath := filepath.Join(logsDir, fmt.Sprintf("%s_audit.log", date))

	file, err := os.OpenFile(auditPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}
	auditFile = file

	header := fmt.Sprintf("# Audit log started at %s\n", time.Now().Format(time.RFC3339))
	auditFile.WriteString(header)

	return nil
}

// CloseAudit closes the audit log file
func CloseAudit() {
	auditMu.Lock()
	defer auditMu.Unlock()

	if auditFile != nil {
		auditFile.Close()
		auditFile = nil
	}
}

// Audit returns the global audit logger
func Audit() *AuditLogger {
	if auditLogger == nil {
		auditLogger = &AuditLogger{}
	}
	return auditLogger
}

// AuditWithRun creates an audit logger scoped to an evolution run
func AuditWithRun(runID string) *AuditLogger {
	return &AuditLogger{runID: runID}
}

// Log writes an audit event
func (a *AuditLogger) Log(event AuditEvent) {
	if !IsDebugMode() || auditFile == nil {
		return
	}

	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UnixMilli()
	}
	if event.RunID == "" && a.runID != "" {
		event.RunID = a.runID
	}

	auditMu.Lock()
	defer auditMu.Unlock()

	data, err := json.Marshal(event)
	if err == nil {
		auditFile.WriteString(string(data) + "\n")
	}
}

// RunStart logs the start of an evolution run
func (a *AuditLogger) RunStart(runID, task string) {
	a.Log(AuditEvent{
		EventType: AuditRunStart,
		RunID:     runID,
		Target:    task,
		Success:   true,
		Message:   fmt.Sprintf("Run started: %s", runID),
	})
}

// RunComplete logs the end of an evolution run
func (a *AuditLogger) RunComplete(runID string, totalScore float64, success bool, durationMs int64) {
	a.Log(AuditEvent{
		EventType:  AuditRunComplete,
		RunID:      runID,
		Success:    success,
		DurationMs: durationMs,
		Fields:     map[string]interface{}{"total_score": totalScore},
		Message:    fmt.Sprintf("Run completed: %s (score=%.3f, success=%v)", runID, totalScore, success),
	})
}

// TierComplete logs completion of a pipeline tier
func (a *AuditLogger) TierComplete(tier string, score float64, durationMs int64) {
	a.Log(AuditEvent{
		EventType:  AuditTierComplete,
		Target:     tier,
		Success:    true,
		DurationMs: durationMs,
		Fields:     map[string]interface{}{"score": score},
		Message:    fmt.Sprintf("Tier %s completed (score=%.3f, %dms)", tier, score, durationMs),
	})
}

// LLMCall logs an LLM API call
func (a *AuditLogger) LLMCall(model string, durationMs int64, success bool, errMsg string) {
	eventType := AuditLLMResponse
	if !success {
		eventType = AuditLLMError
	}
	a.Log(AuditEvent{
		EventType:  eventType,
		Target:     model,
		Success:    success,
		DurationMs: durationMs,
		Error:      errMsg,
		Message:    fmt.Sprintf("LLM call: %s (%dms, success=%v)", model, durationMs, success),
	})
}

// ExecResult logs a subprocess execution of candidate code
func (a *AuditLogger) ExecResult(script string, durationMs int64, success bool, timedOut bool, errMsg string) {
	eventType := AuditExecComplete
	if timedOut {
		eventType = AuditExecTimeout
	}
	a.Log(AuditEvent{
		EventType:  eventType,
		Target:     script,
		Success:    success,
		DurationMs: durationMs,
		Error:      errMsg,
		Message:    fmt.Sprintf("Exec %s (%dms, success=%v)", script, durationMs, success),
	})
}

// ArchiveOp logs an archival store operation
func (a *AuditLogger) ArchiveOp(op AuditEventType, fileID string, success bool, errMsg string) {
	a.Log(AuditEvent{
		EventType: op,
		Target:    fileID,
		Success:   success,
		Error:     errMsg,
		Message:   fmt.Sprintf("Archive %s: %s (success=%v)", op, fileID, success),
	})
}

// FusionResult logs a completed fusion
func (a *AuditLogger) FusionResult(strategy string, offspringScore float64, syntaxValid bool) {
	a.Log(AuditEvent{
		EventType: AuditFusionComplete,
		Target:    strategy,
		Success:   syntaxValid,
		Fields:    map[string]interface{}{"offspring_score": offspringScore},
		Message:   fmt.Sprintf("Fusion %s: offspring=%.3f valid=%v", strategy, offspringScore, syntaxValid),
	})
}
