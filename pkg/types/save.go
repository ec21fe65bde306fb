// Save request and result shapes.

package types

import "time"

// Save type constants.
const (
	SaveTypeAuto      = "auto"
	SaveTypeManual    = "manual"
	SaveTypeScheduled = "scheduled"
)

// DefaultRetryCount is the conflict retry budget when a request names none.
const DefaultRetryCount = 3

// SaveRequest is one logical save of a canvas document.
type SaveRequest struct {
	ID       string    `json:"id" validate:"required,max=200"`
	Title    string    `json:"title" validate:"max=500"`
	Nodes    []Node    `json:"nodes" validate:"dive"`
	Edges    []Edge    `json:"edges" validate:"dive"`
	Note     string    `json:"note,omitempty"`
	Viewport *Viewport `json:"viewport,omitempty"`

	// SessionID is minted when empty.
	SessionID string `json:"sessionId,omitempty" validate:"max=200"`

	Options SaveOptions `json:"options"`
}

// SaveOptions tunes a single save.
type SaveOptions struct {
	// SaveType is one of the SaveType constants; empty means auto.
	SaveType string `json:"saveType,omitempty" validate:"omitempty,oneof=auto manual scheduled"`

	// CreateBackup forces a backup of the saved document.
	CreateBackup bool `json:"createBackup,omitempty"`

	// RetryCount is the conflict retry budget; nil means DefaultRetryCount.
	RetryCount *int `json:"retryCount,omitempty" validate:"omitempty,gte=0,lte=10"`

	// BaseVersion is the version the client last saw. Zero means undeclared.
	// A declared version that differs from the stored one sends the save
	// straight to the merge path.
	BaseVersion int64 `json:"baseVersion,omitempty" validate:"gte=0"`
}

// Retries returns the effective retry budget.
func (o SaveOptions) Retries() int {
	if o.RetryCount == nil {
		return DefaultRetryCount
	}
	return *o.RetryCount
}

// Type returns the effective save type.
func (o SaveOptions) Type() string {
	if o.SaveType == "" {
		return SaveTypeAuto
	}
	return o.SaveType
}

// SaveResult is what the caller of a save receives. Timestamps are ISO-8601
// strings; on failure Success is false and Error carries a readable message.
type SaveResult struct {
	Success          bool   `json:"success"`
	Version          int64  `json:"version,omitempty"`
	SessionID        string `json:"sessionId,omitempty"`
	BackupID         string `json:"backupId,omitempty"`
	ConflictResolved bool   `json:"conflictResolved"`
	Timestamp        string `json:"timestamp,omitempty"`
	Error            string `json:"error,omitempty"`
	Code             string `json:"code,omitempty"`
}

// Failed builds the failure result for err.
func Failed(sessionID string, err error) SaveResult {
	return SaveResult{
		Success:   false,
		SessionID: sessionID,
		Error:     err.Error(),
		Code:      ErrorCode(err),
	}
}

// TimeFormat is the fixed-width UTC ISO-8601 layout used for every stored and
// returned timestamp. Fixed width keeps lexical order equal to time order.
const TimeFormat = "2006-01-02T15:04:05.000000000Z"

// FormatTime renders t in TimeFormat.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}

// ParseTime parses a TimeFormat (or any RFC 3339) timestamp.
func ParseTime(s string) (time.Time, error) {
	t, err := time.Parse(TimeFormat, s)
	if err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

// OpResult is the boundary result of operations that return no entity.
type OpResult struct {
	Success bool   `json:"success"`
	Deleted int64  `json:"deleted,omitempty"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
}

// OpFailed builds the failure result for err.
func OpFailed(err error) OpResult {
	return OpResult{Success: false, Error: err.Error(), Code: ErrorCode(err)}
}
