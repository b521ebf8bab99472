package logging

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"
)

// Attribute keys.
const (
	KeyOperation     = "operation"
	KeyOwnerHash     = "owner_hash"
	KeyPUUID         = "puuid"
	KeyEndpoint      = "endpoint"
	KeyCorrelationID = "correlation_id"
	KeyRequestID     = "request_id"
	KeyOutcome       = "outcome"
	KeyRetryAt       = "retry_at"
	KeyDuration      = "duration"
	KeyError         = "error"
)

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// OrDefault returns l, or slog.Default when l is nil.
func OrDefault(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}

// HashOwner returns a short stable digest of an owner id.
func HashOwner(ownerID string) string {
	if ownerID == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(ownerID))
	return "owner:" + hex.EncodeToString(sum[:8])
}

// OwnerHash returns the hashed owner attribute.
func OwnerHash(ownerID string) slog.Attr {
	return slog.String(KeyOwnerHash, HashOwner(ownerID))
}

func Operation(op string) slog.Attr { return slog.String(KeyOperation, op) }

func PUUID(puuid string) slog.Attr { return slog.String(KeyPUUID, puuid) }

func Endpoint(endpoint string) slog.Attr { return slog.String(KeyEndpoint, endpoint) }

func CorrelationID(id uint64) slog.Attr { return slog.Uint64(KeyCorrelationID, id) }

func RequestID(id string) slog.Attr { return slog.String(KeyRequestID, id) }

func Outcome(outcome string) slog.Attr { return slog.String(KeyOutcome, outcome) }

func Duration(d time.Duration) slog.Attr { return slog.Duration(KeyDuration, d) }

// RetryAt returns the backoff deadline attribute.
func RetryAt(t time.Time) slog.Attr {
	return slog.Time(KeyRetryAt, t)
}

// Err returns the error attribute, or an empty group that slog omits when err is nil.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Group("")
	}
	return slog.String(KeyError, err.Error())
}
