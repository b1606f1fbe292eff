package logger

import (
	"log/slog"
	"time"
)

// Standard field keys used across the codebase. Using constants keeps log
// output consistent and greppable.
const (
	KeyRequestID = "request_id"
	KeyClientIP  = "client_ip"
	KeyUser      = "user"
	KeyUpload    = "upload"
	KeyAlbum     = "album"
	KeyChunkUUID = "chunk_uuid"
	KeySize      = "size"
	KeyHash      = "hash"
	KeyCount     = "count"
	KeyDuration  = "duration_ms"
	KeyError     = "error"
)

// These functions provide type-safe construction of slog.Attr values.

// Upload returns a slog.Attr for a public upload name.
func Upload(name string) slog.Attr {
	return slog.String(KeyUpload, name)
}

// Album returns a slog.Attr for an album identifier.
func Album(identifier string) slog.Attr {
	return slog.String(KeyAlbum, identifier)
}

// User returns a slog.Attr for a username.
func User(username string) slog.Attr {
	return slog.String(KeyUser, username)
}

// ChunkUUID returns a slog.Attr for a namespaced chunk session uuid.
func ChunkUUID(uuid string) slog.Attr {
	return slog.String(KeyChunkUUID, uuid)
}

// Size returns a slog.Attr for a byte size.
func Size(n int64) slog.Attr {
	return slog.Int64(KeySize, n)
}

// Hash returns a slog.Attr for a content hash.
func Hash(hex string) slog.Attr {
	return slog.String(KeyHash, hex)
}

// Count returns a slog.Attr for an item count.
func Count(n int) slog.Attr {
	return slog.Int(KeyCount, n)
}

// Elapsed returns a slog.Attr with the elapsed time in milliseconds.
func Elapsed(start time.Time) slog.Attr {
	return slog.Float64(KeyDuration, Duration(start))
}

// Err returns a slog.Attr for an error value.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
