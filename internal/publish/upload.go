package publish

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/withObsrvr/top10-publisher/internal/logging"
)

// Uploader streams extract bytes through a remote upload session.
// It never retries; a failed append surfaces as *TransferError.
type Uploader struct {
	api       API
	chunkSize int
	log       *slog.Logger
}

// NewUploader creates an uploader sending chunks of at most chunkSize bytes.
func NewUploader(api API, chunkSize int) *Uploader {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Uploader{
		api:       api,
		chunkSize: chunkSize,
		log:       logging.Component("upload"),
	}
}

// Open initiates a new upload session.
func (u *Uploader) Open(ctx context.Context) (string, error) {
	id, err := u.api.InitiateUpload(ctx)
	if err != nil {
		return "", &TransferError{Op: "open", Err: err}
	}
	if id == "" {
		return "", &TransferError{Op: "open", Err: errors.New("server returned an empty session id")}
	}
	u.log.Debug("upload session opened", "session_id", id)
	return id, nil
}

// Append sends src from its start into the session and returns the number
// of bytes sent. src is rewound to offset 0 on every return so that a
// caller retry reads the whole payload again.
func (u *Uploader) Append(ctx context.Context, sessionID string, src io.ReadSeeker, contentType string) (sent int64, err error) {
	if sessionID == "" {
		return 0, &TransferError{Op: "append", Err: ErrEmptySession}
	}

	size, err := src.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, &TransferError{Op: "read", SessionID: sessionID, Err: fmt.Errorf("measure payload: %w", err)}
	}
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return 0, &TransferError{Op: "read", SessionID: sessionID, Err: fmt.Errorf("rewind payload: %w", err)}
	}
	defer func() {
		if _, serr := src.Seek(0, io.SeekStart); serr != nil && err == nil {
			err = &TransferError{Op: "read", SessionID: sessionID, Offset: sent, Err: fmt.Errorf("rewind payload: %w", serr)}
		}
	}()

	bufSize := int64(u.chunkSize)
	if size < bufSize {
		bufSize = max(size, 1)
	}
	buf := make([]byte, bufSize)

	start := time.Now()
	chunks := 0
	for {
		n, rerr := io.ReadFull(src, buf)
		if n > 0 || chunks == 0 {
			if err := u.api.AppendUpload(ctx, sessionID, buf[:n], contentType); err != nil {
				return sent, &TransferError{Op: "append", SessionID: sessionID, Offset: sent, Err: err}
			}
			sent += int64(n)
			chunks++
		}
		if rerr == io.EOF || rerr == io.ErrUnexpectedEOF {
			break
		}
		if rerr != nil {
			return sent, &TransferError{Op: "read", SessionID: sessionID, Offset: sent, Err: rerr}
		}
	}

	u.log.Info("upload complete",
		"session_id", sessionID,
		"bytes", sent,
		"chunks", chunks,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return sent, nil
}

// Upload opens a session and appends src to it.
func (u *Uploader) Upload(ctx context.Context, src io.ReadSeeker, contentType string) (string, int64, error) {
	id, err := u.Open(ctx)
	if err != nil {
		return "", 0, err
	}
	n, err := u.Append(ctx, id, src, contentType)
	return id, n, err
}
