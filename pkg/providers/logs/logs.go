// Package logs holds what the log stream clients share: line scanning and
// delivery of records to a listener.
package logs

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"

	"github.com/modoterra/logsource/pkg/core"
	"github.com/modoterra/logsource/pkg/logging"
)

// MaxLineSize is the longest line a client will deliver as one record.
const MaxLineSize = 1024 * 1024

// ScanLines reads lines from r and calls fn for each, without the trailing
// newline or carriage return. A line longer than MaxLineSize is delivered cut
// to MaxLineSize; the rest of it is read and dropped so the writer never stalls.
func ScanLines(r io.Reader, fn func(string)) error {
	br := bufio.NewReaderSize(r, 64*1024)
	var line []byte
	for {
		chunk, more, err := br.ReadLine()
		if err != nil {
			if len(line) > 0 {
				fn(strings.TrimSuffix(string(line), "\r"))
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if room := MaxLineSize - len(line); room > 0 {
			line = append(line, chunk[:min(len(chunk), room)]...)
		}
		if more {
			continue
		}
		fn(strings.TrimSuffix(string(line), "\r"))
		line = line[:0]
	}
}

// Deliver hands r to the listener. A failed delivery is logged and dropped;
// the stream keeps going.
func Deliver(ctx context.Context, l core.Listener, r core.LogRecord, logger *slog.Logger) {
	if err := l.OnRecord(ctx, r); err != nil {
		logger.Warn("record not delivered", logging.Application(r.ApplicationID), logging.Error(err))
	}
}

// Finish reports the end of a stream. Cancellation of ctx is a normal end.
func Finish(ctx context.Context, l core.Listener, err error) {
	if err != nil && ctx.Err() == nil {
		l.OnError(err)
		return
	}
	l.OnComplete()
}
