package supervisor

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/roach88/yardcam/internal/region"
)

// Reading is one raw sensor result for a region, as produced by the image
// processing upstream of yardcam.
type Reading struct {
	Region   region.ID `json:"region"`
	Occupied bool      `json:"occupied"`
}

// Source produces readings for one camera until ctx is cancelled or it
// fails. A nil return means the source is exhausted and will not be
// restarted. emit may be called from any goroutine.
type Source interface {
	Run(ctx context.Context, emit func(Reading)) error
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, emit func(Reading)) error

// Run implements Source.
func (f SourceFunc) Run(ctx context.Context, emit func(Reading)) error {
	return f(ctx, emit)
}

// DecodeReading parses a JSON reading payload.
func DecodeReading(data []byte) (Reading, error) {
	var raw struct {
		Region   *string `json:"region"`
		Occupied *bool   `json:"occupied"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Reading{}, fmt.Errorf("decode reading: %w", err)
	}
	if raw.Region == nil || strings.TrimSpace(*raw.Region) == "" {
		return Reading{}, fmt.Errorf("decode reading: missing region")
	}
	if raw.Occupied == nil {
		return Reading{}, fmt.Errorf("decode reading: missing occupied")
	}
	return Reading{Region: region.Normalize(*raw.Region), Occupied: *raw.Occupied}, nil
}

// LineSource reads JSON readings, one per line, from a file or reader.
//
// Blank lines and lines starting with '#' are skipped; malformed lines are
// logged and skipped. Interval, if set, paces emission (one reading per
// tick) to replay a recording at frame rate.
type LineSource struct {
	Path     string
	Reader   io.Reader // used when Path is empty
	Interval time.Duration
	Logger   *slog.Logger
}

// Run implements Source. It returns nil at end of input.
func (s *LineSource) Run(ctx context.Context, emit func(Reading)) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := s.Reader
	if s.Path != "" {
		f, err := os.Open(s.Path)
		if err != nil {
			return fmt.Errorf("open readings: %w", err)
		}
		defer f.Close()
		r = f
	}
	if r == nil {
		return fmt.Errorf("line source has neither path nor reader")
	}

	var tick <-chan time.Time
	if s.Interval > 0 {
		ticker := time.NewTicker(s.Interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		reading, err := DecodeReading([]byte(text))
		if err != nil {
			logger.Warn("skipping malformed reading", "path", s.Path, "line", line, "error", err)
			continue
		}

		if tick != nil {
			select {
			case <-tick:
			case <-ctx.Done():
				return ctx.Err()
			}
		} else if ctx.Err() != nil {
			return ctx.Err()
		}

		emit(reading)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read readings: %w", err)
	}
	return nil
}
