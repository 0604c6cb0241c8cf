package obs

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Tail reads the last n events from the logger's current day file. This
// supplements spec.md (see SPEC_FULL.md §3): original_source exposes an
// equivalent "recent activity" read path for its observability log, and
// this mirrors it without carrying over any of its structure.
func (l *Logger) Tail(ctx context.Context, n int) ([]Event, error) {
	if n <= 0 {
		return nil, nil
	}

	path := l.cfg.File
	if path == "" {
		path = l.currentDayPath()
	}

	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("obs: opening log file: %w", err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		lines = append(lines, scanner.Text())
		if len(lines) > n {
			lines = lines[1:]
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("obs: reading log file: %w", err)
	}

	events := make([]Event, 0, len(lines))
	for _, line := range lines {
		var ev Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

func (l *Logger) currentDayPath() string {
	day := time.Now().UTC().Format("2006-01-02")
	return l.cfg.Dir + "/" + day + ".jsonl"
}
