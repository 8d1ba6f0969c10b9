package transcript

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// ReadResult is the outcome of reading a JSONL transcript.
type ReadResult struct {
	Entries []Entry
	Skipped int // blank lines are not counted
}

// ReadJSONL reads one JSON entry per line. Lines that fail to decode or
// validate are skipped and counted; only read errors are returned.
func ReadJSONL(r io.Reader) (ReadResult, error) {
	var res ReadResult

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			res.Skipped++
			continue
		}
		res.Entries = append(res.Entries, e)
	}
	if err := scanner.Err(); err != nil {
		return res, fmt.Errorf("scan: %w", err)
	}
	return res, nil
}

// ReadFile reads a JSONL transcript from disk.
func ReadFile(path string) (ReadResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return ReadResult{}, fmt.Errorf("open: %w", err)
	}
	defer f.Close()
	return ReadJSONL(f)
}
