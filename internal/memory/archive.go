package memory

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

// Archive is the append-only cold tier: one serialized Memory per line,
// ordering is insertion order, records are never mutated in place.
// Appends are expected to run through a WriteQueue; Archive itself does
// not serialize callers.
type Archive struct {
	path string

	mu          sync.Mutex
	cachedSize  int64
	cachedMtime int64
	cachedCount int
}

// NewArchive opens (creating if necessary) the archive journal at
// dataDir/mem0-archive.jsonl.
func NewArchive(dataDir string) (*Archive, error) {
	path := filepath.Join(dataDir, "mem0-archive.jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, &ArchiveError{Op: "open", Err: err}
	}
	_ = f.Close()
	return &Archive{path: path, cachedCount: -1}, nil
}

// Append writes memories as one JSON object per line in a single write
// call, making the append atomic with respect to partial-line corruption
// from concurrent readers. On failure it does not retry; the caller
// (pruning) must refuse to delete from hot storage for this batch.
func (a *Archive) Append(memories []Memory) error {
	if len(memories) == 0 {
		return nil
	}
	var sb strings.Builder
	for _, m := range memories {
		b, err := json.Marshal(m)
		if err != nil {
			return &ArchiveError{Op: "append", Err: fmt.Errorf("marshal %s: %w", m.ID, err)}
		}
		sb.Write(b)
		sb.WriteByte('\n')
	}

	f, err := os.OpenFile(a.path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return &ArchiveError{Op: "append", Err: err}
	}
	defer f.Close()
	if _, err := f.WriteString(sb.String()); err != nil {
		return &ArchiveError{Op: "append", Err: err}
	}
	return nil
}

// Search performs a streaming, linear, case-insensitive keyword scan.
// query is tokenized on whitespace/punctuation into lowercase tokens of
// length >= 2; a line matches if it contains any token as a substring.
// Matches are ranked by distinct-matched-token count descending, then by
// insertion order, and the top limit are returned. Malformed lines are
// counted and skipped without aborting the scan.
func (a *Archive) Search(query string, limit int) ([]Memory, error) {
	tokens := SignificantTokens(query)
	if len(tokens) == 0 {
		return []Memory{}, nil
	}

	f, err := os.Open(a.path)
	if err != nil {
		if os.IsNotExist(err) {
			return []Memory{}, nil
		}
		return nil, &ArchiveError{Op: "search", Err: err}
	}
	defer f.Close()

	type candidate struct {
		mem   Memory
		order int
		count int
	}
	var candidates []candidate
	var malformed int

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	order := 0
	for sc.Scan() {
		line := sc.Text()
		order++
		if strings.TrimSpace(line) == "" {
			continue
		}
		lower := strings.ToLower(line)
		count := 0
		for _, tok := range tokens {
			if strings.Contains(lower, tok) {
				count++
			}
		}
		if count == 0 {
			continue
		}
		var m Memory
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			malformed++
			continue
		}
		m.SourceTier = SourceArchive
		candidates = append(candidates, candidate{mem: m, order: order, count: count})
	}
	if err := sc.Err(); err != nil {
		return nil, &ArchiveError{Op: "search", Err: err}
	}
	if malformed > 0 {
		log.Warn().Int("malformed_lines", malformed).Str("path", a.path).Msg("archive search skipped malformed lines")
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].count != candidates[j].count {
			return candidates[i].count > candidates[j].count
		}
		return candidates[i].order < candidates[j].order
	})

	if limit <= 0 || limit > len(candidates) {
		limit = len(candidates)
	}
	results := make([]Memory, 0, limit)
	for i := 0; i < limit; i++ {
		results = append(results, candidates[i].mem)
	}
	return results, nil
}

// LineCount returns the number of lines in the journal, cached by a
// (size, mtime) fingerprint and recomputed only when that fingerprint
// changes.
func (a *Archive) LineCount() (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	fi, err := os.Stat(a.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, &ArchiveError{Op: "stat", Err: err}
	}
	mtime := fi.ModTime().UnixNano()
	if a.cachedCount >= 0 && fi.Size() == a.cachedSize && mtime == a.cachedMtime {
		return a.cachedCount, nil
	}

	count, err := countLines(a.path)
	if err != nil {
		return 0, &ArchiveError{Op: "count", Err: err}
	}
	a.cachedSize = fi.Size()
	a.cachedMtime = mtime
	a.cachedCount = count
	return count, nil
}

// SizeBytes returns the on-disk size of the journal.
func (a *Archive) SizeBytes() (int64, error) {
	fi, err := os.Stat(a.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, &ArchiveError{Op: "stat", Err: err}
	}
	return fi.Size(), nil
}

func countLines(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	buf := make([]byte, 64*1024)
	count := 0
	nonEmpty := false
	lastByte := byte('\n')
	for {
		n, err := f.Read(buf)
		if n > 0 {
			nonEmpty = true
			for _, b := range buf[:n] {
				if b == '\n' {
					count++
				}
			}
			lastByte = buf[n-1]
		}
		if err != nil {
			break
		}
	}
	if nonEmpty && lastByte != '\n' {
		count++
	}
	return count, nil
}
