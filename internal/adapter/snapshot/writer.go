// Package snapshot persists periodic population captures as
// zstd-compressed JSONL, one file per capture: a header line, then one
// line per agent. Files land under <dir>/<experiment>/<variant>-<tick>.
package snapshot

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"

	"vivarium/internal/app/ports"
	"vivarium/internal/domain/agent"
)

type Header struct {
	ExperimentID string    `json:"experiment_id"`
	VariantID    string    `json:"variant_id"`
	Tick         int64     `json:"tick"`
	TakenAt      time.Time `json:"taken_at"`
	AliveCount   int       `json:"alive_count"`
	DeadCount    int       `json:"dead_count"`
}

type Writer struct {
	dir string
}

func NewWriter(dir string) *Writer {
	return &Writer{dir: dir}
}

func (w *Writer) WriteSnapshot(_ context.Context, snap ports.PopulationSnapshot) error {
	path := w.path(snap)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("snapshot dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("snapshot file: %w", err)
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return fmt.Errorf("zstd writer: %w", err)
	}

	bw := bufio.NewWriter(enc)
	header := Header{
		ExperimentID: snap.ExperimentID,
		VariantID:    snap.VariantID,
		Tick:         snap.Tick,
		TakenAt:      snap.TakenAt,
		AliveCount:   snap.AliveCount,
		DeadCount:    snap.DeadCount,
	}
	if err := writeLine(bw, header); err != nil {
		enc.Close()
		return err
	}
	for _, ag := range snap.Agents {
		if err := writeLine(bw, ag); err != nil {
			enc.Close()
			return err
		}
	}
	if err := bw.Flush(); err != nil {
		enc.Close()
		return fmt.Errorf("flush snapshot: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close zstd: %w", err)
	}
	return nil
}

func (w *Writer) path(snap ports.PopulationSnapshot) string {
	exp := snap.ExperimentID
	if exp == "" {
		exp = "world"
	}
	variant := snap.VariantID
	if variant == "" {
		variant = "freerun"
	}
	return filepath.Join(w.dir, exp, fmt.Sprintf("%s-%06d.jsonl.zst", variant, snap.Tick))
}

func writeLine(bw *bufio.Writer, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal snapshot line: %w", err)
	}
	if _, err := bw.Write(payload); err != nil {
		return err
	}
	return bw.WriteByte('\n')
}

// Read loads one snapshot file back. Used by analysis tooling and
// tests; the engine itself never reads snapshots.
func Read(path string) (Header, []agent.Agent, error) {
	var header Header
	f, err := os.Open(path)
	if err != nil {
		return header, nil, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return header, nil, fmt.Errorf("zstd reader: %w", err)
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return header, nil, err
		}
		return header, nil, fmt.Errorf("snapshot %s is empty", path)
	}
	if err := json.Unmarshal(sc.Bytes(), &header); err != nil {
		return header, nil, fmt.Errorf("parse header: %w", err)
	}

	var agents []agent.Agent
	for sc.Scan() {
		var ag agent.Agent
		if err := json.Unmarshal(sc.Bytes(), &ag); err != nil {
			return header, nil, fmt.Errorf("parse agent line: %w", err)
		}
		agents = append(agents, ag)
	}
	return header, agents, sc.Err()
}
