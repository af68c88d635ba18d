// Package journal writes every farm event to hourly zstd-compressed JSONL
// files and reads them back for replay and audits.
package journal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/talgya/mini-farm/internal/farm"
	"github.com/talgya/mini-farm/internal/ledger"
	"github.com/talgya/mini-farm/internal/world"
)

const fileSuffix = ".jsonl.zst"

// Writer is a farm.EventSink that appends events to the current hour's file.
type Writer struct {
	dir    string
	prefix string
	now    func() time.Time

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

// NewWriter journals into dir with files named <prefix>-YYYY-MM-DD-HH.jsonl.zst.
func NewWriter(dir, prefix string) *Writer {
	return &Writer{dir: dir, prefix: prefix, now: time.Now}
}

func (w *Writer) WriteEvent(e farm.Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	hour := w.now().UTC().Format("2006-01-02-15")
	if hour != w.curHour {
		if err := w.rotateLocked(hour); err != nil {
			return fmt.Errorf("journal rotate: %w", err)
		}
	}

	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	return w.w.Flush()
}

// Sync pushes buffered data through the compressor to disk.
func (w *Writer) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.enc == nil {
		return nil
	}
	if err := w.enc.Flush(); err != nil {
		return err
	}
	return w.f.Sync()
}

func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *Writer) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(w.pathForHour(hour), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 64*1024)
	w.curHour = hour
	return nil
}

// closeLocked flushes and closes the current file, returning the first
// error it sees. The writer is reset either way.
func (w *Writer) closeLocked() error {
	var err error
	if w.w != nil {
		err = w.w.Flush()
	}
	if w.enc != nil {
		if cerr := w.enc.Close(); err == nil {
			err = cerr
		}
		w.enc = nil
	}
	if w.f != nil {
		if cerr := w.f.Close(); err == nil {
			err = cerr
		}
		w.f = nil
	}
	w.w = nil
	w.curHour = ""
	return err
}

func (w *Writer) pathForHour(hour string) string {
	return filepath.Join(w.dir, fmt.Sprintf("%s-%s%s", w.prefix, hour, fileSuffix))
}

// Files lists the journal files in dir for prefix, oldest first.
func Files(dir, prefix string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix+"-") || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		out = append(out, filepath.Join(dir, name))
	}
	// Hour stamps sort lexically.
	sort.Strings(out)
	return out, nil
}

// ReadFile decodes one journal file, calling fn for each event in order.
// Returning an error from fn stops the read.
func ReadFile(path string, fn func(farm.Event) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var e farm.Event
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return fmt.Errorf("%s: unmarshal: %w", filepath.Base(path), err)
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return sc.Err()
}

// ReadAll decodes every journal file for prefix in dir.
func ReadAll(dir, prefix string) ([]farm.Event, error) {
	files, err := Files(dir, prefix)
	if err != nil {
		return nil, err
	}
	var events []farm.Event
	for _, path := range files {
		err := ReadFile(path, func(e farm.Event) error {
			events = append(events, e)
			return nil
		})
		if err != nil {
			return events, err
		}
	}
	return events, nil
}

// Harvests rebuilds harvest records from a journal's events. The seed of a
// harvested or overgrown plant comes from the plant event on the same plot.
func Harvests(events []farm.Event) []farm.HarvestResult {
	planted := make(map[world.PlotID]ledger.Asset)
	var out []farm.HarvestResult
	for _, e := range events {
		r := farm.HarvestResult{Plot: e.Plot, Owner: e.Owner, WaterAbsorbed: e.WaterAbsorbed, Tick: e.Tick}
		switch e.Kind {
		case farm.EventPlant:
			planted[e.Plot] = e.Asset
			continue
		case farm.EventHarvestNotEnoughWater:
			r.Outcome = farm.OutcomeNotEnoughWater
			r.Seed = e.Asset
		case farm.EventHarvest, farm.EventHarvestOvergrown:
			r.Outcome = farm.OutcomeHarvested
			if e.Kind == farm.EventHarvestOvergrown {
				r.Outcome = farm.OutcomeOvergrown
			}
			r.Seed = planted[e.Plot]
			r.Product = e.Asset
			r.Yield = e.Qty
			delete(planted, e.Plot)
		default:
			continue
		}
		out = append(out, r)
	}
	return out
}
