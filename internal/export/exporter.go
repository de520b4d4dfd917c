package export

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/and161185/gt-lab/internal/telemetry"
)

// File names of one vehicle's daily snapshot.
const (
	FileAccX     = "acc_x_events.csv"
	FileAccY     = "acc_y_events.csv"
	FileTrips    = "trips.csv"
	FileSpeeding = "speeding_events.csv"
)

// Source is the telemetry surface the exporter reads.
type Source interface {
	Vehicles(ctx context.Context) ([]telemetry.Vehicle, error)
	StatusData(ctx context.Context, vehicle, diagnostic string, from, to time.Time) ([]telemetry.StatusEvent, error)
	Trips(ctx context.Context, vehicle string, from, to time.Time) ([]telemetry.Record, error)
	SpeedingEvents(ctx context.Context, vehicle string, from, to time.Time) ([]telemetry.Record, error)
}

// Config controls where and when snapshots are written.
type Config struct {
	Dir         string
	At          string // HH:MM local to Location
	Location    *time.Location
	Window      time.Duration // data window ending at the export instant
	Concurrency int           // vehicles exported in parallel
}

// Exporter writes one snapshot a day.
type Exporter struct {
	src    Source
	cfg    Config
	hour   int
	minute int
	now    func() time.Time
	log    *zap.Logger
}

// New validates cfg and fills defaults.
func New(src Source, cfg Config, log *zap.Logger) (*Exporter, error) {
	hour, minute, err := ParseAt(cfg.At)
	if err != nil {
		return nil, err
	}
	if cfg.Dir == "" {
		cfg.Dir = "csv"
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Window <= 0 {
		cfg.Window = 24 * time.Hour
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Exporter{src: src, cfg: cfg, hour: hour, minute: minute, now: time.Now, log: log.Named("export")}, nil
}

// ParseAt parses an HH:MM time of day.
func ParseAt(at string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", strings.TrimSpace(at))
	if err != nil {
		return 0, 0, fmt.Errorf("export: bad time of day %q: %w", at, err)
	}
	return t.Hour(), t.Minute(), nil
}

// slot returns today's export instant for the day of now.
func (e *Exporter) slot(now time.Time) time.Time {
	n := now.In(e.cfg.Location)
	return time.Date(n.Year(), n.Month(), n.Day(), e.hour, e.minute, 0, 0, e.cfg.Location)
}

// Next returns the first export instant strictly after now.
func (e *Exporter) Next(now time.Time) time.Time {
	s := e.slot(now)
	if s.After(now) {
		return s
	}
	n := now.In(e.cfg.Location)
	return time.Date(n.Year(), n.Month(), n.Day()+1, e.hour, e.minute, 0, 0, e.cfg.Location)
}

// Run exports immediately when started past today's slot, then once per slot until ctx is done.
func (e *Exporter) Run(ctx context.Context) error {
	now := e.now()
	if now.After(e.slot(now)) {
		e.exportLogged(ctx, now)
	}
	for {
		next := e.Next(e.now())
		e.log.Info("next export scheduled", zap.Time("at", next))
		timer := time.NewTimer(next.Sub(e.now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			e.exportLogged(ctx, next)
		}
	}
}

func (e *Exporter) exportLogged(ctx context.Context, to time.Time) {
	started := time.Now()
	if err := e.ExportOnce(ctx, to); err != nil {
		e.log.Error("export failed", zap.Error(err))
		return
	}
	e.log.Info("export finished", zap.Time("to", to), zap.Duration("dur", time.Since(started)))
}

// DayDir is the M-D-YYYY folder of a snapshot ending at to.
func (e *Exporter) DayDir(to time.Time) string {
	t := to.In(e.cfg.Location)
	return filepath.Join(e.cfg.Dir, fmt.Sprintf("%d-%d-%d", int(t.Month()), t.Day(), t.Year()))
}

// ExportOnce writes every vehicle's data for (to-Window, to]. A failing vehicle does not stop the others.
func (e *Exporter) ExportOnce(ctx context.Context, to time.Time) error {
	from := to.Add(-e.cfg.Window)
	vehicles, err := e.src.Vehicles(ctx)
	if err != nil {
		return fmt.Errorf("export: list vehicles: %w", err)
	}
	day := e.DayDir(to)
	if err := os.MkdirAll(day, 0o755); err != nil {
		return err
	}

	var (
		mu   sync.Mutex
		errs []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Concurrency)
	for _, v := range vehicles {
		g.Go(func() error {
			if err := e.exportVehicle(gctx, day, v, from, to); err != nil {
				e.log.Warn("vehicle export failed", zap.String("vehicle", v.ID), zap.Error(err))
				mu.Lock()
				errs = append(errs, fmt.Errorf("vehicle %s: %w", v.ID, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

func (e *Exporter) exportVehicle(ctx context.Context, day string, v telemetry.Vehicle, from, to time.Time) error {
	dir := filepath.Join(day, dirName(v))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	files := []struct {
		name  string
		fetch func(context.Context) (any, error)
	}{
		{FileAccX, func(ctx context.Context) (any, error) {
			return e.src.StatusData(ctx, v.ID, telemetry.DiagnosticForwardBraking, from, to)
		}},
		{FileAccY, func(ctx context.Context) (any, error) {
			return e.src.StatusData(ctx, v.ID, telemetry.DiagnosticSideToSide, from, to)
		}},
		{FileTrips, func(ctx context.Context) (any, error) { return e.src.Trips(ctx, v.ID, from, to) }},
		{FileSpeeding, func(ctx context.Context) (any, error) { return e.src.SpeedingEvents(ctx, v.ID, from, to) }},
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, f := range files {
		g.Go(func() error {
			data, err := f.fetch(gctx)
			if err != nil {
				return fmt.Errorf("%s: %w", f.name, err)
			}
			rows, err := Records(data)
			if err != nil {
				return err
			}
			out, err := ToCSV(rows)
			if err != nil {
				return err
			}
			return os.WriteFile(filepath.Join(dir, f.name), out, 0o644)
		})
	}
	return g.Wait()
}

// dirName is the vehicle's name made safe for a path element, falling back to its id.
func dirName(v telemetry.Vehicle) string {
	name := strings.TrimSpace(v.Name)
	if name == "" {
		name = v.ID
	}
	return strings.NewReplacer("/", "_", `\`, "_", "..", "_").Replace(name)
}
