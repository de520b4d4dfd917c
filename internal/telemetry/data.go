package telemetry

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

// Diagnostics read as driving events.
const (
	DiagnosticForwardBraking = "DiagnosticAccelerationForwardBrakingId"
	DiagnosticSideToSide     = "DiagnosticAccelerationSideToSideId"
	RulePostedSpeeding       = "RulePostedSpeedingId"
)

// Vehicle is a telemetry device.
type Vehicle struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	SerialNumber string `json:"serialNumber,omitempty"`
}

// StatusEvent is one diagnostic reading.
type StatusEvent struct {
	DateTime time.Time `json:"dateTime"`
	Value    float64   `json:"value"`
	Type     string    `json:"type"`
	Vehicle  string    `json:"id"`
}

// Record is an arbitrary telemetry object, kept as decoded JSON.
type Record = map[string]any

// DrivingData is the combined response of the driving data route.
type DrivingData struct {
	ForwardBraking []StatusEvent `json:"forward_braking_events"`
	Cornering      []StatusEvent `json:"cornering_events"`
	Trips          []Record      `json:"trips"`
}

// Vehicles lists every device of the database.
func (c *Client) Vehicles(ctx context.Context) ([]Vehicle, error) {
	var out []Vehicle
	if err := c.Get(ctx, "Device", map[string]any{}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func rangeSearch(vehicle string, from, to time.Time) map[string]any {
	s := map[string]any{
		"fromDate": from.UTC().Format(time.RFC3339Nano),
		"toDate":   to.UTC().Format(time.RFC3339Nano),
	}
	if vehicle != "" {
		s["deviceSearch"] = map[string]any{"id": vehicle}
	}
	return s
}

// StatusData returns readings of diagnostic for vehicle within [from, to].
func (c *Client) StatusData(ctx context.Context, vehicle, diagnostic string, from, to time.Time) ([]StatusEvent, error) {
	search := rangeSearch(vehicle, from, to)
	search["diagnosticSearch"] = map[string]any{"id": diagnostic}

	var raw []struct {
		DateTime   time.Time `json:"dateTime"`
		Data       float64   `json:"data"`
		Diagnostic struct {
			ID string `json:"id"`
		} `json:"diagnostic"`
		Device struct {
			ID string `json:"id"`
		} `json:"device"`
	}
	if err := c.Get(ctx, "StatusData", search, &raw); err != nil {
		return nil, err
	}
	out := make([]StatusEvent, len(raw))
	for i, r := range raw {
		out[i] = StatusEvent{DateTime: r.DateTime.UTC(), Value: r.Data, Type: r.Diagnostic.ID, Vehicle: r.Device.ID}
	}
	return out, nil
}

// Trips returns the trips of vehicle within [from, to].
func (c *Client) Trips(ctx context.Context, vehicle string, from, to time.Time) ([]Record, error) {
	var out []Record
	if err := c.Get(ctx, "Trip", rangeSearch(vehicle, from, to), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SpeedingEvents returns posted-speed exceptions of vehicle within [from, to].
func (c *Client) SpeedingEvents(ctx context.Context, vehicle string, from, to time.Time) ([]Record, error) {
	search := rangeSearch(vehicle, from, to)
	search["ruleSearch"] = map[string]any{"id": RulePostedSpeeding}

	var out []Record
	if err := c.Get(ctx, "ExceptionEvent", search, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DrivingData fetches braking, cornering and trip data concurrently.
func (c *Client) DrivingData(ctx context.Context, vehicle string, from, to time.Time) (*DrivingData, error) {
	var dd DrivingData
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		dd.ForwardBraking, err = c.StatusData(gctx, vehicle, DiagnosticForwardBraking, from, to)
		return err
	})
	g.Go(func() (err error) {
		dd.Cornering, err = c.StatusData(gctx, vehicle, DiagnosticSideToSide, from, to)
		return err
	})
	g.Go(func() (err error) {
		dd.Trips, err = c.Trips(gctx, vehicle, from, to)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &dd, nil
}
