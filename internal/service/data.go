package service

import (
	"context"
	"strings"
	"time"

	"github.com/and161185/gt-lab/internal/errs"
	"github.com/and161185/gt-lab/internal/telemetry"
)

// Telemetry is the subset of the telemetry client used for data retrieval.
type Telemetry interface {
	DrivingData(ctx context.Context, vehicle string, from, to time.Time) (*telemetry.DrivingData, error)
}

// DataService serves driving data for authenticated users.
type DataService interface {
	// DrivingData validates the requested range and fetches braking, cornering and trip data.
	DrivingData(ctx context.Context, from, to, vehicle string) (*telemetry.DrivingData, error)
}

type DataServiceImpl struct {
	tm Telemetry
}

var _ DataService = (*DataServiceImpl)(nil)

// NewDataService constructs DataService over a telemetry client.
func NewDataService(tm Telemetry) *DataServiceImpl {
	return &DataServiceImpl{tm: tm}
}

// DrivingData checks that both bounds are present, parse as RFC 3339 and form a non-empty range.
// Every problem found is reported.
func (s *DataServiceImpl) DrivingData(ctx context.Context, from, to, vehicle string) (*telemetry.DrivingData, error) {
	var problems errs.ValidationErrors
	fromT, ok := parseBound(&problems, "from", from)
	toT, ok2 := parseBound(&problems, "to", to)
	if ok && ok2 && !fromT.Before(toT) {
		problems = append(problems, errs.Invalid("from", "invalid date range"))
	}
	if err := problems.OrNil(); err != nil {
		return nil, err
	}
	return s.tm.DrivingData(ctx, strings.TrimSpace(vehicle), fromT, toT)
}

func parseBound(problems *errs.ValidationErrors, field, v string) (time.Time, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		*problems = append(*problems, errs.Invalid(field, "no '"+field+"' date provided"))
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		*problems = append(*problems, errs.Invalid(field, "'"+field+"' date formatted incorrectly"))
		return time.Time{}, false
	}
	return t.UTC(), true
}
