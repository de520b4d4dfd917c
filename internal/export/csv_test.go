package export

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/and161185/gt-lab/internal/telemetry"
)

func TestToCSV_FlattensAndUnionsColumns(t *testing.T) {
	rows := []map[string]any{
		{"id": "t1", "distance": 12.5, "device": map[string]any{"id": "b1"}},
		{"id": "t2", "stops": []any{"a", "b"}, "ok": true, "note": nil},
	}
	out, err := ToCSV(rows)
	require.NoError(t, err)
	require.Equal(t,
		"device_id,distance,id,note,ok,stops_0,stops_1\n"+
			"b1,12.5,t1,,,,\n"+
			",,t2,,true,a,b\n",
		string(out))
}

func TestToCSV_QuotesAndLargeNumbers(t *testing.T) {
	out, err := ToCSV([]map[string]any{{"name": "Truck, 1", "odometer": 1234567.0}})
	require.NoError(t, err)
	require.Equal(t, "name,odometer\n\"Truck, 1\",1234567\n", string(out))

	out, err = ToCSV(nil)
	require.NoError(t, err)
	require.Empty(t, out)
}

func TestRecords_FromStructs(t *testing.T) {
	rows, err := Records([]telemetry.StatusEvent{{
		DateTime: time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC), Value: 1.5, Type: "diag", Vehicle: "b1",
	}})
	require.NoError(t, err)
	out, err := ToCSV(rows)
	require.NoError(t, err)
	require.Equal(t, "dateTime,id,type,value\n2024-01-01T10:00:00Z,b1,diag,1.5\n", string(out))

	_, err = Records([]int{1})
	require.Error(t, err)
}

func TestRecords_KeepsIntegerPrecision(t *testing.T) {
	rows, err := Records([]map[string]any{{"odometer": uint64(9007199254740993), "speed": 88.25}})
	require.NoError(t, err)
	out, err := ToCSV(rows)
	require.NoError(t, err)
	require.Equal(t, "odometer,speed\n9007199254740993,88.25\n", string(out))
}
