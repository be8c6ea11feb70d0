package date

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wehubfusion/flowgraph/pkg/node"
)

func run(t *testing.T, params node.Params) node.Output {
	t.Helper()
	reg := node.NewRegistry()
	require.NoError(t, Register(reg))
	desc, err := reg.Resolve(TypeDateFormat)
	require.NoError(t, err)
	return desc.Executor.Process(context.Background(), node.Input{NodeID: "d", Params: params})
}

func TestDateFormat(t *testing.T) {
	tests := []struct {
		name   string
		params node.Params
		want   any
	}{
		{
			name:   "rfc3339 to date only",
			params: node.Params{"date": "2024-03-15T10:30:00Z", "in_format": "RFC3339", "out_format": "DateOnly"},
			want:   "2024-03-15",
		},
		{
			name:   "date style",
			params: node.Params{"date": "2024-03-15", "in_format": "DateOnly", "out_format": "DateOnly", "date_style": "DD_MM_YYYY_SLASH"},
			want:   "15/03/2024",
		},
		{
			name:   "compact date",
			params: node.Params{"date": "20240315", "in_format": "DateOnly", "out_format": "RFC3339"},
			want:   "2024-03-15T00:00:00Z",
		},
		{
			name:   "partial date time with styles",
			params: node.Params{"date": "2024-03-15 14:05", "in_format": "DateTime", "out_format": "DateTime", "time_style": "12_HOUR_HM"},
			want:   "2024-03-15 02:05 PM",
		},
		{
			name: "timezone conversion",
			params: node.Params{
				"date": "2024-01-01 12:00:00", "in_format": "DateTime", "in_timezone": "UTC",
				"out_format": "DateTime", "out_timezone": "Asia/Tokyo",
			},
			want: "2024-01-01 21:00:00",
		},
		{
			name:   "to unix",
			params: node.Params{"date": "1970-01-02T00:00:00Z", "in_format": "RFC3339", "out_format": "Unix"},
			want:   int64(86400),
		},
		{
			name:   "from unix millis",
			params: node.Params{"date": 86400000, "in_format": "UnixMilli", "out_format": "DateOnly"},
			want:   "1970-01-02",
		},
		{
			name:   "missing date",
			params: node.Params{"in_format": "RFC3339", "out_format": "DateOnly"},
			want:   nil,
		},
		{
			name:   "blank date",
			params: node.Params{"date": "  ", "in_format": "RFC3339", "out_format": "DateOnly"},
			want:   nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := run(t, tt.params)
			require.NoError(t, out.Error)
			assert.Equal(t, tt.want, out.Data["result"])
		})
	}
}

func TestDateFormat_Errors(t *testing.T) {
	tests := map[string]node.Params{
		"unknown in_format":  {"date": "x", "in_format": "Julian", "out_format": "DateOnly"},
		"unknown out_format": {"date": "x", "in_format": "DateOnly", "out_format": "Julian"},
		"style mismatch":     {"date": "2024-01-01", "in_format": "DateOnly", "out_format": "RFC3339", "date_style": "DD_MM_YYYY"},
		"bad time style":     {"date": "2024-01-01", "in_format": "DateOnly", "out_format": "TimeOnly", "time_style": "36_HOUR"},
		"unparseable":        {"date": "not a date", "in_format": "RFC3339", "out_format": "DateOnly"},
		"bad timezone":       {"date": "2024-01-01", "in_format": "DateOnly", "in_timezone": "Mars/Olympus", "out_format": "DateOnly"},
		"wrong input type":   {"date": true, "in_format": "DateOnly", "out_format": "DateOnly"},
		"unix needs number":  {"date": "soon", "in_format": "Unix", "out_format": "DateOnly"},
	}
	for name, params := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, run(t, params).Error)
		})
	}
}
