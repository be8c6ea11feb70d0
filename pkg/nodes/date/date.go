// Package date provides the date_format node: it parses a date string in one
// named layout and renders it in another, optionally moving between time zones.
package date

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/wehubfusion/flowgraph/pkg/node"
)

// TypeDateFormat is the registered type name.
const TypeDateFormat = "date_format"

// Format names a layout accepted by in_format and out_format.
type Format string

const (
	FormatANSIC       Format = "ANSIC"
	FormatUnixDate    Format = "UnixDate"
	FormatRFC822      Format = "RFC822"
	FormatRFC822Z     Format = "RFC822Z"
	FormatRFC850      Format = "RFC850"
	FormatRFC1123     Format = "RFC1123"
	FormatRFC1123Z    Format = "RFC1123Z"
	FormatRFC3339     Format = "RFC3339"
	FormatRFC3339Nano Format = "RFC3339Nano"
	FormatKitchen     Format = "Kitchen"
	FormatDateTime    Format = "DateTime" // date_style and time_style apply
	FormatDateOnly    Format = "DateOnly" // date_style applies
	FormatTimeOnly    Format = "TimeOnly" // time_style applies
	FormatUnix        Format = "Unix"     // seconds since the epoch
	FormatUnixMilli   Format = "UnixMilli"
)

var layouts = map[Format]string{
	FormatANSIC:       time.ANSIC,
	FormatUnixDate:    time.UnixDate,
	FormatRFC822:      time.RFC822,
	FormatRFC822Z:     time.RFC822Z,
	FormatRFC850:      time.RFC850,
	FormatRFC1123:     time.RFC1123,
	FormatRFC1123Z:    time.RFC1123Z,
	FormatRFC3339:     time.RFC3339,
	FormatRFC3339Nano: time.RFC3339Nano,
	FormatKitchen:     time.Kitchen,
	FormatDateTime:    time.DateTime,
	FormatDateOnly:    time.DateOnly,
	FormatTimeOnly:    time.TimeOnly,
	FormatUnix:        "",
	FormatUnixMilli:   "",
}

var dateStyles = map[string]string{
	"YYYY_MM_DD":       "2006-01-02",
	"DD_MM_YYYY":       "02-01-2006",
	"MM_DD_YYYY":       "01-02-2006",
	"YYYY_MM_DD_SLASH": "2006/01/02",
	"DD_MM_YYYY_SLASH": "02/01/2006",
	"MM_DD_YYYY_SLASH": "01/02/2006",
}

var timeStyles = map[string]string{
	"24_HOUR":    "15:04:05",
	"12_HOUR":    "03:04:05 PM",
	"24_HOUR_HM": "15:04",
	"12_HOUR_HM": "03:04 PM",
}

// Valid reports whether f is a known format.
func (f Format) Valid() bool {
	_, ok := layouts[f]
	return ok
}

// Register installs the date_format node type into reg.
func Register(reg *node.Registry) error {
	return reg.Register(TypeDateFormat, []node.ParameterDeclaration{
		node.Optional("date", node.TypeAny, nil),
		node.Required("in_format", node.TypeString),
		node.Required("out_format", node.TypeString),
		node.Optional("in_timezone", node.TypeString, nil),
		node.Optional("out_timezone", node.TypeString, nil),
		node.Optional("date_style", node.TypeString, nil),
		node.Optional("time_style", node.TypeString, nil),
	}, node.ExecutorFunc(process),
		node.WithDescription("Converts a date between named layouts and time zones"),
		node.WithOutputs(node.Out("result", node.TypeAny)),
	)
}

// Options describes one conversion.
type Options struct {
	InFormat    Format
	OutFormat   Format
	InTimezone  string
	OutTimezone string
	DateStyle   string
	TimeStyle   string
}

func process(_ context.Context, in node.Input) node.Output {
	opts := Options{
		InFormat:    Format(in.Params.String("in_format")),
		OutFormat:   Format(in.Params.String("out_format")),
		InTimezone:  in.Params.String("in_timezone"),
		OutTimezone: in.Params.String("out_timezone"),
		DateStyle:   in.Params.String("date_style"),
		TimeStyle:   in.Params.String("time_style"),
	}
	if err := opts.Validate(); err != nil {
		return node.Failure(fmt.Errorf("node %s: %w", in.NodeID, err))
	}

	// An absent or blank date yields a nil result rather than an error.
	value := in.Params.Get("date")
	if s, ok := value.(string); value == nil || ok && strings.TrimSpace(s) == "" {
		return node.Success(map[string]any{"result": nil})
	}

	out, err := Convert(value, opts)
	if err != nil {
		return node.Failure(fmt.Errorf("node %s: %w", in.NodeID, err))
	}
	return node.Success(map[string]any{"result": out})
}

// Validate checks formats and styles.
func (o Options) Validate() error {
	if !o.InFormat.Valid() {
		return fmt.Errorf("invalid in_format %q", o.InFormat)
	}
	if !o.OutFormat.Valid() {
		return fmt.Errorf("invalid out_format %q", o.OutFormat)
	}
	if o.DateStyle != "" {
		if _, ok := dateStyles[o.DateStyle]; !ok {
			return fmt.Errorf("invalid date_style %q", o.DateStyle)
		}
		if o.OutFormat != FormatDateOnly && o.OutFormat != FormatDateTime {
			return fmt.Errorf("date_style needs a DateOnly or DateTime out_format")
		}
	}
	if o.TimeStyle != "" {
		if _, ok := timeStyles[o.TimeStyle]; !ok {
			return fmt.Errorf("invalid time_style %q", o.TimeStyle)
		}
		if o.OutFormat != FormatTimeOnly && o.OutFormat != FormatDateTime {
			return fmt.Errorf("time_style needs a TimeOnly or DateTime out_format")
		}
	}
	return nil
}

// Convert parses value with o.InFormat and renders it with o.OutFormat.
// Unix formats produce and accept integers.
func Convert(value any, o Options) (any, error) {
	t, err := parse(value, o)
	if err != nil {
		return nil, err
	}
	if o.OutTimezone != "" {
		loc, err := time.LoadLocation(o.OutTimezone)
		if err != nil {
			return nil, fmt.Errorf("invalid out_timezone %q: %w", o.OutTimezone, err)
		}
		t = t.In(loc)
	}

	switch o.OutFormat {
	case FormatUnix:
		return t.Unix(), nil
	case FormatUnixMilli:
		return t.UnixMilli(), nil
	}
	return t.Format(o.outputLayout()), nil
}

func parse(value any, o Options) (time.Time, error) {
	loc := time.UTC
	if o.InTimezone != "" {
		l, err := time.LoadLocation(o.InTimezone)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid in_timezone %q: %w", o.InTimezone, err)
		}
		loc = l
	}

	if o.InFormat == FormatUnix || o.InFormat == FormatUnixMilli {
		n, ok := toInt64(value)
		if !ok {
			return time.Time{}, fmt.Errorf("%s input must be a number, got %T", o.InFormat, value)
		}
		if o.InFormat == FormatUnix {
			return time.Unix(n, 0).In(loc), nil
		}
		return time.UnixMilli(n).In(loc), nil
	}

	s, ok := value.(string)
	if !ok {
		return time.Time{}, fmt.Errorf("%s input must be a string, got %T", o.InFormat, value)
	}
	layout := layouts[o.InFormat]
	t, err := time.ParseInLocation(layout, normalize(strings.TrimSpace(s), o.InFormat), loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse %q as %s: %w", s, o.InFormat, err)
	}
	return t, nil
}

// normalize completes partial DateTime values and expands compact YYYYMMDD dates.
func normalize(s string, f Format) string {
	switch f {
	case FormatDateTime:
		if len(s) == 10 && strings.Count(s, "-") == 2 {
			return s + " 00:00:00"
		}
		if len(s) == 16 && strings.Count(s, ":") == 1 {
			return s + ":00"
		}
	case FormatDateOnly:
		if len(s) == 8 && !strings.ContainsAny(s, "-/") {
			return s[:4] + "-" + s[4:6] + "-" + s[6:]
		}
	}
	return s
}

func (o Options) outputLayout() string {
	switch o.OutFormat {
	case FormatDateOnly:
		if o.DateStyle != "" {
			return dateStyles[o.DateStyle]
		}
	case FormatTimeOnly:
		if o.TimeStyle != "" {
			return timeStyles[o.TimeStyle]
		}
	case FormatDateTime:
		d, t := "2006-01-02", "15:04:05"
		if o.DateStyle != "" {
			d = dateStyles[o.DateStyle]
		}
		if o.TimeStyle != "" {
			t = timeStyles[o.TimeStyle]
		}
		return d + " " + t
	}
	return layouts[o.OutFormat]
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case int32:
		return int64(n), true
	case float64:
		return int64(n), true
	}
	return 0, false
}
