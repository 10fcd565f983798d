package api

import (
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/valyala/fastjson"

	"github.com/insightflo/perfmon/pkg/types"
)

const maxBodyBytes = 1 << 20

var parserPool = sync.Pool{
	New: func() interface{} {
		return &fastjson.Parser{}
	},
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	return io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
}

// parsePoints decodes a JSON array of points or a single point object.
// The whole payload is rejected if any point is invalid.
func parsePoints(body []byte) ([]types.MetricDataPoint, error) {
	parser := parserPool.Get().(*fastjson.Parser)
	defer parserPool.Put(parser)

	v, err := parser.ParseBytes(body)
	if err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	var values []*fastjson.Value
	switch v.Type() {
	case fastjson.TypeArray:
		values, _ = v.Array()
	case fastjson.TypeObject:
		values = []*fastjson.Value{v}
	default:
		return nil, errors.New("expected a point object or an array of points")
	}
	if len(values) == 0 {
		return nil, errors.New("no points")
	}

	points := make([]types.MetricDataPoint, 0, len(values))
	for i, pv := range values {
		p, err := parsePoint(pv)
		if err != nil {
			return nil, fmt.Errorf("point %d: %w", i, err)
		}
		points = append(points, p)
	}
	return points, nil
}

func parsePoint(v *fastjson.Value) (types.MetricDataPoint, error) {
	var p types.MetricDataPoint

	metricType, err := types.ParseMetricType(string(v.GetStringBytes("type")))
	if err != nil {
		return p, err
	}
	p.Type = metricType

	name := v.GetStringBytes("name")
	if len(name) == 0 {
		return p, errors.New("name is required")
	}
	p.Name = string(name)

	value := v.Get("value")
	if value == nil {
		return p, errors.New("value is required")
	}
	if p.Value, err = value.Float64(); err != nil {
		return p, fmt.Errorf("value: %w", err)
	}
	if math.IsNaN(p.Value) || math.IsInf(p.Value, 0) {
		return p, errors.New("value must be a finite number")
	}

	if md := v.GetObject("metadata"); md != nil && md.Len() > 0 {
		p.Metadata = make(map[string]any, md.Len())
		md.Visit(func(key []byte, val *fastjson.Value) {
			p.Metadata[string(key)] = metadataValue(val)
		})
	}

	// Milliseconds since epoch; zero lets the collector stamp it
	if ms := v.GetInt64("timestamp"); ms > 0 {
		p.Timestamp = time.UnixMilli(ms)
	}
	return p, nil
}

func metadataValue(v *fastjson.Value) any {
	switch v.Type() {
	case fastjson.TypeString:
		return string(v.GetStringBytes())
	case fastjson.TypeNumber:
		// NaN and Inf cannot be re-encoded downstream, keep their literal text
		f := v.GetFloat64()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return v.String()
		}
		return f
	case fastjson.TypeTrue:
		return true
	case fastjson.TypeFalse:
		return false
	case fastjson.TypeNull:
		return nil
	default:
		return v.String()
	}
}
