package util

import (
	"sync"

	"github.com/influxdata/influxdb-client-go/api/write"
)

// NopWriteAPI satisfies api.WriteAPI and discards everything. It is the
// default when no InfluxDB client is configured.
type NopWriteAPI struct{}

func (NopWriteAPI) WriteRecord(line string) {}
func (NopWriteAPI) WritePoint(point *write.Point) {}
func (NopWriteAPI) Flush() {}
func (NopWriteAPI) Close() {}
func (NopWriteAPI) Errors() <-chan error { return nil }

// PointRecorder satisfies api.WriteAPI and keeps every point written, for
// inspecting metrics in tests and dry runs.
type PointRecorder struct {
	mu     sync.Mutex
	points []*write.Point
}

func (p *PointRecorder) WriteRecord(line string) {}

func (p *PointRecorder) WritePoint(point *write.Point) {
	p.mu.Lock()
	p.points = append(p.points, point)
	p.mu.Unlock()
}

func (p *PointRecorder) Flush() {}
func (p *PointRecorder) Close() {}
func (p *PointRecorder) Errors() <-chan error { return nil }

// Points returns a copy of the recorded points.
func (p *PointRecorder) Points() []*write.Point {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*write.Point(nil), p.points...)
}
