package sink

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"google.golang.org/protobuf/proto"

	"github.com/btscan/btscan/pkg/telemetry"
)

// addressLabel holds the station address when a path segment is one.
const addressLabel = "address"

// Textfile is a Sink that keeps the latest value of every path and, on each
// Flush, rewrites path as a Prometheus text exposition for the node_exporter
// textfile collector.
//
// Path "BTScan.29db3ccd015a.rssi" becomes btscan_rssi{address="29db3ccd015a"};
// "BTScan.stats.stations.count" becomes btscan_stats_stations_count. String
// values become <name>_info{value="..."} 1. A station that receives no record
// between two flushes is dropped from the file.
type Textfile struct {
	path string

	mu       sync.Mutex
	current  map[string]telemetry.Value // recorded since the last flush
	retained map[string]telemetry.Value // state written by the last flush
}

// NewTextfile returns a Textfile sink writing to path.
func NewTextfile(path string) *Textfile {
	return &Textfile{
		path:     path,
		current:  make(map[string]telemetry.Value),
		retained: make(map[string]telemetry.Value),
	}
}

func (t *Textfile) Record(path string, v telemetry.Value) {
	t.mu.Lock()
	t.current[path] = v
	t.mu.Unlock()
}

// Flush merges the pending records into the retained state and writes it out.
// On write failure the merge is kept; the next flush rewrites the file.
func (t *Textfile) Flush(_ context.Context) error {
	t.mu.Lock()
	seen := make(map[string]bool)
	for p := range t.current {
		if _, addr, _, ok := splitStation(p); ok {
			seen[addr] = true
		}
	}
	for p := range t.retained {
		if _, addr, _, ok := splitStation(p); ok && !seen[addr] {
			delete(t.retained, p)
		}
	}
	for p, v := range t.current {
		t.retained[p] = v
	}
	t.current = make(map[string]telemetry.Value)

	var buf bytes.Buffer
	err := writeExposition(&buf, t.retained)
	t.mu.Unlock()
	if err != nil {
		return fmt.Errorf("textfile sink: render: %w", err)
	}
	return writeAtomic(t.path, buf.Bytes())
}

// writeExposition renders values as metric families sorted by name.
func writeExposition(buf *bytes.Buffer, values map[string]telemetry.Value) error {
	families := make(map[string]*dto.MetricFamily)
	for p, v := range values {
		name, labels := metricFor(p)
		var value float64
		if v.Kind == telemetry.KindString {
			name += "_info"
			labels = append(labels, &dto.LabelPair{Name: proto.String("value"), Value: proto.String(v.Str)})
			value = 1
		} else {
			n, ok := v.Number()
			if !ok {
				continue
			}
			value = n
		}

		mf, ok := families[name]
		if !ok {
			mf = &dto.MetricFamily{
				Name: proto.String(name),
				Help: proto.String("btscan telemetry " + p),
				Type: dto.MetricType_GAUGE.Enum(),
			}
			families[name] = mf
		}
		mf.Metric = append(mf.Metric, &dto.Metric{
			Label: labels,
			Gauge: &dto.Gauge{Value: proto.Float64(value)},
		})
	}

	names := make([]string, 0, len(families))
	for n := range families {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		mf := families[n]
		sort.Slice(mf.Metric, func(i, j int) bool {
			return labelKey(mf.Metric[i]) < labelKey(mf.Metric[j])
		})
		if _, err := expfmt.MetricFamilyToText(buf, mf); err != nil {
			return err
		}
	}
	return nil
}

// metricFor maps a telemetry path to a metric name and labels.
func metricFor(path string) (string, []*dto.LabelPair) {
	if root, addr, field, ok := splitStation(path); ok {
		return sanitize(root + "_" + field), []*dto.LabelPair{
			{Name: proto.String(addressLabel), Value: proto.String(addr)},
		}
	}
	return sanitize(strings.ReplaceAll(path, ".", "_")), nil
}

// splitStation splits "<root>.<12 hex digits>.<field>".
func splitStation(path string) (root, addr, field string, ok bool) {
	parts := strings.SplitN(path, ".", 3)
	if len(parts) != 3 || !isAddressHex(parts[1]) {
		return "", "", "", false
	}
	return parts[0], parts[1], parts[2], true
}

func isAddressHex(s string) bool {
	if len(s) != 12 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return false
		}
	}
	return true
}

// sanitize lowercases s and replaces characters that are invalid in a metric
// name with '_'. A lower-to-upper camelCase boundary also becomes '_', so
// "BTScan.addrType" maps to "btscan_addr_type".
func sanitize(s string) string {
	var b strings.Builder
	var prev rune
	for i, r := range s {
		switch {
		case r >= 'A' && r <= 'Z':
			if prev >= 'a' && prev <= 'z' || prev >= '0' && prev <= '9' {
				b.WriteByte('_')
			}
			b.WriteRune(r + ('a' - 'A'))
		case r >= 'a' && r <= 'z', r == '_', r >= '0' && r <= '9' && i > 0:
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
		prev = r
	}
	return b.String()
}

func labelKey(m *dto.Metric) string {
	var b strings.Builder
	for _, lp := range m.GetLabel() {
		b.WriteString(lp.GetName())
		b.WriteByte('=')
		b.WriteString(lp.GetValue())
		b.WriteByte(',')
	}
	return b.String()
}

// writeAtomic writes data to a temp file in the target directory and renames it
// into place so the collector never reads a partial file.
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".btscan-*.prom.tmp")
	if err != nil {
		return fmt.Errorf("textfile sink: create temp: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // gone after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("textfile sink: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("textfile sink: close: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("textfile sink: rename: %w", err)
	}
	return nil
}
