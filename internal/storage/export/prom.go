package export

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/veyrok/swarmstore/internal/storage/types"
)

// Prometheus exposition export. One line per record:
//
//	swarmstore_task_duration_ms{task_id="t1",agent_id="a1",outcome="success"} 412 1756166400000
//	swarmstore_agent_metric{agent_id="a1",kind="throughput"} 17.5 1756166400000
//
// Labels are sorted so every line is deterministic and parses back to
// (name, labels, value, timestamp).

func (e *Exporter) exportProm(ctx context.Context, w io.Writer, cfg Config, tables []types.Table) (int64, error) {
	return e.forEachDetailed(ctx, tables, cfg.Range, func(r types.Record) error {
		return writePromLine(w, &r)
	})
}

func writePromLine(w io.Writer, r *types.Record) error {
	var name string
	labels := map[string]string{}

	switch r.Table {
	case types.TableTaskMetrics:
		name = "swarmstore_task_duration_ms"
		labels["task_id"] = r.TaskID
		labels["agent_id"] = r.ScopeID
		labels["outcome"] = string(r.Outcome)
	case types.TableAgentMetrics:
		name = "swarmstore_agent_metric"
		labels["agent_id"] = r.ScopeID
		labels["kind"] = r.Kind
	default:
		name = "swarmstore_swarm_metric"
		labels["swarm_id"] = r.ScopeID
		labels["kind"] = r.Kind
	}
	for k, v := range r.Metadata {
		labels["meta_"+k] = v
	}

	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString(name)
	sb.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(k)
		sb.WriteString(`="`)
		sb.WriteString(escapePromLabel(labels[k]))
		sb.WriteByte('"')
	}
	sb.WriteByte('}')
	sb.WriteByte(' ')
	sb.WriteString(strconv.FormatFloat(r.MetricValue(), 'g', -1, 64))
	sb.WriteByte(' ')
	sb.WriteString(strconv.FormatInt(r.TimestampMs, 10))
	sb.WriteByte('\n')

	_, err := io.WriteString(w, sb.String())
	return err
}

func escapePromLabel(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return strings.ReplaceAll(s, "\n", `\n`)
}

// ParsePromLine parses one exposition line back into its parts. Used by
// round-trip tests and the console.
func ParsePromLine(line string) (name string, labels map[string]string, value float64, tsMs int64, err error) {
	line = strings.TrimSpace(line)

	open := strings.IndexByte(line, '{')
	close_ := strings.LastIndexByte(line, '}')
	if open < 0 || close_ < open {
		return "", nil, 0, 0, fmt.Errorf("malformed exposition line %q", line)
	}
	name = line[:open]

	labels = map[string]string{}
	body := line[open+1 : close_]
	for len(body) > 0 {
		eq := strings.IndexByte(body, '=')
		if eq < 0 || eq+1 >= len(body) || body[eq+1] != '"' {
			return "", nil, 0, 0, fmt.Errorf("malformed labels in %q", line)
		}
		key := body[:eq]
		rest := body[eq+2:]

		var val strings.Builder
		i := 0
		for ; i < len(rest); i++ {
			if rest[i] == '\\' && i+1 < len(rest) {
				switch rest[i+1] {
				case 'n':
					val.WriteByte('\n')
				default:
					val.WriteByte(rest[i+1])
				}
				i++
				continue
			}
			if rest[i] == '"' {
				break
			}
			val.WriteByte(rest[i])
		}
		labels[key] = val.String()

		body = rest[i+1:]
		body = strings.TrimPrefix(body, ",")
	}

	fields := strings.Fields(line[close_+1:])
	if len(fields) != 2 {
		return "", nil, 0, 0, fmt.Errorf("expected value and timestamp in %q", line)
	}
	value, err = strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return "", nil, 0, 0, err
	}
	tsMs, err = strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return "", nil, 0, 0, err
	}
	return name, labels, value, tsMs, nil
}
