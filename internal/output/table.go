package output

import (
	"bytes"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/jbweber/virtwatch/internal/conn"
)

// TableFormatter formats objects as human-readable tables.
type TableFormatter struct {
	// NoHeaders omits the header row.
	NoHeaders bool
}

// FormatObject formats a single object as a table row.
func (f *TableFormatter) FormatObject(obj conn.ObjectInfo) (string, error) {
	return f.FormatObjectList([]conn.ObjectInfo{obj})
}

// FormatObjectList formats a list of objects as a table.
func (f *TableFormatter) FormatObjectList(objs []conn.ObjectInfo) (string, error) {
	if len(objs) == 0 {
		return "No objects found\n", nil
	}

	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	if !f.NoHeaders {
		_, _ = fmt.Fprintln(w, "KIND\tNAME\tSTATE\tAUTOSTART\tDETAILS")
	}

	for _, obj := range objs {
		state := obj.State
		if state == "" {
			state = "-"
		}
		autostart := "no"
		if obj.Autostart {
			autostart = "yes"
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			obj.Kind, obj.Name, state, autostart, details(obj))
	}

	_ = w.Flush()
	return buf.String(), nil
}

// FormatEvent formats an event as a single log-style line.
func (f *TableFormatter) FormatEvent(ev conn.Event) (string, error) {
	ts := ev.Time.Format(time.TimeOnly)
	if ev.Type == conn.EventStateChanged {
		return fmt.Sprintf("%s  %s  connection %s\n", ts, ev.URI, ev.State), nil
	}

	name, state := "-", "-"
	if ev.Object != nil {
		info := ev.Object.Info()
		name = info.Name
		if info.State != "" {
			state = info.State
		}
	}
	return fmt.Sprintf("%s  %s  %s %s %s (%s)\n", ts, ev.URI, ev.Kind, name, ev.Type, state), nil
}

// details renders the kind-specific columns of obj.
func details(obj conn.ObjectInfo) string {
	switch obj.Kind {
	case conn.KindDomain:
		return fmt.Sprintf("%d vCPU, %s/%s, cpu %s",
			obj.VCPUs,
			formatBytes(obj.MemoryKiB*1024),
			formatBytes(obj.MaxMemoryKiB*1024),
			formatCPUTime(obj.CPUTime))
	case conn.KindNetwork:
		if obj.Bridge == "" {
			return "-"
		}
		return "bridge " + obj.Bridge
	case conn.KindStoragePool:
		used := "-"
		if obj.Capacity > 0 {
			used = fmt.Sprintf("%d%%", obj.Allocation*100/obj.Capacity)
		}
		return fmt.Sprintf("%s %s, %s used of %s",
			orDash(obj.Type), orDash(obj.Path), used, formatBytes(obj.Capacity))
	default:
		return "-"
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// formatBytes formats a byte count with a binary unit suffix.
// Examples: "512B", "4.0KiB", "2.0GiB"
func formatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%dB", n)
	}
	div, exp := uint64(unit), 0
	for m := n / unit; m >= unit && exp < 4; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%ciB", float64(n)/float64(div), "KMGTP"[exp])
}

// formatCPUTime formats accumulated CPU time as a compact duration.
// Examples: "5s", "2m", "3h", "4d"
func formatCPUTime(d time.Duration) string {
	if d < 0 {
		return "unknown"
	}

	seconds := int(d.Seconds())
	if seconds < 60 {
		return fmt.Sprintf("%ds", seconds)
	}

	minutes := seconds / 60
	if minutes < 60 {
		return fmt.Sprintf("%dm", minutes)
	}

	hours := minutes / 60
	if hours < 24 {
		return fmt.Sprintf("%dh", hours)
	}

	return fmt.Sprintf("%dd", hours/24)
}
