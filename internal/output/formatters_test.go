package output

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/jbweber/virtwatch/internal/conn"
)

// createTestDomain creates a domain snapshot for testing.
func createTestDomain(name, state string) conn.ObjectInfo {
	return conn.ObjectInfo{
		Kind:         conn.KindDomain,
		Name:         name,
		UUID:         "12345678-9abc-def0-1234-56789abcdef0",
		State:        state,
		Type:         "kvm",
		MemoryKiB:    2 * 1024 * 1024,
		MaxMemoryKiB: 4 * 1024 * 1024,
		VCPUs:        2,
		CPUTime:      90 * time.Minute,
		Autostart:    true,
	}
}

func createTestNetwork(name string) conn.ObjectInfo {
	return conn.ObjectInfo{Kind: conn.KindNetwork, Name: name, State: "active", Bridge: "virbr0"}
}

func createTestPool(name string) conn.ObjectInfo {
	return conn.ObjectInfo{
		Kind:       conn.KindStoragePool,
		Name:       name,
		State:      "running",
		Type:       "dir",
		Path:       "/var/lib/libvirt/images",
		Capacity:   100 << 30,
		Allocation: 25 << 30,
		Available:  75 << 30,
	}
}

// testObject is a minimal conn.Object for event formatting.
type testObject struct {
	info conn.ObjectInfo
}

func (o testObject) Kind() conn.Kind       { return o.info.Kind }
func (o testObject) Name() string          { return o.info.Name }
func (o testObject) UUID() string          { return o.info.UUID }
func (o testObject) Info() conn.ObjectInfo { return o.info }

func testEvents() (objEvent, stateEvent conn.Event) {
	ts := time.Date(2026, 10, 16, 12, 30, 45, 0, time.UTC)
	objEvent = conn.Event{
		Type:   conn.EventObjectAdded,
		URI:    "qemu:///system",
		Time:   ts,
		Kind:   conn.KindDomain,
		Object: testObject{info: createTestDomain("web", "running")},
	}
	stateEvent = conn.Event{
		Type:  conn.EventStateChanged,
		URI:   "qemu:///system",
		Time:  ts,
		State: conn.StateActive,
	}
	return objEvent, stateEvent
}

func TestTableFormatter_FormatObject(t *testing.T) {
	tests := []struct {
		name        string
		obj         conn.ObjectInfo
		wantName    string
		wantState   string
		wantDetails string
	}{
		{
			name:        "running domain",
			obj:         createTestDomain("web", "running"),
			wantName:    "web",
			wantState:   "running",
			wantDetails: "2 vCPU, 2.0GiB/4.0GiB, cpu 1h",
		},
		{
			name:        "network",
			obj:         createTestNetwork("default"),
			wantName:    "default",
			wantState:   "active",
			wantDetails: "bridge virbr0",
		},
		{
			name:        "pool",
			obj:         createTestPool("images"),
			wantName:    "images",
			wantState:   "running",
			wantDetails: "dir /var/lib/libvirt/images, 25% used of 100.0GiB",
		},
		{
			name:        "missing state",
			obj:         conn.ObjectInfo{Kind: conn.KindNetwork, Name: "bare"},
			wantName:    "bare",
			wantState:   "-",
			wantDetails: "-",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			formatter := &TableFormatter{}
			output, err := formatter.FormatObject(tt.obj)
			if err != nil {
				t.Fatalf("FormatObject() error = %v", err)
			}

			for _, want := range []string{tt.wantName, tt.wantState, tt.wantDetails} {
				if !strings.Contains(output, want) {
					t.Errorf("output missing %q: %s", want, output)
				}
			}
		})
	}
}

func TestTableFormatter_FormatObjectList(t *testing.T) {
	tests := []struct {
		name       string
		objs       []conn.ObjectInfo
		noHeaders  bool
		wantCount  int
		wantHeader bool
	}{
		{
			name:      "empty list",
			objs:      []conn.ObjectInfo{},
			wantCount: 0,
		},
		{
			name:       "single object",
			objs:       []conn.ObjectInfo{createTestDomain("vm1", "running")},
			wantCount:  1,
			wantHeader: true,
		},
		{
			name: "mixed kinds",
			objs: []conn.ObjectInfo{
				createTestDomain("vm1", "running"),
				createTestDomain("vm2", "shutoff"),
				createTestNetwork("default"),
				createTestPool("images"),
			},
			wantCount:  4,
			wantHeader: true,
		},
		{
			name:       "no headers",
			objs:       []conn.ObjectInfo{createTestDomain("vm1", "running")},
			noHeaders:  true,
			wantCount:  1,
			wantHeader: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			formatter := &TableFormatter{NoHeaders: tt.noHeaders}
			output, err := formatter.FormatObjectList(tt.objs)
			if err != nil {
				t.Fatalf("FormatObjectList() error = %v", err)
			}

			if tt.wantCount == 0 {
				if !strings.Contains(output, "No objects found") {
					t.Errorf("expected 'No objects found' message, got: %s", output)
				}
				return
			}

			hasHeader := strings.Contains(output, "KIND") && strings.Contains(output, "STATE")
			if tt.wantHeader && !hasHeader {
				t.Errorf("expected header in output, got: %s", output)
			}
			if !tt.wantHeader && hasHeader {
				t.Errorf("expected no header in output, got: %s", output)
			}

			lines := strings.Split(strings.TrimSpace(output), "\n")
			expectedLines := tt.wantCount
			if tt.wantHeader {
				expectedLines++
			}
			if len(lines) != expectedLines {
				t.Errorf("expected %d lines, got %d: %s", expectedLines, len(lines), output)
			}
		})
	}
}

func TestTableFormatter_FormatEvent(t *testing.T) {
	objEvent, stateEvent := testEvents()
	formatter := &TableFormatter{}

	got, err := formatter.FormatEvent(objEvent)
	if err != nil {
		t.Fatalf("FormatEvent() error = %v", err)
	}
	want := "12:30:45  qemu:///system  domain web added (running)\n"
	if got != want {
		t.Errorf("FormatEvent() = %q, want %q", got, want)
	}

	got, err = formatter.FormatEvent(stateEvent)
	if err != nil {
		t.Fatalf("FormatEvent() error = %v", err)
	}
	want = "12:30:45  qemu:///system  connection active\n"
	if got != want {
		t.Errorf("FormatEvent() = %q, want %q", got, want)
	}
}

func TestYAMLFormatter_FormatObject(t *testing.T) {
	formatter := &YAMLFormatter{}
	output, err := formatter.FormatObject(createTestDomain("test-vm", "running"))
	if err != nil {
		t.Fatalf("FormatObject() error = %v", err)
	}

	requiredFields := []string{
		"kind: domain",
		"name: test-vm",
		"state: running",
		"type: kvm",
		"vcpus: 2",
		"autostart: true",
	}

	for _, field := range requiredFields {
		if !strings.Contains(output, field) {
			t.Errorf("output missing required field %q: %s", field, output)
		}
	}
	if strings.Contains(output, "bridge:") {
		t.Errorf("empty network fields should be omitted: %s", output)
	}
}

func TestYAMLFormatter_FormatObjectList(t *testing.T) {
	tests := []struct {
		name      string
		objs      []conn.ObjectInfo
		wantEmpty bool
	}{
		{
			name:      "empty list",
			objs:      []conn.ObjectInfo{},
			wantEmpty: true,
		},
		{
			name: "single object",
			objs: []conn.ObjectInfo{createTestDomain("vm1", "running")},
		},
		{
			name: "multiple objects",
			objs: []conn.ObjectInfo{
				createTestDomain("vm1", "running"),
				createTestPool("images"),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			formatter := &YAMLFormatter{}
			output, err := formatter.FormatObjectList(tt.objs)
			if err != nil {
				t.Fatalf("FormatObjectList() error = %v", err)
			}

			if tt.wantEmpty {
				if output != "" {
					t.Errorf("expected empty output, got: %s", output)
				}
				return
			}

			if len(tt.objs) > 1 && !strings.Contains(output, "---") {
				t.Errorf("expected document separator '---' in output")
			}

			for _, obj := range tt.objs {
				if !strings.Contains(output, obj.Name) {
					t.Errorf("output missing object name %q", obj.Name)
				}
			}
		})
	}
}

func TestYAMLFormatter_FormatEvent(t *testing.T) {
	objEvent, _ := testEvents()

	output, err := (&YAMLFormatter{}).FormatEvent(objEvent)
	if err != nil {
		t.Fatalf("FormatEvent() error = %v", err)
	}
	for _, field := range []string{"---", "type: added", "qemu:///system", "name: web"} {
		if !strings.Contains(output, field) {
			t.Errorf("output missing %q: %s", field, output)
		}
	}
}

func TestJSONFormatter_FormatObject(t *testing.T) {
	formatter := &JSONFormatter{}
	output, err := formatter.FormatObject(createTestPool("images"))
	if err != nil {
		t.Fatalf("FormatObject() error = %v", err)
	}

	requiredFields := []string{
		`"kind": "pool"`,
		`"name": "images"`,
		`"state": "running"`,
		`"path": "/var/lib/libvirt/images"`,
		`"autostart": false`,
	}

	for _, field := range requiredFields {
		if !strings.Contains(output, field) {
			t.Errorf("output missing required field %q: %s", field, output)
		}
	}
}

func TestJSONFormatter_FormatObjectList(t *testing.T) {
	tests := []struct {
		name      string
		objs      []conn.ObjectInfo
		wantEmpty bool
	}{
		{
			name:      "empty list",
			objs:      []conn.ObjectInfo{},
			wantEmpty: true,
		},
		{
			name: "multiple objects",
			objs: []conn.ObjectInfo{
				createTestDomain("vm1", "running"),
				createTestNetwork("default"),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			formatter := &JSONFormatter{}
			output, err := formatter.FormatObjectList(tt.objs)
			if err != nil {
				t.Fatalf("FormatObjectList() error = %v", err)
			}

			if tt.wantEmpty {
				expected := "[]\n"
				if output != expected {
					t.Errorf("expected %q, got: %q", expected, output)
				}
				return
			}

			if !strings.HasPrefix(strings.TrimSpace(output), "[") {
				t.Errorf("expected output to start with '[': %s", output)
			}

			for _, obj := range tt.objs {
				if !strings.Contains(output, obj.Name) {
					t.Errorf("output missing object name %q", obj.Name)
				}
			}
		})
	}
}

func TestJSONFormatter_FormatEvent(t *testing.T) {
	objEvent, stateEvent := testEvents()
	formatter := &JSONFormatter{}

	output, err := formatter.FormatEvent(objEvent)
	if err != nil {
		t.Fatalf("FormatEvent() error = %v", err)
	}
	if strings.Count(output, "\n") != 1 {
		t.Errorf("expected a single line, got: %q", output)
	}

	var msg map[string]any
	if err := json.Unmarshal([]byte(output), &msg); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if msg["type"] != "added" || msg["kind"] != "domain" || msg["name"] != "web" {
		t.Errorf("unexpected message: %v", msg)
	}

	output, err = formatter.FormatEvent(stateEvent)
	if err != nil {
		t.Fatalf("FormatEvent() error = %v", err)
	}
	if !strings.Contains(output, `"state":"active"`) {
		t.Errorf("expected connection state in output: %s", output)
	}
}

func TestNewFormatter(t *testing.T) {
	tests := []struct {
		name    string
		format  Format
		wantErr bool
	}{
		{"table", FormatTable, false},
		{"yaml", FormatYAML, false},
		{"json", FormatJSON, false},
		{"invalid", Format("xml"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			formatter, err := NewFormatter(Options{Format: tt.format})
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewFormatter() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && formatter == nil {
				t.Error("NewFormatter() returned nil formatter")
			}
		})
	}
}

func TestValidateFormat(t *testing.T) {
	tests := []struct {
		name    string
		format  string
		wantErr bool
	}{
		{"table", "table", false},
		{"yaml", "yaml", false},
		{"json", "json", false},
		{"invalid format", "xml", true},
		{"empty format", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateFormat(tt.format)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateFormat() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestFormatCPUTime(t *testing.T) {
	tests := []struct {
		name     string
		duration time.Duration
		want     string
	}{
		{"5 seconds", 5 * time.Second, "5s"},
		{"90 seconds", 90 * time.Second, "1m"},
		{"2 hours", 2 * time.Hour, "2h"},
		{"90 minutes", 90 * time.Minute, "1h"},
		{"2 days", 48 * time.Hour, "2d"},
		{"400 days", 400 * 24 * time.Hour, "400d"},
		{"negative", -time.Second, "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := formatCPUTime(tt.duration)
			if got != tt.want {
				t.Errorf("formatCPUTime(%v) = %q, want %q", tt.duration, got, tt.want)
			}
		})
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		n    uint64
		want string
	}{
		{0, "0B"},
		{512, "512B"},
		{4096, "4.0KiB"},
		{3 << 29, "1.5GiB"},
		{2 << 40, "2.0TiB"},
	}

	for _, tt := range tests {
		if got := formatBytes(tt.n); got != tt.want {
			t.Errorf("formatBytes(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}
