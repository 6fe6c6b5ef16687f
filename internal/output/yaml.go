package output

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/jbweber/virtwatch/internal/conn"
	"github.com/jbweber/virtwatch/internal/natsbus"
)

// YAMLFormatter formats objects as YAML.
type YAMLFormatter struct{}

// FormatObject formats a single object as YAML.
func (f *YAMLFormatter) FormatObject(obj conn.ObjectInfo) (string, error) {
	data, err := yaml.Marshal(obj)
	if err != nil {
		return "", fmt.Errorf("failed to marshal %s %s to YAML: %w", obj.Kind, obj.Name, err)
	}

	return string(data), nil
}

// FormatObjectList formats a list of objects as YAML.
// Outputs as a YAML stream (multiple documents separated by ---).
func (f *YAMLFormatter) FormatObjectList(objs []conn.ObjectInfo) (string, error) {
	if len(objs) == 0 {
		return "", nil
	}

	var buf bytes.Buffer

	for i, obj := range objs {
		data, err := f.FormatObject(obj)
		if err != nil {
			return "", err
		}

		if i > 0 {
			buf.WriteString("---\n")
		}

		buf.WriteString(data)
	}

	return buf.String(), nil
}

// FormatEvent formats an event as one YAML document.
func (f *YAMLFormatter) FormatEvent(ev conn.Event) (string, error) {
	data, err := yaml.Marshal(natsbus.NewMessage(ev))
	if err != nil {
		return "", fmt.Errorf("failed to marshal event to YAML: %w", err)
	}
	return "---\n" + string(data), nil
}
