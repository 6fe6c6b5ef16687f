package output

import (
	"encoding/json"
	"fmt"

	"github.com/jbweber/virtwatch/internal/conn"
	"github.com/jbweber/virtwatch/internal/natsbus"
)

// JSONFormatter formats objects as JSON.
type JSONFormatter struct{}

// FormatObject formats a single object as JSON.
func (f *JSONFormatter) FormatObject(obj conn.ObjectInfo) (string, error) {
	data, err := json.MarshalIndent(obj, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal %s %s to JSON: %w", obj.Kind, obj.Name, err)
	}

	return string(data) + "\n", nil
}

// FormatObjectList formats a list of objects as a JSON array.
func (f *JSONFormatter) FormatObjectList(objs []conn.ObjectInfo) (string, error) {
	if len(objs) == 0 {
		return "[]\n", nil
	}

	data, err := json.MarshalIndent(objs, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal objects to JSON: %w", err)
	}

	return string(data) + "\n", nil
}

// FormatEvent formats an event as one line of JSON, suitable for streaming.
func (f *JSONFormatter) FormatEvent(ev conn.Event) (string, error) {
	data, err := json.Marshal(natsbus.NewMessage(ev))
	if err != nil {
		return "", fmt.Errorf("failed to marshal event to JSON: %w", err)
	}
	return string(data) + "\n", nil
}
