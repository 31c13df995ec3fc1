package engine

import (
	"fmt"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
)

// BundlingError carries the errors esbuild reported for a failed build.
type BundlingError struct {
	Messages []api.Message
}

func (e *BundlingError) Error() string {
	if len(e.Messages) == 0 {
		return "bundling failed"
	}
	parts := make([]string, 0, len(e.Messages))
	for _, msg := range e.Messages {
		parts = append(parts, FormatMessage(msg))
	}
	return "bundling failed: " + strings.Join(parts, "; ")
}

// FormatMessage renders msg as "file:line:column: text".
func FormatMessage(msg api.Message) string {
	text := msg.Text
	if msg.PluginName != "" {
		text = fmt.Sprintf("[%s] %s", msg.PluginName, text)
	}
	if msg.Location == nil {
		return text
	}
	return fmt.Sprintf("%s:%d:%d: %s", msg.Location.File, msg.Location.Line, msg.Location.Column, text)
}
