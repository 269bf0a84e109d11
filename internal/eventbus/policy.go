package eventbus

import "strings"

// Transcript-shaped streams read forward; everything else newest-first.
func DefaultOrder(stream string) string {
	switch strings.TrimSpace(stream) {
	case StreamSay, StreamAsk, StreamAnswer:
		return "fifo"
	}
	return "lifo"
}
