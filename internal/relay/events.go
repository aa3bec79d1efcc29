package relay

import "encoding/json"

// WriteEvent serializes frame as a complete SSE event on the sink. The
// orchestrator uses it for retrying-status notices and synthesized
// terminal errors, which do not originate upstream.
func WriteEvent(sink Sink, frame map[string]interface{}) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	if err := sink.WriteLine(dataPrefix + string(data)); err != nil {
		return err
	}
	if err := sink.WriteLine(""); err != nil {
		return err
	}
	sink.Flush()
	return nil
}

// StatusFrame is an informational event type this service adds on top of
// the upstream frame vocabulary.
func StatusFrame(message string) map[string]interface{} {
	return map[string]interface{}{"type": "status", "message": message}
}

// ErrorFrame is a terminal error event in the upstream frame shape.
func ErrorFrame(message string) map[string]interface{} {
	return map[string]interface{}{"type": "error", "error": message}
}
