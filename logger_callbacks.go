// LoggerCallbacks struct definition
package go_oscar

// LoggerCallbacks provides callback functions for logging events
type LoggerCallbacks struct {
	opaque *interface{}
	onLog  func(*Logger, LoggerTags, string)
}
