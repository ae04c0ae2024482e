// Logger struct definition
package go_oscar

// Logger provides logging functionality for the OSCAR client
type Logger struct {
	callbacks *LoggerCallbacks
	logLevel  int
}
