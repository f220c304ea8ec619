package core

// Logger is the application-wide logging contract.
// Storage-layer failures are logged here and swallowed at the boundary;
// they are never surfaced to API consumers.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	Fatal(msg string, args ...interface{})
}
