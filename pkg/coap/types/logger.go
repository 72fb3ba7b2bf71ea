package types

// Logger is the logging capability every coap package depends on.
// pkg/coap/definition provides the logrus-backed default implementation.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}
