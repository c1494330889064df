package astipsi

import "github.com/asticode/go-astikit"

// Right now we use a global logger because it feels weird to inject a logger in pure functions
// Indeed, logger is only needed to let the developer know when a builder had to bend the input it was given
var logger = astikit.AdaptStdLogger(nil)

// SetLogger sets the package logger
func SetLogger(l astikit.StdLogger) { logger = astikit.AdaptStdLogger(l) }
