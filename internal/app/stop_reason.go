package app

// StopReason is logged when the app shuts down.
type StopReason string

const (
	StopUnknown     StopReason = "unknown"
	StopSIGINT      StopReason = "sigint"
	StopSIGTERM     StopReason = "sigterm"
	StopWindowClose StopReason = "window_closed"
	StopFatalError  StopReason = "fatal_error"
)
