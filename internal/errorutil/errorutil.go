package errorutil

import "errors"

// ErrDataIntegrity is a base error type to use for failures that are due to
// unrecoverable data integrity issues (nil trees, malformed event batches).
var ErrDataIntegrity = errors.New("data integrity error")

// ErrNotConfigured is returned when an optional subsystem is used without the
// configuration it requires (e.g. shipping snapshots without brokers or a URL).
var ErrNotConfigured = errors.New("not configured")
