// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor provides the readiness poller that drives socket
// transports. Interest is one-shot: after an event is delivered the
// descriptor stays silent until it is re-armed, so the event loop that owns
// a socket is the only one touching it.
package reactor
