package eventbus

import "errors"

// ErrBadPayloadType is returned by As when an event's payload is not the
// requested type.
var ErrBadPayloadType = errors.New("eventbus: bad payload type")
