package escalate

import "errors"

var ErrAlreadyArmed = errors.New("escalation already armed for message")
