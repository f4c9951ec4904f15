package command

import "errors"

var (
	// ErrEmptyPayload indicates a payload without command id.
	ErrEmptyPayload = errors.New("empty payload")
	// ErrShortForward indicates a FORWARD_CAN payload without target or
	// inner command.
	ErrShortForward = errors.New("forward payload too short")
	// ErrUnknownCommand indicates no handler is registered for the id.
	ErrUnknownCommand = errors.New("unknown command")
	// ErrNoForwarder indicates forwarding is not configured.
	ErrNoForwarder = errors.New("no forwarder")
)
