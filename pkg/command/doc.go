// Package command dispatches decoded payloads: local commands run their
// registered handler, FORWARD_CAN payloads are sent to a controller on the
// bus and the caller's reply func is remembered until that controller
// answers.
package command
