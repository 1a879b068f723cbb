package chat

import "errors"

var (
	// ErrProtocolViolation marks malformed or out-of-order chunks. Fatal to the turn.
	ErrProtocolViolation = errors.New("protocol violation")

	// ErrOrphanToolResult marks a tool result with no matching tool call.
	ErrOrphanToolResult = errors.New("orphan tool result")

	// ErrToolExecution marks a tool handler failure.
	ErrToolExecution = errors.New("tool execution failed")

	// ErrToolDisabled marks a call for a disabled or unregistered tool.
	ErrToolDisabled = errors.New("tool disabled")

	// ErrInvalidTarget marks a command aimed at a message that is not addressable.
	ErrInvalidTarget = errors.New("invalid target")

	// ErrBusy marks a command rejected because a run is in flight.
	ErrBusy = errors.New("thread is busy")

	// ErrCorruptTree marks a structural violation of the message tree.
	ErrCorruptTree = errors.New("corrupt tree")

	// ErrAttachmentEncoding marks a failure to encode an attachment.
	ErrAttachmentEncoding = errors.New("attachment encoding failed")
)
