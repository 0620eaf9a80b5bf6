package services

import "errors"

var (
	// ErrUnsupportedEvent marks a webhook event category this core does
	// not handle. Acknowledged with 200 and dropped, so the provider
	// stops redelivering.
	ErrUnsupportedEvent = errors.New("unsupported event")

	// ErrUnhandledContentType marks a message with no extractable text
	// (media, reactions, protocol frames). Acknowledged and dropped.
	ErrUnhandledContentType = errors.New("unhandled content type")

	ErrChatNotFound = errors.New("chat not found")

	// ErrDeliveryFailed means the provider rejected or never received an
	// outbound send. No state was mutated; the core never retries.
	ErrDeliveryFailed = errors.New("delivery failed")

	// ErrProviderDisconnected means the gateway session is not paired,
	// so a send cannot possibly succeed.
	ErrProviderDisconnected = errors.New("provider disconnected")
)
