package services

import "errors"

var (
	// ErrTransientStore means the session store could not be reached. The
	// whole turn failed and the caller may retry it.
	ErrTransientStore = errors.New("transient store error")

	// ErrTransientSend means the outbound queue was closed when the turn
	// started. The turn was not applied and nothing was sent.
	ErrTransientSend = errors.New("transient send error")

	// ErrPermanentSend marks a message that will never be delivered, either
	// because the provider rejected it or its retries ran out.
	ErrPermanentSend = errors.New("permanent send failure")

	// ErrRetryableSend is returned by a Sender for failures worth retrying.
	ErrRetryableSend = errors.New("retryable send failure")

	ErrLedgerWrite = errors.New("ledger write failure")
	ErrValidation  = errors.New("validation failure")
)
