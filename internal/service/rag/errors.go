package rag

import "errors"

var (
	// ErrInvalidRequest reports a malformed message history or client identity.
	ErrInvalidRequest = errors.New("invalid generation request")
	// ErrToolCatalog reports a tool catalog that could not be built for the run.
	ErrToolCatalog = errors.New("tool catalog configuration error")
	// ErrModelCall reports a failed or malformed language-model turn.
	ErrModelCall = errors.New("language model call failed")
	// ErrCanceled reports that the run context ended while tools were being dispatched.
	ErrCanceled = errors.New("generation canceled")
)
