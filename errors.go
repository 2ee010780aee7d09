package pernai

import (
	"errors"
	"fmt"
)

// ErrNotReady reports that the embedding provider is not configured.
// Callers must treat this as a precondition failure, distinguishable
// from "retrieved zero results".
var ErrNotReady = errors.New("embedding provider not configured")

type ErrLLM struct {
	Provider string
	Message  string
}

func (e *ErrLLM) Error() string {
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

type ErrHTTP struct {
	Status int
	Body   string
}

func (e *ErrHTTP) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}
