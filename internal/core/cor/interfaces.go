// Copyright 2025 PlayStory Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cor (Chain of Responsibility) provides the building blocks for
// expressing workflows as an ordered sequence of commands. This file defines
// the interfaces that govern all components of the pattern; the completion
// reconciliation pipeline is assembled from these pieces.
package cor

import (
	"context"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// CtxIn and CtxOut are the keys used to pipe the primary data flow through a
// BaseChain.
const (
	// CtxIn is the default key for a command's primary input. The BaseChain
	// populates it with the previous command's output.
	CtxIn = "__IN__"
	// CtxOut is the default key where a command places its primary output.
	// The BaseChain picks it up as the next command's input.
	CtxOut = "__OUT__"
)

// Context is the shared state object passed through a chain of commands. It
// acts as a property bag for a single workflow execution, carrying data,
// errors, and temp-file bookkeeping between commands.
type Context interface {
	// SetContext sets the standard Go context, used for cancellation and for
	// carrying OpenTelemetry span information.
	SetContext(context context.Context)

	// GetContext retrieves the standard Go context.
	GetContext() context.Context

	// Add stores a key-value pair; it returns the Context for fluent chaining.
	Add(key string, value interface{}) Context

	// AddError records an error produced by a command, keyed by command name.
	AddError(key string, err error)

	// GetErrors returns every error collected during the workflow.
	GetErrors() map[string]error

	// Get retrieves a value by key, or nil when absent.
	Get(key string) interface{}

	// Remove deletes a key-value pair.
	Remove(key string)

	// HasErrors reports whether any error has been recorded.
	HasErrors() bool

	// AddTempFile tracks a temporary file created during the workflow so that
	// Close can remove it.
	AddTempFile(file string)

	// GetTempFiles returns all tracked temporary file paths.
	GetTempFiles() []string

	// Close removes tracked temporary files; defer it at workflow start.
	Close()
}

// Executable is any object with a core execution step.
type Executable interface {
	// Execute runs the business logic, reading inputs from and writing outputs
	// to the given Context.
	Execute(context Context)
}

// Command is an atomic, independently testable unit of work, the fundamental
// building block of a workflow.
type Command interface {
	Executable

	// GetName returns the command's unique name for logging and telemetry.
	GetName() string

	// GetInputParam returns the context key for the command's primary input.
	GetInputParam() string

	// GetOutputParam returns the context key for the command's primary output.
	GetOutputParam() string

	// IsExecutable is the precondition check run before Execute.
	IsExecutable(context Context) bool

	// GetTracer returns the command's OpenTelemetry tracer.
	GetTracer() trace.Tracer

	// GetMeter returns the command's OpenTelemetry meter.
	GetMeter() metric.Meter

	// GetSuccessCounter returns the counter incremented on success.
	GetSuccessCounter() metric.Int64Counter

	// GetErrorCounter returns the counter incremented on failure.
	GetErrorCounter() metric.Int64Counter
}

// Chain is a sequence of commands. A Chain is itself a Command, so chains can
// nest (Composite pattern).
type Chain interface {
	Command

	// ContinueOnFailure configures whether the chain keeps executing after a
	// command records an error.
	ContinueOnFailure(bool) Chain

	// AddCommand appends a command to the execution sequence.
	AddCommand(command Command) Chain
}
