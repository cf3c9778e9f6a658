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

package cor

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// appendCommand appends its suffix to the string piped through the chain.
type appendCommand struct {
	BaseCommand
	suffix string
}

func (c *appendCommand) Execute(ctx Context) {
	in := ctx.Get(c.GetInputParam()).(string)
	ctx.Add(c.GetOutputParam(), in+c.suffix)
}

// failingCommand records an error and produces no output.
type failingCommand struct {
	BaseCommand
}

func (c *failingCommand) Execute(ctx Context) {
	ctx.AddError(c.GetName(), errors.New("boom"))
}

func newChainContext(input string) Context {
	ctx := NewBaseContext()
	ctx.SetContext(context.Background())
	ctx.Add(CtxIn, input)
	return ctx
}

func TestChainPipesOutputToNextInput(t *testing.T) {
	chain := NewBaseChain("test_chain").
		AddCommand(&appendCommand{BaseCommand: *NewBaseCommand("first"), suffix: "-a"}).
		AddCommand(&appendCommand{BaseCommand: *NewBaseCommand("second"), suffix: "-b"})

	ctx := newChainContext("start")
	defer ctx.Close()
	chain.Execute(ctx)

	require.False(t, ctx.HasErrors())
	assert.Equal(t, "start-a-b", ctx.Get(CtxIn))
}

func TestChainStopsOnError(t *testing.T) {
	second := &appendCommand{BaseCommand: *NewBaseCommand("after_failure"), suffix: "-never"}
	chain := NewBaseChain("test_chain").
		AddCommand(&failingCommand{BaseCommand: *NewBaseCommand("fails")}).
		AddCommand(second)

	ctx := newChainContext("start")
	defer ctx.Close()
	chain.Execute(ctx)

	require.True(t, ctx.HasErrors())
	assert.Contains(t, ctx.GetErrors(), "fails")
	// The second command never ran, so nothing was piped forward.
	assert.Nil(t, ctx.Get(CtxIn))
}

func TestChainContinueOnFailure(t *testing.T) {
	chain := NewBaseChain("test_chain").
		ContinueOnFailure(true).
		AddCommand(&failingCommand{BaseCommand: *NewBaseCommand("fails")}).
		AddCommand(&appendCommand{BaseCommand: *NewBaseCommand("recovers"), suffix: "-ok"})

	ctx := newChainContext("start")
	defer ctx.Close()
	chain.Execute(ctx)

	require.True(t, ctx.HasErrors())
	// The failing command produced no output, so the input was dropped and
	// the second command was skipped by its precondition.
	assert.Nil(t, ctx.Get(CtxIn))
}

func TestChainSkipsCommandWithoutInput(t *testing.T) {
	chain := NewBaseChain("test_chain").
		AddCommand(&appendCommand{BaseCommand: *NewBaseCommand("needs_input"), suffix: "-a"})

	ctx := NewBaseContext()
	ctx.SetContext(context.Background())
	defer ctx.Close()
	chain.Execute(ctx)

	// The default precondition rejects a missing CtxIn; no output, no error.
	assert.False(t, ctx.HasErrors())
	assert.Nil(t, ctx.Get(CtxIn))
}

func TestContextTempFileCleanup(t *testing.T) {
	ctx := NewBaseContext()
	ctx.SetContext(context.Background())

	file, err := os.CreateTemp("", "cor-cleanup-")
	require.NoError(t, err)
	require.NoError(t, file.Close())

	ctx.AddTempFile(file.Name())
	require.Len(t, ctx.GetTempFiles(), 1)
	ctx.Close()

	_, err = os.Stat(file.Name())
	assert.True(t, os.IsNotExist(err))
}
