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

// Package model defines the core data structures for the application.
// This file provides a canonical example option set. It is serialized into
// the option-proposal prompt as a few-shot example to anchor the model's
// output shape, and doubles as the deterministic fallback set when the model
// is unreachable or returns unusable output.
package model

// FallbackOptions returns the fixed next-action set used when the chat model
// fails or produces nothing usable. Labels stay within the five-word budget
// the prompt imposes on the model itself.
func FallbackOptions() []StoryOption {
	return []StoryOption{
		{
			Label:      "Push forward",
			SoraPrompt: `Continue the scene with a forward movement. Dialogue: - "Keep going!"`,
		},
		{
			Label:      "Duck into cover",
			SoraPrompt: `The character moves into cover and assesses the street. Dialogue: - "Hold on..."`,
		},
		{
			Label:      "Change direction",
			SoraPrompt: `The character pivots and takes a side route. Dialogue: - "This way!"`,
		},
	}
}

// GetExampleOptionList returns a well-formed OptionList for few-shot
// prompting. Providing a complete JSON example in the prompt measurably
// improves the reliability of the model's structured output.
func GetExampleOptionList() *OptionList {
	return &OptionList{
		Options: []StoryOption{
			{
				Label:      "Open the hatch",
				SoraPrompt: `She wrenches the rusted hatch open and peers down the ladder shaft. Dialogue: - "There's a way down."`,
			},
			{
				Label:      "Signal the drone",
				SoraPrompt: `He raises the flare and the courier drone banks toward the rooftop. Dialogue: - "Over here!"`,
			},
			{
				Label:      "Hide and wait",
				SoraPrompt: `The pair presses into the doorway shadow as the patrol sweeps past.`,
			},
		},
	}
}
