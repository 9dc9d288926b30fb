// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package core

import "errors"

// Domain validation errors
var (
	// ErrInvalidArgument is the root of every caller input error.
	// Input errors fail fast and are never retried.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrEmptyTalker indicates the talker identifier is empty.
	ErrEmptyTalker = errors.New("talker cannot be empty")

	// ErrInvalidTimeRange indicates a time range that is not YYYY-MM-DD or YYYY-MM-DD~YYYY-MM-DD.
	ErrInvalidTimeRange = errors.New("invalid time range")

	// ErrInvalidCheckpoint indicates a Checkpoint failed validation.
	ErrInvalidCheckpoint = errors.New("invalid checkpoint")
)
