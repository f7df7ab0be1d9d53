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


package conversation

import "errors"

var (
	// ErrConversationClosed is returned when an operation is attempted on
	// a conversation that has been torn down.
	ErrConversationClosed = errors.New("conversation closed")

	// ErrUnknownParticipant is returned when an event references a
	// participant the conversation does not own.
	ErrUnknownParticipant = errors.New("unknown participant")
)
