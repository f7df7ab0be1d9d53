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


package functions

import "errors"

var (
	// ErrFunctionNotFound is returned when a call names an unregistered function.
	ErrFunctionNotFound = errors.New("function not found")

	// ErrMissingParameter is returned when a required parameter is absent.
	ErrMissingParameter = errors.New("missing required parameter")

	// ErrUnsupportedParameterType is returned when a definition declares a
	// parameter type outside the supported set.
	ErrUnsupportedParameterType = errors.New("unsupported parameter type")

	// ErrInvocation is returned when an implementation fails or its
	// arguments cannot be coerced to the declared schema.
	ErrInvocation = errors.New("function invocation failed")

	// ErrForbiddenDependency is returned when a dependency closure
	// references a denylisted function name.
	ErrForbiddenDependency = errors.New("forbidden dependency")

	// ErrMissingDependency is returned when a named dependency resolves to
	// neither a registered function nor a stored message hash.
	ErrMissingDependency = errors.New("missing dependency")

	// ErrDependencyCycle is returned when dependency resolution revisits a
	// hash already on the resolution path.
	ErrDependencyCycle = errors.New("dependency cycle")

	// ErrRunnerRequired is returned when dynamic function execution is
	// attempted without a configured runner.
	ErrRunnerRequired = errors.New("runner required")

	// ErrDuplicateFunction is returned when a name is registered twice.
	ErrDuplicateFunction = errors.New("function already registered")

	// Constructor validation errors.
	ErrRegistryRequired           = errors.New("registry is required")
	ErrMessageRepositoryRequired  = errors.New("message repository is required")
	ErrFunctionRepositoryRequired = errors.New("function repository is required")
)
