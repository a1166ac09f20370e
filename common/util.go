// Copyright 2022 The ssepush Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package common

import (
	"os"
	"strings"

	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
)

// Component base structure for a Component
type Component struct {
	LogTags log.Fields
}

// eventNameWrapper for validating an event name
type eventNameWrapper struct {
	Name string `validate:"required,printascii,excludesall=/"`
}

// ValidateEventName check whether a string can be used as an event name
func ValidateEventName(name string, validate *validator.Validate) error {
	t := eventNameWrapper{Name: name}
	return validate.Struct(&t)
}

// GetUnitTestEtcdEndpoints fetch the etcd endpoints to use during unit-testing
func GetUnitTestEtcdEndpoints() []string {
	if fromEnv, ok := os.LookupEnv("UNIT_TEST_ETCD_ENDPOINTS"); ok {
		return strings.Split(fromEnv, ",")
	}
	return []string{"http://127.0.0.1:2379"}
}
