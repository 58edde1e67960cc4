// Copyright (c) 2016-2019 Uber Technologies, Inc.
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

// Package configutil loads yaml configuration files, allowing one file to
// extend another and validating the merged result via struct tags.
package configutil

import (
	"errors"
	"fmt"
	"io/ioutil"
	"path/filepath"

	"gopkg.in/validator.v2"
	"gopkg.in/yaml.v2"
)

// ErrCycleRef is returned by Load when a chain of "extends" fields refers
// back to a file already in the chain.
var ErrCycleRef = errors.New("cyclic reference in configuration extends detected")

// ValidationError wraps the field-level errors produced by validating a
// loaded config.
type ValidationError struct {
	validator.ErrorMap
}

// ErrForField returns the validation errors for the given field name, or
// nil if the field passed validation.
func (e ValidationError) ErrForField(name string) validator.ErrorArray {
	return e.ErrorMap[name]
}

type extendsStub struct {
	Extends string `yaml:"extends"`
}

// Load reads filename and any files it transitively extends, merges them in
// extension order (base files first), and validates the result against
// config's struct tags.
func Load(filename string, config interface{}) error {
	filenames, err := resolveExtends(filename, readExtends)
	if err != nil {
		return err
	}
	return loadFiles(config, filenames)
}

// readExtends reads only the "extends" field out of filename, without
// touching the caller's config type.
func readExtends(filename string) (string, error) {
	b, err := ioutil.ReadFile(filename)
	if err != nil {
		return "", fmt.Errorf("read file: %s", err)
	}
	var stub extendsStub
	if err := yaml.Unmarshal(b, &stub); err != nil {
		return "", fmt.Errorf("invalid yaml %s: %s", filename, err)
	}
	return stub.Extends, nil
}

// resolveExtends walks the "extends" chain starting at fpath, resolving
// relative extends paths against the directory of the file that names them,
// and returns the chain ordered from the most-base file to fpath itself.
func resolveExtends(fpath string, readExtends func(string) (string, error)) ([]string, error) {
	var filenames []string
	seen := make(map[string]bool)
	cur := fpath
	for {
		if seen[cur] {
			return nil, ErrCycleRef
		}
		seen[cur] = true
		filenames = append([]string{cur}, filenames...)

		extends, err := readExtends(cur)
		if err != nil {
			return nil, err
		}
		if extends == "" {
			break
		}
		if !filepath.IsAbs(extends) {
			extends = filepath.Join(filepath.Dir(cur), extends)
		}
		cur = extends
	}
	return filenames, nil
}

// loadFiles unmarshals each file in filenames into config in order, so
// later files override fields set by earlier ones, then validates the
// merged config once.
func loadFiles(config interface{}, filenames []string) error {
	for _, filename := range filenames {
		b, err := ioutil.ReadFile(filename)
		if err != nil {
			return fmt.Errorf("read file: %s", err)
		}
		if err := yaml.Unmarshal(b, config); err != nil {
			return fmt.Errorf("invalid yaml %s: %s", filename, err)
		}
	}
	if err := validator.Validate(config); err != nil {
		errMap, ok := err.(validator.ErrorMap)
		if !ok {
			return err
		}
		return ValidationError{errMap}
	}
	return nil
}
