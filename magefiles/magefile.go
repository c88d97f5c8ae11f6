// Copyright (c) 2026 Petar Djukic. All rights reserved.
// SPDX-License-Identifier: MIT

//go:build mage

// Package main provides build targets for addrbook using Mage.
//
// Usage:
//
//	mage build          Compile the addrbook binary to bin/
//	mage test:all       Run every test
//	mage test:unit      Run tests without the race detector or verbose output
//	mage test:race      Run every test under the race detector
//	mage test:cover     Write coverage to coverage.out and print a summary
//	mage test:golden    Regenerate golden files
//	mage lint           Run golangci-lint
//	mage clean          Remove build artifacts
//	mage install        Install addrbook to GOPATH/bin
package main
