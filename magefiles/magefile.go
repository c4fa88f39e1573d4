//go:build mage

// Build targets for canopy.
//
//	mage build          Compile canopy to bin/
//	mage test:unit      Run unit tests
//	mage test:postgres  Run storage and loader tests against CANOPY_TEST_DSN
//	mage test:cover     Write coverage to bin/coverage.out
//	mage lint           Run golangci-lint
//	mage clean          Remove build artifacts
//	mage install        Install canopy to GOPATH/bin
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

const (
	binGo      = "go"
	binLint    = "golangci-lint"
	binaryName = "canopy"
	binaryDir  = "bin"
	cmdDir     = "./cmd/canopy"
	versionVar = "github.com/mesh-intelligence/canopy/internal/cli.Version"
)

// Build compiles the canopy binary to bin/, stamping the git version.
func Build() error {
	if err := os.MkdirAll(binaryDir, 0o755); err != nil {
		return err
	}
	version, err := sh.Output("git", "describe", "--tags", "--always", "--dirty")
	if err != nil || version == "" {
		version = "0.1.0-dev"
	}
	ldflags := fmt.Sprintf("-X %s=%s", versionVar, version)
	return sh.RunV(binGo, "build", "-ldflags", ldflags, "-o", filepath.Join(binaryDir, binaryName), cmdDir)
}

// Test groups test targets.
type Test mg.Namespace

// Unit runs every package's tests against sqlite.
func (Test) Unit() error {
	return sh.RunV(binGo, "test", "./...")
}

// Postgres runs the storage and loader tests against the database named by
// CANOPY_TEST_DSN.
func (Test) Postgres() error {
	if os.Getenv("CANOPY_TEST_DSN") == "" {
		return fmt.Errorf("CANOPY_TEST_DSN is not set")
	}
	return sh.RunV(binGo, "test", "-count=1", "./internal/storage/...", "./internal/loader/...")
}

// Cover writes a coverage profile to bin/coverage.out.
func (Test) Cover() error {
	if err := os.MkdirAll(binaryDir, 0o755); err != nil {
		return err
	}
	return sh.RunV(binGo, "test", "-coverprofile", filepath.Join(binaryDir, "coverage.out"), "./...")
}

// Lint runs golangci-lint.
func Lint() error {
	return sh.RunV(binLint, "run", "./...")
}

// Clean removes build artifacts.
func Clean() error {
	if err := os.RemoveAll(binaryDir); err != nil {
		return err
	}
	return sh.RunV(binGo, "clean")
}

// Install builds and copies the binary to GOPATH/bin.
func Install() error {
	mg.Deps(Build)
	gopath, err := sh.Output(binGo, "env", "GOPATH")
	if err != nil {
		return err
	}
	return sh.Copy(filepath.Join(gopath, "bin", binaryName), filepath.Join(binaryDir, binaryName))
}
