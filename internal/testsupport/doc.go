// Package testsupport holds fixtures shared by package tests: isolated
// configs, registry handles, file writers, and polling helpers.
package testsupport
