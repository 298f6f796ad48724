package mocks

// Mocks are generated with go.uber.org/mock and committed so tests build
// without a codegen step. Regenerate after changing the interfaces in
// internal/core:
//
//	go generate ./internal/mocks

//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=job_store_mock.go github.com/ragline/ingestd/internal/core JobStore
