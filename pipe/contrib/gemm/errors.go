// Copyright 2025 go-tilepipe Authors. SPDX-License-Identifier: Apache-2.0

package gemm

import "errors"

var (
	ErrInvalidShape     = errors.New("gemm: invalid shape")
	ErrInvalidParams    = errors.New("gemm: invalid block params")
	ErrWorkingSpace     = errors.New("gemm: working space not set or too small")
	ErrNotPretransposed = errors.New("gemm: B has not been pretransposed")
)
