// Copyright 2025 go-tilepipe Authors. SPDX-License-Identifier: Apache-2.0

package pipe

import "errors"

// Sentinel errors returned by NewManager.
var (
	ErrInvalidThreads   = errors.New("pipe: maxThreads must be at least 1")
	ErrInvalidBlockSize = errors.New("pipe: block size must be at least 1")
	ErrStorageTooSmall  = errors.New("pipe: backing storage too small")
)
