//go:build !(amd64 && (linux || darwin || freebsd || windows))

package ffi

import "github.com/tinyrange/miniffi/internal/asm/amd64"

var hostABI *amd64.ABI
