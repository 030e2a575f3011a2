//go:build windows && amd64

package ffi

import "github.com/tinyrange/miniffi/internal/asm/amd64"

var hostABI = &amd64.Win64
