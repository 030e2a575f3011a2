//go:build windows

package ffi

import "golang.org/x/sys/windows"

func bytePtrToString(p *byte) string {
	return windows.BytePtrToString(p)
}
