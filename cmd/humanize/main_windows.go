//go:build windows

package main

import "time"

// fileCleanupDelay 等待 Windows 释放缓存库文件句柄。
func fileCleanupDelay() {
	time.Sleep(500 * time.Millisecond)
}
