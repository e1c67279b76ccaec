package clog

import "io"

// withWriter 仅供测试：把日志写入指定 writer
func withWriter(w io.Writer) Option {
	return func(o *options) {
		o.writer = w
	}
}
