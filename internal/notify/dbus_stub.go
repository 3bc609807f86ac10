//go:build !linux

package notify

import logx "pushbridge/pkg/logx"

// New falls back to the log presenter on platforms without a desktop
// notification bus.
func New(_ string, log logx.Logger) (Presenter, error) {
	return NewLog(log), nil
}
