package safe

import (
	"github.com/MrCobi/HemerotecaDigital-sub002/logger"
)

// Go starts a goroutine that recovers from panic, so a misbehaving
// handler can never take the whole relay process down.
func Go(f func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorf("[SafeGo] panic recovered: %v", r)
			}
		}()
		f()
	}()
}
