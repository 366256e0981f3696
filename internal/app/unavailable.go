package app

import (
	"context"

	"github.com/MrWong99/readalong/pkg/provider/stt"
)

// UnavailableSTT fails every stream with Err. It stands in for a recognizer
// that could not be constructed, so the server still boots and each start
// is answered with an error event.
type UnavailableSTT struct {
	Err error
}

var _ stt.Provider = UnavailableSTT{}

// StartStream always returns u.Err.
func (u UnavailableSTT) StartStream(context.Context, stt.StreamConfig) (stt.SessionHandle, error) {
	return nil, u.Err
}
