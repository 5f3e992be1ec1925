package display_test

import (
	"testing"

	"github.com/OmGuptaIND/rekordr/display"
	"github.com/stretchr/testify/assert"
)

func TestDisplayWithoutProcesses(t *testing.T) {
	d := display.NewDisplay(display.DisplayOptions{
		Width:   1280,
		Height:  720,
		Depth:   24,
		Display: ":142",
	})

	assert.Equal(t, ":142", d.GetDisplayId())
	assert.Equal(t, 1280, d.GetWidth())
	assert.Equal(t, 720, d.GetHeight())
	assert.Empty(t, d.GetPulseMonitorId())

	d.Close()
	d.Close()
}
