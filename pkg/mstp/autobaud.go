package mstp

import (
	"time"

	"github.com/bacterium-io/mstpstack/pkg/serial"
)

// autoBaudState implements the optional baud-rate discovery extension of
// §4.4: cycle through serial.ValidBaudRates, dwelling autoBaudCandidateWindow
// on each; the first candidate that accumulates autoBaudMinValidFrames
// valid frames becomes the operating baud.
type autoBaudState struct {
	candidateIdx     int
	windowStart      time.Time
	framesAtWindowed uint64
	done             bool
}

func newAutoBaudState() *autoBaudState {
	return &autoBaudState{}
}

func (p *Port) pollAutoBaud(now time.Time) {
	ab := p.ab
	if ab.windowStart.IsZero() {
		ab.windowStart = now
		ab.framesAtWindowed = p.stats.FramesReceived
		_ = p.driver.SetBaudRate(serial.ValidBaudRates[ab.candidateIdx])
	}

	if p.stats.FramesReceived-ab.framesAtWindowed >= autoBaudMinValidFrames {
		ab.done = true
		p.log.WithField("baud_rate", p.driver.BaudRate()).Info("auto-baud detection settled")
		return
	}

	if now.Sub(ab.windowStart) >= autoBaudCandidateWindow {
		ab.candidateIdx = (ab.candidateIdx + 1) % len(serial.ValidBaudRates)
		ab.windowStart = now
		ab.framesAtWindowed = p.stats.FramesReceived
		_ = p.driver.SetBaudRate(serial.ValidBaudRates[ab.candidateIdx])
	}
}
