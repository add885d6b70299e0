package connectivity

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// BannerState is what the status indicator currently shows
type BannerState struct {
	Visible bool
	Tone    string
	Text    string
}

// Banner is the visible status indicator.
// Flash shows a message that hides itself; Show keeps it until replaced.
type Banner struct {
	mu    sync.Mutex
	state BannerState
	timer *time.Timer
	// bumped on every change so a stale timer cannot hide a newer message
	seq uint64
}

// NewBanner creates a hidden banner
func NewBanner() *Banner {
	return &Banner{}
}

// Show displays text until the next Show, Flash or Hide
func (b *Banner) Show(tone, text string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.stopTimer()
	b.state = BannerState{Visible: true, Tone: tone, Text: text}
	logrus.Infof("[%s] %s", tone, text)
}

// Flash displays text and hides it after d
func (b *Banner) Flash(tone, text string, d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.stopTimer()
	b.state = BannerState{Visible: true, Tone: tone, Text: text}
	seq := b.seq
	b.timer = time.AfterFunc(d, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.seq == seq {
			b.state.Visible = false
		}
	})
	logrus.Infof("[%s] %s", tone, text)
}

// Hide hides the banner
func (b *Banner) Hide() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.stopTimer()
	b.state.Visible = false
}

// State returns a snapshot of the banner
func (b *Banner) State() BannerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Banner) stopTimer() {
	b.seq++
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}
