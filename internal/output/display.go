package output

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/term"

	"github.com/moegi-dl/moegi/internal/utils"
)

type entry struct {
	name       string
	phase      string
	total      int64
	downloaded int64
	message    string
	failure    string
	done       bool
	startTime  time.Time
	lastBytes  int64
	lastTime   time.Time
	speed      float64
}

// Display renders per-episode progress lines on a fixed tick, redrawing in
// place. Jobs push state through the setters; the render loop never blocks
// a download worker.
type Display struct {
	entries  map[string]*entry
	order    []string
	mutex    sync.RWMutex
	doneCh   chan struct{}
	wg       sync.WaitGroup
	numLines int
	tick     time.Duration
}

func NewDisplay() *Display {
	return &Display{
		entries: make(map[string]*entry),
		doneCh:  make(chan struct{}),
		tick:    300 * time.Millisecond,
	}
}

func (d *Display) Register(name string) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if _, exists := d.entries[name]; exists {
		return
	}
	d.entries[name] = &entry{name: name, phase: "pending", startTime: time.Now(), lastTime: time.Now()}
	d.order = append(d.order, name)
}

func (d *Display) SetPhase(name, phase string) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if e, exists := d.entries[name]; exists {
		e.phase = phase
	}
}

func (d *Display) SetProgress(name string, downloaded, total int64) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if e, exists := d.entries[name]; exists {
		e.downloaded = downloaded
		e.total = total
	}
}

func (d *Display) Complete(name, message string) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if e, exists := d.entries[name]; exists {
		e.done = true
		e.phase = "done"
		e.message = message
	}
}

func (d *Display) Fail(name string, err error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if e, exists := d.entries[name]; exists {
		e.done = true
		e.phase = "failed"
		e.failure = fmt.Sprintf("Error: %v", err)
	}
}

func (d *Display) Start() {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ticker := time.NewTicker(d.tick)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				d.render()
			case <-d.doneCh:
				d.render()
				return
			}
		}
	}()
}

func (d *Display) Stop() {
	close(d.doneCh)
	d.wg.Wait()
}

func (d *Display) render() {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if d.numLines != 0 {
		fmt.Printf("\033[%dA\033[J", d.numLines)
	}
	names := make([]string, len(d.order))
	copy(names, d.order)
	sort.SliceStable(names, func(i, j int) bool {
		return d.entries[names[i]].done && !d.entries[names[j]].done
	})
	for _, name := range names {
		fmt.Println(d.renderLine(d.entries[name]))
	}
	d.numLines = len(names)
}

func (d *Display) renderLine(e *entry) string {
	name := e.name
	if len(name) > 30 {
		name = "..." + name[len(name)-27:]
	}
	switch {
	case e.failure != "":
		return errorStyle.Render(fmt.Sprintf("%s %s: %s", StyleSymbols["fail"], name, e.failure))
	case e.done:
		return successStyle.Render(fmt.Sprintf("%s %s: %s", StyleSymbols["pass"], name, e.message))
	case e.phase == "downloading":
		now := time.Now()
		if diff := now.Sub(e.lastTime).Seconds(); diff > 0.5 {
			e.speed = float64(e.downloaded-e.lastBytes) / diff
			e.lastBytes = e.downloaded
			e.lastTime = now
		}
		if e.total > 0 {
			percent := float64(e.downloaded) / float64(e.total)
			return pendingStyle.Render(fmt.Sprintf("%s %s: %s %.1f%% %s/%s %s",
				StyleSymbols["pending"], name, progressBar(percent, barWidth()), percent*100,
				utils.FormatBytes(uint64(e.downloaded)), utils.FormatBytes(uint64(e.total)),
				utils.FormatSpeed(int64(e.speed), 1)))
		}
		return pendingStyle.Render(fmt.Sprintf("%s %s: %s %s",
			StyleSymbols["pending"], name, utils.FormatBytes(uint64(e.downloaded)),
			utils.FormatSpeed(int64(e.speed), 1)))
	default:
		msg := e.message
		if msg == "" {
			msg = e.phase
		}
		return detailStyle.Render(fmt.Sprintf("%s %s: %s", StyleSymbols["bullet"], name, msg))
	}
}

func progressBar(percent float64, width int) string {
	if percent < 0 {
		percent = 0
	}
	if percent > 1 {
		percent = 1
	}
	filled := int(percent * float64(width))
	bar := "[" + strings.Repeat(StyleSymbols["hline"], filled)
	if filled < width {
		bar += ">" + strings.Repeat(" ", width-filled-1)
	}
	return bar + "]"
}

func barWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width <= 0 {
		width = 80
	}
	if width < 70 {
		return 10
	}
	return 30
}
