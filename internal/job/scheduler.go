package job

import (
	"context"
	"fmt"
	"sync"

	"github.com/moegi-dl/moegi/internal/output"
	"github.com/moegi-dl/moegi/internal/utils"
)

// RunAll processes episode jobs over a bounded worker pool, rendering
// progress through the display. It returns an error when any job failed;
// skipped jobs do not count as failures.
func RunAll(ctx context.Context, jobs []*Job, numParallel int) error {
	if numParallel <= 0 {
		numParallel = 1
	}
	log := utils.GetLogger("scheduler")

	display := output.NewDisplay()
	display.Start()
	defer display.Stop()

	for _, j := range jobs {
		name := j.Episode.Filename
		display.Register(name)
		j.OnPhase = func(s State) {
			display.SetPhase(name, string(s))
		}
		j.OnProgress = func(downloaded, total int64) {
			display.SetProgress(name, downloaded, total)
		}
	}

	jobCh := make(chan *Job, len(jobs))
	for _, j := range jobs {
		jobCh <- j
	}
	close(jobCh)

	var wg sync.WaitGroup
	var mutex sync.Mutex
	failures := 0
	for i := 0; i < numParallel; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobCh {
				name := j.Episode.Filename
				state, err := j.Run(ctx)
				switch state {
				case StateDone:
					display.Complete(name, "Completed")
				case StateSkipped:
					display.Complete(name, "Already exists, skipped")
				default:
					display.Fail(name, err)
					log.Error().Str("episode", name).Err(err).Msg("Job failed")
					mutex.Lock()
					failures++
					mutex.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	if failures > 0 {
		return fmt.Errorf("%d of %d jobs failed", failures, len(jobs))
	}
	return nil
}
