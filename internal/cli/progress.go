package cli

import (
	"fmt"
	"io"
	"sync"

	"taskq/internal/config"
	"taskq/pkg/eventbus"
	"taskq/pkg/taskq"
)

// printProgress prints one line per task transition. Task ids of a fresh
// queue follow submission order, so id i is jobs[i]. The returned func
// unsubscribes and waits for the printer to drain.
func printProgress(w io.Writer, bus eventbus.Bus, jobs []config.JobConfig) func() {
	ch, unsub := bus.Subscribe(4*len(jobs)+8, "task.")
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for ev := range ch {
			te, ok := ev.Data.(taskq.TaskEvent)
			if !ok {
				continue
			}
			name := fmt.Sprintf("#%d", te.ID)
			if int(te.ID) < len(jobs) {
				name = jobs[te.ID].Name
			}
			switch ev.Type {
			case taskq.EventTaskActive:
				fmt.Fprintf(w, "~ %s started\n", name)
			case taskq.EventTaskCompleted:
				fmt.Fprintf(w, "+ %s done (%s)\n", name, round(te.Duration))
			case taskq.EventTaskFailed:
				fmt.Fprintf(w, "! %s failed (%s): %s\n", name, round(te.Duration), te.Error)
			}
		}
	}()
	return func() {
		unsub()
		wg.Wait()
	}
}
