package curator

import (
	"context"
	"sync"

	"gitlab.com/tozd/go/errors"

	"gitlab.com/daxserver/curator/internal/worker"
)

// runWorkerPool starts concurrency driver loops per configured site against
// that site's shared job queue. Per §5's "two schedulers run in one
// process", this runs inside the same process as the HTTP server — each
// site's driver shares that site's Hub, so every status transition C5 makes
// is announced to C6 without crossing a process boundary. It blocks until
// every driver has exited; a driver that fails does not stop the others, and
// the first collected driver error is returned.
func runWorkerPool(ctx context.Context, globals *Globals, concurrency int) errors.E {
	if concurrency < 1 {
		concurrency = 1
	}

	var wg sync.WaitGroup
	errs := make(chan errors.E, concurrency*len(globals.Sites))

	for i := range globals.Sites {
		site := &globals.Sites[i]
		for range concurrency {
			wg.Add(1)
			go func() {
				defer wg.Done()
				driver := worker.NewDriver(site.DBPool, site.Store, site.Worker, site.Hub, globals.Logger)
				if errE := driver.Run(ctx); errE != nil {
					errs <- errE
				}
			}()
		}
	}

	wg.Wait()
	close(errs)

	for errE := range errs {
		if errE != nil {
			return errE
		}
	}
	return nil
}
