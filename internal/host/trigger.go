package host

import (
	"context"
	"errors"
	"io/fs"
	"os"

	"github.com/examalpha/examshell/internal/log"
	"github.com/examalpha/examshell/internal/protocol"
)

// TriggerSource signals when the exit trigger file appears.
// *watcher.Watcher satisfies it.
type TriggerSource interface {
	Start() (<-chan struct{}, error)
	Path() string
}

// WatchTrigger publishes start::exit each time the trigger file appears and
// removes the file. It returns when ctx ends or the source closes.
func WatchTrigger(ctx context.Context, src TriggerSource, events Publisher) error {
	signals, err := src.Start()
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-signals:
			if !ok {
				return nil
			}
			if err := os.Remove(src.Path()); err != nil && !errors.Is(err, fs.ErrNotExist) {
				log.ErrorErr(log.CatHost, "Failed to remove trigger file", err, "path", src.Path())
			}
			if _, err := events.Publish(protocol.EventStartExit, nil); err != nil {
				log.ErrorErr(log.CatHost, "Failed to publish exit request", err)
				continue
			}
			log.Info(log.CatHost, "Exit requested via trigger file", "path", src.Path())
		}
	}
}
