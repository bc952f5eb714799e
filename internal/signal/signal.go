package signal

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
)

// WatchInterrupt cancels the returned context on SIGINT/SIGTERM. If the
// process has not exited on its own after grace, it is terminated; an
// in-flight provisioning pipeline cannot be aborted mid-step, so the grace
// period is its chance to reach a persistable state.
func WatchInterrupt(ctx context.Context, grace time.Duration) context.Context {
	ctx, cancel := context.WithCancel(ctx)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigs
		log.Warnf("interrupt received, shutting down (forced exit in %s)", grace)
		cancel()

		time.Sleep(grace)
		log.Warn("shutdown grace period expired, exiting")
		os.Exit(1)
	}()

	return ctx
}
