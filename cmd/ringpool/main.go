// ringpool runs statements against a database from a registry config file
// through a ring connection pool and prints the pool statistics.
//
// Usage:
//
//	ringpool [flags]
//
// Flags:
//
//	--config string   registry config file (default "db.config")
//	--db string       database entry to use (default "default")
//	--query string    query whose rows are printed
//	--exec string     statement run --repeat times by --workers goroutines
//	--workers int     concurrent workers for --exec (default 4)
//	--repeat int      executions per worker (default 10)
//	--timeout         overall deadline (default 1m)
//	--log-level       trace, debug, info, warn or error (default "warn")
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"

	"ringpool"
)

func main() {
	os.Exit(run())
}

// run does the work of main and returns the process exit code, so that every
// deferred close runs before the process exits.
func run() int {
	configPath := flag.String("config", "db.config", "registry config file")
	dbName := flag.String("db", ringpool.DefaultName, "database entry to use")
	query := flag.String("query", "", "query whose rows are printed")
	statement := flag.String("exec", "", "statement run --repeat times by --workers goroutines")
	workers := flag.Int("workers", 4, "concurrent workers for --exec")
	repeat := flag.Int("repeat", 10, "executions per worker")
	timeout := flag.Duration("timeout", time.Minute, "overall deadline")
	logLevel := flag.String("log-level", "warn", "trace, debug, info, warn or error")
	flag.Parse()

	log := logrus.New()
	if err := ringpool.SetLogLevel(*logLevel); err != nil {
		log.Error(err)
		return 2
	}
	log.SetLevel(ringpool.Logger().GetLevel())

	if *query == "" && *statement == "" {
		fmt.Fprintln(os.Stderr, "nothing to do: pass --query or --exec")
		flag.Usage()
		return 2
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry, err := ringpool.OpenRegistry(*configPath)
	if err != nil {
		log.Error(err)
		return 1
	}
	defer registry.Close()

	helper, err := registry.Helper(ctx, *dbName)
	if err != nil {
		log.WithError(err).Error("unable to open pool")
		return 1
	}

	code := 0
	if *statement != "" {
		seeder := seeder{log: log}
		var wg sync.WaitGroup
		for i := 0; i < *workers; i++ {
			wg.Add(1)
			go seeder.Seed(ctx, helper, *statement, *repeat, &wg)
		}
		wg.Wait()
		log.WithField("rows", seeder.Affected()).Info("statements done")
	}

	if *query != "" {
		reader := reader{out: os.Stdout}
		if err := reader.Read(ctx, helper, *query); err != nil {
			log.WithError(err).Error("query failed")
			code = 1
		}
	}

	stats := helper.Pool().Stats()
	fmt.Printf("size=%d in_use=%d idle=%d standalone=%d waits=%d wait_time=%v recycled=%d\n",
		stats.Size, stats.InUse, stats.Idle, stats.Standalone,
		stats.WaitCount, stats.WaitDuration, stats.Recycled)
	return code
}
