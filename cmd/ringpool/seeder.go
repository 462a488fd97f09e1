package main

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"ringpool"
)

// seeder runs one statement repeatedly; several seeders share a pool to
// exercise it under contention.
type seeder struct {
	log      *logrus.Logger
	affected int64
}

func (seeder *seeder) Seed(ctx context.Context, helper *ringpool.Helper, statement string, repeat int, group *sync.WaitGroup) {
	defer group.Done()
	for i := 0; i < repeat; i++ {
		n, err := helper.Execute(ctx, statement)
		if err != nil {
			seeder.log.WithError(err).Error("statement failed")
			return
		}
		atomic.AddInt64(&seeder.affected, n)
	}
}

func (seeder *seeder) Affected() int64 {
	return atomic.LoadInt64(&seeder.affected)
}
