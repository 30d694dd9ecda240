package common

import (
	"context"
	"log"
	"sync"
	"time"
)

const syncInterval = 30 * time.Minute

// TimeSync tracks the clock offset against the exchange so signed request
// timestamps stay inside the server's recv window even on a drifting host.
type TimeSync struct {
	serverTime func() (int64, error)

	mu       sync.RWMutex
	offset   int64 // ms, server minus local
	lastSync time.Time
}

// NewTimeSync creates a sync tracker over a server-time probe. The offset
// is zero until the first Sync.
func NewTimeSync(serverTime func() (int64, error)) *TimeSync {
	return &TimeSync{serverTime: serverTime}
}

// Start performs an initial sync and keeps resyncing every half hour until
// ctx is cancelled.
func (ts *TimeSync) Start(ctx context.Context) {
	if err := ts.Sync(ctx); err != nil {
		log.Printf("initial time sync failed: %v", err)
	}
	go func() {
		ticker := time.NewTicker(syncInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := ts.Sync(ctx); err != nil {
					log.Printf("time sync failed: %v", err)
				}
			}
		}
	}()
}

// Sync measures the offset once, splitting the round trip evenly between
// the two directions.
func (ts *TimeSync) Sync(ctx context.Context) error {
	before := time.Now().UnixMilli()
	server, err := ts.serverTime()
	if err != nil {
		return err
	}
	after := time.Now().UnixMilli()
	local := before + (after-before)/2

	ts.mu.Lock()
	ts.offset = server - local
	ts.lastSync = time.Now()
	offset := ts.offset
	ts.mu.Unlock()

	log.Printf("time sync: offset=%dms", offset)
	return nil
}

// Now returns the current time in ms adjusted by the measured offset.
func (ts *TimeSync) Now() int64 {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return time.Now().UnixMilli() + ts.offset
}

// Offset returns the measured offset in ms, zero before the first sync.
func (ts *TimeSync) Offset() int64 {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.offset
}
