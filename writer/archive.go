package writer

import (
	"context"
	"fmt"
	"path"
	"sync"
	"time"

	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/google/uuid"

	appconfig "fundingdesk/config"
	"fundingdesk/internal/channel"
	"fundingdesk/logger"
	"fundingdesk/models"
	"fundingdesk/realtime"
)

// SnapshotSource is the realtime client as seen by the writers.
type SnapshotSource interface {
	Subscribe(name string) *channel.Subscription
	Snapshot() realtime.Snapshot
}

// ClosedPositionArchiver batches newly closed positions and uploads them to
// S3 as parquet every flush interval.
type ClosedPositionArchiver struct {
	cfg     appconfig.S3Config
	version string
	source  SnapshotSource
	client  objectPutter
	log     *logger.Log
	now     func() time.Time

	mu      sync.Mutex
	seen    map[string]struct{}
	pending []models.PositionRecord
	running bool
	wg      sync.WaitGroup
}

func NewClosedPositionArchiver(ctx context.Context, cfg *appconfig.Config, source SnapshotSource) (*ClosedPositionArchiver, error) {
	client, err := newS3Client(ctx, cfg.Storage.S3)
	if err != nil {
		logger.GetLogger().WithComponent("archiver").WithError(err).Warn("failed to create S3 client")
		return nil, err
	}
	a := newArchiver(cfg.Storage.S3, cfg.FundingDesk.Version, source, client)

	a.log.WithComponent("archiver").WithFields(logger.Fields{
		"bucket":         cfg.Storage.S3.Bucket,
		"region":         cfg.Storage.S3.Region,
		"endpoint":       cfg.Storage.S3.Endpoint,
		"path_style":     cfg.Storage.S3.PathStyle,
		"flush_interval": cfg.Storage.S3.FlushInterval.String(),
	}).Info("closed position archiver initialized")
	return a, nil
}

func newArchiver(cfg appconfig.S3Config, version string, source SnapshotSource, client objectPutter) *ClosedPositionArchiver {
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Minute
	}
	return &ClosedPositionArchiver{
		cfg:     cfg,
		version: version,
		source:  source,
		client:  client,
		log:     logger.GetLogger(),
		now:     time.Now,
		seen:    make(map[string]struct{}),
	}
}

func (a *ClosedPositionArchiver) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("archiver already running")
	}
	a.running = true
	a.mu.Unlock()

	sub := a.source.Subscribe("archiver")
	a.collect(a.source.Snapshot().ClosedPositions)

	a.wg.Add(1)
	go a.run(ctx, sub)
	return nil
}

// Stop waits for the final flush after ctx is cancelled.
func (a *ClosedPositionArchiver) Stop() {
	a.wg.Wait()
	a.log.WithComponent("archiver").Info("closed position archiver stopped")
}

func (a *ClosedPositionArchiver) run(ctx context.Context, sub *channel.Subscription) {
	defer a.wg.Done()
	defer sub.Unsubscribe()

	ticker := time.NewTicker(a.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.flush(context.WithoutCancel(ctx), "shutdown")
			return
		case u, ok := <-sub.C():
			if !ok {
				a.flush(context.WithoutCancel(ctx), "source closed")
				return
			}
			if u.Category == models.CategoryClosedPositions {
				a.collect(a.source.Snapshot().ClosedPositions)
			}
		case <-ticker.C:
			a.flush(ctx, "interval")
		}
	}
}

func positionKey(p models.PositionRecord) string {
	closed := p.ClosedAt
	if closed == "" {
		closed = p.OpenedAt
	}
	return p.Symbol + "|" + closed
}

// collect queues the positions that were not archived or queued before.
func (a *ClosedPositionArchiver) collect(list *models.PositionList) int {
	if list == nil {
		return 0
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	added := 0
	for _, p := range list.Positions {
		key := positionKey(p)
		if _, ok := a.seen[key]; ok {
			continue
		}
		a.seen[key] = struct{}{}
		a.pending = append(a.pending, p)
		added++
	}
	if added > 0 {
		a.log.WithComponent("archiver").WithFields(logger.Fields{
			"added":   added,
			"pending": len(a.pending),
		}).Debug("queued closed positions")
	}
	return added
}

func (a *ClosedPositionArchiver) flush(ctx context.Context, reason string) {
	a.mu.Lock()
	batch := a.pending
	a.pending = nil
	a.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	at := a.now().UTC()
	key := a.objectKey(at)
	log := a.log.WithComponent("archiver").WithFields(logger.Fields{
		"reason":  reason,
		"records": len(batch),
		"s3_key":  key,
	})

	start := time.Now()
	data, err := encodeClosedPositions(batch, a.cfg.Compression, at)
	if err == nil {
		err = putParquet(ctx, a.client, a.cfg.Bucket, key, a.cfg.Compression, a.version, data)
	}
	if err != nil {
		log.WithError(err).WithEnv("S3_BUCKET").Error("failed to archive closed positions")
		a.mu.Lock()
		a.pending = append(batch, a.pending...)
		a.mu.Unlock()
		return
	}

	logger.IncrementArchived(len(batch))
	logger.LogPerformanceEntry(log, "archiver", "flush", time.Since(start), logger.Fields{"file_size": len(data)})
	log.Metric("Desk-ArchiveBatchRecords", float64(len(batch)), cwtypes.StandardUnitCount, logger.Fields{"Reason": reason})
	log.Metric("Desk-ArchiveBatchBytes", float64(len(data)), cwtypes.StandardUnitBytes, nil)
	log.Info("closed positions archived")
}

// objectKey is <prefix>/{year}/{month}/{day}/closed_positions_<uuid>.parquet.
func (a *ClosedPositionArchiver) objectKey(at time.Time) string {
	return path.Join(
		a.cfg.Prefix,
		fmt.Sprintf("%04d", at.Year()),
		fmt.Sprintf("%02d", at.Month()),
		fmt.Sprintf("%02d", at.Day()),
		fmt.Sprintf("closed_positions_%s.parquet", uuid.New().String()),
	)
}

func (a *ClosedPositionArchiver) pendingCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}
