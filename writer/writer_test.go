package writer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	kafka "github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"

	appconfig "fundingdesk/config"
	"fundingdesk/internal/channel"
	"fundingdesk/models"
	"fundingdesk/realtime"
)

type fakeSource struct {
	hub  *channel.Hub
	mu   sync.Mutex
	snap realtime.Snapshot
}

func newFakeSource() *fakeSource {
	return &fakeSource{hub: channel.NewHub(8)}
}

func (s *fakeSource) Subscribe(name string) *channel.Subscription { return s.hub.Subscribe(name) }

func (s *fakeSource) Snapshot() realtime.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

func (s *fakeSource) update(cat models.Category, fn func(*realtime.Snapshot)) {
	s.mu.Lock()
	fn(&s.snap)
	s.snap.Version++
	v := s.snap.Version
	revisions := map[models.Category]uint64{cat: v}
	for k, r := range s.snap.Revisions {
		if k != cat {
			revisions[k] = r
		}
	}
	s.snap.Revisions = revisions
	s.mu.Unlock()
	s.hub.Publish(channel.Update{Category: cat, Version: v, At: time.Now()})
}

type fakePutter struct {
	mu      sync.Mutex
	err     error
	objects map[string][]byte
	inputs  []*s3.PutObjectInput
}

func (p *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	body, _ := io.ReadAll(in.Body)
	if p.objects == nil {
		p.objects = map[string][]byte{}
	}
	p.objects[aws.ToString(in.Key)] = body
	p.inputs = append(p.inputs, in)
	return &s3.PutObjectOutput{}, nil
}

func (p *fakePutter) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.inputs)
}

func closed(symbol, closedAt string) models.PositionRecord {
	return models.PositionRecord{
		Symbol:      symbol,
		Size:        decimal.RequireFromString("0.5"),
		RealizedPnL: decimal.RequireFromString("12.34"),
		OpenedAt:    "2024-04-30T10:00:00Z",
		ClosedAt:    closedAt,
	}
}

func testArchiver(source SnapshotSource, putter objectPutter) *ClosedPositionArchiver {
	a := newArchiver(appconfig.S3Config{
		Bucket:        "desk-archive",
		Prefix:        "closed_positions",
		Compression:   "snappy",
		FlushInterval: time.Hour,
	}, "1.0.0", source, putter)
	a.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	return a
}

func TestCollectDeduplicates(t *testing.T) {
	a := testArchiver(newFakeSource(), &fakePutter{})

	first := &models.PositionList{Positions: []models.PositionRecord{
		closed("BTCUSDT", "2024-05-01T09:00:00Z"),
		closed("ETHUSDT", "2024-05-01T09:30:00Z"),
	}}
	if n := a.collect(first); n != 2 {
		t.Fatalf("expected 2 new positions, got %d", n)
	}

	second := &models.PositionList{Positions: []models.PositionRecord{
		closed("BTCUSDT", "2024-05-01T09:00:00Z"),
		closed("ETHUSDT", "2024-05-01T09:30:00Z"),
		closed("BTCUSDT", "2024-05-01T11:00:00Z"),
	}}
	if n := a.collect(second); n != 1 {
		t.Fatalf("expected 1 new position, got %d", n)
	}
	if a.pendingCount() != 3 {
		t.Fatalf("expected 3 pending, got %d", a.pendingCount())
	}
	if n := a.collect(nil); n != 0 {
		t.Fatalf("nil list added %d", n)
	}
}

func TestObjectKey(t *testing.T) {
	a := testArchiver(newFakeSource(), &fakePutter{})
	key := a.objectKey(a.now())
	if !strings.HasPrefix(key, "closed_positions/2024/05/01/closed_positions_") || !strings.HasSuffix(key, ".parquet") {
		t.Fatalf("unexpected key %q", key)
	}
	if key == a.objectKey(a.now()) {
		t.Fatalf("keys should be unique per flush")
	}
}

func TestFlushUploadsParquet(t *testing.T) {
	putter := &fakePutter{}
	a := testArchiver(newFakeSource(), putter)
	a.collect(&models.PositionList{Positions: []models.PositionRecord{closed("BTCUSDT", "2024-05-01T09:00:00Z")}})

	a.flush(context.Background(), "test")

	if putter.count() != 1 {
		t.Fatalf("expected one upload, got %d", putter.count())
	}
	in := putter.inputs[0]
	if aws.ToString(in.Bucket) != "desk-archive" {
		t.Fatalf("unexpected bucket %q", aws.ToString(in.Bucket))
	}
	if in.Metadata["fundingdesk-version"] != "1.0.0" {
		t.Fatalf("missing version metadata: %v", in.Metadata)
	}
	body := putter.objects[aws.ToString(in.Key)]
	if len(body) < 8 || !bytes.HasPrefix(body, []byte("PAR1")) || !bytes.HasSuffix(body, []byte("PAR1")) {
		t.Fatalf("upload is not a parquet file (%d bytes)", len(body))
	}
	if a.pendingCount() != 0 {
		t.Fatalf("pending not cleared")
	}

	a.flush(context.Background(), "empty")
	if putter.count() != 1 {
		t.Fatalf("empty flush uploaded")
	}
}

func TestFlushRequeuesOnFailure(t *testing.T) {
	putter := &fakePutter{err: errors.New("access denied")}
	a := testArchiver(newFakeSource(), putter)
	a.collect(&models.PositionList{Positions: []models.PositionRecord{
		closed("BTCUSDT", "2024-05-01T09:00:00Z"),
		closed("SOLUSDT", "2024-05-01T10:00:00Z"),
	}})

	a.flush(context.Background(), "test")
	if a.pendingCount() != 2 {
		t.Fatalf("failed upload should keep records pending, got %d", a.pendingCount())
	}

	putter.mu.Lock()
	putter.err = nil
	putter.mu.Unlock()
	a.flush(context.Background(), "retry")
	if putter.count() != 1 || a.pendingCount() != 0 {
		t.Fatalf("retry did not upload: uploads=%d pending=%d", putter.count(), a.pendingCount())
	}
}

func TestArchiverFollowsUpdates(t *testing.T) {
	source := newFakeSource()
	putter := &fakePutter{}
	a := testArchiver(source, putter)

	ctx, cancel := context.WithCancel(context.Background())
	if err := a.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := a.Start(ctx); err == nil {
		t.Fatalf("second start should fail")
	}

	source.update(models.CategoryClosedPositions, func(s *realtime.Snapshot) {
		s.ClosedPositions = &models.PositionList{Positions: []models.PositionRecord{closed("BTCUSDT", "2024-05-01T09:00:00Z")}}
	})
	deadline := time.Now().Add(2 * time.Second)
	for a.pendingCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	a.Stop()
	if putter.count() != 1 {
		t.Fatalf("expected shutdown flush to upload once, got %d", putter.count())
	}
}

type fakeMessageWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	closed bool
}

func (w *fakeMessageWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeMessageWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *fakeMessageWriter) written() []kafka.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]kafka.Message(nil), w.msgs...)
}

func TestUpdatePublisherWritesEvents(t *testing.T) {
	source := newFakeSource()
	mw := &fakeMessageWriter{}
	p := newUpdatePublisher(source, mw)

	ctx, cancel := context.WithCancel(context.Background())
	if err := p.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	source.update(models.CategoryBalances, func(s *realtime.Snapshot) {
		s.Balances = &models.BalanceSnapshot{Balances: map[string]models.VenueBalance{
			models.VenueBybit: {Total: decimal.NewFromInt(100)},
		}}
	})

	deadline := time.Now().Add(2 * time.Second)
	for len(mw.written()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	p.Stop()

	msgs := mw.written()
	if len(msgs) != 1 {
		t.Fatalf("expected one message, got %d", len(msgs))
	}
	if string(msgs[0].Key) != string(models.CategoryBalances) {
		t.Fatalf("unexpected key %q", msgs[0].Key)
	}
	var event struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(msgs[0].Value, &event); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if event.Type != string(models.TypeAccountBalances) || !bytes.Contains(event.Data, []byte(`"bybit"`)) {
		t.Fatalf("unexpected event %s", msgs[0].Value)
	}
	if !mw.closed {
		t.Fatalf("writer not closed on stop")
	}
}

func TestNewUpdatePublisherRequiresBrokers(t *testing.T) {
	if _, err := NewUpdatePublisher(appconfig.KafkaConfig{Topic: "x"}, newFakeSource()); err == nil {
		t.Fatalf("expected error without brokers")
	}
}

func TestUpdatePublisherSkipsRepeatedSnapshots(t *testing.T) {
	source := newFakeSource()
	mw := &fakeMessageWriter{}
	p := newUpdatePublisher(source, mw)

	ctx, cancel := context.WithCancel(context.Background())
	if err := p.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	source.update(models.CategoryBalances, func(s *realtime.Snapshot) {
		s.Balances = &models.BalanceSnapshot{}
	})
	// a second notification that resolves to the same snapshot
	source.hub.Publish(channel.Update{Category: models.CategoryBalances, Version: 1, At: time.Now()})
	source.update(models.CategoryMarket, func(s *realtime.Snapshot) {
		s.Market = &models.MarketSnapshot{}
	})

	deadline := time.Now().Add(2 * time.Second)
	for len(mw.written()) < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	p.Stop()

	msgs := mw.written()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if string(msgs[0].Key) != string(models.CategoryBalances) || string(msgs[1].Key) != string(models.CategoryMarket) {
		t.Fatalf("unexpected keys %q %q", msgs[0].Key, msgs[1].Key)
	}
}
