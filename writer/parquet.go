package writer

import (
	"bytes"
	"fmt"
	"time"

	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	pqwriter "github.com/xitongsys/parquet-go/writer"

	"fundingdesk/models"
)

// closedPositionRecord is the parquet schema of the closed position archive.
type closedPositionRecord struct {
	Symbol                string  `parquet:"name=symbol, type=BYTE_ARRAY, convertedtype=UTF8"`
	Size                  float64 `parquet:"name=size, type=DOUBLE"`
	EntryPriceBybit       float64 `parquet:"name=entry_price_bybit, type=DOUBLE"`
	EntryPriceHyperliquid float64 `parquet:"name=entry_price_hyperliquid, type=DOUBLE"`
	ExitPriceBybit        float64 `parquet:"name=exit_price_bybit, type=DOUBLE"`
	ExitPriceHyperliquid  float64 `parquet:"name=exit_price_hyperliquid, type=DOUBLE"`
	RealizedPnL           float64 `parquet:"name=realized_pnl, type=DOUBLE"`
	Fees                  float64 `parquet:"name=fees, type=DOUBLE"`
	FundingCollected      float64 `parquet:"name=funding_collected, type=DOUBLE"`
	Leverage              float64 `parquet:"name=leverage, type=DOUBLE"`
	OpenedAt              string  `parquet:"name=opened_at, type=BYTE_ARRAY, convertedtype=UTF8"`
	ClosedAt              string  `parquet:"name=closed_at, type=BYTE_ARRAY, convertedtype=UTF8"`
	ArchivedAt            int64   `parquet:"name=archived_at, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
}

func toParquetRecord(p models.PositionRecord, archivedAt time.Time) closedPositionRecord {
	return closedPositionRecord{
		Symbol:                p.Symbol,
		Size:                  p.Size.InexactFloat64(),
		EntryPriceBybit:       p.EntryPriceBybit.InexactFloat64(),
		EntryPriceHyperliquid: p.EntryPriceHyperliquid.InexactFloat64(),
		ExitPriceBybit:        p.ExitPriceBybit.InexactFloat64(),
		ExitPriceHyperliquid:  p.ExitPriceHyperliquid.InexactFloat64(),
		RealizedPnL:           p.RealizedPnL.InexactFloat64(),
		Fees:                  p.Fees.InexactFloat64(),
		FundingCollected:      p.FundingCollected.InexactFloat64(),
		Leverage:              p.Leverage.InexactFloat64(),
		OpenedAt:              p.OpenedAt,
		ClosedAt:              p.ClosedAt,
		ArchivedAt:            archivedAt.UnixMilli(),
	}
}

// memoryFile is a write-only source.ParquetFile backed by a buffer.
type memoryFile struct {
	buffer *bytes.Buffer
}

func newMemoryFile() *memoryFile {
	return &memoryFile{buffer: &bytes.Buffer{}}
}

func (m *memoryFile) Create(string) (source.ParquetFile, error) { return m, nil }
func (m *memoryFile) Open(string) (source.ParquetFile, error)   { return m, nil }
func (m *memoryFile) Seek(int64, int) (int64, error)            { return int64(m.buffer.Len()), nil }
func (m *memoryFile) Read(b []byte) (int, error)                { return m.buffer.Read(b) }
func (m *memoryFile) Write(b []byte) (int, error)               { return m.buffer.Write(b) }
func (m *memoryFile) Close() error                              { return nil }
func (m *memoryFile) Bytes() []byte                             { return m.buffer.Bytes() }

func compressionCodec(name string) parquet.CompressionCodec {
	switch name {
	case "snappy":
		return parquet.CompressionCodec_SNAPPY
	case "gzip":
		return parquet.CompressionCodec_GZIP
	case "zstd":
		return parquet.CompressionCodec_ZSTD
	default:
		return parquet.CompressionCodec_UNCOMPRESSED
	}
}

// encodeClosedPositions renders positions as a parquet file in memory.
func encodeClosedPositions(positions []models.PositionRecord, compression string, archivedAt time.Time) ([]byte, error) {
	fw := newMemoryFile()
	pw, err := pqwriter.NewParquetWriter(fw, new(closedPositionRecord), 1)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet writer: %w", err)
	}
	pw.CompressionType = compressionCodec(compression)

	for _, p := range positions {
		if err := pw.Write(toParquetRecord(p, archivedAt)); err != nil {
			pw.WriteStop()
			return nil, fmt.Errorf("failed to write parquet record: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("failed to finalize parquet writing: %w", err)
	}
	return fw.Bytes(), nil
}
