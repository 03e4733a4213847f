// Package export flattens converted datasets into long-format Parquet files
// and uploads them to object storage for downstream analytics.
package export

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"math/rand"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/tigerroll/nwpfetch/pkg/nwp/adapter/storage"
	"github.com/tigerroll/nwpfetch/pkg/nwp/core/config"
	"github.com/tigerroll/nwpfetch/pkg/nwp/grid"
	"github.com/tigerroll/nwpfetch/pkg/nwp/support/util/exception"
	"github.com/tigerroll/nwpfetch/pkg/nwp/support/util/logger"
)

const moduleName = "export"

// GridRecord is one grid point value in long format. The schema is inferred
// from the parquet tags.
type GridRecord struct {
	Model     string  `parquet:"name=model, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Date      string  `parquet:"name=date, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Cycle     string  `parquet:"name=cycle, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	ValidTime int64   `parquet:"name=valid_time, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	Variable  string  `parquet:"name=variable, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Latitude  float64 `parquet:"name=latitude, type=DOUBLE"`
	Longitude float64 `parquet:"name=longitude, type=DOUBLE"`
	Value     float64 `parquet:"name=value, type=DOUBLE"`
}

// ParquetExporter buffers records per partition and flushes each partition
// as one Parquet file into storage.
type ParquetExporter struct {
	cfg      config.ExportConfig
	resolver storage.StorageConnectionResolver

	bufferedItems        map[string][]GridRecord
	totalRecordsBuffered int64
}

// NewParquetExporter creates an exporter. The storage connection named in
// the configuration is resolved lazily on flush.
func NewParquetExporter(cfg config.ExportConfig, resolver storage.StorageConnectionResolver) (*ParquetExporter, error) {
	if cfg.StorageRef == "" {
		return nil, exception.NewBatchError(moduleName, "parquet export requires a 'storage_ref' setting", nil, false, false)
	}
	if cfg.OutputBaseDir == "" {
		return nil, exception.NewBatchError(moduleName, "parquet export requires an 'output_base_dir' setting", nil, false, false)
	}
	if cfg.CompressionType == "" {
		cfg.CompressionType = "SNAPPY"
	}
	if _, err := getCompressionCodec(cfg.CompressionType); err != nil {
		return nil, exception.NewBatchError(moduleName,
			fmt.Sprintf("invalid compression type '%s'", cfg.CompressionType), err, false, false)
	}
	return &ParquetExporter{
		cfg:           cfg,
		resolver:      resolver,
		bufferedItems: make(map[string][]GridRecord),
	}, nil
}

// Buffer flattens the dataset into long-format records under the run's
// Hive-style partition (date=yyyymmdd/cycle=cc). NaN grid points are
// dropped. Nothing is written until Flush.
func (e *ParquetExporter) Buffer(ds *grid.Dataset, model, date, cycle string) error {
	if ds.TimeDim == "" || len(ds.Times) == 0 {
		return exception.NewDataShapeError(moduleName, "dataset has no time axis to export", nil)
	}
	lats := ds.Coords["latitude"]
	lons := ds.Coords["longitude"]
	if len(lats) == 0 || len(lons) == 0 {
		return exception.NewDataShapeError(moduleName, "dataset has no spatial coordinates to export", nil)
	}

	partitionKey := fmt.Sprintf("date=%s/cycle=%s", date, cycle)
	added := int64(0)

	for name, v := range ds.Vars {
		times := ds.Times
		data := v.Data
		if !v.HasDim(ds.TimeDim) {
			// Static fields are exported once, stamped with the first step.
			times = ds.Times[:1]
		}
		perStep := len(lats) * len(lons)
		if len(data) != perStep*len(times) {
			logger.Warnf("Skipping export of '%s': unexpected data length %d", name, len(data))
			continue
		}

		for ti, t := range times {
			for li, lat := range lats {
				for gi, lon := range lons {
					value := data[ti*perStep+li*len(lons)+gi]
					if math.IsNaN(value) {
						continue
					}
					e.bufferedItems[partitionKey] = append(e.bufferedItems[partitionKey], GridRecord{
						Model:     model,
						Date:      date,
						Cycle:     cycle,
						ValidTime: t.UnixMilli(),
						Variable:  name,
						Latitude:  lat,
						Longitude: lon,
						Value:     value,
					})
					added++
				}
			}
		}
	}

	e.totalRecordsBuffered += added
	logger.Debugf("Buffered %d export records for partition '%s' (total %d).", added, partitionKey, e.totalRecordsBuffered)
	return nil
}

// Flush writes each buffered partition as one Parquet file and uploads it.
// A failing partition is recorded and the remaining partitions still flush.
func (e *ParquetExporter) Flush(ctx context.Context) error {
	if e.totalRecordsBuffered == 0 {
		logger.Infof("Parquet export: no records buffered, skipping file generation.")
		return nil
	}

	conn, err := e.resolver.ResolveStorageConnection(ctx, e.cfg.StorageRef)
	if err != nil {
		return exception.NewBatchError(moduleName,
			fmt.Sprintf("failed to resolve storage connection '%s'", e.cfg.StorageRef), err, false, false)
	}

	compressionCodec, err := getCompressionCodec(e.cfg.CompressionType)
	if err != nil {
		return exception.NewBatchError(moduleName,
			fmt.Sprintf("invalid compression type '%s'", e.cfg.CompressionType), err, false, false)
	}

	var multiErr error

outerLoop:
	for partitionKey, items := range e.bufferedItems {
		logger.Debugf("Parquet export: processing partition '%s' with %d records.", partitionKey, len(items))

		buf := new(bytes.Buffer)
		// One row group per file: the row group size is the record count.
		pw, err := writer.NewParquetWriterFromWriter(buf, new(GridRecord), int64(len(items)))
		if err != nil {
			multiErr = multierror.Append(multiErr, exception.NewBatchError(moduleName,
				fmt.Sprintf("failed to create parquet writer for partition '%s'", partitionKey), err, false, false))
			continue outerLoop
		}
		pw.CompressionType = compressionCodec

		for _, item := range items {
			if err := pw.Write(item); err != nil {
				multiErr = multierror.Append(multiErr, exception.NewBatchError(moduleName,
					fmt.Sprintf("failed to write record to partition '%s'", partitionKey), err, false, false))
				continue outerLoop
			}
		}

		// WriteStop can panic inside the library; convert that to an error.
		func() {
			defer func() {
				if r := recover(); r != nil {
					err := fmt.Errorf("parquet writer panicked during WriteStop for partition '%s': %v", partitionKey, r)
					multiErr = multierror.Append(multiErr, exception.NewBatchError(moduleName, err.Error(), err, false, false))
					logger.Errorf("Parquet export: recovered from panic during WriteStop: %v", r)
				}
			}()
			if err := pw.WriteStop(); err != nil {
				multiErr = multierror.Append(multiErr, exception.NewBatchError(moduleName,
					fmt.Sprintf("failed to finalize parquet file for partition '%s'", partitionKey), err, false, false))
			}
		}()

		fileName := fmt.Sprintf("data_%s_%s.parquet", time.Now().Format("20060102150405"), generateRandomString(8))
		objectName := filepath.Join(e.cfg.OutputBaseDir, partitionKey, fileName)

		logger.Debugf("Parquet export: uploading %d bytes to '%s'.", buf.Len(), objectName)
		if err := conn.Upload(ctx, "", objectName, buf, "application/octet-stream"); err != nil {
			multiErr = multierror.Append(multiErr, exception.NewBatchError(moduleName,
				fmt.Sprintf("failed to upload parquet file for partition '%s' to '%s'", partitionKey, objectName), err, false, false))
		} else {
			logger.Infof("Parquet export: uploaded partition '%s' to '%s'.", partitionKey, objectName)
		}
	}

	e.bufferedItems = make(map[string][]GridRecord)
	e.totalRecordsBuffered = 0
	return multiErr
}

// getCompressionCodec returns the Parquet compression codec from a string.
func getCompressionCodec(compressionType string) (parquet.CompressionCodec, error) {
	switch strings.ToUpper(compressionType) {
	case "SNAPPY":
		return parquet.CompressionCodec_SNAPPY, nil
	case "GZIP":
		return parquet.CompressionCodec_GZIP, nil
	case "NONE", "":
		return parquet.CompressionCodec_UNCOMPRESSED, nil
	default:
		return 0, fmt.Errorf("unsupported compression type: %s", compressionType)
	}
}

// generateRandomString generates a random string of the specified length.
// Used to enhance filename uniqueness.
func generateRandomString(length int) string {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	seededRand := rand.New(rand.NewSource(time.Now().UnixNano()))
	b := make([]byte, length)
	for i := range b {
		b[i] = charset[seededRand.Intn(len(charset))]
	}
	return string(b)
}
