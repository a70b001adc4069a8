package influx

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxdb2_api "github.com/influxdata/influxdb-client-go/v2/api"
	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/influxdata/influxdb-client-go/v2/domain"
	"github.com/resourceflow/flowsim/internal/config"
	"github.com/resourceflow/flowsim/pkg/core"
	"github.com/rs/zerolog"
)

// Bucket names written by the recorder and the monitor.
const (
	BucketState       = "flow_state"
	BucketPerformance = "flow_performance"
)

// DefaultBucketNames are the buckets created on connect.
var DefaultBucketNames = []string{BucketState, BucketPerformance}

// ErrDisabled is returned by Connect when influx is switched off.
var ErrDisabled = errors.New("influx.enabled is false")

// Manager handles InfluxDB connections and writes. When the server cannot
// be reached points go to a gzipped line protocol backup file instead.
type Manager struct {
	Client       influxdb2.Client
	Writers      map[string]influxdb2_api.WriteAPI
	BackupWriter *gzip.Writer
	IsValid      bool
	BucketNames  []string
	Logger       zerolog.Logger
	BackupPath   string

	mu         sync.Mutex
	backupFile *os.File
	org        string
}

// NewManager creates a new InfluxDB manager.
func NewManager(log zerolog.Logger, backupPath string) *Manager {
	return &Manager{
		Writers:     make(map[string]influxdb2_api.WriteAPI),
		BucketNames: DefaultBucketNames,
		Logger:      log,
		BackupPath:  backupPath,
	}
}

// Connect establishes a connection to InfluxDB.
func (m *Manager) Connect(ctx context.Context, cfg config.InfluxConfig) error {
	if !cfg.Enabled {
		return ErrDisabled
	}
	m.org = cfg.Org

	m.Client = influxdb2.NewClientWithOptions(
		cfg.URL(),
		cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(2500).
			SetFlushInterval(1000),
	)

	// validate client connection health
	running, err := m.Client.Ping(ctx)
	if err != nil || !running {
		m.IsValid = false
		if err := m.openBackup(); err != nil {
			return err
		}
		m.Logger.Warn().Err(err).Str("backupPath", m.BackupPath).
			Msg("InfluxDB client failed to initialize, using backup writer")
		return nil
	}

	m.IsValid = true
	if err := m.setupOrganizationAndBuckets(ctx); err != nil {
		return err
	}
	m.CreateWriters()
	m.Logger.Info().Msg("InfluxDB client initialized")
	return nil
}

func (m *Manager) openBackup() error {
	if m.BackupWriter != nil {
		return nil
	}
	file, err := os.OpenFile(m.BackupPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("error creating backup file: %w", err)
	}
	m.backupFile = file
	m.BackupWriter = gzip.NewWriter(file)
	return nil
}

func (m *Manager) setupOrganizationAndBuckets(ctx context.Context) error {
	orgs := m.Client.OrganizationsAPI()

	influxOrg, err := orgs.FindOrganizationByName(ctx, m.org)
	if err != nil {
		m.Logger.Info().Str("org", m.org).Msg("Organization not found, creating")
		influxOrg, err = orgs.CreateOrganizationWithName(ctx, m.org)
		if err != nil {
			m.Logger.Error().Err(err).Str("org", m.org).Msg("Error creating organization")
			return err
		}
	}

	// ensure buckets exist with 30 day retention
	for _, bucket := range m.BucketNames {
		if _, err := m.Client.BucketsAPI().FindBucketByName(ctx, bucket); err == nil {
			continue
		}
		m.Logger.Info().Str("bucket", bucket).Msg("Bucket not found, creating")

		rule := domain.RetentionRuleTypeExpire
		_, err = m.Client.BucketsAPI().CreateBucketWithName(ctx, influxOrg, bucket, domain.RetentionRule{
			Type:         &rule,
			EverySeconds: 60 * 60 * 24 * 30,
		})
		if err != nil {
			m.Logger.Error().Err(err).Str("bucket", bucket).Msg("Error creating bucket")
			return err
		}
	}

	return nil
}

// CreateWriters creates write APIs for all configured buckets.
func (m *Manager) CreateWriters() {
	for _, bucket := range m.BucketNames {
		m.Writers[bucket] = m.Client.WriteAPI(m.org, bucket)

		errorsCh := m.Writers[bucket].Errors()
		go func(bucketName string, errorsCh <-chan error) {
			for writeErr := range errorsCh {
				m.Logger.Error().Err(writeErr).Str("bucket", bucketName).
					Msg("Error sending data to InfluxDB")
			}
		}(bucket, errorsCh)
	}

	m.Logger.Debug().Msg("InfluxDB writers initialized")
}

// WritePoint writes a point to InfluxDB or backup file.
func (m *Manager) WritePoint(bucket string, point *influxdb2_write.Point) error {
	if m.IsValid {
		w, ok := m.Writers[bucket]
		if !ok {
			return fmt.Errorf("influxDB bucket '%s' not registered", bucket)
		}
		w.WritePoint(point)
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.BackupWriter == nil {
		return fmt.Errorf("influxDB client not initialized and backup writer not available")
	}
	lineProtocol := influxdb2_write.PointToLineProtocol(point, time.Nanosecond)
	if _, err := m.BackupWriter.Write([]byte(lineProtocol + "\n")); err != nil {
		return fmt.Errorf("error writing to InfluxDB backup file: %w", err)
	}
	return nil
}

// Close flushes pending points and releases the client or backup file.
func (m *Manager) Close() error {
	for _, w := range m.Writers {
		w.Flush()
	}
	if m.Client != nil {
		m.Client.Close()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	var errs []error
	if m.BackupWriter != nil {
		errs = append(errs, m.BackupWriter.Close())
		m.BackupWriter = nil
	}
	if m.backupFile != nil {
		errs = append(errs, m.backupFile.Close())
		m.backupFile = nil
	}
	return errors.Join(errs...)
}

// TankPoint builds the state point for one tank sample. Each substance gets
// a mass_<id> field.
func TankPoint(s core.TankState, ts time.Time) *influxdb2_write.Point {
	p := influxdb2_write.NewPointWithMeasurement("tank").
		AddTag("vessel", s.Vessel).
		AddTag("tank", s.Tank).
		AddField("tick", s.Tick).
		AddField("pressure", s.Pressure).
		AddField("mass", s.Mass).
		AddField("fill", s.Fill).
		SetTime(ts)
	for _, c := range s.Contents {
		p.AddField("mass_"+c.Substance, c.Mass)
	}
	return p.SortTags()
}

// PipePoint builds the state point for one pipe flow.
func PipePoint(f core.PipeFlow, ts time.Time) *influxdb2_write.Point {
	return influxdb2_write.NewPointWithMeasurement("pipe").
		AddTag("vessel", f.Vessel).
		AddTag("pipe", f.Pipe).
		AddField("tick", f.Tick).
		AddField("delta_pressure", f.DeltaPressure).
		AddField("rate", f.Rate).
		AddField("mass", f.Mass).
		AddField("starved", f.Starved).
		SetTime(ts).
		SortTags()
}

// PerformancePoint builds the point for a simulator performance sample.
func PerformancePoint(p core.Performance) *influxdb2_write.Point {
	return influxdb2_write.NewPointWithMeasurement("simulation").
		AddField("tick", p.Tick).
		AddField("sim_time", p.Time).
		AddField("networks", p.Networks).
		AddField("tick_duration_ms", float64(p.TickDuration)/float64(time.Millisecond)).
		AddField("queue_depth", p.QueueDepth).
		AddField("dropped", p.Dropped).
		AddField("tick_errors", p.TickErrors).
		SetTime(p.Timestamp)
}

// ParseMetric turns a :METRIC: command into a bucket name and point.
//
//	0 = bucket name
//	1 = measurement name
//	tag::<name>::<value>
//	field::<string|int|float>::<name>::<value>
func ParseMetric(data []string) (bucket string, point *influxdb2_write.Point, err error) {
	if len(data) < 2 {
		return "", nil, fmt.Errorf("metric needs a bucket and a measurement, got %d args", len(data))
	}

	bucket = data[0]
	point = influxdb2_write.NewPointWithMeasurement(data[1])

	fields := 0
	for _, arg := range data[2:] {
		parts := strings.Split(arg, "::")
		switch parts[0] {
		case "tag":
			if len(parts) >= 3 {
				point.AddTag(parts[1], parts[2])
			}
		case "field":
			if len(parts) < 4 {
				continue
			}
			fieldType, fieldName, fieldValue := parts[1], parts[2], parts[3]
			switch fieldType {
			case "string":
				point.AddField(fieldName, fieldValue)
			case "int":
				intVal, err := strconv.Atoi(fieldValue)
				if err != nil {
					return "", nil, fmt.Errorf("error converting field value '%s' to int: %w", fieldValue, err)
				}
				point.AddField(fieldName, intVal)
			case "float":
				floatVal, err := strconv.ParseFloat(fieldValue, 64)
				if err != nil {
					return "", nil, fmt.Errorf("error converting field value '%s' to float: %w", fieldValue, err)
				}
				point.AddField(fieldName, floatVal)
			default:
				continue
			}
			fields++
		}
	}
	if fields == 0 {
		return "", nil, fmt.Errorf("metric %s has no fields", data[1])
	}
	point.SetTime(time.Now()).SortTags()
	return bucket, point, nil
}
