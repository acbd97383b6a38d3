package cloudwatch

import (
	"context"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"github.com/streamworks/kcl/logger"
)

// CloudWatchAPI is the subset of *cloudwatch.Client used by
// MonitoringService.
type CloudWatchAPI interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

var _ CloudWatchAPI = (*cloudwatch.Client)(nil)

// putMetricDataBatchLimit is the maximum number of MetricDatum entries
// CloudWatch accepts in a single PutMetricData call.
const putMetricDataBatchLimit = 1000

// MonitoringService publishes KCL metrics to CloudWatch. Unlike the
// Prometheus backend, which exposes gauges for scraping, CloudWatch has no
// pull model: every Incr/Record call buffers a MetricDatum locally, and a
// background goroutine flushes the buffer to PutMetricData on
// flushInterval.
type MonitoringService struct {
	namespace  string
	streamName string
	workerID   string
	region     string

	client CloudWatchAPI
	log    logger.Logger

	flushInterval time.Duration

	mu            sync.Mutex
	buffer        []types.MetricDatum
	behindLatest  map[string]float64

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewMonitoringService creates a MonitoringService configured via
// functional options. A CloudWatch client is built from the default AWS
// credential chain in Init unless WithCloudWatchClient is supplied.
func NewMonitoringService(opts ...Option) *MonitoringService {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}

	return &MonitoringService{
		client:        cfg.client,
		log:           cfg.logger,
		region:        cfg.region,
		flushInterval: cfg.flushInterval,
		behindLatest:  make(map[string]float64),
	}
}

func (m *MonitoringService) Init(appName, streamName, workerID string) error {
	m.namespace = appName
	m.streamName = streamName
	m.workerID = workerID

	if m.client != nil {
		return nil
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{}
	if m.region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(m.region))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), loadOpts...)
	if err != nil {
		return err
	}
	m.client = cloudwatch.NewFromConfig(awsCfg)
	return nil
}

func (m *MonitoringService) Start() error {
	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.done = make(chan struct{})

	go m.run()
	return nil
}

func (m *MonitoringService) run() {
	defer close(m.done)

	ticker := time.NewTicker(m.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			m.flush()
			return
		case <-ticker.C:
			m.flush()
		}
	}
}

func (m *MonitoringService) flush() {
	m.mu.Lock()
	batch := m.buffer
	m.buffer = nil
	m.mu.Unlock()

	for len(batch) > 0 {
		n := putMetricDataBatchLimit
		if n > len(batch) {
			n = len(batch)
		}

		_, err := m.client.PutMetricData(context.Background(), &cloudwatch.PutMetricDataInput{
			Namespace:  aws.String(m.namespace),
			MetricData: batch[:n],
		})
		if err != nil {
			m.log.Warnf("cloudwatch: PutMetricData failed: %v", err)
		}
		batch = batch[n:]
	}
}

func (m *MonitoringService) Shutdown() {
	if m.cancel != nil {
		m.cancel()
		<-m.done
	}
}

func (m *MonitoringService) put(name, shard string, value float64, unit types.StandardUnit, extraDims ...types.Dimension) {
	dims := append([]types.Dimension{
		{Name: aws.String("KinesisStream"), Value: aws.String(m.streamName)},
		{Name: aws.String("Shard"), Value: aws.String(shard)},
	}, extraDims...)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.buffer = append(m.buffer, types.MetricDatum{
		MetricName: aws.String(name),
		Value:      aws.Float64(value),
		Unit:       unit,
		Timestamp:  aws.Time(time.Now().UTC()),
		Dimensions: dims,
	})
}

func (m *MonitoringService) workerDim() types.Dimension {
	return types.Dimension{Name: aws.String("WorkerID"), Value: aws.String(m.workerID)}
}

func (m *MonitoringService) IncrRecordsProcessed(shard string, count int) {
	m.put("ProcessedRecords", shard, float64(count), types.StandardUnitCount)
}

func (m *MonitoringService) IncrBytesProcessed(shard string, count int64) {
	m.put("ProcessedBytes", shard, float64(count), types.StandardUnitBytes)
}

func (m *MonitoringService) MillisBehindLatest(shard string, milliSeconds float64) {
	m.mu.Lock()
	m.behindLatest[shard] = milliSeconds
	m.mu.Unlock()
	m.put("MillisBehindLatest", shard, milliSeconds, types.StandardUnitMilliseconds)
}

func (m *MonitoringService) DeleteMetricMillisBehindLatest(shard string) {
	m.mu.Lock()
	delete(m.behindLatest, shard)
	m.mu.Unlock()
}

func (m *MonitoringService) LeaseGained(shard string) {
	m.put("LeasesHeld", shard, 1, types.StandardUnitCount, m.workerDim())
}

func (m *MonitoringService) LeaseLost(shard string) {
	m.put("LeasesHeld", shard, -1, types.StandardUnitCount, m.workerDim())
}

func (m *MonitoringService) LeaseRenewed(shard string) {
	m.put("LeaseRenewals", shard, 1, types.StandardUnitCount, m.workerDim())
}

func (m *MonitoringService) CheckpointConflict(shard string) {
	m.put("CheckpointConflicts", shard, 1, types.StandardUnitCount, m.workerDim())
}

func (m *MonitoringService) RecordGetRecordsTime(shard string, millis float64) {
	m.put("GetRecordsDurationMilliseconds", shard, millis, types.StandardUnitMilliseconds)
}

func (m *MonitoringService) RecordProcessRecordsTime(shard string, millis float64) {
	m.put("ProcessRecordsDurationMilliseconds", shard, millis, types.StandardUnitMilliseconds)
}
