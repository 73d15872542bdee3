package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/cockroachdb/pebble"
	"github.com/goliatone/go-logger/glog"
	"github.com/uptrace/bun"
	"go.opentelemetry.io/otel"

	"github.com/baldanca/petition-preprocessor/archive"
	"github.com/baldanca/petition-preprocessor/claimer"
	"github.com/baldanca/petition-preprocessor/config"
	"github.com/baldanca/petition-preprocessor/dedupe"
	"github.com/baldanca/petition-preprocessor/encoder"
	"github.com/baldanca/petition-preprocessor/metrics"
	"github.com/baldanca/petition-preprocessor/persister"
	"github.com/baldanca/petition-preprocessor/pipeline"
	"github.com/baldanca/petition-preprocessor/queue"
	"github.com/baldanca/petition-preprocessor/sink"
	"github.com/baldanca/petition-preprocessor/store"
)

const meterName = "github.com/baldanca/petition-preprocessor"

// runtime holds the opened backends for one command invocation.
type runtime struct {
	cfg    *config.Config
	logger glog.Logger
	stats  *metrics.Memory
	rec    metrics.Recorder

	signatures  queue.Backend
	handoff     queue.Backend
	validations queue.Backend
	dest        *store.Destination
	archiver    *archive.Archiver

	closers []func() error
}

// openRuntime opens every configured backend. Exported metrics, when enabled,
// are written to metricsOut.
func openRuntime(ctx context.Context, cfg *config.Config, logger glog.Logger, metricsOut io.Writer) (rt *runtime, err error) {
	rt = &runtime{cfg: cfg, logger: logger, stats: metrics.NewMemory()}
	defer func() {
		if err != nil {
			_ = rt.Close()
			rt = nil
		}
	}()

	recorders := []metrics.Recorder{metrics.NewLog(logger), rt.stats}
	provider, err := newMeterProvider(cfg.Metrics, metricsOut)
	if err != nil {
		return rt, err
	}
	if provider != nil {
		// shutdown flushes the last collection
		rt.closers = append(rt.closers, func() error { return provider.Shutdown(context.Background()) })
		otel.SetMeterProvider(provider)
		recorders = append(recorders, metrics.NewOTel(provider.Meter(meterName), func(name string, err error) {
			logger.Warn("metric instrument failed", "metric", name, "error", err)
		}))
	}
	rt.rec = metrics.Multi(recorders...)

	storeDB, err := store.Open(cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		return rt, err
	}
	rt.closers = append(rt.closers, storeDB.Close)
	if rt.dest, err = store.NewDestination(storeDB); err != nil {
		return rt, err
	}

	var awsCfg aws.Config
	needAWS := cfg.Queues.Backend == config.BackendSQS || cfg.Archive.Enabled
	if needAWS {
		if awsCfg, err = loadAWS(ctx, cfg); err != nil {
			return rt, err
		}
	}

	switch cfg.Queues.Backend {
	case config.BackendSQL:
		db := storeDB
		if cfg.SQL.Database != cfg.Store {
			if db, err = store.Open(cfg.SQL.Driver, cfg.SQL.DSN); err != nil {
				return rt, err
			}
			rt.closers = append(rt.closers, db.Close)
		}
		err = rt.openSQL(db)
	case config.BackendSQS:
		rt.openSQS(awsCfg)
	case config.BackendDocument:
		err = rt.openDocument()
	default:
		err = fmt.Errorf("unsupported queue backend %q", cfg.Queues.Backend)
	}
	if err != nil {
		return rt, err
	}

	if cfg.Archive.Enabled {
		if err = rt.openArchive(awsCfg); err != nil {
			return rt, err
		}
	}
	return rt, nil
}

func loadAWS(ctx context.Context, cfg *config.Config) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	region := cfg.SQS.Region
	if region == "" {
		region = cfg.Archive.Region
	}
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	return awsCfg, nil
}

func (rt *runtime) openSQL(db *bun.DB) error {
	qc := rt.cfg.SQLQueueConfig()
	var err error
	if rt.signatures, err = queue.NewSQL(db, rt.cfg.Queues.Signatures, qc); err != nil {
		return err
	}
	if rt.handoff, err = queue.NewSQL(db, rt.cfg.Queues.Handoff, qc); err != nil {
		return err
	}
	rt.validations, err = queue.NewSQL(db, rt.cfg.Queues.Validations, qc)
	return err
}

func (rt *runtime) openSQS(awsCfg aws.Config) {
	endpoint := rt.cfg.SQS.Endpoint
	client := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	qc := rt.cfg.SQSQueueConfig()
	rt.signatures = queue.NewSQS(client, rt.cfg.Queues.Signatures, qc)
	rt.handoff = queue.NewSQS(client, rt.cfg.Queues.Handoff, qc)
	rt.validations = queue.NewSQS(client, rt.cfg.Queues.Validations, qc)
}

func (rt *runtime) openDocument() error {
	db, err := pebble.Open(rt.cfg.Document.Dir, &pebble.Options{})
	if err != nil {
		return fmt.Errorf("open document store %s: %w", rt.cfg.Document.Dir, err)
	}
	rt.closers = append(rt.closers, db.Close)

	qc := rt.cfg.DocumentQueueConfig()
	rt.signatures = queue.NewDocument(db, rt.cfg.Queues.Signatures, qc)
	rt.handoff = queue.NewDocument(db, rt.cfg.Queues.Handoff, qc)
	rt.validations = queue.NewDocument(db, rt.cfg.Queues.Validations, qc)
	return nil
}

func (rt *runtime) openArchive(awsCfg aws.Config) error {
	endpoint := rt.cfg.Archive.Endpoint
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
	enc, err := encoder.NewParquet[archive.ValidationRecord](rt.cfg.Archive.Compression)
	if err != nil {
		return err
	}
	sk := sink.NewS3(client, rt.cfg.Archive.Bucket, rt.cfg.Archive.Prefix)
	rt.archiver, err = archive.New(rt.cfg.ArchiveConfig(), enc, sk, rt.rec, rt.logger)
	return err
}

// queueByName resolves a configured queue name or role (signatures,
// validations, handoff).
func (rt *runtime) queueByName(name string) (queue.Backend, error) {
	for _, q := range rt.queues() {
		if q.Name() == name {
			return q, nil
		}
	}
	switch name {
	case "signatures":
		return rt.signatures, nil
	case "validations":
		return rt.validations, nil
	case "handoff":
		return rt.handoff, nil
	}
	return nil, fmt.Errorf("unknown queue %q", name)
}

func (rt *runtime) queues() []queue.Backend {
	return []queue.Backend{rt.signatures, rt.handoff, rt.validations}
}

func (rt *runtime) pipeline() (*pipeline.Pipeline, error) {
	dd, err := dedupe.New(rt.dest, rt.cfg.Pipeline.DedupeChunkSize, rt.rec, rt.logger)
	if err != nil {
		return nil, err
	}
	ps, err := persister.New(rt.cfg.PersisterConfig(), rt.dest, rt.rec, rt.logger)
	if err != nil {
		return nil, err
	}
	deps := pipeline.Deps{
		Signatures:   rt.signatures,
		Handoff:      rt.handoff,
		Validations:  rt.validations,
		Claimer:      claimer.New(rt.cfg.ClaimerConfig(), rt.rec, rt.logger),
		Deduplicator: dd,
		Persister:    ps,
		Recorder:     rt.rec,
		Logger:       rt.logger,
	}
	if rt.archiver != nil {
		deps.Archiver = rt.archiver
	}
	return pipeline.New(rt.cfg.PipelineConfig(), deps)
}

func (rt *runtime) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}
