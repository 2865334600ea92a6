// Package pipeline wires the streaming flow path (queue to sketches)
// and the periodic analysis path (sketches to clusters, tags and
// policy).
package pipeline

import (
	"context"
	"sync"
	"time"

	inputredis "segflow/internal/input/redis"
	"segflow/internal/logger"
	"segflow/internal/metrics"
	"segflow/internal/sketch"
	"segflow/internal/transform/flowjson"
	"segflow/pkg/models"
)

// FlowPipeline consumes raw flow records from Redis, normalizes them
// and feeds the sketch registry and the recent-flow window.
type FlowPipeline struct {
	consumer *inputredis.Consumer
	registry *sketch.Registry
	window   *FlowWindow
	met      *metrics.Metrics
	workers  int
}

// NewFlowPipeline creates the streaming flow pipeline. The metrics set
// may be nil.
func NewFlowPipeline(consumer *inputredis.Consumer, registry *sketch.Registry, window *FlowWindow, met *metrics.Metrics, workers int) *FlowPipeline {
	return &FlowPipeline{
		consumer: consumer,
		registry: registry,
		window:   window,
		met:      met,
		workers:  workers,
	}
}

// Run starts the pipeline loop and blocks until ctx is cancelled.
func (p *FlowPipeline) Run(ctx context.Context) error {
	logger.Infof("Flow pipeline started")

	if p.workers <= 0 {
		p.workers = 8
	}

	msgCh := make(chan []byte, p.workers*4)
	flowCh := make(chan *models.FlowObservation, p.workers*4)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		p.readLoop(ctx, msgCh)
		close(msgCh)
	}()

	var parsers sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		parsers.Add(1)
		go func() {
			defer parsers.Done()
			p.parseLoop(msgCh, flowCh)
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		parsers.Wait()
		close(flowCh)
	}()

	// A single applier serializes registry updates. Parse workers may
	// reorder flows for the same endpoint between the two channels;
	// the sketch folds are commutative, so the result is unaffected.
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.applyLoop(flowCh)
	}()

	<-ctx.Done()
	wg.Wait()
	return ctx.Err()
}

// Close releases pipeline resources.
func (p *FlowPipeline) Close() error {
	if p.consumer != nil {
		return p.consumer.Close()
	}
	return nil
}

func (p *FlowPipeline) readLoop(ctx context.Context, out chan<- []byte) {
	for {
		payload, err := p.consumer.Pop(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Errorf("Failed to pop flow message: %v", err)
			time.Sleep(500 * time.Millisecond)
			continue
		}
		if payload == nil {
			continue
		}
		select {
		case out <- payload:
		case <-ctx.Done():
			return
		}
	}
}

func (p *FlowPipeline) parseLoop(in <-chan []byte, out chan<- *models.FlowObservation) {
	for payload := range in {
		flow, err := flowjson.Parse(payload)
		if err != nil {
			logger.Warnf("Failed to parse flow record: %v", err)
			if p.met != nil {
				p.met.FlowsRejected.WithLabelValues("parse").Inc()
			}
			continue
		}
		out <- flow
	}
}

func (p *FlowPipeline) applyLoop(in <-chan *models.FlowObservation) {
	for flow := range in {
		if err := p.registry.Apply(flow); err != nil {
			logger.Warnf("Failed to apply flow for %s: %v", flow.EndpointID, err)
			if p.met != nil {
				p.met.FlowsRejected.WithLabelValues("apply").Inc()
			}
			continue
		}
		if p.window != nil {
			p.window.Append(flow)
		}
		if p.met != nil {
			p.met.FlowsConsumed.WithLabelValues(flow.SourceID).Inc()
			p.met.SketchesTracked.Set(float64(p.registry.Len()))
		}
	}
}
