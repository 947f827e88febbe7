package analytics

import (
	"context"
	"fmt"

	"github.com/pulsetrack/pulsetrack/internal/models"
)

// FunnelStage is one step of the conversion funnel.
type FunnelStage struct {
	Stage      string `json:"stage"`
	Count      int64  `json:"count"`
	Conversion string `json:"conversion"`
}

// funnelStages lists the event-backed stages after the visitor stage,
// in order.
var funnelStages = []struct {
	label string
	event string
}{
	{"Product Views", models.EventProductView},
	{"Add to Cart", models.EventAddToCart},
	{"Checkout", models.EventCheckoutStart},
	{"Purchase", models.EventPurchase},
}

// ConversionFunnel returns the five-stage purchase funnel. The visitor
// stage counts distinct sessions with a page view; each later stage
// counts its events and expresses them as a percentage of visitors.
// With no visitors every stage reports 0.0%.
func (e *Engine) ConversionFunnel(ctx context.Context, siteID string, days int) ([]FunnelStage, error) {
	start, end := e.window(days)

	visitors, err := e.pageViews.DistinctSessions(ctx, siteID, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to count visitor sessions: %w", err)
	}

	funnel := make([]FunnelStage, 0, len(funnelStages)+1)
	funnel = append(funnel, FunnelStage{Stage: "Visitors", Count: visitors, Conversion: "100%"})

	for _, stage := range funnelStages {
		count, err := e.events.CountNamed(ctx, siteID, stage.event, start, end)
		if err != nil {
			return nil, fmt.Errorf("failed to count %s events: %w", stage.event, err)
		}
		conversion := "0.0%"
		if visitors > 0 {
			conversion = fmt.Sprintf("%.1f%%", float64(count)/float64(visitors)*100)
		}
		funnel = append(funnel, FunnelStage{Stage: stage.label, Count: count, Conversion: conversion})
	}
	return funnel, nil
}
