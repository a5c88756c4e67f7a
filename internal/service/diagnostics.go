package service

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// AnomalyKind names a data-quality finding.
type AnomalyKind string

const (
	AnomalyInvalidRow      AnomalyKind = "invalid_row"
	AnomalyOrphanTax       AnomalyKind = "orphan_tax"
	AnomalyDuplicateParent AnomalyKind = "duplicate_parent"
	AnomalyTaxFlagMismatch AnomalyKind = "tax_flag_mismatch"
)

// Anomaly is reported through Diagnostics and never returned as a page item.
type Anomaly struct {
	Kind          AnomalyKind `json:"kind"`
	TransactionID int64       `json:"transaction_id,omitempty"`
	StanID        string      `json:"stan_id,omitempty"`
	SourceOrder   int         `json:"source_order,omitempty"`
	Message       string      `json:"message"`
}

// Diagnostics receives anomalies found while ingesting, querying or annotating.
type Diagnostics interface {
	Report(ctx context.Context, a Anomaly)
}

// LogDiagnostics writes anomalies to a zerolog logger at warn level.
type LogDiagnostics struct {
	Log zerolog.Logger
}

func (d LogDiagnostics) Report(_ context.Context, a Anomaly) {
	ev := d.Log.Warn().Str("anomaly", string(a.Kind))
	if a.TransactionID != 0 {
		ev = ev.Int64("transaction_id", a.TransactionID)
	}
	if a.StanID != "" {
		ev = ev.Str("stan_id", a.StanID)
	}
	if a.SourceOrder != 0 {
		ev = ev.Int("source_order", a.SourceOrder)
	}
	ev.Msg(a.Message)
}

// Recorder keeps every anomaly in memory and optionally forwards it.
type Recorder struct {
	Next Diagnostics

	mu    sync.Mutex
	items []Anomaly
}

func (r *Recorder) Report(ctx context.Context, a Anomaly) {
	r.mu.Lock()
	r.items = append(r.items, a)
	r.mu.Unlock()
	if r.Next != nil {
		r.Next.Report(ctx, a)
	}
}

// Anomalies returns a copy of everything reported so far.
func (r *Recorder) Anomalies() []Anomaly {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Anomaly, len(r.items))
	copy(out, r.items)
	return out
}

// OfKind filters the recorded anomalies.
func (r *Recorder) OfKind(kind AnomalyKind) []Anomaly {
	var out []Anomaly
	for _, a := range r.Anomalies() {
		if a.Kind == kind {
			out = append(out, a)
		}
	}
	return out
}

func report(ctx context.Context, d Diagnostics, a Anomaly) {
	if d != nil {
		d.Report(ctx, a)
	}
}
