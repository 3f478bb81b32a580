package metrics

import (
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

const pushJob = "imx_batch_mint"

// Recorder collects the metrics of a single batch-mint run. A nil Recorder discards everything.
type Recorder struct {
	registry      *prometheus.Registry
	registrations *prometheus.CounterVec
	submissions   *prometheus.CounterVec
	tokens        prometheus.Counter
	lastRun       prometheus.Gauge
	lastSuccess   prometheus.Gauge
}

func NewRecorder() *Recorder {
	registrations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "imxmint_registrations_total",
		Help: "Signer registration outcomes",
	}, []string{"result"})

	submissions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "imxmint_mint_submissions_total",
		Help: "Off-chain mint submissions",
	}, []string{"status"})

	tokens := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "imxmint_tokens_requested_total",
		Help: "Tokens included in submitted mint payloads",
	})

	lastRun := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "imxmint_last_run_timestamp_seconds",
		Help: "Unix time the last run finished",
	})

	lastSuccess := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "imxmint_last_run_success",
		Help: "1 if the last run completed, 0 otherwise",
	})

	r := prometheus.NewRegistry()
	r.MustRegister(registrations, submissions, tokens, lastRun, lastSuccess)

	return &Recorder{
		registry:      r,
		registrations: registrations,
		submissions:   submissions,
		tokens:        tokens,
		lastRun:       lastRun,
		lastSuccess:   lastSuccess,
	}
}

func (m *Recorder) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Recorder) IncRegistration(result string) {
	if m == nil {
		return
	}
	m.registrations.WithLabelValues(result).Inc()
}

func (m *Recorder) IncSubmission(status string) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(status).Inc()
}

func (m *Recorder) AddTokens(n int) {
	if m == nil {
		return
	}
	m.tokens.Add(float64(n))
}

func (m *Recorder) MarkRun(success bool, at time.Time) {
	if m == nil {
		return
	}
	m.lastRun.Set(float64(at.Unix()))
	if success {
		m.lastSuccess.Set(1)
	} else {
		m.lastSuccess.Set(0)
	}
}

// Flush writes the registry to a node_exporter textfile and/or a Pushgateway. Empty targets are skipped.
func (m *Recorder) Flush(textfile, pushgatewayURL string) error {
	if m == nil {
		return nil
	}
	if textfile != "" {
		if err := prometheus.WriteToTextfile(textfile, m.registry); err != nil {
			return errors.Wrap(err, "write metrics textfile")
		}
	}
	if pushgatewayURL != "" {
		if err := push.New(pushgatewayURL, pushJob).Gatherer(m.registry).Push(); err != nil {
			return errors.Wrap(err, "push metrics")
		}
	}
	return nil
}
