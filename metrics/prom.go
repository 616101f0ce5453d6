package metrics

import "github.com/prometheus/client_golang/prometheus"

// Collector holds the engine's Prometheus series. A nil *Collector is valid
// and records nothing.
type Collector struct {
	framesSent       *prometheus.CounterVec
	framesReceived   *prometheus.CounterVec
	protocolErrors   *prometheus.CounterVec
	reconnects       *prometheus.CounterVec
	sessionsActive   prometheus.Gauge
	disconnects      *prometheus.CounterVec
	audioTurns       *prometheus.CounterVec
	audioBytes       prometheus.Counter
	toolCallsPending prometheus.Gauge
	toolResponses    *prometheus.CounterVec
}

// New builds a collector. Nothing is registered until Register is called.
func New() *Collector {
	return &Collector{
		framesSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "livewire_frames_sent_total",
				Help: "Client frames written to the live channel",
			},
			[]string{"kind"},
		),
		framesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "livewire_frames_received_total",
				Help: "Server frames decoded from the live channel",
			},
			[]string{"kind"},
		),
		protocolErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "livewire_protocol_errors_total",
				Help: "Inbound frames dropped as malformed or out of sequence",
			},
			[]string{"kind"},
		),
		reconnects: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "livewire_reconnect_attempts_total",
				Help: "Reconnect attempts by result",
			},
			[]string{"result"},
		),
		sessionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "livewire_sessions_active",
				Help: "Sessions currently connected or reconnecting",
			},
		),
		disconnects: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "livewire_disconnects_total",
				Help: "Terminal session ends by reason",
			},
			[]string{"reason"},
		),
		audioTurns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "livewire_audio_turns_total",
				Help: "Audio turns by outcome",
			},
			[]string{"outcome"},
		),
		audioBytes: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "livewire_audio_bytes_total",
				Help: "PCM bytes delivered in completed audio turns",
			},
		),
		toolCallsPending: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "livewire_tool_calls_pending",
				Help: "Tool calls awaiting a response",
			},
		),
		toolResponses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "livewire_tool_responses_total",
				Help: "Tool responses by result",
			},
			[]string{"result"},
		),
	}
}

// Register adds every series to r.
func (c *Collector) Register(r prometheus.Registerer) error {
	for _, col := range c.collectors() {
		if err := r.Register(col); err != nil {
			return err
		}
	}
	return nil
}

// MustRegister panics if any series is already registered.
func (c *Collector) MustRegister(r prometheus.Registerer) {
	r.MustRegister(c.collectors()...)
}

func (c *Collector) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		c.framesSent, c.framesReceived, c.protocolErrors, c.reconnects,
		c.sessionsActive, c.disconnects, c.audioTurns, c.audioBytes,
		c.toolCallsPending, c.toolResponses,
	}
}

func (c *Collector) FrameSent(kind string) {
	if c == nil {
		return
	}
	c.framesSent.WithLabelValues(kind).Inc()
}

func (c *Collector) FrameReceived(kind string) {
	if c == nil {
		return
	}
	c.framesReceived.WithLabelValues(kind).Inc()
}

func (c *Collector) ProtocolError(kind string) {
	if c == nil {
		return
	}
	c.protocolErrors.WithLabelValues(kind).Inc()
}

// ReconnectAttempt records an attempt result: scheduled, succeeded, failed
// or exhausted.
func (c *Collector) ReconnectAttempt(result string) {
	if c == nil {
		return
	}
	c.reconnects.WithLabelValues(result).Inc()
}

func (c *Collector) SessionUp() {
	if c == nil {
		return
	}
	c.sessionsActive.Inc()
}

func (c *Collector) SessionDown(reason string) {
	if c == nil {
		return
	}
	c.sessionsActive.Dec()
	c.disconnects.WithLabelValues(reason).Inc()
}

// AudioTurn records a finished turn; outcome is completed or interrupted.
func (c *Collector) AudioTurn(outcome string, bytes int) {
	if c == nil {
		return
	}
	c.audioTurns.WithLabelValues(outcome).Inc()
	if outcome == "completed" {
		c.audioBytes.Add(float64(bytes))
	}
}

func (c *Collector) ToolCallsPending(delta int) {
	if c == nil {
		return
	}
	c.toolCallsPending.Add(float64(delta))
}

func (c *Collector) ToolResponse(result string) {
	if c == nil {
		return
	}
	c.toolResponses.WithLabelValues(result).Inc()
}
