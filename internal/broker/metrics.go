package broker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics counts pipeline activity. Registered on the configured
// registry; exposing a scrape handler is the operator's choice.
type metrics struct {
	requestsDetected  prometheus.Counter
	responsesWritten  prometheus.Counter
	deliveryFailures  prometheus.Counter
	modelCalls        prometheus.Counter
	modelFailures     prometheus.Counter
	requeries         prometheus.Counter
	lengthRetries     prometheus.Counter
	failureResponses  prometheus.Counter
	queueDepthRequest prometheus.GaugeFunc
}

func newMetrics(reg prometheus.Registerer, requestQueueLen func() int) *metrics {
	factory := promauto.With(reg)

	return &metrics{
		requestsDetected: factory.NewCounter(prometheus.CounterOpts{
			Name: "gemmad_requests_detected_total",
			Help: "Requests claimed from the shared region.",
		}),
		responsesWritten: factory.NewCounter(prometheus.CounterOpts{
			Name: "gemmad_responses_written_total",
			Help: "Responses delivered back into the shared region.",
		}),
		deliveryFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "gemmad_delivery_failures_total",
			Help: "Responses that could not be delivered; slot marked ERROR.",
		}),
		modelCalls: factory.NewCounter(prometheus.CounterOpts{
			Name: "gemmad_model_calls_total",
			Help: "Model completion invocations, retries and re-queries included.",
		}),
		modelFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "gemmad_model_failures_total",
			Help: "Model invocations that returned an error.",
		}),
		requeries: factory.NewCounter(prometheus.CounterOpts{
			Name: "gemmad_requeries_total",
			Help: "Re-query calls issued for over-long summaries.",
		}),
		lengthRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "gemmad_length_retries_total",
			Help: "Automatic retries after a length finish reason.",
		}),
		failureResponses: factory.NewCounter(prometheus.CounterOpts{
			Name: "gemmad_failure_responses_total",
			Help: "Responses delivered with result=1.",
		}),
		queueDepthRequest: factory.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "gemmad_request_queue_depth",
			Help: "Items waiting in the request queue.",
		}, func() float64 { return float64(requestQueueLen()) }),
	}
}
