package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "resortwala"

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)

	grpcCalls = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "grpc_call_seconds",
			Help:      "Unary gRPC call latency by method and status code.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"method", "code"},
	)

	bookingTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_transitions_total",
			Help:      "Booking status transitions.",
		},
		[]string{"from", "to"},
	)

	calendarConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calendar_conflicts_total",
			Help:      "Hold or freeze attempts rejected because dates were already locked.",
		},
	)

	paymentCallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_callbacks_total",
			Help:      "Payment gateway callbacks by result.",
		},
		[]string{"result"},
	)

	notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notification attempts by channel and status.",
		},
		[]string{"channel", "status"},
	)

	syncTasks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sheets_sync_tasks_total",
			Help:      "Google Sheets sync task outcomes.",
		},
		[]string{"status"},
	)

	botUpdates = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "telegram_bot_updates_total",
			Help:      "Telegram updates handled by the vendor bot, by kind.",
		},
		[]string{"kind"},
	)

	botUpdateDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "telegram_bot_update_processing_seconds",
			Help:      "Time spent processing Telegram updates.",
			Buckets:   prometheus.DefBuckets,
		},
	)

	expiredHolds = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "expired_holds_total",
			Help:      "Bookings released by the hold sweeper.",
		},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			grpcCalls,
			bookingTransitions,
			calendarConflicts,
			paymentCallbacks,
			notifications,
			syncTasks,
			botUpdates,
			botUpdateDuration,
			expiredHolds,
		)
	})
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}

func ObserveGRPC(method, code string, d time.Duration) {
	grpcCalls.WithLabelValues(method, code).Observe(d.Seconds())
}

func IncBookingTransition(from, to string) {
	bookingTransitions.WithLabelValues(from, to).Inc()
}

func IncCalendarConflict() {
	calendarConflicts.Inc()
}

func IncPaymentCallback(result string) {
	paymentCallbacks.WithLabelValues(result).Inc()
}

func IncNotification(channel, status string) {
	notifications.WithLabelValues(channel, status).Inc()
}

func AddExpiredHolds(n int) {
	expiredHolds.Add(float64(n))
}

func IncBotUpdate(kind string) {
	botUpdates.WithLabelValues(kind).Inc()
}

func ObserveBotUpdate(d time.Duration) {
	botUpdateDuration.Observe(d.Seconds())
}

func IncSyncTask(status string) {
	syncTasks.WithLabelValues(status).Inc()
}
