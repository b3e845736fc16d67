package httphandler

import (
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/lllypuk/dashhost/internal/aggregator"
	"github.com/lllypuk/dashhost/internal/domain/product"
	"github.com/lllypuk/dashhost/internal/remote"
)

// TemplateFuncs returns the custom template functions for HTML templates.
func TemplateFuncs() template.FuncMap {
	return template.FuncMap{
		"formatDateTime": formatDateTime,
		"timeAgo":        timeAgo,
		"formatPrice":    formatPrice,
		"percent":        percent,
		"lower":          strings.ToLower,
		"pluralize":      pluralize,

		"statusClass": statusClass,
		"syncLabel":   syncLabel,
		"isPending":   func(v remote.View) bool { return v.State == remote.StatePending },
		"isFailed":    func(v remote.View) bool { return v.State == remote.StateFailed },
		"isReady":     func(v remote.View) bool { return v.State == remote.StateReady },

		"dict": dict,
	}
}

func formatDateTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("Jan 2, 2006 15:04")
}

const hoursPerDay = 24

func timeAgo(t time.Time) string {
	if t.IsZero() {
		return "never"
	}

	diff := time.Since(t)
	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		return fmt.Sprintf("%dm ago", int(diff.Minutes()))
	case diff < hoursPerDay*time.Hour:
		return fmt.Sprintf("%dh ago", int(diff.Hours()))
	default:
		return t.Format("Jan 2")
	}
}

func formatPrice(price float64) string {
	return fmt.Sprintf("$%.2f", price)
}

// percent returns part as a whole-number share of total.
func percent(part, total int) int {
	if total <= 0 {
		return 0
	}
	return part * 100 / total
}

func pluralize(count int, singular, plural string) string {
	if count == 1 {
		return singular
	}
	return plural
}

func statusClass(status product.Status) string {
	switch status {
	case product.StatusActive:
		return "status-active"
	case product.StatusInactive:
		return "status-inactive"
	default:
		return "status-unknown"
	}
}

func syncLabel(state aggregator.SyncState) string {
	switch state {
	case aggregator.SyncLoading:
		return "Waiting for Product Manager"
	case aggregator.SyncLoaded:
		return "In sync"
	case aggregator.SyncNotResponding:
		return aggregator.NotRespondingMessage
	default:
		return "Local data"
	}
}

func dict(pairs ...any) map[string]any {
	result := make(map[string]any)
	for i := 0; i < len(pairs)-1; i += 2 {
		if key, ok := pairs[i].(string); ok {
			result[key] = pairs[i+1]
		}
	}
	return result
}
