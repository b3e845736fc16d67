package event

import (
	"slices"

	"github.com/lllypuk/dashhost/internal/domain/product"
)

// Namespaces keep these signals apart from unrelated traffic on a shared channel.
const (
	NamespaceProductManager = "sx-product-manager"
	NamespaceDashboard      = "sx-dashboard"
)

// Remote to host.
const (
	ProductAdded         = NamespaceProductManager + ":product-added"
	ProductStatusToggled = NamespaceProductManager + ":product-status-toggled"
	ProductUpdated       = NamespaceProductManager + ":product-updated"
	ProductRemoved       = NamespaceProductManager + ":product-removed"
	MetricsResponse      = NamespaceProductManager + ":metrics-response"
)

// Host to remote.
const (
	RequestMetrics = NamespaceDashboard + ":request-metrics"
)

// RemoteEvents lists the events the remote module emits.
func RemoteEvents() []string {
	return []string{
		ProductAdded,
		ProductStatusToggled,
		ProductUpdated,
		ProductRemoved,
		MetricsResponse,
	}
}

// HostEvents lists the events the host emits.
func HostEvents() []string {
	return []string{RequestMetrics}
}

// IsRemoteEvent reports whether name is emitted by the remote module.
func IsRemoteEvent(name string) bool {
	return slices.Contains(RemoteEvents(), name)
}

// IsHostEvent reports whether name is emitted by the host.
func IsHostEvent(name string) bool {
	return slices.Contains(HostEvents(), name)
}

// ProductAddedPayload is carried by ProductAdded.
type ProductAddedPayload struct {
	Product product.Product `json:"product"`
}

// ProductStatusToggledPayload is carried by ProductStatusToggled.
type ProductStatusToggledPayload struct {
	ProductID string         `json:"productId"`
	OldStatus product.Status `json:"oldStatus"`
	NewStatus product.Status `json:"newStatus"`
}

// ProductUpdatedPayload is carried by ProductUpdated.
type ProductUpdatedPayload struct {
	Product product.Product `json:"product"`
}

// ProductRemovedPayload is carried by ProductRemoved.
type ProductRemovedPayload struct {
	ProductID string `json:"productId"`
}

// MetricsResponsePayload answers RequestMetrics. Products is optional; when
// present the receiver may adopt it as a full resync.
type MetricsResponsePayload struct {
	Metrics  *product.Metrics  `json:"metrics"`
	Products []product.Product `json:"products,omitempty"`
}

// RequestMetricsPayload is carried by RequestMetrics.
type RequestMetricsPayload struct{}
