package product

// Metrics are aggregate counts over a product collection.
// Total always equals Active + Inactive.
type Metrics struct {
	Total    int `json:"total"`
	Active   int `json:"active"`
	Inactive int `json:"inactive"`
}

// ComputeMetrics folds products into counts.
func ComputeMetrics(products []Product) Metrics {
	var m Metrics
	for _, p := range products {
		if p.IsActive() {
			m.Active++
		} else {
			m.Inactive++
		}
	}
	m.Total = m.Active + m.Inactive
	return m
}

// IsConsistent reports whether the counts add up.
func (m Metrics) IsConsistent() bool {
	return m.Total == m.Active+m.Inactive && m.Active >= 0 && m.Inactive >= 0
}
