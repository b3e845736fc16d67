package product

// Collection is an ordered set of products keyed by id.
// Insertion order is preserved. It is not safe for concurrent use.
type Collection struct {
	items []Product
	index map[string]int
}

// NewCollection builds a collection from products, keeping the first
// occurrence of each id.
func NewCollection(products ...Product) *Collection {
	c := &Collection{
		items: make([]Product, 0, len(products)),
		index: make(map[string]int, len(products)),
	}
	for _, p := range products {
		c.Add(p)
	}
	return c
}

// Add appends p unless a product with the same id is already present.
// It returns true when the collection changed.
func (c *Collection) Add(p Product) bool {
	if _, ok := c.index[p.ID]; ok {
		return false
	}
	c.index[p.ID] = len(c.items)
	c.items = append(c.items, p)
	return true
}

// SetStatus replaces the status of the product with the given id.
// It returns false when the id is unknown or the status is unchanged.
func (c *Collection) SetStatus(id string, status Status) bool {
	i, ok := c.index[id]
	if !ok || c.items[i].Status == status {
		return false
	}
	c.items[i].Status = status
	return true
}

// Upsert replaces the product with the same id or appends it when unseen.
func (c *Collection) Upsert(p Product) bool {
	i, ok := c.index[p.ID]
	if !ok {
		return c.Add(p)
	}
	if c.items[i] == p {
		return false
	}
	c.items[i] = p
	return true
}

// Remove deletes the product with the given id.
func (c *Collection) Remove(id string) bool {
	i, ok := c.index[id]
	if !ok {
		return false
	}
	c.items = append(c.items[:i], c.items[i+1:]...)
	delete(c.index, id)
	for j := i; j < len(c.items); j++ {
		c.index[c.items[j].ID] = j
	}
	return true
}

// Replace swaps the whole content for products.
func (c *Collection) Replace(products []Product) {
	fresh := NewCollection(products...)
	c.items = fresh.items
	c.index = fresh.index
}

// Get returns the product with the given id.
func (c *Collection) Get(id string) (Product, bool) {
	i, ok := c.index[id]
	if !ok {
		return Product{}, false
	}
	return c.items[i], true
}

// Len returns the number of products.
func (c *Collection) Len() int {
	return len(c.items)
}

// Items returns a copy of the products in insertion order.
func (c *Collection) Items() []Product {
	out := make([]Product, len(c.items))
	copy(out, c.items)
	return out
}

// Metrics derives the aggregate counts from the current content.
func (c *Collection) Metrics() Metrics {
	return ComputeMetrics(c.items)
}
