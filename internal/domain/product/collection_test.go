package product_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lllypuk/dashhost/internal/domain/product"
)

func newProduct(id string, status product.Status) product.Product {
	return product.Product{
		ID:        id,
		Title:     "Product " + id,
		SKU:       "SKU-" + id,
		Price:     10,
		Status:    status,
		CreatedAt: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestCollection_Add(t *testing.T) {
	t.Run("appends in order", func(t *testing.T) {
		c := product.NewCollection()

		assert.True(t, c.Add(newProduct("a", product.StatusActive)))
		assert.True(t, c.Add(newProduct("b", product.StatusInactive)))

		items := c.Items()
		require.Len(t, items, 2)
		assert.Equal(t, "a", items[0].ID)
		assert.Equal(t, "b", items[1].ID)
	})

	t.Run("ignores duplicate id", func(t *testing.T) {
		c := product.NewCollection(newProduct("a", product.StatusActive))

		changed := c.Add(newProduct("a", product.StatusInactive))

		assert.False(t, changed)
		assert.Equal(t, 1, c.Len())
		got, ok := c.Get("a")
		require.True(t, ok)
		assert.Equal(t, product.StatusActive, got.Status)
	})
}

func TestCollection_SetStatus(t *testing.T) {
	c := product.NewCollection(newProduct("a", product.StatusInactive))

	t.Run("unknown id is a no-op", func(t *testing.T) {
		before := c.Items()

		assert.False(t, c.SetStatus("missing", product.StatusActive))
		assert.Equal(t, before, c.Items())
	})

	t.Run("same status is a no-op", func(t *testing.T) {
		assert.False(t, c.SetStatus("a", product.StatusInactive))
	})

	t.Run("changes status", func(t *testing.T) {
		assert.True(t, c.SetStatus("a", product.StatusActive))
		got, _ := c.Get("a")
		assert.Equal(t, product.StatusActive, got.Status)
	})
}

func TestCollection_Upsert(t *testing.T) {
	c := product.NewCollection(newProduct("a", product.StatusActive))

	updated := newProduct("a", product.StatusActive)
	updated.Title = "Renamed"

	assert.True(t, c.Upsert(updated))
	assert.False(t, c.Upsert(updated))
	assert.True(t, c.Upsert(newProduct("b", product.StatusInactive)))

	got, _ := c.Get("a")
	assert.Equal(t, "Renamed", got.Title)
	assert.Equal(t, 2, c.Len())
}

func TestCollection_Remove(t *testing.T) {
	c := product.NewCollection(
		newProduct("a", product.StatusActive),
		newProduct("b", product.StatusActive),
		newProduct("c", product.StatusInactive),
	)

	assert.True(t, c.Remove("b"))
	assert.False(t, c.Remove("b"))

	items := c.Items()
	require.Len(t, items, 2)
	assert.Equal(t, "a", items[0].ID)
	assert.Equal(t, "c", items[1].ID)

	// index must follow the shifted items
	assert.True(t, c.SetStatus("c", product.StatusActive))
	got, _ := c.Get("c")
	assert.Equal(t, product.StatusActive, got.Status)
}

func TestCollection_Replace(t *testing.T) {
	c := product.NewCollection(newProduct("a", product.StatusActive))

	c.Replace([]product.Product{
		newProduct("x", product.StatusInactive),
		newProduct("x", product.StatusActive),
	})

	assert.Equal(t, 1, c.Len())
	_, ok := c.Get("a")
	assert.False(t, ok)
}

func TestCollection_Items_ReturnsCopy(t *testing.T) {
	c := product.NewCollection(newProduct("a", product.StatusActive))

	items := c.Items()
	items[0].Status = product.StatusInactive

	got, _ := c.Get("a")
	assert.Equal(t, product.StatusActive, got.Status)
}

func TestCollection_MetricsInvariant(t *testing.T) {
	c := product.NewCollection()
	steps := []func(){
		func() { c.Add(newProduct("1", product.StatusActive)) },
		func() { c.Add(newProduct("2", product.StatusInactive)) },
		func() { c.SetStatus("2", product.StatusActive) },
		func() { c.Add(newProduct("1", product.StatusInactive)) },
		func() { c.SetStatus("404", product.StatusInactive) },
		func() { c.Remove("1") },
		func() { c.Upsert(newProduct("3", product.StatusInactive)) },
	}

	for i, step := range steps {
		step()
		m := c.Metrics()
		assert.True(t, m.IsConsistent(), "step %d: %+v", i, m)
		assert.Equal(t, c.Len(), m.Total, "step %d", i)
	}
}
