package runner

import (
	"context"
	"sort"

	apperrors "github.com/jmd-jude/db-chat/internal/errors"
)

// MetricQuery is a canned report that can be run without going through
// generation.
type MetricQuery struct {
	Name        string
	Description string
	SQL         string
}

// StandardMetrics returns the built-in report catalog, keyed by name.
func StandardMetrics() map[string]MetricQuery {
	metrics := []MetricQuery{
		{
			Name:        "revenue-by-month",
			Description: "Total revenue per month, most recent first",
			SQL: `SELECT DATE_TRUNC('month', order_date) AS month,
       ROUND(SUM(total_price), 2) AS revenue
FROM orders
GROUP BY month
ORDER BY month DESC`,
		},
		{
			Name:        "top-customers",
			Description: "Ten highest-spending customers",
			SQL: `SELECT c.name, ROUND(SUM(o.total_price), 2) AS total_spent
FROM orders o
JOIN customers c ON o.customer_id = c.id
GROUP BY c.name
ORDER BY total_spent DESC
LIMIT 10`,
		},
		{
			Name:        "orders-by-category",
			Description: "Order count and revenue per product category",
			SQL: `SELECT category,
       COUNT(*) AS order_count,
       ROUND(SUM(total_price), 2) AS revenue
FROM orders
GROUP BY category
ORDER BY revenue DESC`,
		},
		{
			Name:        "payment-method-breakdown",
			Description: "Share of orders per payment method",
			SQL: `SELECT payment_method,
       COUNT(*) AS order_count,
       ROUND(100.0 * COUNT(*) / SUM(COUNT(*)) OVER (), 1) AS pct
FROM orders
GROUP BY payment_method
ORDER BY order_count DESC`,
		},
		{
			Name:        "average-order-value",
			Description: "Average order value per month",
			SQL: `SELECT DATE_TRUNC('month', order_date) AS month,
       ROUND(AVG(total_price), 2) AS avg_order_value
FROM orders
GROUP BY month
ORDER BY month DESC`,
		},
		{
			Name:        "delivery-lag",
			Description: "Average days between order and delivery per month",
			SQL: `SELECT DATE_TRUNC('month', order_date) AS month,
       ROUND(AVG(DATE_DIFF('day', order_date, delivery_date)), 1) AS avg_days
FROM orders
WHERE delivery_date IS NOT NULL
GROUP BY month
ORDER BY month DESC`,
		},
		{
			Name:        "customers-by-nation",
			Description: "Customer count per nation",
			SQL: `SELECT n.name AS nation, COUNT(*) AS customer_count
FROM customers c
JOIN nations n ON c.nation_id = n.id
GROUP BY n.name
ORDER BY customer_count DESC`,
		},
	}

	catalog := make(map[string]MetricQuery, len(metrics))
	for _, m := range metrics {
		catalog[m.Name] = m
	}

	return catalog
}

// MetricNames returns the catalog's names in sorted order.
func MetricNames() []string {
	catalog := StandardMetrics()

	names := make([]string, 0, len(catalog))
	for name := range catalog {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// RunMetric executes a catalog query by name.
func (r *Runner) RunMetric(ctx context.Context, name string) (*ResultSet, error) {
	metric, ok := StandardMetrics()[name]
	if !ok {
		return nil, apperrors.Newf(apperrors.ErrTypeDatabase, "unknown metric: %s", name).
			WithSuggestion("Run 'db-chat metrics' with no arguments to list available reports")
	}

	return r.Execute(ctx, metric.SQL)
}
